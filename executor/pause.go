package executor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var usageLimitRe = regexp.MustCompile(`(?i)usage limit reached(?:\|(\d{9,13})|[^\n]*?\bresets?\s+(?:at\s+)?(\S+))?`)

var usagePercentRe = regexp.MustCompile(`(?i)(\d{1,3}(?:\.\d+)?)\s*%\s*(?:of\s+)?(?:usage|limit)`)

// PauseError reports that the agent stopped on a usage limit. The work done
// before the stop is valid and carried in Partial; the caller should hold
// off until ResetAt.
type PauseError struct {
	ResetAt      time.Time
	UsagePercent float64
	Partial      Outcome
}

func (e *PauseError) Error() string {
	return fmt.Sprintf("agent usage limit reached (%.0f%%), resets at %s", e.UsagePercent, e.ResetAt.Format(time.RFC3339))
}

func (e *Executor) detectPause(report agentReport, text string) *PauseError {
	now := e.now()
	if lim := report.UsageLimit; lim != nil {
		reset, ok := parseResetTime(lim.ResetAt)
		if !ok {
			reset = now.Add(e.cfg.PauseFallback)
		}
		return &PauseError{ResetAt: reset, UsagePercent: lim.UsagePercent}
	}
	if report.Structured && !report.IsError {
		return nil
	}
	m := usageLimitRe.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	reset, ok := parseResetTime(m[1])
	if !ok {
		reset, ok = parseResetTime(strings.TrimRight(m[2], ".,;)"))
	}
	if !ok {
		reset = now.Add(e.cfg.PauseFallback)
	}
	pct := 100.0
	if pm := usagePercentRe.FindStringSubmatch(text); pm != nil {
		if v, err := strconv.ParseFloat(pm[1], 64); err == nil {
			pct = v
		}
	}
	return &PauseError{ResetAt: reset, UsagePercent: pct}
}

// parseResetTime accepts unix seconds, unix milliseconds or RFC 3339.
func parseResetTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil && n > 0 {
		if n > 1e12 {
			return time.UnixMilli(n), true
		}
		return time.Unix(n, 0), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}
