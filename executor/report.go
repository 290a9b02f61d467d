package executor

import (
	"regexp"
	"strings"

	"github.com/quailyquaily/nightshift/internal/jsonutil"
	"github.com/quailyquaily/nightshift/results"
)

var evaluationLineRe = regexp.MustCompile(`(?im)^\W*(?:evaluation[ _]status|status)\W*:\W*(COMPLETE|INCOMPLETE|PARTIAL|FAILED)\b`)

// agentJSON is the result object the agent prints on stdout.
type agentJSON struct {
	Type             string      `json:"type"`
	Result           string      `json:"result"`
	IsError          bool        `json:"is_error"`
	TotalCostUSD     float64     `json:"total_cost_usd"`
	DurationMs       int64       `json:"duration_ms"`
	DurationAPIMs    int64       `json:"duration_api_ms"`
	NumTurns         int         `json:"num_turns"`
	EvaluationStatus string      `json:"evaluation_status"`
	FilesModified    []string    `json:"files_modified"`
	CommandsExecuted []string    `json:"commands_executed"`
	UsageLimit       *usageLimit `json:"usage_limit"`
}

type usageLimit struct {
	UsagePercent float64 `json:"usage_percent"`
	ResetAt      string  `json:"reset_at"`
}

type agentReport struct {
	Output           string
	IsError          bool
	EvaluationStatus string
	FilesModified    []string
	CommandsExecuted []string
	Usage            results.Usage
	UsageLimit       *usageLimit
	Structured       bool
}

// parseReport reads the agent's JSON result from stdout. Output that carries
// no JSON object is taken verbatim as the reply text.
func parseReport(stdout string) agentReport {
	var raw agentJSON
	var r agentReport
	if err := jsonutil.DecodeLast(stdout, &raw); err == nil && looksLikeResult(raw) {
		r = agentReport{
			Output:           strings.TrimSpace(raw.Result),
			IsError:          raw.IsError,
			EvaluationStatus: strings.ToUpper(strings.TrimSpace(raw.EvaluationStatus)),
			FilesModified:    raw.FilesModified,
			CommandsExecuted: raw.CommandsExecuted,
			Usage: results.Usage{
				TotalCostUSD:  raw.TotalCostUSD,
				DurationMs:    raw.DurationMs,
				DurationAPIMs: raw.DurationAPIMs,
				NumTurns:      raw.NumTurns,
			},
			UsageLimit: raw.UsageLimit,
			Structured: true,
		}
	} else {
		r.Output = strings.TrimSpace(stdout)
	}
	if r.EvaluationStatus == "" {
		r.EvaluationStatus = evaluationFromText(r.Output)
	}
	return r
}

func looksLikeResult(raw agentJSON) bool {
	return raw.Type != "" || raw.Result != "" || raw.UsageLimit != nil || raw.NumTurns > 0 || raw.IsError
}

// evaluationFromText picks the last "Status: X" line of the reply.
func evaluationFromText(text string) string {
	matches := evaluationLineRe.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return ""
	}
	return strings.ToUpper(matches[len(matches)-1][1])
}
