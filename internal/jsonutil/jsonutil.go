package jsonutil

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/quailyquaily/uniai"
)

var (
	ErrEmptyInput = errors.New("empty json input")
	ErrNoObject   = errors.New("no json object found")
)

// DecodeLast decodes the last JSON object found in text into dst.
//
// Agent CLIs print either one result object or a stream of objects, one per
// line, with the result last. Lines are tried bottom-up first; when none of
// them parses, the whole text goes through uniai's candidate extraction and
// repair.
func DecodeLast(text string, dst any) error {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return ErrEmptyInput
	}
	if isObject(raw) {
		return json.Unmarshal([]byte(raw), dst)
	}

	lines := strings.Split(raw, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if isObject(line) {
			return json.Unmarshal([]byte(line), dst)
		}
	}

	cands := repairedCandidates(raw)
	for i := len(cands) - 1; i >= 0; i-- {
		if isObject(cands[i]) {
			return json.Unmarshal([]byte(cands[i]), dst)
		}
	}
	return ErrNoObject
}

func repairedCandidates(raw string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			return
		}
		seen[s] = true
		out = append(out, s)
	}
	if cands, err := uniai.CollectJSONCandidates(raw); err == nil {
		for _, c := range cands {
			add(c)
			add(uniai.AttemptJSONRepair(c))
		}
	}
	for _, c := range uniai.FindJSONSnippets(raw) {
		add(c)
	}
	if stripped := strings.TrimSpace(uniai.StripNonJSONLines(raw)); stripped != "" {
		add(stripped)
		add(uniai.AttemptJSONRepair(stripped))
	}
	return out
}

func isObject(s string) bool {
	if !strings.HasPrefix(s, "{") {
		return false
	}
	var m map[string]json.RawMessage
	return json.Unmarshal([]byte(s), &m) == nil
}
