// Package taskinput normalizes task text typed by a requester before it is
// queued.
package taskinput

import (
	"regexp"
	"strings"
)

var (
	projectFlagRe = regexp.MustCompile(`--project=(\S+)`)
	slugInvalidRe = regexp.MustCompile(`[^a-z0-9-]`)
)

const (
	noteSerious = "`--serious` flag no longer needed; tasks are serious by default."
	noteRandom  = "Thoughts belong in `think`. Treating this as a serious task."
)

// Parsed is a cleaned description plus anything pulled out of it.
type Parsed struct {
	Description string
	ProjectName string
	ProjectID   string
	Note        string
}

// SlugifyProject lowercases identifier and replaces anything outside
// [a-z0-9-] with a dash, trimming dashes at both ends.
func SlugifyProject(identifier string) string {
	return strings.Trim(slugInvalidRe.ReplaceAllString(strings.ToLower(identifier), "-"), "-")
}

// ParseDescription strips a --project=NAME flag and the retired --serious
// and --random flags from raw.
func ParseDescription(raw string) Parsed {
	working := strings.TrimSpace(raw)
	var out Parsed

	if m := projectFlagRe.FindStringSubmatch(working); m != nil {
		out.ProjectName = m[1]
		working = strings.TrimSpace(strings.Replace(working, m[0], "", 1))
	}

	var notes []string
	if strings.Contains(working, "--serious") {
		working = strings.TrimSpace(strings.ReplaceAll(working, "--serious", ""))
		notes = append(notes, noteSerious)
	}
	if strings.Contains(working, "--random") {
		working = strings.TrimSpace(strings.ReplaceAll(working, "--random", ""))
		notes = append(notes, noteRandom)
	}
	out.Description = working
	out.Note = strings.Join(notes, "\n")
	return out
}

// Prepare parses raw and applies projectOverride, which wins over a
// --project flag found in the text.
func Prepare(raw, projectOverride string) Parsed {
	out := ParseDescription(raw)
	if p := strings.TrimSpace(projectOverride); p != "" {
		out.ProjectName = p
	}
	if out.ProjectName != "" {
		out.ProjectID = SlugifyProject(out.ProjectName)
	}
	return out
}
