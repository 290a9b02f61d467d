package taskinput

import "testing"

func TestSlugifyProject(t *testing.T) {
	cases := map[string]string{
		"My Project":     "my-project",
		"  --Web_App--":  "web-app",
		"api-v2":         "api-v2",
		"Ünïcode Stuff!": "n-code-stuff",
	}
	for in, want := range cases {
		if got := SlugifyProject(in); got != want {
			t.Fatalf("SlugifyProject(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseDescription(t *testing.T) {
	cases := []struct {
		name        string
		in          string
		description string
		project     string
		hasNote     bool
	}{
		{name: "plain", in: "  add retries  ", description: "add retries"},
		{name: "project flag", in: "add retries --project=Backend", description: "add retries", project: "Backend"},
		{name: "legacy serious", in: "--serious ship it", description: "ship it", hasNote: true},
		{name: "legacy random", in: "ponder --random", description: "ponder", hasNote: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseDescription(tc.in)
			if got.Description != tc.description || got.ProjectName != tc.project {
				t.Fatalf("unexpected parse: %+v", got)
			}
			if (got.Note != "") != tc.hasNote {
				t.Fatalf("note = %q, hasNote want %v", got.Note, tc.hasNote)
			}
		})
	}
}

func TestPrepare_OverrideWins(t *testing.T) {
	got := Prepare("fix login --project=Old", "New Site")
	if got.ProjectName != "New Site" || got.ProjectID != "new-site" {
		t.Fatalf("unexpected: %+v", got)
	}
	if got.Description != "fix login" {
		t.Fatalf("description = %q", got.Description)
	}
}
