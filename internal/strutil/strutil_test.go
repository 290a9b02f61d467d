package strutil

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateUTF8(t *testing.T) {
	cases := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "empty", in: "", max: 10, want: ""},
		{name: "zero", in: "hello", max: 0, want: ""},
		{name: "negative", in: "hello", max: -1, want: ""},
		{name: "ascii", in: "hello world", max: 5, want: "hello"},
		{name: "fits", in: "short", max: 100, want: "short"},
		{name: "cjk boundary", in: "你好世界", max: 6, want: "你好"},
		{name: "cjk mid rune", in: "你好世界", max: 7, want: "你好"},
		{name: "cjk under one rune", in: "你好世界", max: 2, want: ""},
		{name: "emoji mid rune", in: "😀x", max: 3, want: ""},
		{name: "emoji whole", in: "😀x", max: 4, want: "😀"},
		{name: "exact length", in: "日本語", max: 9, want: "日本語"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := TruncateUTF8(tc.in, tc.max); got != tc.want {
				t.Fatalf("TruncateUTF8(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
			}
		})
	}
}

func TestTruncateUTF8_StaysValid(t *testing.T) {
	s := strings.Repeat("修复🎉bug世界", 50)
	for limit := 1; limit <= len(s); limit += 5 {
		got := TruncateUTF8(s, limit)
		if !utf8.ValidString(got) {
			t.Fatalf("invalid UTF-8 at limit=%d: %q", limit, got)
		}
		if len(got) > limit || len(got) < limit-3 {
			t.Fatalf("limit=%d: len=%d", limit, len(got))
		}
	}
}

func TestTruncateRunes(t *testing.T) {
	cases := []struct {
		name string
		in   string
		n    int
		want string
	}{
		{name: "short", in: "fix bug", n: 60, want: "fix bug"},
		{name: "exact", in: "abcde", n: 5, want: "abcde"},
		{name: "cut", in: "abcdefgh", n: 3, want: "abc"},
		{name: "multibyte", in: "日本語のテキスト", n: 3, want: "日本語"},
		{name: "emoji", in: "🎉🎉🎉", n: 2, want: "🎉🎉"},
		{name: "zero", in: "abc", n: 0, want: ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := TruncateRunes(tc.in, tc.n); got != tc.want {
				t.Fatalf("TruncateRunes(%q, %d) = %q, want %q", tc.in, tc.n, got, tc.want)
			}
		})
	}
}

func TestOneLine(t *testing.T) {
	if got := OneLine("  add\n\tlogging   to  queue \n"); got != "add logging to queue" {
		t.Fatalf("unexpected: %q", got)
	}
}
