package config

import "testing"

func TestCompiledPatternMatches(t *testing.T) {
	cases := []struct {
		pattern string
		model   string
		want    bool
	}{
		{"*", "anything", true},
		{"*", "", true},
		{"gpt-4", "gpt-4", true},
		{"gpt-4", "GPT-4", true},
		{"gpt-4", "gpt-4-turbo", false},
		{"gpt-4*", "gpt-4-turbo", true},
		{"gpt-4*", "gpt-3", false},
		{"claude-?", "claude-3", true},
		{"claude-?", "claude-30", false},
		{"GEMINI-PRO", "gemini-pro", true},
	}
	for _, c := range cases {
		got := compilePattern(c.pattern).Matches(c.model)
		if got != c.want {
			t.Errorf("pattern %q vs model %q: got %v, want %v", c.pattern, c.model, got, c.want)
		}
	}
}

func TestMatchAnyEmptyPatterns(t *testing.T) {
	if matchAny(nil, "gpt-4") {
		t.Error("matchAny with no patterns should be false")
	}
}

func TestCompileGlobsRoundTrip(t *testing.T) {
	patterns := CompileGlobs([]string{"gpt-4*", "claude-*"})
	if !MatchesAny(patterns, "gpt-4-turbo") {
		t.Error("expected gpt-4-turbo to match gpt-4*")
	}
	if MatchesAny(patterns, "gemini-pro") {
		t.Error("did not expect gemini-pro to match")
	}
}
