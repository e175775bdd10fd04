package config

import "testing"

func TestLiteralModelNamesExcludesGlobsAndDuplicates(t *testing.T) {
	cfg := &Config{
		Routers: []Router{
			{
				Name: "default",
				Rules: []Rule{
					{Match: MatchSpec{Patterns: []string{"gpt-4", "gpt-4*", "*"}}},
					{Match: MatchSpec{Patterns: []string{"claude-3", "gpt-4"}}},
				},
			},
			{
				Name: "secondary",
				Rules: []Rule{
					{Match: MatchSpec{Patterns: []string{"ada"}}},
				},
			},
		},
	}

	got := cfg.LiteralModelNames()
	want := map[string]bool{"gpt-4": true, "claude-3": true, "ada": true}
	if len(got) != len(want) {
		t.Fatalf("got %v, want keys %v", got, want)
	}
	for _, name := range got {
		if !want[name] {
			t.Errorf("unexpected literal model name %q", name)
		}
	}
}
