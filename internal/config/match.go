package config

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// compiledPattern is a pre-compiled model-name matcher. Exact (non-glob)
// patterns take a fast equality path; everything else goes through
// doublestar, which gives us "*" matching any run of non-separator
// characters and "?" matching exactly one, same as spec's glossary entry
// for Glob. Matching is case-insensitive, so both the pattern and the
// candidate are lowercased once up front.
type compiledPattern struct {
	raw      string
	lower    string
	isExact  bool
	isCatch  bool // the literal "*" — matches everything
}

func compilePattern(pattern string) compiledPattern {
	lower := strings.ToLower(pattern)
	return compiledPattern{
		raw:     pattern,
		lower:   lower,
		isExact: !containsGlobMeta(lower),
		isCatch: lower == "*",
	}
}

func containsGlobMeta(s string) bool {
	return strings.ContainsAny(s, "*?[]{}\\")
}

// Matches reports whether model (already expected to be a plain model name,
// not a path) matches this pattern.
func (p compiledPattern) Matches(model string) bool {
	if p.isCatch {
		return true
	}
	lowerModel := strings.ToLower(model)
	if p.isExact {
		return lowerModel == p.lower
	}
	ok, err := doublestar.Match(p.lower, lowerModel)
	if err != nil {
		return false
	}
	return ok
}

// matchAny reports whether model matches any pattern in the rule's
// compiled MatchSpec, and is used by both the Router Selector's cache-miss
// walk and policy's allowed_models check.
func matchAny(patterns []compiledPattern, model string) bool {
	for _, p := range patterns {
		if p.Matches(model) {
			return true
		}
	}
	return false
}

// CompileGlobs pre-compiles a raw pattern list (used for team
// allowed_models, which has no Rule to hang compiled patterns off of).
func CompileGlobs(patterns []string) []compiledPattern {
	out := make([]compiledPattern, len(patterns))
	for i, p := range patterns {
		out[i] = compilePattern(p)
	}
	return out
}

// MatchesAny reports whether model matches any of the given patterns, as
// already compiled by CompileGlobs. It is the exported form of matchAny.
func MatchesAny(patterns []compiledPattern, model string) bool {
	return matchAny(patterns, model)
}
