package config

import (
	"fmt"
	"net/url"
	"sort"

	apexerrors "github.com/cregis/apex/internal/errors"
)

// defaultStrategy is applied when a Rule or legacy Router omits strategy.
const defaultStrategy = "round_robin"

var validProviderTypes = map[string]bool{
	"openai": true, "anthropic": true, "gemini": true, "deepseek": true,
	"moonshot": true, "minimax": true, "ollama": true, "jina": true,
	"openrouter": true,
}

var validStrategies = map[string]bool{
	"round_robin": true, "priority": true, "random": true,
}

// Compile validates raw (freshly JSON-unmarshaled) and produces a normalized,
// pre-compiled Config snapshot. It performs the legacy→new Router migration
// described in spec §4.2 as a pure step so nothing downstream ever sees a
// legacy shape again. On any validation failure it returns a *ConfigError
// and the previous snapshot (if any) must stay live — see Store.Reload.
func Compile(raw *Config) (*Config, error) {
	cfg := *raw // shallow copy; Routers is rebuilt below, while Channels and Teams share raw's backing arrays and their entries are filled in place

	if cfg.ListenAddress == "" {
		cfg.ListenAddress = "0.0.0.0:12356"
	}
	if cfg.GlobalAuth.Mode == "" {
		cfg.GlobalAuth.Mode = "none"
	}
	applyTimeoutDefaults(&cfg.Timeouts)
	applyRetryDefaults(&cfg.Retries)
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = "0.0.0.0:9090"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.HotReload.DrainTimeoutMs == 0 {
		cfg.HotReload.DrainTimeoutMs = 10000
	}

	if err := validateChannels(cfg.Channels); err != nil {
		return nil, err
	}
	cfg.channelsByName = make(map[string]*Channel, len(cfg.Channels))
	for i := range cfg.Channels {
		ch := &cfg.Channels[i]
		if ch.Timeouts == nil {
			t := cfg.Timeouts
			ch.Timeouts = &t
		} else {
			applyTimeoutDefaults(ch.Timeouts)
		}
		cfg.channelsByName[ch.Name] = ch
	}

	routers := make([]Router, len(cfg.Routers))
	seenRouters := make(map[string]bool, len(cfg.Routers))
	for i, r := range cfg.Routers {
		if seenRouters[r.Name] {
			return nil, apexerrors.NewConfigError(fmt.Sprintf("routers[%d]", i), fmt.Sprintf("duplicate router name %q", r.Name))
		}
		seenRouters[r.Name] = true

		compiled, err := compileRouter(r, i, cfg.channelsByName)
		if err != nil {
			return nil, err
		}
		routers[i] = compiled
	}
	cfg.Routers = routers

	if err := validateTeams(cfg.Teams, seenRouters); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyTimeoutDefaults(t *Timeouts) {
	if t.ConnectMs == 0 {
		t.ConnectMs = 2000
	}
	if t.RequestMs == 0 {
		t.RequestMs = 30000
	}
	if t.ResponseMs == 0 {
		t.ResponseMs = 120000
	}
}

func applyRetryDefaults(r *Retries) {
	if r.MaxAttempts == 0 {
		r.MaxAttempts = 1
	}
}

func validateChannels(channels []Channel) error {
	seen := make(map[string]bool, len(channels))
	for i, ch := range channels {
		loc := fmt.Sprintf("channels[%d]", i)
		if ch.Name == "" {
			return apexerrors.NewConfigError(loc, "channel name must not be empty")
		}
		if seen[ch.Name] {
			return apexerrors.NewConfigError(loc, fmt.Sprintf("duplicate channel name %q", ch.Name))
		}
		seen[ch.Name] = true
		if !validProviderTypes[ch.ProviderType] {
			return apexerrors.NewConfigError(loc, fmt.Sprintf("unknown provider_type %q", ch.ProviderType))
		}
		u, err := url.Parse(ch.BaseURL)
		if err != nil || !u.IsAbs() {
			return apexerrors.NewConfigError(loc, fmt.Sprintf("base_url %q is not a valid absolute URL", ch.BaseURL))
		}
		if ch.AnthropicBaseURL != "" {
			if u2, err := url.Parse(ch.AnthropicBaseURL); err != nil || !u2.IsAbs() {
				return apexerrors.NewConfigError(loc, fmt.Sprintf("anthropic_base_url %q is not a valid absolute URL", ch.AnthropicBaseURL))
			}
		}
	}
	return nil
}

// compileRouter normalizes a single Router's legacy or new rule forms into
// a canonical rule chain, per spec §4.2, and validates every channel
// reference and rule shape.
func compileRouter(r Router, idx int, channels map[string]*Channel) (Router, error) {
	loc := fmt.Sprintf("routers[%d]", idx)
	if r.Name == "" {
		return Router{}, apexerrors.NewConfigError(loc, "router name must not be empty")
	}

	var rules []Rule
	switch {
	case len(r.Rules) > 0:
		rules = r.Rules

	case r.Channel != "":
		// Legacy form 1: single catch-all priority rule.
		chain := append([]string{r.Channel}, r.FallbackChannels...)
		targets := make([]TargetChannel, len(chain))
		for i, name := range chain {
			targets[i] = TargetChannel{Channel: name, Weight: 1}
		}
		rules = []Rule{{
			Match:    MatchSpec{Model: "*"},
			Strategy: "priority",
			Channels: targets,
		}}

	case len(r.Channels) > 0 && len(r.Metadata.ModelMatcher) > 0:
		// Legacy form 2: one rule per matcher entry, then a catch-all.
		// ModelMatcher is a map, so its keys are sorted before emitting
		// rules: "first matching rule wins" must be stable across reloads,
		// not dependent on Go's randomized map iteration order.
		patterns := make([]string, 0, len(r.Metadata.ModelMatcher))
		for pattern := range r.Metadata.ModelMatcher {
			patterns = append(patterns, pattern)
		}
		sort.Strings(patterns)
		for _, pattern := range patterns {
			rules = append(rules, Rule{
				Match:    MatchSpec{Model: pattern},
				Channels: []TargetChannel{{Channel: r.Metadata.ModelMatcher[pattern], Weight: 1}},
			})
		}
		targets := make([]TargetChannel, len(r.Channels))
		for i, name := range r.Channels {
			targets[i] = TargetChannel{Channel: name, Weight: 1}
		}
		strategy := r.Strategy
		if strategy == "" {
			strategy = defaultStrategy
		}
		rules = append(rules, Rule{
			Match:    MatchSpec{Model: "*"},
			Strategy: strategy,
			Channels: targets,
		})

	case len(r.Channels) > 0:
		targets := make([]TargetChannel, len(r.Channels))
		for i, name := range r.Channels {
			targets[i] = TargetChannel{Channel: name, Weight: 1}
		}
		strategy := r.Strategy
		if strategy == "" {
			strategy = defaultStrategy
		}
		rules = []Rule{{Match: MatchSpec{Model: "*"}, Strategy: strategy, Channels: targets}}

	default:
		return Router{}, apexerrors.NewConfigError(loc, "router has no rules, channel, or channels configured")
	}

	compiledRules := make([]Rule, len(rules))
	for i, rule := range rules {
		cr, err := compileRule(rule, fmt.Sprintf("%s.rules[%d]", loc, i), channels)
		if err != nil {
			return Router{}, err
		}
		compiledRules[i] = cr
	}

	return Router{
		Name:  r.Name,
		VKey:  r.VKey,
		Rules: compiledRules,
	}, nil
}

func compileRule(r Rule, loc string, channels map[string]*Channel) (Rule, error) {
	patterns := r.Match.Patterns
	if len(patterns) == 0 {
		if len(r.Match.Models) > 0 {
			patterns = r.Match.Models
		} else if r.Match.Model != "" {
			patterns = []string{r.Match.Model}
		}
	}
	if len(patterns) == 0 {
		return Rule{}, apexerrors.NewConfigError(loc, "rule has no match patterns")
	}
	if len(r.Channels) == 0 {
		return Rule{}, apexerrors.NewConfigError(loc, "rule has an empty channel list")
	}

	strategy := r.Strategy
	if strategy == "" {
		strategy = defaultStrategy
	}
	if !validStrategies[strategy] {
		return Rule{}, apexerrors.NewConfigError(loc, fmt.Sprintf("unknown strategy %q", strategy))
	}

	targets := make([]TargetChannel, len(r.Channels))
	for i, tc := range r.Channels {
		if _, ok := channels[tc.Channel]; !ok {
			return Rule{}, apexerrors.NewConfigError(fmt.Sprintf("%s.channels[%d]", loc, i), fmt.Sprintf("unknown channel %q", tc.Channel))
		}
		weight := tc.Weight
		if weight <= 0 {
			weight = 1
		}
		targets[i] = TargetChannel{Channel: tc.Channel, Weight: weight}
	}

	compiled := make([]compiledPattern, len(patterns))
	for i, p := range patterns {
		compiled[i] = compilePattern(p)
	}

	return Rule{
		Match:            MatchSpec{Patterns: patterns},
		Strategy:         strategy,
		Channels:         targets,
		compiledPatterns: compiled,
	}, nil
}

func validateTeams(teams []Team, routerNames map[string]bool) error {
	seenID := make(map[string]bool, len(teams))
	seenKey := make(map[string]bool, len(teams))
	for i, t := range teams {
		loc := fmt.Sprintf("teams[%d]", i)
		if t.ID == "" {
			return apexerrors.NewConfigError(loc, "team id must not be empty")
		}
		if seenID[t.ID] {
			return apexerrors.NewConfigError(loc, fmt.Sprintf("duplicate team id %q", t.ID))
		}
		seenID[t.ID] = true

		if t.APIKey == "" {
			return apexerrors.NewConfigError(loc, "team api_key must not be empty")
		}
		if seenKey[t.APIKey] {
			return apexerrors.NewConfigError(loc, "duplicate team api_key")
		}
		seenKey[t.APIKey] = true

		for j, rn := range t.Policy.AllowedRouters {
			if rn == "*" {
				continue
			}
			if !routerNames[rn] {
				return apexerrors.NewConfigError(fmt.Sprintf("%s.policy.allowed_routers[%d]", loc, j), fmt.Sprintf("unknown router %q", rn))
			}
		}

		teams[i].Policy.compiledAllowedModels = CompileGlobs(t.Policy.AllowedModels)
	}
	return nil
}
