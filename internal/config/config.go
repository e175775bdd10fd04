// Package config holds the Apex configuration data model: the immutable,
// validated, compiled Config snapshot (spec §3) and the Store that publishes
// it with hot-reload semantics (spec §4.1).
package config

// Config is the root configuration snapshot. A Config value, once returned
// by Load or a successful Reload, is never mutated in place — callers that
// hold a reference see a stable, internally-consistent view for the
// lifetime of their request.
type Config struct {
	ListenAddress string        `json:"listen_address"`
	GlobalAuth    GlobalAuth    `json:"global_auth"`
	Timeouts      Timeouts      `json:"timeouts"`
	Retries       Retries       `json:"retries"`
	Metrics       MetricsConfig `json:"metrics"`
	HotReload     HotReload     `json:"hot_reload"`
	Channels      []Channel     `json:"channels"`
	Routers       []Router      `json:"routers"`
	Teams         []Team        `json:"teams"`

	// channelsByName indexes Channels for O(1) referential-integrity checks
	// and adapter lookups. Built once at compile time.
	channelsByName map[string]*Channel
}

// GlobalAuth gates all inbound requests before team resolution.
type GlobalAuth struct {
	Mode string   `json:"mode"` // "none" or "api_key"
	Keys []string `json:"keys"`
}

// Timeouts are expressed in milliseconds, both in the wire format and in the
// compiled snapshot; callers convert to time.Duration where they apply them.
type Timeouts struct {
	ConnectMs  int `json:"connect_ms"`
	RequestMs  int `json:"request_ms"`
	ResponseMs int `json:"response_ms"`
}

// Retries configures the Forwarder's same-channel retry behavior (spec §4.6).
type Retries struct {
	MaxAttempts    int   `json:"max_attempts"`
	BackoffMs      int   `json:"backoff_ms"`
	RetryOnStatus  []int `json:"retry_on_status"`
}

// MetricsConfig is consumed only for the listen/path of the external
// Prometheus endpoint (spec §6); rendering itself is out of core scope.
type MetricsConfig struct {
	Listen string `json:"listen"`
	Path   string `json:"path"`
}

// HotReload holds the reload switch and the shutdown drain; the file-watcher that
// triggers Reload is an external collaborator (spec §1).
type HotReload struct {
	Enabled         bool `json:"enabled"`
	DrainTimeoutMs  int  `json:"drain_timeout_ms"`
}

// Channel is one upstream connection profile.
type Channel struct {
	Name             string            `json:"name"`
	ProviderType     string            `json:"provider_type"`
	BaseURL          string            `json:"base_url"`
	AnthropicBaseURL string            `json:"anthropic_base_url,omitempty"`
	APIKey           string            `json:"api_key"`
	Headers          map[string]string `json:"headers,omitempty"`
	ModelMap         map[string]string `json:"model_map,omitempty"`
	Timeouts         *Timeouts         `json:"timeouts,omitempty"`
}

// Router is a named set of routing rules exposed on the gateway endpoints.
type Router struct {
	Name  string `json:"name"`
	VKey  string `json:"vkey,omitempty"`
	Rules []Rule `json:"rules,omitempty"`

	// Legacy forms, normalized into Rules by the Rule Compiler (spec §4.2).
	Channel          string         `json:"channel,omitempty"`
	FallbackChannels []string       `json:"fallback_channels,omitempty"`
	Channels         []string       `json:"channels,omitempty"`
	Strategy         string         `json:"strategy,omitempty"`
	Metadata         RouterMetadata `json:"metadata,omitempty"`
}

// RouterMetadata carries the legacy model_matcher map.
type RouterMetadata struct {
	ModelMatcher map[string]string `json:"model_matcher,omitempty"`
}

// Rule is one (match, strategy, channels) routing decision.
type Rule struct {
	Match    MatchSpec      `json:"match"`
	Strategy string         `json:"strategy,omitempty"` // round_robin (default), priority, random
	Channels []TargetChannel `json:"channels"`

	// compiledPatterns holds the pre-compiled glob matchers for Match, filled
	// in by the Rule Compiler. Index-aligned with the normalized pattern set.
	compiledPatterns []compiledPattern
}

// MatchSpec names the model patterns a Rule matches against. The wire
// format accepts either "model" (single pattern) or "models" (a list); both
// normalize to Patterns.
type MatchSpec struct {
	Model    string   `json:"model,omitempty"`
	Models   []string `json:"models,omitempty"`
	Patterns []string `json:"-"` // normalized view used after compilation
}

// TargetChannel references a Channel with a load-balancing weight.
type TargetChannel struct {
	Channel string `json:"channel"`
	Weight  int    `json:"weight,omitempty"`
}

// Team is a tenant identified by a bearer API key.
type Team struct {
	ID        string     `json:"id"`
	APIKey    string     `json:"api_key"`
	Policy    TeamPolicy `json:"policy"`
}

// TeamPolicy gates which routers/models a team may use and at what rate.
type TeamPolicy struct {
	AllowedRouters []string   `json:"allowed_routers"`
	AllowedModels  []string   `json:"allowed_models,omitempty"`
	RateLimit      *RateLimit `json:"rate_limit,omitempty"`

	compiledAllowedModels []compiledPattern
}

// RateLimit holds per-team-per-minute budgets. A zero or negative value
// disables the corresponding bucket (spec §4.8).
type RateLimit struct {
	RPM int `json:"rpm"`
	TPM int `json:"tpm"`
}

// ChannelByName returns the compiled channel index entry, or nil.
func (c *Config) ChannelByName(name string) *Channel {
	if c.channelsByName == nil {
		return nil
	}
	return c.channelsByName[name]
}
