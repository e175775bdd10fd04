// Package loadbalancer selects a channel ordering from a Rule's weighted
// target list (spec §4.4). Unlike a conventional HTTP load balancer, a
// Selection here is a full ordering, not a single pick: the first entry is
// what the Forwarder attempts, and the rest is the deterministic failover
// sequence it falls back through on a retryable failure.
package loadbalancer

import "github.com/cregis/apex/internal/config"

// Selection is one strategy's answer for a single request: the ordered
// channel names to attempt, most-preferred first.
type Selection struct {
	Channels []string
}

// Strategy picks an ordering over a rule's target channels. Implementations
// hold no per-request state; any counters they need for fairness across
// calls are owned by the Strategy value itself and mutated atomically.
type Strategy interface {
	// Select returns the full attempt order for one request.
	Select(targets []config.TargetChannel) Selection
}

// New returns the Strategy for the given strategy name, as already
// validated by the config compiler. Unknown names (and "round_robin") get
// weighted round robin rather than a panic, since a Strategy is constructed fresh
// per rule at wiring time and must never be the reason a request fails.
func New(name string) Strategy {
	switch name {
	case "priority":
		return &Priority{}
	case "random":
		return &Random{}
	default:
		return NewRoundRobin()
	}
}

// failoverOrder returns targets reordered so that head comes first,
// followed by every other target in its original declaration order, with
// head itself skipped if present later in the slice. This is shared by all
// three strategies to give the Forwarder the same deterministic fallback
// chain regardless of which one picked head (spec §4.4: "failover order is
// declaration order, independent of the strategy that made the first
// pick").
func failoverOrder(targets []config.TargetChannel, head string) []string {
	out := make([]string, 0, len(targets))
	out = append(out, head)
	for _, t := range targets {
		if t.Channel == head {
			continue
		}
		out = append(out, t.Channel)
	}
	return out
}
