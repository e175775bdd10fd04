package loadbalancer

import (
	"sync/atomic"

	"github.com/cregis/apex/internal/config"
)

// RoundRobin distributes picks across targets proportionally to weight
// using a monotonic counter and cumulative weight intervals, not the
// smooth/interleaved GCD algorithm: spec §4.4 only requires that, over
// many calls, each channel's share of first-picks converges to its
// weight's share of the total, and a plain cumulative-interval walk gives
// that with a single atomic increment per call.
type RoundRobin struct {
	counter uint64
}

// NewRoundRobin returns a fresh weighted round-robin strategy. Apex builds
// one per compiled Rule, so the counter's lifetime matches the Rule's
// (reset on every config reload along with everything else in the rule
// chain).
func NewRoundRobin() *RoundRobin {
	return &RoundRobin{}
}

func (rr *RoundRobin) Select(targets []config.TargetChannel) Selection {
	if len(targets) == 0 {
		return Selection{}
	}
	if len(targets) == 1 {
		return Selection{Channels: []string{targets[0].Channel}}
	}

	total := 0
	for _, t := range targets {
		total += t.Weight
	}
	if total <= 0 {
		return Selection{Channels: failoverOrder(targets, targets[0].Channel)}
	}

	n := atomic.AddUint64(&rr.counter, 1)
	slot := int((n - 1) % uint64(total))

	cumulative := 0
	for _, t := range targets {
		cumulative += t.Weight
		if slot < cumulative {
			return Selection{Channels: failoverOrder(targets, t.Channel)}
		}
	}
	// Unreachable if total was computed correctly, but keep a safe fallback.
	return Selection{Channels: failoverOrder(targets, targets[len(targets)-1].Channel)}
}
