package loadbalancer

import (
	"math/rand"

	"github.com/cregis/apex/internal/config"
)

// Priority always attempts targets in their declared order, ignoring
// weight entirely — the legacy channel+fallback_channels form compiles
// straight into this strategy (spec §4.2, §4.4).
type Priority struct{}

func (Priority) Select(targets []config.TargetChannel) Selection {
	if len(targets) == 0 {
		return Selection{}
	}
	return Selection{Channels: failoverOrder(targets, targets[0].Channel)}
}

// Random picks uniformly among targets, ignoring weight, then falls back
// through the rest in declaration order.
type Random struct{}

func (Random) Select(targets []config.TargetChannel) Selection {
	if len(targets) == 0 {
		return Selection{}
	}
	if len(targets) == 1 {
		return Selection{Channels: []string{targets[0].Channel}}
	}
	head := targets[rand.Intn(len(targets))].Channel
	return Selection{Channels: failoverOrder(targets, head)}
}
