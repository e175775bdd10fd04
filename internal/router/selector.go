package router

import (
	"sync"
	"sync/atomic"

	"github.com/cregis/apex/internal/config"
	apexerrors "github.com/cregis/apex/internal/errors"
	"github.com/cregis/apex/internal/loadbalancer"
)

// Selection is the Selector's answer for one request: a load balancer
// Strategy instance bound to the matched rule, and its target channels.
// The Strategy is the same instance across every request that resolves
// to this rule, so its internal fairness state (e.g. round_robin's
// counter) is not reset per request (spec §4.4).
type Selection struct {
	Strategy loadbalancer.Strategy
	Channels []config.TargetChannel
}

// Selector resolves (router name, model name) to a Selection, caching the
// result per router so repeat traffic for the same model skips the glob
// walk over the rule chain entirely (spec §4.3).
//
// A Selector is created once at startup and lives for the process
// lifetime; it keeps only the last snapshot pointer it saw, to detect a
// change; each call passes the current snapshot from the config Store so
// the Selector never reads a stale one.
type Selector struct {
	mu         sync.Mutex
	byName     map[string]*routeCache
	strategies map[*config.Rule]loadbalancer.Strategy
	current    atomic.Pointer[config.Config]
}

// NewSelector returns an empty Selector ready to serve lookups against any
// Config snapshot.
func NewSelector() *Selector {
	return &Selector{
		byName:     make(map[string]*routeCache),
		strategies: make(map[*config.Rule]loadbalancer.Strategy),
	}
}

// Select finds the Rule in router matching model, using the per-router
// cache when cfg hasn't changed since the last call and falling back to a
// linear scan of the rule chain (in declared order — first match wins) on
// a cache miss or a new snapshot.
func (s *Selector) Select(cfg *config.Config, routerName, model string) (Selection, error) {
	s.resetIfSnapshotChanged(cfg)

	var router *config.Router
	for i := range cfg.Routers {
		if cfg.Routers[i].Name == routerName {
			router = &cfg.Routers[i]
			break
		}
	}
	if router == nil {
		return Selection{}, apexerrors.ErrNotFound.WithDetails("unknown router " + routerName)
	}

	rc := s.cacheFor(routerName)
	if entry, ok := rc.get(model); ok {
		if entry.rule == nil { // cached miss sentinel (spec §4.3 step 4)
			return Selection{}, apexerrors.ErrNoRouteForModel.WithDetails("no rule matches model " + model)
		}
		return Selection{Strategy: s.strategyFor(entry.rule), Channels: entry.rule.Channels}, nil
	}

	for i := range router.Rules {
		rule := &router.Rules[i]
		if rule.MatchesModel(model) {
			rc.put(model, cacheEntry{rule: rule, strategy: rule.Strategy})
			return Selection{Strategy: s.strategyFor(rule), Channels: rule.Channels}, nil
		}
	}

	rc.put(model, cacheEntry{rule: nil})
	return Selection{}, apexerrors.ErrNoRouteForModel.WithDetails("no rule matches model " + model)
}

// SelectFirstRule returns router's first rule's Strategy and channels
// without walking the rule chain against a model at all — the raw proxy
// passthrough (spec §7, "/proxy/{router_name}/...") bypasses model-based
// routing entirely rather than matching "" against every rule's patterns.
func (s *Selector) SelectFirstRule(cfg *config.Config, routerName string) (Selection, error) {
	s.resetIfSnapshotChanged(cfg)

	router := cfg.RouterByName(routerName)
	if router == nil {
		return Selection{}, apexerrors.ErrNotFound.WithDetails("unknown router " + routerName)
	}
	if len(router.Rules) == 0 {
		return Selection{}, apexerrors.ErrNoRouteForModel.WithDetails("router " + routerName + " has no rules")
	}

	rule := &router.Rules[0]
	return Selection{Strategy: s.strategyFor(rule), Channels: rule.Channels}, nil
}

// strategyFor returns the persistent Strategy bound to rule, creating it
// on first use. Keying by the Rule's pointer (stable for the lifetime of
// a Config snapshot) means every request that matches the same rule
// shares one Strategy instance, regardless of which model name got it
// there.
func (s *Selector) strategyFor(rule *config.Rule) loadbalancer.Strategy {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.strategies[rule]
	if !ok {
		st = loadbalancer.New(rule.Strategy)
		s.strategies[rule] = st
	}
	return st
}

func (s *Selector) cacheFor(routerName string) *routeCache {
	s.mu.Lock()
	defer s.mu.Unlock()
	rc, ok := s.byName[routerName]
	if !ok {
		rc = newRouteCache()
		s.byName[routerName] = rc
	}
	return rc
}

// resetIfSnapshotChanged drops every per-router cache the instant the
// Config pointer identity changes, which is exactly what a successful
// Store.Reload produces (spec §4.1, §4.3). Comparing pointers, not
// contents, is what makes this cheap enough to call on every request.
func (s *Selector) resetIfSnapshotChanged(cfg *config.Config) {
	if s.current.Swap(cfg) == cfg {
		return
	}
	s.mu.Lock()
	s.byName = make(map[string]*routeCache)
	s.strategies = make(map[*config.Rule]loadbalancer.Strategy)
	s.mu.Unlock()
}
