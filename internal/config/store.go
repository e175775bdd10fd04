package config

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Store holds the single atomic reference to the current Config snapshot
// (spec §4.1, §5). current() is wait-free; reload() only swaps the pointer
// after a full parse→validate→compile succeeds, so a reader obtained before
// a failed reload keeps using the old snapshot and never observes a
// half-built one.
type Store struct {
	snapshot atomic.Pointer[Config]
	path     string
	log      *zap.Logger
}

// NewStore loads path once and returns a Store wrapping the resulting
// snapshot. A load failure here is fatal to startup (there is no prior
// snapshot to fall back to).
func NewStore(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	s := &Store{path: path, log: log}
	s.snapshot.Store(cfg)
	return s, nil
}

// Current returns the live Config snapshot. Safe to call concurrently from
// any number of request handlers without locking.
func (s *Store) Current() *Config {
	return s.snapshot.Load()
}

// Reload re-parses, validates, and compiles s.path into a candidate
// snapshot. Only on full success is it swapped in; any failure leaves the
// previous snapshot live and is logged at ERROR, never returned to a caller
// that can't act on it (spec §4.1).
func (s *Store) Reload() {
	cfg, err := Load(s.path)
	if err != nil {
		s.log.Error("config reload failed; keeping previous snapshot", zap.Error(err), zap.String("path", s.path))
		return
	}
	s.snapshot.Store(cfg)
	s.log.Info("config reloaded", zap.String("path", s.path), zap.Int("channels", len(cfg.Channels)), zap.Int("routers", len(cfg.Routers)), zap.Int("teams", len(cfg.Teams)))
}
