// Package configstore loads, validates and persists the router
// configuration, keeping an in-memory copy for the request path.
package configstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	agentrouter "github.com/ferro-labs/agent-router"
	"github.com/ferro-labs/agent-router/internal/logging"
	"github.com/ferro-labs/agent-router/internal/routeerr"
)

// Store is the configuration source for the router and the admin API.
type Store struct {
	mu       sync.RWMutex
	backend  Backend
	cached   *agentrouter.RouterConfig
	gen      uint64 // bumped by every successful save
	onChange func(agentrouter.RouterConfig)
}

// New creates a Store on backend.
func New(backend Backend) *Store {
	return &Store{backend: backend}
}

// OnChange registers fn to run after every successful Save.
func (s *Store) OnChange(fn func(agentrouter.RouterConfig)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Load returns the persisted configuration. When nothing is stored, or the
// stored document cannot be read or parsed, it returns the last good copy or
// the built-in default. It never fails.
func (s *Store) Load(ctx context.Context) agentrouter.RouterConfig {
	log := logging.FromContext(ctx).With("component", "configstore")

	s.mu.RLock()
	gen := s.gen
	s.mu.RUnlock()

	data, ok, err := s.backend.Read(ctx)
	switch {
	case err != nil:
		log.Warn("config read failed, using fallback", "error", err)
		return s.fallback()
	case !ok:
		return s.fallback()
	}

	cfg := agentrouter.DefaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Warn("stored config is not valid JSON, using fallback",
			"error", &routeerr.ParseError{Field: "config", Err: err})
		return s.fallback()
	}
	if cfg.Providers == nil {
		cfg.Providers = map[string]agentrouter.ProviderConfig{}
	}

	// A save that landed during the read already cached something newer.
	s.mu.Lock()
	if s.gen == gen {
		s.cached = &cfg
	}
	s.mu.Unlock()
	return cfg.Clone()
}

func (s *Store) fallback() agentrouter.RouterConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cached != nil {
		return s.cached.Clone()
	}
	return agentrouter.DefaultConfig()
}

// Save validates an update document, shallow-merges it over the current
// configuration and persists the result. Validation failures return
// *routeerr.ValidationError or *routeerr.ParseError; backend failures return
// *routeerr.PersistenceError and leave the stored configuration unchanged.
func (s *Store) Save(ctx context.Context, data []byte) (agentrouter.RouterConfig, error) {
	patch, err := agentrouter.ParsePatch(data)
	if err != nil {
		return agentrouter.RouterConfig{}, err
	}
	return s.apply(ctx, patch)
}

// Replace persists cfg as a whole after validating it.
func (s *Store) Replace(ctx context.Context, cfg agentrouter.RouterConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	_, err = s.Save(ctx, data)
	return err
}

// Stored reports whether the backend holds a configuration document.
func (s *Store) Stored(ctx context.Context) (bool, error) {
	_, ok, err := s.backend.Read(ctx)
	if err != nil {
		return false, &routeerr.PersistenceError{Op: "read config", Err: err}
	}
	return ok, nil
}

func (s *Store) apply(ctx context.Context, patch agentrouter.Patch) (agentrouter.RouterConfig, error) {
	// Serialize read-merge-write so concurrent saves don't lose updates.
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.loadLocked(ctx)
	next := patch.Apply(current)

	out, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return agentrouter.RouterConfig{}, fmt.Errorf("marshal config: %w", err)
	}
	if err := s.backend.Write(ctx, out); err != nil {
		return agentrouter.RouterConfig{}, &routeerr.PersistenceError{Op: "save config", Err: err}
	}
	s.cached = &next
	s.gen++

	if s.onChange != nil {
		s.onChange(next.Clone())
	}
	logging.FromContext(ctx).Info("configuration updated",
		"component", "configstore",
		"providers", len(next.Providers),
	)
	return next.Clone(), nil
}

// loadLocked reads the current configuration while s.mu is held.
func (s *Store) loadLocked(ctx context.Context) agentrouter.RouterConfig {
	data, ok, err := s.backend.Read(ctx)
	if err == nil && ok {
		cfg := agentrouter.DefaultConfig()
		if json.Unmarshal(data, &cfg) == nil {
			return cfg
		}
	}
	if s.cached != nil {
		return s.cached.Clone()
	}
	return agentrouter.DefaultConfig()
}
