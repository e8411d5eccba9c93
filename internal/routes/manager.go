package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/auth-platform/platform/api-gateway/internal/config"
	"github.com/auth-platform/platform/api-gateway/internal/store"
)

// StoreKey is the shared-store key mirroring the active route list.
const StoreKey = "config:routes"

type entry struct {
	route Route
	tmpl  *Template
}

// Manager owns the active route list. It loads from the shared store,
// falls back to the on-disk file, and keeps both in sync on mutation.
type Manager struct {
	mu          sync.RWMutex
	entries     []entry
	st          store.Store
	dir         string
	path        string
	logger      *slog.Logger
	initialized bool
}

// NewManager creates a route manager. Call Initialize before use.
func NewManager(cfg config.RoutesConfig, st store.Store, logger *slog.Logger) *Manager {
	return &Manager{
		st:     st,
		dir:    cfg.ConfigDir,
		path:   filepath.Join(cfg.ConfigDir, cfg.File),
		logger: logger,
	}
}

// Initialize loads routes: shared store first, then the file, then a
// seeded default persisted to both. Invalid route definitions are fatal.
func (m *Manager) Initialize(ctx context.Context) error {
	if loaded, err := m.loadFromStore(ctx); err != nil {
		return err
	} else if loaded {
		m.markInitialized()
		return nil
	}

	if loaded, err := m.loadFromFile(ctx); err != nil {
		return err
	} else if loaded {
		m.markInitialized()
		return nil
	}

	seed := []Route{{
		Name:    "example",
		Pattern: "/api/example/:id",
		Target:  "http://localhost:9001",
	}}
	compiled, err := compile(seed)
	if err != nil {
		return err
	}
	if err := m.writeFile(seed); err != nil {
		return fmt.Errorf("persist seed routes: %w", err)
	}
	m.mirrorToStore(ctx, seed)

	m.mu.Lock()
	m.entries = compiled
	m.mu.Unlock()

	m.logger.Info("seeded default route table", slog.String("file", m.path))
	m.markInitialized()
	return nil
}

func (m *Manager) markInitialized() {
	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()
}

func (m *Manager) loadFromStore(ctx context.Context) (bool, error) {
	raw, err := m.st.Get(ctx, StoreKey)
	if err != nil {
		if store.IsUnavailable(err) {
			m.logger.Warn("route store unreachable, falling back to file",
				slog.String("error", err.Error()))
		}
		return false, nil
	}

	var list []Route
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return false, fmt.Errorf("invalid route config in store: %w", err)
	}
	if len(list) == 0 {
		return false, nil
	}

	compiled, err := compile(list)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	m.entries = compiled
	m.mu.Unlock()

	m.logger.Info("routes loaded from shared store", slog.Int("count", len(list)))
	return true, nil
}

func (m *Manager) loadFromFile(ctx context.Context) (bool, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read route file: %w", err)
	}

	var list []Route
	switch filepath.Ext(m.path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &list); err != nil {
			return false, fmt.Errorf("invalid route config in %s: %w", m.path, err)
		}
	default:
		if err := json.Unmarshal(data, &list); err != nil {
			return false, fmt.Errorf("invalid route config in %s: %w", m.path, err)
		}
	}

	compiled, err := compile(list)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	m.entries = compiled
	m.mu.Unlock()

	m.mirrorToStore(ctx, list)
	m.logger.Info("routes loaded from file",
		slog.String("file", m.path),
		slog.Int("count", len(list)))
	return true, nil
}

func compile(list []Route) ([]entry, error) {
	seen := make(map[string]bool, len(list))
	compiled := make([]entry, 0, len(list))
	for i := range list {
		r := list[i]
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("route %q: %w", r.Name, err)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("route %q: %w", r.Name, ErrRouteExists)
		}
		seen[r.Name] = true
		tmpl, err := ParseTemplate(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("route %q: %w", r.Name, err)
		}
		compiled = append(compiled, entry{route: r, tmpl: tmpl})
	}
	return compiled, nil
}

// Routes returns a copy of the active route list in registration order.
func (m *Manager) Routes() []Route {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Route, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.route
	}
	return out
}

// Get returns the route with the given name.
func (m *Manager) Get(name string) (Route, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.entries {
		if e.route.Name == name {
			return e.route, true
		}
	}
	return Route{}, false
}

// Match finds the route for a method and path. Longest literal prefix
// wins; among equals the first registered route wins.
func (m *Manager) Match(method, path string) (Route, map[string]string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var (
		best       *entry
		bestParams map[string]string
		bestLen    = -1
	)
	for i := range m.entries {
		e := &m.entries[i]
		if !e.route.AllowsMethod(method) {
			continue
		}
		params, ok := e.tmpl.Match(path)
		if !ok {
			continue
		}
		if l := len(e.tmpl.LiteralPrefix()); l > bestLen {
			best = e
			bestParams = params
			bestLen = l
		}
	}
	if best == nil {
		return Route{}, nil, false
	}
	return best.route, bestParams, true
}

// Template returns the compiled template for a named route.
func (m *Manager) Template(name string) (*Template, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, e := range m.entries {
		if e.route.Name == name {
			return e.tmpl, true
		}
	}
	return nil, false
}

// Add appends a route. The name must be unique.
func (m *Manager) Add(ctx context.Context, r Route) error {
	if err := r.Validate(); err != nil {
		return err
	}
	tmpl, err := ParseTemplate(r.Pattern)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		if e.route.Name == r.Name {
			return fmt.Errorf("route %q: %w", r.Name, ErrRouteExists)
		}
	}

	next := append(append([]entry(nil), m.entries...), entry{route: r, tmpl: tmpl})
	if err := m.persistLocked(ctx, next); err != nil {
		return err
	}
	m.entries = next
	m.logger.Info("route added", slog.String("route", r.Name))
	return nil
}

// Update replaces the route with the given name. The bool reports whether
// it existed.
func (m *Manager) Update(ctx context.Context, name string, r Route) (bool, error) {
	r.Name = name
	if err := r.Validate(); err != nil {
		return false, err
	}
	tmpl, err := ParseTemplate(r.Pattern)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i, e := range m.entries {
		if e.route.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}

	next := append([]entry(nil), m.entries...)
	next[idx] = entry{route: r, tmpl: tmpl}
	if err := m.persistLocked(ctx, next); err != nil {
		return true, err
	}
	m.entries = next
	m.logger.Info("route updated", slog.String("route", name))
	return true, nil
}

// Delete removes the route with the given name. The bool reports whether
// it existed.
func (m *Manager) Delete(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := -1
	for i, e := range m.entries {
		if e.route.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false, nil
	}

	next := append([]entry(nil), m.entries[:idx]...)
	next = append(next, m.entries[idx+1:]...)
	if err := m.persistLocked(ctx, next); err != nil {
		return true, err
	}
	m.entries = next
	m.logger.Info("route deleted", slog.String("route", name))
	return true, nil
}

// Ready reports whether the manager is initialized and the store answers.
func (m *Manager) Ready(ctx context.Context) bool {
	m.mu.RLock()
	initialized := m.initialized
	m.mu.RUnlock()

	if !initialized {
		return false
	}
	return m.st.Ping(ctx) == nil
}

// persistLocked writes the candidate list to disk and the shared store.
// Both writes must succeed or the mutation is rejected; the caller leaves
// the in-memory list untouched on error, and a store failure puts the
// previous file contents back so disk never carries a rejected list.
func (m *Manager) persistLocked(ctx context.Context, next []entry) error {
	list := make([]Route, len(next))
	for i, e := range next {
		list[i] = e.route
	}

	prev, prevErr := os.ReadFile(m.jsonPath())

	if err := m.writeFile(list); err != nil {
		return fmt.Errorf("%w: write file: %v", ErrPersist, err)
	}

	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrPersist, err)
	}
	if err := m.st.Set(ctx, StoreKey, string(data), 0); err != nil {
		m.restoreFile(prev, prevErr == nil)
		return fmt.Errorf("%w: write store: %v", ErrPersist, err)
	}
	return nil
}

// restoreFile rolls the on-disk route file back to its pre-mutation
// contents. existed is false when there was no file before the mutation.
func (m *Manager) restoreFile(prev []byte, existed bool) {
	if !existed {
		if err := os.Remove(m.jsonPath()); err != nil && !os.IsNotExist(err) {
			m.logger.Error("remove route file after failed mutation",
				slog.String("error", err.Error()))
		}
		return
	}

	tmp, err := os.CreateTemp(m.dir, "routes-*.tmp")
	if err != nil {
		m.logger.Error("restore route file after failed mutation",
			slog.String("error", err.Error()))
		return
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(prev); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		m.logger.Error("restore route file after failed mutation",
			slog.String("error", err.Error()))
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		m.logger.Error("restore route file after failed mutation",
			slog.String("error", err.Error()))
		return
	}
	if err := os.Rename(tmpName, m.jsonPath()); err != nil {
		os.Remove(tmpName)
		m.logger.Error("restore route file after failed mutation",
			slog.String("error", err.Error()))
	}
}

// writeFile writes the route list atomically: temp file, then rename.
// The written form is always pretty-printed JSON.
func (m *Manager) writeFile(list []Route) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(m.dir, "routes-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, m.jsonPath()); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// jsonPath is where mutations land; a .yaml load source is normalized to
// the sibling routes.json.
func (m *Manager) jsonPath() string {
	switch filepath.Ext(m.path) {
	case ".yaml", ".yml":
		base := filepath.Base(m.path)
		name := base[:len(base)-len(filepath.Ext(base))]
		return filepath.Join(m.dir, name+".json")
	default:
		return m.path
	}
}

func (m *Manager) mirrorToStore(ctx context.Context, list []Route) {
	data, err := json.Marshal(list)
	if err != nil {
		m.logger.Error("encode routes for store mirror", slog.String("error", err.Error()))
		return
	}
	if err := m.st.Set(ctx, StoreKey, string(data), 0); err != nil {
		m.logger.Warn("mirror routes to store failed", slog.String("error", err.Error()))
	}
}
