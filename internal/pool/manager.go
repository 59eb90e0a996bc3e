package pool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/sourcegraph/conc"
)

var (
	// ErrPoolNotRegistered indicates the requested pool has not been registered.
	ErrPoolNotRegistered = errors.New("pool manager: pool not registered")
	// ErrPoolManagerClosed indicates the manager is shutting down and cannot service requests.
	ErrPoolManagerClosed = errors.New("pool manager: shutdown in progress")
)

// Managed is the type-independent view of an Owner.
type Managed interface {
	Name() string
	Stats() Stats
	Shutdown(ctx context.Context) error
}

// Manager is an explicit registry of named pools. It replaces a process-wide
// pool per type: whoever needs a pool is handed the manager or the owner.
type Manager struct {
	mu     sync.RWMutex
	pools  map[string]Managed
	closed bool
}

// NewManager constructs an empty manager.
func NewManager() *Manager {
	m := new(Manager)
	m.pools = make(map[string]Managed)
	return m
}

// Register builds an Owner for hooks and registers it under name.
func Register[T comparable](m *Manager, name string, hooks Hooks[T], cfg OwnerConfig[T]) (*Owner[T], error) {
	m.mu.RLock()
	closed := m.closed
	_, exists := m.pools[name]
	m.mu.RUnlock()
	if closed {
		return nil, ErrPoolManagerClosed
	}
	if exists {
		return nil, fmt.Errorf("pool manager: pool %s already registered", name)
	}

	owner, err := NewOwner(name, hooks, cfg)
	if err != nil {
		return nil, err
	}
	if err := m.Add(owner); err != nil {
		_ = owner.Shutdown(context.Background())
		return nil, err
	}
	return owner, nil
}

// Add registers an existing pool.
func (m *Manager) Add(p Managed) error {
	if p == nil {
		return fmt.Errorf("pool manager: nil pool")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrPoolManagerClosed
	}
	name := p.Name()
	if _, exists := m.pools[name]; exists {
		return fmt.Errorf("pool manager: pool %s already registered", name)
	}
	m.pools[name] = p
	return nil
}

// Lookup returns the pool registered under name.
func (m *Manager) Lookup(name string) (Managed, error) {
	m.mu.RLock()
	p, ok := m.pools[name]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotRegistered, name)
	}
	return p, nil
}

// Lookup returns the typed owner registered under name.
func Lookup[T comparable](m *Manager, name string) (*Owner[T], error) {
	p, err := m.Lookup(name)
	if err != nil {
		return nil, err
	}
	owner, ok := p.(*Owner[T])
	if !ok {
		return nil, fmt.Errorf("pool manager: pool %s holds %T", name, p)
	}
	return owner, nil
}

// Snapshot returns stats for every registered pool, sorted by name.
func (m *Manager) Snapshot() []Stats {
	m.mu.RLock()
	pools := make([]Managed, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.RUnlock()

	out := make([]Stats, 0, len(pools))
	for _, p := range pools {
		out = append(out, p.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SnapshotJSON renders Snapshot as JSON.
func (m *Manager) SnapshotJSON() ([]byte, error) {
	body, err := json.Marshal(m.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("pool manager: encode snapshot: %w", err)
	}
	return body, nil
}

// Shutdown shuts every registered pool down concurrently and joins their errors.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	pools := make([]Managed, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()

	var (
		wg       conc.WaitGroup
		errMu    sync.Mutex
		failures []error
	)
	for _, p := range pools {
		p := p
		wg.Go(func() {
			if err := p.Shutdown(ctx); err != nil {
				errMu.Lock()
				failures = append(failures, fmt.Errorf("pool %s: %w", p.Name(), err))
				errMu.Unlock()
			}
		})
	}
	wg.Wait()
	return errors.Join(failures...)
}
