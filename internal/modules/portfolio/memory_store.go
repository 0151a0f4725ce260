package portfolio

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aristath/bridgebot/internal/domain"
)

// MemoryStore keeps portfolios in process memory. Used for paper runs and
// in tests; it honours the same version check as Store.
type MemoryStore struct {
	mu         sync.Mutex
	portfolios map[string]domain.Portfolio
	states     map[string]StrategyState
	history    map[string][]AUMPoint
	leases     map[string]lease
}

type lease struct {
	owner string
	until time.Time
}

var (
	_ domain.PortfolioStore = (*MemoryStore)(nil)
	_ StateStore            = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		portfolios: make(map[string]domain.Portfolio),
		states:     make(map[string]StrategyState),
		history:    make(map[string][]AUMPoint),
		leases:     make(map[string]lease),
	}
}

// Load implements domain.PortfolioStore
func (m *MemoryStore) Load(_ context.Context, strategy string) (domain.Portfolio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.portfolios[strategy]
	if !ok {
		p = domain.NewPortfolio(strategy)
	}
	return p.WithVersion(m.states[strategy].Version), nil
}

// Replace implements domain.PortfolioStore
func (m *MemoryStore) Replace(_ context.Context, strategy string, p domain.Portfolio) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[strategy]
	if st.Version != p.Version {
		return fmt.Errorf("%w: %s changed since version %d", domain.ErrPersistenceConflict, strategy, p.Version)
	}
	now := time.Now().UTC()
	if !ok {
		st = StrategyState{Name: strategy, CreatedAt: now}
	}
	st.Version++
	st.UpdatedAt = now
	m.states[strategy] = st
	m.portfolios[strategy] = domain.NewPortfolio(strategy, p.Allocations()...)
	return nil
}

// EnsureStrategy creates the bookkeeping entry if missing
func (m *MemoryStore) EnsureStrategy(_ context.Context, name string, initialAUM decimal.Decimal) (StrategyState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[name]
	if !ok {
		now := time.Now().UTC()
		st = StrategyState{Name: name, AUM: initialAUM, CreatedAt: now, UpdatedAt: now}
		m.states[name] = st
	}
	return st, nil
}

// State returns one strategy or domain.ErrStrategyNotFound
func (m *MemoryStore) State(_ context.Context, name string) (StrategyState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[name]
	if !ok {
		return StrategyState{}, fmt.Errorf("%w: %s", domain.ErrStrategyNotFound, name)
	}
	return st, nil
}

// States returns every strategy ordered by name
func (m *MemoryStore) States(_ context.Context) ([]StrategyState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]StrategyState, 0, len(m.states))
	for _, st := range m.states {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// NextTrigger increments and returns the trigger counter
func (m *MemoryStore) NextTrigger(_ context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrStrategyNotFound, name)
	}
	st.TriggerCount++
	m.states[name] = st
	return st.TriggerCount, nil
}

// RecordAUM stores the latest AUM and appends it to history
func (m *MemoryStore) RecordAUM(_ context.Context, name string, aum decimal.Decimal, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.states[name]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrStrategyNotFound, name)
	}
	st.AUM = aum
	st.UpdatedAt = at.UTC()
	m.states[name] = st
	m.history[name] = append(m.history[name], AUMPoint{AUM: aum, RecordedAt: at.UTC()})
	return nil
}

// AUMHistory returns up to limit points, newest first
func (m *MemoryStore) AUMHistory(_ context.Context, name string, limit int) ([]AUMPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	points := m.history[name]
	out := make([]AUMPoint, 0, len(points))
	for i := len(points) - 1; i >= 0; i-- {
		out = append(out, points[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// AcquireLease claims the cycle lease on name for owner until until
func (m *MemoryStore) AcquireLease(_ context.Context, name, owner string, now, until time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.states[name]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrStrategyNotFound, name)
	}
	if l, ok := m.leases[name]; ok && l.owner != owner && !l.until.Before(now) {
		return fmt.Errorf("%w: %s is leased by %s", domain.ErrCycleInFlight, name, l.owner)
	}
	m.leases[name] = lease{owner: owner, until: until}
	return nil
}

// ReleaseLease drops owner's lease on name
func (m *MemoryStore) ReleaseLease(_ context.Context, name, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.leases[name]; ok && l.owner == owner {
		delete(m.leases, name)
	}
	return nil
}
