// Package conn tracks the connections a data source opens on its provider.
//
// Connections live in named slots; opening a slot closes the connection
// previously held in it, so each slot has at most one live connection.
// Every query routed through the Manager is counted as in flight so Drain
// can wait for pending work before closing connections.
package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/leapstack-labs/gridsource/pkg/provider"
	"golang.org/x/sync/errgroup"
)

// ErrDraining is returned for work submitted while connections are drained.
var ErrDraining = errors.New("connections are draining")

// Querier is the query surface shared by the Manager and the provider.
type Querier interface {
	Query(ctx context.Context, id provider.ConnID, sql string, args ...any) (provider.RowReader, error)
	QueryAll(ctx context.Context, id provider.ConnID, sql string, limit int, args ...any) (*provider.Result, error)
	Exec(ctx context.Context, id provider.ConnID, sql string, args ...any) (int64, error)
}

// Manager owns the named connections of one data source.
type Manager struct {
	p      provider.Provider
	logger *slog.Logger

	mu       sync.Mutex
	slots    map[string]provider.ConnID
	draining bool
	inflight sync.WaitGroup
}

// NewManager creates a manager over p.
func NewManager(p provider.Provider, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		p:      p,
		logger: logger.With(slog.String("component", "conn")),
		slots:  make(map[string]provider.ConnID),
	}
}

// Provider returns the underlying provider.
func (m *Manager) Provider() provider.Provider { return m.p }

// Open opens a fresh connection in slot, closing the one it replaces.
func (m *Manager) Open(ctx context.Context, slot string) (provider.ConnID, error) {
	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return "", ErrDraining
	}
	prev, had := m.slots[slot]
	delete(m.slots, slot)
	m.mu.Unlock()

	if had {
		if err := m.p.CloseConnection(ctx, prev); err != nil {
			m.logger.Warn("failed to close previous connection",
				slog.String("slot", slot), slog.String("error", err.Error()))
		}
	}

	id, err := m.p.CreateConnection(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to open %s connection: %w", slot, err)
	}

	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		_ = m.p.CloseConnection(ctx, id)
		return "", ErrDraining
	}
	if other, ok := m.slots[slot]; ok {
		// a concurrent Open won the slot; keep the newest
		_ = m.p.CloseConnection(ctx, other)
	}
	m.slots[slot] = id
	m.mu.Unlock()

	m.logger.Debug("slot opened", slog.String("slot", slot))
	return id, nil
}

// Slot returns the connection held in slot.
func (m *Manager) Slot(slot string) (provider.ConnID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.slots[slot]
	return id, ok
}

// Close closes the connection held in slot, if any.
func (m *Manager) Close(ctx context.Context, slot string) error {
	m.mu.Lock()
	id, ok := m.slots[slot]
	delete(m.slots, slot)
	m.mu.Unlock()
	if !ok {
		return nil
	}
	return m.p.CloseConnection(ctx, id)
}

// Len returns the number of open slots.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

func (m *Manager) begin() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.draining {
		return ErrDraining
	}
	m.inflight.Add(1)
	return nil
}

// Query runs a streaming query. The query stays in flight until the reader
// is closed.
func (m *Manager) Query(ctx context.Context, id provider.ConnID, sql string, args ...any) (provider.RowReader, error) {
	if err := m.begin(); err != nil {
		return nil, err
	}
	r, err := m.p.Query(ctx, id, sql, args...)
	if err != nil {
		m.inflight.Done()
		return nil, err
	}
	return &trackedReader{RowReader: r, done: m.inflight.Done}, nil
}

// QueryAll runs a query and reads up to limit rows.
func (m *Manager) QueryAll(ctx context.Context, id provider.ConnID, sql string, limit int, args ...any) (*provider.Result, error) {
	if err := m.begin(); err != nil {
		return nil, err
	}
	defer m.inflight.Done()
	return m.p.QueryAll(ctx, id, sql, limit, args...)
}

// Exec runs a statement.
func (m *Manager) Exec(ctx context.Context, id provider.ConnID, sql string, args ...any) (int64, error) {
	if err := m.begin(); err != nil {
		return 0, err
	}
	defer m.inflight.Done()
	return m.p.Exec(ctx, id, sql, args...)
}

// Append bulk-inserts through the provider when it supports appending.
func (m *Manager) Append(ctx context.Context, id provider.ConnID, schema, table string, fill func(add func(values ...any) error) error) error {
	app, ok := m.p.(provider.Appender)
	if !ok {
		return errors.ErrUnsupported
	}
	if err := m.begin(); err != nil {
		return err
	}
	defer m.inflight.Done()
	return app.Append(ctx, id, schema, table, fill)
}

// Drain blocks new work, waits for in-flight queries and closes every slot.
// New work is accepted again once Drain returns.
func (m *Manager) Drain(ctx context.Context) error {
	m.mu.Lock()
	m.draining = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.draining = false
		m.mu.Unlock()
	}()

	done := make(chan struct{})
	go func() {
		m.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("failed to drain connections: %w", ctx.Err())
	}

	m.mu.Lock()
	slots := m.slots
	m.slots = make(map[string]provider.ConnID)
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for slot, id := range slots {
		g.Go(func() error {
			if err := m.p.CloseConnection(gctx, id); err != nil {
				return fmt.Errorf("failed to close %s connection: %w", slot, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	m.logger.Debug("drained", slog.Int("closed", len(slots)))
	return nil
}

type trackedReader struct {
	provider.RowReader
	once sync.Once
	done func()
}

func (r *trackedReader) Close() error {
	err := r.RowReader.Close()
	r.once.Do(r.done)
	return err
}

var _ Querier = (*Manager)(nil)
