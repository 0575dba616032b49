// Package ledgertest provides in-memory implementations of the position and
// audit stores for tests that exercise the ledger, executor, and controller
// without a database.
package ledgertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfold/polyarb/internal/domain"
)

// Store is an in-memory domain.PositionStore keyed by position ID.
type Store struct {
	mu        sync.Mutex
	positions map[string]domain.Position
}

// NewStore creates an empty in-memory position store.
func NewStore() *Store {
	return &Store{positions: make(map[string]domain.Position)}
}

func (s *Store) Create(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.positions[pos.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.positions[pos.ID] = pos
	return nil
}

func (s *Store) GetByID(_ context.Context, id string) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok {
		return domain.Position{}, domain.ErrNotFound
	}
	return pos, nil
}

func (s *Store) UpdateStatus(_ context.Context, id string, status domain.PositionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	pos.Status = status
	pos.UpdatedAt = time.Now().UTC()
	s.positions[id] = pos
	return nil
}

func (s *Store) UpdateOrder(_ context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[order.PositionID]
	if !ok {
		return domain.ErrNotFound
	}
	switch order.Side {
	case domain.SideYes:
		pos.YesOrder = order
	case domain.SideNo:
		pos.NoOrder = order
	}
	pos.UpdatedAt = time.Now().UTC()
	s.positions[order.PositionID] = pos
	return nil
}

func (s *Store) SetOutcome(_ context.Context, id string, imbalanceQty, realizedProfit decimal.Decimal, status domain.PositionStatus, settledAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[id]
	if !ok {
		return domain.ErrNotFound
	}
	pos.ImbalanceQty = imbalanceQty
	pos.RealizedProfit = realizedProfit
	pos.Status = status
	pos.SettledAt = settledAt
	pos.UpdatedAt = time.Now().UTC()
	s.positions[id] = pos
	return nil
}

func (s *Store) ListOpen(_ context.Context) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, pos := range s.positions {
		if pos.Status != domain.PositionStatusSettled {
			out = append(out, pos)
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *Store) ListByStatus(_ context.Context, status domain.PositionStatus) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, pos := range s.positions {
		if pos.Status == status {
			out = append(out, pos)
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *Store) ListPendingOrders(_ context.Context) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Order
	for _, pos := range s.positions {
		if pos.Status == domain.PositionStatusSettled {
			continue
		}
		for _, o := range []domain.Order{pos.YesOrder, pos.NoOrder} {
			if o.Hash != "" && !o.Status.Terminal() {
				out = append(out, o)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) HasOpenForMarket(_ context.Context, marketID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pos := range s.positions {
		if pos.MarketID == marketID && pos.Status != domain.PositionStatusSettled {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) OpenSpend(_ context.Context) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, pos := range s.positions {
		if pos.Status == domain.PositionStatusSettled {
			continue
		}
		for _, o := range []domain.Order{pos.YesOrder, pos.NoOrder} {
			if o.Status.Terminal() {
				total = total.Add(o.FilledCost())
			} else {
				total = total.Add(o.RequestedQty.Mul(o.LimitPrice))
			}
		}
	}
	return total, nil
}

func (s *Store) ListSettledBefore(_ context.Context, before time.Time) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, pos := range s.positions {
		if pos.Status == domain.PositionStatusSettled && pos.SettledAt != nil && pos.SettledAt.Before(before) {
			out = append(out, pos)
		}
	}
	sortByCreated(out)
	return out, nil
}

func (s *Store) DeleteSettledBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, pos := range s.positions {
		if pos.Status == domain.PositionStatusSettled && pos.SettledAt != nil && pos.SettledAt.Before(before) {
			delete(s.positions, id)
			n++
		}
	}
	return n, nil
}

func sortByCreated(positions []domain.Position) {
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].CreatedAt.Before(positions[j].CreatedAt)
	})
}

// Audit is an in-memory domain.AuditStore that records entries in order.
type Audit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	nextID  int64
}

// NewAudit creates an empty in-memory audit store.
func NewAudit() *Audit {
	return &Audit{}
}

func (a *Audit) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	a.entries = append(a.entries, domain.AuditEntry{
		ID:        a.nextID,
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (a *Audit) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := append([]domain.AuditEntry(nil), a.entries...)
	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil, nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(out) {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (a *Audit) ListBefore(_ context.Context, before time.Time) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []domain.AuditEntry
	for _, e := range a.entries {
		if e.CreatedAt.Before(before) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a *Audit) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var kept []domain.AuditEntry
	var n int64
	for _, e := range a.entries {
		if e.CreatedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	a.entries = kept
	return n, nil
}

// Events returns the logged event names in order, for assertions.
func (a *Audit) Events() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.entries))
	for i, e := range a.entries {
		out[i] = e.Event
	}
	return out
}
