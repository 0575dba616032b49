package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PositionStore durably persists positions and their two order legs. Ledger
// entries must survive process restarts; this is the only stateful record of
// what the bot holds.
type PositionStore interface {
	Create(ctx context.Context, pos Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	UpdateStatus(ctx context.Context, id string, status PositionStatus) error
	UpdateOrder(ctx context.Context, order Order) error
	// SetOutcome persists imbalance and realized profit in one write.
	SetOutcome(ctx context.Context, id string, imbalanceQty, realizedProfit decimal.Decimal, status PositionStatus, settledAt *time.Time) error
	ListOpen(ctx context.Context) ([]Position, error)
	ListByStatus(ctx context.Context, status PositionStatus) ([]Position, error)
	// ListPendingOrders returns submitted orders still awaiting fills across
	// all non-terminal positions.
	ListPendingOrders(ctx context.Context) ([]Order, error)
	HasOpenForMarket(ctx context.Context, marketID string) (bool, error)
	// OpenSpend sums the committed spend of pending/open/imbalanced
	// positions, at requested quantities, for bankroll accounting.
	OpenSpend(ctx context.Context) (decimal.Decimal, error)
	// ListSettledBefore returns settled positions older than the cutoff for
	// archival.
	ListSettledBefore(ctx context.Context, before time.Time) ([]Position, error)
	DeleteSettledBefore(ctx context.Context, before time.Time) (int64, error)
}

// ListOpts provides pagination for list queries.
type ListOpts struct {
	Limit  int
	Offset int
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
	ListBefore(ctx context.Context, before time.Time) ([]AuditEntry, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
