package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/quantfold/polyarb/internal/domain"
)

const uniqueViolation = "23505"

// PositionStore implements domain.PositionStore using PostgreSQL. A position
// spans two tables: the positions row and its two order legs.
type PositionStore struct {
	pool *pgxpool.Pool
}

var _ domain.PositionStore = (*PositionStore)(nil)

// NewPositionStore creates a PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

const positionCols = `id, market_id, question, pair_cost, gas_cost, fee_rate,
	status, imbalance_qty, realized_profit, created_at, updated_at, settled_at`

const orderCols = `o.id, o.position_id, o.market_id, o.token_id, o.side,
	o.requested_qty, o.limit_price, o.status, o.filled_qty, o.avg_fill_price,
	o.hash, o.submitted_at, o.updated_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var status string

	err := row.Scan(
		&p.ID, &p.MarketID, &p.Question,
		&p.PairCost, &p.GasCost, &p.FeeRate,
		&status, &p.ImbalanceQty, &p.RealizedProfit,
		&p.CreatedAt, &p.UpdatedAt, &p.SettledAt,
	)
	if err != nil {
		return domain.Position{}, err
	}
	p.Status = domain.PositionStatus(status)
	return p, nil
}

func scanOrders(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		var o domain.Order
		var side, status string

		if err := rows.Scan(
			&o.ID, &o.PositionID, &o.MarketID, &o.TokenID, &side,
			&o.RequestedQty, &o.LimitPrice, &status,
			&o.FilledQty, &o.AvgFillPrice,
			&o.Hash, &o.SubmittedAt, &o.UpdatedAt,
		); err != nil {
			return nil, err
		}
		o.Side = domain.Side(side)
		o.Status = domain.OrderStatus(status)
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// Create inserts the position and both legs in one transaction.
func (s *PositionStore) Create(ctx context.Context, pos domain.Position) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin create position: %w", err)
	}
	defer tx.Rollback(ctx)

	const insertPosition = `
		INSERT INTO positions (
			id, market_id, question, pair_cost, gas_cost, fee_rate,
			status, imbalance_qty, realized_profit,
			created_at, updated_at, settled_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9,
			$10, $11, $12
		)`

	_, err = tx.Exec(ctx, insertPosition,
		pos.ID, pos.MarketID, pos.Question,
		pos.PairCost, pos.GasCost, pos.FeeRate,
		string(pos.Status), pos.ImbalanceQty, pos.RealizedProfit,
		pos.CreatedAt, pos.UpdatedAt, pos.SettledAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create position %s: %w", pos.ID, err)
	}

	for _, o := range []domain.Order{pos.YesOrder, pos.NoOrder} {
		if err := insertOrder(ctx, tx, o); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit create position %s: %w", pos.ID, err)
	}
	return nil
}

func insertOrder(ctx context.Context, tx pgx.Tx, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			id, position_id, market_id, token_id, side,
			requested_qty, limit_price, status, filled_qty, avg_fill_price,
			hash, submitted_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10,
			$11, $12, $13
		)`

	_, err := tx.Exec(ctx, query,
		o.ID, o.PositionID, o.MarketID, o.TokenID, string(o.Side),
		o.RequestedQty, o.LimitPrice, string(o.Status), o.FilledQty, o.AvgFillPrice,
		o.Hash, o.SubmittedAt, o.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAlreadyExists
		}
		return fmt.Errorf("postgres: create order %s: %w", o.ID, err)
	}
	return nil
}

// GetByID retrieves a position with both legs attached.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}

	positions, err := s.attachLegs(ctx, []domain.Position{p})
	if err != nil {
		return domain.Position{}, err
	}
	return positions[0], nil
}

// UpdateStatus moves a position to the given lifecycle state.
func (s *PositionStore) UpdateStatus(ctx context.Context, id string, status domain.PositionStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE positions SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, string(status))
	if err != nil {
		return fmt.Errorf("postgres: update position status %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateOrder replaces the mutable fields of one leg and touches the parent.
func (s *PositionStore) UpdateOrder(ctx context.Context, order domain.Order) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin update order: %w", err)
	}
	defer tx.Rollback(ctx)

	const query = `
		UPDATE orders SET
			status         = $2,
			filled_qty     = $3,
			avg_fill_price = $4,
			hash           = $5,
			submitted_at   = $6,
			updated_at     = NOW()
		WHERE id = $1`

	tag, err := tx.Exec(ctx, query,
		order.ID, string(order.Status),
		order.FilledQty, order.AvgFillPrice,
		order.Hash, order.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update order %s: %w", order.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	if _, err := tx.Exec(ctx,
		`UPDATE positions SET updated_at = NOW() WHERE id = $1`,
		order.PositionID,
	); err != nil {
		return fmt.Errorf("postgres: touch position %s: %w", order.PositionID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit update order %s: %w", order.ID, err)
	}
	return nil
}

// SetOutcome persists imbalance, realized profit, and the final status in one
// write.
func (s *PositionStore) SetOutcome(ctx context.Context, id string, imbalanceQty, realizedProfit decimal.Decimal, status domain.PositionStatus, settledAt *time.Time) error {
	const query = `
		UPDATE positions SET
			imbalance_qty   = $2,
			realized_profit = $3,
			status          = $4,
			settled_at      = $5,
			updated_at      = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		id, imbalanceQty, realizedProfit, string(status), settledAt)
	if err != nil {
		return fmt.Errorf("postgres: set outcome for position %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListOpen returns every position that has not settled, oldest first.
func (s *PositionStore) ListOpen(ctx context.Context) ([]domain.Position, error) {
	return s.selectPositions(ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE status <> 'settled'
		 ORDER BY created_at`)
}

// ListByStatus returns positions in the given state, oldest first.
func (s *PositionStore) ListByStatus(ctx context.Context, status domain.PositionStatus) ([]domain.Position, error) {
	return s.selectPositions(ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE status = $1
		 ORDER BY created_at`, string(status))
}

// ListPendingOrders returns submitted legs still awaiting fills across all
// non-terminal positions.
func (s *PositionStore) ListPendingOrders(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderCols+` FROM orders o
		 JOIN positions p ON p.id = o.position_id
		 WHERE p.status <> 'settled'
		   AND o.hash <> ''
		   AND o.status NOT IN ('filled', 'rejected')
		 ORDER BY o.id`)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan pending orders: %w", err)
	}
	return orders, nil
}

// HasOpenForMarket reports whether the market already has a live position.
func (s *PositionStore) HasOpenForMarket(ctx context.Context, marketID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(
			SELECT 1 FROM positions WHERE market_id = $1 AND status <> 'settled'
		 )`, marketID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check open position for market %s: %w", marketID, err)
	}
	return exists, nil
}

// OpenSpend sums the committed spend of non-settled positions. Terminal legs
// count at their filled cost, live legs at the full requested spend.
func (s *PositionStore) OpenSpend(ctx context.Context) (decimal.Decimal, error) {
	const query = `
		SELECT COALESCE(SUM(
			CASE WHEN o.status IN ('filled', 'rejected')
				THEN o.filled_qty * (CASE WHEN o.avg_fill_price > 0 THEN o.avg_fill_price ELSE o.limit_price END)
				ELSE o.requested_qty * o.limit_price
			END
		), 0)
		FROM orders o
		JOIN positions p ON p.id = o.position_id
		WHERE p.status <> 'settled'`

	var total decimal.Decimal
	if err := s.pool.QueryRow(ctx, query).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("postgres: sum open spend: %w", err)
	}
	return total, nil
}

// ListSettledBefore returns settled positions older than the cutoff, oldest
// first, for archival.
func (s *PositionStore) ListSettledBefore(ctx context.Context, before time.Time) ([]domain.Position, error) {
	return s.selectPositions(ctx,
		`SELECT `+positionCols+` FROM positions
		 WHERE status = 'settled' AND settled_at IS NOT NULL AND settled_at < $1
		 ORDER BY created_at`, before)
}

// DeleteSettledBefore removes settled positions older than the cutoff. The
// order legs go with them.
func (s *PositionStore) DeleteSettledBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM positions
		 WHERE status = 'settled' AND settled_at IS NOT NULL AND settled_at < $1`,
		before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete settled positions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// selectPositions runs a positions query and attaches both legs to each row.
func (s *PositionStore) selectPositions(ctx context.Context, query string, args ...any) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}

	return s.attachLegs(ctx, positions)
}

// attachLegs loads the order legs for the given positions in one query.
func (s *PositionStore) attachLegs(ctx context.Context, positions []domain.Position) ([]domain.Position, error) {
	if len(positions) == 0 {
		return nil, nil
	}

	ids := make([]string, len(positions))
	index := make(map[string]int, len(positions))
	for i, p := range positions {
		ids[i] = p.ID
		index[p.ID] = i
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+orderCols+` FROM orders o WHERE o.position_id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: load order legs: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrders(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan order legs: %w", err)
	}

	for _, o := range orders {
		i, ok := index[o.PositionID]
		if !ok {
			continue
		}
		if o.Side == domain.SideYes {
			positions[i].YesOrder = o
		} else {
			positions[i].NoOrder = o
		}
	}
	return positions, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
