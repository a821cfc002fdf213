package order

import (
	"context"
	"database/sql"
	"time"

	"github.com/seatswap/seatswap/internal/pagination"
)

// PostgresStore persists orders in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed order store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const orderColumns = `id, buyer_id, seller_id, ticket_id, amount_cents, service_fee_cents,
	       total_cents, status, payment_state, provider_token, event_starts_at,
	       created_at, updated_at, paid_at, buyer_ok_at, release_at,
	       dispute_at, dispute_reason, payout_batch_id`

func (p *PostgresStore) Create(ctx context.Context, o *Order) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO orders (
			id, buyer_id, seller_id, ticket_id, amount_cents, service_fee_cents,
			total_cents, status, payment_state, provider_token, event_starts_at,
			created_at, updated_at, paid_at, buyer_ok_at, release_at,
			dispute_at, dispute_reason, payout_batch_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		o.ID, o.BuyerID, o.SellerID, o.TicketID, o.AmountCents, o.ServiceFeeCents,
		o.TotalCents, string(o.Status), nullString(o.PaymentState), nullString(o.ProviderToken),
		nullTime(o.EventStartsAt), o.CreatedAt, o.UpdatedAt, nullTime(o.PaidAt),
		nullTime(o.BuyerOKAt), nullTime(o.ReleaseAt), nullTime(o.DisputeAt),
		nullString(o.DisputeReason), nullString(o.PayoutBatchID),
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)

	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	return o, err
}

func (p *PostgresStore) SetProviderToken(ctx context.Context, id, token string) error {
	return p.guarded(ctx, id, `
		UPDATE orders
		SET provider_token = $2, updated_at = NOW()
		WHERE id = $1 AND (provider_token IS NULL OR provider_token = $2)`, token)
}

func (p *PostgresStore) MarkPaid(ctx context.Context, id string, paidAt time.Time, paymentState string) error {
	return p.guarded(ctx, id, `
		UPDATE orders
		SET status = 'held', paid_at = $2, payment_state = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, paidAt, paymentState)
}

func (p *PostgresStore) FailPending(ctx context.Context, id string, to Status, paymentState string) error {
	if to != StatusPaymentFailed && to != StatusCanceled && to != StatusExpired {
		return ErrIllegalTransition
	}
	return p.guarded(ctx, id, `
		UPDATE orders
		SET status = $2, payment_state = COALESCE(NULLIF($3, ''), payment_state), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, string(to), paymentState)
}

func (p *PostgresStore) Approve(ctx context.Context, id string, buyerOKAt, minRelease time.Time) error {
	// GREATEST keeps release_at monotonic under repeated or concurrent
	// approvals; an earlier, longer hold is never shortened.
	return p.guarded(ctx, id, `
		UPDATE orders
		SET status = 'buyer_ok', buyer_ok_at = $2,
		    release_at = GREATEST(COALESCE(release_at, to_timestamp(0)), $3),
		    updated_at = NOW()
		WHERE id = $1 AND status IN ('held', 'buyer_ok')`, buyerOKAt, minRelease)
}

func (p *PostgresStore) Dispute(ctx context.Context, id, reason string, at time.Time) error {
	return p.guarded(ctx, id, `
		UPDATE orders
		SET status = 'disputed', dispute_at = $2, dispute_reason = $3, updated_at = NOW()
		WHERE id = $1 AND status IN ('held', 'buyer_ok')`, at, reason)
}

func (p *PostgresStore) MarkReadyForPayout(ctx context.Context, id string, releaseAt time.Time) error {
	return p.guarded(ctx, id, `
		UPDATE orders
		SET status = 'ready_to_payout', release_at = $2, updated_at = NOW()
		WHERE id = $1 AND status IN ('held', 'buyer_ok')`, releaseAt)
}

func (p *PostgresStore) AttachToBatch(ctx context.Context, id, batchID string) error {
	return p.guarded(ctx, id, `
		UPDATE orders
		SET status = 'paid_out', payout_batch_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'ready_to_payout' AND payout_batch_id IS NULL`, batchID)
}

// guarded runs a status-guarded single-row update. Zero rows affected means
// either the order is gone (not found) or the guard did not match (conflict);
// a follow-up existence check distinguishes the two.
func (p *PostgresStore) guarded(ctx context.Context, id, query string, args ...interface{}) error {
	all := append([]interface{}{id}, args...)
	result, err := p.db.ExecContext(ctx, query, all...)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows > 0 {
		return nil
	}

	var exists bool
	if err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM orders WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrOrderNotFound
	}
	return ErrOrderConflict
}

func (p *PostgresStore) ListStalePending(ctx context.Context, before time.Time, limit int) ([]*Order, error) {
	return p.query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`, before, limit)
}

func (p *PostgresStore) ListPayoutCandidates(ctx context.Context, limit int) ([]*Order, error) {
	return p.query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status IN ('held', 'buyer_ok') AND payout_batch_id IS NULL
		ORDER BY created_at ASC
		LIMIT $1`, limit)
}

func (p *PostgresStore) ListReadyUnbatched(ctx context.Context, limit int) ([]*Order, error) {
	return p.query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = 'ready_to_payout' AND payout_batch_id IS NULL
		ORDER BY created_at ASC
		LIMIT $1`, limit)
}

func (p *PostgresStore) ListByBatch(ctx context.Context, batchID string) ([]*Order, error) {
	return p.query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE payout_batch_id = $1
		ORDER BY created_at ASC`, batchID)
}

func (p *PostgresStore) ListByBuyer(ctx context.Context, buyerID string, cursor *pagination.Cursor, limit int) ([]*Order, error) {
	if cursor != nil {
		return p.query(ctx, `
			SELECT `+orderColumns+`
			FROM orders
			WHERE buyer_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`, buyerID, cursor.CreatedAt, cursor.ID, limit)
	}
	return p.query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE buyer_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, buyerID, limit)
}

func (p *PostgresStore) ListBySeller(ctx context.Context, sellerID string, cursor *pagination.Cursor, limit int) ([]*Order, error) {
	if cursor != nil {
		return p.query(ctx, `
			SELECT `+orderColumns+`
			FROM orders
			WHERE seller_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`, sellerID, cursor.CreatedAt, cursor.ID, limit)
	}
	return p.query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE seller_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, sellerID, limit)
}

func (p *PostgresStore) query(ctx context.Context, query string, args ...interface{}) ([]*Order, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(s scanner) (*Order, error) {
	o := &Order{}
	var (
		status        string
		paymentState  sql.NullString
		providerToken sql.NullString
		eventStartsAt sql.NullTime
		paidAt        sql.NullTime
		buyerOKAt     sql.NullTime
		releaseAt     sql.NullTime
		disputeAt     sql.NullTime
		disputeReason sql.NullString
		batchID       sql.NullString
	)

	err := s.Scan(
		&o.ID, &o.BuyerID, &o.SellerID, &o.TicketID, &o.AmountCents, &o.ServiceFeeCents,
		&o.TotalCents, &status, &paymentState, &providerToken, &eventStartsAt,
		&o.CreatedAt, &o.UpdatedAt, &paidAt, &buyerOKAt, &releaseAt,
		&disputeAt, &disputeReason, &batchID,
	)
	if err != nil {
		return nil, err
	}

	o.Status = Status(status)
	o.PaymentState = paymentState.String
	o.ProviderToken = providerToken.String
	o.DisputeReason = disputeReason.String
	o.PayoutBatchID = batchID.String
	if eventStartsAt.Valid {
		o.EventStartsAt = &eventStartsAt.Time
	}
	if paidAt.Valid {
		o.PaidAt = &paidAt.Time
	}
	if buyerOKAt.Valid {
		o.BuyerOKAt = &buyerOKAt.Time
	}
	if releaseAt.Valid {
		o.ReleaseAt = &releaseAt.Time
	}
	if disputeAt.Valid {
		o.DisputeAt = &disputeAt.Time
	}
	return o, nil
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// nullString converts an empty string to SQL NULL.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
