package inventory

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists tickets in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed ticket store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const ticketColumns = `id, event_id, seller_id, price_cents, status,
	       event_starts_at, hold_expires_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, t *Ticket) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO tickets (
			id, event_id, seller_id, price_cents, status,
			event_starts_at, hold_expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		t.ID, t.EventID, t.SellerID, t.PriceCents, string(t.Status),
		nullTime(t.EventStartsAt), nullTime(t.HoldExpiresAt), t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Ticket, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE id = $1`, id)

	t, err := scanTicket(row)
	if err == sql.ErrNoRows {
		return nil, ErrTicketNotFound
	}
	return t, err
}

func (p *PostgresStore) Hold(ctx context.Context, id string, expiresAt time.Time) error {
	return p.guarded(ctx, id, `
		UPDATE tickets
		SET status = 'held', hold_expires_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'active'`, expiresAt)
}

func (p *PostgresStore) MarkSold(ctx context.Context, id string) error {
	return p.guarded(ctx, id, `
		UPDATE tickets
		SET status = 'sold', hold_expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'held'`)
}

func (p *PostgresStore) Release(ctx context.Context, id string) error {
	return p.guarded(ctx, id, `
		UPDATE tickets
		SET status = 'active', hold_expires_at = NULL, updated_at = NOW()
		WHERE id = $1 AND status = 'held'`)
}

// guarded runs a status-guarded single-row update. Zero rows affected means
// either the ticket is gone (not found) or the guard did not match (conflict);
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
		`SELECT EXISTS(SELECT 1 FROM tickets WHERE id = $1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrTicketNotFound
	}
	return ErrTicketConflict
}

func (p *PostgresStore) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Ticket, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE seller_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, sellerID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTicket(s scanner) (*Ticket, error) {
	t := &Ticket{}
	var (
		status        string
		eventStartsAt sql.NullTime
		holdExpiresAt sql.NullTime
	)

	err := s.Scan(
		&t.ID, &t.EventID, &t.SellerID, &t.PriceCents, &status,
		&eventStartsAt, &holdExpiresAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Status = Status(status)
	if eventStartsAt.Valid {
		t.EventStartsAt = &eventStartsAt.Time
	}
	if holdExpiresAt.Valid {
		t.HoldExpiresAt = &holdExpiresAt.Time
	}
	return t, nil
}

// nullTime converts a *time.Time to sql.NullTime.
func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
