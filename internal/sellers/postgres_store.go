package sellers

import (
	"context"
	"database/sql"
)

// PostgresStore persists seller registrations in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Upsert(ctx context.Context, s *Seller) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO sellers (id, display_name, payout_account, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET display_name = EXCLUDED.display_name,
		    payout_account = EXCLUDED.payout_account,
		    updated_at = NOW()`,
		s.ID, s.DisplayName, s.PayoutAccount, s.CreatedAt, s.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Seller, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, display_name, payout_account, created_at, updated_at
		FROM sellers WHERE id = $1`, id)

	s := &Seller{}
	var displayName, payoutAccount sql.NullString
	err := row.Scan(&s.ID, &displayName, &payoutAccount, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrSellerNotFound
	}
	if err != nil {
		return nil, err
	}
	s.DisplayName = displayName.String
	s.PayoutAccount = payoutAccount.String
	return s, nil
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
