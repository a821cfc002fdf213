package payout

import (
	"context"
	"database/sql"
)

// PostgresStore persists payout batches in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateBatch(ctx context.Context, b *Batch) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payout_batches (id, status, run_by, order_count, total_amount_cents, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		b.ID, string(b.Status), b.RunBy, b.OrderCount, b.TotalAmountCents, b.CreatedAt, b.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) GetBatch(ctx context.Context, id string) (*Batch, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, status, run_by, order_count, total_amount_cents, created_at, updated_at
		FROM payout_batches WHERE id = $1`, id)

	b := &Batch{}
	var status string
	err := row.Scan(&b.ID, &status, &b.RunBy, &b.OrderCount, &b.TotalAmountCents, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrBatchNotFound
	}
	if err != nil {
		return nil, err
	}
	b.Status = BatchStatus(status)
	return b, nil
}

func (p *PostgresStore) FinalizeBatch(ctx context.Context, id string, orderCount int, totalCents int64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE payout_batches
		SET order_count = $2, total_amount_cents = $3, updated_at = NOW()
		WHERE id = $1`, id, orderCount, totalCents)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (p *PostgresStore) CreateTransfer(ctx context.Context, t *Transfer) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO payout_transfers (id, batch_id, seller_id, payout_account, amount_cents, order_count, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.BatchID, t.SellerID, t.PayoutAccount, t.AmountCents, t.OrderCount, string(t.Status), t.CreatedAt,
	)
	return err
}

func (p *PostgresStore) ListTransfers(ctx context.Context, batchID string) ([]*Transfer, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, batch_id, seller_id, payout_account, amount_cents, order_count, status, created_at
		FROM payout_transfers
		WHERE batch_id = $1
		ORDER BY seller_id ASC`, batchID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Transfer
	for rows.Next() {
		t := &Transfer{}
		var status string
		var account sql.NullString
		if err := rows.Scan(&t.ID, &t.BatchID, &t.SellerID, &account, &t.AmountCents, &t.OrderCount, &status, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.PayoutAccount = account.String
		t.Status = TransferStatus(status)
		result = append(result, t)
	}
	return result, rows.Err()
}

// Compile-time assertion that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
