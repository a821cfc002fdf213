// Package payout turns released escrow balances into per-seller transfer
// instructions.
//
// A batch run promotes eligible orders to ready_to_payout, claims them into a
// new batch with guarded writes, and then re-reads the batch membership from
// the store before aggregating. The re-read is the reconciliation step: only
// orders whose attach actually won are counted, so a partially lost race can
// never inflate a seller's transfer.
package payout

import (
	"context"
	"errors"
	"time"
)

var (
	ErrBatchNotFound = errors.New("payout batch not found")
)

// BatchStatus labels a batch row. Batches are immutable once reconciled, so
// created is the only value.
type BatchStatus string

const (
	BatchStatusCreated BatchStatus = "created" // Orders attached, transfers computed
)

// Batch is one payout run's output. RunBy records who triggered the run (an
// operator's actor id, or the scheduler); CreatedAt doubles as the run time.
type Batch struct {
	ID               string      `json:"id"`
	Status           BatchStatus `json:"status"`
	RunBy            string      `json:"runBy,omitempty"`
	OrderCount       int         `json:"orderCount"`
	TotalAmountCents int64       `json:"totalAmountCents"` // Seller-due sum, fees excluded
	CreatedAt        time.Time   `json:"createdAt"`
	UpdatedAt        time.Time   `json:"updatedAt"`
}

// TransferStatus tracks one seller's instruction inside a batch.
type TransferStatus string

const (
	TransferStatusPending   TransferStatus = "pending"
	TransferStatusNoAccount TransferStatus = "blocked_no_account"
)

// Transfer is a per-seller payout instruction.
type Transfer struct {
	ID            string         `json:"id"`
	BatchID       string         `json:"batchId"`
	SellerID      string         `json:"sellerId"`
	PayoutAccount string         `json:"payoutAccount,omitempty"`
	AmountCents   int64          `json:"amountCents"`
	OrderCount    int            `json:"orderCount"`
	Status        TransferStatus `json:"status"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// Store persists payout batches and their transfers.
type Store interface {
	CreateBatch(ctx context.Context, b *Batch) error
	GetBatch(ctx context.Context, id string) (*Batch, error)
	// FinalizeBatch records the reconciled totals on the batch row.
	FinalizeBatch(ctx context.Context, id string, orderCount int, totalCents int64) error
	CreateTransfer(ctx context.Context, t *Transfer) error
	ListTransfers(ctx context.Context, batchID string) ([]*Transfer, error)
}
