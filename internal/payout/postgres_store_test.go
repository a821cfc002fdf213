package payout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/seatswap/seatswap/internal/testutil"
)

func TestPostgresBatchRoundTrip(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()
	store := NewPostgresStore(db)

	now := time.Now().UTC().Truncate(time.Microsecond)
	b := &Batch{
		ID:        "pb_pg1",
		Status:    BatchStatusCreated,
		RunBy:     "ops-carol",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.CreateBatch(ctx, b); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	if err := store.FinalizeBatch(ctx, b.ID, 3, 25000); err != nil {
		t.Fatalf("FinalizeBatch: %v", err)
	}

	got, err := store.GetBatch(ctx, b.ID)
	if err != nil {
		t.Fatalf("GetBatch: %v", err)
	}
	if got.OrderCount != 3 || got.TotalAmountCents != 25000 {
		t.Errorf("finalized batch = %d orders / %d cents, want 3 / 25000", got.OrderCount, got.TotalAmountCents)
	}
	if got.RunBy != "ops-carol" {
		t.Errorf("batch runBy = %q, want ops-carol", got.RunBy)
	}

	if _, err := store.GetBatch(ctx, "pb_missing"); !errors.Is(err, ErrBatchNotFound) {
		t.Errorf("missing batch: want ErrBatchNotFound, got %v", err)
	}
}

func TestPostgresTransfersListedByBatch(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()
	ctx := context.Background()
	store := NewPostgresStore(db)

	now := time.Now().UTC().Truncate(time.Microsecond)
	b := &Batch{ID: "pb_pg2", Status: BatchStatusCreated, CreatedAt: now, UpdatedAt: now}
	if err := store.CreateBatch(ctx, b); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}

	transfers := []*Transfer{
		{ID: "trf_1", BatchID: b.ID, SellerID: "seller-1", PayoutAccount: "acct_1", AmountCents: 12000, OrderCount: 2, Status: TransferStatusPending, CreatedAt: now},
		{ID: "trf_2", BatchID: b.ID, SellerID: "seller-2", AmountCents: 8000, OrderCount: 1, Status: TransferStatusNoAccount, CreatedAt: now},
	}
	for _, tr := range transfers {
		if err := store.CreateTransfer(ctx, tr); err != nil {
			t.Fatalf("CreateTransfer %s: %v", tr.ID, err)
		}
	}

	got, err := store.ListTransfers(ctx, b.ID)
	if err != nil {
		t.Fatalf("ListTransfers: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}

	byID := map[string]*Transfer{}
	for _, tr := range got {
		byID[tr.ID] = tr
	}
	if tr := byID["trf_1"]; tr == nil || tr.Status != TransferStatusPending || tr.AmountCents != 12000 {
		t.Errorf("trf_1 = %+v, want pending / 12000", tr)
	}
	if tr := byID["trf_2"]; tr == nil || tr.Status != TransferStatusNoAccount || tr.PayoutAccount != "" {
		t.Errorf("trf_2 = %+v, want blocked_no_account with empty account", tr)
	}
}
