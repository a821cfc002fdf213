package sellers

import (
	"context"
	"errors"
	"testing"
)

func TestRegisterAndPayoutAccount(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())

	if _, err := svc.PayoutAccount(ctx, "seller-1"); !errors.Is(err, ErrNoPayoutAccount) {
		t.Errorf("unregistered: want ErrNoPayoutAccount, got %v", err)
	}

	if _, err := svc.Register(ctx, "seller-1", "Alice", "acct_123"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	acct, err := svc.PayoutAccount(ctx, "seller-1")
	if err != nil {
		t.Fatalf("PayoutAccount: %v", err)
	}
	if acct != "acct_123" {
		t.Errorf("account = %q", acct)
	}

	// Re-registration replaces the destination but keeps the identity.
	if _, err := svc.Register(ctx, "seller-1", "Alice", "acct_456"); err != nil {
		t.Fatalf("re-Register: %v", err)
	}
	if acct, _ := svc.PayoutAccount(ctx, "seller-1"); acct != "acct_456" {
		t.Errorf("account after update = %q", acct)
	}
}

func TestGetMissingSeller(t *testing.T) {
	svc := NewService(NewMemoryStore())
	if _, err := svc.Get(context.Background(), "nobody"); !errors.Is(err, ErrSellerNotFound) {
		t.Errorf("want ErrSellerNotFound, got %v", err)
	}
}
