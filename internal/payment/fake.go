package payment

import (
	"context"
	"fmt"
	"sync"

	"github.com/seatswap/seatswap/internal/idgen"
)

// FakeProvider is an in-process provider for dev mode and tests. Sessions
// start pending; tests and the dev console drive them to a final state with
// SetOutcome.
type FakeProvider struct {
	mu       sync.Mutex
	sessions map[string]*ConfirmResult

	// CreateErr and ConfirmErr, when set, are returned by the respective
	// call to simulate provider failures.
	CreateErr  error
	ConfirmErr error
}

var _ Provider = (*FakeProvider)(nil)

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{sessions: make(map[string]*ConfirmResult)}
}

func (f *FakeProvider) Name() string { return "fake" }

func (f *FakeProvider) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	token := idgen.WithPrefix("fs_")
	f.sessions[token] = &ConfirmResult{Outcome: OutcomePending, RawState: "open"}
	return &Session{
		Token:       token,
		RedirectURL: fmt.Sprintf("https://pay.example.invalid/session/%s", token),
	}, nil
}

func (f *FakeProvider) Confirm(ctx context.Context, token string) (*ConfirmResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ConfirmErr != nil {
		return nil, f.ConfirmErr
	}
	res, ok := f.sessions[token]
	if !ok {
		// An unknown session is indistinguishable from one the provider
		// has not settled yet.
		return &ConfirmResult{Outcome: OutcomePending, RawState: "unknown"}, nil
	}
	cp := *res
	return &cp, nil
}

// SetOutcome scripts the result of future Confirm calls for token.
func (f *FakeProvider) SetOutcome(token string, outcome Outcome, rawState string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[token] = &ConfirmResult{Outcome: outcome, RawState: rawState}
}
