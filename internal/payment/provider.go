// Package payment adapts external payment providers to the order lifecycle.
//
// Providers speak in their own vocabulary of session and payment states. This
// package condenses every provider response into a three-valued Outcome so the
// rest of the system never interprets raw provider strings. The collapse is
// deliberately conservative: any state the adapter does not positively
// recognize maps to OutcomePending, never to OutcomeApproved.
package payment

import (
	"context"
	"errors"
	"time"
)

// CallTimeout bounds every outbound provider call.
const CallTimeout = 15 * time.Second

// ErrProviderUnavailable marks transient provider failures (timeouts, 5xx,
// network errors). Callers surface these as a retryable upstream error.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

// Outcome is the condensed verdict of a provider confirmation.
type Outcome string

const (
	OutcomeApproved Outcome = "APPROVED"
	OutcomeRejected Outcome = "REJECTED"
	OutcomePending  Outcome = "PENDING"
)

// SessionRequest describes the charge a checkout session should collect.
type SessionRequest struct {
	OrderID     string
	AmountCents int64 // Total charged to the buyer, minor units
	Currency    string
	Description string
	SuccessURL  string
	CancelURL   string
}

// Session is a created provider checkout session.
type Session struct {
	Token       string // Provider session identifier, stored on the order
	RedirectURL string // Where the buyer completes payment
}

// ConfirmResult carries the condensed outcome plus the provider's raw state
// string, which is persisted verbatim for audit but never interpreted.
type ConfirmResult struct {
	Outcome  Outcome
	RawState string
}

// Provider creates checkout sessions and reports their payment outcome.
type Provider interface {
	Name() string
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	Confirm(ctx context.Context, token string) (*ConfirmResult, error)
}
