package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

// StripeProvider implements Provider on Stripe Checkout Sessions.
type StripeProvider struct {
	api *client.API
}

var _ Provider = (*StripeProvider)(nil)

// NewStripeProvider builds a provider with its own API client, so the global
// stripe key is never touched.
func NewStripeProvider(secretKey string) *StripeProvider {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &StripeProvider{api: api}
}

func (s *StripeProvider) Name() string { return "stripe" }

func (s *StripeProvider) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Params:            stripe.Params{Context: ctx},
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.OrderID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Quantity: stripe.Int64(1),
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Currency),
					UnitAmount: stripe.Int64(req.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(req.Description),
					},
				},
			},
		},
	}

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, classify(err)
	}
	return &Session{Token: sess.ID, RedirectURL: sess.URL}, nil
}

func (s *StripeProvider) Confirm(ctx context.Context, token string) (*ConfirmResult, error) {
	ctx, cancel := context.WithTimeout(ctx, CallTimeout)
	defer cancel()

	sess, err := s.api.CheckoutSessions.Get(token, &stripe.CheckoutSessionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, classify(err)
	}

	raw := fmt.Sprintf("%s:%s", sess.Status, sess.PaymentStatus)
	switch {
	case sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid,
		sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired:
		return &ConfirmResult{Outcome: OutcomeApproved, RawState: raw}, nil
	case sess.Status == stripe.CheckoutSessionStatusExpired:
		return &ConfirmResult{Outcome: OutcomeRejected, RawState: raw}, nil
	default:
		// Open sessions, unpaid states, and anything unrecognized stay
		// pending. A state must be positively known to approve.
		return &ConfirmResult{Outcome: OutcomePending, RawState: raw}, nil
	}
}

// classify folds transport-level and server-side failures into
// ErrProviderUnavailable; definitive client errors pass through unchanged.
func classify(err error) error {
	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		if sErr.HTTPStatusCode >= http.StatusInternalServerError ||
			sErr.HTTPStatusCode == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	// Network errors from the stripe backend arrive untyped.
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
