package payments

import (
	"context"
	"os"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// Gateway abstracts the payment provider so the booking flow can be tested
// against a fake and run against the hosted checkout's server-side API in
// production. The core never validates payment authenticity; it only brokers
// the session id and the resulting payment reference.
type Gateway interface {
	// OpenSession places a hold for the fare amount and returns the payment
	// reference the order service expects on create.
	OpenSession(ctx context.Context, amount int64, currency string) (string, error)
	// Release cancels a hold whose order creation failed.
	Release(ctx context.Context, paymentRef string) error
}

// StripeGateway is a thin wrapper around stripe-go PaymentIntents with
// manual capture, so funds are held until the delivery is booked.
type StripeGateway struct{}

// NewStripeGateway initializes the stripe client with the STRIPE_API_KEY
// env var.
func NewStripeGateway() *StripeGateway {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	return &StripeGateway{}
}

func (s *StripeGateway) OpenSession(ctx context.Context, amount int64, currency string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(currency),
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a held payment once the order is confirmed downstream.
func (s *StripeGateway) Capture(ctx context.Context, paymentRef string) error {
	_, err := paymentintent.Capture(paymentRef, nil)
	return err
}

func (s *StripeGateway) Release(ctx context.Context, paymentRef string) error {
	_, err := paymentintent.Cancel(paymentRef, nil)
	return err
}
