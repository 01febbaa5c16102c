package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/delivery-tracking/internal/fare"
	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/orders"
	"github.com/example/delivery-tracking/internal/payments"
	"github.com/example/delivery-tracking/internal/routing"
)

var ErrInvalidInput = errors.New("invalid booking input")

// minimumFare is charged when no route (and therefore no distance) is
// available at booking time.
const minimumFare = 50

// OrderAPI is the slice of the order client the flow needs.
type OrderAPI interface {
	CreatePayment(ctx context.Context, amount int) (orders.PaymentSession, error)
	Create(ctx context.Context, req orders.CreateOrderRequest) (models.Order, error)
}

// Flow runs the booking sequence: resolve route, quote fare, open a payment
// session, create the order with the payment reference. The payment gateway
// itself stays external; an optional direct Gateway handles deployments that
// hold funds server-side instead of via the embedded checkout.
type Flow struct {
	Orders   OrderAPI
	Resolver routing.Resolver
	Gateway  payments.Gateway // optional
	Log      *slog.Logger
}

// Request is a validated booking intent.
type Request struct {
	Pickup  models.GeoPoint
	Drop    models.GeoPoint
	Vehicle models.VehicleClass
}

// Result carries everything a caller needs to hand off to tracking.
type Result struct {
	Order      models.Order
	Quote      models.FareQuote
	Route      *models.Route
	PaymentRef string
}

// QuoteFor resolves the route and prices it. A route failure degrades to a
// nil route and the minimum fare, matching the "no price yet" display state.
func (f *Flow) QuoteFor(ctx context.Context, req Request) (models.FareQuote, *models.Route, error) {
	if !req.Pickup.Valid() || !req.Drop.Valid() {
		return models.FareQuote{}, nil, fmt.Errorf("%w: bad coordinates", ErrInvalidInput)
	}
	if _, err := fare.ParseVehicleClass(string(req.Vehicle)); err != nil {
		return models.FareQuote{}, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	route, err := f.Resolver.ResolveRoute(ctx, req.Pickup, req.Drop)
	if err != nil {
		if errors.Is(err, routing.ErrInvalidCoordinate) {
			return models.FareQuote{}, nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		// markers-only: quote falls back to the minimum fare
		return models.FareQuote{VehicleClass: req.Vehicle, Price: minimumFare}, nil, nil
	}
	q := fare.Quote(route.DistanceKm, req.Vehicle)
	return q, &route, nil
}

// Book executes the full sequence and returns the created order.
func (f *Flow) Book(ctx context.Context, req Request) (Result, error) {
	quote, route, err := f.QuoteFor(ctx, req)
	if err != nil {
		return Result{}, err
	}

	ps, err := f.Orders.CreatePayment(ctx, quote.Price)
	if err != nil {
		return Result{}, fmt.Errorf("payment session: %w", err)
	}
	paymentRef := ps.ID

	if f.Gateway != nil {
		ref, err := f.Gateway.OpenSession(ctx, int64(ps.Amount), "inr")
		if err != nil {
			return Result{}, fmt.Errorf("payment hold: %w", err)
		}
		paymentRef = ref
	}

	order, err := f.Orders.Create(ctx, orders.CreateOrderRequest{
		PickupLocation: req.Pickup,
		DropLocation:   req.Drop,
		Amount:         quote.Price,
		VehicleType:    req.Vehicle,
		PaymentID:      paymentRef,
	})
	if err != nil {
		if f.Gateway != nil {
			if rerr := f.Gateway.Release(ctx, paymentRef); rerr != nil && f.Log != nil {
				f.Log.Error("failed to release payment hold", "payment_ref", paymentRef, "error", rerr)
			}
		}
		return Result{}, fmt.Errorf("create order: %w", err)
	}

	if f.Log != nil {
		f.Log.Info("order booked", "order_id", order.ID, "amount", quote.Price, "vehicle", req.Vehicle)
	}
	return Result{Order: order, Quote: quote, Route: route, PaymentRef: paymentRef}, nil
}
