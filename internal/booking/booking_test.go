package booking

import (
	"context"
	"errors"
	"testing"

	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/orders"
	"github.com/example/delivery-tracking/internal/routing"
)

type fakeOrderAPI struct {
	paymentErr error
	createErr  error
	created    *orders.CreateOrderRequest
}

func (f *fakeOrderAPI) CreatePayment(ctx context.Context, amount int) (orders.PaymentSession, error) {
	if f.paymentErr != nil {
		return orders.PaymentSession{}, f.paymentErr
	}
	return orders.PaymentSession{ID: "pay_1", Amount: amount}, nil
}

func (f *fakeOrderAPI) Create(ctx context.Context, req orders.CreateOrderRequest) (models.Order, error) {
	if f.createErr != nil {
		return models.Order{}, f.createErr
	}
	f.created = &req
	return models.Order{ID: "o1", Status: models.StatusPending, Amount: req.Amount}, nil
}

type stubResolver struct {
	route models.Route
	err   error
}

func (s stubResolver) ResolveRoute(ctx context.Context, a, b models.GeoPoint) (models.Route, error) {
	return s.route, s.err
}

type fakeGateway struct {
	opened   int
	released int
	openErr  error
}

func (g *fakeGateway) OpenSession(ctx context.Context, amount int64, currency string) (string, error) {
	g.opened++
	if g.openErr != nil {
		return "", g.openErr
	}
	return "pi_test", nil
}

func (g *fakeGateway) Release(ctx context.Context, ref string) error {
	g.released++
	return nil
}

func validRequest() Request {
	return Request{
		Pickup:  models.GeoPoint{Lat: 28.61, Lng: 77.21},
		Drop:    models.GeoPoint{Lat: 28.70, Lng: 77.10},
		Vehicle: models.VehicleBike,
	}
}

func TestBookHappyPath(t *testing.T) {
	api := &fakeOrderAPI{}
	f := &Flow{
		Orders:   api,
		Resolver: stubResolver{route: models.Route{Polyline: []models.GeoPoint{{Lat: 1, Lng: 1}}, DistanceKm: 10}},
	}
	res, err := f.Book(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Quote.Price != 200 {
		t.Fatalf("expected price 200 for 10km bike, got %d", res.Quote.Price)
	}
	if api.created == nil || api.created.PaymentID != "pay_1" {
		t.Fatalf("order not created with payment reference: %+v", api.created)
	}
	if res.Order.ID != "o1" {
		t.Fatalf("unexpected order: %+v", res.Order)
	}
}

func TestBookUsesGatewayHoldWhenConfigured(t *testing.T) {
	api := &fakeOrderAPI{}
	gw := &fakeGateway{}
	f := &Flow{
		Orders:   api,
		Resolver: stubResolver{route: models.Route{Polyline: []models.GeoPoint{{Lat: 1, Lng: 1}}, DistanceKm: 5}},
		Gateway:  gw,
	}
	res, err := f.Book(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gw.opened != 1 || res.PaymentRef != "pi_test" {
		t.Fatalf("gateway hold not used: opened=%d ref=%s", gw.opened, res.PaymentRef)
	}
	if api.created.PaymentID != "pi_test" {
		t.Fatalf("order created with wrong payment ref: %s", api.created.PaymentID)
	}
}

func TestBookReleasesHoldWhenCreateFails(t *testing.T) {
	api := &fakeOrderAPI{createErr: errors.New("server down")}
	gw := &fakeGateway{}
	f := &Flow{
		Orders:   api,
		Resolver: stubResolver{route: models.Route{Polyline: []models.GeoPoint{{Lat: 1, Lng: 1}}, DistanceKm: 5}},
		Gateway:  gw,
	}
	if _, err := f.Book(context.Background(), validRequest()); err == nil {
		t.Fatal("expected error")
	}
	if gw.released != 1 {
		t.Fatalf("hold not released on failure: %d", gw.released)
	}
}

func TestQuoteForRejectsInvalidInput(t *testing.T) {
	f := &Flow{Orders: &fakeOrderAPI{}, Resolver: stubResolver{}}

	bad := validRequest()
	bad.Pickup.Lat = 200
	if _, _, err := f.QuoteFor(context.Background(), bad); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad coordinates, got %v", err)
	}

	badClass := validRequest()
	badClass.Vehicle = "rocket"
	if _, _, err := f.QuoteFor(context.Background(), badClass); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for unknown class, got %v", err)
	}
}

func TestQuoteForDegradesWithoutRoute(t *testing.T) {
	f := &Flow{Orders: &fakeOrderAPI{}, Resolver: stubResolver{err: routing.ErrRouteUnavailable}}
	q, route, err := f.QuoteFor(context.Background(), validRequest())
	if err != nil {
		t.Fatalf("route unavailability must not be fatal: %v", err)
	}
	if route != nil {
		t.Fatal("expected nil route")
	}
	if q.Price != 50 {
		t.Fatalf("expected minimum fare, got %d", q.Price)
	}
}
