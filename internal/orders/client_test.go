package orders

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/example/delivery-tracking/internal/models"
)

func TestGetSendsBearerToken(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"_id":"o1","status":"pending","pickupLocation":{"lat":1,"lng":2},"dropLocation":{"lat":3,"lng":4},"amount":200}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, StaticToken("secret"))
	o, err := c.Get(context.Background(), "o1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer secret" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
	if o.ID != "o1" || o.Status != models.StatusPending {
		t.Fatalf("unexpected order: %+v", o)
	}
}

// The order service returns camelCase mongo documents with the plate nested
// under partner.vehicle; every field has to land in the right place.
func TestGetDecodesServiceDocument(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{
			"_id": "64f1a2b3c4d5e6f7a8b9c0d1",
			"status": "in_transit",
			"pickupLocation": {"lat": 28.6139, "lng": 77.209, "address": "Connaught Place"},
			"dropLocation": {"lat": 28.5355, "lng": 77.391},
			"amount": 425,
			"vehicleType": "truck",
			"partner": {"name": "Ravi", "phone": "9990001111", "vehicle": {"plateNumber": "DL1AB1234"}}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	o, err := c.Get(context.Background(), "64f1a2b3c4d5e6f7a8b9c0d1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if o.ID != "64f1a2b3c4d5e6f7a8b9c0d1" || o.Status != models.StatusInTransit {
		t.Fatalf("unexpected order: %+v", o)
	}
	if o.PickupLocation.Lat != 28.6139 || o.PickupLocation.Lng != 77.209 || o.PickupLocation.Address != "Connaught Place" {
		t.Fatalf("pickup decoded wrong: %+v", o.PickupLocation)
	}
	if o.DropLocation.Lat != 28.5355 || o.DropLocation.Lng != 77.391 {
		t.Fatalf("drop decoded wrong: %+v", o.DropLocation)
	}
	if o.Amount != 425 || o.VehicleClass != models.VehicleTruck {
		t.Fatalf("unexpected amount/vehicle: %+v", o)
	}
	if o.Partner == nil || o.Partner.Name != "Ravi" || o.Partner.VehiclePlate != "DL1AB1234" {
		t.Fatalf("partner decoded wrong: %+v", o.Partner)
	}
}

// Until dispatch fills them in, pickup and drop are simply absent from the
// document; they must come back as the zero point, not a coordinate.
func TestGetWithoutLocationsLeavesThemUnset(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"_id":"o2","status":"pending","amount":100}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	o, err := c.Get(context.Background(), "o2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !o.PickupLocation.IsZero() || !o.DropLocation.IsZero() {
		t.Fatalf("expected unset locations, got pickup=%+v drop=%+v", o.PickupLocation, o.DropLocation)
	}
	if o.Partner != nil {
		t.Fatalf("expected no partner, got %+v", o.Partner)
	}
}

func TestGetNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	if _, err := c.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	if _, err := c.Get(context.Background(), "o1"); !errors.Is(err, ErrOrderFetchFailed) {
		t.Fatalf("expected ErrOrderFetchFailed, got %v", err)
	}
}

func TestCreatePayment(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/orders/create-payment" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"order":{"id":"pay_123","amount":250}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	ps, err := c.CreatePayment(context.Background(), 250)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ps.ID != "pay_123" || ps.Amount != 250 {
		t.Fatalf("unexpected session: %+v", ps)
	}
}

func TestCreateOrderRejectedWithoutSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)
	_, err := c.Create(context.Background(), CreateOrderRequest{Amount: 100, VehicleType: models.VehicleBike})
	if err == nil {
		t.Fatal("expected error for unsuccessful create")
	}
}
