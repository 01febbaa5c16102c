package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/delivery-tracking/internal/booking"
	"github.com/example/delivery-tracking/internal/geocode"
	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/orders"
	"github.com/example/delivery-tracking/internal/session"
)

type fakeSearcher struct{ results []geocode.Candidate }

func (f fakeSearcher) Search(ctx context.Context, q string) ([]geocode.Candidate, error) {
	if len(q) < geocode.MinQueryLen {
		return nil, nil
	}
	return f.results, nil
}

type stubResolver struct{ km float64 }

func (s stubResolver) ResolveRoute(ctx context.Context, a, b models.GeoPoint) (models.Route, error) {
	return models.Route{Polyline: []models.GeoPoint{a, b}, DistanceKm: s.km}, nil
}

type fakeOrderAPI struct{}

func (fakeOrderAPI) CreatePayment(ctx context.Context, amount int) (orders.PaymentSession, error) {
	return orders.PaymentSession{ID: "pay_1", Amount: amount}, nil
}

func (fakeOrderAPI) Create(ctx context.Context, req orders.CreateOrderRequest) (models.Order, error) {
	return models.Order{ID: "o1", Status: models.StatusPending, Amount: req.Amount}, nil
}

// fake streams backing injected sessions
type fakeStreams struct {
	orders    chan models.Order
	positions chan models.DriverPosition
}

func (f *fakeStreams) Start(ctx context.Context, orderID string) (<-chan models.Order, func()) {
	return f.orders, func() {}
}

func (f *fakeStreams) Subscribe(ctx context.Context, orderID string) (<-chan models.DriverPosition, func()) {
	return f.positions, func() {}
}

func testServer(t *testing.T) (*Server, *fakeStreams) {
	t.Helper()
	streams := &fakeStreams{
		orders:    make(chan models.Order, 4),
		positions: make(chan models.DriverPosition, 4),
	}
	flow := &booking.Flow{Orders: fakeOrderAPI{}, Resolver: stubResolver{km: 10}}
	factory := func(l session.Listener) *session.Session {
		return session.New(session.Config{
			Poller:     streams,
			Subscriber: streams,
			Resolver:   stubResolver{km: 10},
			Listener:   l,
		})
	}
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	srv := NewServerWith(logger, fakeSearcher{results: []geocode.Candidate{{DisplayName: "New Delhi"}}}, flow, factory, 5*time.Millisecond)
	t.Cleanup(func() { srv.Shutdown(context.Background()) })
	return srv, streams
}

// countingSearcher records how many searches actually reach upstream.
type countingSearcher struct {
	results []geocode.Candidate
	calls   atomic.Int32
}

func (f *countingSearcher) Search(ctx context.Context, q string) ([]geocode.Candidate, error) {
	f.calls.Add(1)
	return f.results, nil
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestGeocodeEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/geocode?q=delhi", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var got []geocode.Candidate
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].DisplayName != "New Delhi" {
		t.Fatalf("unexpected candidates: %+v", got)
	}
}

func TestGeocodeShortQueryIsEmptyList(t *testing.T) {
	srv, _ := testServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/geocode?q=ab", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Fatalf("expected empty array, got %q", body)
	}
}

func TestGeocodeWSDebouncesTyping(t *testing.T) {
	searcher := &countingSearcher{results: []geocode.Candidate{{DisplayName: "New Delhi"}}}
	flow := &booking.Flow{Orders: fakeOrderAPI{}, Resolver: stubResolver{km: 10}}
	factory := func(l session.Listener) *session.Session {
		return session.New(session.Config{Resolver: stubResolver{km: 10}, Listener: l})
	}
	logger := slog.New(slog.NewTextHandler(testWriter{t}, nil))
	srv := NewServerWith(logger, searcher, flow, factory, 30*time.Millisecond)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/geocode", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// rapid typing: only the settled query may reach the geocoder
	for _, q := range []string{"d", "de", "delhi"} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(q)); err != nil {
			t.Fatalf("write %q: %v", q, err)
		}
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var res geocodeWSResult
	if err := conn.ReadJSON(&res); err != nil {
		t.Fatalf("read: %v", err)
	}
	if res.Query != "delhi" || len(res.Results) != 1 || res.Results[0].DisplayName != "New Delhi" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if got := searcher.calls.Load(); got != 1 {
		t.Fatalf("expected one upstream search for a burst of typing, got %d", got)
	}
}

func TestQuoteEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	body := `{"pickup":{"lat":28.61,"lng":77.21},"drop":{"lat":28.7,"lng":77.1},"vehicle":"bike"}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/quote", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var got quoteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Quote.Price != 200 {
		t.Fatalf("expected 200 for 10km bike, got %d", got.Quote.Price)
	}
	if got.Route == nil {
		t.Fatal("route missing from quote")
	}
}

func TestQuoteEndpointRejectsUnknownVehicle(t *testing.T) {
	srv, _ := testServer(t)
	body := `{"pickup":{"lat":1,"lng":1},"drop":{"lat":2,"lng":2},"vehicle":"rocket"}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/quote", strings.NewReader(body)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestBookingEndpoint(t *testing.T) {
	srv, _ := testServer(t)
	body := `{"pickup":{"lat":28.61,"lng":77.21},"drop":{"lat":28.7,"lng":77.1},"vehicle":"truck"}`
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/bookings", strings.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var got booking.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Order.ID != "o1" || got.PaymentRef != "pay_1" {
		t.Fatalf("unexpected result: %+v", got)
	}
}

func TestTrackingLifecycle(t *testing.T) {
	srv, streams := testServer(t)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/track/order-1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("start: status %d", rec.Code)
	}

	streams.orders <- models.Order{ID: "order-1", Status: models.StatusAccepted}

	// snapshot lands asynchronously on the merge loop
	deadline := time.Now().Add(time.Second)
	for {
		rec = httptest.NewRecorder()
		srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/track/order-1/state", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("state: status %d", rec.Code)
		}
		var st models.TrackingViewState
		if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if st.Order != nil && st.Order.Status == models.StatusAccepted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("snapshot never reflected in state endpoint")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/v1/track/order-1", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("stop: status %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/track/order-1/state", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after stop, got %d", rec.Code)
	}
}

func TestStopUnknownOrderIs404(t *testing.T) {
	srv, _ := testServer(t)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest("DELETE", "/api/v1/track/none", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
