package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/delivery-tracking/internal/booking"
	"github.com/example/delivery-tracking/internal/config"
	"github.com/example/delivery-tracking/internal/fare"
	"github.com/example/delivery-tracking/internal/geocode"
	"github.com/example/delivery-tracking/internal/ingest"
	"github.com/example/delivery-tracking/internal/livetrack"
	"github.com/example/delivery-tracking/internal/logging"
	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/orders"
	"github.com/example/delivery-tracking/internal/payments"
	"github.com/example/delivery-tracking/internal/poller"
	"github.com/example/delivery-tracking/internal/poscache"
	"github.com/example/delivery-tracking/internal/routing"
	"github.com/example/delivery-tracking/internal/session"
)

// SessionFactory builds a tracking session wired to the given listener.
// Injected so handler tests can run sessions over scripted streams.
type SessionFactory func(listener session.Listener) *session.Session

// PositionSink receives every fresh driver position (kafka fan-out).
type PositionSink interface {
	Publish(orderID string, pos models.DriverPosition) error
}

// PositionCache stores/loads last known positions (redis).
type PositionCache interface {
	Store(ctx context.Context, orderID string, pos models.DriverPosition)
	Load(ctx context.Context, orderID string) (models.DriverPosition, bool)
}

// Server is the tracking gateway's HTTP surface.
type Server struct {
	logger     *slog.Logger
	geocoder   geocode.Searcher
	flow       *booking.Flow
	newSession SessionFactory
	sink       PositionSink  // optional
	positions  PositionCache // optional
	debounce   time.Duration // search-as-you-type window on /ws/geocode
	mux        *mux.Router

	mu      sync.Mutex
	tracked map[string]*trackedOrder
}

// trackedOrder pairs a running session with the renderer connections
// attached to it.
type trackedOrder struct {
	sess *session.Session

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	lastPos *models.DriverPosition
}

// NewServer wires the gateway from config: real order client, OSRM resolver
// with caches, websocket subscriber, optional kafka/redis/stripe extras.
func NewServer(cfg config.GatewayConfig, logger *slog.Logger, tokens orders.TokenProvider) *Server {
	orderClient := orders.NewClient(cfg.OrderAPIURL, tokens)

	var rc = routingRedis(cfg)
	var resolver routing.Resolver = routing.NewCachingResolver(
		routing.NewOSRMResolver(cfg.OSRMURL, cfg.RouteTimeout), cfg.RouteCacheTTL, rc)

	p := poller.New(orderClient, cfg.PollInterval, logging.ForComponent(logger, "poller"))
	sub := livetrack.New(cfg.TrackWSURL, logging.ForComponent(logger, "livetrack"))

	var gw payments.Gateway
	if hasStripeKey() {
		gw = payments.NewStripeGateway()
	}
	flow := &booking.Flow{
		Orders:   orderClient,
		Resolver: resolver,
		Gateway:  gw,
		Log:      logging.ForComponent(logger, "booking"),
	}

	var sink PositionSink
	if len(cfg.KafkaBrokers) > 0 {
		sink = ingest.NewPositionPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
	}
	var positions PositionCache
	if cfg.RedisAddr != "" {
		positions = poscache.New(cfg.RedisAddr, cfg.RedisPassword)
	}

	factory := func(listener session.Listener) *session.Session {
		return session.New(session.Config{
			Poller:     session.PollerSource(p),
			Subscriber: session.LiveSource(sub),
			Resolver:   resolver,
			Log:        logging.ForComponent(logger, "session"),
			Listener:   listener,
		})
	}

	s := &Server{
		logger:     logger,
		geocoder:   geocode.NewClient(cfg.NominatimURL, cfg.GeocodeLimit),
		flow:       flow,
		newSession: factory,
		sink:       sink,
		positions:  positions,
		debounce:   cfg.DebounceWindow,
		mux:        mux.NewRouter(),
		tracked:    make(map[string]*trackedOrder),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

// NewServerWith assembles a server from pre-built collaborators (tests).
func NewServerWith(logger *slog.Logger, geocoder geocode.Searcher, flow *booking.Flow, factory SessionFactory, debounce time.Duration) *Server {
	s := &Server{
		logger:     logger,
		geocoder:   geocoder,
		flow:       flow,
		newSession: factory,
		debounce:   debounce,
		mux:        mux.NewRouter(),
		tracked:    make(map[string]*trackedOrder),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/track/{order_id}", s.handleStartTracking).Methods("POST")
	s.mux.HandleFunc("/api/v1/track/{order_id}", s.handleStopTracking).Methods("DELETE")
	s.mux.HandleFunc("/api/v1/track/{order_id}/state", s.handleTrackingState).Methods("GET")
	s.mux.HandleFunc("/ws/track/{order_id}", s.handleTrackWS)
	s.mux.HandleFunc("/api/v1/geocode", s.handleGeocode).Methods("GET")
	s.mux.HandleFunc("/ws/geocode", s.handleGeocodeWS)
	s.mux.HandleFunc("/api/v1/quote", s.handleQuote).Methods("POST")
	s.mux.HandleFunc("/api/v1/bookings", s.handleBooking).Methods("POST")
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// Shutdown disposes every live session; partial teardown is a defect, so
// this waits for each one.
func (s *Server) Shutdown(ctx context.Context) {
	s.mu.Lock()
	tracked := make([]*trackedOrder, 0, len(s.tracked))
	for _, to := range s.tracked {
		tracked = append(tracked, to)
	}
	s.tracked = make(map[string]*trackedOrder)
	s.mu.Unlock()
	for _, to := range tracked {
		to.sess.Dispose()
		to.closeClients()
	}
}

// ensureTracked returns the session for orderID, starting one if needed.
func (s *Server) ensureTracked(ctx context.Context, orderID string) (*trackedOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if to, ok := s.tracked[orderID]; ok {
		return to, nil
	}
	to := &trackedOrder{clients: make(map[*wsClient]struct{})}
	to.sess = s.newSession(func(st models.TrackingViewState) { s.onStateChange(orderID, to, st) })
	// session lifetime is bound to the gateway process, not the request
	if err := to.sess.Start(context.Background(), orderID); err != nil {
		return nil, err
	}
	s.tracked[orderID] = to
	go func() {
		<-to.sess.Done()
		s.mu.Lock()
		if s.tracked[orderID] == to {
			delete(s.tracked, orderID)
		}
		s.mu.Unlock()
		to.closeClients()
	}()
	return to, nil
}

// onStateChange fans a merged state out to attached renderers, the position
// cache and the kafka sink. Runs on the session's merge goroutine.
func (s *Server) onStateChange(orderID string, to *trackedOrder, st models.TrackingViewState) {
	var fresh *models.DriverPosition
	to.mu.Lock()
	if st.DriverPosition != nil && st.DriverPosition != to.lastPos {
		to.lastPos = st.DriverPosition
		fresh = st.DriverPosition
	}
	clients := make([]*wsClient, 0, len(to.clients))
	for c := range to.clients {
		clients = append(clients, c)
	}
	to.mu.Unlock()

	for _, c := range clients {
		if err := c.send(st); err != nil {
			s.detachClient(to, c)
		}
	}
	if fresh != nil {
		if s.positions != nil {
			s.positions.Store(context.Background(), orderID, *fresh)
		}
		if s.sink != nil {
			if err := s.sink.Publish(orderID, *fresh); err != nil {
				s.logger.Warn("position fan-out failed", "order_id", orderID, "error", err)
			}
		}
	}
}

// stateFor fills a missing driver position from the cache so late joiners
// render the marker immediately.
func (s *Server) stateFor(ctx context.Context, orderID string, to *trackedOrder) models.TrackingViewState {
	st := to.sess.State()
	if st.DriverPosition == nil && s.positions != nil {
		if pos, ok := s.positions.Load(ctx, orderID); ok {
			st.DriverPosition = &pos
		}
	}
	return st
}

func (s *Server) handleStartTracking(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]
	if orderID == "" {
		http.Error(w, "missing order id", http.StatusBadRequest)
		return
	}
	to, err := s.ensureTracked(r.Context(), orderID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, s.stateFor(r.Context(), orderID, to))
}

func (s *Server) handleStopTracking(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]
	s.mu.Lock()
	to, ok := s.tracked[orderID]
	delete(s.tracked, orderID)
	s.mu.Unlock()
	if !ok {
		http.Error(w, "order not tracked", http.StatusNotFound)
		return
	}
	to.sess.Dispose()
	to.closeClients()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTrackingState(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["order_id"]
	s.mu.Lock()
	to, ok := s.tracked[orderID]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "order not tracked", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.stateFor(r.Context(), orderID, to))
}

func (s *Server) handleGeocode(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	results, err := s.geocoder.Search(r.Context(), q)
	if err != nil {
		http.Error(w, "search unavailable", http.StatusBadGateway)
		return
	}
	if results == nil {
		results = []geocode.Candidate{}
	}
	writeJSON(w, http.StatusOK, results)
}

type quoteRequest struct {
	Pickup  models.GeoPoint `json:"pickup"`
	Drop    models.GeoPoint `json:"drop"`
	Vehicle string          `json:"vehicle"`
}

type quoteResponse struct {
	Quote models.FareQuote `json:"quote"`
	Route *models.Route    `json:"route,omitempty"`
}

func (s *Server) decodeQuoteRequest(r *http.Request) (booking.Request, error) {
	var q quoteRequest
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		return booking.Request{}, err
	}
	class, err := fare.ParseVehicleClass(q.Vehicle)
	if err != nil {
		return booking.Request{}, err
	}
	return booking.Request{Pickup: q.Pickup, Drop: q.Drop, Vehicle: class}, nil
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeQuoteRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	quote, route, err := s.flow.QuoteFor(r.Context(), req)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, booking.ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{Quote: quote, Route: route})
}

func (s *Server) handleBooking(w http.ResponseWriter, r *http.Request) {
	req, err := s.decodeQuoteRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	res, err := s.flow.Book(r.Context(), req)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, booking.ErrInvalidInput) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
