package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/observability"
	"github.com/example/delivery-tracking/internal/routing"
)

// Poller starts an order snapshot stream; the returned func cancels it.
// The channel must close once cancelled.
type Poller interface {
	Start(ctx context.Context, orderID string) (<-chan models.Order, func())
}

// Subscriber starts a driver-position stream; the returned func disposes it.
type Subscriber interface {
	Subscribe(ctx context.Context, orderID string) (<-chan models.DriverPosition, func())
}

// Listener receives every TrackingViewState change, in merge order, from a
// single goroutine. The rendering layer sits behind this.
type Listener func(models.TrackingViewState)

// Session composes the poller, the live subscriber and the route resolver
// into one consistent view of a tracked order. All merging happens on one
// goroutine, so the three streams can never tear the state: a snapshot
// replaces the order, a push replaces the driver position, a resolved route
// replaces the route, and nothing else touches anything.
type Session struct {
	orderID  string
	poll     Poller
	live     Subscriber
	resolver routing.Resolver
	log      *slog.Logger
	listener Listener

	mu    sync.RWMutex
	state models.TrackingViewState

	cancel   context.CancelFunc
	done     chan struct{}
	started  bool
	disposed bool
}

type Config struct {
	Poller     Poller
	Subscriber Subscriber
	Resolver   routing.Resolver
	Log        *slog.Logger
	Listener   Listener
}

func New(cfg Config) *Session {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Session{
		poll:     cfg.Poller,
		live:     cfg.Subscriber,
		resolver: cfg.Resolver,
		log:      log,
		listener: cfg.Listener,
		done:     make(chan struct{}),
	}
}

// State returns the last merged view. Valid at any time, including after the
// session reached a terminal order status.
func (s *Session) State() models.TrackingViewState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// OrderID returns the tracked order, empty before Start.
func (s *Session) OrderID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orderID
}

// Done closes when the merge loop has exited, either through Dispose or a
// terminal order status.
func (s *Session) Done() <-chan struct{} { return s.done }

// Start begins tracking orderID. It is a single-shot operation.
func (s *Session) Start(ctx context.Context, orderID string) error {
	if orderID == "" {
		return errors.New("empty order id")
	}
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		cancel()
		return errors.New("session disposed")
	}
	if s.started {
		s.mu.Unlock()
		cancel()
		return errors.New("session already started")
	}
	s.started = true
	s.orderID = orderID
	s.cancel = cancel
	s.mu.Unlock()

	snapshots, stopPoll := s.poll.Start(ctx, orderID)
	positions, stopLive := s.live.Subscribe(ctx, orderID)

	observability.ActiveSessions.Inc()
	go s.run(ctx, cancel, snapshots, positions, stopPoll, stopLive)
	return nil
}

// Dispose cancels polling and the live channel and waits for the merge loop
// to exit. Idempotent, and safe to race with Start: whichever order they land
// in, the session ends up torn down. The last state stays readable.
func (s *Session) Dispose() {
	s.mu.Lock()
	s.disposed = true
	cancel, started := s.cancel, s.started
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if started {
		<-s.done
	}
}

type routeResult struct {
	gen   uint64
	route models.Route
	err   error
}

func (s *Session) run(ctx context.Context, cancel context.CancelFunc, snapshots <-chan models.Order, positions <-chan models.DriverPosition, stopPoll, stopLive func()) {
	defer close(s.done)
	defer observability.ActiveSessions.Dec()

	// teardown must cover both producers; a half-cancelled session is a leak
	teardown := func() {
		cancel()
		stopPoll()
		stopLive()
	}
	defer teardown()

	// routedPair is the pickup/drop pair behind the current (or in-flight)
	// resolution; gen guards against a superseded resolution installing a
	// stale route after the pair changed again.
	var routedPair *[2]models.GeoPoint
	var gen uint64
	results := make(chan routeResult, 1)

	for {
		select {
		case <-ctx.Done():
			return

		case o, ok := <-snapshots:
			if !ok {
				snapshots = nil
				continue
			}
			s.applyOrder(ctx, o, &routedPair, &gen, results)
			if o.Status.Terminal() {
				s.log.Info("order reached terminal status, stopping tracking",
					"order_id", s.orderID, "status", o.Status)
				return
			}

		case p, ok := <-positions:
			if !ok {
				positions = nil
				continue
			}
			s.update(func(st *models.TrackingViewState) { st.DriverPosition = &p })

		case r := <-results:
			if r.gen != gen {
				continue // superseded by a newer pickup/drop pair
			}
			if r.err != nil {
				observability.RouteFailures.Inc()
				s.log.Warn("route unavailable", "order_id", s.orderID, "error", r.err)
				// markers-only is a valid display state; retry on the next
				// pair change
				routedPair = nil
				continue
			}
			observability.RouteResolutions.Inc()
			route := r.route
			s.update(func(st *models.TrackingViewState) { st.Route = &route })
		}
	}
}

// applyOrder installs a fresh snapshot and, when the pickup/drop pair is
// complete and differs from the pair behind the current route, kicks off a
// resolution for the new pair.
func (s *Session) applyOrder(ctx context.Context, o models.Order, routedPair **[2]models.GeoPoint, gen *uint64, results chan<- routeResult) {
	s.update(func(st *models.TrackingViewState) { st.Order = &o })

	// a zero point means the service has not set that location yet; routing
	// before both ends exist would draw a path to nowhere
	if o.PickupLocation.IsZero() || o.DropLocation.IsZero() {
		return
	}
	if !o.PickupLocation.Valid() || !o.DropLocation.Valid() {
		return
	}
	pair := [2]models.GeoPoint{o.PickupLocation, o.DropLocation}
	if *routedPair != nil && (*routedPair)[0].SamePlace(pair[0]) && (*routedPair)[1].SamePlace(pair[1]) {
		return
	}
	*routedPair = &pair
	*gen++
	g := *gen

	go func() {
		route, err := s.resolver.ResolveRoute(ctx, pair[0], pair[1])
		select {
		case results <- routeResult{gen: g, route: route, err: err}:
		case <-ctx.Done():
		}
	}()
}

// update is the sole mutation point for the view state. It runs on the merge
// goroutine only, publishes under the lock for concurrent readers, and then
// notifies the listener.
func (s *Session) update(mutate func(*models.TrackingViewState)) {
	s.mu.Lock()
	mutate(&s.state)
	snapshot := s.state
	s.mu.Unlock()
	if s.listener != nil {
		s.listener(snapshot)
	}
}
