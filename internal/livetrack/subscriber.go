package livetrack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/observability"
)

// ErrChannelDropped marks a transport-level disconnect. It is absorbed inside
// the subscriber: the reconnect loop re-joins the same room and future pushes
// resume, so consumers never see it as fatal. Stream.Err exposes the last
// drop, wrapped in this sentinel, for logs and diagnostics.
var ErrChannelDropped = errors.New("tracking channel dropped")

// State is the subscriber's connection lifecycle.
type State int32

const (
	Disconnected State = iota
	Connecting
	Joined
	Receiving
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Joined:
		return "joined"
	case Receiving:
		return "receiving"
	default:
		return "disconnected"
	}
}

// Conn is the slice of a websocket connection the subscriber uses; the
// gorilla *websocket.Conn satisfies it, and tests supply scripted fakes.
type Conn interface {
	WriteJSON(v any) error
	ReadJSON(v any) error
	Close() error
}

// DialFunc opens a transport connection to the tracking endpoint.
type DialFunc func(ctx context.Context, url string) (Conn, error)

func gorillaDial(ctx context.Context, url string) (Conn, error) {
	c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// envelope is the wire format of tracking-channel frames.
type envelope struct {
	Event   string `json:"event"`
	OrderID string `json:"order_id"`
	Data    struct {
		Lat float64 `json:"lat"`
		Lng float64 `json:"lng"`
	} `json:"data"`
}

const (
	eventJoinRoom       = "join_order_room"
	eventDriverLocation = "driver_location_sent"
)

// Subscriber maintains a persistent channel to the live-tracking endpoint,
// scoped to one order's room per subscription.
type Subscriber struct {
	URL  string
	Dial DialFunc
	Log  *slog.Logger

	// reconnect backoff bounds; zero values take the defaults below
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func New(url string, log *slog.Logger) *Subscriber {
	if log == nil {
		log = slog.Default()
	}
	return &Subscriber{URL: url, Dial: gorillaDial, Log: log}
}

// Stream is one order's position feed. C closes once the stream is disposed
// and no further delivery can occur.
type Stream struct {
	C <-chan models.DriverPosition

	state  atomic.Int32
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}

	mu      sync.Mutex
	conn    Conn
	lastErr error
}

// Err returns the most recent transport failure, wrapped in
// ErrChannelDropped, or nil if the channel has never dropped.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Stream) setErr(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

// State reports the current connection lifecycle phase.
func (s *Stream) State() State { return State(s.state.Load()) }

// Dispose tears the transport down deterministically. Safe to call more than
// once; returns after the receive loop has exited.
func (s *Stream) Dispose() {
	s.once.Do(func() {
		s.cancel()
		s.mu.Lock()
		if s.conn != nil {
			_ = s.conn.Close()
		}
		s.mu.Unlock()
	})
	<-s.done
}

func (s *Stream) setConn(c Conn) {
	s.mu.Lock()
	s.conn = c
	s.mu.Unlock()
}

// Subscribe joins orderID's event room and streams its driver positions.
// A dropped transport reconnects automatically and transparently re-joins
// the same room; pushes for other orders are discarded.
func (s *Subscriber) Subscribe(ctx context.Context, orderID string) *Stream {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan models.DriverPosition)
	st := &Stream{C: out, cancel: cancel, done: make(chan struct{})}

	minB, maxB := s.MinBackoff, s.MaxBackoff
	if minB <= 0 {
		minB = time.Second
	}
	if maxB <= 0 {
		maxB = 30 * time.Second
	}

	go func() {
		defer close(st.done)
		defer close(out)
		defer st.state.Store(int32(Disconnected))

		backoff := minB
		for ctx.Err() == nil {
			st.state.Store(int32(Connecting))
			conn, err := s.Dial(ctx, s.URL)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				st.setErr(fmt.Errorf("%w: dial: %v", ErrChannelDropped, err))
				observability.ChannelReconnects.Inc()
				s.Log.Warn("tracking channel dial failed", "order_id", orderID, "error", err, "retry_in", backoff)
				if !sleep(ctx, backoff) {
					return
				}
				backoff = nextBackoff(backoff, maxB)
				continue
			}
			st.setConn(conn)

			if err := conn.WriteJSON(envelope{Event: eventJoinRoom, OrderID: orderID}); err != nil {
				_ = conn.Close()
				st.setConn(nil)
				st.setErr(fmt.Errorf("%w: join: %v", ErrChannelDropped, err))
				if !sleep(ctx, backoff) {
					return
				}
				backoff = nextBackoff(backoff, maxB)
				continue
			}
			st.state.Store(int32(Joined))
			backoff = minB

			readErr := s.receive(ctx, st, conn, orderID, out)
			st.setConn(nil)
			if ctx.Err() != nil {
				return
			}
			dropped := fmt.Errorf("%w: %v", ErrChannelDropped, readErr)
			st.setErr(dropped)
			observability.ChannelReconnects.Inc()
			s.Log.Info("tracking channel dropped, reconnecting", "order_id", orderID, "error", dropped)
			if !sleep(ctx, backoff) {
				return
			}
			backoff = nextBackoff(backoff, maxB)
		}
	}()

	return st
}

// receive pumps frames until the connection drops or the context ends, and
// returns the error that ended the pump.
func (s *Subscriber) receive(ctx context.Context, st *Stream, conn Conn, orderID string, out chan<- models.DriverPosition) error {
	defer conn.Close()
	for {
		var ev envelope
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		if ev.Event != eventDriverLocation {
			continue
		}
		// room-scoped isolation: never deliver another order's pushes
		if ev.OrderID != "" && ev.OrderID != orderID {
			continue
		}
		st.state.Store(int32(Receiving))
		observability.PositionsReceived.Inc()
		pos := models.DriverPosition{Lat: ev.Data.Lat, Lng: ev.Data.Lng, ReceivedAt: time.Now()}
		select {
		case out <- pos:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func nextBackoff(cur, max time.Duration) time.Duration {
	cur *= 2
	if cur > max {
		cur = max
	}
	return cur
}
