package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/observability"
	"github.com/example/delivery-tracking/internal/orders"
)

// Fetcher is the slice of the order client the poller needs.
type Fetcher interface {
	Get(ctx context.Context, orderID string) (models.Order, error)
}

// Poller periodically refreshes one order's snapshot from the remote
// resource. Fetches run sequentially on a single goroutine, so a tick firing
// while the previous fetch is still outstanding is skipped rather than
// stacking concurrent requests.
type Poller struct {
	Fetch    Fetcher
	Interval time.Duration
	Log      *slog.Logger
}

func New(f Fetcher, interval time.Duration, log *slog.Logger) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Poller{Fetch: f, Interval: interval, Log: log}
}

// Subscription is a running poll loop. Updates arrives on C, which is closed
// after Stop (or context cancellation) once no further emissions can occur.
type Subscription struct {
	C <-chan models.Order

	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// Stop cancels the loop and releases the ticker. Idempotent; returns after
// the loop has exited, so no emission can follow it.
func (s *Subscription) Stop() {
	s.once.Do(s.cancel)
	<-s.done
}

// maxBackoffFactor caps how far consecutive fetch failures stretch the
// effective interval.
const maxBackoffFactor = 8

// Start begins polling orderID: one immediate fetch, then one per interval.
// Transient failures are logged and swallowed; the previous snapshot stays
// valid and the loop keeps going, stretching the effective interval while
// the outage lasts.
func (p *Poller) Start(ctx context.Context, orderID string) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	out := make(chan models.Order)
	sub := &Subscription{C: out, cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		defer close(out)

		ticker := time.NewTicker(p.Interval)
		defer ticker.Stop()

		failures := 0
		nextAllowed := time.Now()

		fetch := func() {
			if time.Now().Before(nextAllowed) {
				return
			}
			o, err := p.Fetch.Get(ctx, orderID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				observability.PollFailures.Inc()
				if failures < 10 {
					failures++
				}
				factor := 1 << failures
				if factor > maxBackoffFactor {
					factor = maxBackoffFactor
				}
				nextAllowed = time.Now().Add(time.Duration(factor-1) * p.Interval)
				p.Log.Warn("order fetch failed",
					"order_id", orderID,
					"error", err,
					"consecutive_failures", failures)
				if errors.Is(err, orders.ErrNotFound) {
					// the resource is gone; keep the last snapshot but stop hammering
					p.Log.Error("order no longer exists, stopping poll", "order_id", orderID)
					cancel()
				}
				return
			}
			failures = 0
			nextAllowed = time.Now()
			observability.PollsTotal.Inc()
			select {
			case out <- o:
			case <-ctx.Done():
			}
		}

		// a tick that fired while a fetch was in flight is skipped outright,
		// not replayed the instant the fetch returns
		skipBufferedTick := func() {
			select {
			case <-ticker.C:
			default:
			}
		}

		fetch()
		skipBufferedTick()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fetch()
				skipBufferedTick()
			}
		}
	}()

	return sub
}
