package session

import (
	"context"

	"github.com/example/delivery-tracking/internal/livetrack"
	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/poller"
)

// PollerSource adapts the concrete poller to the Session's Poller interface.
func PollerSource(p *poller.Poller) Poller {
	return pollerSource{p}
}

type pollerSource struct{ p *poller.Poller }

func (ps pollerSource) Start(ctx context.Context, orderID string) (<-chan models.Order, func()) {
	sub := ps.p.Start(ctx, orderID)
	return sub.C, sub.Stop
}

// LiveSource adapts the websocket subscriber to the Session's Subscriber
// interface.
func LiveSource(s *livetrack.Subscriber) Subscriber {
	return liveSource{s}
}

type liveSource struct{ s *livetrack.Subscriber }

func (ls liveSource) Subscribe(ctx context.Context, orderID string) (<-chan models.DriverPosition, func()) {
	st := ls.s.Subscribe(ctx, orderID)
	return st.C, st.Dispose
}
