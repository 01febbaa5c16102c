package geocode

import (
	"context"
	"sync"
	"time"
)

// Searcher is what the debouncer schedules against.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Candidate, error)
}

// Debouncer coalesces search-as-you-type input: each Input call schedules a
// delayed search and cancels any pending one, so at most one task is ever in
// flight per field. Results are delivered through the callback in schedule
// order; a superseded search never reports.
type Debouncer struct {
	search  Searcher
	window  time.Duration
	deliver func(query string, results []Candidate, err error)

	mu      sync.Mutex
	pending *time.Timer
	gen     uint64
}

func NewDebouncer(s Searcher, window time.Duration, deliver func(string, []Candidate, error)) *Debouncer {
	if window <= 0 {
		window = time.Second
	}
	return &Debouncer{search: s, window: window, deliver: deliver}
}

// Input registers a keystroke's worth of query text. The search fires only
// after the window elapses with no further input.
func (d *Debouncer) Input(ctx context.Context, query string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending != nil {
		d.pending.Stop()
	}
	d.gen++
	g := d.gen

	d.pending = time.AfterFunc(d.window, func() {
		d.mu.Lock()
		current := d.gen == g
		d.mu.Unlock()
		if !current || ctx.Err() != nil {
			return
		}
		results, err := d.search.Search(ctx, query)
		d.mu.Lock()
		current = d.gen == g
		d.mu.Unlock()
		if !current {
			return
		}
		d.deliver(query, results, err)
	})
}

// Cancel drops any pending search without firing it.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
	d.gen++
}
