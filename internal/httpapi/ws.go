package httpapi

import (
	"context"
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"

	"github.com/example/delivery-tracking/internal/config"
	"github.com/example/delivery-tracking/internal/geocode"
	"github.com/example/delivery-tracking/internal/models"
)

var upgrader = websocket.Upgrader{
	// renderers are browser clients on other origins; auth happens upstream
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClient is one attached renderer connection. Writes are serialized per
// connection.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsClient) send(st models.TrackingViewState) error {
	return c.sendJSON(st)
}

func (c *wsClient) sendJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.Close()
}

// handleTrackWS attaches a renderer to an order's state feed. Attaching
// starts the session when none is running; the initial state is pushed
// immediately so the map renders without waiting for the next change.
func (s *Server) handleTrackWS(w http.ResponseWriter, r *http.Request) {
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
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := &wsClient{conn: conn}

	to.mu.Lock()
	to.clients[client] = struct{}{}
	to.mu.Unlock()

	if err := client.send(s.stateFor(r.Context(), orderID, to)); err != nil {
		s.detachClient(to, client)
		return
	}

	// reads are only used to detect the renderer going away
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				s.detachClient(to, client)
				return
			}
		}
	}()
}

// geocodeWSResult is pushed back for each settled search-as-you-type query.
type geocodeWSResult struct {
	Query   string              `json:"query"`
	Results []geocode.Candidate `json:"results"`
	Error   string              `json:"error,omitempty"`
}

// handleGeocodeWS is the search-as-you-type surface. Each text frame is one
// keystroke's worth of query; searches fire only after the debounce window
// passes with no further typing, so rapid input costs one upstream request.
func (s *Server) handleGeocodeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := &wsClient{conn: conn}
	defer client.close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := geocode.NewDebouncer(s.geocoder, s.debounce, func(q string, results []geocode.Candidate, err error) {
		if err != nil {
			_ = client.sendJSON(geocodeWSResult{Query: q, Results: []geocode.Candidate{}, Error: "search unavailable"})
			return
		}
		if results == nil {
			results = []geocode.Candidate{}
		}
		_ = client.sendJSON(geocodeWSResult{Query: q, Results: results})
	})
	defer d.Cancel()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		d.Input(ctx, strings.TrimSpace(string(msg)))
	}
}

func (s *Server) detachClient(to *trackedOrder, c *wsClient) {
	to.mu.Lock()
	_, present := to.clients[c]
	delete(to.clients, c)
	to.mu.Unlock()
	if present {
		c.close()
	}
}

func (to *trackedOrder) closeClients() {
	to.mu.Lock()
	clients := make([]*wsClient, 0, len(to.clients))
	for c := range to.clients {
		clients = append(clients, c)
	}
	to.clients = make(map[*wsClient]struct{})
	to.mu.Unlock()
	for _, c := range clients {
		c.close()
	}
}

func routingRedis(cfg config.GatewayConfig) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
}

func hasStripeKey() bool { return os.Getenv("STRIPE_API_KEY") != "" }
