package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/example/delivery-tracking/internal/models"
)

// ErrOrderFetchFailed is transient: the poller logs it and keeps the last
// known snapshot. Only ErrNotFound is surfaced to collaborators as fatal.
var (
	ErrOrderFetchFailed = errors.New("order fetch failed")
	ErrNotFound         = errors.New("order not found")
)

// TokenProvider supplies the bearer credential for outgoing requests.
// Injected so the client never reads ambient global state; a nil token means
// the request goes out unauthenticated.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is the trivial TokenProvider for CLIs and tests.
type StaticToken string

func (s StaticToken) Token(ctx context.Context) (string, error) { return string(s), nil }

// Client talks to the remote order resource API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Tokens  TokenProvider
}

func NewClient(baseURL string, tokens TokenProvider) *Client {
	return &Client{BaseURL: baseURL, HTTP: &http.Client{Timeout: 10 * time.Second}, Tokens: tokens}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.Tokens != nil {
		tok, err := c.Tokens.Token(ctx)
		if err != nil {
			return fmt.Errorf("token: %w", err)
		}
		if tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrOrderFetchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: status %d", ErrOrderFetchFailed, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", ErrOrderFetchFailed, err)
	}
	return nil
}

// The order service speaks camelCase mongo-style documents; these wire types
// mirror that shape exactly, including the nested vehicle plate. Absent
// pickup/drop stay the zero GeoPoint, which downstream treats as "not set".
type pointWire struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

type partnerWire struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Vehicle *struct {
		PlateNumber string `json:"plateNumber"`
	} `json:"vehicle"`
}

type orderWire struct {
	ID          string       `json:"id"`
	MongoID     string       `json:"_id"`
	Status      string       `json:"status"`
	Pickup      *pointWire   `json:"pickupLocation"`
	Drop        *pointWire   `json:"dropLocation"`
	Amount      int          `json:"amount"`
	VehicleType string       `json:"vehicleType"`
	Partner     *partnerWire `json:"partner"`
}

func (w orderWire) toOrder() models.Order {
	o := models.Order{
		ID:           w.ID,
		Status:       models.OrderStatus(w.Status),
		Amount:       w.Amount,
		VehicleClass: models.VehicleClass(w.VehicleType),
	}
	if o.ID == "" {
		o.ID = w.MongoID
	}
	if w.Pickup != nil {
		o.PickupLocation = models.GeoPoint{Lat: w.Pickup.Lat, Lng: w.Pickup.Lng, Address: w.Pickup.Address}
	}
	if w.Drop != nil {
		o.DropLocation = models.GeoPoint{Lat: w.Drop.Lat, Lng: w.Drop.Lng, Address: w.Drop.Address}
	}
	if w.Partner != nil {
		p := &models.PartnerInfo{Name: w.Partner.Name, Phone: w.Partner.Phone}
		if w.Partner.Vehicle != nil {
			p.VehiclePlate = w.Partner.Vehicle.PlateNumber
		}
		o.Partner = p
	}
	return o
}

// Get fetches the authoritative order snapshot.
func (c *Client) Get(ctx context.Context, orderID string) (models.Order, error) {
	if orderID == "" {
		return models.Order{}, fmt.Errorf("%w: empty order id", ErrNotFound)
	}
	var w orderWire
	if err := c.do(ctx, http.MethodGet, "/orders/"+orderID, nil, &w); err != nil {
		return models.Order{}, err
	}
	return w.toOrder(), nil
}

// CreateOrderRequest mirrors the order service's create payload.
type CreateOrderRequest struct {
	PickupLocation models.GeoPoint     `json:"pickupLocation"`
	DropLocation   models.GeoPoint     `json:"dropLocation"`
	Amount         int                 `json:"amount"`
	VehicleType    models.VehicleClass `json:"vehicleType"`
	PaymentID      string              `json:"paymentId"`
}

type createOrderResponse struct {
	Success bool      `json:"success"`
	Order   orderWire `json:"order"`
}

// Create books the order after payment succeeded and returns its id.
func (c *Client) Create(ctx context.Context, req CreateOrderRequest) (models.Order, error) {
	var out createOrderResponse
	if err := c.do(ctx, http.MethodPost, "/orders", req, &out); err != nil {
		return models.Order{}, err
	}
	if !out.Success {
		return models.Order{}, fmt.Errorf("%w: create rejected", ErrOrderFetchFailed)
	}
	return out.Order.toOrder(), nil
}

// PaymentSession identifies a gateway checkout session created server-side.
type PaymentSession struct {
	ID     string `json:"id"`
	Amount int    `json:"amount"`
}

type createPaymentResponse struct {
	Order PaymentSession `json:"order"`
}

// CreatePayment opens a payment-gateway session for the given amount.
func (c *Client) CreatePayment(ctx context.Context, amount int) (PaymentSession, error) {
	var out createPaymentResponse
	if err := c.do(ctx, http.MethodPost, "/orders/create-payment", map[string]int{"amount": amount}, &out); err != nil {
		return PaymentSession{}, err
	}
	if out.Order.ID == "" {
		return PaymentSession{}, fmt.Errorf("%w: empty payment session", ErrOrderFetchFailed)
	}
	return out.Order, nil
}
