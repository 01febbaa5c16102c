package geocode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/example/delivery-tracking/internal/models"
)

// MinQueryLen mirrors the search box behavior: anything shorter returns no
// candidates without a network call.
const MinQueryLen = 3

var ErrSearchFailed = errors.New("address search failed")

// Candidate is one geocoding hit.
type Candidate struct {
	PlaceID     int64  `json:"place_id"`
	DisplayName string `json:"display_name"`
	Point       models.GeoPoint
}

// Client searches a Nominatim-compatible endpoint for free-text addresses.
type Client struct {
	Endpoint string
	HTTP     *http.Client
	Limit    int
}

func NewClient(endpoint string, limit int) *Client {
	if limit <= 0 {
		limit = 5
	}
	return &Client{Endpoint: endpoint, HTTP: &http.Client{Timeout: 5 * time.Second}, Limit: limit}
}

// nominatim returns lat/lon as strings
type searchHit struct {
	PlaceID     int64  `json:"place_id"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
	DisplayName string `json:"display_name"`
}

// Search returns up to Limit candidates for the query. Queries shorter than
// MinQueryLen yield an empty result without touching the provider.
func (c *Client) Search(ctx context.Context, query string) ([]Candidate, error) {
	if len(query) < MinQueryLen {
		return nil, nil
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("addressdetails", "1")
	q.Set("limit", strconv.Itoa(c.Limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+"/search?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrSearchFailed, resp.StatusCode)
	}
	var hits []searchHit
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return nil, fmt.Errorf("%w: decode: %v", ErrSearchFailed, err)
	}
	out := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		lat, errLat := strconv.ParseFloat(h.Lat, 64)
		lng, errLng := strconv.ParseFloat(h.Lon, 64)
		if errLat != nil || errLng != nil {
			continue
		}
		p := models.GeoPoint{Lat: lat, Lng: lng, Address: h.DisplayName}
		if !p.Valid() {
			continue
		}
		out = append(out, Candidate{PlaceID: h.PlaceID, DisplayName: h.DisplayName, Point: p})
		if len(out) == c.Limit {
			break
		}
	}
	return out, nil
}
