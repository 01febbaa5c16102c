package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/example/delivery-tracking/internal/models"
)

var (
	// ErrRouteUnavailable covers transport failures, provider errors and empty
	// route sets alike: callers treat "no route yet" as a displayable state
	// (markers only, no price) rather than a fatal condition.
	ErrRouteUnavailable = errors.New("route unavailable")

	// ErrInvalidCoordinate is rejected before any network I/O happens.
	ErrInvalidCoordinate = errors.New("invalid coordinate")
)

// Resolver fetches driving routes. The session depends on this interface so
// tests can substitute a scripted resolver.
type Resolver interface {
	ResolveRoute(ctx context.Context, pickup, drop models.GeoPoint) (models.Route, error)
}

// OSRMResolver performs route lookups against an OSRM-compatible HTTP server.
type OSRMResolver struct {
	Endpoint string
	Client   *http.Client
}

func NewOSRMResolver(endpoint string, timeout time.Duration) *OSRMResolver {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OSRMResolver{Endpoint: endpoint, Client: &http.Client{Timeout: timeout}}
}

// osrmResponse is the subset of the OSRM /route payload we consume.
// geometry.coordinates come as [lng, lat] pairs and must be transposed.
type osrmResponse struct {
	Code   string `json:"code"`
	Routes []struct {
		Distance float64 `json:"distance"` // meters
		Duration float64 `json:"duration"` // seconds
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
	} `json:"routes"`
}

// ResolveRoute queries /route/v1/driving/{lng},{lat};{lng},{lat} with full
// geojson geometry and returns the first route, transposed into GeoPoints.
func (o *OSRMResolver) ResolveRoute(ctx context.Context, pickup, drop models.GeoPoint) (models.Route, error) {
	if !pickup.Valid() || !drop.Valid() {
		return models.Route{}, ErrInvalidCoordinate
	}
	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson",
		o.Endpoint, pickup.Lng, pickup.Lat, drop.Lng, drop.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return models.Route{}, fmt.Errorf("%w: %v", ErrRouteUnavailable, err)
	}
	resp, err := o.Client.Do(req)
	if err != nil {
		return models.Route{}, fmt.Errorf("%w: %v", ErrRouteUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return models.Route{}, fmt.Errorf("%w: status %d", ErrRouteUnavailable, resp.StatusCode)
	}
	var out osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return models.Route{}, fmt.Errorf("%w: %v", ErrRouteUnavailable, err)
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return models.Route{}, fmt.Errorf("%w: code=%s routes=%d", ErrRouteUnavailable, out.Code, len(out.Routes))
	}
	r := out.Routes[0]
	if len(r.Geometry.Coordinates) == 0 {
		return models.Route{}, fmt.Errorf("%w: empty geometry", ErrRouteUnavailable)
	}
	poly := make([]models.GeoPoint, 0, len(r.Geometry.Coordinates))
	for _, c := range r.Geometry.Coordinates {
		if len(c) < 2 {
			continue
		}
		poly = append(poly, models.GeoPoint{Lat: c[1], Lng: c[0]})
	}
	if len(poly) == 0 {
		return models.Route{}, fmt.Errorf("%w: empty geometry", ErrRouteUnavailable)
	}
	return models.Route{
		Polyline:    poly,
		DistanceKm:  math.Round(r.Distance/1000*100) / 100,
		DurationMin: int(math.Round(r.Duration / 60)),
	}, nil
}
