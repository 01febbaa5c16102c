package models

import (
	"math"
	"time"
)

// GeoPoint is a WGS84 coordinate, optionally carrying the address it was
// geocoded from. Immutable once selected.
type GeoPoint struct {
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
	Address string  `json:"address,omitempty"`
}

// Valid reports whether the point is a finite, in-range coordinate.
func (p GeoPoint) Valid() bool {
	if math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) || math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) {
		return false
	}
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// IsZero reports the absent value. The order service omits locations until
// they are set; nothing is ever placed at the 0,0 null island, so the zero
// point doubles as "not present yet".
func (p GeoPoint) IsZero() bool {
	return p.Lat == 0 && p.Lng == 0 && p.Address == ""
}

// SamePlace compares coordinates only, ignoring the address label.
func (p GeoPoint) SamePlace(q GeoPoint) bool {
	return p.Lat == q.Lat && p.Lng == q.Lng
}

// Route is the driving path between two points. Derived data: recomputed
// whenever pickup or drop changes, replaced wholesale, never patched in place.
type Route struct {
	Polyline    []GeoPoint `json:"polyline"`
	DistanceKm  float64    `json:"distance_km"`
	DurationMin int        `json:"duration_min"`
}

type VehicleClass string

const (
	VehicleBike  VehicleClass = "bike"
	VehicleTruck VehicleClass = "truck"
)

// FareQuote is a deterministic function of (distance, vehicle class).
type FareQuote struct {
	DistanceKm   float64      `json:"distance_km"`
	VehicleClass VehicleClass `json:"vehicle_class"`
	Price        int          `json:"price"`
}

type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusAccepted  OrderStatus = "accepted"
	StatusPickedUp  OrderStatus = "picked_up"
	StatusInTransit OrderStatus = "in_transit"
	StatusDelivered OrderStatus = "delivered"
	StatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether the order can no longer change server-side.
func (s OrderStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// PartnerInfo is present once a driver is assigned. A nil PartnerInfo is a
// valid, displayed state ("searching for driver").
type PartnerInfo struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	VehiclePlate string `json:"vehicle_plate,omitempty"`
}

// Order is owned by the remote order service; the client holds a read-only,
// eventually-consistent copy refreshed by polling.
type Order struct {
	ID             string       `json:"id"`
	Status         OrderStatus  `json:"status"`
	PickupLocation GeoPoint     `json:"pickup_location"`
	DropLocation   GeoPoint     `json:"drop_location"`
	Amount         int          `json:"amount"`
	VehicleClass   VehicleClass `json:"vehicle_type,omitempty"`
	Partner        *PartnerInfo `json:"partner,omitempty"`
}

// DriverPosition is the most recent pushed location of the assigned driver.
// Transient: replaced wholesale on each push, never persisted.
type DriverPosition struct {
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	ReceivedAt time.Time `json:"received_at"`
}

// TrackingViewState is the single merged state handed to the rendering
// layer. Owned exclusively by the tracking session; nil fields mean
// "not known yet", which is always a displayable state.
type TrackingViewState struct {
	Order          *Order          `json:"order"`
	Route          *Route          `json:"route"`
	DriverPosition *DriverPosition `json:"driver_position"`
}
