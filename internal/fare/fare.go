package fare

import (
	"fmt"
	"math"

	"github.com/example/delivery-tracking/internal/models"
)

// ErrUnknownVehicleClass is returned by ParseVehicleClass for anything other
// than the supported classes. Quote itself is total and never fails; class
// validation happens at the boundary before Quote is reached.
var ErrUnknownVehicleClass = fmt.Errorf("unknown vehicle class")

const baseFare = 50

// perKmRate returns the per-kilometer rate for a known class.
func perKmRate(class models.VehicleClass) float64 {
	switch class {
	case models.VehicleTruck:
		return 40
	default:
		return 15 // bike
	}
}

// ParseVehicleClass validates a wire-format vehicle class string.
func ParseVehicleClass(s string) (models.VehicleClass, error) {
	switch models.VehicleClass(s) {
	case models.VehicleBike:
		return models.VehicleBike, nil
	case models.VehicleTruck:
		return models.VehicleTruck, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownVehicleClass, s)
	}
}

// Quote prices a trip: base fare plus distance times the class rate, rounded
// to the nearest whole unit. Deterministic and monotonic in distance.
func Quote(distanceKm float64, class models.VehicleClass) models.FareQuote {
	price := int(math.Round(baseFare + distanceKm*perKmRate(class)))
	return models.FareQuote{DistanceKm: distanceKm, VehicleClass: class, Price: price}
}
