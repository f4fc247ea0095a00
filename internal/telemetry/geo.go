package telemetry

import (
	"math"
	"strings"

	"fleet-fuel-monitor/internal/models"
)

// EarthRadiusKm is the mean Earth radius used for great-circle distances
const EarthRadiusKm = 6371.0

// FuelTankKind is the sensor kind the tracking API uses for fuel tank probes
const FuelTankKind = "fuel"

// Haversine returns the great-circle distance between a and b in km
func Haversine(a, b models.LatLng) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * EarthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// IsFuelSensor reports whether a reading is a fuel-level probe
func IsFuelSensor(s models.SensorReading) bool {
	return s.Kind == FuelTankKind || strings.Contains(strings.ToLower(s.Name), "fuel")
}

// FuelReading returns the first fuel sensor value with a usable number
func FuelReading(sensors []models.SensorReading) (float64, bool) {
	for _, s := range sensors {
		if !IsFuelSensor(s) {
			continue
		}
		v := float64(s.Value)
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		return v, true
	}
	return 0, false
}
