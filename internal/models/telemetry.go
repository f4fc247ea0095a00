package models

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// LatLng is a WGS84 coordinate pair
type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// SensorReading is one named sensor value attached to a breadcrumb
type SensorReading struct {
	Name  string      `json:"name"`
	Kind  string      `json:"type"`
	Value SensorValue `json:"value"`
}

// SensorValue accepts either a JSON number or a numeric string with an
// optional unit suffix ("45.3 l"). Anything else decodes to NaN.
type SensorValue float64

// UnmarshalJSON implements json.Unmarshaler
func (v *SensorValue) UnmarshalJSON(data []byte) error {
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*v = SensorValue(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*v = SensorValue(math.NaN())
		return nil
	}
	*v = SensorValue(ParseSensorValue(s))
	return nil
}

// MarshalJSON implements json.Marshaler; NaN is written as null
func (v SensorValue) MarshalJSON() ([]byte, error) {
	f := float64(v)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(f)
}

// ParseSensorValue reads the leading number of s, ignoring a unit suffix.
// It returns NaN when s does not start with a number.
func ParseSensorValue(s string) float64 {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) {
		c := s[end]
		if (c >= '0' && c <= '9') || c == '.' || c == '-' || c == '+' {
			end++
			continue
		}
		break
	}
	f, err := strconv.ParseFloat(s[:end], 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

// Breadcrumb is one historical telemetry sample of a tracking device.
// Every field is optional; the upstream API sends any subset of them.
type Breadcrumb struct {
	FormattedTime     string          `json:"dt_tracker,omitempty"`
	RawTime           string          `json:"time,omitempty"`
	UnixTime          *int64          `json:"timestamp,omitempty"`
	Position          *LatLng         `json:"position,omitempty"`
	SegmentDistanceKm *float64        `json:"distance,omitempty"`
	Sensors           []SensorReading `json:"sensors,omitempty"`
}

// Vehicle represents a fleet vehicle
type Vehicle struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	LicensePlate string    `json:"license_plate"`
	VehicleType  string    `json:"vehicle_type"`
	DeviceID     string    `json:"device_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// BreadcrumbQuery selects stored breadcrumbs of one device
type BreadcrumbQuery struct {
	DeviceID  string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// Units of DailyStat.FuelConsumedLiters. Sources that only know the tank
// level as a percentage report percentage points.
const (
	FuelUnitLiters  = "liters"
	FuelUnitPercent = "percent"
)

// DailyStat is the distance and fuel consumption of one device on one date
type DailyStat struct {
	Date               string  `json:"date"`
	DeviceID           string  `json:"device_id,omitempty"`
	DistanceKm         float64 `json:"distance_km"`
	FuelConsumedLiters float64 `json:"fuel_consumed_liters"`
}
