package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Fill-up sources
const (
	SourceTank    = "tank"    // dispensed from the company fuel tank
	SourceStation = "station" // bought at an external station
)

// FillUp is a refuel record entered by a user
type FillUp struct {
	ID             string    `json:"id"`
	VehicleID      string    `json:"vehicle_id"`
	DriverID       *string   `json:"driver_id"`
	QuantityLiters float64   `json:"quantity"`
	OdometerKm     float64   `json:"odometer"`
	UnitPrice      *float64  `json:"unit_price,omitempty"`
	Source         string    `json:"source"`
	FilledAt       time.Time `json:"filled_at"`
}

// FillUpQuery represents query parameters for fill-up searches
type FillUpQuery struct {
	VehicleID string
	Source    string
	StartTime time.Time
	EndTime   time.Time
	Limit     int
	Offset    int
}

// Level classifies a consumption rate
type Level string

const (
	LevelGreen        Level = "green"
	LevelDefault      Level = "default"
	LevelRed          Level = "red"
	LevelUnclassified Level = "unclassified"
)

// Thresholds are liters-per-km cutoffs. A rate below GreenBelow is green,
// above RedAbove is red.
type Thresholds struct {
	GreenBelow float64 `json:"green_below" mapstructure:"green_below"`
	RedAbove   float64 `json:"red_above" mapstructure:"red_above"`
}

// ConsumptionAnalysis is the fuel consumption of one vehicle over its fill-ups
type ConsumptionAnalysis struct {
	VehicleID      string          `json:"vehicle_id"`
	DriverID       *string         `json:"driver_id"`
	FillUps        int             `json:"fill_ups"`
	TotalLiters    float64         `json:"total_liters"`
	TotalKm        float64         `json:"total_km"`
	LiterPerKm     float64         `json:"liter_per_km"`
	LitersPer100Km float64         `json:"liters_per_100km"`
	Level          Level           `json:"level"`
	Classifiable   bool            `json:"classifiable"`
	EstimatedCost  decimal.Decimal `json:"estimated_cost"`
}
