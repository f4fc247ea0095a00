// Package consumption rates each vehicle's fuel use from its fill-up records.
package consumption

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"fleet-fuel-monitor/internal/models"
)

// Default cutoffs in liters per km, tuned for the hauling fleet.
const (
	DefaultGreenBelow = 0.25
	DefaultRedAbove   = 0.40
)

// DefaultThresholds returns the built-in classification cutoffs
func DefaultThresholds() models.Thresholds {
	return models.Thresholds{GreenBelow: DefaultGreenBelow, RedAbove: DefaultRedAbove}
}

// Analyzer groups fill-ups by vehicle and classifies the resulting rate
type Analyzer struct {
	Thresholds models.Thresholds
	// FuelPrice is the per-liter price used for fill-ups without one
	FuelPrice decimal.Decimal
}

// NewAnalyzer creates an analyzer with the given cutoffs and default price
func NewAnalyzer(th models.Thresholds, fuelPrice float64) *Analyzer {
	if !finite(fuelPrice) {
		fuelPrice = 0
	}
	return &Analyzer{Thresholds: th, FuelPrice: decimal.NewFromFloat(fuelPrice)}
}

// Analyze returns one analysis per vehicle, ordered by vehicle id.
//
// Distance is the odometer range of the group, not a sum, since odometer
// readings are cumulative. A vehicle with fewer than two distinct readings
// has TotalKm 0 and is left unclassified.
func (a *Analyzer) Analyze(fillUps []models.FillUp) []models.ConsumptionAnalysis {
	groups := make(map[string][]models.FillUp)
	for _, f := range fillUps {
		groups[f.VehicleID] = append(groups[f.VehicleID], f)
	}

	results := make([]models.ConsumptionAnalysis, 0, len(groups))
	for vehicleID, group := range groups {
		results = append(results, a.analyzeVehicle(vehicleID, group))
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].VehicleID < results[j].VehicleID
	})
	return results
}

func (a *Analyzer) analyzeVehicle(vehicleID string, fillUps []models.FillUp) models.ConsumptionAnalysis {
	res := models.ConsumptionAnalysis{
		VehicleID:     vehicleID,
		EstimatedCost: decimal.Zero,
		Level:         models.LevelUnclassified,
	}

	// Non-finite quantities or odometers would poison every total.
	group := make([]models.FillUp, 0, len(fillUps))
	for _, f := range fillUps {
		if finite(f.QuantityLiters) && finite(f.OdometerKm) {
			group = append(group, f)
		}
	}
	res.FillUps = len(group)
	if len(group) == 0 {
		return res
	}

	minOdo, maxOdo := group[0].OdometerKm, group[0].OdometerKm
	for _, f := range group {
		res.TotalLiters += f.QuantityLiters
		minOdo = min(minOdo, f.OdometerKm)
		maxOdo = max(maxOdo, f.OdometerKm)

		price := a.FuelPrice
		if f.UnitPrice != nil && finite(*f.UnitPrice) {
			price = decimal.NewFromFloat(*f.UnitPrice)
		}
		res.EstimatedCost = res.EstimatedCost.Add(decimal.NewFromFloat(f.QuantityLiters).Mul(price))
	}
	res.EstimatedCost = res.EstimatedCost.Round(2)

	if len(group) >= 2 && maxOdo > minOdo {
		res.TotalKm = maxOdo - minOdo
	}
	res.DriverID = latestDriver(group)

	if res.TotalKm > 0 {
		res.LiterPerKm = res.TotalLiters / res.TotalKm
		res.LitersPer100Km = res.TotalLiters * 100 / res.TotalKm
		res.Classifiable = true
	}
	res.Level = a.Classify(res.LiterPerKm, res.Classifiable)
	return res
}

// Classify maps a rate to its level. Unclassifiable rates are never red.
func (a *Analyzer) Classify(literPerKm float64, classifiable bool) models.Level {
	switch {
	case !classifiable:
		return models.LevelUnclassified
	case literPerKm > a.Thresholds.RedAbove:
		return models.LevelRed
	case literPerKm < a.Thresholds.GreenBelow:
		return models.LevelGreen
	default:
		return models.LevelDefault
	}
}

// Alerts filters the analyses that need an alert banner
func Alerts(analyses []models.ConsumptionAnalysis) []models.ConsumptionAnalysis {
	var out []models.ConsumptionAnalysis
	for _, r := range analyses {
		if r.Classifiable && r.Level == models.LevelRed {
			out = append(out, r)
		}
	}
	return out
}

// latestDriver returns the driver of the most recent fill-up that has one.
func latestDriver(group []models.FillUp) *string {
	sorted := make([]models.FillUp, len(group))
	copy(sorted, group)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].FilledAt.Equal(sorted[j].FilledAt) {
			return sorted[i].FilledAt.After(sorted[j].FilledAt)
		}
		return sorted[i].OdometerKm > sorted[j].OdometerKm
	})
	for _, f := range sorted {
		if f.DriverID != nil {
			d := *f.DriverID
			return &d
		}
	}
	return nil
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
