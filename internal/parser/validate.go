package parser

import (
	"math"

	"fleet-fuel-monitor/internal/models"
)

// ValidateBreadcrumb validates breadcrumb data
func ValidateBreadcrumb(b *models.Breadcrumb) []string {
	var errors []string

	if b.FormattedTime == "" && b.RawTime == "" && b.UnixTime == nil {
		errors = append(errors, "one of dt_tracker, time or timestamp is required")
	}
	if b.Position != nil {
		if !finite(b.Position.Lat) || !finite(b.Position.Lng) {
			errors = append(errors, "position must be finite")
		}
		if b.Position.Lat < -90 || b.Position.Lat > 90 {
			errors = append(errors, "latitude must be between -90 and 90")
		}
		if b.Position.Lng < -180 || b.Position.Lng > 180 {
			errors = append(errors, "longitude must be between -180 and 180")
		}
	}
	if b.SegmentDistanceKm != nil {
		if !finite(*b.SegmentDistanceKm) {
			errors = append(errors, "distance must be finite")
		} else if *b.SegmentDistanceKm < 0 {
			errors = append(errors, "distance cannot be negative")
		}
	}

	return errors
}

// ValidateFillUp validates a fill-up record
func ValidateFillUp(f *models.FillUp) []string {
	var errors []string

	if f.VehicleID == "" {
		errors = append(errors, "vehicle_id is required")
	}
	if !finite(f.QuantityLiters) || f.QuantityLiters <= 0 {
		errors = append(errors, "quantity must be positive")
	}
	if !finite(f.OdometerKm) || f.OdometerKm < 0 {
		errors = append(errors, "odometer cannot be negative")
	}
	if f.UnitPrice != nil && (!finite(*f.UnitPrice) || *f.UnitPrice < 0) {
		errors = append(errors, "unit_price cannot be negative")
	}
	if f.Source != "" && f.Source != models.SourceTank && f.Source != models.SourceStation {
		errors = append(errors, "source must be tank or station")
	}

	return errors
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
