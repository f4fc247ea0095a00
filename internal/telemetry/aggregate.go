// Package telemetry derives per-day trip distance and fuel consumption from
// the breadcrumb history of a tracking device.
package telemetry

import (
	"math"
	"sort"
	"time"

	"fleet-fuel-monitor/internal/models"
)

type timedBreadcrumb struct {
	at time.Time
	models.Breadcrumb
}

// Aggregate buckets one device's breadcrumbs by calendar date in loc.
//
// Records are sorted by resolved time first; records without a resolvable
// time are dropped and counted in skipped. Distance is the explicit segment
// distance when present and usable, otherwise the great-circle distance from the
// previous record. Only fuel-level drops count as consumption; a rise
// (refuel) contributes nothing and becomes the new baseline. The rolling
// state carries across day boundaries.
func Aggregate(records []models.Breadcrumb, loc *time.Location) (days map[string]models.DailyStat, skipped int) {
	if loc == nil {
		loc = time.UTC
	}

	timed := make([]timedBreadcrumb, 0, len(records))
	for _, r := range records {
		at, ok := ResolveTime(r, loc)
		if !ok {
			skipped++
			continue
		}
		timed = append(timed, timedBreadcrumb{at: at, Breadcrumb: r})
	}
	sort.SliceStable(timed, func(i, j int) bool {
		return timed[i].at.Before(timed[j].at)
	})

	days = make(map[string]models.DailyStat)

	var (
		prev        *timedBreadcrumb
		prevFuel    float64
		hasPrevFuel bool
	)
	for i := range timed {
		cur := &timed[i]
		date := DateKey(cur.at, loc)
		stat, ok := days[date]
		if !ok {
			stat = models.DailyStat{Date: date}
		}

		stat.DistanceKm += segmentDistance(prev, cur)

		if fuel, ok := FuelReading(cur.Sensors); ok {
			if hasPrevFuel {
				if delta := prevFuel - fuel; delta > 0 {
					stat.FuelConsumedLiters += delta
				}
			}
			prevFuel = fuel
			hasPrevFuel = true
		}

		days[date] = stat
		prev = cur
	}

	return days, skipped
}

func segmentDistance(prev, cur *timedBreadcrumb) float64 {
	if d := cur.SegmentDistanceKm; d != nil && !math.IsNaN(*d) && !math.IsInf(*d, 0) && *d >= 0 {
		return *d
	}
	if prev == nil || prev.Position == nil || cur.Position == nil {
		return 0
	}
	d := Haversine(*prev.Position, *cur.Position)
	if math.IsNaN(d) || math.IsInf(d, 0) {
		return 0
	}
	return d
}

// SortedDays returns the buckets ordered by date
func SortedDays(days map[string]models.DailyStat) []models.DailyStat {
	out := make([]models.DailyStat, 0, len(days))
	for _, d := range days {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out
}
