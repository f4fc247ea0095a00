// Package report builds fleet-wide daily distance and fuel reports from a
// telemetry source.
package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"fleet-fuel-monitor/internal/models"
	"fleet-fuel-monitor/internal/telemetry"
)

// Source supplies a device's breadcrumb history for a time range
type Source interface {
	History(ctx context.Context, deviceID string, from, to time.Time) ([]models.Breadcrumb, error)
}

// FuelUnitSource is implemented by sources whose fuel figures are not
// always liters
type FuelUnitSource interface {
	FuelUnit(deviceID string) string
}

// FleetReport holds per-device daily stats for a date range
type FleetReport struct {
	From      time.Time                              `json:"from"`
	To        time.Time                              `json:"to"`
	Devices   []string                               `json:"devices"`
	Dates     []string                               `json:"dates"`
	Stats     map[string]map[string]models.DailyStat `json:"stats"`
	Skipped   map[string]int                         `json:"skipped,omitempty"`
	Failures  map[string]string                      `json:"failures,omitempty"`
	FuelUnits map[string]string                      `json:"fuel_units,omitempty"` // only devices not in liters
}

// Row is one date of the report with a cell per device
type Row struct {
	Date  string             `json:"date"`
	Cells []models.DailyStat `json:"cells"`
}

// Builder fetches histories concurrently and aggregates them
type Builder struct {
	source      Source
	loc         *time.Location
	concurrency int
}

// NewBuilder creates a report builder. At most concurrency histories are
// fetched at once.
func NewBuilder(source Source, loc *time.Location, concurrency int) *Builder {
	if loc == nil {
		loc = time.UTC
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Builder{source: source, loc: loc, concurrency: concurrency}
}

// Location returns the timezone used for date buckets
func (b *Builder) Location() *time.Location {
	return b.loc
}

// Build fetches every device's history and aggregates it by day. A device
// whose fetch fails is listed in Failures; the others are still reported.
func (b *Builder) Build(ctx context.Context, deviceIDs []string, from, to time.Time) *FleetReport {
	rep := &FleetReport{
		From:      from,
		To:        to,
		Stats:     make(map[string]map[string]models.DailyStat),
		Skipped:   make(map[string]int),
		Failures:  make(map[string]string),
		FuelUnits: make(map[string]string),
	}
	units, _ := b.source.(FuelUnitSource)

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(b.concurrency)

	for _, id := range dedupe(deviceIDs) {
		g.Go(func() error {
			history, err := b.source.History(ctx, id, from, to)
			if err != nil {
				log.Printf("Warning: history for device %s: %v", id, err)
				mu.Lock()
				rep.Failures[id] = err.Error()
				mu.Unlock()
				return nil
			}

			days, skipped := telemetry.Aggregate(history, b.loc)
			if skipped > 0 {
				log.Printf("Warning: device %s: skipped %d breadcrumbs without a usable time", id, skipped)
			}
			for date, stat := range days {
				stat.DeviceID = id
				days[date] = stat
			}

			mu.Lock()
			rep.Stats[id] = days
			if units != nil {
				if unit := units.FuelUnit(id); unit != models.FuelUnitLiters {
					rep.FuelUnits[id] = unit
				}
			}
			if skipped > 0 {
				rep.Skipped[id] = skipped
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	dateSet := make(map[string]struct{})
	for id, days := range rep.Stats {
		rep.Devices = append(rep.Devices, id)
		for date := range days {
			dateSet[date] = struct{}{}
		}
	}
	sort.Strings(rep.Devices)
	for date := range dateSet {
		rep.Dates = append(rep.Dates, date)
	}
	sort.Strings(rep.Dates)

	return rep
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// Rows lays the report out one row per date, one cell per device. Devices
// without data on a date get a zero cell.
func (r *FleetReport) Rows() []Row {
	rows := make([]Row, 0, len(r.Dates))
	for _, date := range r.Dates {
		row := Row{Date: date, Cells: make([]models.DailyStat, 0, len(r.Devices))}
		for _, id := range r.Devices {
			stat, ok := r.Stats[id][date]
			if !ok {
				stat = models.DailyStat{Date: date, DeviceID: id}
			}
			row.Cells = append(row.Cells, stat)
		}
		rows = append(rows, row)
	}
	return rows
}

// Totals sums each device's stats over the whole range
func (r *FleetReport) Totals() []models.DailyStat {
	out := make([]models.DailyStat, 0, len(r.Devices))
	for _, id := range r.Devices {
		total := models.DailyStat{Date: "total", DeviceID: id}
		for _, stat := range r.Stats[id] {
			total.DistanceKm += stat.DistanceKm
			total.FuelConsumedLiters += stat.FuelConsumedLiters
		}
		out = append(out, total)
	}
	return out
}

// FuelUnit returns the unit of a device's fuel figures
func (r *FleetReport) FuelUnit(deviceID string) string {
	if unit, ok := r.FuelUnits[deviceID]; ok {
		return unit
	}
	return models.FuelUnitLiters
}

// FuelUnitSuffix is the short unit label used in column headers
func (r *FleetReport) FuelUnitSuffix(deviceID string) string {
	if r.FuelUnit(deviceID) == models.FuelUnitPercent {
		return "pct"
	}
	return "l"
}

// WriteCSV exports the report with a distance and a fuel column per device
func (r *FleetReport) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)

	header := []string{"date"}
	for _, id := range r.Devices {
		header = append(header, id+" km", id+" fuel_"+r.FuelUnitSuffix(id))
	}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	writeCells := func(label string, cells []models.DailyStat) error {
		line := []string{label}
		for _, c := range cells {
			line = append(line, formatFloat(c.DistanceKm), formatFloat(c.FuelConsumedLiters))
		}
		return cw.Write(line)
	}

	for _, row := range r.Rows() {
		if err := writeCells(row.Date, row.Cells); err != nil {
			return fmt.Errorf("write row %s: %w", row.Date, err)
		}
	}
	if err := writeCells("total", r.Totals()); err != nil {
		return fmt.Errorf("write totals: %w", err)
	}

	cw.Flush()
	return cw.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

// ParseRange resolves a report window in loc. A bare date as to covers the
// whole day. An empty to means today; an empty from means six days before
// the day of to.
func ParseRange(from, to string, loc *time.Location, now time.Time) (time.Time, time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	today := now.In(loc)
	start := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, loc)

	end := start.AddDate(0, 0, 1).Add(-time.Nanosecond)
	if to = strings.TrimSpace(to); to != "" {
		t, err := telemetry.ParseTimestamp(to, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to: %w", err)
		}
		end = t
		if isDate(to) {
			end = t.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}
	}

	endDay := end.In(loc)
	begin := time.Date(endDay.Year(), endDay.Month(), endDay.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, -6)
	if from = strings.TrimSpace(from); from != "" {
		t, err := telemetry.ParseTimestamp(from, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from: %w", err)
		}
		begin = t
	}

	if end.Before(begin) {
		return time.Time{}, time.Time{}, fmt.Errorf("from %s is after to %s", begin.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return begin, end, nil
}

func isDate(s string) bool {
	_, err := time.Parse(telemetry.DateLayout, s)
	return err == nil
}
