package telemetry

import (
	"encoding/json"
	"math"
	"reflect"
	"testing"
	"time"

	"fleet-fuel-monitor/internal/models"
)

func fuelCrumb(ts string, fuel float64) models.Breadcrumb {
	return models.Breadcrumb{
		FormattedTime: ts,
		Sensors: []models.SensorReading{
			{Name: "Fuel level", Kind: FuelTankKind, Value: models.SensorValue(fuel)},
		},
	}
}

func ptr[T any](v T) *T { return &v }

func TestAggregate_RefuelResetsBaseline(t *testing.T) {
	records := []models.Breadcrumb{
		fuelCrumb("2024-03-01 10:00:00", 50),
		fuelCrumb("2024-03-01 11:00:00", 48),
		fuelCrumb("2024-03-01 12:00:00", 70),
		fuelCrumb("2024-03-01 13:00:00", 65),
	}

	days, skipped := Aggregate(records, time.UTC)
	if skipped != 0 {
		t.Errorf("Expected 0 skipped, got %d", skipped)
	}
	if len(days) != 1 {
		t.Fatalf("Expected 1 day, got %d", len(days))
	}
	if got := days["2024-03-01"].FuelConsumedLiters; got != 7 {
		t.Errorf("Expected 7 liters consumed, got %v", got)
	}
}

func TestAggregate_UnsortedInputIsSorted(t *testing.T) {
	records := []models.Breadcrumb{
		fuelCrumb("2024-03-01 13:00:00", 65),
		fuelCrumb("2024-03-01 10:00:00", 50),
		fuelCrumb("2024-03-01 12:00:00", 70),
		fuelCrumb("2024-03-01 11:00:00", 48),
	}

	days, _ := Aggregate(records, time.UTC)
	if got := days["2024-03-01"].FuelConsumedLiters; got != 7 {
		t.Errorf("Expected 7 liters consumed, got %v", got)
	}

	again, _ := Aggregate(records, time.UTC)
	if !reflect.DeepEqual(days, again) {
		t.Errorf("Expected identical output on repeated runs, got %v and %v", days, again)
	}
}

func TestAggregate_MonotonicDecreaseEqualsFirstMinusLast(t *testing.T) {
	var records []models.Breadcrumb
	levels := []float64{80, 76.5, 71, 70.25, 64, 60}
	for i, lvl := range levels {
		ts := time.Date(2024, 3, 1, 8+i*4, 0, 0, 0, time.UTC) // crosses into 2024-03-02
		records = append(records, models.Breadcrumb{
			UnixTime: ptr(ts.Unix()),
			Sensors:  []models.SensorReading{{Name: "tank_1", Kind: FuelTankKind, Value: models.SensorValue(lvl)}},
		})
	}

	days, _ := Aggregate(records, time.UTC)
	if len(days) != 2 {
		t.Fatalf("Expected 2 days, got %d", len(days))
	}

	var total float64
	for _, d := range days {
		total += d.FuelConsumedLiters
	}
	if math.Abs(total-(levels[0]-levels[len(levels)-1])) > 1e-9 {
		t.Errorf("Expected %v liters consumed, got %v", levels[0]-levels[len(levels)-1], total)
	}
}

func TestAggregate_RefuelNeverCountsNegative(t *testing.T) {
	records := []models.Breadcrumb{
		fuelCrumb("2024-03-01 08:00:00", 40),
		fuelCrumb("2024-03-01 09:00:00", 30),
		fuelCrumb("2024-03-01 10:00:00", 90),
		fuelCrumb("2024-03-01 11:00:00", 85),
	}

	days, _ := Aggregate(records, time.UTC)
	got := days["2024-03-01"].FuelConsumedLiters
	if got != 15 {
		t.Errorf("Expected 15 liters consumed, got %v", got)
	}
	if got <= 40-85 {
		t.Errorf("Expected consumption above naive signed sum, got %v", got)
	}
}

func TestAggregate_MissingFuelKeepsBaseline(t *testing.T) {
	records := []models.Breadcrumb{
		fuelCrumb("2024-03-01 08:00:00", 60),
		{FormattedTime: "2024-03-01 09:00:00"},
		{FormattedTime: "2024-03-01 09:30:00", Sensors: []models.SensorReading{{Name: "ignition", Kind: "acc", Value: 1}}},
		fuelCrumb("2024-03-01 10:00:00", 55),
	}

	days, _ := Aggregate(records, time.UTC)
	if got := days["2024-03-01"].FuelConsumedLiters; got != 5 {
		t.Errorf("Expected 5 liters consumed, got %v", got)
	}
}

func TestAggregate_DistanceSources(t *testing.T) {
	a := models.LatLng{Lat: 33.5, Lng: -7.6}
	b := models.LatLng{Lat: 33.6, Lng: -7.7}

	records := []models.Breadcrumb{
		{FormattedTime: "2024-03-01 08:00:00", Position: &a},
		{FormattedTime: "2024-03-01 08:10:00", Position: &b},
		{FormattedTime: "2024-03-01 08:20:00", Position: &a, SegmentDistanceKm: ptr(3.5)},
		{FormattedTime: "2024-03-01 08:30:00"},
		{FormattedTime: "2024-03-01 08:40:00", Position: &b},
	}

	days, _ := Aggregate(records, time.UTC)
	want := Haversine(a, b) + 3.5
	if got := days["2024-03-01"].DistanceKm; math.Abs(got-want) > 1e-9 {
		t.Errorf("Expected distance %v, got %v", want, got)
	}
}

func TestAggregate_NonFiniteDistanceIsIgnored(t *testing.T) {
	a := models.LatLng{Lat: 33.5, Lng: -7.6}
	b := models.LatLng{Lat: 33.6, Lng: -7.7}

	records := []models.Breadcrumb{
		{FormattedTime: "2024-03-01 08:00:00", Position: &a, Sensors: fuelCrumb("", 50).Sensors},
		{FormattedTime: "2024-03-01 08:10:00", Position: &b, SegmentDistanceKm: ptr(math.Inf(1)), Sensors: fuelCrumb("", 48).Sensors},
		{FormattedTime: "2024-03-01 08:20:00", SegmentDistanceKm: ptr(math.NaN())},
		{FormattedTime: "2024-03-01 08:30:00", Position: &models.LatLng{Lat: math.NaN(), Lng: -7.7}},
	}

	days, _ := Aggregate(records, time.UTC)
	day := days["2024-03-01"]
	if want := Haversine(a, b); math.Abs(day.DistanceKm-want) > 1e-9 {
		t.Errorf("Expected distance %v, got %v", want, day.DistanceKm)
	}
	if day.FuelConsumedLiters != 2 {
		t.Errorf("Expected 2 liters, got %v", day.FuelConsumedLiters)
	}
	if _, err := json.Marshal(days); err != nil {
		t.Errorf("Expected report to encode, got %v", err)
	}
}

func TestAggregate_DistanceSumAcrossDays(t *testing.T) {
	points := []models.LatLng{
		{Lat: 33.57, Lng: -7.59},
		{Lat: 33.60, Lng: -7.62},
		{Lat: 33.65, Lng: -7.70},
		{Lat: 33.70, Lng: -7.75},
	}
	stamps := []string{
		"2024-03-01 22:00:00",
		"2024-03-01 23:50:00",
		"2024-03-02 00:10:00",
		"2024-03-02 01:00:00",
	}

	var records []models.Breadcrumb
	var want float64
	for i := range points {
		records = append(records, models.Breadcrumb{FormattedTime: stamps[i], Position: &points[i]})
		if i > 0 {
			want += Haversine(points[i-1], points[i])
		}
	}

	days, _ := Aggregate(records, time.UTC)
	var got float64
	for _, d := range days {
		got += d.DistanceKm
	}
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("Expected total distance %v, got %v", want, got)
	}
	if days["2024-03-02"].DistanceKm == 0 {
		t.Error("Expected the midnight-crossing segment to land on 2024-03-02")
	}
}

func TestAggregate_SkipsUnresolvableTime(t *testing.T) {
	records := []models.Breadcrumb{
		fuelCrumb("2024-03-01 08:00:00", 60),
		fuelCrumb("not a time", 10),
		{Sensors: []models.SensorReading{{Name: "fuel", Value: 5}}},
		fuelCrumb("2024-03-01 09:00:00", 58),
	}

	days, skipped := Aggregate(records, time.UTC)
	if skipped != 2 {
		t.Errorf("Expected 2 skipped, got %d", skipped)
	}
	if got := days["2024-03-01"].FuelConsumedLiters; got != 2 {
		t.Errorf("Expected 2 liters consumed, got %v", got)
	}
}

func TestAggregate_EmptyAndSensorless(t *testing.T) {
	days, skipped := Aggregate(nil, time.UTC)
	if len(days) != 0 || skipped != 0 {
		t.Errorf("Expected empty result, got %v (skipped %d)", days, skipped)
	}

	days, _ = Aggregate([]models.Breadcrumb{
		{FormattedTime: "2024-03-01 08:00:00"},
		{FormattedTime: "2024-03-02 08:00:00"},
	}, time.UTC)
	if len(days) != 2 {
		t.Fatalf("Expected 2 days, got %d", len(days))
	}
	for date, d := range days {
		if d.DistanceKm != 0 || d.FuelConsumedLiters != 0 {
			t.Errorf("Expected zero stats on %s, got %+v", date, d)
		}
	}
}

func TestSortedDays(t *testing.T) {
	days := map[string]models.DailyStat{
		"2024-03-03": {Date: "2024-03-03"},
		"2024-03-01": {Date: "2024-03-01"},
		"2024-03-02": {Date: "2024-03-02"},
	}

	sorted := SortedDays(days)
	for i, want := range []string{"2024-03-01", "2024-03-02", "2024-03-03"} {
		if sorted[i].Date != want {
			t.Errorf("Expected %s at %d, got %s", want, i, sorted[i].Date)
		}
	}
}
