// Package timescale reads breadcrumb history from the ingestion service's
// vehicle_telemetry hypertable.
package timescale

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"fleet-fuel-monitor/internal/models"
	"fleet-fuel-monitor/internal/telemetry"
)

// Store is a read-only view on the telemetry hypertable
type Store struct {
	pool  *pgxpool.Pool
	tanks Tanks
}

// Tanks holds fuel tank capacities in liters, used to turn the stored fuel
// percentage into liters. A vehicle without a capacity reports percent.
type Tanks struct {
	DefaultLiters float64
	ByVehicle     map[string]float64
}

// Liters returns the tank capacity of a vehicle, 0 when unknown
func (t Tanks) Liters(vehicleID string) float64 {
	// config keys arrive lowercased
	for _, id := range []string{vehicleID, strings.ToLower(vehicleID)} {
		if c, ok := t.ByVehicle[id]; ok && c > 0 {
			return c
		}
	}
	if t.DefaultLiters > 0 {
		return t.DefaultLiters
	}
	return 0
}

// FuelUnit reports whether a vehicle's fuel figures are liters or percent
func (s *Store) FuelUnit(vehicleID string) string {
	if s.tanks.Liters(vehicleID) > 0 {
		return models.FuelUnitLiters
	}
	return models.FuelUnitPercent
}

// NewStore connects to TimescaleDB and checks the connection
func NewStore(ctx context.Context, dsn string, tanks Tanks) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create db pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	if tanks.DefaultLiters <= 0 && len(tanks.ByVehicle) == 0 {
		log.Println("Warning: no tank capacity configured, Timescale fuel figures are in percent")
	}

	return &Store{pool: pool, tanks: tanks}, nil
}

// Close releases the pool
func (s *Store) Close() {
	s.pool.Close()
}

const historyQuery = `
	SELECT timestamp, latitude, longitude, fuel_pct
	FROM vehicle_telemetry
	WHERE vehicle_id = $1
	  AND ($2::timestamptz IS NULL OR timestamp >= $2)
	  AND ($3::timestamptz IS NULL OR timestamp <= $3)
	ORDER BY timestamp ASC
`

// Row is one telemetry sample as stored by the ingestion service
type Row struct {
	Timestamp time.Time
	Latitude  *float64
	Longitude *float64
	FuelPct   *float64
}

// History returns the device's samples between from and to as breadcrumbs
func (s *Store) History(ctx context.Context, deviceID string, from, to time.Time) ([]models.Breadcrumb, error) {
	rows, err := s.pool.Query(ctx, historyQuery, deviceID, nullTime(from), nullTime(to))
	if err != nil {
		return nil, fmt.Errorf("query telemetry for %s: %w", deviceID, err)
	}
	defer rows.Close()

	var crumbs []models.Breadcrumb
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.Timestamp, &r.Latitude, &r.Longitude, &r.FuelPct); err != nil {
			return nil, fmt.Errorf("scan telemetry for %s: %w", deviceID, err)
		}
		crumbs = append(crumbs, r.Breadcrumb(s.tanks.Liters(deviceID)))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read telemetry for %s: %w", deviceID, err)
	}
	return crumbs, nil
}

// Breadcrumb maps a hypertable row onto the tracking API's breadcrumb shape.
// The stored timestamp is authoritative, so it becomes the Unix time. With a
// tank capacity the fuel percentage becomes liters; without one it stays a
// percentage.
func (r Row) Breadcrumb(tankLiters float64) models.Breadcrumb {
	ts := r.Timestamp.Unix()
	b := models.Breadcrumb{UnixTime: &ts}
	if r.Latitude != nil && r.Longitude != nil {
		b.Position = &models.LatLng{Lat: *r.Latitude, Lng: *r.Longitude}
	}
	if r.FuelPct != nil {
		reading := models.SensorReading{
			Name:  "fuel_pct",
			Kind:  telemetry.FuelTankKind,
			Value: models.SensorValue(*r.FuelPct),
		}
		if tankLiters > 0 {
			reading.Name = "fuel_liters"
			reading.Value = models.SensorValue(*r.FuelPct / 100 * tankLiters)
		}
		b.Sensors = []models.SensorReading{reading}
	}
	return b
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
