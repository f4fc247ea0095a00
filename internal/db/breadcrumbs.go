package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"fleet-fuel-monitor/internal/models"
	"fleet-fuel-monitor/internal/telemetry"
)

// InsertBreadcrumbs stores a device's breadcrumbs in one transaction.
// Records whose time cannot be resolved in loc are not stored; their count
// is returned as skipped.
func (db *Database) InsertBreadcrumbs(deviceID string, records []models.Breadcrumb, loc *time.Location) (inserted, skipped int64, err error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO breadcrumbs
		(device_id, occurred_at, formatted_time, raw_time, unix_time,
		 latitude, longitude, segment_distance_km, sensors)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, 0, err
	}
	defer stmt.Close()

	for _, b := range records {
		at, ok := telemetry.ResolveTime(b, loc)
		if !ok {
			skipped++
			continue
		}

		var lat, lng sql.NullFloat64
		if b.Position != nil {
			lat = sql.NullFloat64{Float64: b.Position.Lat, Valid: true}
			lng = sql.NullFloat64{Float64: b.Position.Lng, Valid: true}
		}
		var dist sql.NullFloat64
		if b.SegmentDistanceKm != nil {
			dist = sql.NullFloat64{Float64: *b.SegmentDistanceKm, Valid: true}
		}
		var unix sql.NullInt64
		if b.UnixTime != nil {
			unix = sql.NullInt64{Int64: *b.UnixTime, Valid: true}
		}
		var sensors sql.NullString
		if len(b.Sensors) > 0 {
			data, err := json.Marshal(b.Sensors)
			if err != nil {
				return inserted, skipped, fmt.Errorf("encode sensors: %w", err)
			}
			sensors = sql.NullString{String: string(data), Valid: true}
		}

		_, err := stmt.Exec(
			deviceID, at.UTC(), nullString(b.FormattedTime), nullString(b.RawTime), unix,
			lat, lng, dist, sensors,
		)
		if err != nil {
			return inserted, skipped, err
		}
		inserted++
	}

	return inserted, skipped, tx.Commit()
}

// QueryBreadcrumbs returns stored breadcrumbs in time order
func (db *Database) QueryBreadcrumbs(q models.BreadcrumbQuery) ([]models.Breadcrumb, error) {
	query := `
		SELECT formatted_time, raw_time, unix_time, latitude, longitude, segment_distance_km, sensors
		FROM breadcrumbs
		WHERE device_id = ?
	`
	args := []interface{}{q.DeviceID}

	if !q.StartTime.IsZero() {
		query += " AND occurred_at >= ?"
		args = append(args, q.StartTime.UTC())
	}
	if !q.EndTime.IsZero() {
		query += " AND occurred_at <= ?"
		args = append(args, q.EndTime.UTC())
	}
	query += " ORDER BY occurred_at ASC"
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.Breadcrumb
	for rows.Next() {
		var (
			b                  models.Breadcrumb
			formatted, raw     sql.NullString
			unix               sql.NullInt64
			lat, lng, distance sql.NullFloat64
			sensors            sql.NullString
		)
		if err := rows.Scan(&formatted, &raw, &unix, &lat, &lng, &distance, &sensors); err != nil {
			return nil, err
		}

		b.FormattedTime = formatted.String
		b.RawTime = raw.String
		if unix.Valid {
			v := unix.Int64
			b.UnixTime = &v
		}
		if lat.Valid && lng.Valid {
			b.Position = &models.LatLng{Lat: lat.Float64, Lng: lng.Float64}
		}
		if distance.Valid {
			v := distance.Float64
			b.SegmentDistanceKm = &v
		}
		if sensors.Valid {
			if err := json.Unmarshal([]byte(sensors.String), &b.Sensors); err != nil {
				log.Printf("Warning: device %s: bad sensor payload: %v", q.DeviceID, err)
			}
		}
		results = append(results, b)
	}

	return results, rows.Err()
}

// History serves stored breadcrumbs as a telemetry source
func (db *Database) History(ctx context.Context, deviceID string, from, to time.Time) ([]models.Breadcrumb, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return db.QueryBreadcrumbs(models.BreadcrumbQuery{DeviceID: deviceID, StartTime: from, EndTime: to})
}
