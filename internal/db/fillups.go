package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"fleet-fuel-monitor/internal/models"
)

const fillUpColumns = `id, vehicle_id, driver_id, quantity_liters, odometer_km, unit_price, source, filled_at`

// InsertFillUp stores a fill-up, assigning an id when it has none
func (db *Database) InsertFillUp(f *models.FillUp) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.Source == "" {
		f.Source = models.SourceStation
	}
	if f.FilledAt.IsZero() {
		f.FilledAt = time.Now()
	}

	query := `INSERT INTO fuel_fillups (` + fillUpColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := db.conn.Exec(query,
		f.ID, f.VehicleID, nullStringPtr(f.DriverID), f.QuantityLiters, f.OdometerKm,
		nullFloatPtr(f.UnitPrice), f.Source, f.FilledAt.UTC(),
	)
	return err
}

// InsertFillUpBatch stores many fill-ups in one transaction
func (db *Database) InsertFillUpBatch(records []models.FillUp) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO fuel_fillups (` + fillUpColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := time.Now()
	var count int64
	for i := range records {
		f := &records[i]
		if f.ID == "" {
			f.ID = uuid.NewString()
		}
		if f.Source == "" {
			f.Source = models.SourceStation
		}
		if f.FilledAt.IsZero() {
			f.FilledAt = now
		}
		_, err := stmt.Exec(
			f.ID, f.VehicleID, nullStringPtr(f.DriverID), f.QuantityLiters, f.OdometerKm,
			nullFloatPtr(f.UnitPrice), f.Source, f.FilledAt.UTC(),
		)
		if err != nil {
			return count, err
		}
		count++
	}

	return count, tx.Commit()
}

// GetFillUp retrieves a fill-up by id
func (db *Database) GetFillUp(id string) (*models.FillUp, error) {
	row := db.conn.QueryRow(`SELECT `+fillUpColumns+` FROM fuel_fillups WHERE id = ?`, id)
	return scanFillUp(row)
}

// DeleteFillUp removes a fill-up; sql.ErrNoRows when it does not exist
func (db *Database) DeleteFillUp(id string) error {
	res, err := db.conn.Exec(`DELETE FROM fuel_fillups WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListFillUps retrieves fill-ups based on query parameters
func (db *Database) ListFillUps(q models.FillUpQuery) ([]models.FillUp, error) {
	var conditions []string
	var args []interface{}

	query := `SELECT ` + fillUpColumns + ` FROM fuel_fillups`

	if q.VehicleID != "" {
		conditions = append(conditions, "vehicle_id = ?")
		args = append(args, q.VehicleID)
	}
	if q.Source != "" {
		conditions = append(conditions, "source = ?")
		args = append(args, q.Source)
	}
	if !q.StartTime.IsZero() {
		conditions = append(conditions, "filled_at >= ?")
		args = append(args, q.StartTime.UTC())
	}
	if !q.EndTime.IsZero() {
		conditions = append(conditions, "filled_at <= ?")
		args = append(args, q.EndTime.UTC())
	}

	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY filled_at ASC, odometer_km ASC"

	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
		if q.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", q.Offset)
		}
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []models.FillUp
	for rows.Next() {
		f, err := scanFillUp(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *f)
	}
	return results, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFillUp(s scanner) (*models.FillUp, error) {
	var f models.FillUp
	var driver sql.NullString
	var price sql.NullFloat64

	err := s.Scan(&f.ID, &f.VehicleID, &driver, &f.QuantityLiters, &f.OdometerKm, &price, &f.Source, &f.FilledAt)
	if err != nil {
		return nil, err
	}
	if driver.Valid {
		d := driver.String
		f.DriverID = &d
	}
	if price.Valid {
		p := price.Float64
		f.UnitPrice = &p
	}
	return &f, nil
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullFloatPtr(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
