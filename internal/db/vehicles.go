package db

import (
	"database/sql"

	"fleet-fuel-monitor/internal/models"
)

// InsertVehicle adds a new vehicle
func (db *Database) InsertVehicle(v *models.Vehicle) error {
	query := `INSERT INTO vehicles (id, name, license_plate, vehicle_type, device_id) VALUES (?, ?, ?, ?, ?)`
	_, err := db.conn.Exec(query, v.ID, v.Name, v.LicensePlate, v.VehicleType, nullString(v.DeviceID))
	return err
}

// GetVehicle retrieves a vehicle by ID
func (db *Database) GetVehicle(id string) (*models.Vehicle, error) {
	query := `SELECT id, name, license_plate, vehicle_type, device_id, created_at FROM vehicles WHERE id = ?`

	var v models.Vehicle
	var deviceID sql.NullString
	err := db.conn.QueryRow(query, id).Scan(&v.ID, &v.Name, &v.LicensePlate, &v.VehicleType, &deviceID, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	v.DeviceID = deviceID.String
	return &v, nil
}

// ListVehicles returns all vehicles
func (db *Database) ListVehicles() ([]models.Vehicle, error) {
	query := `SELECT id, name, license_plate, vehicle_type, device_id, created_at FROM vehicles ORDER BY name`

	rows, err := db.conn.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vehicles []models.Vehicle
	for rows.Next() {
		var v models.Vehicle
		var deviceID sql.NullString
		if err := rows.Scan(&v.ID, &v.Name, &v.LicensePlate, &v.VehicleType, &deviceID, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.DeviceID = deviceID.String
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

// DeviceIDs returns the telemetry device id of every vehicle, falling back
// to the vehicle id when no device is linked.
func (db *Database) DeviceIDs() ([]string, error) {
	vehicles, err := db.ListVehicles()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(vehicles))
	for _, v := range vehicles {
		if v.DeviceID != "" {
			ids = append(ids, v.DeviceID)
		} else {
			ids = append(ids, v.ID)
		}
	}
	return ids, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
