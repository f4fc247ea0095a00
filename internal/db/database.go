package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Database wraps the SQLite connection
type Database struct {
	conn *sql.DB
}

// New creates a new database connection
func New(dbPath string) (*Database, error) {
	// Enable WAL mode and other optimizations via connection string
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_foreign_keys=on", dbPath)

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	conn.SetMaxOpenConns(1) // SQLite works best with single writer
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	db := &Database{conn: conn}

	if err := db.initialize(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	return db, nil
}

// initialize creates tables and indexes
func (db *Database) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vehicles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		license_plate TEXT UNIQUE NOT NULL,
		vehicle_type TEXT NOT NULL,
		device_id TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS breadcrumbs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		device_id TEXT NOT NULL,
		occurred_at DATETIME NOT NULL,
		formatted_time TEXT,
		raw_time TEXT,
		unix_time INTEGER,
		latitude REAL,
		longitude REAL,
		segment_distance_km REAL,
		sensors TEXT
	);

	CREATE TABLE IF NOT EXISTS fuel_fillups (
		id TEXT PRIMARY KEY,
		vehicle_id TEXT NOT NULL,
		driver_id TEXT,
		quantity_liters REAL NOT NULL,
		odometer_km REAL NOT NULL,
		unit_price REAL,
		source TEXT NOT NULL,
		filled_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_breadcrumbs_device_time ON breadcrumbs(device_id, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_fillups_vehicle ON fuel_fillups(vehicle_id);
	CREATE INDEX IF NOT EXISTS idx_fillups_filled_at ON fuel_fillups(filled_at);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Close closes the database connection
func (db *Database) Close() error {
	return db.conn.Close()
}

// GetStats returns database statistics
func (db *Database) GetStats() (map[string]interface{}, error) {
	stats := make(map[string]interface{})

	counts := []struct {
		key   string
		query string
	}{
		{"total_vehicles", "SELECT COUNT(*) FROM vehicles"},
		{"total_breadcrumbs", "SELECT COUNT(*) FROM breadcrumbs"},
		{"tracked_devices", "SELECT COUNT(DISTINCT device_id) FROM breadcrumbs"},
		{"total_fillups", "SELECT COUNT(*) FROM fuel_fillups"},
	}
	for _, c := range counts {
		var n int64
		if err := db.conn.QueryRow(c.query).Scan(&n); err != nil {
			return nil, fmt.Errorf("%s: %w", c.key, err)
		}
		stats[c.key] = n
	}

	var liters sql.NullFloat64
	if err := db.conn.QueryRow("SELECT SUM(quantity_liters) FROM fuel_fillups").Scan(&liters); err != nil {
		return nil, fmt.Errorf("total_fuel_liters: %w", err)
	}
	stats["total_fuel_liters"] = liters.Float64

	return stats, nil
}
