package parser

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"fleet-fuel-monitor/internal/models"
	"fleet-fuel-monitor/internal/telemetry"
)

// Record is a breadcrumb tagged with the device that reported it
type Record struct {
	DeviceID string `json:"device_id"`
	models.Breadcrumb
}

// Parser handles parsing of breadcrumb and fill-up files
type Parser struct {
	format string
	loc    *time.Location
}

// NewParser creates a new parser with the specified format. Zone-less
// timestamps in fill-up files are read in loc.
func NewParser(format string, loc *time.Location) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	return &Parser{format: format, loc: loc}
}

// ParseFile parses a breadcrumb history file
func (p *Parser) ParseFile(filename string) ([]Record, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return p.Parse(file)
}

// Parse parses breadcrumbs from r in the parser's format
func (p *Parser) Parse(r io.Reader) ([]Record, error) {
	switch strings.ToLower(p.format) {
	case "csv":
		return p.parseCSV(r)
	case "json":
		return p.parseJSON(r)
	case "log":
		return p.parseLog(r)
	default:
		return nil, fmt.Errorf("unsupported format: %s", p.format)
	}
}

// GroupByDevice splits records per device, keeping file order
func GroupByDevice(records []Record) map[string][]models.Breadcrumb {
	out := make(map[string][]models.Breadcrumb)
	for _, r := range records {
		out[r.DeviceID] = append(out[r.DeviceID], r.Breadcrumb)
	}
	return out
}

// parseCSV parses CSV breadcrumbs with the columns
// device_id, dt_tracker, time, timestamp, lat, lng, distance, fuel
func (p *Parser) parseCSV(r io.Reader) ([]Record, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // Allow variable fields

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	indices := headerIndices(header)

	var results []Record
	lineNum := 1

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return results, fmt.Errorf("error at line %d: %w", lineNum, err)
		}
		lineNum++

		rec, err := p.rowToRecord(row, indices)
		if err != nil {
			log.Printf("Warning: line %d: %v", lineNum, err)
			continue
		}
		results = append(results, rec)
	}

	return results, nil
}

func headerIndices(header []string) map[string]int {
	indices := make(map[string]int)
	for i, h := range header {
		indices[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return indices
}

func (p *Parser) rowToRecord(row []string, indices map[string]int) (Record, error) {
	var rec Record

	getValue := func(key string) string {
		if idx, ok := indices[key]; ok && idx < len(row) {
			return strings.TrimSpace(row[idx])
		}
		return ""
	}

	rec.DeviceID = getValue("device_id")
	if rec.DeviceID == "" {
		return rec, fmt.Errorf("missing device_id")
	}

	rec.FormattedTime = getValue("dt_tracker")
	rec.RawTime = getValue("time")
	if v := getValue("timestamp"); v != "" {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return rec, fmt.Errorf("invalid timestamp: %w", err)
		}
		rec.UnixTime = &ts
	}

	lat, latErr := strconv.ParseFloat(getValue("lat"), 64)
	lng, lngErr := strconv.ParseFloat(getValue("lng"), 64)
	if latErr == nil && lngErr == nil {
		rec.Position = &models.LatLng{Lat: lat, Lng: lng}
	}

	if v := getValue("distance"); v != "" {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return rec, fmt.Errorf("invalid distance: %w", err)
		}
		rec.SegmentDistanceKm = &d
	}

	if v := getValue("fuel"); v != "" {
		rec.Sensors = []models.SensorReading{{
			Name:  "fuel",
			Kind:  telemetry.FuelTankKind,
			Value: models.SensorValue(models.ParseSensorValue(v)),
		}}
	}

	return rec, nil
}

// parseJSON parses a JSON array of records, or newline-delimited JSON
func (p *Parser) parseJSON(r io.Reader) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	var results []Record
	if err := json.Unmarshal(data, &results); err == nil {
		return results, nil
	}

	return p.parseJSONLines(bytes.NewReader(data))
}

// parseJSONLines parses newline-delimited JSON
func (p *Parser) parseJSONLines(r io.Reader) ([]Record, error) {
	var results []Record
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line == "[" || line == "]" {
			continue
		}

		line = strings.TrimSuffix(line, ",")

		var rec Record
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			log.Printf("Warning: line %d: %v", lineNum, err)
			continue
		}
		results = append(results, rec)
	}

	return results, scanner.Err()
}

// parseLog parses the tracker log format: time|device_id|lat,lng|distance|fuel
func (p *Parser) parseLog(r io.Reader) ([]Record, error) {
	var results []Record
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, "|")
		if len(parts) < 3 {
			log.Printf("Warning: line %d: insufficient fields", lineNum)
			continue
		}

		rec := Record{DeviceID: strings.TrimSpace(parts[1])}
		rec.RawTime = strings.TrimSpace(parts[0])

		coords := strings.Split(parts[2], ",")
		if len(coords) == 2 {
			lat, latErr := strconv.ParseFloat(strings.TrimSpace(coords[0]), 64)
			lng, lngErr := strconv.ParseFloat(strings.TrimSpace(coords[1]), 64)
			if latErr == nil && lngErr == nil {
				rec.Position = &models.LatLng{Lat: lat, Lng: lng}
			}
		}

		if len(parts) > 3 && strings.TrimSpace(parts[3]) != "" {
			if d, err := strconv.ParseFloat(strings.TrimSpace(parts[3]), 64); err == nil {
				rec.SegmentDistanceKm = &d
			}
		}

		if len(parts) > 4 && strings.TrimSpace(parts[4]) != "" {
			rec.Sensors = []models.SensorReading{{
				Name:  "fuel",
				Kind:  telemetry.FuelTankKind,
				Value: models.SensorValue(models.ParseSensorValue(parts[4])),
			}}
		}

		results = append(results, rec)
	}

	return results, scanner.Err()
}

// ParseFillUpFile parses a fill-up CSV with the columns
// vehicle_id, driver_id, quantity, odometer, unit_price, source, filled_at
func (p *Parser) ParseFillUpFile(filename string) ([]models.FillUp, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	return p.ParseFillUps(file)
}

// ParseFillUps parses fill-up CSV rows from r
func (p *Parser) ParseFillUps(r io.Reader) ([]models.FillUp, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	indices := headerIndices(header)

	var results []models.FillUp
	lineNum := 1

	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return results, fmt.Errorf("error at line %d: %w", lineNum, err)
		}
		lineNum++

		f, err := p.rowToFillUp(row, indices)
		if err != nil {
			log.Printf("Warning: line %d: %v", lineNum, err)
			continue
		}
		if errs := ValidateFillUp(&f); len(errs) > 0 {
			log.Printf("Warning: line %d: %s", lineNum, errs[0])
			continue
		}
		results = append(results, f)
	}

	return results, nil
}

func (p *Parser) rowToFillUp(row []string, indices map[string]int) (models.FillUp, error) {
	var f models.FillUp
	var err error

	getValue := func(key string) string {
		if idx, ok := indices[key]; ok && idx < len(row) {
			return strings.TrimSpace(row[idx])
		}
		return ""
	}

	f.VehicleID = getValue("vehicle_id")
	if v := getValue("driver_id"); v != "" {
		f.DriverID = &v
	}

	if f.QuantityLiters, err = strconv.ParseFloat(getValue("quantity"), 64); err != nil {
		return f, fmt.Errorf("invalid quantity: %w", err)
	}
	if f.OdometerKm, err = strconv.ParseFloat(getValue("odometer"), 64); err != nil {
		return f, fmt.Errorf("invalid odometer: %w", err)
	}
	if v := getValue("unit_price"); v != "" {
		price, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return f, fmt.Errorf("invalid unit_price: %w", err)
		}
		f.UnitPrice = &price
	}

	f.Source = strings.ToLower(getValue("source"))
	if f.Source == "" {
		f.Source = models.SourceStation
	}

	if v := getValue("filled_at"); v != "" {
		if f.FilledAt, err = telemetry.ParseTimestamp(v, p.loc); err != nil {
			return f, fmt.Errorf("invalid filled_at: %w", err)
		}
	}

	return f, nil
}
