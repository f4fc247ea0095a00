package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fleet-fuel-monitor/internal/consumption"
	"fleet-fuel-monitor/internal/db"
	"fleet-fuel-monitor/internal/models"
	"fleet-fuel-monitor/internal/report"
)

func newTestServer(t *testing.T) (*Server, *db.Database) {
	t.Helper()

	database, err := db.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("db.New() error = %v", err)
	}
	t.Cleanup(func() { database.Close() })

	builder := report.NewBuilder(database, time.UTC, 2)
	analyzer := consumption.NewAnalyzer(consumption.DefaultThresholds(), 12.5)
	return NewServer(database, builder, analyzer, nil), database
}

func do(t *testing.T, s *Server, method, path string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)

	var resp apiResponse
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, resp
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)

	rec, resp := do(t, s, "GET", "/health", nil)
	if rec.Code != http.StatusOK || !resp.Success {
		t.Errorf("Expected healthy 200, got %d %+v", rec.Code, resp)
	}
}

func TestVehicleEndpoints(t *testing.T) {
	s, _ := newTestServer(t)

	rec, _ := do(t, s, "POST", "/api/v1/vehicles", map[string]string{"id": "VEH-001"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing fields, got %d", rec.Code)
	}

	v := models.Vehicle{ID: "VEH-001", Name: "Truck 1", LicensePlate: "FL-0001", VehicleType: "Truck", DeviceID: "dev-1"}
	rec, _ = do(t, s, "POST", "/api/v1/vehicles", v)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	rec, resp := do(t, s, "GET", "/api/v1/vehicles/VEH-001", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	data := resp.Data.(map[string]interface{})
	if data["device_id"] != "dev-1" {
		t.Errorf("Expected device_id dev-1, got %v", data["device_id"])
	}

	rec, _ = do(t, s, "GET", "/api/v1/vehicles/nope", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", rec.Code)
	}

	_, resp = do(t, s, "GET", "/api/v1/vehicles", nil)
	if list := resp.Data.([]interface{}); len(list) != 1 {
		t.Errorf("Expected 1 vehicle, got %d", len(list))
	}
}

func TestIngestAndDailyReport(t *testing.T) {
	s, database := newTestServer(t)

	if err := database.InsertVehicle(&models.Vehicle{ID: "VEH-001", Name: "Truck 1", LicensePlate: "FL-0001", VehicleType: "Truck", DeviceID: "dev-1"}); err != nil {
		t.Fatalf("InsertVehicle() error = %v", err)
	}

	body := `[
		{"dt_tracker": "2024-03-01 08:00:00", "distance": 0, "sensors": [{"name": "Fuel", "type": "fuel", "value": "100 L"}]},
		{"dt_tracker": "2024-03-01 09:00:00", "distance": 10, "sensors": [{"name": "Fuel", "type": "fuel", "value": 95}]},
		{"dt_tracker": "2024-03-01 10:00:00", "distance": 12, "sensors": [{"name": "Fuel", "type": "fuel", "value": 90}]},
		{"distance": 5}
	]`
	req := httptest.NewRequest("POST", "/api/v1/breadcrumbs/dev-1", strings.NewReader(body))
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var ingest struct {
		Data map[string]int64 `json:"data"`
		Meta meta             `json:"meta"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &ingest); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ingest.Data["inserted"] != 3 || ingest.Meta.Skipped != 1 {
		t.Errorf("Expected 3 inserted 1 skipped, got %v / %d", ingest.Data, ingest.Meta.Skipped)
	}

	req = httptest.NewRequest("GET", "/api/v1/reports/daily?from=2024-03-01&to=2024-03-01", nil)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var daily struct {
		Data struct {
			Devices []string           `json:"devices"`
			Totals  []models.DailyStat `json:"totals"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &daily); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(daily.Data.Totals) != 1 {
		t.Fatalf("Expected 1 device total, got %+v", daily.Data)
	}
	total := daily.Data.Totals[0]
	if total.DeviceID != "dev-1" || total.DistanceKm != 22 || total.FuelConsumedLiters != 10 {
		t.Errorf("Expected dev-1 22km 10L, got %+v", total)
	}

	req = httptest.NewRequest("GET", "/api/v1/reports/daily.csv?device_id=dev-1&from=2024-03-01&to=2024-03-01", nil)
	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Expected text/csv, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "2024-03-01,22.00,10.00") {
		t.Errorf("Unexpected CSV:\n%s", rec.Body.String())
	}

	rec, _ = do(t, s, "GET", "/api/v1/reports/daily?from=2024-03-05&to=2024-03-01", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for inverted range, got %d", rec.Code)
	}
}

func TestFillUpsAndConsumption(t *testing.T) {
	s, _ := newTestServer(t)

	rec, _ := do(t, s, "POST", "/api/v1/fillups", map[string]interface{}{"vehicle_id": "VEH-001", "quantity": -1})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for negative quantity, got %d", rec.Code)
	}

	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	var firstID string
	for i, f := range []models.FillUp{
		{VehicleID: "VEH-001", QuantityLiters: 40, OdometerKm: 1000, FilledAt: base},
		{VehicleID: "VEH-001", QuantityLiters: 35, OdometerKm: 1500, FilledAt: base.Add(48 * time.Hour)},
	} {
		rec, resp := do(t, s, "POST", "/api/v1/fillups", f)
		if rec.Code != http.StatusCreated {
			t.Fatalf("Expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		if i == 0 {
			firstID = resp.Data.(map[string]interface{})["id"].(string)
		}
	}

	rec, resp := do(t, s, "GET", "/api/v1/fillups?vehicle_id=VEH-001", nil)
	if rec.Code != http.StatusOK || resp.Meta == nil || resp.Meta.Total != 2 {
		t.Errorf("Expected 2 fill-ups, got %d %+v", rec.Code, resp.Meta)
	}

	rec, _ = do(t, s, "GET", "/api/v1/fillups/"+firstID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", rec.Code)
	}

	req := httptest.NewRequest("GET", "/api/v1/consumption", nil)
	crec := httptest.NewRecorder()
	s.Router().ServeHTTP(crec, req)
	var analysis struct {
		Data []models.ConsumptionAnalysis `json:"data"`
	}
	if err := json.Unmarshal(crec.Body.Bytes(), &analysis); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(analysis.Data) != 1 {
		t.Fatalf("Expected 1 analysis, got %d", len(analysis.Data))
	}
	a := analysis.Data[0]
	if a.TotalLiters != 75 || a.TotalKm != 500 || a.Level != models.LevelGreen {
		t.Errorf("Expected 75L over 500km green, got %+v", a)
	}

	rec, _ = do(t, s, "DELETE", "/api/v1/fillups/"+firstID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("Expected 200 on delete, got %d", rec.Code)
	}
	rec, _ = do(t, s, "DELETE", "/api/v1/fillups/"+firstID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 on second delete, got %d", rec.Code)
	}

	rec, resp = do(t, s, "GET", "/api/v1/stats", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if stats := resp.Data.(map[string]interface{}); stats["total_fillups"] != float64(1) {
		t.Errorf("Expected 1 fill-up in stats, got %v", stats["total_fillups"])
	}
}
