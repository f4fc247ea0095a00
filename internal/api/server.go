package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"fleet-fuel-monitor/internal/alerts"
	"fleet-fuel-monitor/internal/consumption"
	"fleet-fuel-monitor/internal/db"
	"fleet-fuel-monitor/internal/models"
	"fleet-fuel-monitor/internal/parser"
	"fleet-fuel-monitor/internal/report"
	"fleet-fuel-monitor/internal/telemetry"

	"github.com/gorilla/mux"
)

// Server represents the API server
type Server struct {
	db       *db.Database
	reports  *report.Builder
	analyzer *consumption.Analyzer
	alerts   *alerts.Publisher
	router   *mux.Router
}

// NewServer creates a new API server. publisher may be nil.
func NewServer(database *db.Database, reports *report.Builder, analyzer *consumption.Analyzer, publisher *alerts.Publisher) *Server {
	s := &Server{
		db:       database,
		reports:  reports,
		analyzer: analyzer,
		alerts:   publisher,
		router:   mux.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Vehicle endpoints
	s.router.HandleFunc("/api/v1/vehicles", s.handleListVehicles).Methods("GET")
	s.router.HandleFunc("/api/v1/vehicles", s.handleCreateVehicle).Methods("POST")
	s.router.HandleFunc("/api/v1/vehicles/{id}", s.handleGetVehicle).Methods("GET")

	// Breadcrumb ingestion
	s.router.HandleFunc("/api/v1/breadcrumbs/{device_id}", s.handleIngestBreadcrumbs).Methods("POST")

	// Daily reports
	s.router.HandleFunc("/api/v1/reports/daily", s.handleDailyReport).Methods("GET")
	s.router.HandleFunc("/api/v1/reports/daily.csv", s.handleDailyReportCSV).Methods("GET")

	// Fill-up endpoints
	s.router.HandleFunc("/api/v1/fillups", s.handleListFillUps).Methods("GET")
	s.router.HandleFunc("/api/v1/fillups", s.handleCreateFillUp).Methods("POST")
	s.router.HandleFunc("/api/v1/fillups/{id}", s.handleGetFillUp).Methods("GET")
	s.router.HandleFunc("/api/v1/fillups/{id}", s.handleDeleteFillUp).Methods("DELETE")

	// Consumption analysis
	s.router.HandleFunc("/api/v1/consumption", s.handleConsumption).Methods("GET")

	// Stats endpoint
	s.router.HandleFunc("/api/v1/stats", s.handleStats).Methods("GET")

	// Add middleware
	s.router.Use(loggingMiddleware)
	s.router.Use(jsonMiddleware)
}

// Router returns the configured router
func (s *Server) Router() *mux.Router {
	return s.router
}

// Middleware
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %v", r.Method, r.URL.Path, time.Since(start))
	})
}

func jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Response helpers
type apiResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Meta    *meta       `json:"meta,omitempty"`
}

type meta struct {
	Total     int      `json:"total,omitempty"`
	Limit     int      `json:"limit,omitempty"`
	Offset    int      `json:"offset,omitempty"`
	QueryMs   int64    `json:"query_ms,omitempty"`
	Skipped   int64    `json:"skipped,omitempty"`
	Errors    []string `json:"errors,omitempty"`
	Published int      `json:"alerts_published,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data})
}

func respondError(w http.ResponseWriter, status int, message string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: false, Error: message})
}

func respondWithMeta(w http.ResponseWriter, status int, data interface{}, m *meta) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(apiResponse{Success: true, Data: data, Meta: m})
}

// respondStoreError maps a missing row to 404
func respondStoreError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, sql.ErrNoRows) {
		respondError(w, http.StatusNotFound, notFound)
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error())
}

// Handlers
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles, err := s.db.ListVehicles()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, vehicles)
}

func (s *Server) handleCreateVehicle(w http.ResponseWriter, r *http.Request) {
	var v models.Vehicle
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if v.ID == "" || v.Name == "" || v.LicensePlate == "" {
		respondError(w, http.StatusBadRequest, "id, name, and license_plate are required")
		return
	}

	if err := s.db.InsertVehicle(&v); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, v)
}

func (s *Server) handleGetVehicle(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	id := vars["id"]

	vehicle, err := s.db.GetVehicle(id)
	if err != nil {
		respondStoreError(w, err, "vehicle not found")
		return
	}

	respondJSON(w, http.StatusOK, vehicle)
}

func (s *Server) handleIngestBreadcrumbs(w http.ResponseWriter, r *http.Request) {
	deviceID := mux.Vars(r)["device_id"]

	var records []models.Breadcrumb
	if err := json.NewDecoder(r.Body).Decode(&records); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON array")
		return
	}
	if len(records) == 0 {
		respondError(w, http.StatusBadRequest, "empty array")
		return
	}

	var valid []models.Breadcrumb
	var problems []string
	for i := range records {
		if errs := parser.ValidateBreadcrumb(&records[i]); len(errs) > 0 {
			problems = append(problems, "record "+strconv.Itoa(i)+": "+errs[0])
			continue
		}
		valid = append(valid, records[i])
	}

	inserted, skipped, err := s.db.InsertBreadcrumbs(deviceID, valid, s.reports.Location())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithMeta(w, http.StatusCreated, map[string]int64{"inserted": inserted}, &meta{
		Skipped: skipped + int64(len(problems)),
		Errors:  problems,
	})
}

// buildReport runs the daily report for the request's device_id and
// from/to parameters. Without device_id every registered device is used.
func (s *Server) buildReport(r *http.Request) (*report.FleetReport, int, error) {
	q := r.URL.Query()
	from, to, err := report.ParseRange(q.Get("from"), q.Get("to"), s.reports.Location(), time.Now())
	if err != nil {
		return nil, http.StatusBadRequest, err
	}

	deviceIDs := q["device_id"]
	if len(deviceIDs) == 0 {
		deviceIDs, err = s.db.DeviceIDs()
		if err != nil {
			return nil, http.StatusInternalServerError, err
		}
	}

	return s.reports.Build(r.Context(), deviceIDs, from, to), http.StatusOK, nil
}

type dailyReportResponse struct {
	*report.FleetReport
	Rows   []report.Row       `json:"rows"`
	Totals []models.DailyStat `json:"totals"`
}

func (s *Server) handleDailyReport(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	rep, status, err := s.buildReport(r)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}

	respondWithMeta(w, http.StatusOK, dailyReportResponse{
		FleetReport: rep,
		Rows:        rep.Rows(),
		Totals:      rep.Totals(),
	}, &meta{Total: len(rep.Devices), QueryMs: time.Since(start).Milliseconds()})
}

func (s *Server) handleDailyReportCSV(w http.ResponseWriter, r *http.Request) {
	rep, status, err := s.buildReport(r)
	if err != nil {
		respondError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="daily_report.csv"`)
	if err := rep.WriteCSV(w); err != nil {
		log.Printf("Warning: writing CSV report: %v", err)
	}
}

// fillUpQuery reads fill-up filters from the query string
func fillUpQuery(r *http.Request, loc *time.Location) (models.FillUpQuery, error) {
	v := r.URL.Query()
	q := models.FillUpQuery{
		VehicleID: v.Get("vehicle_id"),
		Source:    v.Get("source"),
	}

	if s := v.Get("limit"); s != "" {
		q.Limit, _ = strconv.Atoi(s)
	}
	if s := v.Get("offset"); s != "" {
		q.Offset, _ = strconv.Atoi(s)
	}
	if s := v.Get("from"); s != "" {
		t, err := telemetry.ParseTimestamp(s, loc)
		if err != nil {
			return q, err
		}
		q.StartTime = t
	}
	if s := v.Get("to"); s != "" {
		t, err := telemetry.ParseTimestamp(s, loc)
		if err != nil {
			return q, err
		}
		q.EndTime = t
	}
	return q, nil
}

func (s *Server) handleListFillUps(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	q, err := fillUpQuery(r, s.reports.Location())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	fillUps, err := s.db.ListFillUps(q)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondWithMeta(w, http.StatusOK, fillUps, &meta{
		Total:   len(fillUps),
		Limit:   q.Limit,
		Offset:  q.Offset,
		QueryMs: time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleCreateFillUp(w http.ResponseWriter, r *http.Request) {
	var f models.FillUp
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if errs := parser.ValidateFillUp(&f); len(errs) > 0 {
		respondError(w, http.StatusBadRequest, errs[0])
		return
	}

	if err := s.db.InsertFillUp(&f); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusCreated, f)
}

func (s *Server) handleGetFillUp(w http.ResponseWriter, r *http.Request) {
	f, err := s.db.GetFillUp(mux.Vars(r)["id"])
	if err != nil {
		respondStoreError(w, err, "fill-up not found")
		return
	}
	respondJSON(w, http.StatusOK, f)
}

func (s *Server) handleDeleteFillUp(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.db.DeleteFillUp(id); err != nil {
		respondStoreError(w, err, "fill-up not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"deleted": id})
}

func (s *Server) handleConsumption(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	q, err := fillUpQuery(r, s.reports.Location())
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	q.Limit, q.Offset = 0, 0

	fillUps, err := s.db.ListFillUps(q)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	analyses := s.analyzer.Analyze(fillUps)

	published, err := s.alerts.Publish(r.Context(), analyses)
	if err != nil {
		log.Printf("Warning: publishing consumption alerts: %v", err)
	}

	respondWithMeta(w, http.StatusOK, analyses, &meta{
		Total:     len(analyses),
		QueryMs:   time.Since(start).Milliseconds(),
		Published: published,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, stats)
}
