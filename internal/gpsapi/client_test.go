package gpsapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestClientHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/history" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("X-API-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("device_id") != "866001" {
			t.Errorf("Expected device_id 866001, got %q", r.URL.Query().Get("device_id"))
		}
		if r.URL.Query().Get("from") != "2024-03-01 00:00:00" {
			t.Errorf("Expected from 2024-03-01 00:00:00, got %q", r.URL.Query().Get("from"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"dt_tracker":"2024-03-01 10:00:00","position":{"lat":33.5,"lng":-7.6},"sensors":[{"name":"Fuel","type":"fuel","value":"50 l"}]},
			{"timestamp":1709290800,"distance":1.2}
		]`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "secret", time.Second, time.UTC)
	from := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	crumbs, err := client.History(context.Background(), "866001", from, time.Time{})
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(crumbs) != 2 {
		t.Fatalf("Expected 2 breadcrumbs, got %d", len(crumbs))
	}
	if crumbs[0].Position == nil || float64(crumbs[0].Sensors[0].Value) != 50 {
		t.Errorf("Unexpected first breadcrumb: %+v", crumbs[0])
	}
	if crumbs[1].SegmentDistanceKm == nil || *crumbs[1].SegmentDistanceKm != 1.2 {
		t.Errorf("Expected distance 1.2, got %v", crumbs[1].SegmentDistanceKm)
	}
}

func TestClientHistoryDecodeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"timestamp":1709290800,"distance":"n/a"}]`))
	}))
	defer server.Close()

	_, err := NewClient(server.URL, "", time.Second, nil).History(context.Background(), "866001", time.Time{}, time.Time{})
	if err == nil {
		t.Fatal("Expected decode error for non-numeric distance")
	}
}

func TestClientStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second, nil)
	_, err := client.History(context.Background(), "866001", time.Time{}, time.Time{})

	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("Expected StatusError, got %v", err)
	}
	if statusErr.Code != http.StatusTooManyRequests || statusErr.Body != "quota exceeded" {
		t.Errorf("Unexpected status error: %+v", statusErr)
	}
}

func TestClientDevices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"imei":"866001","name":"Tipper 1","active":true},{"imei":"866002","name":"Bus 4","active":false}]`))
	}))
	defer server.Close()

	devices, err := NewClient(server.URL, "", time.Second, nil).Devices(context.Background())
	if err != nil {
		t.Fatalf("Devices() error = %v", err)
	}
	if len(devices) != 2 || devices[0].ID != "866001" || devices[1].Active {
		t.Errorf("Unexpected devices: %+v", devices)
	}
}
