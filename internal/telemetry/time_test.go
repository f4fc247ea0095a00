package telemetry

import (
	"testing"
	"time"

	"fleet-fuel-monitor/internal/models"
)

func TestParseTimestamp(t *testing.T) {
	want := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		input   string
		want    time.Time
		wantErr bool
	}{
		{name: "rfc3339", input: "2024-03-01T10:30:00Z", want: want},
		{name: "rfc3339 with offset", input: "2024-03-01T11:30:00+01:00", want: want},
		{name: "space separated", input: "2024-03-01 10:30:00", want: want},
		{name: "slash separated", input: "2024/03/01 10:30:00", want: want},
		{name: "us date", input: "03/01/2024 10:30:00", want: want},
		{name: "compact", input: "20240301103000", want: want},
		{name: "unix seconds", input: "1709289000", want: want},
		{name: "unix millis", input: "1709289000000", want: want},
		{name: "date only", input: "2024-03-01", want: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)},
		{name: "garbage", input: "yesterday", wantErr: true},
		{name: "empty", input: "  ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.input, time.UTC)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseTimestamp() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestResolveTimePrefersMostSpecific(t *testing.T) {
	unix := time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC).Unix()

	tests := []struct {
		name string
		b    models.Breadcrumb
		want time.Time
		ok   bool
	}{
		{
			name: "formatted wins",
			b:    models.Breadcrumb{FormattedTime: "2024-03-01 08:00:00", RawTime: "2024-03-01 09:00:00", UnixTime: &unix},
			want: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
			ok:   true,
		},
		{
			name: "raw when formatted unparseable",
			b:    models.Breadcrumb{FormattedTime: "n/a", RawTime: "2024-03-01 09:00:00", UnixTime: &unix},
			want: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
			ok:   true,
		},
		{
			name: "unix fallback",
			b:    models.Breadcrumb{UnixTime: &unix},
			want: time.Unix(unix, 0),
			ok:   true,
		},
		{name: "nothing", b: models.Breadcrumb{}, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ResolveTime(tt.b, time.UTC)
			if ok != tt.ok {
				t.Fatalf("Expected ok=%v, got %v", tt.ok, ok)
			}
			if ok && !got.Equal(tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestDateKeyUsesReportLocation(t *testing.T) {
	casablanca := time.FixedZone("WEST", 60*60)
	unix := time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC).Unix()

	// Zone-less strings are read in the report location, so both encodings
	// of the same instant land on the same date.
	fromUnix, _ := ResolveTime(models.Breadcrumb{UnixTime: &unix}, casablanca)
	fromString, _ := ResolveTime(models.Breadcrumb{FormattedTime: "2024-03-02 00:30:00"}, casablanca)

	if !fromUnix.Equal(fromString) {
		t.Fatalf("Expected identical instants, got %v and %v", fromUnix, fromString)
	}
	if got := DateKey(fromUnix, casablanca); got != "2024-03-02" {
		t.Errorf("Expected 2024-03-02, got %s", got)
	}
	if got := DateKey(fromUnix, time.UTC); got != "2024-03-01" {
		t.Errorf("Expected 2024-03-01 in UTC, got %s", got)
	}
}
