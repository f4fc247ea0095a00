package telemetry

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"fleet-fuel-monitor/internal/models"
)

// DateLayout is the calendar-date key of a daily bucket
const DateLayout = "2006-01-02"

// Layouts without a zone are interpreted in the caller's location.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04:05.000",
	"01/02/2006 15:04:05",
	"20060102150405",
	"2006-01-02",
}

// ParseTimestamp tries multiple timestamp formats, then Unix seconds or
// milliseconds. The result is expressed in loc.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}

	// A 14-digit compact time would also parse as Unix seconds.
	if len(s) != 14 {
		if ts, err := strconv.ParseInt(s, 10, 64); err == nil {
			return unixToTime(ts, loc), nil
		}
	}

	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t.In(loc), nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
}

// unixToTime accepts seconds or milliseconds.
func unixToTime(ts int64, loc *time.Location) time.Time {
	if ts > 1e12 || ts < -1e12 {
		return time.UnixMilli(ts).In(loc)
	}
	return time.Unix(ts, 0).In(loc)
}

// ResolveTime picks the authoritative time of a breadcrumb: the formatted
// tracker time, then the raw time string, then the Unix timestamp. The first
// one that parses wins.
func ResolveTime(b models.Breadcrumb, loc *time.Location) (time.Time, bool) {
	if loc == nil {
		loc = time.UTC
	}
	for _, s := range []string{b.FormattedTime, b.RawTime} {
		if s == "" {
			continue
		}
		if t, err := ParseTimestamp(s, loc); err == nil {
			return t, true
		}
	}
	if b.UnixTime != nil {
		return unixToTime(*b.UnixTime, loc), true
	}
	return time.Time{}, false
}

// DateKey is the calendar date of t in loc
func DateKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(DateLayout)
}
