// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data:
// calendar query parameters, dates, and JSON bodies.

package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"jobdesk/internal/core"
)

const (
	dateLayout   = "2006-01-02"
	maxBodyBytes = 1 << 20
)

// errBadRequest marks client input that failed to parse.
var errBadRequest = errors.New("bad request")

// MonthParams holds parsed year/month values from request parameters.
type MonthParams struct {
	Year     int
	Month    time.Month
	Selected time.Time
}

// ParseMonthParams extracts year, month and an optional selected day from
// query parameters. Missing year or month default to today's.
func ParseMonthParams(query url.Values, today time.Time) (MonthParams, error) {
	params := MonthParams{
		Year:  today.Year(),
		Month: today.Month(),
	}

	if v := strings.TrimSpace(query.Get("year")); v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y < 1 || y > 9999 {
			return MonthParams{}, fmt.Errorf("%w: invalid year %q", errBadRequest, v)
		}
		params.Year = y
	}
	if v := strings.TrimSpace(query.Get("month")); v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			return MonthParams{}, fmt.Errorf("%w: invalid month %q", errBadRequest, v)
		}
		params.Month = time.Month(m)
	}
	if v := strings.TrimSpace(query.Get("selected")); v != "" {
		d, err := ParseDate(v, today.Location())
		if err != nil {
			return MonthParams{}, err
		}
		params.Selected = d
	}

	return params, nil
}

// ParseDate parses a YYYY-MM-DD string as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid date %q, want YYYY-MM-DD", errBadRequest, s)
	}
	return d, nil
}

// ParseScheduledAt reads a timestamp the same way stored scheduledAt values
// are read. Timestamps without an offset are taken in loc.
func ParseScheduledAt(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: scheduledAt is required", errBadRequest)
	}
	t, ok := core.NewScheduledAt(s).In(loc)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: invalid scheduledAt %q", errBadRequest, s)
	}
	return t, nil
}

// ParseStatusFilter reads ?status=a,b and repeated ?status= values.
func ParseStatusFilter(query url.Values) []core.JobStatus {
	var out []core.JobStatus
	for _, v := range query["status"] {
		out = append(out, core.ParseStatuses(v)...)
	}
	return out
}

// decodeJSON reads a single JSON object from the request body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is empty", errBadRequest)
		}
		return fmt.Errorf("%w: malformed JSON: %v", errBadRequest, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: request body must hold a single JSON object", errBadRequest)
	}
	return nil
}

// amountText turns a JSON amount, number or string, into the text the
// lenient amount parser expects.
func amountText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	}
	return string(raw)
}
