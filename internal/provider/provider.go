// Package provider holds the shared plumbing for upstream market-data
// adapters: the HTTP status interpretation table and tolerant JSON field
// types. Each adapter lives in its own subpackage and implements only the
// data kinds its upstream actually serves.
package provider

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"finbot/internal/domain"
	"finbot/internal/fetcher"
)

// CheckStatus translates an upstream HTTP status into the pipeline's
// sentinel errors. 2xx passes; everything else maps per the table the
// adapters share.
func CheckStatus(name string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%s: status %d: %w", name, status, fetcher.ErrAuth)
	case status == http.StatusPaymentRequired || status == http.StatusTooManyRequests:
		return fmt.Errorf("%s: status %d: %w", name, status, fetcher.ErrRateLimited)
	case status == http.StatusBadRequest:
		return fmt.Errorf("%s: status %d: %w", name, status, fetcher.ErrInvalidSymbol)
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: status %d: %w", name, status, fetcher.ErrUnavailable)
	default:
		return fmt.Errorf("%s: status %d: %w", name, status, fetcher.ErrUnavailable)
	}
}

// FlexFloat decodes a JSON field that may arrive as a number, a quoted
// number, a formatted string ("1.2B", "$45", "N/A") or null. Absent and
// unparseable values decode to NaN rather than failing the document.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*f = FlexFloat(math.NaN())
		return nil
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		*f = FlexFloat(v)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		*f = FlexFloat(math.NaN())
		return nil
	}
	if v, ok := domain.ParseNumber(str); ok {
		*f = FlexFloat(v)
		return nil
	}
	*f = FlexFloat(math.NaN())
	return nil
}

// Valid reports whether the field carried a usable number.
func (f FlexFloat) Valid() bool {
	return !math.IsNaN(float64(f))
}

// Ptr returns the value as an optional, nil when absent.
func (f FlexFloat) Ptr() *float64 {
	if !f.Valid() {
		return nil
	}
	v := float64(f)
	return &v
}

// Or returns the value, or def when absent.
func (f FlexFloat) Or(def float64) float64 {
	if !f.Valid() {
		return def
	}
	return float64(f)
}

// FlexString decodes a JSON field that may arrive as a string, number or
// null, applying placeholder cleaning.
type FlexString string

func (s *FlexString) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*s = ""
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		// Numbers and booleans keep their literal spelling.
		*s = FlexString(strings.Trim(raw, `"`))
		return nil
	}
	*s = FlexString(domain.CleanString(str))
	return nil
}

func (s FlexString) String() string { return string(s) }
