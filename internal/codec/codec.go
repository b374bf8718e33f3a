// Package codec implements the relay wire format: a UTF-8 text payload
// "<latitude>,<longitude>" with no framing, checksum or timestamp.
package codec

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"gps-relay/internal/models"
)

const separator = ","

type ParseError struct {
	Payload string
	Reason  string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed location payload %q: %s: %v", e.Payload, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed location payload %q: %s", e.Payload, e.Reason)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Encode writes the fix coordinates using the shortest decimal form that
// parses back to the same float64. Integral values keep a ".0" suffix.
func Encode(fix models.LocationFix) []byte {
	buf := make([]byte, 0, 32)
	buf = appendCoordinate(buf, fix.Latitude)
	buf = append(buf, separator...)
	buf = appendCoordinate(buf, fix.Longitude)
	return buf
}

func appendCoordinate(buf []byte, v float64) []byte {
	start := len(buf)
	buf = strconv.AppendFloat(buf, v, 'f', -1, 64)
	if !strings.Contains(string(buf[start:]), ".") {
		buf = append(buf, ".0"...)
	}
	return buf
}

// Decode parses a payload produced by Encode. The returned fix has no
// timestamp; receivers stamp it on arrival.
func Decode(payload []byte) (models.LocationFix, error) {
	text := strings.TrimSpace(string(payload))
	if text == "" {
		return models.LocationFix{}, &ParseError{Payload: text, Reason: "empty payload"}
	}

	fields := strings.Split(text, separator)
	if len(fields) != 2 {
		return models.LocationFix{}, &ParseError{
			Payload: text,
			Reason:  fmt.Sprintf("expected 2 fields, got %d", len(fields)),
		}
	}

	lat, err := parseCoordinate(fields[0])
	if err != nil {
		return models.LocationFix{}, &ParseError{Payload: text, Reason: "latitude", Err: err}
	}
	lon, err := parseCoordinate(fields[1])
	if err != nil {
		return models.LocationFix{}, &ParseError{Payload: text, Reason: "longitude", Err: err}
	}

	return models.NewLocationFix(lat, lon), nil
}

func parseCoordinate(field string) (float64, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return 0, fmt.Errorf("empty field")
	}
	for _, r := range field {
		switch {
		case r >= '0' && r <= '9':
		case r == '.', r == '-', r == '+', r == 'e', r == 'E':
		default:
			return 0, fmt.Errorf("unexpected character %q", r)
		}
	}

	v, err := strconv.ParseFloat(field, 64)
	if err != nil {
		return 0, err
	}
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, fmt.Errorf("not a finite number")
	}
	return v, nil
}
