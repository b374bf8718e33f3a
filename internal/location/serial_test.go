package location

import (
	"context"
	"errors"
	"io"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const (
	validRMC   = "$GPRMC,220516,A,5133.82,N,00042.24,W,173.8,231.8,130694,004.2,W*70"
	invalidRMC = "$GPRMC,220516,V,5133.82,N,00042.24,W,173.8,231.8,130694,004.2,W*67"
	validGGA   = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
	noFixGGA   = "$GPGGA,123519,4807.038,N,01131.000,E,0,08,0.9,545.4,M,46.9,M,,*46"
)

func TestSerialSourceRMC(t *testing.T) {
	stream := io.NopCloser(strings.NewReader(strings.Join([]string{
		"garbage",
		"$GPRMC,broken*00",
		invalidRMC,
		validRMC,
		"",
	}, "\r\n")))

	src := NewSerialSource(stream, "test", zerolog.Nop())
	if err := src.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	fix, ok := src.LastKnown(SerialProviderName)
	if !ok {
		t.Fatal("expected a fix")
	}
	if math.Abs(fix.Latitude-51.563667) > 1e-5 || math.Abs(fix.Longitude+0.704) > 1e-5 {
		t.Errorf("unexpected fix %v", fix)
	}
	want := time.Date(1994, time.June, 13, 22, 5, 16, 0, time.UTC)
	if !fix.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", fix.Timestamp, want)
	}
}

func TestSerialSourceGGA(t *testing.T) {
	src := NewSerialSource(io.NopCloser(strings.NewReader(noFixGGA+"\r\n")), "test", zerolog.Nop())
	_ = src.Run(context.Background())
	if _, ok := src.LastKnown(SerialProviderName); ok {
		t.Fatal("GGA without fix must be ignored")
	}

	src = NewSerialSource(io.NopCloser(strings.NewReader(validGGA+"\r\n")), "test", zerolog.Nop())
	_ = src.Run(context.Background())
	fix, ok := src.LastKnown(SerialProviderName)
	if !ok {
		t.Fatal("expected a fix")
	}
	if math.Abs(fix.Latitude-48.1173) > 1e-4 || math.Abs(fix.Longitude-11.516667) > 1e-4 {
		t.Errorf("unexpected fix %v", fix)
	}
}

func TestSerialSourcePermission(t *testing.T) {
	src := NewSerialSource(io.NopCloser(strings.NewReader("")), "test", zerolog.Nop())
	if err := src.CheckPermission(SerialProviderName); err != nil {
		t.Error(err)
	}
	if err := src.CheckPermission("network"); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("CheckPermission(network) = %v", err)
	}
}

func TestSerialSourceStopsOnCancel(t *testing.T) {
	r, w := io.Pipe()
	src := NewSerialSource(r, "pipe", zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx) }()

	if _, err := w.Write([]byte(validRMC + "\r\n")); err != nil {
		t.Fatal(err)
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
