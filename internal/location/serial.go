package location

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
	"github.com/rs/zerolog"

	"gps-relay/internal/models"
)

const SerialProviderName = "gps"

type SerialOptions struct {
	PortName string
	BaudRate uint
}

// SerialSource reads NMEA 0183 sentences from a GPS receiver and publishes
// RMC and GGA fixes under SerialProviderName.
type SerialSource struct {
	*Feed
	port      io.ReadCloser
	portName  string
	logger    zerolog.Logger
	closeOnce sync.Once
}

func OpenSerial(opts SerialOptions, logger zerolog.Logger) (*SerialSource, error) {
	serialOpts := serial.OpenOptions{
		PortName:              opts.PortName,
		BaudRate:              opts.BaudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}

	port, err := serial.Open(serialOpts)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: open %s: %v", ErrPermissionDenied, opts.PortName, err)
		}
		return nil, fmt.Errorf("failed to open GPS serial port %s: %w", opts.PortName, err)
	}

	logger.Info().
		Str("port", opts.PortName).
		Uint("baud_rate", opts.BaudRate).
		Msg("GPS serial port opened")

	return NewSerialSource(port, opts.PortName, logger), nil
}

// NewSerialSource wraps an already open NMEA stream.
func NewSerialSource(port io.ReadCloser, portName string, logger zerolog.Logger) *SerialSource {
	return &SerialSource{
		Feed:     NewFeed(),
		port:     port,
		portName: portName,
		logger:   logger.With().Str("port", portName).Logger(),
	}
}

func (s *SerialSource) CheckPermission(provider string) error {
	if provider != SerialProviderName {
		return fmt.Errorf("%w: provider %s is not served by serial port %s", ErrPermissionDenied, provider, s.portName)
	}
	return s.Feed.CheckPermission(provider)
}

// Run reads sentences until ctx is done or the port fails.
func (s *SerialSource) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	reader := bufio.NewReader(s.port)
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			s.handleLine(line)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				s.logger.Info().Msg("GPS stream ended")
				return nil
			}
			return fmt.Errorf("GPS read error: %w", err)
		}
	}
}

func (s *SerialSource) handleLine(line string) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return
	}

	sentence, err := nmea.Parse(line)
	if err != nil {
		s.logger.Debug().Err(err).Str("line", line).Msg("NMEA parse error")
		return
	}

	fix, ok := fixFromSentence(sentence)
	if !ok {
		return
	}
	if err := fix.Validate(); err != nil {
		s.logger.Warn().Err(err).Msg("discarding out of range GPS fix")
		return
	}
	s.Publish(SerialProviderName, fix)
}

func fixFromSentence(sentence nmea.Sentence) (models.LocationFix, bool) {
	switch sentence.DataType() {
	case nmea.TypeRMC:
		m := sentence.(nmea.RMC)
		if m.Validity != nmea.ValidRMC {
			return models.LocationFix{}, false
		}
		fix := models.NewLocationFix(m.Latitude, m.Longitude)
		if m.Date.Valid && m.Time.Valid {
			fix = fix.WithTimestamp(rmcTime(m.Date, m.Time))
		}
		return fix, true
	case nmea.TypeGGA:
		m := sentence.(nmea.GGA)
		if m.FixQuality == nmea.Invalid {
			return models.LocationFix{}, false
		}
		return models.NewLocationFix(m.Latitude, m.Longitude), true
	default:
		return models.LocationFix{}, false
	}
}

func rmcTime(d nmea.Date, t nmea.Time) time.Time {
	year := 2000 + d.YY
	if d.YY >= 80 {
		year = 1900 + d.YY
	}
	return time.Date(year, time.Month(d.MM), d.DD, t.Hour, t.Minute, t.Second, t.Millisecond*int(time.Millisecond), time.UTC)
}

func (s *SerialSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.port.Close()
	})
	return err
}

var _ Source = (*SerialSource)(nil)
