// Package decorator wraps an amplifier driver with recording, network
// marker injection, metrics, and monitoring, without changing acquisition
// semantics. The wrapper implements the same contract it wraps, so callers
// and further wrappers cannot tell it from a bare driver.
package decorator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/neuroline/ampstream/pkg/amp"
	"github.com/neuroline/ampstream/pkg/amp/session"
	"github.com/neuroline/ampstream/pkg/monitor"
	"github.com/neuroline/ampstream/pkg/util"
)

// Amp decorates an inner amplifier. All lifecycle calls forward to the
// inner driver first; the decorations only engage on success, so the
// state machine the caller observes is exactly the inner driver's.
type Amp struct {
	inner      amp.Amplifier
	driverName string
	logger     zerolog.Logger
	writeAPI   api.WriteAPI
	mon        *monitor.Server
	recordDir  string
	markerPort int
	hasMarkers bool

	// per-session state
	channels   []string
	fs         float64
	writer     *session.Writer
	markers    *markerSource
	markerStop context.CancelFunc
	started    time.Time
	rows       uint64
	overflows  uint64
}

type Option func(a *Amp) error

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Amp) error {
		a.logger = logger
		return nil
	}
}

// WithInfluxDB emits per-poll metric points through the given write API.
func WithInfluxDB(writeAPI api.WriteAPI) Option {
	return func(a *Amp) error {
		a.writeAPI = writeAPI
		return nil
	}
}

// WithRecorder writes every session into a timestamped subdirectory of
// dir, in the session package's format.
func WithRecorder(dir string) Option {
	return func(a *Amp) error {
		if dir == "" {
			return fmt.Errorf("decorator: empty recorder directory")
		}
		a.recordDir = dir
		return nil
	}
}

// WithMarkerPort listens on the given TCP port (0 picks one) for
// newline-delimited marker labels and injects them into the stream.
func WithMarkerPort(port int) Option {
	return func(a *Amp) error {
		a.markerPort = port
		a.hasMarkers = true
		return nil
	}
}

// WithMonitor feeds session state and chunks to a monitor server.
func WithMonitor(m *monitor.Server) Option {
	return func(a *Amp) error {
		a.mon = m
		return nil
	}
}

// WithDriverName labels recordings and metric points. Defaults to
// "unknown".
func WithDriverName(name string) Option {
	return func(a *Amp) error {
		a.driverName = name
		return nil
	}
}

func New(inner amp.Amplifier, opts ...Option) (*Amp, error) {
	a := &Amp{
		inner:      inner,
		driverName: "unknown",
		logger:     log.Logger,
		writeAPI:   &util.MockWriteAPI{}, // overwritten with option
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// MarkerPort returns the bound marker port while streaming, or 0.
func (a *Amp) MarkerPort() int {
	if a.markers == nil {
		return 0
	}
	return a.markers.port()
}

// SessionDir returns the directory of the recording in progress, or "".
func (a *Amp) SessionDir() string {
	if a.writer == nil {
		return ""
	}
	return a.writer.Dir()
}

func (a *Amp) Configure(cfg interface{}) error {
	if err := a.inner.Configure(cfg); err != nil {
		return err
	}

	channels, err := a.inner.Channels()
	if err != nil {
		return err
	}
	fs, err := a.inner.SamplingFrequency()
	if err != nil {
		return err
	}
	a.channels = channels
	a.fs = fs

	if a.mon != nil {
		a.mon.SetDescriptor(a.driverName, channels, fs)
		a.mon.SetState(amp.StateConfigured)
	}
	return nil
}

func (a *Amp) Start(ctx context.Context) error {
	if err := a.inner.Start(ctx); err != nil {
		return err
	}

	a.started = time.Now()
	a.rows = 0
	a.overflows = 0

	if a.recordDir != "" {
		dir := filepath.Join(a.recordDir, a.started.UTC().Format("20060102-150405.000"))
		writer, err := session.NewWriter(dir, session.Meta{
			Driver:            a.driverName,
			Channels:          a.channels,
			SamplingFrequency: a.fs,
			Created:           a.started.UTC(),
		})
		if err != nil {
			a.inner.Stop()
			return fmt.Errorf("decorator: opening recording: %w", err)
		}
		a.writer = writer
		a.logger.Info().Str("dir", dir).Msg("recording session")
	}

	if a.hasMarkers {
		src, err := newMarkerSource(a.markerPort, a.currentRow, a.logger)
		if err != nil {
			a.teardown()
			a.inner.Stop()
			return fmt.Errorf("decorator: marker listener: %w", err)
		}
		a.markers = src
		var markerCtx context.Context
		markerCtx, a.markerStop = context.WithCancel(ctx)
		go src.run(markerCtx)
		a.logger.Info().Int("port", src.port()).Msg("accepting markers")
	}

	if a.mon != nil {
		a.mon.SetState(amp.StateStreaming)
	}
	return nil
}

// currentRow estimates the absolute sample row "now", for stamping
// markers that arrive between polls.
func (a *Amp) currentRow() uint64 {
	return uint64(time.Since(a.started).Seconds() * a.fs)
}

func (a *Amp) GetData() (*amp.Chunk, error) {
	var (
		chunk *amp.Chunk
		err   error
	)
	forwardUs := util.TimeOperationMicroseconds(func() {
		chunk, err = a.inner.GetData()
	})

	if err != nil {
		if errors.Is(err, amp.ErrOverflow) {
			a.overflows++
			if a.mon != nil {
				a.mon.ObserveOverflow()
			}
			a.logger.Warn().Err(err).Msg("data overflow")
		}
		return nil, err
	}

	// Markers received over TCP ride along with the next chunk that has
	// rows to attach them to; offsets are clamped into the chunk.
	if a.markers != nil && chunk.Rows > 0 {
		base := a.rows
		for _, m := range a.markers.take() {
			offset := 0
			if m.row > base {
				offset = int(m.row - base)
			}
			if offset >= chunk.Rows {
				offset = chunk.Rows - 1
			}
			chunk.Markers = append(chunk.Markers, amp.Marker{Offset: offset, Label: m.label})
		}
	}

	if a.writer != nil {
		if werr := a.writer.WriteChunk(chunk); werr != nil {
			a.logger.Error().Err(werr).Msg("recording chunk failed")
		}
	}
	if a.mon != nil {
		a.mon.Observe(chunk)
	}

	a.rows += uint64(chunk.Rows)

	go a.writeAPI.WritePoint(influxdb2.NewPoint("amp.poll",
		map[string]string{
			"driver": a.driverName,
		},
		map[string]interface{}{
			"rows":       chunk.Rows,
			"markers":    len(chunk.Markers),
			"total_rows": a.rows,
			"forward_us": forwardUs,
			"overflows":  a.overflows,
		}, time.Now()))

	return chunk, nil
}

func (a *Amp) Stop() error {
	if err := a.inner.Stop(); err != nil {
		// Still streaming; keep the decorations running for the retry.
		return err
	}
	a.teardown()
	if a.mon != nil {
		a.mon.SetState(amp.StateIdle)
	}
	a.logger.Info().Uint64("rows", a.rows).Msg("session stopped")
	return nil
}

func (a *Amp) teardown() {
	if a.markers != nil {
		a.markerStop()
		a.markers.close()
		a.markers = nil
		a.markerStop = nil
	}
	if a.writer != nil {
		if err := a.writer.Close(); err != nil {
			a.logger.Error().Err(err).Msg("closing recording failed")
		}
		a.writer = nil
	}
}

func (a *Amp) Channels() ([]string, error) { return a.inner.Channels() }

func (a *Amp) SamplingFrequency() (float64, error) { return a.inner.SamplingFrequency() }

// ConfigureInteractive forwards to the inner driver's interactive path,
// so wrapping never hides the capability and never adds one.
func (a *Amp) ConfigureInteractive(ctx context.Context) error {
	return amp.ConfigureInteractive(ctx, a.inner)
}
