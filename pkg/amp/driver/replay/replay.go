// Package replay implements an amplifier that plays a recorded session
// directory back through the driver contract, delivering the recorded
// markers with the chunks that cover them.
package replay

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/neuroline/ampstream/pkg/amp"
	"github.com/neuroline/ampstream/pkg/amp/session"
)

const DriverName = "replay"

const defaultBlockRows = 128

func init() {
	amp.Register(amp.Info{
		Name:      DriverName,
		Available: Available,
		New:       func() amp.Amplifier { return New() },
	})
}

// Available always reports true: playback needs no hardware.
func Available() bool { return true }

// Config points the driver at a recorded session.
type Config struct {
	// Dir is the session directory (see the session package).
	Dir string

	// BlockRows is the number of rows handed out per poll. Default 128.
	BlockRows int

	// Pace meters delivery in real time at the recorded sampling rate.
	// When false each GetData returns the next block immediately, which
	// is the deterministic mode tests and offline consumers want.
	Pace bool
}

type Amp struct {
	lc     amp.Lifecycle
	logger zerolog.Logger

	cfg  Config
	meta session.Meta

	reader *session.Reader
	row    uint64 // rows delivered so far (direct mode)

	// pace mode
	buf    *amp.SampleBuffer
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(a *Amp)

func WithLogger(logger zerolog.Logger) Option {
	return func(a *Amp) { a.logger = logger }
}

func New(opts ...Option) *Amp {
	a := &Amp{logger: log.Logger}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Configure validates the session directory's meta file. The signal file
// itself is only opened at Start, so a recording still being copied into
// place fails there, not here.
func (a *Amp) Configure(cfg interface{}) error {
	if err := a.lc.Guard("configure", amp.StateIdle, amp.StateConfigured); err != nil {
		return err
	}

	var c Config
	switch v := cfg.(type) {
	case Config:
		c = v
	case *Config:
		c = *v
	default:
		return fmt.Errorf("%w: unsupported configuration type %T", amp.ErrBadConfig, cfg)
	}
	if c.Dir == "" {
		return fmt.Errorf("%w: no session directory", amp.ErrBadConfig)
	}
	if c.BlockRows < 0 {
		return fmt.Errorf("%w: negative block size %d", amp.ErrBadConfig, c.BlockRows)
	}
	if c.BlockRows == 0 {
		c.BlockRows = defaultBlockRows
	}

	meta, err := session.ReadMeta(c.Dir)
	if err != nil {
		return fmt.Errorf("%w: %v", amp.ErrBadConfig, err)
	}

	a.cfg = c
	a.meta = meta
	a.lc.Set(amp.StateConfigured)

	a.logger.Debug().
		Str("driver", DriverName).
		Str("dir", c.Dir).
		Float64("hz", meta.SamplingFrequency).
		Int("channels", len(meta.Channels)).
		Msg("configured")
	return nil
}

func (a *Amp) Start(ctx context.Context) error {
	if err := a.lc.Guard("start", amp.StateConfigured); err != nil {
		return err
	}

	reader, err := session.NewReader(a.cfg.Dir)
	if err != nil {
		return fmt.Errorf("%w: %v", amp.ErrUnavailable, err)
	}
	a.reader = reader
	a.row = 0

	if a.cfg.Pace {
		cols := len(a.meta.Channels)
		capacity := int(a.meta.SamplingFrequency) * 4
		if capacity < 4*a.cfg.BlockRows {
			capacity = 4 * a.cfg.BlockRows
		}
		a.buf = amp.NewSampleBuffer(cols, capacity)
		ctx, a.cancel = context.WithCancel(ctx)
		a.done = make(chan struct{})
		go a.produce(ctx, a.done)
	}

	a.lc.Set(amp.StateStreaming)
	return nil
}

func (a *Amp) Stop() error {
	if err := a.lc.Guard("stop", amp.StateStreaming); err != nil {
		return err
	}
	if a.cancel != nil {
		a.cancel()
		<-a.done
		a.cancel = nil
	}
	if a.reader != nil {
		// Release the reader before reporting a close failure; a retried
		// Stop would otherwise re-close the same file and fail forever.
		err := a.reader.Close()
		a.reader = nil
		if err != nil {
			return fmt.Errorf("%w: %v", amp.ErrHardware, err)
		}
	}
	a.lc.Set(amp.StateIdle)
	return nil
}

func (a *Amp) GetData() (*amp.Chunk, error) {
	if err := a.lc.Guard("get data", amp.StateStreaming); err != nil {
		return nil, err
	}
	if a.cfg.Pace {
		return a.buf.Drain()
	}

	cols := len(a.meta.Channels)
	data, n, err := a.reader.ReadRows(a.cfg.BlockRows)
	if err == io.EOF {
		// Past the end of the recording: empty chunks, not an error.
		return &amp.Chunk{Channels: cols, Markers: []amp.Marker{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", amp.ErrHardware, err)
	}

	chunk := &amp.Chunk{
		Data:     data,
		Rows:     n,
		Channels: cols,
		Markers:  []amp.Marker{},
	}
	for _, m := range a.reader.MarkersIn(a.row, a.row+uint64(n)) {
		chunk.Markers = append(chunk.Markers, amp.Marker{
			Offset: int(m.Row - a.row),
			Label:  m.Label,
		})
	}
	a.row += uint64(n)
	return chunk, nil
}

func (a *Amp) Channels() ([]string, error) {
	if err := a.lc.Guard("get channels", amp.StateConfigured, amp.StateStreaming); err != nil {
		return nil, err
	}
	return append([]string(nil), a.meta.Channels...), nil
}

func (a *Amp) SamplingFrequency() (float64, error) {
	if err := a.lc.Guard("get sampling frequency", amp.StateConfigured, amp.StateStreaming); err != nil {
		return 0, err
	}
	return a.meta.SamplingFrequency, nil
}

// produce replays blocks into the buffer at the recorded rate.
func (a *Amp) produce(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := time.Duration(float64(a.cfg.BlockRows) / a.meta.SamplingFrequency * float64(time.Second))
	if interval <= 0 {
		interval = time.Millisecond
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	var row uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			data, n, err := a.reader.ReadRows(a.cfg.BlockRows)
			if err == io.EOF {
				// Recording exhausted; keep the session live and
				// deliver empty chunks until the caller stops.
				continue
			}
			if err != nil {
				a.logger.Error().Err(err).Str("driver", DriverName).Msg("replay read failed")
				return
			}
			// Rows and their markers go into the buffer in one step so a
			// concurrent drain cannot run off with the rows and leave the
			// markers pointing at an already-delivered range.
			var markers []amp.Marker
			for _, m := range a.reader.MarkersIn(row, row+uint64(n)) {
				markers = append(markers, amp.Marker{
					Offset: int(m.Row - row),
					Label:  m.Label,
				})
			}
			a.buf.AppendWithMarkers(data, markers)
			row += uint64(n)
		}
	}
}
