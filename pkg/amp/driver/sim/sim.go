// Package sim implements a simulated amplifier producing per-channel sine
// waves with Gaussian noise. It stands in for vendor hardware in tests,
// demos, and pipeline bring-up.
package sim

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/neuroline/ampstream/pkg/amp"
)

const DriverName = "sim"

// MarkerLabel is the label of the synthetic markers emitted when
// Config.MarkerEvery is set.
const MarkerLabel = "tick"

func init() {
	amp.Register(amp.Info{
		Name:      DriverName,
		Available: Available,
		New:       func() amp.Amplifier { return New() },
	})
}

// Available always reports true: the simulator needs no hardware.
func Available() bool { return true }

// The simulated hardware supports a fixed set of sampling rates; requests
// are quantized to the nearest one and the applied rate is what the
// descriptor reports.
var supportedRates = []float64{128, 256, 512, 1024}

const (
	ModeData      = "data"
	ModeImpedance = "impedance"

	defaultAmplitude = 10.0 // µV
	defaultSignalHz  = 10.0 // alpha band
	defaultBlock     = 4 * time.Millisecond
	bufferSeconds    = 4
)

// Config selects the simulator's acquisition mode and signal shape.
type Config struct {
	// Mode is "data" (sine + noise) or "impedance" (per-channel constant
	// kOhm readings). Empty means "data".
	Mode string

	// SamplingFrequency is the requested rate in Hz. It is quantized to
	// the nearest supported rate; SamplingFrequency() reports the applied
	// value.
	SamplingFrequency float64

	// Channels are the channel names, in column order. Empty means
	// Ch1..Ch8. Names must be unique.
	Channels []string

	Amplitude  float64 // sine amplitude, default 10
	SignalHz   float64 // sine frequency, default 10
	NoiseSigma float64 // stddev of additive Gaussian noise, 0 disables

	// MarkerEvery emits a "tick" marker every N rows; 0 disables.
	MarkerEvery int

	// StartFailures makes the next N Start calls fail with
	// ErrUnavailable, simulating a device that cannot be armed.
	StartFailures int

	// BlockInterval paces the producer goroutine. Default 4ms.
	BlockInterval time.Duration
}

// Amp is a simulated amplifier. The zero value is not usable; construct
// with New.
type Amp struct {
	lc     amp.Lifecycle
	logger zerolog.Logger

	cfg      Config
	fs       float64
	channels []string
	failLeft int

	buf    *amp.SampleBuffer
	cancel context.CancelFunc
	done   chan struct{}
}

// Option adjusts the simulator outside its device configuration.
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

func quantizeRate(req float64) float64 {
	best := supportedRates[0]
	for _, r := range supportedRates[1:] {
		if math.Abs(r-req) < math.Abs(best-req) {
			best = r
		}
	}
	return best
}

func defaultChannels() []string {
	names := make([]string, 8)
	for i := range names {
		names[i] = fmt.Sprintf("Ch%d", i+1)
	}
	return names
}

// Configure validates and applies a Config (value or pointer). Legal from
// idle and configured; streaming must be stopped first.
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

	switch c.Mode {
	case "", ModeData:
		c.Mode = ModeData
	case ModeImpedance:
	default:
		return fmt.Errorf("%w: unknown mode %q", amp.ErrBadConfig, c.Mode)
	}
	if c.SamplingFrequency <= 0 {
		return fmt.Errorf("%w: sampling frequency %g", amp.ErrBadConfig, c.SamplingFrequency)
	}
	if len(c.Channels) == 0 {
		c.Channels = defaultChannels()
	}
	seen := make(map[string]struct{}, len(c.Channels))
	for _, name := range c.Channels {
		if name == "" {
			return fmt.Errorf("%w: empty channel name", amp.ErrBadConfig)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate channel %q", amp.ErrBadConfig, name)
		}
		seen[name] = struct{}{}
	}
	if c.Amplitude == 0 {
		c.Amplitude = defaultAmplitude
	}
	if c.SignalHz == 0 {
		c.SignalHz = defaultSignalHz
	}
	if c.NoiseSigma < 0 {
		return fmt.Errorf("%w: negative noise sigma %g", amp.ErrBadConfig, c.NoiseSigma)
	}
	if c.MarkerEvery < 0 {
		return fmt.Errorf("%w: negative marker interval %d", amp.ErrBadConfig, c.MarkerEvery)
	}
	if c.BlockInterval <= 0 {
		c.BlockInterval = defaultBlock
	}

	a.cfg = c
	a.fs = quantizeRate(c.SamplingFrequency)
	a.channels = append([]string(nil), c.Channels...)
	a.failLeft = c.StartFailures
	a.buf = amp.NewSampleBuffer(len(a.channels), int(a.fs)*bufferSeconds)
	a.lc.Set(amp.StateConfigured)

	a.logger.Debug().
		Str("driver", DriverName).
		Str("mode", c.Mode).
		Float64("requested_hz", c.SamplingFrequency).
		Float64("applied_hz", a.fs).
		Int("channels", len(a.channels)).
		Msg("configured")
	return nil
}

// Start arms the simulated device and launches the producer goroutine.
func (a *Amp) Start(ctx context.Context) error {
	if err := a.lc.Guard("start", amp.StateConfigured); err != nil {
		return err
	}
	if a.failLeft > 0 {
		a.failLeft--
		return fmt.Errorf("%w: simulated arming failure", amp.ErrUnavailable)
	}

	a.buf.Reset()
	ctx, a.cancel = context.WithCancel(ctx)
	a.done = make(chan struct{})
	go a.produce(ctx, a.done)

	a.lc.Set(amp.StateStreaming)
	a.logger.Debug().Str("driver", DriverName).Msg("streaming")
	return nil
}

// Stop tears the producer down and returns to idle.
func (a *Amp) Stop() error {
	if err := a.lc.Guard("stop", amp.StateStreaming); err != nil {
		return err
	}
	a.cancel()
	<-a.done
	a.lc.Set(amp.StateIdle)
	a.logger.Debug().Str("driver", DriverName).Msg("stopped")
	return nil
}

// GetData drains the samples produced since the previous call.
func (a *Amp) GetData() (*amp.Chunk, error) {
	if err := a.lc.Guard("get data", amp.StateStreaming); err != nil {
		return nil, err
	}
	return a.buf.Drain()
}

// Channels returns the configured channel names in column order.
func (a *Amp) Channels() ([]string, error) {
	if err := a.lc.Guard("get channels", amp.StateConfigured, amp.StateStreaming); err != nil {
		return nil, err
	}
	return append([]string(nil), a.channels...), nil
}

// SamplingFrequency returns the applied rate, which may differ from the
// requested one.
func (a *Amp) SamplingFrequency() (float64, error) {
	if err := a.lc.Guard("get sampling frequency", amp.StateConfigured, amp.StateStreaming); err != nil {
		return 0, err
	}
	return a.fs, nil
}

// produce paces sample generation against the wall clock so that the
// buffer fills at exactly the applied sampling rate regardless of tick
// jitter.
func (a *Amp) produce(ctx context.Context, done chan struct{}) {
	defer close(done)

	cfg := a.cfg
	fs := a.fs
	cols := len(a.channels)
	noise := distuv.Normal{Mu: 0, Sigma: cfg.NoiseSigma}

	tick := time.NewTicker(cfg.BlockInterval)
	defer tick.Stop()

	start := time.Now()
	var emitted uint64

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			target := uint64(now.Sub(start).Seconds() * fs)
			if target <= emitted {
				continue
			}
			n := int(target - emitted)

			rows := make([]float64, n*cols)
			for i := 0; i < n; i++ {
				t := float64(emitted+uint64(i)) / fs
				for ch := 0; ch < cols; ch++ {
					var v float64
					if cfg.Mode == ModeImpedance {
						// Plausible electrode impedance in kOhm.
						v = 5 + float64(ch)
					} else {
						v = cfg.Amplitude * math.Sin(2*math.Pi*cfg.SignalHz*t+float64(ch))
					}
					if cfg.NoiseSigma > 0 {
						v += noise.Rand()
					}
					rows[i*cols+ch] = v
				}
			}
			var markers []amp.Marker
			if cfg.MarkerEvery > 0 {
				for i := 0; i < n; i++ {
					if (emitted+uint64(i)+1)%uint64(cfg.MarkerEvery) == 0 {
						markers = append(markers, amp.Marker{Offset: i, Label: MarkerLabel})
					}
				}
			}
			a.buf.AppendWithMarkers(rows, markers)
			emitted += uint64(n)
		}
	}
}
