package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	influxdb2 "github.com/influxdata/influxdb-client-go"

	"github.com/neuroline/ampstream/pkg/amp"
	"github.com/neuroline/ampstream/pkg/amp/config"
	"github.com/neuroline/ampstream/pkg/amp/decorator"
	"github.com/neuroline/ampstream/pkg/amp/driver/replay"
	"github.com/neuroline/ampstream/pkg/amp/driver/sim"
	"github.com/neuroline/ampstream/pkg/monitor"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)
	configFile := flag.String("config", "ampstream.yaml", "YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("error reading config file")
	}
	if cfg.LogLevel != "" {
		lvl, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			log.Fatal().Str("log_level", cfg.LogLevel).Msg("unknown log level")
		}
		log.Logger = log.Logger.Level(lvl)
	}

	var (
		driver    amp.Amplifier
		driverCfg interface{}
	)
	switch cfg.Driver {
	case sim.DriverName:
		log.Info().Str("driver", sim.DriverName).Msg("initializing driver...")
		driver = sim.New(sim.WithLogger(log.Logger))
		driverCfg = sim.Config{
			Mode:              cfg.Sim.Mode,
			SamplingFrequency: cfg.Sim.SamplingFrequency,
			Channels:          cfg.Sim.Channels,
			Amplitude:         cfg.Sim.Amplitude,
			SignalHz:          cfg.Sim.SignalHz,
			NoiseSigma:        cfg.Sim.NoiseSigma,
			MarkerEvery:       cfg.Sim.MarkerEvery,
		}
	case replay.DriverName:
		log.Info().Str("driver", replay.DriverName).Str("dir", cfg.Replay.Dir).Msg("initializing driver...")
		driver = replay.New(replay.WithLogger(log.Logger))
		driverCfg = replay.Config{
			Dir:       cfg.Replay.Dir,
			BlockRows: cfg.Replay.BlockRows,
			Pace:      cfg.Replay.Pace,
		}
	default:
		log.Fatal().
			Str("driver", cfg.Driver).
			Strs("available", amp.Available()).
			Msg("unknown driver")
	}

	opts := []decorator.Option{
		decorator.WithDriverName(cfg.Driver),
		decorator.WithLogger(log.Logger),
	}
	if cfg.RecordDir != "" {
		opts = append(opts, decorator.WithRecorder(cfg.RecordDir))
	}
	if cfg.Markers.Enabled {
		opts = append(opts, decorator.WithMarkerPort(cfg.Markers.Port))
	}

	var mon *monitor.Server
	if cfg.Monitor.Port > 0 {
		mon = monitor.NewServer(cfg.Monitor.Port)
		if cfg.Monitor.ScopeRows > 0 {
			mon.SetScopeRows(cfg.Monitor.ScopeRows)
		}
		opts = append(opts, decorator.WithMonitor(mon))
	}
	if cfg.InfluxDB.Host != "" {
		writeAPI := influxdb2.NewClient(cfg.InfluxDB.Host, "").
			WriteAPI(cfg.InfluxDB.Organization, cfg.InfluxDB.Bucket)
		opts = append(opts, decorator.WithInfluxDB(writeAPI))
	}

	wrapped, err := decorator.New(driver, opts...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to assemble amplifier")
	}

	if err := wrapped.Configure(driverCfg); err != nil {
		log.Fatal().Err(err).Msg("failed to configure amplifier")
	}
	channels, _ := wrapped.Channels()
	fs, _ := wrapped.SamplingFrequency()
	log.Info().
		Strs("channels", channels).
		Float64("sampling_hz", fs).
		Msg("configured")

	eg, ctx := errgroup.WithContext(context.Background())
	loopCtx, cancel := context.WithCancel(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	eg.Go(func() error {
		select {
		case <-sigChan:
			log.Info().Msg("signal received, stopping")
		case <-ctx.Done():
		}
		cancel()
		return nil
	})

	if mon != nil {
		eg.Go(func() error {
			return mon.Run(loopCtx)
		})
	}

	eg.Go(func() error {
		return acquire(loopCtx, wrapped, cfg)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal().Err(err).Msg("exited program")
	}
}

// acquire runs the poll loop until the context closes or the configured
// duration elapses, then stops the amplifier.
func acquire(ctx context.Context, a *decorator.Amp, cfg *config.Config) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	var deadline <-chan time.Time
	if cfg.Duration > 0 {
		deadline = time.After(cfg.Duration.Std())
	}

	poll := time.NewTicker(cfg.PollInterval.Std())
	defer poll.Stop()
	report := time.NewTicker(time.Second)
	defer report.Stop()

	start := time.Now()
	var rows, markers uint64

	for {
		select {
		case <-ctx.Done():
			return a.Stop()
		case <-deadline:
			log.Info().Dur("duration", cfg.Duration.Std()).Msg("acquisition window elapsed")
			return a.Stop()
		case <-report.C:
			log.Info().
				Uint64("rows", rows).
				Uint64("markers", markers).
				Float64("rate_hz", float64(rows)/time.Since(start).Seconds()).
				Msg("acquiring")
		case <-poll.C:
			chunk, err := a.GetData()
			if err != nil {
				if errors.Is(err, amp.ErrOverflow) {
					// Accept the gap and keep acquiring.
					continue
				}
				a.Stop()
				return err
			}
			rows += uint64(chunk.Rows)
			markers += uint64(len(chunk.Markers))
			for _, m := range chunk.Markers {
				log.Debug().Int("offset", m.Offset).Str("label", m.Label).Msg("marker")
			}
		}
	}
}
