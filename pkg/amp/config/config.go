// Package config holds the acquisition CLI's yaml configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Duration decodes yaml values like "10ms" or raw nanosecond integers.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err == nil {
		v, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("config: bad duration %q: %w", s, err)
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := unmarshal(&n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

type Config struct {
	Driver       string   `yaml:"driver"`
	LogLevel     string   `yaml:"log_level"`
	PollInterval Duration `yaml:"poll_interval"`
	Duration     Duration `yaml:"duration"`
	RecordDir    string   `yaml:"record_dir"`

	Sim     SimConfig     `yaml:"sim"`
	Replay  ReplayConfig  `yaml:"replay"`
	Markers MarkersConfig `yaml:"markers"`
	Monitor MonitorConfig `yaml:"monitor"`

	InfluxDB struct {
		Host         string `yaml:"host"`
		Organization string `yaml:"organization"`
		Bucket       string `yaml:"bucket"`
	} `yaml:"influxdb"`
}

type SimConfig struct {
	Mode              string   `yaml:"mode"`
	SamplingFrequency float64  `yaml:"sampling_frequency"`
	Channels          []string `yaml:"channels,flow"`
	Amplitude         float64  `yaml:"amplitude"`
	SignalHz          float64  `yaml:"signal_hz"`
	NoiseSigma        float64  `yaml:"noise_sigma"`
	MarkerEvery       int      `yaml:"marker_every"`
}

type ReplayConfig struct {
	Dir       string `yaml:"dir"`
	BlockRows int    `yaml:"block_rows"`
	Pace      bool   `yaml:"pace"`
}

type MarkersConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type MonitorConfig struct {
	Port      int `yaml:"port"`
	ScopeRows int `yaml:"scope_rows"`
}

// Load reads path and applies defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if c.Driver == "" {
		c.Driver = "sim"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = Duration(10 * time.Millisecond)
	}
	if c.Sim.SamplingFrequency == 0 {
		c.Sim.SamplingFrequency = 256
	}
	return &c, nil
}
