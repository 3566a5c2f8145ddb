// Package amp defines the driver contract for biosignal acquisition
// hardware (EEG/EMG amplifiers and similar devices).
//
// A driver owns exclusive access to one physical device and moves through a
// fixed lifecycle: Idle -> Configure -> Configured -> Start -> Streaming ->
// Stop -> Idle. While Streaming, the caller polls GetData in a tight loop,
// potentially hundreds of times per second; each call returns whatever
// samples arrived since the previous call together with any markers that
// fell inside that range.
//
// Wrapper components (recorders, marker injectors, interactive
// configurators) compose around an Amplifier by holding one and forwarding
// calls. They must preserve the lifecycle ordering and the chunk shape
// guarantees; see the decorator package for the canonical wrapper.
package amp

import "context"

// Amplifier is implemented by every amplifier driver.
//
// A driver instance is single-threaded by default: the caller runs
// Configure, Start, the GetData poll loop, and Stop sequentially from one
// goroutine. Drivers that tolerate concurrent callers must document it
// explicitly.
type Amplifier interface {
	// Configure validates cfg and applies it to the device. The concrete
	// type of cfg is driver-specific; a driver rejects values it does not
	// understand with ErrBadConfig. Legal from Idle and Configured.
	// Calling Configure while Streaming fails with ErrInvalidState; the
	// device must be stopped first.
	Configure(cfg interface{}) error

	// Start arms the device and begins acquisition. Legal only from
	// Configured; a device that cannot be armed (disconnected, busy, no
	// permission) fails with ErrUnavailable and the driver stays
	// Configured so Start can be retried without reconfiguring. The
	// context bounds the arming handshake and the lifetime of any
	// acquisition goroutine the driver spawns.
	Start(ctx context.Context) error

	// Stop ends acquisition and returns the driver to Idle. If teardown
	// communication with the device fails it returns ErrHardware and the
	// driver remains Streaming so Stop can be retried.
	Stop() error

	// GetData returns the samples acquired since the previous call, in
	// order, with no gap and no duplicate across consecutive calls. An
	// empty chunk means no new data and is not an error; GetData never
	// waits for data to arrive. If the driver's buffer overflowed and
	// samples were unavoidably lost, GetData fails with ErrOverflow once
	// for the gap; the session stays live and a subsequent call resumes
	// with the post-gap samples. The returned chunk belongs to the
	// caller; the driver does not retain or reuse it.
	GetData() (*Chunk, error)

	// Channels returns the channel names in column order: the Nth name
	// labels the Nth column of every chunk returned under the current
	// configuration. Fails with ErrNotConfigured before the first
	// successful Configure.
	Channels() ([]string, error)

	// SamplingFrequency returns the rate, in Hz, the hardware actually
	// applied, which may differ from the requested one. Fails with
	// ErrNotConfigured before the first successful Configure.
	SamplingFrequency() (float64, error)
}

// InteractiveConfigurer is an optional capability: a driver that can be
// configured through an interactive front-end implements it in addition to
// Amplifier. The implementation collects a configuration value from the
// user and applies it through Configure; it never touches the state
// machine directly.
type InteractiveConfigurer interface {
	ConfigureInteractive(ctx context.Context) error
}

// ConfigureInteractive runs the interactive configuration path of a if it
// has one, and returns ErrNotSupported otherwise.
func ConfigureInteractive(ctx context.Context, a Amplifier) error {
	ic, ok := a.(InteractiveConfigurer)
	if !ok {
		return ErrNotSupported
	}
	return ic.ConfigureInteractive(ctx)
}
