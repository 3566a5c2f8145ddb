package amp

import "errors"

// Error kinds shared by all drivers and wrappers. Drivers wrap these with
// fmt.Errorf("%w: ...") to attach detail; callers discriminate with
// errors.Is.
var (
	// ErrBadConfig means the requested configuration was rejected.
	// Recoverable: call Configure again with corrected parameters.
	ErrBadConfig = errors.New("amp: bad configuration")

	// ErrInvalidState means a call was made in a state that forbids it, a
	// caller ordering bug rather than a hardware fault.
	ErrInvalidState = errors.New("amp: invalid state")

	// ErrNotConfigured means a capability query or Start was made before
	// any successful Configure.
	ErrNotConfigured = errors.New("amp: not configured")

	// ErrUnavailable means the device could not be armed or reached at
	// Start/Stop time. May be transient; retry after remediation.
	ErrUnavailable = errors.New("amp: hardware unavailable")

	// ErrHardware means communication with the device itself failed.
	ErrHardware = errors.New("amp: hardware fault")

	// ErrOverflow means samples were lost to buffer exhaustion during
	// streaming. The session is still live but the data is no longer
	// contiguous; the caller decides whether to abort or accept the gap.
	ErrOverflow = errors.New("amp: data overflow")

	// ErrNotSupported means an optional capability is not implemented by
	// this driver.
	ErrNotSupported = errors.New("amp: not supported")
)
