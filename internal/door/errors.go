package door

import "errors"

var (
	// ErrHardwareUnavailable is returned when the GPIO lines cannot be
	// acquired. The state is left unchanged and the next request retries.
	ErrHardwareUnavailable = errors.New("door: hardware unavailable")

	// ErrLockPoisoned is returned by every request after a sequence panicked.
	ErrLockPoisoned = errors.New("door: controller poisoned by an earlier failure")

	// ErrLimitTimeout is returned under the hold_opening policy when the
	// limit switch was not reached before the open timeout.
	ErrLimitTimeout = errors.New("door: limit switch not reached")
)
