// Package clock provides the monotonic timestamp shared by frame
// expiration deadlines and client wait deadlines.
package clock

import "golang.org/x/sys/unix"

const NsPerSec = 1_000_000_000

// Now returns the current CLOCK_MONOTONIC time in nanoseconds.
// All frame timestamps, durations and expiry deadlines use this clock,
// never the wall clock.
func Now() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return ts.Sec*NsPerSec + ts.Nsec
}
