//go:build linux

package clock

import "golang.org/x/sys/unix"

// now reads CLOCK_MONOTONIC directly, the same family of syscall the
// teacher's z/file_linux.go reaches for instead of the portable stdlib
// path when a Linux-specific primitive is available.
func now() Seconds {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return fallbackNow()
	}
	return Seconds(ts.Sec)
}
