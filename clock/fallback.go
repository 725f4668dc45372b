package clock

import "time"

var processStart = time.Now()

// fallbackNow derives a monotonic second counter from time.Since, which
// Go guarantees is computed from the runtime's monotonic reading as
// long as the operand was produced by time.Now. Used on non-Linux
// platforms and as a last resort if the Linux clock syscall fails.
func fallbackNow() Seconds {
	return Seconds(time.Since(processStart) / time.Second)
}
