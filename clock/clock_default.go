//go:build !linux

package clock

func now() Seconds {
	return fallbackNow()
}
