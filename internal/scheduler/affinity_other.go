//go:build !linux

package scheduler

// pinThread is a no-op where thread affinity is not supported.
func pinThread(int) error { return nil }
