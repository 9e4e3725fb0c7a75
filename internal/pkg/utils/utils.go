// Package utils holds small synchronization helpers shared across packages.
package utils

import "time"

// WaitDone blocks until ch closes.
func WaitDone(ch <-chan struct{}) {
	<-ch
}

// WaitDoneTimeout blocks until ch closes or the timeout elapses. It
// reports whether ch closed in time.
func WaitDoneTimeout(ch <-chan struct{}, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}
