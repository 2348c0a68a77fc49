//go:build !linux

package pool

// Thread reprioritization is only wired up on Linux. Other platforms keep
// the worker goroutines at normal priority; isolation still holds in the
// sense that work runs off the submitting goroutine.
func probeIsolation() error {
	return nil
}

func lowerThreadPriority() {}
