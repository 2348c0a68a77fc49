//go:build linux

package pool

import (
	"runtime"

	"golang.org/x/sys/unix"
)

const workerNice = 10

// probeIsolation verifies that worker threads can be reniced on this host.
// Sandboxed environments may deny the setpriority call; the pool then runs
// work inline instead.
func probeIsolation() error {
	errCh := make(chan error, 1)

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		tid := unix.Gettid()
		prio, err := unix.Getpriority(unix.PRIO_PROCESS, tid)
		if err != nil {
			errCh <- err
			return
		}

		if err := unix.Setpriority(unix.PRIO_PROCESS, tid, workerNice); err != nil {
			errCh <- err
			return
		}

		// Restore: this probe thread returns to the scheduler's pool.
		errCh <- unix.Setpriority(unix.PRIO_PROCESS, tid, prio)
	}()

	return <-errCh
}

// lowerThreadPriority pins the worker goroutine to its OS thread and
// renices it, so parsing competes below the request-serving path under CPU
// contention. The thread stays locked for the worker's lifetime and is
// destroyed when the goroutine exits, never returning a reniced thread to
// the runtime.
func lowerThreadPriority() {
	runtime.LockOSThread()

	tid := unix.Gettid()
	if err := unix.Setpriority(unix.PRIO_PROCESS, tid, workerNice); err != nil {
		// The probe succeeded earlier; a failure here still leaves a
		// correct worker, just at normal priority.
		runtime.UnlockOSThread()
	}
}
