package scheduler

import (
	"time"
)

// Backoff computes per-source retry intervals. It is mutated only by fetch
// outcomes: failures grow the interval multiplicatively up to the ceiling,
// success resets to the source's hint, and a server-declared retry
// directive overrides both when it is larger.
type Backoff struct {
	Base       time.Duration
	Multiplier float64
	Ceiling    time.Duration
}

// Next returns the interval to wait after one more failure. current is the
// source's present backoff interval; zero means the source was healthy and
// the progression starts from the base.
func (b Backoff) Next(current time.Duration) time.Duration {
	if current <= 0 {
		current = b.Base
	}

	next := time.Duration(float64(current) * b.Multiplier)
	if next > b.Ceiling {
		next = b.Ceiling
	}

	return next
}

// AfterFailure combines the computed backoff with an explicit retry
// directive from the server. The directive is a hard floor: it wins
// whenever it demands a longer wait than the computed interval.
func (b Backoff) AfterFailure(current, retryAfter time.Duration) time.Duration {
	next := b.Next(current)
	if retryAfter > next {
		next = retryAfter
	}

	return next
}

// AfterSuccess returns the interval until the next poll: the source's own
// hint, unless the server's cache directive asks for a longer one.
func (b Backoff) AfterSuccess(hint, serverHint time.Duration) time.Duration {
	if hint <= 0 {
		hint = b.Base
	}
	if serverHint > hint {
		return serverHint
	}

	return hint
}
