package downloader

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// backoffCap bounds the exponential wait between attempts.
const backoffCap = 5 * time.Minute

// TerminalError is returned when every attempt, including the quality
// fallback within each, has failed. Retries is the number of retries beyond
// the first attempt, persisted with the failed ledger record.
type TerminalError struct {
	Retries int
	Err     error
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("download failed after %d retries: %v", e.Retries, e.Err)
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// Backoff returns the wait before retry n (0-based for the first retry):
// min(2^n seconds, 5 minutes).
func Backoff(n int) time.Duration {
	if n >= 9 { // 2^9s > 5m, avoid shift overflow on large n
		return backoffCap
	}
	d := time.Duration(1<<uint(n)) * time.Second
	if d > backoffCap {
		return backoffCap
	}
	return d
}

// RetryController wraps a single download in the quality-fallback and
// exponential-backoff policy. MaxRetries counts retries beyond the first
// attempt, so the default of 5 allows up to 6 raw attempts. The controller
// knows nothing about concurrency; the scheduler invokes it once per job.
type RetryController struct {
	fetcher    Fetcher
	preferred  Quality
	maxRetries int
	log        *logrus.Logger
	sleep      func(time.Duration)
}

// NewRetryController builds a controller around the fetcher.
func NewRetryController(fetcher Fetcher, preferred Quality, maxRetries int, log *logrus.Logger) *RetryController {
	return &RetryController{
		fetcher:    fetcher,
		preferred:  preferred,
		maxRetries: maxRetries,
		log:        log,
		sleep:      time.Sleep,
	}
}

// Attempt drives the request to success or a *TerminalError. Each raw
// attempt tries the preferred fixed resolution first and falls back to the
// best available tier before counting as one failure. On success it returns
// the number of retries that were consumed.
func (r *RetryController) Attempt(ctx context.Context, req FetchRequest) (int, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		preferred := req
		preferred.Quality = r.preferred
		err := r.fetcher.Fetch(ctx, preferred)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		// Fallback tier inside the same attempt.
		fallback := req
		fallback.Quality = BestAvailable
		err = r.fetcher.Fetch(ctx, fallback)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if attempt >= r.maxRetries {
			return attempt, &TerminalError{Retries: attempt, Err: lastErr}
		}

		wait := Backoff(attempt)
		r.log.WithFields(logrus.Fields{
			"stem":    req.Stem,
			"attempt": attempt + 1,
			"wait":    wait.String(),
			"error":   lastErr,
		}).Warn("Download attempt failed, backing off before retry")
		r.sleep(wait)
	}
}
