package downloader

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

// fakeFetcher scripts fetch outcomes per call and records every invocation.
type fakeFetcher struct {
	mu    sync.Mutex
	calls []Quality
	// outcome decides the result of call n (0-based). Nil slice or an
	// out-of-range call succeeds.
	outcomes []error
}

func (f *fakeFetcher) Fetch(_ context.Context, req FetchRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.calls)
	f.calls = append(f.calls, req.Quality)
	if n < len(f.outcomes) {
		return f.outcomes[n]
	}
	return nil
}

func errs(n int) []error {
	out := make([]error, n)
	for i := range out {
		out[i] = errors.New("fetch failed")
	}
	return out
}

func newTestController(f Fetcher, maxRetries int) (*RetryController, *[]time.Duration) {
	r := NewRetryController(f, Quality{Height: 1080}, maxRetries, testLogger())
	var sleeps []time.Duration
	r.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return r, &sleeps
}

func TestBackoffFormula(t *testing.T) {
	expect := []time.Duration{
		1 * time.Second, 2 * time.Second, 4 * time.Second,
		8 * time.Second, 16 * time.Second, 32 * time.Second,
	}
	for n, want := range expect {
		assert.Equal(t, want, Backoff(n), "backoff before retry %d", n+1)
	}

	assert.Equal(t, 256*time.Second, Backoff(8))
	assert.Equal(t, 5*time.Minute, Backoff(9))
	assert.Equal(t, 5*time.Minute, Backoff(40))
}

func TestAttemptPreferredSucceeds(t *testing.T) {
	f := &fakeFetcher{}
	r, sleeps := newTestController(f, 5)

	retries, err := r.Attempt(context.Background(), FetchRequest{Stem: "1 - Intro"})
	require.NoError(t, err)
	assert.Zero(t, retries)
	assert.Equal(t, []Quality{{Height: 1080}}, f.calls)
	assert.Empty(t, *sleeps)
}

func TestAttemptFallbackWithinSameAttempt(t *testing.T) {
	f := &fakeFetcher{outcomes: errs(1)}
	r, sleeps := newTestController(f, 5)

	retries, err := r.Attempt(context.Background(), FetchRequest{Stem: "1 - Intro"})
	require.NoError(t, err)
	assert.Zero(t, retries, "fallback success must not count as a retry")
	assert.Equal(t, []Quality{{Height: 1080}, BestAvailable}, f.calls)
	assert.Empty(t, *sleeps, "no backoff inside a single attempt")
}

func TestAttemptRetriesWithBackoff(t *testing.T) {
	// Two full attempts fail (both tiers), third preferred call succeeds.
	f := &fakeFetcher{outcomes: errs(4)}
	r, sleeps := newTestController(f, 5)

	retries, err := r.Attempt(context.Background(), FetchRequest{Stem: "1 - Intro"})
	require.NoError(t, err)
	assert.Equal(t, 2, retries)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, *sleeps)
	assert.Len(t, f.calls, 5)
}

func TestAttemptExhaustionIsTerminal(t *testing.T) {
	f := &fakeFetcher{outcomes: errs(100)}
	r, sleeps := newTestController(f, 2)

	retries, err := r.Attempt(context.Background(), FetchRequest{Stem: "1 - Intro"})
	require.Error(t, err)

	var terminal *TerminalError
	require.ErrorAs(t, err, &terminal)
	assert.Equal(t, 2, terminal.Retries)
	assert.Equal(t, 2, retries)

	// 3 raw attempts (1 initial + 2 retries), each trying both tiers.
	assert.Len(t, f.calls, 6)
	assert.Equal(t, []time.Duration{1 * time.Second, 2 * time.Second}, *sleeps)
}

func TestFormatDirective(t *testing.T) {
	assert.Equal(t, "bestvideo[height=1080]+bestaudio/best[height=1080]", formatDirective(Quality{Height: 1080}))
	assert.Equal(t, "bestvideo+bestaudio/best", formatDirective(BestAvailable))
}
