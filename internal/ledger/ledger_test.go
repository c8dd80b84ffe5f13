package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"coursegrab/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func newTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "downloads.csv")
	return New(path, testLogger()), path
}

func TestRecordOutcomeIdempotentWithinRun(t *testing.T) {
	l, path := newTestLedger(t)
	require.NoError(t, l.EnsureHeader())

	id := models.NewVideoIdentity("https://example.org/courses/42-go", 1, 3)
	rec := Record{CourseTitle: "Go", UnitTitle: "Basics", VideoTitle: "Slices", Status: StatusCompleted}

	l.RecordOutcome(id, rec)
	l.RecordOutcome(id, rec)
	l.RecordOutcome(id, rec)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2, "expected header plus exactly one row")
	assert.Contains(t, lines[1], "Slices")
}

func TestRecordOutcomeDistinctIdentities(t *testing.T) {
	l, path := newTestLedger(t)
	require.NoError(t, l.EnsureHeader())

	course := "https://example.org/courses/42-go"
	l.RecordOutcome(models.NewVideoIdentity(course, 1, 1), Record{Status: StatusCompleted})
	l.RecordOutcome(models.NewVideoIdentity(course, 1, 2), Record{Status: StatusFailed, RetryCount: 5})

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 3)
}

func TestLoadCompletedSetRoundTrip(t *testing.T) {
	l, _ := newTestLedger(t)
	require.NoError(t, l.EnsureHeader())

	course := "https://example.org/courses/42-go"
	done := models.NewVideoIdentity(course, 2, 1)
	failed := models.NewVideoIdentity(course, 2, 2)

	l.RecordOutcome(done, Record{Status: StatusCompleted})
	l.RecordOutcome(failed, Record{Status: StatusFailed, RetryCount: 5})

	completed := l.LoadCompletedSet()
	assert.True(t, completed[done])
	assert.False(t, completed[failed])
}

func TestLoadCompletedSetMissingFile(t *testing.T) {
	l, _ := newTestLedger(t)
	assert.Empty(t, l.LoadCompletedSet())
}

func TestWildcardLegacyRowCompletesEveryVideo(t *testing.T) {
	l, path := newTestLedger(t)

	course := "https://example.org/courses/7-ink"
	legacy := course + ",Ink,completed,2023-01-01T00:00:00Z\n"
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0644))

	completed := l.LoadCompletedSet()

	for unit := 1; unit <= 4; unit++ {
		for video := 1; video <= 9; video++ {
			id := models.NewVideoIdentity(course, unit, video)
			assert.True(t, l.IsCompleted(id, completed, nil),
				"wildcard should complete unit %d video %d", unit, video)
		}
	}

	other := models.NewVideoIdentity("https://example.org/courses/8-oil", 1, 1)
	assert.False(t, l.IsCompleted(other, completed, nil))
}

func TestWildcardLegacyRowNormalizesSurfaceForm(t *testing.T) {
	l, path := newTestLedger(t)

	// The old tool recorded the URL it was invoked with: unit page, mixed
	// case host, plain http. All of them must key the same course.
	legacy := "http://Example.ORG/courses/42-go/units/1-intro,Go,completed,2023-01-01T00:00:00Z\n"
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0644))

	completed := l.LoadCompletedSet()

	id := models.NewVideoIdentity("https://example.org/courses/42-go", 1, 1)
	assert.True(t, l.IsCompleted(id, completed, nil),
		"wildcard row in a different surface form should still count as completion")
}

func TestLoadCompletedSetNormalizesRowURLs(t *testing.T) {
	l, path := newTestLedger(t)

	content := strings.Join(header, ",") + "\n" +
		"http://EXAMPLE.org/courses/1-a/units/3-closures?ref=mail,A,1,U,2,V,completed,2023-01-01T00:00:00Z,0\n" +
		// unparseable course URL
		",A,1,U,3,V,completed,2023-01-01T00:00:00Z,0\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	completed := l.LoadCompletedSet()
	assert.Len(t, completed, 1)
	assert.True(t, completed[models.NewVideoIdentity("https://example.org/courses/1-a", 1, 2)])
}

func TestIsCompletedFilesystemFallback(t *testing.T) {
	l, _ := newTestLedger(t)

	dir := t.TempDir()
	target := filepath.Join(dir, "1 - Intro.mp4")
	require.NoError(t, os.WriteFile(target, []byte("media"), 0644))
	empty := filepath.Join(dir, "2 - Empty.mp4")
	require.NoError(t, os.WriteFile(empty, nil, 0644))

	id := models.NewVideoIdentity("https://example.org/courses/42-go", 1, 1)
	completed := map[models.VideoIdentity]bool{}

	probeHit := func() bool { _, err := os.Stat(target); return err == nil }
	assert.True(t, l.IsCompleted(id, completed, probeHit))
	assert.False(t, l.IsCompleted(id, completed, func() bool { return false }))
	assert.False(t, l.IsCompleted(id, completed, nil))
}

func TestEnsureHeaderCreatesFile(t *testing.T) {
	l, path := newTestLedger(t)
	require.NoError(t, l.EnsureHeader())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(header, ",")+"\n", string(data))
}

func TestEnsureHeaderUpgradesLegacyFile(t *testing.T) {
	l, path := newTestLedger(t)

	legacy := "url,title,status\nhttps://example.org/courses/7-ink,Ink,completed,2023-01-01T00:00:00Z\n"
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0644))

	require.NoError(t, l.EnsureHeader())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, strings.Join(header, ","), lines[0])
	// Old content is preserved below the new header
	assert.Contains(t, string(data), "url,title,status")
	assert.Contains(t, string(data), "7-ink")

	// A second call must not stack another header
	require.NoError(t, l.EnsureHeader())
	data2, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, string(data), string(data2))
}

func TestMalformedRowsAreQuarantined(t *testing.T) {
	l, path := newTestLedger(t)

	content := strings.Join(header, ",") + "\n" +
		// bad unit number
		"https://example.org/courses/1-a,A,zero,U,1,V,completed,2023-01-01T00:00:00Z,0\n" +
		// unknown status
		"https://example.org/courses/1-a,A,1,U,1,V,done,2023-01-01T00:00:00Z,0\n" +
		// wrong column count (neither current nor legacy shape)
		"https://example.org/courses/1-a,A,1\n" +
		// valid row
		"https://example.org/courses/1-a,A,1,U,2,V,completed,2023-01-01T00:00:00Z,0\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	completed := l.LoadCompletedSet()
	assert.Len(t, completed, 1)
	assert.True(t, completed[models.NewVideoIdentity("https://example.org/courses/1-a", 1, 2)])
}

func TestConcurrentRecordOutcome(t *testing.T) {
	l, path := newTestLedger(t)
	require.NoError(t, l.EnsureHeader())

	course := "https://example.org/courses/42-go"
	done := make(chan struct{})
	for w := 0; w < 4; w++ {
		go func(w int) {
			defer func() { done <- struct{}{} }()
			for v := 1; v <= 5; v++ {
				l.RecordOutcome(models.NewVideoIdentity(course, w+1, v), Record{Status: StatusCompleted})
			}
		}(w)
	}
	for w := 0; w < 4; w++ {
		<-done
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 21, "header plus one row per identity")
}
