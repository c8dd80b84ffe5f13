package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"coursegrab/internal/common/config"
	"coursegrab/pkg/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ttl = 7 * 24 * time.Hour

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func newTestCache(t *testing.T) *ManifestCache {
	t.Helper()
	cfg := &config.CacheConfig{
		File:  filepath.Join(t.TempDir(), "course_cache.json"),
		TTLMs: ttl.Milliseconds(),
	}
	return New(cfg, testLogger())
}

func testManifest(courseURL string) *models.CourseManifest {
	return &models.CourseManifest{
		URL:   courseURL,
		Title: "Ink Drawing",
		Units: []models.Unit{
			{Number: 1, Title: "Basics", Videos: []models.VideoItem{
				{PlaybackURL: "https://cdn.example.org/v/1", Title: "Intro"},
				{PlaybackURL: "https://cdn.example.org/v/2", Title: "Tools"},
			}},
			{Number: 2, Title: "Practice", Videos: []models.VideoItem{
				{PlaybackURL: "https://cdn.example.org/v/3", Title: "Lines"},
			}},
		},
		DiscoveredAt: time.Now(),
	}
}

func TestLoadMissWhenEmpty(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Load("https://example.org/courses/7-ink")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestSaveThenLoad(t *testing.T) {
	c := newTestCache(t)
	course := "https://example.org/courses/7-ink"

	c.Save(course, testManifest(course), "Ink Drawing", false)

	got, err := c.Load(course)
	require.NoError(t, err)
	assert.Equal(t, course, got.URL)
	assert.Len(t, got.Units, 2)
	assert.Equal(t, 3, got.VideoCount())
}

func TestLoadRespectsTTLBoundary(t *testing.T) {
	c := newTestCache(t)
	course := "https://example.org/courses/7-ink"

	base := time.Now()
	c.now = func() time.Time { return base }
	c.Save(course, testManifest(course), "Ink Drawing", false)

	// One millisecond before expiry: hit
	c.now = func() time.Time { return base.Add(ttl - time.Millisecond) }
	_, err := c.Load(course)
	assert.NoError(t, err)

	// One millisecond past expiry: miss and eviction
	c.now = func() time.Time { return base.Add(ttl + time.Millisecond) }
	_, err = c.Load(course)
	assert.ErrorIs(t, err, ErrCacheMiss)

	// Entry was evicted from the file, still a miss at any age
	c.now = func() time.Time { return base }
	_, err = c.Load(course)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestLoadDisabled(t *testing.T) {
	cfg := &config.CacheConfig{
		File:     filepath.Join(t.TempDir(), "course_cache.json"),
		TTLMs:    ttl.Milliseconds(),
		Disabled: true,
	}
	c := New(cfg, testLogger())
	course := "https://example.org/courses/7-ink"

	c.Save(course, testManifest(course), "Ink Drawing", false)
	_, err := c.Load(course)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func completedSetFor(m *models.CourseManifest) map[models.VideoIdentity]bool {
	completed := make(map[models.VideoIdentity]bool)
	for _, unit := range m.Units {
		for i := range unit.Videos {
			completed[models.NewVideoIdentity(m.URL, unit.Number, i+1)] = true
		}
	}
	return completed
}

func TestIsFullyDownloadedRequiresCoverAsset(t *testing.T) {
	c := newTestCache(t)
	course := "https://example.org/courses/7-ink"
	manifest := testManifest(course)
	c.Save(course, manifest, manifest.Title, false)

	coverPath := filepath.Join(t.TempDir(), "cover.jpg")
	completed := completedSetFor(manifest)

	// All videos done but no cover: not fully downloaded
	assert.False(t, c.IsFullyDownloaded(course, completed, coverPath))

	// Cover appears: flag flips and persists
	require.NoError(t, os.WriteFile(coverPath, []byte("jpeg"), 0644))
	assert.True(t, c.IsFullyDownloaded(course, completed, coverPath))

	// Persisted flag short-circuits even with an empty completed set
	assert.True(t, c.IsFullyDownloaded(course, nil, coverPath))
}

func TestIsFullyDownloadedIncompleteVideos(t *testing.T) {
	c := newTestCache(t)
	course := "https://example.org/courses/7-ink"
	manifest := testManifest(course)
	c.Save(course, manifest, manifest.Title, false)

	coverPath := filepath.Join(t.TempDir(), "cover.jpg")
	require.NoError(t, os.WriteFile(coverPath, []byte("jpeg"), 0644))

	completed := completedSetFor(manifest)
	delete(completed, models.NewVideoIdentity(course, 2, 1))

	assert.False(t, c.IsFullyDownloaded(course, completed, coverPath))
}

func TestIsFullyDownloadedWildcardCounts(t *testing.T) {
	c := newTestCache(t)
	course := "https://example.org/courses/7-ink"
	manifest := testManifest(course)
	c.Save(course, manifest, manifest.Title, false)

	coverPath := filepath.Join(t.TempDir(), "cover.jpg")
	require.NoError(t, os.WriteFile(coverPath, []byte("jpeg"), 0644))

	completed := map[models.VideoIdentity]bool{
		models.WildcardIdentity(course): true,
	}
	assert.True(t, c.IsFullyDownloaded(course, completed, coverPath))
}

func TestIsFullyDownloadedUnknownCourse(t *testing.T) {
	c := newTestCache(t)
	assert.False(t, c.IsFullyDownloaded("https://example.org/courses/404", nil, "nowhere"))
}
