// Package cache persists discovered course manifests so repeated runs skip
// the expensive browser discovery step. Entries expire on a TTL and carry a
// fully-downloaded fast path flag.
package cache

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"coursegrab/internal/common/config"
	"coursegrab/pkg/models"
	"coursegrab/pkg/utils"

	"github.com/sirupsen/logrus"
)

// ErrCacheMiss is returned by Load when no usable entry exists: the cache is
// disabled, the course was never saved, or the entry aged past the TTL.
var ErrCacheMiss = errors.New("cache: miss")

// Entry wraps a manifest with its discovery metadata. Timestamp is unix
// milliseconds.
type Entry struct {
	Manifest        models.CourseManifest `json:"manifest"`
	Timestamp       int64                 `json:"timestamp"`
	CourseTitle     string                `json:"courseTitle"`
	FullyDownloaded bool                  `json:"fullyDownloaded"`
}

// ManifestCache is a whole-file JSON map keyed by normalized course URL.
// It offers no cross-process locking; the fully-downloaded flag is only
// flipped outside the concurrent job phase.
type ManifestCache struct {
	path     string
	ttl      time.Duration
	disabled bool
	log      *logrus.Logger
	now      func() time.Time
}

// New creates a manifest cache from configuration.
func New(cfg *config.CacheConfig, log *logrus.Logger) *ManifestCache {
	return &ManifestCache{
		path:     cfg.File,
		ttl:      cfg.CacheTTL(),
		disabled: cfg.Disabled,
		log:      log,
		now:      time.Now,
	}
}

// Load returns the cached manifest for the course or ErrCacheMiss. An entry
// whose age reached the TTL is evicted from the file on the way out.
func (c *ManifestCache) Load(courseURL string) (*models.CourseManifest, error) {
	if c.disabled {
		return nil, ErrCacheMiss
	}

	entries := c.readAll()
	entry, ok := entries[courseURL]
	if !ok {
		return nil, ErrCacheMiss
	}

	age := c.now().Sub(time.UnixMilli(entry.Timestamp))
	if age >= c.ttl {
		delete(entries, courseURL)
		c.writeAll(entries)
		c.log.WithFields(logrus.Fields{
			"course": courseURL,
			"age":    age.String(),
		}).Debug("Evicted expired cache entry")
		return nil, ErrCacheMiss
	}

	manifest := entry.Manifest
	return &manifest, nil
}

// Save stores the manifest for the course, stamping discovery time.
func (c *ManifestCache) Save(courseURL string, manifest *models.CourseManifest, title string, fullyDownloaded bool) {
	if c.disabled {
		return
	}

	entries := c.readAll()
	entries[courseURL] = Entry{
		Manifest:        *manifest,
		Timestamp:       c.now().UnixMilli(),
		CourseTitle:     title,
		FullyDownloaded: fullyDownloaded,
	}
	c.writeAll(entries)
}

// IsFullyDownloaded reports whether every video of the cached course is
// completed. A previously persisted flag short-circuits; otherwise the
// manifest is cross-referenced against the completed set and, additionally,
// the course cover asset must exist before the flag is flipped and
// persisted. Video completion alone never sets the flag.
func (c *ManifestCache) IsFullyDownloaded(courseURL string, completed map[models.VideoIdentity]bool, coverPath string) bool {
	if c.disabled {
		return false
	}

	entries := c.readAll()
	entry, ok := entries[courseURL]
	if !ok {
		return false
	}
	if entry.FullyDownloaded {
		return true
	}

	for _, unit := range entry.Manifest.Units {
		for i := range unit.Videos {
			id := models.NewVideoIdentity(courseURL, unit.Number, i+1)
			if !completed[id] && !completed[id.Wildcard()] {
				return false
			}
		}
	}

	if !utils.FileExistsNonEmpty(coverPath) {
		return false
	}

	entry.FullyDownloaded = true
	entries[courseURL] = entry
	c.writeAll(entries)
	return true
}

// readAll loads the whole cache file; read failures degrade to empty.
func (c *ManifestCache) readAll() map[string]Entry {
	entries := make(map[string]Entry)

	data, err := os.ReadFile(c.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.log.WithError(err).Warn("Failed to read manifest cache, treating as empty")
		}
		return entries
	}

	if err := json.Unmarshal(data, &entries); err != nil {
		c.log.WithError(err).Warn("Failed to parse manifest cache, treating as empty")
		return make(map[string]Entry)
	}
	return entries
}

// writeAll persists the whole cache file; write failures are logged and
// swallowed, the cache is an optimization only.
func (c *ManifestCache) writeAll(entries map[string]Entry) {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		c.log.WithError(err).Warn("Failed to marshal manifest cache")
		return
	}
	if err := os.WriteFile(c.path, data, 0644); err != nil {
		c.log.WithError(err).Warn("Failed to write manifest cache")
	}
}
