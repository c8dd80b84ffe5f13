// Package app orchestrates one course download run: manifest cache lookup,
// browser discovery on a miss, then the bounded-concurrency scheduler. All
// per-run state (run ID, ledger write-set) is created here and threaded
// through, never stored in package globals.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"coursegrab/internal/cache"
	"coursegrab/internal/catalog"
	"coursegrab/internal/common/config"
	"coursegrab/internal/downloader"
	"coursegrab/internal/events"
	"coursegrab/internal/ledger"
	"coursegrab/internal/subtitle"
	"coursegrab/pkg/models"
	"coursegrab/pkg/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// coverAssetName is the sibling asset that must exist, in addition to every
// video, before a course counts as fully downloaded.
const coverAssetName = "cover.jpg"

// Runner executes course download runs.
type Runner struct {
	cfg        *config.Config
	cache      *cache.ManifestCache
	session    catalog.Authenticator
	discoverer catalog.Discoverer
	publisher  events.Publisher
	log        *logrus.Logger
}

// NewRunner wires a runner from its collaborators. A nil publisher means
// events are discarded.
func NewRunner(cfg *config.Config, manifestCache *cache.ManifestCache, session catalog.Authenticator, discoverer catalog.Discoverer, publisher events.Publisher, log *logrus.Logger) *Runner {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Runner{
		cfg:        cfg,
		cache:      manifestCache,
		session:    session,
		discoverer: discoverer,
		publisher:  publisher,
		log:        log,
	}
}

// CheckPreconditions verifies the external tools before any work starts.
// A missing tool is the only condition that fails a run up front.
func (r *Runner) CheckPreconditions() error {
	dl := r.cfg.GetDownloaderConfig()
	for _, tool := range []string{dl.FetchTool, dl.TranscodeTool} {
		if !downloader.ToolAvailable(tool) {
			return fmt.Errorf("required external tool %q not found on PATH", tool)
		}
	}
	return nil
}

// DownloadCourse downloads the selected subset of one course and returns the
// aggregate counts.
func (r *Runner) DownloadCourse(ctx context.Context, rawURL string, sel models.Selection) (models.RunStats, error) {
	var stats models.RunStats

	dl := r.cfg.GetDownloaderConfig()

	courseURL, err := catalog.NormalizeCourseURL(rawURL)
	if err != nil {
		return stats, err
	}

	if err := os.MkdirAll(dl.DownloadDir, 0755); err != nil {
		return stats, fmt.Errorf("failed to create download root: %w", err)
	}

	runID := uuid.New().String()
	ledgerPath := filepath.Join(dl.DownloadDir, dl.LedgerFile)
	runLedger := ledger.New(ledgerPath, r.log)

	r.log.WithFields(logrus.Fields{
		"run_id": runID,
		"course": courseURL,
	}).Info("Starting course download run")

	manifest, err := r.obtainManifest(ctx, courseURL)
	if err != nil {
		return stats, err
	}

	coverPath := filepath.Join(
		dl.DownloadDir,
		utils.CourseSlug(courseURL, manifest.Title),
		coverAssetName,
	)

	// Fully-downloaded fast path: checked before scheduling so the cache
	// file's read-modify-write stays outside the concurrent job phase.
	if r.cache.IsFullyDownloaded(courseURL, runLedger.LoadCompletedSet(), coverPath) {
		r.log.WithField("course", courseURL).Info("Course already fully downloaded")
		stats.Skipped = manifest.VideoCount()
		return stats, nil
	}

	fetcher := downloader.NewExecFetcher(dl.FetchTool, r.log)
	retry := downloader.NewRetryController(
		fetcher,
		downloader.Quality{Height: dl.QualityHeight},
		dl.MaxRetries,
		r.log,
	)
	embedder := subtitle.NewEmbedder(dl.TranscodeTool, r.log)
	scheduler := downloader.NewScheduler(dl, runLedger, retry, embedder, r.publisher, r.log, runID)

	stats, err = scheduler.Run(ctx, manifest, sel)
	if err != nil && !errors.Is(err, downloader.ErrNothingCompleted) {
		return stats, err
	}

	// Recompute the flag after all jobs finished, again outside the
	// concurrent phase.
	if r.cache.IsFullyDownloaded(courseURL, runLedger.LoadCompletedSet(), coverPath) {
		r.log.WithField("course", courseURL).Info("Course is now fully downloaded")
	}

	return stats, err
}

// obtainManifest returns the cached manifest or discovers a fresh one. An
// empty discovery is treated as a possibly expired session: the session is
// refreshed and discovery retried, bounded by MaxAuthRetries so invalid
// credentials cannot loop forever.
func (r *Runner) obtainManifest(ctx context.Context, courseURL string) (*models.CourseManifest, error) {
	if manifest, err := r.cache.Load(courseURL); err == nil {
		r.log.WithField("course", courseURL).Info("Manifest served from cache")
		return manifest, nil
	} else if !errors.Is(err, cache.ErrCacheMiss) {
		r.log.WithError(err).Warn("Cache lookup failed, discovering fresh manifest")
	}

	var lastErr error
	for attempt := 0; attempt <= r.cfg.Catalog.MaxAuthRetries; attempt++ {
		if attempt > 0 {
			r.log.WithFields(logrus.Fields{
				"attempt": attempt,
				"max":     r.cfg.Catalog.MaxAuthRetries,
			}).Warn("No videos found, refreshing session and retrying discovery")

			if err := r.session.Login(ctx, r.cfg.Catalog.LoginURL); err != nil {
				lastErr = err
				continue
			}
		}

		manifest, err := r.discoverer.Discover(ctx, courseURL)
		if err == nil {
			r.cache.Save(courseURL, manifest, manifest.Title, false)
			return manifest, nil
		}
		if !errors.Is(err, catalog.ErrNoVideosFound) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("discovery failed after %d re-authentication attempts: %w",
		r.cfg.Catalog.MaxAuthRetries, lastErr)
}
