package downloader

import (
	"context"
	"errors"
	"path/filepath"
	"sync"

	"coursegrab/internal/common/config"
	"coursegrab/internal/events"
	"coursegrab/internal/ledger"
	"coursegrab/pkg/models"
	"coursegrab/pkg/utils"

	"github.com/sirupsen/logrus"
)

// ErrNothingCompleted is surfaced when a run finishes with zero downloads
// and zero skips: nothing at all succeeded, which usually means the session
// expired and the caller should re-authenticate and retry.
var ErrNothingCompleted = errors.New("downloader: no video was downloaded or skipped")

// PostProcessor runs the dependent subtitle step after a successful fetch.
// Best effort: failures never undo the recorded completion.
type PostProcessor interface {
	AfterDownload(videoPath string, langs []string)
}

// Job is a scheduler-internal unit of work for one incomplete video.
type Job struct {
	Identity    models.VideoIdentity
	Video       models.VideoItem
	CourseTitle string
	UnitNumber  int
	UnitTitle   string
	TargetDir   string
	Stem        string
	Langs       []string
}

// Scheduler turns a course manifest into a bounded-concurrency queue of
// download jobs and drives each one through the retry controller. All
// per-run state lives on the instance; two schedulers never share anything
// but the files on disk.
type Scheduler struct {
	cfg       *config.DownloaderConfig
	ledger    *ledger.Ledger
	retry     *RetryController
	post      PostProcessor
	publisher events.Publisher
	log       *logrus.Logger
	runID     string
}

// NewScheduler wires the engine together for one run.
func NewScheduler(cfg *config.DownloaderConfig, lg *ledger.Ledger, retry *RetryController, post PostProcessor, publisher events.Publisher, log *logrus.Logger, runID string) *Scheduler {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	return &Scheduler{
		cfg:       cfg,
		ledger:    lg,
		retry:     retry,
		post:      post,
		publisher: publisher,
		log:       log,
		runID:     runID,
	}
}

// Run downloads the selected subset of the manifest and returns the
// aggregate counts. A single job's terminal failure never aborts its
// siblings; only a run where nothing succeeded at all returns
// ErrNothingCompleted alongside the stats.
func (s *Scheduler) Run(ctx context.Context, manifest *models.CourseManifest, sel models.Selection) (models.RunStats, error) {
	var stats models.RunStats

	completed := s.ledger.LoadCompletedSet()

	// Header migration is a read-modify-write and must finish before any
	// concurrent job appends a row.
	if err := s.ledger.EnsureHeader(); err != nil {
		s.log.WithError(err).Warn("Failed to prepare ledger file")
	}

	jobs := s.buildQueue(manifest, sel, completed, &stats)

	s.log.WithFields(logrus.Fields{
		"course":  manifest.URL,
		"queued":  len(jobs),
		"skipped": stats.Skipped,
		"workers": s.cfg.Concurrency,
	}).Info("Starting download queue")

	// Slot semaphore: admission blocks until any in-flight job frees a
	// slot, regardless of which one.
	slots := make(chan struct{}, s.cfg.Concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, job := range jobs {
		slots <- struct{}{}
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			defer func() { <-slots }()

			if s.runJob(ctx, job) {
				mu.Lock()
				stats.Downloaded++
				mu.Unlock()
			} else {
				mu.Lock()
				stats.Failed++
				mu.Unlock()
			}
		}(job)
	}
	wg.Wait()

	s.publisher.Publish(models.JobLog{
		RunID:  s.runID,
		Status: models.StatusSummary,
		Data:   models.JobInfo{CourseURL: manifest.URL, CourseTitle: manifest.Title},
		Stats:  &stats,
	})

	s.log.WithFields(logrus.Fields{
		"downloaded": stats.Downloaded,
		"skipped":    stats.Skipped,
		"failed":     stats.Failed,
	}).Info("Download queue finished")

	if stats.Downloaded == 0 && stats.Skipped == 0 {
		return stats, ErrNothingCompleted
	}
	return stats, nil
}

// buildQueue flattens the manifest in unit-then-video order, drops every
// video that is already done per the ledger or the filesystem, and tallies
// the skips.
func (s *Scheduler) buildQueue(manifest *models.CourseManifest, sel models.Selection, completed map[models.VideoIdentity]bool, stats *models.RunStats) []Job {
	courseDir := filepath.Join(s.cfg.DownloadDir, utils.CourseSlug(manifest.URL, manifest.Title))

	var jobs []Job
	for _, unit := range manifest.Units {
		if !sel.WantsUnit(unit.Number) {
			continue
		}
		unitDir := filepath.Join(courseDir, utils.UnitDirName(unit.Number, unit.Title))

		for i, video := range unit.Videos {
			index := i + 1
			if !sel.WantsVideo(index) {
				continue
			}

			id := models.NewVideoIdentity(manifest.URL, unit.Number, index)
			stem := utils.VideoStem(index, video.Title)
			target := filepath.Join(unitDir, stem+".mp4")

			probe := func() bool { return utils.FileExistsNonEmpty(target) }
			if s.ledger.IsCompleted(id, completed, probe) {
				stats.Skipped++
				s.log.WithFields(logrus.Fields{
					"unit":  unit.Number,
					"video": index,
					"title": video.Title,
				}).Debug("Skipping already completed video")
				continue
			}

			jobs = append(jobs, Job{
				Identity:    id,
				Video:       video,
				CourseTitle: manifest.Title,
				UnitNumber:  unit.Number,
				UnitTitle:   unit.Title,
				TargetDir:   unitDir,
				Stem:        stem,
				Langs:       s.cfg.SubtitleLangs,
			})
		}
	}
	return jobs
}

// runJob drives one admitted job to a terminal outcome and records it.
// Returns true when the download completed.
func (s *Scheduler) runJob(ctx context.Context, job Job) bool {
	s.publishJob(models.StatusStart, job, nil, nil)

	req := FetchRequest{
		PlaybackURL:   job.Video.PlaybackURL,
		OutputDir:     job.TargetDir,
		Stem:          job.Stem,
		SubtitleLangs: job.Langs,
		Progress: func(pct float64) {
			s.publishJob(models.StatusProgress, job, nil, &models.ProgressInfo{Percent: pct})
		},
	}

	retries, err := s.retry.Attempt(ctx, req)
	if err != nil {
		var terminal *TerminalError
		if errors.As(err, &terminal) {
			retries = terminal.Retries
		}

		s.ledger.RecordOutcome(job.Identity, ledger.Record{
			CourseTitle: job.CourseTitle,
			UnitTitle:   job.UnitTitle,
			VideoTitle:  job.Video.Title,
			Status:      ledger.StatusFailed,
			RetryCount:  retries,
		})

		s.publishJob(models.StatusFailed, job, err, nil)
		s.log.WithFields(logrus.Fields{
			"unit":    job.UnitNumber,
			"video":   job.Identity.Video,
			"title":   job.Video.Title,
			"retries": retries,
			"error":   err,
		}).Warn("Video failed terminally, continuing with remaining queue")
		return false
	}

	if len(job.Langs) > 0 && s.post != nil {
		s.post.AfterDownload(filepath.Join(job.TargetDir, job.Stem+".mp4"), job.Langs)
	}

	s.ledger.RecordOutcome(job.Identity, ledger.Record{
		CourseTitle: job.CourseTitle,
		UnitTitle:   job.UnitTitle,
		VideoTitle:  job.Video.Title,
		Status:      ledger.StatusCompleted,
		RetryCount:  retries,
	})

	s.publishJob(models.StatusCompleted, job, nil, nil)
	s.log.WithFields(logrus.Fields{
		"unit":  job.UnitNumber,
		"video": job.Identity.Video,
		"title": job.Video.Title,
	}).Info("Video downloaded")
	return true
}

func (s *Scheduler) publishJob(status string, job Job, err error, progress *models.ProgressInfo) {
	jobLog := models.JobLog{
		RunID:  s.runID,
		Status: status,
		Data: models.JobInfo{
			CourseURL:   job.Identity.CourseURL,
			CourseTitle: job.CourseTitle,
			Unit:        job.UnitNumber,
			UnitTitle:   job.UnitTitle,
			Index:       job.Identity.Video,
			Title:       job.Video.Title,
			Progress:    progress,
		},
	}
	if err != nil {
		jobLog.Error = err.Error()
	}
	s.publisher.Publish(jobLog)
}
