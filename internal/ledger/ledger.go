// Package ledger keeps the durable per-video download record. The file is
// append-oriented CSV; it is advisory rather than authoritative, because a
// correctly named media file on disk also counts as completion.
package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"coursegrab/internal/catalog"
	"coursegrab/pkg/models"

	"github.com/sirupsen/logrus"
)

// Outcome statuses recorded per video. StatusProcessing is never written
// here, outcomes are recorded once at a terminal state; it stays in the
// accepted set so rows written by older versions of the tool parse cleanly.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// header is the current ledger schema. Older files are upgraded in place by
// EnsureHeader before any concurrent writer starts.
var header = []string{
	"url", "courseTitle", "unitNumber", "unitTitle",
	"videoIndex", "videoTitle", "status", "timestamp", "retryCount",
}

// legacyRowFields is the column count of pre-schema course-level rows
// (url, courseTitle, status, timestamp). Such rows act as a completion
// wildcard for every video of the course. New code never writes them.
const legacyRowFields = 4

// Record is one ledger row for a video outcome.
type Record struct {
	CourseTitle string
	UnitTitle   string
	VideoTitle  string
	Status      string
	RetryCount  int
}

// Ledger appends outcome rows for one run and answers completion queries.
// A Ledger instance is per-run state: the write-dedup set lives here, not
// in package globals, so concurrent runs and tests stay isolated.
type Ledger struct {
	path string
	log  *logrus.Logger
	now  func() time.Time

	mu      sync.Mutex
	written map[models.VideoIdentity]bool
}

// New creates a ledger over the CSV file at path.
func New(path string, log *logrus.Logger) *Ledger {
	return &Ledger{
		path:    path,
		log:     log,
		now:     time.Now,
		written: make(map[models.VideoIdentity]bool),
	}
}

// EnsureHeader creates the ledger file with the current header if it is
// absent, and prepends the current header to an existing file whose first
// line is an older schema or missing entirely. It must run before the
// concurrent job phase; every later write is a plain append.
func (l *Ledger) EnsureHeader() error {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return os.WriteFile(l.path, []byte(strings.Join(header, ",")+"\n"), 0644)
	}
	if err != nil {
		return fmt.Errorf("failed to read ledger: %w", err)
	}

	firstLine, _, _ := strings.Cut(string(data), "\n")
	if strings.TrimSpace(firstLine) == strings.Join(header, ",") {
		return nil
	}

	// Old schema or headerless file: keep every existing row below the
	// current header so legacy wildcard rows stay readable.
	upgraded := strings.Join(header, ",") + "\n" + string(data)
	if err := os.WriteFile(l.path, []byte(upgraded), 0644); err != nil {
		return fmt.Errorf("failed to upgrade ledger header: %w", err)
	}
	l.log.WithField("path", l.path).Info("Upgraded ledger file to current schema")
	return nil
}

// LoadCompletedSet parses the ledger and returns the set of identities whose
// recorded status is completed. Legacy course-level rows are returned as
// wildcard identities. Read failures degrade to an empty set with a warning;
// the filesystem probe remains the fallback.
func (l *Ledger) LoadCompletedSet() map[models.VideoIdentity]bool {
	completed := make(map[models.VideoIdentity]bool)

	f, err := os.Open(l.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			l.log.WithError(err).Warn("Failed to open ledger, treating as empty")
		}
		return completed
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	for {
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			l.log.WithError(err).Warn("Failed to read ledger row, treating rest as empty")
			break
		}

		switch {
		case len(row) == len(header):
			if row[0] == header[0] && row[6] == header[6] {
				continue // header line
			}
			id, status, ok := l.parseRow(row)
			if !ok {
				continue
			}
			if status == StatusCompleted {
				completed[id] = true
			}

		case len(row) == legacyRowFields:
			// Course-level legacy row: url, courseTitle, status, timestamp.
			// The older tool recorded whatever surface form it was invoked
			// with, so the URL must be normalized before it becomes a key.
			if strings.TrimSpace(row[2]) != StatusCompleted {
				continue
			}
			courseURL, err := catalog.NormalizeCourseURL(row[0])
			if err != nil {
				l.quarantine(row, "bad course URL")
				continue
			}
			completed[models.WildcardIdentity(courseURL)] = true

		default:
			l.log.WithFields(logrus.Fields{
				"fields": len(row),
				"row":    strings.Join(row, ","),
			}).Warn("Quarantined malformed ledger row")
		}
	}

	wildcards := 0
	for id := range completed {
		if id.IsWildcard() {
			wildcards++
		}
	}
	if wildcards > 0 {
		l.log.WithField("courses", wildcards).Debug("Ledger carries course-level wildcard completions")
	}

	return completed
}

// parseRow validates a full-schema row strictly; malformed rows are
// quarantined with a warning rather than guessed at. The course URL is
// normalized so rows written against any surface form of the course page
// compare equal to freshly built identities.
func (l *Ledger) parseRow(row []string) (models.VideoIdentity, string, bool) {
	courseURL, err := catalog.NormalizeCourseURL(row[0])
	if err != nil {
		l.quarantine(row, "bad course URL")
		return models.VideoIdentity{}, "", false
	}
	unit, err := strconv.Atoi(strings.TrimSpace(row[2]))
	if err != nil || unit < 1 {
		l.quarantine(row, "bad unit number")
		return models.VideoIdentity{}, "", false
	}
	index, err := strconv.Atoi(strings.TrimSpace(row[4]))
	if err != nil || index < 1 {
		l.quarantine(row, "bad video index")
		return models.VideoIdentity{}, "", false
	}
	status := strings.TrimSpace(row[6])
	switch status {
	case StatusProcessing, StatusCompleted, StatusFailed:
	default:
		l.quarantine(row, "unknown status")
		return models.VideoIdentity{}, "", false
	}
	return models.NewVideoIdentity(courseURL, unit, index), status, true
}

func (l *Ledger) quarantine(row []string, reason string) {
	l.log.WithFields(logrus.Fields{
		"reason": reason,
		"row":    strings.Join(row, ","),
	}).Warn("Quarantined malformed ledger row")
}

// IsCompleted reports whether the identity is already done: present in the
// completed set directly or via its course wildcard, or evidenced by an
// existing non-empty media file found by the optional probe.
func (l *Ledger) IsCompleted(id models.VideoIdentity, completed map[models.VideoIdentity]bool, probe func() bool) bool {
	if completed[id] || completed[id.Wildcard()] {
		return true
	}
	return probe != nil && probe()
}

// RecordOutcome appends one row for the identity. Within a single run the
// first write wins; repeated calls for the same identity are ignored so one
// execution never produces duplicate rows. Write failures are logged and
// swallowed: losing a row costs nothing because the filesystem probe still
// recognizes the finished file on the next run.
func (l *Ledger) RecordOutcome(id models.VideoIdentity, rec Record) {
	l.mu.Lock()
	if l.written[id] {
		l.mu.Unlock()
		return
	}
	l.written[id] = true
	l.mu.Unlock()

	row := []string{
		id.CourseURL,
		rec.CourseTitle,
		strconv.Itoa(id.Unit),
		rec.UnitTitle,
		strconv.Itoa(id.Video),
		rec.VideoTitle,
		rec.Status,
		l.now().UTC().Format(time.RFC3339),
		strconv.Itoa(rec.RetryCount),
	}

	if err := l.appendRow(row); err != nil {
		l.log.WithError(err).WithFields(logrus.Fields{
			"course": id.CourseURL,
			"unit":   id.Unit,
			"video":  id.Video,
		}).Warn("Failed to append ledger row")
	}
}

func (l *Ledger) appendRow(row []string) error {
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
