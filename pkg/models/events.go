package models

// Job lifecycle statuses published on the event stream.
const (
	StatusStart     = "start"
	StatusProgress  = "progress"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSummary   = "summary"
)

// RunStats represents the aggregate outcome of one scheduler run.
type RunStats struct {
	Downloaded int `json:"downloaded"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// ProgressInfo represents the best-effort progress of a single download,
// parsed from the fetch tool's streamed output. UI only, never correctness.
type ProgressInfo struct {
	Percent float64 `json:"percent"`
}

// JobInfo identifies the video a job event refers to.
type JobInfo struct {
	CourseURL   string        `json:"course_url"`
	CourseTitle string        `json:"course_title,omitempty"`
	Unit        int           `json:"unit"`
	UnitTitle   string        `json:"unit_title,omitempty"`
	Index       int           `json:"index"`
	Title       string        `json:"title"`
	Progress    *ProgressInfo `json:"progress,omitempty"`
}

// JobLog is a log message emitted for a job lifecycle transition or, with
// StatusSummary, for the end of a whole run.
type JobLog struct {
	RunID  string    `json:"run_id"`
	Status string    `json:"status"`
	Error  string    `json:"error,omitempty"`
	Data   JobInfo   `json:"data"`
	Stats  *RunStats `json:"stats,omitempty"`
}
