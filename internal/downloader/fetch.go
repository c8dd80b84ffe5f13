package downloader

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
)

// Quality selects the stream tier for a fetch. Height 0 means best
// available.
type Quality struct {
	Height int
}

// BestAvailable is the fallback tier tried when the preferred fixed
// resolution fails.
var BestAvailable = Quality{}

// FetchRequest describes a single invocation of the external fetch tool.
type FetchRequest struct {
	PlaybackURL   string
	OutputDir     string
	Stem          string // output file name without extension
	Quality       Quality
	SubtitleLangs []string
	// Progress receives best-effort percentages parsed from the tool's
	// streamed output. May be nil. Parsing failures never affect outcome.
	Progress func(percent float64)
}

// Fetcher downloads one video to disk. Success or failure is decided solely
// by the external tool's exit code.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) error
}

var percentRe = regexp.MustCompile(`(\d+(?:\.\d+)?)%`)

// ExecFetcher shells out to yt-dlp (or a compatible tool) with a structured
// argument list.
type ExecFetcher struct {
	Tool string
	log  *logrus.Logger
}

// NewExecFetcher creates a fetcher using the given tool binary.
func NewExecFetcher(tool string, log *logrus.Logger) *ExecFetcher {
	return &ExecFetcher{Tool: tool, log: log}
}

// Fetch runs the tool once. The request's quality maps onto a format
// directive; subtitles are requested as sidecar files so the embed step can
// pick them up when the tool does not embed them itself.
func (f *ExecFetcher) Fetch(ctx context.Context, req FetchRequest) error {
	if err := os.MkdirAll(req.OutputDir, 0755); err != nil {
		return fmt.Errorf("error creating output directory: %v", err)
	}

	args := []string{
		"--newline",
		"--no-playlist",
		"-o", filepath.Join(req.OutputDir, req.Stem+".%(ext)s"),
		"--merge-output-format", "mp4",
		"-f", formatDirective(req.Quality),
	}
	if len(req.SubtitleLangs) > 0 {
		args = append(args,
			"--write-subs",
			"--sub-langs", strings.Join(req.SubtitleLangs, ","),
			"--convert-subs", "srt",
		)
	}
	args = append(args, req.PlaybackURL)

	cmd := exec.CommandContext(ctx, f.Tool, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("error creating stdout pipe: %v", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("error starting %s: %v", f.Tool, err)
	}

	// Progress is UI only; scan errors are ignored.
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		f.log.WithFields(logrus.Fields{
			"tool": f.Tool,
			"line": line,
		}).Trace("Fetch tool output")
		if req.Progress == nil {
			continue
		}
		if m := percentRe.FindStringSubmatch(line); m != nil {
			if pct, err := strconv.ParseFloat(m[1], 64); err == nil {
				req.Progress(pct)
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("%s failed: %v", f.Tool, err)
	}
	return nil
}

// formatDirective maps a quality tier onto the tool's format selector.
func formatDirective(q Quality) string {
	if q.Height > 0 {
		return fmt.Sprintf("bestvideo[height=%d]+bestaudio/best[height=%d]", q.Height, q.Height)
	}
	return "bestvideo+bestaudio/best"
}

// ToolAvailable reports whether the named binary can be resolved on PATH.
// Used as a fatal precondition check before any work starts.
func ToolAvailable(tool string) bool {
	_, err := exec.LookPath(tool)
	return err == nil
}
