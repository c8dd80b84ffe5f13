// Package subtitle implements the best-effort post-download step: pick up
// sidecar subtitle files the fetch tool left next to a video, validate them
// and mux them into the media container. Nothing in here can fail a job.
package subtitle

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"coursegrab/pkg/utils"

	"github.com/sirupsen/logrus"
)

var timestampRe = regexp.MustCompile(`\d{2}:\d{2}:\d{2}[,.]\d{3}\s*-->\s*\d{2}:\d{2}:\d{2}[,.]\d{3}`)

// Embedder muxes sidecar subtitles into downloaded videos with an external
// transcode tool.
type Embedder struct {
	tool string
	log  *logrus.Logger
}

// NewEmbedder creates an embedder using the given transcode binary.
func NewEmbedder(tool string, log *logrus.Logger) *Embedder {
	return &Embedder{tool: tool, log: log}
}

// AfterDownload embeds any valid sidecar subtitle files into videoPath.
// No sidecars means the fetch tool already embedded the requested languages
// and there is nothing to do. Every failure is a warning: the download is
// already recorded as completed and stays that way.
func (e *Embedder) AfterDownload(videoPath string, langs []string) {
	if len(langs) == 0 {
		return
	}

	sidecars := findSidecars(videoPath)
	if len(sidecars) == 0 {
		e.log.WithField("video", videoPath).Debug("No sidecar subtitles, nothing to embed")
		return
	}

	var valid []string
	for _, sc := range sidecars {
		if err := ValidateSubtitleFile(sc); err != nil {
			e.log.WithError(err).WithField("subtitle", sc).Warn("Skipping invalid subtitle file")
			continue
		}
		valid = append(valid, sc)
	}
	if len(valid) == 0 {
		e.log.WithField("video", videoPath).Warn("No valid sidecar subtitles to embed")
		return
	}

	if err := e.mux(videoPath, valid); err != nil {
		e.log.WithError(err).WithField("video", videoPath).Warn("Failed to embed subtitles")
		return
	}

	for _, sc := range valid {
		if err := os.Remove(sc); err != nil {
			e.log.WithError(err).WithField("subtitle", sc).Warn("Failed to remove consumed subtitle file")
		}
	}
	e.log.WithFields(logrus.Fields{
		"video":     videoPath,
		"subtitles": len(valid),
	}).Info("Embedded subtitles")
}

// findSidecars returns subtitle files sharing the video's file-name stem,
// e.g. "3 - Inking.en.srt" next to "3 - Inking.mp4".
func findSidecars(videoPath string) []string {
	stem := strings.TrimSuffix(videoPath, filepath.Ext(videoPath))
	dir := filepath.Dir(videoPath)
	base := filepath.Base(stem)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var sidecars []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".srt") {
			continue
		}
		if name == base+".srt" || strings.HasPrefix(name, base+".") {
			sidecars = append(sidecars, filepath.Join(dir, name))
		}
	}
	return sidecars
}

// ValidateSubtitleFile checks that a sidecar file is non-empty and
// structurally plausible: at least one sequence marker and one timestamp
// pair.
func ValidateSubtitleFile(path string) error {
	if !utils.FileExistsNonEmpty(path) {
		return fmt.Errorf("subtitle file %s is empty or missing", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read subtitle file: %w", err)
	}
	content := string(data)

	hasSequence := false
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if isDigits(line) {
			hasSequence = true
			break
		}
	}
	if !hasSequence {
		return fmt.Errorf("subtitle file %s has no sequence marker", path)
	}
	if !timestampRe.MatchString(content) {
		return fmt.Errorf("subtitle file %s has no timestamp pair", path)
	}
	return nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// mux embeds the subtitle tracks into the video: first a full command with
// per-track language metadata, then a simplified fallback without it. On
// success the muxed output atomically replaces the original file.
func (e *Embedder) mux(videoPath string, subs []string) error {
	tmp := strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + ".muxed.mp4"

	full := e.muxArgs(videoPath, subs, tmp, true)
	if err := e.runTool(full); err != nil {
		e.log.WithError(err).Debug("Full mux command failed, trying simplified fallback")

		simple := e.muxArgs(videoPath, subs, tmp, false)
		if err := e.runTool(simple); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("both mux commands failed: %w", err)
		}
	}

	if err := os.Rename(tmp, videoPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace video with muxed output: %w", err)
	}
	return nil
}

// muxArgs builds a structured argument list; subtitle paths are never
// interpolated into a shell string.
func (e *Embedder) muxArgs(videoPath string, subs []string, out string, withMetadata bool) []string {
	args := []string{"-y", "-i", videoPath}
	for _, sc := range subs {
		args = append(args, "-i", sc)
	}
	args = append(args, "-map", "0")
	for i := range subs {
		args = append(args, "-map", fmt.Sprintf("%d:0", i+1))
	}
	args = append(args, "-c", "copy", "-c:s", "mov_text")
	if withMetadata {
		for i, sc := range subs {
			args = append(args, fmt.Sprintf("-metadata:s:s:%d", i), "language="+languageOf(sc))
		}
	}
	return append(args, out)
}

func (e *Embedder) runTool(args []string) error {
	cmd := exec.Command(e.tool, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s failed: %v: %s", e.tool, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// languageOf extracts the language code from a sidecar name like
// "stem.en.srt"; unknown shapes default to "und".
func languageOf(path string) string {
	base := strings.TrimSuffix(filepath.Base(path), ".srt")
	if i := strings.LastIndex(base, "."); i >= 0 && i < len(base)-1 {
		lang := base[i+1:]
		if len(lang) <= 3 {
			return lang
		}
	}
	return "und"
}
