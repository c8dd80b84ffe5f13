package utils

import (
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

// maxNameLength keeps generated file names inside common filesystem limits.
const maxNameLength = 120

var (
	unsafeChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)
	multiSpace  = regexp.MustCompile(`\s+`)
)

// SanitizeName turns an arbitrary title into a safe cross-platform file or
// directory name.
func SanitizeName(name string) string {
	name = unsafeChars.ReplaceAllString(name, " ")
	name = multiSpace.ReplaceAllString(name, " ")
	name = strings.Trim(name, " .")
	if len(name) > maxNameLength {
		name = strings.TrimSpace(name[:maxNameLength])
	}
	if name == "" {
		name = "untitled"
	}
	return name
}

// CourseSlug derives a directory name for a course from its normalized URL,
// falling back to the sanitized title when the URL carries no usable path.
func CourseSlug(courseURL, title string) string {
	if u, err := url.Parse(courseURL); err == nil {
		if slug := filepath.Base(u.Path); slug != "" && slug != "." && slug != "/" {
			return SanitizeName(slug)
		}
	}
	return SanitizeName(title)
}

// UnitDirName builds the directory name for a unit, e.g. "2 - Brushes".
func UnitDirName(number int, title string) string {
	return fmt.Sprintf("%d - %s", number, SanitizeName(title))
}

// VideoFileName builds the media file name for a video, e.g. "3 - Inking.mp4".
func VideoFileName(index int, title string) string {
	return fmt.Sprintf("%d - %s.mp4", index, SanitizeName(title))
}

// VideoStem is VideoFileName without the extension, used to match sidecar
// subtitle files produced by the fetch tool.
func VideoStem(index int, title string) string {
	return fmt.Sprintf("%d - %s", index, SanitizeName(title))
}
