package catalog

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeCourseURL reduces any surface form of a course URL (course page,
// unit page, with query string or fragment) to the canonical course page
// URL. Every identity comparison in the engine happens on this form.
func NormalizeCourseURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid course URL %q: %w", raw, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid course URL %q: missing host", raw)
	}

	u.Scheme = "https"
	u.Host = strings.ToLower(u.Host)
	u.RawQuery = ""
	u.Fragment = ""
	u.User = nil

	// A unit page is the course page plus a "/units/..." suffix; cut it so
	// both forms map to the same identity.
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, seg := range segments {
		if seg == "units" {
			segments = segments[:i]
			break
		}
	}
	u.Path = "/" + strings.Join(segments, "/")
	u.Path = strings.TrimSuffix(u.Path, "/")
	if u.Path == "" {
		u.Path = "/"
	}

	return u.String(), nil
}
