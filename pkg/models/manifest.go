package models

import "time"

// CourseManifest represents the discovered structure of a single course.
// The URL is always the normalized course page URL.
type CourseManifest struct {
	URL          string    `json:"url"`
	Title        string    `json:"title,omitempty"`
	Units        []Unit    `json:"units"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// Unit is an ordered section of a course. Number is 1-based.
type Unit struct {
	Number int         `json:"number"`
	Title  string      `json:"title"`
	Videos []VideoItem `json:"videos"`
}

// VideoItem is a single downloadable video inside a unit.
type VideoItem struct {
	PlaybackURL string `json:"playback_url"`
	Title       string `json:"title"`
	Section     string `json:"section,omitempty"`
}

// VideoCount returns the total number of videos across all units.
func (m *CourseManifest) VideoCount() int {
	total := 0
	for _, u := range m.Units {
		total += len(u.Videos)
	}
	return total
}

// VideoIdentity is the composite key used for de-duplication across the
// progress ledger, the per-run seen set and the cache completion check.
// Unit and Video are 1-based manifest positions; zero for both marks a
// legacy course-level wildcard that satisfies every video of the course.
type VideoIdentity struct {
	CourseURL string `json:"course_url"`
	Unit      int    `json:"unit"`
	Video     int    `json:"video"`
}

// NewVideoIdentity builds the identity for a video at the given positions.
func NewVideoIdentity(courseURL string, unit, video int) VideoIdentity {
	return VideoIdentity{CourseURL: courseURL, Unit: unit, Video: video}
}

// WildcardIdentity builds the course-level wildcard identity used by legacy
// ledger rows that predate per-video tracking.
func WildcardIdentity(courseURL string) VideoIdentity {
	return VideoIdentity{CourseURL: courseURL}
}

// IsWildcard reports whether the identity is a course-level wildcard.
func (id VideoIdentity) IsWildcard() bool {
	return id.Unit == 0 && id.Video == 0
}

// Wildcard returns the course-level wildcard for this identity's course.
func (id VideoIdentity) Wildcard() VideoIdentity {
	return WildcardIdentity(id.CourseURL)
}

// Selection narrows a run to a subset of a course. An empty Units slice
// selects every unit; an empty Videos slice selects every video within the
// selected units. Positions are 1-based manifest positions.
type Selection struct {
	Units  []int `json:"units,omitempty"`
	Videos []int `json:"videos,omitempty"`
}

// WantsUnit reports whether the unit at the given position is selected.
func (s Selection) WantsUnit(number int) bool {
	if len(s.Units) == 0 {
		return true
	}
	for _, n := range s.Units {
		if n == number {
			return true
		}
	}
	return false
}

// WantsVideo reports whether the video at the given position is selected.
func (s Selection) WantsVideo(index int) bool {
	if len(s.Videos) == 0 {
		return true
	}
	for _, n := range s.Videos {
		if n == index {
			return true
		}
	}
	return false
}
