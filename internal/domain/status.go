package domain

import "fmt"

// CourseStatus is the reconciliation outcome for a remote course.
// The zero value is invalid so a forgotten assignment is detectable.
type CourseStatus int

const (
	StatusNew CourseStatus = iota + 1
	StatusExists
	StatusSynced
	StatusOmitted
)

// AllStatuses lists every status in display order.
var AllStatuses = []CourseStatus{StatusNew, StatusExists, StatusSynced, StatusOmitted}

func (s CourseStatus) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusExists:
		return "exists"
	case StatusSynced:
		return "synced"
	case StatusOmitted:
		return "omitted"
	}
	return fmt.Sprintf("CourseStatus(%d)", int(s))
}

// Label is the human readable form shown next to a course.
func (s CourseStatus) Label() string {
	switch s {
	case StatusNew:
		return "New"
	case StatusExists:
		return "Title exists"
	case StatusSynced:
		return "Synced"
	case StatusOmitted:
		return "Omitted"
	}
	return "Unknown"
}

func (s CourseStatus) Valid() bool {
	return s >= StatusNew && s <= StatusOmitted
}

func (s CourseStatus) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("domain: invalid course status %d", int(s))
	}
	return []byte(s.String()), nil
}

func (s *CourseStatus) UnmarshalText(b []byte) error {
	v, err := ParseCourseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ParseCourseStatus(v string) (CourseStatus, error) {
	for _, s := range AllStatuses {
		if s.String() == v {
			return s, nil
		}
	}
	return 0, fmt.Errorf("domain: unknown course status %q", v)
}

// TrackingStatus is the persisted sync state of a tracking record.
type TrackingStatus string

const (
	TrackingSynced    TrackingStatus = "synced"
	TrackingAvailable TrackingStatus = "available"
)

// MatchType says how course_exists found a local counterpart.
type MatchType string

const (
	MatchNone       MatchType = ""
	MatchTracking   MatchType = "tracking"
	MatchDirectMeta MatchType = "direct_meta"
	MatchTitle      MatchType = "title"
)

// ExistenceResult is the answer of a tracking store lookup.
// Degraded is set when a storage error forced a "not found" answer.
type ExistenceResult struct {
	Exists    bool
	MatchType MatchType
	LocalID   int64
	Degraded  bool
}
