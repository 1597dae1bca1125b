package domain

import (
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// RemoteCourse is a course as returned by the remote catalog API.
// It is an immutable snapshot of one fetch and is never persisted as-is.
type RemoteCourse struct {
	RemoteID      int64      `json:"id"`
	Title         string     `json:"title"`
	CourseCode    string     `json:"course_code,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartAt       *time.Time `json:"start_at,omitempty"`
	EndAt         *time.Time `json:"end_at,omitempty"`
	WorkflowState string     `json:"workflow_state,omitempty"`

	TermID   int64  `json:"term_id,omitempty"`
	TermName string `json:"term_name,omitempty"`

	ImageURL string `json:"image_url,omitempty"`

	// Only populated by single-course detail fetches.
	SyllabusBody      string         `json:"-"`
	PublicDescription string         `json:"-"`
	Description       string         `json:"-"`
	Modules           []CourseModule `json:"-"`
}

// CourseModule is one module of a course with its items, in course order.
type CourseModule struct {
	Name  string       `json:"name"`
	Items []ModuleItem `json:"items,omitempty"`
}

type ModuleItem struct {
	Title string `json:"title"`
	Type  string `json:"type"`
	URL   string `json:"url,omitempty"`
}

// AnnotatedCourse is a RemoteCourse plus its reconciliation status.
type AnnotatedCourse struct {
	RemoteCourse
	Status  CourseStatus `json:"status"`
	LocalID int64        `json:"local_id,omitempty"`
}

func (a AnnotatedCourse) StatusLabel() string { return a.Status.Label() }

// MarshalJSON adds the display label next to the status code.
func (a AnnotatedCourse) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		RemoteCourse
		Status      CourseStatus `json:"status"`
		StatusLabel string       `json:"status_label"`
		LocalID     int64        `json:"local_id,omitempty"`
	}{a.RemoteCourse, a.Status, a.StatusLabel(), a.LocalID})
}

// LocalCourse is the prepared local content for one remote course, ready to
// be persisted by the tracking store in a single transaction.
type LocalCourse struct {
	RemoteID  int64
	CatalogID *int64
	Title     string
	Slug      string
	Body      string
	Excerpt   string
	Meta      map[string]string
}

// NormalizeTitle lowercases and collapses whitespace so titles coming from
// different systems can be compared.
func NormalizeTitle(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Slugify lowercases s and joins its alphanumeric runs with hyphens.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
