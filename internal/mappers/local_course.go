// Package mappers turns fetched remote courses into local content.
package mappers

import (
	"strings"
	"time"

	"golang.org/x/net/html"

	"lms-course-sync/internal/domain"
)

// Metadata keys written on imported content items.
const (
	MetaCourseCode    = "_course_code"
	MetaTermName      = "_term_name"
	MetaCreatedRemote = "_created_at_remote"
	MetaStartAt       = "_start_at"
	MetaEndAt         = "_end_at"
	MetaWorkflowState = "_workflow_state"
	MetaSyncSource    = "_sync_source"
	MetaSyncedAt      = "_synced_at"
	MetaImageURL      = "_image_url"
)

const excerptWords = 55

// BuildLocalCourse assembles the local representation of a fully fetched
// remote course.
func BuildLocalCourse(rc domain.RemoteCourse, source string, syncedAt time.Time) domain.LocalCourse {
	meta := map[string]string{
		MetaSyncSource: source,
		MetaSyncedAt:   syncedAt.UTC().Format(time.RFC3339),
	}
	put := func(k, v string) {
		if v = strings.TrimSpace(v); v != "" {
			meta[k] = v
		}
	}
	put(MetaCourseCode, rc.CourseCode)
	put(MetaTermName, rc.TermName)
	put(MetaWorkflowState, rc.WorkflowState)
	put(MetaImageURL, rc.ImageURL)
	if !rc.CreatedAt.IsZero() {
		meta[MetaCreatedRemote] = rc.CreatedAt.UTC().Format(time.RFC3339)
	}
	if rc.StartAt != nil {
		meta[MetaStartAt] = rc.StartAt.UTC().Format(time.RFC3339)
	}
	if rc.EndAt != nil {
		meta[MetaEndAt] = rc.EndAt.UTC().Format(time.RFC3339)
	}

	return domain.LocalCourse{
		RemoteID: rc.RemoteID,
		Title:    strings.TrimSpace(rc.Title),
		Slug:     domain.Slugify(rc.Title),
		Body:     BuildBody(rc),
		Excerpt:  Excerpt(firstNonEmpty(rc.PublicDescription, rc.SyllabusBody, rc.Description), excerptWords),
		Meta:     meta,
	}
}

// BuildBody concatenates the module listing and the syllabus. When neither
// exists it falls back to the public description, then the description.
func BuildBody(rc domain.RemoteCourse) string {
	var parts []string
	if mods := ModulesHTML(rc.Modules); mods != "" {
		parts = append(parts, mods)
	}
	if s := strings.TrimSpace(rc.SyllabusBody); s != "" {
		if len(parts) > 0 {
			parts = append(parts, `<h2>Syllabus</h2>`)
		}
		parts = append(parts, s)
	}
	if len(parts) == 0 {
		if d := firstNonEmpty(rc.PublicDescription, rc.Description); d != "" {
			parts = append(parts, d)
		}
	}
	return strings.Join(parts, "\n")
}

// ModulesHTML renders modules as a nested list. Empty modules are listed
// by name only; an empty input yields "".
func ModulesHTML(mods []domain.CourseModule) string {
	var b strings.Builder
	for _, m := range mods {
		name := strings.TrimSpace(m.Name)
		if name == "" && len(m.Items) == 0 {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("<h2>Course Modules</h2>\n<ol class=\"course-modules\">\n")
		}
		b.WriteString("<li><strong>")
		b.WriteString(html.EscapeString(name))
		b.WriteString("</strong>")
		if len(m.Items) > 0 {
			b.WriteString("<ul>")
			for _, it := range m.Items {
				b.WriteString("<li>")
				b.WriteString(html.EscapeString(it.Title))
				b.WriteString("</li>")
			}
			b.WriteString("</ul>")
		}
		b.WriteString("</li>\n")
	}
	if b.Len() == 0 {
		return ""
	}
	b.WriteString("</ol>")
	return b.String()
}

// Excerpt returns the plain text of an HTML fragment cut to maxWords words.
func Excerpt(fragment string, maxWords int) string {
	words := strings.Fields(PlainText(fragment))
	if maxWords > 0 && len(words) > maxWords {
		return strings.Join(words[:maxWords], " ") + "…"
	}
	return strings.Join(words, " ")
}

// PlainText strips markup from an HTML fragment, skipping scripts and styles.
func PlainText(fragment string) string {
	if strings.TrimSpace(fragment) == "" {
		return ""
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), nil)
	if err != nil {
		return fragment
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			b.WriteByte(' ')
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
