package catalog

import (
	"bytes"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"lms-course-sync/internal/domain"
)

// DefaultFallback is used when the catalog page cannot be fetched or yields
// no titles.
var DefaultFallback = []string{
	"Deaf 101",
	"American Sign Language I",
	"American Sign Language II",
	"Deaf Culture and Community",
	"Interpreting Foundations",
	"Accessibility in the Classroom",
}

const (
	minTitleLen = 5
	maxTitleLen = 200
)

var noiseTitles = map[string]bool{
	"home": true, "about": true, "about us": true, "contact": true, "contact us": true,
	"login": true, "log in": true, "sign in": true, "sign up": true, "register": true,
	"logout": true, "log out": true, "menu": true, "search": true, "next": true,
	"previous": true, "read more": true, "learn more": true, "view all": true,
	"view course": true, "enroll now": true, "courses": true, "catalog": true,
	"course catalog": true, "all courses": true, "privacy policy": true,
	"terms of use": true, "terms of service": true, "skip to content": true,
	"skip to main content": true, "back to top": true, "facebook": true,
	"twitter": true, "instagram": true, "linkedin": true, "youtube": true,
}

// ParseTitles extracts candidate course titles from a catalog page: link
// text and h1-h4 headings, minus navigation noise, too short or too long
// strings, and case-insensitive duplicates. Document order is kept.
func ParseTitles(page []byte) ([]string, error) {
	doc, err := html.Parse(bytes.NewReader(page))
	if err != nil {
		return nil, err
	}

	var (
		out  []string
		seen = map[string]bool{}
	)
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Nav, atom.Footer, atom.Header:
				return
			case atom.A, atom.H1, atom.H2, atom.H3, atom.H4:
				if t := cleanTitle(textOf(n)); t != "" {
					key := domain.NormalizeTitle(t)
					if !seen[key] {
						seen[key] = true
						out = append(out, t)
					}
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return out, nil
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func cleanTitle(s string) string {
	t := strings.Join(strings.Fields(s), " ")
	n := utf8.RuneCountInString(t)
	if n < minTitleLen || n > maxTitleLen {
		return ""
	}
	if noiseTitles[strings.ToLower(t)] {
		return ""
	}
	if !strings.ContainsFunc(t, unicode.IsLetter) {
		return ""
	}
	return t
}
