package catalog

import (
	"strings"
	"unicode/utf8"

	"lms-course-sync/internal/domain"
)

// Matcher decides whether a course title is on the approved list.
type Matcher struct {
	// Threshold is the minimum Similarity percentage that passes (inclusive).
	Threshold float64
	// LengthRatio is the minimum shorter/longer length ratio for the
	// substring rule.
	LengthRatio float64
	// LongTitleMin is the length both titles must exceed for the substring rule.
	LongTitleMin int
}

func DefaultMatcher() Matcher {
	return Matcher{Threshold: 90, LengthRatio: 0.8, LongTitleMin: 15}
}

// Match returns the approved title that title matched, if any. An exact
// case-insensitive match wins; otherwise the first fuzzy match in list order.
func (m Matcher) Match(title string, approved []string) (string, bool) {
	norm := domain.NormalizeTitle(title)
	if norm == "" {
		return "", false
	}
	for _, a := range approved {
		if domain.NormalizeTitle(a) == norm {
			return a, true
		}
	}
	for _, a := range approved {
		if m.fuzzy(norm, domain.NormalizeTitle(a)) {
			return a, true
		}
	}
	return "", false
}

func (m Matcher) fuzzy(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if Similarity(a, b) >= m.Threshold {
		return true
	}

	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	if la <= m.LongTitleMin || lb <= m.LongTitleMin {
		return false
	}
	short, long := la, lb
	if short > long {
		short, long = long, short
	}
	if float64(short)/float64(long) < m.LengthRatio {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

// Similarity returns the percentage of characters the two strings share,
// counted as the longest common substring plus, recursively, the common
// characters to its left and right: 2*common*100 / (len(a)+len(b)).
func Similarity(a, b string) float64 {
	ra, rb := []rune(a), []rune(b)
	total := len(ra) + len(rb)
	if total == 0 {
		return 100
	}
	return float64(commonChars(ra, rb)) * 200 / float64(total)
}

func commonChars(a, b []rune) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	posA, posB, best := 0, 0, 0
	for i := range a {
		for j := range b {
			k := 0
			for i+k < len(a) && j+k < len(b) && a[i+k] == b[j+k] {
				k++
			}
			if k > best {
				posA, posB, best = i, j, k
			}
		}
	}
	if best == 0 {
		return 0
	}
	return best + commonChars(a[:posA], b[:posB]) + commonChars(a[posA+best:], b[posB+best:])
}
