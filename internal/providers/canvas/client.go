// Package canvas is the client for a Canvas-style LMS REST API.
package canvas

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"lms-course-sync/internal/domain"
	"lms-course-sync/internal/httpx"
	"lms-course-sync/internal/metrics"
)

const (
	DefaultPageSize = 100
	DefaultMaxPages = 50
)

type Client struct {
	BaseURL  string
	Token    string
	HTTP     *http.Client
	Retry    httpx.RetryConfig
	MaxPages int

	limiter *rate.Limiter
	log     zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.HTTP = h } }

// WithPageInterval paces consecutive page requests. Zero disables pacing.
func WithPageInterval(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		c.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

func WithMaxPages(n int) Option { return func(c *Client) { c.MaxPages = n } }

// WithRetry enables in-band retries. The default is a single attempt.
func WithRetry(cfg httpx.RetryConfig) Option { return func(c *Client) { c.Retry = cfg } }

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.log = l.With().Str("component", "canvas").Logger() }
}

// New builds a client for domain, which may be given with or without a scheme.
func New(domain, token string, opts ...Option) *Client {
	c := &Client{
		BaseURL:  normalizeBaseURL(domain),
		Token:    strings.TrimSpace(token),
		HTTP:     &http.Client{Timeout: 60 * time.Second},
		Retry:    httpx.NoRetry(),
		MaxPages: DefaultMaxPages,
		limiter:  rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		log:      zerolog.Nop(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.MaxPages <= 0 {
		c.MaxPages = DefaultMaxPages
	}
	return c
}

func normalizeBaseURL(domain string) string {
	d := strings.TrimRight(strings.TrimSpace(domain), "/")
	if d == "" {
		return ""
	}
	if !strings.HasPrefix(d, "http://") && !strings.HasPrefix(d, "https://") {
		d = "https://" + d
	}
	return d
}

func (c *Client) configured() error {
	if c.BaseURL == "" || c.Token == "" {
		return ErrMissingCredentials
	}
	return nil
}

/* -------- Response -------- */

type apiTerm struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type apiCourse struct {
	ID                     int64      `json:"id"`
	Name                   string     `json:"name"`
	CourseCode             string     `json:"course_code"`
	CreatedAt              *time.Time `json:"created_at"`
	StartAt                *time.Time `json:"start_at"`
	EndAt                  *time.Time `json:"end_at"`
	WorkflowState          string     `json:"workflow_state"`
	EnrollmentTermID       int64      `json:"enrollment_term_id"`
	Term                   *apiTerm   `json:"term"`
	ImageDownloadURL       string     `json:"image_download_url"`
	SyllabusBody           *string    `json:"syllabus_body"`
	PublicDescription      *string    `json:"public_description"`
	Description            *string    `json:"description"`
	AccessRestrictedByDate bool       `json:"access_restricted_by_date"`
}

type apiModule struct {
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Items []apiModuleItem `json:"items"`
}

type apiModuleItem struct {
	Title   string `json:"title"`
	Type    string `json:"type"`
	HTMLURL string `json:"html_url"`
}

type apiUser struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (a apiCourse) check() error {
	if a.ID <= 0 {
		return errors.New("course id missing or not positive")
	}
	if strings.TrimSpace(a.Name) == "" {
		return fmt.Errorf("course %d has no name", a.ID)
	}
	return nil
}

func (a apiCourse) toDomain() domain.RemoteCourse {
	rc := domain.RemoteCourse{
		RemoteID:      a.ID,
		Title:         strings.TrimSpace(a.Name),
		CourseCode:    a.CourseCode,
		StartAt:       a.StartAt,
		EndAt:         a.EndAt,
		WorkflowState: a.WorkflowState,
		TermID:        a.EnrollmentTermID,
		ImageURL:      a.ImageDownloadURL,
	}
	if a.CreatedAt != nil {
		rc.CreatedAt = *a.CreatedAt
	}
	if a.Term != nil {
		rc.TermName = a.Term.Name
		if rc.TermID == 0 {
			rc.TermID = a.Term.ID
		}
	}
	if a.SyllabusBody != nil {
		rc.SyllabusBody = *a.SyllabusBody
	}
	if a.PublicDescription != nil {
		rc.PublicDescription = *a.PublicDescription
	}
	if a.Description != nil {
		rc.Description = *a.Description
	}
	return rc
}

/* -------- API -------- */

// TestConnection verifies credentials and returns the authenticated user's name.
func (c *Client) TestConnection(ctx context.Context) (string, error) {
	if err := c.configured(); err != nil {
		return "", err
	}
	var u apiUser
	if _, err := c.getJSON(ctx, "test_connection", c.BaseURL+"/api/v1/users/self", &u); err != nil {
		return "", err
	}
	if u.ID <= 0 {
		return "", &InvalidPayloadError{Op: "test_connection", Reason: "user id missing"}
	}
	return u.Name, nil
}

// ListCourses fetches every course page and returns the result sorted by
// title, case-insensitively. Fetching continues while a page is full or the
// Link header names a next page, up to MaxPages. When a later page fails the
// courses gathered so far are returned with a *PartialError.
func (c *Client) ListCourses(ctx context.Context, pageSize int) ([]domain.RemoteCourse, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	if pageSize <= 0 || pageSize > DefaultPageSize {
		pageSize = DefaultPageSize
	}

	var all []domain.RemoteCourse
	next := c.coursesURL(pageSize, 1)

	for page := 1; ; page++ {
		if page > c.MaxPages {
			c.log.Warn().Int("max_pages", c.MaxPages).Int("courses", len(all)).Msg("page ceiling reached, returning courses gathered so far")
			break
		}
		if page > 1 {
			if err := c.limiter.Wait(ctx); err != nil {
				return sortCourses(all), &PartialError{Page: page, Err: &TransportError{Op: "list_courses", Err: err}}
			}
		}

		courses, raw, linkNext, err := c.fetchCoursePage(ctx, next)
		if err != nil {
			if page == 1 {
				return nil, err
			}
			c.log.Warn().Err(err).Int("page", page).Int("courses", len(all)).Msg("course page failed, keeping earlier pages")
			return sortCourses(all), &PartialError{Page: page, Err: err}
		}

		c.log.Debug().Int("page", page).Int("results", raw).Msg("canvas course page")
		all = append(all, courses...)

		if raw == 0 {
			break
		}
		switch {
		case linkNext != "":
			next = linkNext
		case raw >= pageSize:
			next = c.coursesURL(pageSize, page+1)
		default:
			next = ""
		}
		if next == "" {
			break
		}
	}

	metrics.CoursesFetched.Add(float64(len(all)))
	return sortCourses(all), nil
}

func (c *Client) coursesURL(pageSize, page int) string {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(pageSize))
	q.Set("page", strconv.Itoa(page))
	q.Add("include[]", "term")
	q.Add("include[]", "course_image")
	return c.BaseURL + "/api/v1/courses?" + q.Encode()
}

// fetchCoursePage returns the valid courses, the raw entry count and the
// Link rel="next" URL, if any.
func (c *Client) fetchCoursePage(ctx context.Context, pageURL string) ([]domain.RemoteCourse, int, string, error) {
	var items []apiCourse
	header, err := c.getJSON(ctx, "list_courses", pageURL, &items)
	if err != nil {
		return nil, 0, "", err
	}

	out := make([]domain.RemoteCourse, 0, len(items))
	for _, it := range items {
		if it.AccessRestrictedByDate {
			continue
		}
		if err := it.check(); err != nil {
			return nil, len(items), "", &InvalidPayloadError{Op: "list_courses", Reason: err.Error()}
		}
		out = append(out, it.toDomain())
	}
	return out, len(items), nextLink(header.Get("Link")), nil
}

// GetCourse fetches one course with its syllabus and description bodies.
func (c *Client) GetCourse(ctx context.Context, remoteID int64) (domain.RemoteCourse, error) {
	if err := c.configured(); err != nil {
		return domain.RemoteCourse{}, err
	}
	q := url.Values{}
	for _, inc := range []string{"syllabus_body", "public_description", "term", "course_image"} {
		q.Add("include[]", inc)
	}
	u := fmt.Sprintf("%s/api/v1/courses/%d?%s", c.BaseURL, remoteID, q.Encode())

	var it apiCourse
	if _, err := c.getJSON(ctx, "get_course", u, &it); err != nil {
		return domain.RemoteCourse{}, err
	}
	if err := it.check(); err != nil {
		return domain.RemoteCourse{}, &InvalidPayloadError{Op: "get_course", Reason: err.Error()}
	}
	if it.ID != remoteID {
		return domain.RemoteCourse{}, &InvalidPayloadError{Op: "get_course", Reason: fmt.Sprintf("asked for course %d, got %d", remoteID, it.ID)}
	}
	return it.toDomain(), nil
}

// ListModules fetches a course's modules with their items, following Link
// pagination up to MaxPages.
func (c *Client) ListModules(ctx context.Context, remoteID int64) ([]domain.CourseModule, error) {
	if err := c.configured(); err != nil {
		return nil, err
	}
	q := url.Values{}
	q.Add("include[]", "items")
	q.Set("per_page", strconv.Itoa(DefaultPageSize))
	next := fmt.Sprintf("%s/api/v1/courses/%d/modules?%s", c.BaseURL, remoteID, q.Encode())

	var out []domain.CourseModule
	for page := 1; next != "" && page <= c.MaxPages; page++ {
		var mods []apiModule
		header, err := c.getJSON(ctx, "list_modules", next, &mods)
		if err != nil {
			return out, err
		}
		for _, m := range mods {
			cm := domain.CourseModule{Name: strings.TrimSpace(m.Name)}
			for _, it := range m.Items {
				cm.Items = append(cm.Items, domain.ModuleItem{Title: strings.TrimSpace(it.Title), Type: it.Type, URL: it.HTMLURL})
			}
			out = append(out, cm)
		}
		next = nextLink(header.Get("Link"))
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, op, u string, out any) (http.Header, error) {
	start := time.Now()
	resp, body, err := httpx.DoWithRetry(ctx, c.HTTP, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.Token)
		return req, nil
	}, c.Retry)
	metrics.ObserveRemote(op, start, err)
	if err != nil {
		return nil, classify(op, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return nil, &InvalidPayloadError{Op: op, Reason: err.Error(), Body: excerpt(body)}
	}
	return resp.Header, nil
}

func excerpt(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "…"
	}
	return s
}

var linkPart = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="?([^";]+)"?`)

// nextLink extracts the rel="next" target from an RFC 8288 Link header.
func nextLink(h string) string {
	for _, m := range linkPart.FindAllStringSubmatch(h, -1) {
		for _, rel := range strings.Fields(m[2]) {
			if rel == "next" {
				return m[1]
			}
		}
	}
	return ""
}

func sortCourses(cs []domain.RemoteCourse) []domain.RemoteCourse {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := strings.ToLower(cs[i].Title), strings.ToLower(cs[j].Title)
		if a != b {
			return a < b
		}
		return cs[i].RemoteID < cs[j].RemoteID
	})
	return cs
}
