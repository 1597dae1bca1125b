package canvas

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"lms-course-sync/internal/httpx"
)

func newTestClient(srv *httptest.Server, opts ...Option) *Client {
	opts = append([]Option{WithHTTPClient(srv.Client()), WithPageInterval(0)}, opts...)
	return New(srv.URL, "test-token", opts...)
}

func coursesJSON(ids ...int) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf(`{"id":%d,"name":"Course %03d","course_code":"C%d","created_at":"2024-01-02T03:04:05Z","term":{"id":3,"name":"Spring"}}`, id, 1000-id, id))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func TestMissingCredentials(t *testing.T) {
	c := New("", "token")
	if _, err := c.ListCourses(context.Background(), 10); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("Expected ErrMissingCredentials, got %v", err)
	}
	c = New("canvas.example.edu", " ")
	if _, err := c.TestConnection(context.Background()); !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("Expected ErrMissingCredentials, got %v", err)
	}
}

func TestNormalizeBaseURL(t *testing.T) {
	testCases := map[string]string{
		"canvas.example.edu":          "https://canvas.example.edu",
		"https://canvas.example.edu/": "https://canvas.example.edu",
		"http://localhost:8080":       "http://localhost:8080",
		"   ":                         "",
	}
	for in, want := range testCases {
		if got := normalizeBaseURL(in); got != want {
			t.Errorf("normalizeBaseURL(%q): expected %q, got %q", in, want, got)
		}
	}
}

func TestListCoursesFullPageHeuristic(t *testing.T) {
	var pages []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Expected bearer token, got %q", got)
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		pages = append(pages, page)
		switch page {
		case 1:
			fmt.Fprint(w, coursesJSON(1, 2))
		case 2:
			fmt.Fprint(w, coursesJSON(3, 4))
		default:
			fmt.Fprint(w, coursesJSON(5))
		}
	}))
	defer srv.Close()

	courses, err := newTestClient(srv).ListCourses(context.Background(), 2)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(courses) != 5 {
		t.Fatalf("Expected 5 courses, got %d", len(courses))
	}
	if len(pages) != 3 {
		t.Errorf("Expected 3 page requests, got %v", pages)
	}
	// titles are "Course 999" .. "Course 995", sorted ascending
	if courses[0].RemoteID != 5 || courses[4].RemoteID != 1 {
		t.Errorf("Expected title order 5..1, got first=%d last=%d", courses[0].RemoteID, courses[4].RemoteID)
	}
	if courses[0].TermName != "Spring" || courses[0].CreatedAt.IsZero() {
		t.Errorf("Expected term and created_at mapped, got %+v", courses[0])
	}
}

func TestListCoursesFollowsLinkHeader(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("cursor") == "two" {
			fmt.Fprint(w, coursesJSON(2))
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/api/v1/courses?cursor=two>; rel="next", <%s/api/v1/courses?page=1>; rel="first"`, srv.URL, srv.URL))
		fmt.Fprint(w, coursesJSON(1))
	}))
	defer srv.Close()

	courses, err := newTestClient(srv).ListCourses(context.Background(), 100)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(courses) != 2 {
		t.Errorf("Expected 2 courses across link pages, got %d", len(courses))
	}
}

func TestListCoursesEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	courses, err := newTestClient(srv).ListCourses(context.Background(), 10)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(courses) != 0 {
		t.Errorf("Expected no courses, got %d", len(courses))
	}
}

func TestListCoursesPageCeiling(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, coursesJSON(calls))
	}))
	defer srv.Close()

	courses, err := newTestClient(srv, WithMaxPages(3)).ListCourses(context.Background(), 1)
	if err != nil {
		t.Fatalf("Expected no error at the ceiling, got %v", err)
	}
	if calls != 3 || len(courses) != 3 {
		t.Errorf("Expected 3 calls and 3 courses, got %d/%d", calls, len(courses))
	}
}

func TestListCoursesPartialOnLaterPageFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "1" {
			fmt.Fprint(w, coursesJSON(1, 2))
			return
		}
		fmt.Fprint(w, `{"unexpected":"object"}`)
	}))
	defer srv.Close()

	courses, err := newTestClient(srv).ListCourses(context.Background(), 2)
	var perr *PartialError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected PartialError, got %v", err)
	}
	if perr.Page != 2 {
		t.Errorf("Expected failure on page 2, got %d", perr.Page)
	}
	if !IsDataError(err) {
		t.Error("Expected data error inside partial error")
	}
	if len(courses) != 2 {
		t.Errorf("Expected 2 courses kept, got %d", len(courses))
	}
}

func TestListCoursesSchemaMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":1,"name":""}]`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).ListCourses(context.Background(), 10)
	var ierr *InvalidPayloadError
	if !errors.As(err, &ierr) {
		t.Fatalf("Expected InvalidPayloadError, got %v", err)
	}
}

func TestListCoursesSkipsRestricted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"id":1,"name":"Open"},{"id":2,"access_restricted_by_date":true}]`)
	}))
	defer srv.Close()

	courses, err := newTestClient(srv).ListCourses(context.Background(), 10)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(courses) != 1 || courses[0].RemoteID != 1 {
		t.Errorf("Expected only course 1, got %+v", courses)
	}
}

func TestHTTPErrors(t *testing.T) {
	testCases := []struct {
		status    int
		retryable bool
	}{
		{http.StatusInternalServerError, true},
		{http.StatusTooManyRequests, true},
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
	}

	for _, tc := range testCases {
		t.Run(strconv.Itoa(tc.status), func(t *testing.T) {
			calls := 0
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(tc.status)
				fmt.Fprint(w, `{"errors":[{"message":"nope"}]}`)
			}))
			defer srv.Close()

			_, err := newTestClient(srv).GetCourse(context.Background(), 7)
			herr, ok := httpx.IsHTTPError(err)
			if !ok {
				t.Fatalf("Expected HTTPError, got %v", err)
			}
			if herr.StatusCode != tc.status {
				t.Errorf("Expected status %d, got %d", tc.status, herr.StatusCode)
			}
			if IsRetryable(err) != tc.retryable {
				t.Errorf("Expected retryable=%v", tc.retryable)
			}
			if calls != 1 {
				t.Errorf("Expected a single in-band attempt, got %d", calls)
			}
		})
	}
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newTestClient(srv)
	srv.Close()

	_, err := c.GetCourse(context.Background(), 1)
	var terr *TransportError
	if !errors.As(err, &terr) {
		t.Fatalf("Expected TransportError, got %v", err)
	}
	if !IsRetryable(err) {
		t.Error("Expected transport error to be retryable")
	}
}

func TestGetCourse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/courses/42" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		inc := r.URL.Query()["include[]"]
		if len(inc) != 4 || inc[0] != "syllabus_body" {
			t.Errorf("Expected include[] list, got %v", inc)
		}
		fmt.Fprint(w, `{"id":42,"name":"Deaf 101","syllabus_body":"<p>Week 1</p>","public_description":"Intro","image_download_url":"https://img/x.png"}`)
	}))
	defer srv.Close()

	rc, err := newTestClient(srv).GetCourse(context.Background(), 42)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if rc.SyllabusBody != "<p>Week 1</p>" || rc.PublicDescription != "Intro" || rc.ImageURL != "https://img/x.png" {
		t.Errorf("Unexpected detail mapping: %+v", rc)
	}
}

func TestGetCourseIDMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":43,"name":"Other"}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv).GetCourse(context.Background(), 42)
	if !IsDataError(err) {
		t.Errorf("Expected data error, got %v", err)
	}
}

func TestListModules(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/courses/42/modules" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `[{"id":1,"name":"Week 1","items":[{"title":"Welcome","type":"Page","html_url":"https://c/p/1"}]},{"id":2,"name":"Week 2","items":[]}]`)
	}))
	defer srv.Close()

	mods, err := newTestClient(srv).ListModules(context.Background(), 42)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(mods) != 2 || mods[0].Items[0].Title != "Welcome" {
		t.Errorf("Unexpected modules: %+v", mods)
	}
}

func TestTestConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/users/self" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"id":5,"name":"Sync Bot"}`)
	}))
	defer srv.Close()

	name, err := newTestClient(srv).TestConnection(context.Background())
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if name != "Sync Bot" {
		t.Errorf("Expected 'Sync Bot', got %q", name)
	}
}

func TestNextLink(t *testing.T) {
	testCases := []struct {
		header, want string
	}{
		{`<https://x/api?page=2>; rel="next", <https://x/api?page=9>; rel="last"`, "https://x/api?page=2"},
		{`<https://x/api?page=1>; rel="first"`, ""},
		{`<https://x/api?page=3>; rel=next`, "https://x/api?page=3"},
		{``, ""},
	}
	for _, tc := range testCases {
		if got := nextLink(tc.header); got != tc.want {
			t.Errorf("nextLink(%q): expected %q, got %q", tc.header, tc.want, got)
		}
	}
}
