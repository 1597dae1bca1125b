// Package catalog validates remote courses against the approved course
// catalog and auto-omits the ones that are not on it.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"lms-course-sync/internal/domain"
	"lms-course-sync/internal/httpx"
	"lms-course-sync/internal/kvstore"
	"lms-course-sync/internal/metrics"
)

const cacheKey = "catalog:approved_titles"

// OmitStore persists the omitted set.
type OmitStore interface {
	OmittedSet(ctx context.Context) (map[int64]struct{}, error)
	AddOmitted(ctx context.Context, ids []int64) (added, total int, err error)
}

type Options struct {
	SourceURL string
	HTTP      *http.Client
	// Cache may be nil, in which case every call goes to the source.
	Cache    *kvstore.Store
	CacheTTL time.Duration
	// Fallback replaces DefaultFallback when non-nil. An empty, non-nil
	// slice disables the fallback.
	Fallback []string
	Matcher  Matcher
	Log      zerolog.Logger
}

type Validator struct {
	sourceURL string
	http      *http.Client
	cache     *kvstore.Store
	ttl       time.Duration
	fallback  []string
	matcher   Matcher
	omit      OmitStore
	breaker   *gobreaker.CircuitBreaker[[]string]
	log       zerolog.Logger
}

// Result splits a batch into approved and omitted courses. NewlyOmitted
// lists the ids this call added to the omitted set.
type Result struct {
	Validated      []domain.RemoteCourse
	Omitted        []domain.RemoteCourse
	NewlyOmitted   []int64
	AllowListEmpty bool
}

type cachedTitles struct {
	Titles    []string  `json:"titles"`
	FetchedAt time.Time `json:"fetched_at"`
}

func NewValidator(omit OmitStore, opts Options) *Validator {
	if opts.HTTP == nil {
		opts.HTTP = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if opts.Fallback == nil {
		opts.Fallback = DefaultFallback
	}
	if opts.Matcher == (Matcher{}) {
		opts.Matcher = DefaultMatcher()
	}
	log := opts.Log.With().Str("component", "catalog").Logger()

	v := &Validator{
		sourceURL: opts.SourceURL,
		http:      opts.HTTP,
		cache:     opts.Cache,
		ttl:       opts.CacheTTL,
		fallback:  append([]string(nil), opts.Fallback...),
		matcher:   opts.Matcher,
		omit:      omit,
		log:       log,
	}
	v.breaker = gobreaker.NewCircuitBreaker[[]string](gobreaker.Settings{
		Name:        "catalog-source",
		MaxRequests: 1,
		Timeout:     5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("catalog source breaker state changed")
		},
	})
	return v
}

// ApprovedTitles returns the allow-list: cached if fresh, else scraped from
// the catalog page, else the static fallback. Only scraped lists are cached.
func (v *Validator) ApprovedTitles(ctx context.Context) []string {
	if v.cache != nil {
		var c cachedTitles
		ok, err := v.cache.Get(ctx, cacheKey, &c)
		if err != nil {
			v.log.Warn().Err(err).Msg("approved title cache read failed")
		}
		if ok && len(c.Titles) > 0 {
			metrics.CatalogSource.WithLabelValues("cache").Inc()
			return c.Titles
		}
	}

	if v.sourceURL != "" {
		titles, err := v.breaker.Execute(func() ([]string, error) {
			return v.fetch(ctx)
		})
		switch {
		case err != nil:
			v.log.Warn().Err(err).Str("url", v.sourceURL).Msg("catalog fetch failed, using fallback list")
		case len(titles) == 0:
			v.log.Warn().Str("url", v.sourceURL).Msg("catalog page yielded no titles, using fallback list")
		default:
			metrics.CatalogSource.WithLabelValues("remote").Inc()
			v.store(ctx, titles)
			return titles
		}
	}

	metrics.CatalogSource.WithLabelValues("fallback").Inc()
	return append([]string(nil), v.fallback...)
}

func (v *Validator) fetch(ctx context.Context) ([]string, error) {
	_, body, err := httpx.DoWithRetry(ctx, v.http, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.sourceURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "text/html")
		return req, nil
	}, httpx.NoRetry())
	if err != nil {
		return nil, fmt.Errorf("catalog: fetch %s: %w", v.sourceURL, err)
	}
	titles, err := ParseTitles(body)
	if err != nil {
		return nil, fmt.Errorf("catalog: parse: %w", err)
	}
	return titles, nil
}

func (v *Validator) store(ctx context.Context, titles []string) {
	if v.cache == nil {
		return
	}
	err := v.cache.Set(ctx, cacheKey, cachedTitles{Titles: titles, FetchedAt: time.Now().UTC()}, v.ttl)
	if err != nil {
		v.log.Warn().Err(err).Msg("approved title cache write failed")
	}
}

// Invalidate drops the cached allow-list so the next call refetches it.
func (v *Validator) Invalidate(ctx context.Context) error {
	if v.cache == nil {
		return nil
	}
	return v.cache.Delete(ctx, cacheKey)
}

// ErrAllowListEmpty is logged when validation ran against an empty list;
// every course is then omitted.
var ErrAllowListEmpty = errors.New("catalog: approved title list is empty, all courses fail validation")

// Validate splits courses into approved and omitted. Omitted ids not yet in
// the omitted set are added to it. Decisions are not cached; every call
// re-validates. The returned Result is complete even when the omitted set
// could not be persisted and an error is returned.
func (v *Validator) Validate(ctx context.Context, courses []domain.RemoteCourse) (Result, error) {
	approved := v.ApprovedTitles(ctx)
	res := Result{AllowListEmpty: len(approved) == 0}
	if res.AllowListEmpty {
		v.log.Error().Err(ErrAllowListEmpty).Int("courses", len(courses)).Msg("catalog validation is failing closed")
	}

	var omittedIDs []int64
	for _, c := range courses {
		if !res.AllowListEmpty {
			if _, ok := v.matcher.Match(c.Title, approved); ok {
				res.Validated = append(res.Validated, c)
				continue
			}
		}
		res.Omitted = append(res.Omitted, c)
		omittedIDs = append(omittedIDs, c.RemoteID)
	}
	if len(omittedIDs) == 0 || v.omit == nil {
		return res, nil
	}

	current, err := v.omit.OmittedSet(ctx)
	if err != nil {
		return res, fmt.Errorf("catalog: read omitted set: %w", err)
	}
	for _, id := range omittedIDs {
		if _, ok := current[id]; !ok {
			res.NewlyOmitted = append(res.NewlyOmitted, id)
		}
	}
	if len(res.NewlyOmitted) == 0 {
		return res, nil
	}
	if _, _, err := v.omit.AddOmitted(ctx, res.NewlyOmitted); err != nil {
		return res, fmt.Errorf("catalog: persist omitted set: %w", err)
	}
	metrics.CoursesAutoOmitted.Add(float64(len(res.NewlyOmitted)))
	v.log.Info().Int("count", len(res.NewlyOmitted)).Msg("courses auto-omitted by catalog validation")
	return res, nil
}
