// Package news serves articles cache-aside: reads come from the article cache
// when a valid partition exists and fall back to the provider otherwise, with
// reaction tallies attached on the way out.
package news

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/singleflight"

	"github.com/DeafMist/news-pulse/internal/apperr"
	"github.com/DeafMist/news-pulse/internal/logger"
	"github.com/DeafMist/news-pulse/internal/models"
	"github.com/DeafMist/news-pulse/internal/processing"
)

// SearchCategory labels articles first cached by a search.
const SearchCategory = "search"

// populateTimeout bounds a shared cache fill, which outlives any single caller's context.
const populateTimeout = time.Minute

// ArticleStore is the article cache.
type ArticleStore interface {
	FindValid(ctx context.Context, cacheKey string, now time.Time) ([]models.ArticleSnapshot, error)
	SearchText(ctx context.Context, query string, now time.Time, limit int) ([]models.ArticleSnapshot, error)
	FindByURI(ctx context.Context, uri string) (*models.ArticleSnapshot, error)
	FindByCategory(ctx context.Context, category, excludeID string, now time.Time, limit int) ([]models.ArticleSnapshot, error)
	FindByIDs(ctx context.Context, ids []string) (map[string]models.ArticleSnapshot, error)
	InsertMany(ctx context.Context, articles []models.ArticleSnapshot) error
	RefreshExpiry(ctx context.Context, ids []string, expiresAt time.Time) error
	DeleteByCacheKey(ctx context.Context, cacheKey string) (int64, error)
}

// Fetcher is the external content provider. Fetch failures yield empty results.
type Fetcher interface {
	FetchByFilter(ctx context.Context, f models.Filter) []models.ArticleSnapshot
	FetchByQuery(ctx context.Context, query, lang string) []models.ArticleSnapshot
	FetchSimilar(ctx context.Context, uri string) []models.ArticleSnapshot
}

// TallyAttacher joins articles with their reaction tallies.
type TallyAttacher interface {
	AttachTallies(ctx context.Context, articles []models.ArticleSnapshot) []models.ArticleWithReactions
}

// Options tune cache behaviour. Zero fields take the defaults below.
type Options struct {
	// TTL is how long a fetched article stays valid. Default 2h.
	TTL time.Duration
	// SearchThreshold is the number of cached matches that satisfies a search without a fetch. Default 10.
	SearchThreshold int
	// SearchLimit caps cached search matches. Default 50.
	SearchLimit int
	// SimilarLimit caps locally sourced similar articles. Default 10.
	SimilarLimit int
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 2 * time.Hour
	}
	if o.SearchThreshold <= 0 {
		o.SearchThreshold = 10
	}
	if o.SearchLimit <= 0 {
		o.SearchLimit = 50
	}
	if o.SimilarLimit <= 0 {
		o.SimilarLimit = 10
	}
	return o
}

// Result is a list of articles and whether they were served from cache.
type Result struct {
	FromCache bool
	Articles  []models.ArticleWithReactions
}

// SearchResult is a Result for a free-text query.
type SearchResult struct {
	Result
	Query string
	Count int
}

// Service is the cache-aside orchestrator.
type Service struct {
	store   ArticleStore
	fetcher Fetcher
	tallies TallyAttacher
	opts    Options
	log     *slog.Logger
	now     func() time.Time

	fills singleflight.Group
}

// NewService wires the orchestrator.
func NewService(store ArticleStore, fetcher Fetcher, tallies TallyAttacher, opts Options, log *slog.Logger) *Service {
	return &Service{
		store:   store,
		fetcher: fetcher,
		tallies: tallies,
		opts:    opts.withDefaults(),
		log:     logger.OrDiscard(log),
		now:     time.Now,
	}
}

// GetArticles serves a category partition. Any valid cached entry satisfies the read;
// otherwise the provider is asked and its result replaces the whole partition.
func (s *Service) GetArticles(ctx context.Context, f models.Filter) (Result, error) {
	f = f.WithDefaults()
	cacheKey := processing.CategoryCacheKey(f)

	cached, err := s.store.FindValid(ctx, cacheKey, s.now())
	if err != nil {
		return Result{}, fmt.Errorf("read cache %s: %w", cacheKey, err)
	}
	if len(cached) > 0 {
		s.log.Debug("cache hit", slog.String("cache_key", cacheKey), slog.Int("articles", len(cached)))
		return Result{FromCache: true, Articles: s.tallies.AttachTallies(ctx, cached)}, nil
	}

	// Concurrent misses on one key share a single provider call and cache write.
	v, err, shared := s.fills.Do(cacheKey, func() (any, error) {
		fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), populateTimeout)
		defer cancel()
		return s.populate(fillCtx, f, cacheKey)
	})
	if err != nil {
		return Result{}, err
	}
	fresh := v.([]models.ArticleSnapshot)

	s.log.Debug("cache miss",
		slog.String("cache_key", cacheKey),
		slog.Int("articles", len(fresh)),
		slog.Bool("shared_fill", shared),
	)
	return Result{FromCache: false, Articles: s.tallies.AttachTallies(ctx, fresh)}, nil
}

func (s *Service) populate(ctx context.Context, f models.Filter, cacheKey string) ([]models.ArticleSnapshot, error) {
	fetched := s.fetcher.FetchByFilter(ctx, f)
	if len(fetched) == 0 {
		return []models.ArticleSnapshot{}, nil
	}

	deleted, err := s.store.DeleteByCacheKey(ctx, cacheKey)
	if err != nil {
		return nil, fmt.Errorf("invalidate cache %s: %w", cacheKey, err)
	}

	expiresAt := s.now().Add(s.opts.TTL).UTC()
	fresh := lo.UniqBy(fetched, func(a models.ArticleSnapshot) string { return a.ArticleID })
	for i := range fresh {
		fresh[i].CacheKey = cacheKey
		fresh[i].ExpiresAt = expiresAt
	}

	if err := s.store.InsertMany(ctx, fresh); err != nil {
		return nil, fmt.Errorf("write cache %s: %w", cacheKey, err)
	}

	s.log.Info("cache populated",
		slog.String("cache_key", cacheKey),
		slog.Int64("replaced", deleted),
		slog.Int("inserted", len(fresh)),
		slog.Time("expires_at", expiresAt),
	)
	return fresh, nil
}

// SearchArticles serves a free-text query. Cached matches satisfy the search only when
// there are at least SearchThreshold of them; otherwise provider results are reconciled
// with the cache by article id and returned instead.
func (s *Service) SearchArticles(ctx context.Context, query, lang string) (SearchResult, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return SearchResult{}, apperr.InvalidInput("Search query is required")
	}
	if lang == "" {
		lang = models.DefaultLanguage
	}

	cached, err := s.store.SearchText(ctx, q, s.now(), s.opts.SearchLimit)
	if err != nil {
		return SearchResult{}, fmt.Errorf("search cache: %w", err)
	}
	if len(cached) >= s.opts.SearchThreshold {
		return s.searchResult(ctx, query, true, cached), nil
	}

	fetched := s.fetcher.FetchByQuery(ctx, q, lang)
	if len(fetched) == 0 {
		if len(cached) > 0 {
			s.log.Debug("search fetch empty, serving cached matches", slog.String("query", q), slog.Int("articles", len(cached)))
			return s.searchResult(ctx, query, true, cached), nil
		}
		return s.searchResult(ctx, query, false, []models.ArticleSnapshot{}), nil
	}

	reconciled, err := s.reconcile(ctx, fetched, processing.SearchCacheKey(q, lang))
	if err != nil {
		return SearchResult{}, err
	}
	return s.searchResult(ctx, query, false, reconciled), nil
}

// reconcile reuses stored articles (refreshing their expiry) and inserts the rest.
func (s *Service) reconcile(ctx context.Context, fetched []models.ArticleSnapshot, cacheKey string) ([]models.ArticleSnapshot, error) {
	fetched = lo.UniqBy(fetched, func(a models.ArticleSnapshot) string { return a.ArticleID })
	ids := lo.Map(fetched, func(a models.ArticleSnapshot, _ int) string { return a.ArticleID })

	existing, err := s.store.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("reconcile search results: %w", err)
	}

	expiresAt := s.now().Add(s.opts.TTL).UTC()
	out := make([]models.ArticleSnapshot, 0, len(fetched))
	var reused []string
	var inserts []models.ArticleSnapshot

	for _, article := range fetched {
		if known, ok := existing[article.ArticleID]; ok {
			known.ExpiresAt = expiresAt
			reused = append(reused, known.ArticleID)
			out = append(out, known)
			continue
		}
		article.Category = SearchCategory
		article.CacheKey = cacheKey
		article.ExpiresAt = expiresAt
		inserts = append(inserts, article)
		out = append(out, article)
	}

	if err := s.store.RefreshExpiry(ctx, reused, expiresAt); err != nil {
		return nil, fmt.Errorf("refresh expiry: %w", err)
	}
	if err := s.store.InsertMany(ctx, inserts); err != nil {
		return nil, fmt.Errorf("write search results: %w", err)
	}

	s.log.Info("search results reconciled",
		slog.String("cache_key", cacheKey),
		slog.Int("reused", len(reused)),
		slog.Int("inserted", len(inserts)),
	)
	return out, nil
}

func (s *Service) searchResult(ctx context.Context, query string, fromCache bool, articles []models.ArticleSnapshot) SearchResult {
	withTallies := s.tallies.AttachTallies(ctx, articles)
	return SearchResult{
		Result: Result{FromCache: fromCache, Articles: withTallies},
		Query:  query,
		Count:  len(withTallies),
	}
}

// SimilarArticles returns cached articles sharing the category of the article with
// the given provider uri. When there are none it asks the provider; those results
// carry a placeholder similarity score and are not cached.
func (s *Service) SimilarArticles(ctx context.Context, uri string) ([]models.ArticleSnapshot, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, apperr.InvalidInput("Article uri is required")
	}

	source, err := s.store.FindByURI(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("find source article: %w", err)
	}

	if source != nil {
		similar, err := s.store.FindByCategory(ctx, source.Category, source.ArticleID, s.now(), s.opts.SimilarLimit)
		if err != nil {
			return nil, fmt.Errorf("find similar articles: %w", err)
		}
		if len(similar) > 0 {
			return similar, nil
		}
	}

	return s.fetcher.FetchSimilar(ctx, uri), nil
}
