// Package provider talks to the external news provider (an Event Registry style
// article API) and normalizes its results into article snapshots.
//
// Every fetch degrades to an empty result: transport errors, non-2xx statuses,
// malformed envelopes and cancelled contexts are logged, never returned.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/DeafMist/news-pulse/internal/logger"
	"github.com/DeafMist/news-pulse/internal/models"
)

const (
	filterPageSize  = 100
	queryPageSize   = 50
	similarPageSize = 10

	defaultImage  = "https://images.unsplash.com/photo-1585829365295-ab7cd400c167?w=800"
	defaultSource = "Unknown Source"
)

var languageCodes = map[string]string{
	"en": "eng",
	"hi": "hin",
	"mr": "mar",
	"ta": "tam",
	"te": "tel",
	"fr": "fra",
	"es": "spa",
}

var countryLocations = map[string]string{
	"us": "http://en.wikipedia.org/wiki/United_States",
	"gb": "http://en.wikipedia.org/wiki/United_Kingdom",
	"in": "http://en.wikipedia.org/wiki/India",
	"ca": "http://en.wikipedia.org/wiki/Canada",
	"au": "http://en.wikipedia.org/wiki/Australia",
	"de": "http://en.wikipedia.org/wiki/Germany",
	"fr": "http://en.wikipedia.org/wiki/France",
	"jp": "http://en.wikipedia.org/wiki/Japan",
	"cn": "http://en.wikipedia.org/wiki/China",
	"br": "http://en.wikipedia.org/wiki/Brazil",
}

// Config describes how to reach the provider.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// Client fetches and normalizes provider articles.
type Client struct {
	cfg  Config
	http *http.Client
	log  *slog.Logger
	now  func() time.Time
}

// New creates a provider client. A zero timeout means 15 seconds.
func New(cfg Config, log *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger.OrDiscard(log),
		now:  time.Now,
	}
}

// FetchByFilter returns the latest articles for a category/country/language filter.
func (c *Client) FetchByFilter(ctx context.Context, f models.Filter) []models.ArticleSnapshot {
	f = f.WithDefaults()

	params := c.baseParams("getArticles", filterPageSize)
	setLanguage(params, f.Language)
	if loc, ok := countryLocations[f.Country]; ok {
		params.Set("sourceLocationUri", loc)
	}
	if f.Category != models.DefaultCategory {
		params.Set("keyword", f.Category)
		params.Set("keywordLoc", "body,title")
	}

	category := f.Category
	if category == models.DefaultCategory {
		category = "general"
	}

	raw := c.fetch(ctx, params)
	now := c.now().UTC()
	return lo.Map(raw, func(a rawArticle, _ int) models.ArticleSnapshot {
		s := a.normalize(now)
		s.Category = category
		if s.Shares == 0 {
			// Placeholder until the provider plan exposes share counts.
			s.Shares = rand.Int64N(1000)
		}
		return s
	})
}

// FetchByQuery returns articles matching a free-text keyword.
func (c *Client) FetchByQuery(ctx context.Context, query, lang string) []models.ArticleSnapshot {
	params := c.baseParams("getArticles", queryPageSize)
	params.Set("keyword", query)
	setLanguage(params, lang)

	raw := c.fetch(ctx, params)
	now := c.now().UTC()
	return lo.Map(raw, func(a rawArticle, _ int) models.ArticleSnapshot {
		return a.normalize(now)
	})
}

// FetchSimilar returns articles the provider considers similar to uri.
// The provider does not expose a score, so Similarity is a random placeholder in [0.7, 1.0)
// that only keeps the response shape stable for clients. It is not a similarity metric.
func (c *Client) FetchSimilar(ctx context.Context, uri string) []models.ArticleSnapshot {
	params := c.baseParams("getArticlesSimilar", similarPageSize)
	params.Set("uri", uri)

	raw := c.fetch(ctx, params)
	now := c.now().UTC()
	return lo.Map(raw, func(a rawArticle, _ int) models.ArticleSnapshot {
		s := a.normalize(now)
		s.Similarity = 0.7 + rand.Float64()*0.3
		return s
	})
}

func (c *Client) baseParams(action string, count int) url.Values {
	params := url.Values{}
	params.Set("action", action)
	params.Set("articlesPage", "1")
	params.Set("articlesCount", fmt.Sprint(count))
	params.Set("articlesSortBy", "date")
	params.Set("articlesSortByAsc", "false")
	params.Set("dataType", "news")
	params.Set("resultType", "articles")
	params.Set("articleBodyLen", "-1")
	params.Set("apiKey", c.cfg.APIKey)
	return params
}

func setLanguage(params url.Values, lang string) {
	if code, ok := languageCodes[lang]; ok {
		params.Set("lang", code)
	}
}

func (c *Client) fetch(ctx context.Context, params url.Values) []rawArticle {
	action := params.Get("action")
	endpoint := c.cfg.BaseURL + "/article/getArticles?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		c.log.Warn("build provider request", slog.String("action", action), slog.Any("err", err))
		return nil
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("provider request failed", slog.String("action", action), slog.Any("err", err))
		return nil
	}
	defer res.Body.Close()

	if res.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		c.log.Warn("provider returned error status",
			slog.String("action", action),
			slog.Int("status", res.StatusCode),
			slog.String("body", strings.TrimSpace(string(data))),
		)
		return nil
	}

	var envelope struct {
		Articles *struct {
			Results []rawArticle `json:"results"`
		} `json:"articles"`
	}
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		c.log.Warn("decode provider response", slog.String("action", action), slog.Any("err", err))
		return nil
	}
	if envelope.Articles == nil {
		c.log.Warn("provider response has no articles envelope", slog.String("action", action))
		return nil
	}

	usable := lo.Filter(envelope.Articles.Results, func(a rawArticle, _ int) bool {
		return strings.TrimSpace(a.Title) != "" && strings.TrimSpace(a.URL) != ""
	})
	c.log.Debug("provider fetch completed",
		slog.String("action", action),
		slog.Int("results", len(envelope.Articles.Results)),
		slog.Int("usable", len(usable)),
	)
	return usable
}
