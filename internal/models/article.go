package models

import "time"

// Filter defaults applied when a request omits a parameter.
const (
	DefaultCategory = "all"
	DefaultLanguage = "en"
)

// ArticleSnapshot is the canonical article document stored in Elasticsearch.
// CacheKey and ExpiresAt are cache metadata; the rest is normalized provider data.
type ArticleSnapshot struct {
	ArticleID   string    `json:"articleId"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary"`
	Body        string    `json:"body"`
	Image       string    `json:"image"`
	Source      string    `json:"source"`
	URL         string    `json:"url"`
	Category    string    `json:"category"`
	Sentiment   float64   `json:"sentiment"`
	PublishedAt time.Time `json:"publishedAt"`
	URI         string    `json:"uri,omitempty"`
	Lang        string    `json:"lang,omitempty"`
	Shares      int64     `json:"shares"`
	FetchedAt   time.Time `json:"fetchedAt"`
	CacheKey    string    `json:"cacheKey,omitempty"`
	ExpiresAt   time.Time `json:"expiresAt"`

	// Similarity is only set on provider-sourced similar articles and is never persisted.
	Similarity float64 `json:"similarity,omitempty"`
}

// ArticleWithReactions is the read representation returned to clients.
type ArticleWithReactions struct {
	ArticleSnapshot
	Reactions Tally `json:"reactions"`
}

// Filter selects a category partition of the cache.
type Filter struct {
	Category string
	Country  string
	Language string
}

// WithDefaults fills empty category and language.
func (f Filter) WithDefaults() Filter {
	if f.Category == "" {
		f.Category = DefaultCategory
	}
	if f.Language == "" {
		f.Language = DefaultLanguage
	}
	return f
}
