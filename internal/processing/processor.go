package processing

import (
	"crypto/sha1"
	"encoding/hex"
	"html"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/DeafMist/news-pulse/internal/models"
)

// SummaryLimit is the maximum summary length in characters.
const SummaryLimit = 500

// NoDescription replaces the summary of articles without a body.
const NoDescription = "No description available"

var whitespace = regexp.MustCompile(`\s+`)

// CleanText decodes HTML entities and squeezes whitespace.
func CleanText(input string) string {
	if input == "" {
		return ""
	}
	decoded := html.UnescapeString(input)
	decoded = whitespace.ReplaceAllString(decoded, " ")
	return strings.TrimSpace(decoded)
}

// Summarize returns the first limit characters of body, never splitting a rune.
func Summarize(body string, limit int) string {
	if body == "" {
		return NoDescription
	}
	if limit <= 0 || utf8.RuneCountInString(body) <= limit {
		return body
	}
	runes := []rune(body)
	return string(runes[:limit])
}

// CategoryCacheKey derives the cache partition for category browsing.
func CategoryCacheKey(f models.Filter) string {
	f = f.WithDefaults()
	return "news_" + f.Category + "_" + f.Country + "_" + f.Language
}

// SearchCacheKey derives the cache partition for free-text search results.
func SearchCacheKey(query, lang string) string {
	if lang == "" {
		lang = models.DefaultLanguage
	}
	return "search_" + query + "_" + lang
}

// BuildArticleID returns the provider uri when present. Otherwise it hashes the
// canonical url so refetches of the same article reconcile, and falls back to a
// random id when neither is known.
func BuildArticleID(uri, url string, now time.Time) string {
	if uri = strings.TrimSpace(uri); uri != "" {
		return uri
	}
	if url = strings.TrimSpace(url); url != "" {
		s := sha1.Sum([]byte(url))
		return "url_" + hex.EncodeToString(s[:])
	}
	return now.UTC().Format("20060102150405") + "_" + uuid.NewString()
}

// ParseTimestamp accepts the timestamp layouts the news provider emits.
// It returns the zero time when raw matches none of them.
func ParseTimestamp(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}

	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006-01-02",
	}

	for _, f := range formats {
		if ts, err := time.Parse(f, raw); err == nil {
			return ts.UTC()
		}
	}

	return time.Time{}
}
