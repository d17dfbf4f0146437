package provider

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/DeafMist/news-pulse/internal/models"
	"github.com/DeafMist/news-pulse/internal/processing"
)

// rawArticle is the provider's article shape. It never leaves this package.
type rawArticle struct {
	URI       string          `json:"uri"`
	Lang      string          `json:"lang"`
	Date      string          `json:"date"`
	DateTime  string          `json:"dateTime"`
	URL       string          `json:"url"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Image     string          `json:"image"`
	Sentiment *float64        `json:"sentiment"`
	Shares    json.RawMessage `json:"shares"`
	Source    struct {
		Title string `json:"title"`
	} `json:"source"`
}

func (a rawArticle) normalize(now time.Time) models.ArticleSnapshot {
	body := processing.CleanText(a.Body)

	published := processing.ParseTimestamp(a.DateTime)
	if published.IsZero() {
		published = processing.ParseTimestamp(a.Date)
	}
	if published.IsZero() {
		published = now
	}

	s := models.ArticleSnapshot{
		ArticleID:   processing.BuildArticleID(a.URI, a.URL, now),
		Title:       processing.CleanText(a.Title),
		Summary:     processing.Summarize(body, processing.SummaryLimit),
		Body:        body,
		Image:       a.Image,
		Source:      a.Source.Title,
		URL:         a.URL,
		PublishedAt: published,
		URI:         a.URI,
		Lang:        a.Lang,
		Shares:      parseShares(a.Shares),
		FetchedAt:   now,
	}
	if s.Image == "" {
		s.Image = defaultImage
	}
	if s.Source == "" {
		s.Source = defaultSource
	}
	if a.Sentiment != nil {
		s.Sentiment = *a.Sentiment
	}
	return s
}

// parseShares accepts either a plain count or a per-network object of counts.
func parseShares(raw json.RawMessage) int64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0
	}

	var total float64
	if err := json.Unmarshal(raw, &total); err == nil {
		return int64(total)
	}

	var perNetwork map[string]float64
	if err := json.Unmarshal(raw, &perNetwork); err == nil {
		total = 0
		for _, n := range perNetwork {
			total += n
		}
		return int64(total)
	}
	return 0
}
