package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/DeafMist/news-pulse/internal/apperr"
	"github.com/DeafMist/news-pulse/internal/models"
)

type newsResponse struct {
	Success   bool                          `json:"success"`
	FromCache bool                          `json:"fromCache"`
	Articles  []models.ArticleWithReactions `json:"articles"`
}

type searchResponse struct {
	newsResponse
	Count int    `json:"count"`
	Query string `json:"query"`
}

type similarResponse struct {
	Success  bool                     `json:"success"`
	Articles []models.ArticleSnapshot `json:"articles"`
}

type reactionBody struct {
	ArticleID    string `json:"articleId"`
	ReactionType string `json:"reactionType"`
}

type submittedReaction struct {
	ReactionType models.ReactionType `json:"reactionType"`
	UserID       string              `json:"userId"`
}

type submitResponse struct {
	Success  bool              `json:"success"`
	Reaction submittedReaction `json:"reaction"`
	Counts   models.Tally      `json:"counts"`
}

type articleReactionsResponse struct {
	Success           bool             `json:"success"`
	Counts            models.Tally     `json:"counts"`
	DominantSentiment models.Sentiment `json:"dominantSentiment"`
}

type userReactionResponse struct {
	Success  bool                 `json:"success"`
	Reaction *models.ReactionType `json:"reaction"`
}

func (s *server) handleNews(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.news.GetArticles(r.Context(), models.Filter{
		Category: strings.TrimSpace(q.Get("category")),
		Country:  strings.TrimSpace(q.Get("country")),
		Language: strings.TrimSpace(q.Get("lang")),
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, newsResponse{
		Success:   true,
		FromCache: res.FromCache,
		Articles:  nonNil(res.Articles),
	})
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := s.news.SearchArticles(r.Context(), q.Get("query"), strings.TrimSpace(q.Get("lang")))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, searchResponse{
		newsResponse: newsResponse{
			Success:   true,
			FromCache: res.FromCache,
			Articles:  nonNil(res.Articles),
		},
		Count: res.Count,
		Query: res.Query,
	})
}

// handleSimilar takes the rest of the path as the uri, since provider uris may contain slashes.
func (s *server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "*")
	uri, err := url.PathUnescape(raw)
	if err != nil {
		uri = raw
	}

	articles, err := s.news.SimilarArticles(r.Context(), uri)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, similarResponse{Success: true, Articles: nonNil(articles)})
}

func (s *server) handleSubmitReaction(w http.ResponseWriter, r *http.Request) {
	var body reactionBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&body); err != nil {
		s.fail(w, r, apperr.InvalidInput("Invalid request body"))
		return
	}

	userID := userFrom(r.Context())
	reaction, counts, err := s.reactions.Submit(r.Context(), userID, strings.TrimSpace(body.ArticleID), body.ReactionType)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, submitResponse{
		Success:  true,
		Reaction: submittedReaction{ReactionType: reaction.ReactionType, UserID: reaction.UserID},
		Counts:   counts,
	})
}

func (s *server) handleArticleReactions(w http.ResponseWriter, r *http.Request) {
	counts, sentiment, err := s.reactions.ArticleReactions(r.Context(), chi.URLParam(r, "articleId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, articleReactionsResponse{
		Success:           true,
		Counts:            counts,
		DominantSentiment: sentiment,
	})
}

func (s *server) handleUserReaction(w http.ResponseWriter, r *http.Request) {
	reaction, err := s.reactions.UserReaction(r.Context(), userFrom(r.Context()), chi.URLParam(r, "articleId"))
	if err != nil {
		s.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, userReactionResponse{Success: true, Reaction: reaction})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := make(map[string]string, len(s.opts.Health))
	healthy := true
	for name, p := range s.opts.Health {
		if err := p.Ping(ctx); err != nil {
			s.log.Warn("health check failed", slog.String("dependency", name), slog.Any("err", err))
			checks[name] = "unavailable"
			healthy = false
			continue
		}
		checks[name] = "ok"
	}

	status, code := "ok", http.StatusOK
	if !healthy {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{"status": status, "checks": checks})
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
