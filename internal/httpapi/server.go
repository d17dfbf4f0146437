// Package httpapi exposes the news and reaction operations over JSON HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/DeafMist/news-pulse/internal/apperr"
	"github.com/DeafMist/news-pulse/internal/logger"
	"github.com/DeafMist/news-pulse/internal/models"
	"github.com/DeafMist/news-pulse/internal/news"
)

// UserHeader carries the authenticated user id, set by the gateway in front of the API.
const UserHeader = "X-User-ID"

// Prefix is the common path prefix of every route.
const Prefix = "/api"

// NewsService serves articles.
type NewsService interface {
	GetArticles(ctx context.Context, f models.Filter) (news.Result, error)
	SearchArticles(ctx context.Context, query, lang string) (news.SearchResult, error)
	SimilarArticles(ctx context.Context, uri string) ([]models.ArticleSnapshot, error)
}

// ReactionService records and aggregates reactions.
type ReactionService interface {
	Submit(ctx context.Context, userID, articleID, reactionType string) (models.Reaction, models.Tally, error)
	ArticleReactions(ctx context.Context, articleID string) (models.Tally, models.Sentiment, error)
	UserReaction(ctx context.Context, userID, articleID string) (*models.ReactionType, error)
}

// Pinger is a backing store checked by the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a check function to Pinger.
type PingerFunc func(ctx context.Context) error

func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Options configure the handler.
type Options struct {
	// Production hides internal error details from 500 responses.
	Production bool
	// RequestTimeout bounds each request. Default 30s.
	RequestTimeout time.Duration
	// Health maps a dependency name to its check.
	Health map[string]Pinger
}

type server struct {
	news      NewsService
	reactions ReactionService
	opts      Options
	log       *slog.Logger
}

// NewHandler builds the router with every route mounted under Prefix.
func NewHandler(newsSvc NewsService, reactionSvc ReactionService, opts Options, log *slog.Logger) http.Handler {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	s := &server{news: newsSvc, reactions: reactionSvc, opts: opts, log: logger.OrDiscard(log)}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(opts.RequestTimeout))

	r.Route(Prefix, func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/news", s.handleNews)
		r.Get("/news/search", s.handleSearch)
		r.Get("/news/similar/*", s.handleSimilar)

		r.Get("/reactions/article/{articleId}", s.handleArticleReactions)
		r.Group(func(r chi.Router) {
			r.Use(requireUser)
			r.Post("/reactions", s.handleSubmitReaction)
			r.Get("/reactions/user/{articleId}", s.handleUserReaction)
		})
	})

	return r
}

type userKey struct{}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get(UserHeader))
		if userID == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Message: "Not authorized to access this route"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}

func userFrom(ctx context.Context) string {
	userID, _ := ctx.Value(userKey{}).(string)
	return userID
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

func (s *server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.Status(err)
	resp := errorResponse{Message: apperr.Message(err, "Server error")}

	if !apperr.Public(err) {
		s.log.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("err", err),
		)
		resp.Message = "Server error"
		if !s.opts.Production {
			resp.Error = err.Error()
		}
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
