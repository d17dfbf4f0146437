package httpapi_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/news-pulse/internal/apperr"
	"github.com/DeafMist/news-pulse/internal/httpapi"
	"github.com/DeafMist/news-pulse/internal/models"
	"github.com/DeafMist/news-pulse/internal/news"
)

type stubNews struct {
	filter     models.Filter
	query      string
	similarURI string
	err        error
}

func (s *stubNews) GetArticles(_ context.Context, f models.Filter) (news.Result, error) {
	s.filter = f
	if s.err != nil {
		return news.Result{}, s.err
	}
	return news.Result{FromCache: true, Articles: []models.ArticleWithReactions{
		{ArticleSnapshot: models.ArticleSnapshot{ArticleID: "a1", Title: "Hello"}, Reactions: models.Tally{Like: 2, Total: 2}},
	}}, nil
}

func (s *stubNews) SearchArticles(_ context.Context, query, _ string) (news.SearchResult, error) {
	s.query = query
	if strings.TrimSpace(query) == "" {
		return news.SearchResult{}, apperr.InvalidInput("Search query is required")
	}
	return news.SearchResult{Query: query}, nil
}

func (s *stubNews) SimilarArticles(_ context.Context, uri string) ([]models.ArticleSnapshot, error) {
	s.similarURI = uri
	return nil, nil
}

type stubReactions struct {
	userID string
}

func (s *stubReactions) Submit(_ context.Context, userID, articleID, reactionType string) (models.Reaction, models.Tally, error) {
	s.userID = userID
	rt := models.ReactionType(reactionType)
	if !rt.Valid() {
		return models.Reaction{}, models.Tally{}, apperr.InvalidInput("Invalid reaction type")
	}
	return models.Reaction{UserID: userID, ArticleID: articleID, ReactionType: rt}, models.Tally{Like: 1, Dislike: 1, Total: 2}, nil
}

func (s *stubReactions) ArticleReactions(_ context.Context, articleID string) (models.Tally, models.Sentiment, error) {
	if articleID == "broken" {
		return models.Tally{}, "", errors.New("pq: connection refused")
	}
	return models.Tally{Like: 1, Dislike: 1, Total: 2}, models.SentimentPositive, nil
}

func (s *stubReactions) UserReaction(_ context.Context, userID, articleID string) (*models.ReactionType, error) {
	s.userID = userID
	if articleID == "none" {
		return nil, nil
	}
	rt := models.ReactionDislike
	return &rt, nil
}

func newServer(opts httpapi.Options) (*httptest.Server, *stubNews, *stubReactions) {
	n, r := &stubNews{}, &stubReactions{}
	return httptest.NewServer(httpapi.NewHandler(n, r, opts, nil)), n, r
}

func do(t *testing.T, srv *httptest.Server, method, path, body string, headers map[string]string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer res.Body.Close()

	require.Equal(t, "application/json", res.Header.Get("Content-Type"))
	var out map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out))
	return res.StatusCode, out
}

func TestGetNews(t *testing.T) {
	srv, n, _ := newServer(httpapi.Options{})
	defer srv.Close()

	status, body := do(t, srv, http.MethodGet, "/api/news?category=tech&country=us&lang=de", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, models.Filter{Category: "tech", Country: "us", Language: "de"}, n.filter)

	require.Equal(t, true, body["success"])
	require.Equal(t, true, body["fromCache"])
	articles := body["articles"].([]any)
	require.Len(t, articles, 1)
	first := articles[0].(map[string]any)
	require.Equal(t, "a1", first["articleId"])
	require.Equal(t, float64(2), first["reactions"].(map[string]any)["like"])
}

func TestSearchRequiresQuery(t *testing.T) {
	srv, _, _ := newServer(httpapi.Options{})
	defer srv.Close()

	status, body := do(t, srv, http.MethodGet, "/api/news/search?query=", "", nil)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, false, body["success"])
	require.Equal(t, "Search query is required", body["message"])
}

func TestSearchEmptyResultShape(t *testing.T) {
	srv, n, _ := newServer(httpapi.Options{})
	defer srv.Close()

	status, body := do(t, srv, http.MethodGet, "/api/news/search?query=mars+rover", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "mars rover", n.query)
	require.Equal(t, "mars rover", body["query"])
	require.Equal(t, float64(0), body["count"])
	require.Equal(t, []any{}, body["articles"])
}

func TestSimilarTakesEscapedURI(t *testing.T) {
	srv, n, _ := newServer(httpapi.Options{})
	defer srv.Close()

	status, body := do(t, srv, http.MethodGet, "/api/news/similar/8123%2F456", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "8123/456", n.similarURI)
	require.Equal(t, []any{}, body["articles"])
}

func TestSubmitReactionRequiresUser(t *testing.T) {
	srv, _, _ := newServer(httpapi.Options{})
	defer srv.Close()

	status, body := do(t, srv, http.MethodPost, "/api/reactions", `{"articleId":"a1","reactionType":"like"}`, nil)
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, false, body["success"])
}

func TestSubmitReaction(t *testing.T) {
	srv, _, r := newServer(httpapi.Options{})
	defer srv.Close()

	status, body := do(t, srv, http.MethodPost, "/api/reactions",
		`{"articleId":"a1","reactionType":"dislike"}`,
		map[string]string{httpapi.UserHeader: "u-42"},
	)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "u-42", r.userID)
	require.Equal(t, map[string]any{"reactionType": "dislike", "userId": "u-42"}, body["reaction"])
	require.Equal(t, map[string]any{"like": float64(1), "dislike": float64(1), "neutral": float64(0), "total": float64(2)}, body["counts"])
}

func TestSubmitReactionRejectsInvalidType(t *testing.T) {
	srv, _, _ := newServer(httpapi.Options{})
	defer srv.Close()

	status, body := do(t, srv, http.MethodPost, "/api/reactions",
		`{"articleId":"a1","reactionType":"love"}`,
		map[string]string{httpapi.UserHeader: "u-42"},
	)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, "Invalid reaction type", body["message"])

	status, _ = do(t, srv, http.MethodPost, "/api/reactions", `not json`, map[string]string{httpapi.UserHeader: "u-42"})
	require.Equal(t, http.StatusBadRequest, status)
}

func TestArticleReactionsIsPublic(t *testing.T) {
	srv, _, _ := newServer(httpapi.Options{})
	defer srv.Close()

	status, body := do(t, srv, http.MethodGet, "/api/reactions/article/a1", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "positive", body["dominantSentiment"])
}

func TestUserReaction(t *testing.T) {
	srv, _, r := newServer(httpapi.Options{})
	defer srv.Close()

	auth := map[string]string{httpapi.UserHeader: "u-7"}
	status, body := do(t, srv, http.MethodGet, "/api/reactions/user/a1", "", auth)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "u-7", r.userID)
	require.Equal(t, "dislike", body["reaction"])

	status, body = do(t, srv, http.MethodGet, "/api/reactions/user/none", "", auth)
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, "reaction")
	require.Nil(t, body["reaction"])

	status, _ = do(t, srv, http.MethodGet, "/api/reactions/user/a1", "", nil)
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestServerErrorDetailDependsOnEnvironment(t *testing.T) {
	dev, _, _ := newServer(httpapi.Options{})
	defer dev.Close()

	status, body := do(t, dev, http.MethodGet, "/api/reactions/article/broken", "", nil)
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, false, body["success"])
	require.Equal(t, "Server error", body["message"])
	require.Contains(t, body["error"], "connection refused")

	prod, _, _ := newServer(httpapi.Options{Production: true})
	defer prod.Close()

	status, body = do(t, prod, http.MethodGet, "/api/reactions/article/broken", "", nil)
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, "Server error", body["message"])
	require.NotContains(t, body, "error")
}

func TestHealth(t *testing.T) {
	ok := httpapi.PingerFunc(func(context.Context) error { return nil })
	down := httpapi.PingerFunc(func(context.Context) error { return errors.New("down") })

	srv, _, _ := newServer(httpapi.Options{Health: map[string]httpapi.Pinger{"elasticsearch": ok, "postgres": ok}})
	defer srv.Close()
	status, body := do(t, srv, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body["status"])

	degraded, _, _ := newServer(httpapi.Options{Health: map[string]httpapi.Pinger{"elasticsearch": ok, "postgres": down}})
	defer degraded.Close()
	status, body = do(t, degraded, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, status)
	require.Equal(t, map[string]any{"elasticsearch": "ok", "postgres": "unavailable"}, body["checks"])
}
