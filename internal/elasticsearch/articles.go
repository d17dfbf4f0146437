package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/DeafMist/news-pulse/internal/apperr"
	"github.com/DeafMist/news-pulse/internal/models"
)

// maxCacheSet bounds a single cache partition read. The provider returns at most 100 articles per fetch.
const maxCacheSet = 500

var newestFirst = []map[string]any{
	{"publishedAt": map[string]any{"order": "desc"}},
}

func notExpired(now time.Time) map[string]any {
	return map[string]any{
		"range": map[string]any{
			"expiresAt": map[string]any{"gt": now.UTC().Format(time.RFC3339Nano)},
		},
	}
}

// FindValid returns the non-expired articles of a cache partition, newest first.
func (c *Client) FindValid(ctx context.Context, cacheKey string, now time.Time) ([]models.ArticleSnapshot, error) {
	body := map[string]any{
		"size": maxCacheSet,
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []map[string]any{
					{"term": map[string]any{"cacheKey": cacheKey}},
					notExpired(now),
				},
			},
		},
		"sort": newestFirst,
	}
	return c.searchArticles(ctx, body)
}

// SearchText matches query as a case-insensitive substring of title, summary or body
// across non-expired articles, newest first.
func (c *Client) SearchText(ctx context.Context, query string, now time.Time, limit int) ([]models.ArticleSnapshot, error) {
	pattern := "*" + escapeWildcard(query) + "*"
	should := make([]map[string]any, 0, 3)
	for _, field := range []string{"title", "summary", "body"} {
		should = append(should, map[string]any{
			"wildcard": map[string]any{
				field: map[string]any{"value": pattern, "case_insensitive": true},
			},
		})
	}

	body := map[string]any{
		"size": limit,
		"query": map[string]any{
			"bool": map[string]any{
				"should":               should,
				"minimum_should_match": 1,
				"filter":               []map[string]any{notExpired(now)},
			},
		},
		"sort": newestFirst,
	}
	return c.searchArticles(ctx, body)
}

// FindByURI returns the first article with the given provider uri, or nil.
func (c *Client) FindByURI(ctx context.Context, uri string) (*models.ArticleSnapshot, error) {
	body := map[string]any{
		"size": 1,
		"query": map[string]any{
			"term": map[string]any{"uri": uri},
		},
	}
	items, err := c.searchArticles(ctx, body)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// FindByCategory returns non-expired articles of a category other than excludeID, newest first.
func (c *Client) FindByCategory(ctx context.Context, category, excludeID string, now time.Time, limit int) ([]models.ArticleSnapshot, error) {
	body := map[string]any{
		"size": limit,
		"query": map[string]any{
			"bool": map[string]any{
				"filter": []map[string]any{
					{"term": map[string]any{"category": category}},
					notExpired(now),
				},
				"must_not": []map[string]any{
					{"ids": map[string]any{"values": []string{excludeID}}},
				},
			},
		},
		"sort": newestFirst,
	}
	return c.searchArticles(ctx, body)
}

// FindByIDs loads the stored articles among ids, keyed by article id.
func (c *Client) FindByIDs(ctx context.Context, ids []string) (map[string]models.ArticleSnapshot, error) {
	found := make(map[string]models.ArticleSnapshot, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	reader, err := encodeBody(map[string]any{"ids": ids})
	if err != nil {
		return nil, err
	}

	res, err := c.es.Mget(reader, c.es.Mget.WithContext(ctx), c.es.Mget.WithIndex(c.index))
	if err != nil {
		return nil, fmt.Errorf("mget: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, responseError("mget", res)
	}

	var parsed struct {
		Docs []struct {
			ID     string                 `json:"_id"`
			Found  bool                   `json:"found"`
			Source models.ArticleSnapshot `json:"_source"`
		} `json:"docs"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode mget response: %w", err)
	}

	for _, doc := range parsed.Docs {
		if doc.Found {
			found[doc.ID] = doc.Source
		}
	}
	return found, nil
}

// InsertMany indexes articles keyed by article id and waits until they are searchable.
// Indexing an id that already exists replaces that document, so no duplicates are created.
func (c *Client) InsertMany(ctx context.Context, articles []models.ArticleSnapshot) error {
	if len(articles) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, article := range articles {
		if err := enc.Encode(map[string]any{"index": map[string]any{"_index": c.index, "_id": article.ArticleID}}); err != nil {
			return fmt.Errorf("encode bulk action: %w", err)
		}
		if err := enc.Encode(article); err != nil {
			return fmt.Errorf("encode article %s: %w", article.ArticleID, err)
		}
	}
	return c.bulk(ctx, &buf)
}

// RefreshExpiry moves the expiry of existing articles to expiresAt.
func (c *Client) RefreshExpiry(ctx context.Context, ids []string, expiresAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, id := range ids {
		if err := enc.Encode(map[string]any{"update": map[string]any{"_index": c.index, "_id": id}}); err != nil {
			return fmt.Errorf("encode bulk action: %w", err)
		}
		if err := enc.Encode(map[string]any{"doc": map[string]any{"expiresAt": expiresAt.UTC()}}); err != nil {
			return fmt.Errorf("encode expiry update: %w", err)
		}
	}
	return c.bulk(ctx, &buf)
}

// DeleteByCacheKey removes every article of a cache partition and returns the deleted count.
func (c *Client) DeleteByCacheKey(ctx context.Context, cacheKey string) (int64, error) {
	body := map[string]any{
		"query": map[string]any{
			"term": map[string]any{"cacheKey": cacheKey},
		},
	}
	return c.deleteByQuery(ctx, body, 0)
}

// DeleteExpired removes articles whose expiry is before now using batched delete-by-query.
// It loops until a batch returns fewer deleted documents than the requested batchSize.
func (c *Client) DeleteExpired(ctx context.Context, now time.Time, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 1000
	}

	body := map[string]any{
		"query": map[string]any{
			"range": map[string]any{
				"expiresAt": map[string]any{"lt": now.UTC().Format(time.RFC3339Nano)},
			},
		},
	}

	totalDeleted := int64(0)
	for {
		deleted, err := c.deleteByQuery(ctx, body, batchSize)
		totalDeleted += deleted
		if err != nil {
			return totalDeleted, err
		}
		if deleted < int64(batchSize) {
			return totalDeleted, nil
		}
	}
}

// staleTally skips a stamp older than the one already stored.
const staleTally = `if (ctx._source.reactionsAt != null && ctx._source.reactionsAt >= params.at) {
  ctx.op = 'noop';
} else {
  ctx._source.reactions = params.reactions;
  ctx._source.reactionsAt = params.at;
}`

// UpdateReactions stamps a tally observed at the given time on a cached article,
// unless a newer tally is already there. The stamp is a projection for index-side
// consumers; reads always tally from the reaction store.
// It returns apperr.ErrNotFound when the article is not cached.
func (c *Client) UpdateReactions(ctx context.Context, articleID string, tally models.Tally, at time.Time) error {
	reader, err := encodeBody(map[string]any{
		"script": map[string]any{
			"lang":   "painless",
			"source": staleTally,
			"params": map[string]any{
				"reactions": tally,
				"at":        at.UnixMilli(),
			},
		},
	})
	if err != nil {
		return err
	}

	res, err := c.es.Update(
		c.index,
		articleID,
		reader,
		c.es.Update.WithContext(ctx),
		c.es.Update.WithRetryOnConflict(3),
	)
	if err != nil {
		return fmt.Errorf("update reactions: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		return apperr.NotFound(fmt.Sprintf("article %s is not cached", articleID))
	}
	if res.IsError() {
		return responseError("update reactions", res)
	}
	return nil
}

func (c *Client) searchArticles(ctx context.Context, body map[string]any) ([]models.ArticleSnapshot, error) {
	reader, err := encodeBody(body)
	if err != nil {
		return nil, err
	}

	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(c.index),
		c.es.Search.WithBody(reader),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, responseError("search", res)
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Source models.ArticleSnapshot `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	items := make([]models.ArticleSnapshot, 0, len(parsed.Hits.Hits))
	for _, hit := range parsed.Hits.Hits {
		items = append(items, hit.Source)
	}
	return items, nil
}

func (c *Client) bulk(ctx context.Context, body *bytes.Buffer) error {
	res, err := c.es.Bulk(
		body,
		c.es.Bulk.WithContext(ctx),
		c.es.Bulk.WithIndex(c.index),
		c.es.Bulk.WithRefresh("wait_for"),
	)
	if err != nil {
		return fmt.Errorf("bulk: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return responseError("bulk", res)
	}

	var parsed struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			ID     string `json:"_id"`
			Status int    `json:"status"`
			Error  struct {
				Type   string `json:"type"`
				Reason string `json:"reason"`
			} `json:"error"`
		} `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return fmt.Errorf("decode bulk response: %w", err)
	}
	if !parsed.Errors {
		return nil
	}

	for _, item := range parsed.Items {
		for action, result := range item {
			if result.Status >= http.StatusBadRequest {
				return fmt.Errorf("bulk %s %s failed: %s: %s", action, result.ID, result.Error.Type, result.Error.Reason)
			}
		}
	}
	return fmt.Errorf("bulk request reported errors")
}

// deleteByQuery runs one delete-by-query pass; scrollSize 0 keeps the server default.
func (c *Client) deleteByQuery(ctx context.Context, body map[string]any, scrollSize int) (int64, error) {
	reader, err := encodeBody(body)
	if err != nil {
		return 0, err
	}

	opts := []func(*esapi.DeleteByQueryRequest){
		c.es.DeleteByQuery.WithContext(ctx),
		c.es.DeleteByQuery.WithWaitForCompletion(true),
		c.es.DeleteByQuery.WithConflicts("proceed"),
		c.es.DeleteByQuery.WithRefresh(true),
	}
	if scrollSize > 0 {
		opts = append(opts, c.es.DeleteByQuery.WithScrollSize(scrollSize))
	}

	res, err := c.es.DeleteByQuery([]string{c.index}, reader, opts...)
	if err != nil {
		return 0, fmt.Errorf("delete by query: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return 0, responseError("delete by query", res)
	}

	var parsed struct {
		Deleted int64 `json:"deleted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return 0, fmt.Errorf("decode delete response: %w", err)
	}
	return parsed.Deleted, nil
}

func escapeWildcard(raw string) string {
	return strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`).Replace(raw)
}
