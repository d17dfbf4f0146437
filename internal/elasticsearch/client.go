package elasticsearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/DeafMist/news-pulse/internal/logger"
)

// Client wraps go-elasticsearch with the article cache operations.
type Client struct {
	es    *elasticsearch.Client
	index string
	log   *slog.Logger
}

// New instantiates the Elasticsearch client.
func New(addr, index string, log *slog.Logger) (*Client, error) {
	cfg := elasticsearch.Config{
		Addresses: []string{addr},
	}

	es, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}

	return &Client{es: es, index: index, log: logger.OrDiscard(log)}, nil
}

// Ping checks if Elasticsearch is available.
func (c *Client) Ping(ctx context.Context) error {
	res, err := c.es.Ping(c.es.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("elasticsearch ping failed: %s", res.Status())
	}

	return nil
}

// Health checks the cluster health endpoint.
func (c *Client) Health(ctx context.Context) error {
	res, err := c.es.Cluster.Health(c.es.Cluster.Health.WithContext(ctx))
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(res.Body)
		return fmt.Errorf("cluster health bad: %s", strings.TrimSpace(string(data)))
	}
	return nil
}

// title, summary and body use the wildcard type so that case-insensitive
// substring queries stay cheap on long text.
const indexMapping = `{
  "mappings": {
    "properties": {
      "articleId":   {"type": "keyword"},
      "title":       {"type": "wildcard"},
      "summary":     {"type": "wildcard"},
      "body":        {"type": "wildcard"},
      "image":       {"type": "keyword", "index": false},
      "source":      {"type": "keyword"},
      "url":         {"type": "keyword"},
      "category":    {"type": "keyword"},
      "sentiment":   {"type": "float"},
      "publishedAt": {"type": "date"},
      "uri":         {"type": "keyword"},
      "lang":        {"type": "keyword"},
      "shares":      {"type": "long"},
      "fetchedAt":   {"type": "date"},
      "cacheKey":    {"type": "keyword"},
      "expiresAt":   {"type": "date"},
      "reactionsAt": {"type": "date", "format": "epoch_millis"},
      "reactions": {
        "properties": {
          "like":    {"type": "long"},
          "dislike": {"type": "long"},
          "neutral": {"type": "long"},
          "total":   {"type": "long"}
        }
      }
    }
  }
}`

// EnsureIndex creates the article index with its mapping when missing.
func (c *Client) EnsureIndex(ctx context.Context) error {
	res, err := c.es.Indices.Exists([]string{c.index}, c.es.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	res.Body.Close()

	if res.StatusCode == http.StatusOK {
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("check index failed: %s", res.Status())
	}

	res, err = c.es.Indices.Create(
		c.index,
		c.es.Indices.Create.WithContext(ctx),
		c.es.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		data, _ := io.ReadAll(res.Body)
		// Another replica won the race.
		if strings.Contains(string(data), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create index failed: %s", strings.TrimSpace(string(data)))
	}

	c.log.Info("created article index", slog.String("index", c.index))
	return nil
}

func responseError(op string, res *esapi.Response) error {
	data, _ := io.ReadAll(res.Body)
	return fmt.Errorf("%s failed: %s", op, strings.TrimSpace(string(data)))
}

func encodeBody(body any) (*bytes.Reader, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	return bytes.NewReader(payload), nil
}
