package events

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"

	"github.com/DeafMist/news-pulse/internal/models"
)

type captureWriter struct {
	mu      sync.Mutex
	msgs    []kafka.Message
	release chan struct{}
	closed  bool
}

func (c *captureWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msgs...)
	return nil
}

func (c *captureWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func testEvent(articleID string) ReactionEvent {
	return NewReactionEvent(models.Reaction{
		UserID:       "u1",
		ArticleID:    articleID,
		ReactionType: models.ReactionLike,
		UpdatedAt:    time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}, models.Tally{Like: 1, Total: 1})
}

func TestPublishReactionKeysByArticle(t *testing.T) {
	w := &captureWriter{}
	p := NewPublisher(w, 8, nil)

	ev := testEvent("a1")
	require.NotEmpty(t, ev.ID)
	require.NoError(t, p.PublishReaction(context.Background(), ev))
	require.NoError(t, p.Close())

	require.True(t, w.closed)
	require.Len(t, w.msgs, 1)
	require.Equal(t, "a1", string(w.msgs[0].Key))
	require.Equal(t, "event_id", w.msgs[0].Headers[0].Key)
	require.Equal(t, ev.ID, string(w.msgs[0].Headers[0].Value))

	decoded, err := Decode(w.msgs[0].Value)
	require.NoError(t, err)
	require.Equal(t, ev, decoded)
}

func TestPublishReactionDoesNotWaitOnWriter(t *testing.T) {
	w := &captureWriter{release: make(chan struct{})}
	p := NewPublisher(w, 2, nil)

	start := time.Now()
	require.NoError(t, p.PublishReaction(context.Background(), testEvent("a1")))
	// The writer goroutine picks the first event up and blocks on it.
	require.Eventually(t, func() bool { return len(p.queue) == 0 }, time.Second, time.Millisecond)

	require.NoError(t, p.PublishReaction(context.Background(), testEvent("a2")))
	require.NoError(t, p.PublishReaction(context.Background(), testEvent("a3")))
	require.ErrorIs(t, p.PublishReaction(context.Background(), testEvent("a4")), ErrQueueFull)
	require.Less(t, time.Since(start), 500*time.Millisecond)

	close(w.release)
	require.NoError(t, p.Close())
	require.Len(t, w.msgs, 3)

	require.Error(t, p.PublishReaction(context.Background(), testEvent("a1")))
	require.NoError(t, p.Close())
}

func TestDecodeRejectsIncompleteEvents(t *testing.T) {
	_, err := Decode([]byte("{"))
	require.Error(t, err)

	value, err := json.Marshal(ReactionEvent{ID: "e1"})
	require.NoError(t, err)
	_, err = Decode(value)
	require.Error(t, err)
}
