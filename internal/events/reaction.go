// Package events carries reaction events from the API to the worker over Kafka.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/DeafMist/news-pulse/internal/logger"
	"github.com/DeafMist/news-pulse/internal/models"
)

// ReactionEvent is published after every accepted reaction submission.
// Counts is the article's global tally right after the write.
type ReactionEvent struct {
	ID           string              `json:"id"`
	UserID       string              `json:"userId"`
	ArticleID    string              `json:"articleId"`
	ReactionType models.ReactionType `json:"reactionType"`
	Counts       models.Tally        `json:"counts"`
	OccurredAt   time.Time           `json:"occurredAt"`
}

// NewReactionEvent stamps a fresh event id.
func NewReactionEvent(reaction models.Reaction, counts models.Tally) ReactionEvent {
	return ReactionEvent{
		ID:           uuid.NewString(),
		UserID:       reaction.UserID,
		ArticleID:    reaction.ArticleID,
		ReactionType: reaction.ReactionType,
		Counts:       counts,
		OccurredAt:   reaction.UpdatedAt.UTC(),
	}
}

// Decode parses a Kafka message value into an event.
func Decode(value []byte) (ReactionEvent, error) {
	var ev ReactionEvent
	if err := json.Unmarshal(value, &ev); err != nil {
		return ReactionEvent{}, fmt.Errorf("decode reaction event: %w", err)
	}
	if ev.ID == "" || ev.ArticleID == "" {
		return ReactionEvent{}, fmt.Errorf("reaction event missing id or articleId")
	}
	return ev, nil
}

// MessageWriter is the subset of kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ErrQueueFull is returned when the publish queue has no room left.
var ErrQueueFull = errors.New("reaction event queue is full")

const (
	defaultQueueSize = 1024
	writeTimeout     = 10 * time.Second
)

// KafkaPublisher writes reaction events keyed by article id, so events of one
// article stay ordered within a partition. Events are queued and written in the
// background; PublishReaction never waits on the broker.
type KafkaPublisher struct {
	w     MessageWriter
	log   *slog.Logger
	queue chan kafka.Message
	done  chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewKafkaPublisher creates a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, log *slog.Logger) *KafkaPublisher {
	return NewPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		MaxAttempts:            3,
		BatchTimeout:           10 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}, defaultQueueSize, log)
}

// NewPublisher starts a publisher draining up to queueSize pending events into w.
func NewPublisher(w MessageWriter, queueSize int, log *slog.Logger) *KafkaPublisher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	p := &KafkaPublisher{
		w:     w,
		log:   logger.OrDiscard(log),
		queue: make(chan kafka.Message, queueSize),
		done:  make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *KafkaPublisher) run() {
	defer close(p.done)
	for msg := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := p.w.WriteMessages(ctx, msg)
		cancel()
		if err != nil {
			p.log.Warn("write reaction event",
				slog.String("article_id", string(msg.Key)),
				slog.Any("err", err),
			)
		}
	}
}

// PublishReaction queues ev for writing. It fails only when the queue is full or closed.
func (p *KafkaPublisher) PublishReaction(_ context.Context, ev ReactionEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal reaction event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.ArticleID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.ID)},
		},
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return errors.New("reaction publisher is closed")
	}
	select {
	case p.queue <- msg:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close writes the queued events and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	<-p.done
	return p.w.Close()
}

// Discard drops events. Used when no brokers are configured.
type Discard struct{}

func (Discard) PublishReaction(context.Context, ReactionEvent) error { return nil }
