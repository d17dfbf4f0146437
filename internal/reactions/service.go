// Package reactions records user reactions and aggregates them into per-article tallies.
package reactions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/DeafMist/news-pulse/internal/apperr"
	"github.com/DeafMist/news-pulse/internal/events"
	"github.com/DeafMist/news-pulse/internal/logger"
	"github.com/DeafMist/news-pulse/internal/models"
)

// attachConcurrency bounds parallel tally queries per batch.
const attachConcurrency = 8

// Store is the persistent reaction mapping. Upsert must be atomic per (user, article).
type Store interface {
	Upsert(ctx context.Context, userID, articleID string, reaction models.ReactionType, now time.Time) (models.Reaction, error)
	Find(ctx context.Context, userID, articleID string) (*models.Reaction, error)
	CountByType(ctx context.Context, articleID string) (map[models.ReactionType]int64, error)
}

// Publisher receives an event for every accepted submission.
type Publisher interface {
	PublishReaction(ctx context.Context, ev events.ReactionEvent) error
}

// Service implements the reaction write path and aggregation.
type Service struct {
	store     Store
	publisher Publisher
	log       *slog.Logger
	now       func() time.Time
}

// NewService creates a Service. A nil publisher discards events.
func NewService(store Store, publisher Publisher, log *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Service{
		store:     store,
		publisher: publisher,
		log:       logger.OrDiscard(log),
		now:       time.Now,
	}
}

// TallyFor counts an article's reactions by type. Articles without reactions get a zero tally.
func (s *Service) TallyFor(ctx context.Context, articleID string) (models.Tally, error) {
	counts, err := s.store.CountByType(ctx, articleID)
	if err != nil {
		return models.Tally{}, fmt.Errorf("tally %s: %w", articleID, err)
	}

	var tally models.Tally
	for reaction, n := range counts {
		tally.Add(reaction, n)
	}
	return tally, nil
}

// AttachTallies pairs each article with its tally, preserving order.
// An article whose tally cannot be read gets a zero tally; the rest of the batch is unaffected.
func (s *Service) AttachTallies(ctx context.Context, articles []models.ArticleSnapshot) []models.ArticleWithReactions {
	out := make([]models.ArticleWithReactions, len(articles))
	sem := make(chan struct{}, attachConcurrency)
	var wg sync.WaitGroup

	for i := range articles {
		out[i].ArticleSnapshot = articles[i]

		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			tally, err := s.TallyFor(ctx, articles[i].ArticleID)
			if err != nil {
				s.log.Warn("tally reactions", slog.String("article_id", articles[i].ArticleID), slog.Any("err", err))
				return
			}
			out[i].Reactions = tally
		}(i)
	}
	wg.Wait()

	return out
}

// Submit upserts the user's reaction and returns it with the article's global tally.
func (s *Service) Submit(ctx context.Context, userID, articleID, reactionType string) (models.Reaction, models.Tally, error) {
	reaction := models.ReactionType(reactionType)
	if !reaction.Valid() {
		return models.Reaction{}, models.Tally{}, apperr.InvalidInput("Invalid reaction type")
	}
	if strings.TrimSpace(articleID) == "" {
		return models.Reaction{}, models.Tally{}, apperr.InvalidInput("articleId is required")
	}
	if userID == "" {
		return models.Reaction{}, models.Tally{}, apperr.Unauthorized("Not authorized to access this route")
	}

	stored, err := s.store.Upsert(ctx, userID, articleID, reaction, s.now())
	if err != nil {
		return models.Reaction{}, models.Tally{}, apperr.Wrapf(err, "store reaction for %s", articleID)
	}

	tally, err := s.TallyFor(ctx, articleID)
	if err != nil {
		return models.Reaction{}, models.Tally{}, err
	}

	s.log.Info("reaction stored",
		slog.String("article_id", articleID),
		slog.String("reaction", string(reaction)),
		slog.Int64("total", tally.Total),
	)

	if err := s.publisher.PublishReaction(ctx, events.NewReactionEvent(stored, tally)); err != nil {
		s.log.Warn("publish reaction event", slog.String("article_id", articleID), slog.Any("err", err))
	}

	return stored, tally, nil
}

// ArticleReactions returns an article's tally and its dominant sentiment.
func (s *Service) ArticleReactions(ctx context.Context, articleID string) (models.Tally, models.Sentiment, error) {
	tally, err := s.TallyFor(ctx, articleID)
	if err != nil {
		return models.Tally{}, "", err
	}
	return tally, DominantSentiment(tally), nil
}

// UserReaction returns the user's reaction type for an article, or nil.
func (s *Service) UserReaction(ctx context.Context, userID, articleID string) (*models.ReactionType, error) {
	if userID == "" {
		return nil, apperr.Unauthorized("Not authorized to access this route")
	}
	reaction, err := s.store.Find(ctx, userID, articleID)
	if err != nil {
		return nil, apperr.Wrapf(err, "find reaction for %s", articleID)
	}
	if reaction == nil {
		return nil, nil
	}
	return &reaction.ReactionType, nil
}

// DominantSentiment classifies a tally. Neutral leads by default; like takes the lead
// only by strictly exceeding neutral, and dislike only by strictly exceeding the current
// leader. A like/dislike tie therefore resolves to positive.
func DominantSentiment(t models.Tally) models.Sentiment {
	dominant := models.SentimentNeutral
	leader := t.Neutral

	if t.Like > leader {
		dominant = models.SentimentPositive
		leader = t.Like
	}
	if t.Dislike > leader {
		dominant = models.SentimentNegative
	}
	return dominant
}
