// Package sweeper purges expired entries from the article cache on a fixed interval.
package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/DeafMist/news-pulse/internal/logger"
)

const (
	defaultBatchSize = 1000
	runTimeout       = 2 * time.Minute
)

// Store deletes cache entries that expired before now and reports how many went away.
type Store interface {
	DeleteExpired(ctx context.Context, now time.Time, batchSize int) (int64, error)
}

// Sweeper is a recurring expiry task owned by its caller's lifecycle.
type Sweeper struct {
	store     Store
	interval  time.Duration
	batchSize int
	log       *slog.Logger
	now       func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.Mutex
}

// New creates a Sweeper that runs every interval.
func New(store Store, interval time.Duration, log *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		store:     store,
		interval:  interval,
		batchSize: defaultBatchSize,
		log:       logger.OrDiscard(log),
		now:       time.Now,
	}
}

// RunOnce deletes every expired entry. Running it on a store without expired
// entries changes nothing and reports zero.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	subCtx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	deleted, err := s.store.DeleteExpired(subCtx, s.now(), s.batchSize)
	if err != nil {
		s.log.Warn("expiry sweep failed (will retry on next interval)",
			slog.Any("err", err),
			slog.Int64("deleted", deleted),
		)
		return deleted, err
	}

	if deleted > 0 {
		s.log.Info("expiry sweep completed", slog.Int64("deleted", deleted))
	} else {
		s.log.Debug("expiry sweep completed, nothing expired")
	}
	return deleted, nil
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("expiry sweeper running", slog.Duration("interval", s.interval))
	_, _ = s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.log.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			_, _ = s.RunOnce(ctx)
		}
	}
}

// Start runs the sweeper in the background. Stop ends it.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		s.Run(runCtx)
	}(s.done)
}

// Stop cancels a started sweeper and waits for the in-flight run to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
