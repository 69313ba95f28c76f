package chatbot

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler periodically checks every registered repository.
type Scheduler struct {
	bot      *Bot
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

// NewScheduler creates a scheduler checking at the given interval
func NewScheduler(bot *Bot, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		bot:      bot,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the check loop and returns immediately. The first batch
// runs one interval after Start.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true

	ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Info("Starting scheduled checks", "interval", s.interval.String())

	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop ends the loop and waits for a running batch to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Scheduled checks stopped")
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			summary, err := s.bot.CheckRepositories(ctx)
			if err != nil {
				s.logger.Error("Scheduled check failed", "run_id", summary.RunID, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}
