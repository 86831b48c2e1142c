// Package cleanup runs background retention sweeps that no single request
// handler is responsible for triggering.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/stashsense/orchestrator/pkg/config"
	"github.com/stashsense/orchestrator/pkg/interaction"
)

// staleSessionFinalizer is satisfied by *interaction.Ingestor. Narrowed to
// an interface so the service can be tested without a real pool.
type staleSessionFinalizer interface {
	FinalizeAllStaleSessions(ctx context.Context, ttl time.Duration, now time.Time) (int, error)
}

// Service periodically force-finalizes interaction sessions that went quiet
// without a page-leave event ever arriving (crashed tab, lost connection).
// Task history pruning is handled inline by pkg/task on each terminal
// transition and needs no separate sweep — see pkg/task/history.go.
//
// All operations are idempotent and safe to run from multiple pods.
type Service struct {
	config   *config.RetentionConfig
	ingestor staleSessionFinalizer

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a new cleanup service.
func NewService(cfg *config.RetentionConfig, ingestor *interaction.Ingestor) *Service {
	return &Service{config: cfg, ingestor: ingestor}
}

// Start launches the background cleanup loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"stale_session_timeout", s.config.StaleSessionTimeout,
		"interval", s.config.CleanupInterval)
}

// Stop signals the cleanup loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.runAll(ctx)

	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runAll(ctx)
		}
	}
}

func (s *Service) runAll(ctx context.Context) {
	s.finalizeStaleInteractionSessions(ctx)
}

func (s *Service) finalizeStaleInteractionSessions(ctx context.Context) {
	count, err := s.ingestor.FinalizeAllStaleSessions(ctx, s.config.StaleSessionTimeout, time.Now())
	if err != nil {
		slog.Error("Retention: stale session finalization failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: finalized stale interaction sessions", "count", count)
	}
}
