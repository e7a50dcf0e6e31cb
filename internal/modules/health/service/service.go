package service

import (
	"context"
	"log/slog"
	"time"
)

// Prober is the platform-client health probe.
type Prober interface {
	Health(ctx context.Context) error
}

// Notifier delivers an alert to the configured user.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Service periodically probes the platform client and alerts the user on
// health transitions. It never alerts twice for the same state.
type Service struct {
	prober   Prober
	notifier Notifier
	interval time.Duration
	logger   *slog.Logger

	healthy    bool
	errorCount int
}

// New creates a health monitor. A non-positive interval falls back to one
// minute.
func New(prober Prober, notifier Notifier, interval time.Duration) *Service {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Service{
		prober:   prober,
		notifier: notifier,
		interval: interval,
		logger:   slog.Default(),
		healthy:  true,
	}
}

// Run probes until the context is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.check(ctx)
		}
	}
}

func (s *Service) check(ctx context.Context) {
	err := s.prober.Health(ctx)
	if err != nil {
		s.errorCount++
		s.logger.Warn("Platform health check failed", "error", err, "consecutive_errors", s.errorCount)
		if s.healthy {
			s.healthy = false
			s.alert(ctx, "⚠️ <b>Assistant degraded</b>\nPlatform client is unhealthy: "+err.Error())
		}
		return
	}

	if !s.healthy {
		s.alert(ctx, "✅ <b>Assistant recovered</b>\nPlatform client is healthy again.")
	}
	s.healthy = true
	s.errorCount = 0
}

func (s *Service) alert(ctx context.Context, text string) {
	if err := s.notifier.Notify(ctx, text); err != nil {
		s.logger.Error("Failed to send health alert", "error", err)
	}
}
