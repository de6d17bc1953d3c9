package service

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/melodia-ai/melodia/internal/config"
	"github.com/melodia-ai/melodia/internal/pkg/logger"
)

// TokenWarmupService refreshes the service-account token on a schedule so
// interactive requests rarely pay refresh latency. It is an optimization
// only: the credential manager stays correct without it.
type TokenWarmupService struct {
	credentials *CredentialManager
	schedule    string
	horizon     time.Duration
	enabled     bool

	cron *cron.Cron

	startOnce sync.Once
	stopOnce  sync.Once
}

func NewTokenWarmupService(cfg *config.Config, credentials *CredentialManager) *TokenWarmupService {
	return &TokenWarmupService{
		credentials: credentials,
		schedule:    cfg.Token.WarmRefreshCron,
		horizon:     2 * cfg.Token.RefreshThreshold(),
		enabled:     cfg.Redis.Enabled,
	}
}

func (s *TokenWarmupService) Start() {
	if s == nil {
		return
	}
	if !s.enabled || s.schedule == "" {
		logger.L().Info("token warmup not started (disabled)")
		return
	}

	s.startOnce.Do(func() {
		c := cron.New()
		if _, err := c.AddFunc(s.schedule, s.runScheduled); err != nil {
			logger.L().Warn("token warmup not started (invalid schedule)",
				zap.String("schedule", s.schedule), zap.Error(err))
			return
		}
		s.cron = c
		s.cron.Start()
		logger.L().Info("token warmup started", zap.String("schedule", s.schedule))
	})
}

func (s *TokenWarmupService) Stop() {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		if s.cron != nil {
			ctx := s.cron.Stop()
			select {
			case <-ctx.Done():
			case <-time.After(3 * time.Second):
				logger.L().Warn("token warmup stop timed out")
			}
		}
	})
}

func (s *TokenWarmupService) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	// Warm at twice the refresh threshold so the scheduled run lands before
	// any interactive request would have to refresh on its own.
	if err := s.credentials.WarmRefresh(ctx, s.horizon); err != nil {
		logger.L().Warn("scheduled token warmup failed", zap.Error(err))
	}
}
