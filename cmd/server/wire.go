//go:build wireinject
// +build wireinject

package main

import (
	"net/http"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/melodia-ai/melodia/internal/config"
	"github.com/melodia-ai/melodia/internal/handler"
	"github.com/melodia-ai/melodia/internal/pkg/logger"
	"github.com/melodia-ai/melodia/internal/repository"
	"github.com/melodia-ai/melodia/internal/server"
	"github.com/melodia-ai/melodia/internal/service"
)

type Application struct {
	Server  *http.Server
	Config  *config.Config
	Warmup  *service.TokenWarmupService
	Cleanup func()
}

func initializeApplication() (*Application, error) {
	wire.Build(
		// Infrastructure layer ProviderSets
		config.ProviderSet,

		// Business layer ProviderSets
		repository.ProviderSet,
		service.ProviderSet,
		handler.ProviderSet,

		// Server layer ProviderSet
		server.ProviderSet,

		// Cleanup function provider
		provideCleanup,

		// Application struct
		wire.Struct(new(Application), "Server", "Config", "Warmup", "Cleanup"),
	)
	return nil, nil
}

func provideCleanup(rdb *redis.Client, warmup *service.TokenWarmupService) func() {
	return func() {
		warmup.Stop()
		if err := rdb.Close(); err != nil {
			logger.L().Warn("redis close failed during shutdown", zap.Error(err))
		}
	}
}
