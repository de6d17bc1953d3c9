package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/melodia-ai/melodia/internal/pkg/logger"
)

func main() {
	// Bootstrap logging covers everything before the config is loaded.
	logger.InitBootstrap()

	app, err := initializeApplication()
	if err != nil {
		logger.L().Fatal("failed to initialize application", zap.Error(err))
	}

	if err := logger.Init(logger.OptionsFromConfig(app.Config.Log)); err != nil {
		logger.L().Fatal("failed to initialize logging", zap.Error(err))
	}
	defer logger.Sync()

	app.Warmup.Start()

	go func() {
		logger.L().Info("http server listening", zap.String("addr", app.Server.Addr))
		if err := app.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.L().Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Server.Shutdown(ctx); err != nil {
		logger.L().Warn("http server shutdown failed", zap.Error(err))
	}
	app.Cleanup()
	logger.L().Info("shutdown complete")
}
