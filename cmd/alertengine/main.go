package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"alertengine/config"
	"alertengine/internal/app"
	"alertengine/logger"

	"go.uber.org/zap"
)

func main() {
	// viper config
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	// zap logger
	log, err := logger.New(cfg.Log)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// run engine
	engine, err := app.Start(ctx, cfg, log)
	if err != nil {
		log.Fatal("alert engine failed", zap.Error(err))
	}

	<-ctx.Done()
	log.Info("shutting down")
	if err := engine.Close(); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}
}
