package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/cirruslabs/resizer/internal/command"
	"github.com/cirruslabs/resizer/internal/logginglevel"
	"go.uber.org/zap"
)

func main() {
	// Set up signal interruptible context
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Initialize logger
	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = logginglevel.Level

	logger, err := loggerConfig.Build()
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	zap.ReplaceGlobals(logger)

	if err := command.NewRootCommand().ExecuteContext(ctx); err != nil {
		logger.Sugar().Fatal(err)
	}
}
