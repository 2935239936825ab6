// Command worker advertises this host's availability to accept
// distributed compilation work.
//
// It periodically re-asserts availability through the broker, which
// throttles the actual publication; on shutdown it retracts availability
// immediately and removes the filesystem marker if one was published.
//
// Configuration:
//   - FASTBUILD_COORDINATOR: coordinator address (coordinator mode)
//   - FASTBUILD_BROKERAGE_PATH: registry root (filesystem mode)
//
// Example usage:
//
//	FASTBUILD_BROKERAGE_PATH=/mnt/brokerage ./worker
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/buildbroker/internal/broker"
)

// advertisePeriod is how often the worker re-asserts availability. The
// broker throttles what actually gets published; a short period here
// just keeps the marker prompt after brokerage cleanup.
const advertisePeriod = time.Second

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	b := broker.New(broker.ConfigFromEnv(), logger)
	if err := b.Initialize(); err != nil {
		logger.Fatal("broker initialization failed", zap.Error(err))
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(advertisePeriod)
	defer ticker.Stop()

	ctx := context.Background()
	b.SetAvailability(ctx, true)
	for {
		select {
		case <-ticker.C:
			b.SetAvailability(ctx, true)
		case <-stop:
			b.SetAvailability(ctx, false)
			if err := b.Close(); err != nil {
				logger.Warn("broker close failed", zap.Error(err))
			}
			return
		}
	}
}
