// Command controller discovers workers currently able to accept
// distributed compilation work and prints them, one per line.
//
// Configuration:
//   - FASTBUILD_COORDINATOR: coordinator address (coordinator mode)
//   - FASTBUILD_BROKERAGE_PATH: registry root (filesystem mode)
//
// Flags:
//   - -timeout: overall discovery deadline (default 10s)
//
// Example usage:
//
//	FASTBUILD_COORDINATOR=coord.example.com ./controller -timeout 5s
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/dreamware/buildbroker/internal/broker"
)

func main() {
	timeout := flag.Duration("timeout", broker.DefaultFindTimeout, "discovery deadline")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	b := broker.New(broker.ConfigFromEnv(), logger)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	workers, err := b.FindWorkers(ctx)
	if err != nil {
		logger.Fatal("discovery failed", zap.Error(err))
	}
	for _, w := range workers {
		fmt.Println(w)
	}
}
