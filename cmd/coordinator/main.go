// Command coordinator runs the central worker-availability service.
//
// Workers report availability to it over the buildbroker wire protocol;
// controllers query it for the current worker list. Prometheus metrics
// are served over HTTP on a separate listener.
//
// Configuration:
//   - COORDINATOR_LISTEN: protocol listen address (default ":31392")
//   - COORDINATOR_METRICS_LISTEN: metrics listen address (default ":9641")
//
// Example usage:
//
//	COORDINATOR_LISTEN=:31392 ./coordinator
package main

import (
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dreamware/buildbroker/internal/coordinator"
	"github.com/dreamware/buildbroker/internal/protocol"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	listen := getenv("COORDINATOR_LISTEN", ":"+strconv.Itoa(protocol.CoordinatorPort))
	metricsListen := getenv("COORDINATOR_METRICS_LISTEN", ":9641")

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		logger.Fatal("listen failed", zap.String("addr", listen), zap.Error(err))
	}

	srv := coordinator.New(coordinator.Config{}, logger)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              metricsListen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics listening", zap.String("addr", metricsListen))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics listener failed", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.Serve(ln); err != nil {
			logger.Fatal("serve failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	srv.Stop()
	metricsSrv.Close()
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
