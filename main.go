package main

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cloudhut/klag/checker"
	"github.com/cloudhut/klag/kafka"
	"github.com/cloudhut/klag/logging"
	"github.com/cloudhut/klag/prometheus"
	"github.com/cloudhut/klag/zookeeper"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func main() {
	startupLogger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}

	cfg, err := newConfig(startupLogger)
	if err != nil {
		startupLogger.Fatal("failed to parse config", zap.Error(err))
	}
	logger := logging.NewLogger(cfg.Logger, cfg.Exporter.Namespace)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	kafkaSvc, err := kafka.NewService(cfg.Kafka, logger.Named("kafka_service"))
	if err != nil {
		logger.Fatal("failed to create kafka service", zap.Error(err))
	}
	defer kafkaSvc.Close()

	connectCtx, connectCancel := context.WithTimeout(ctx, 15*time.Second)
	defer connectCancel()
	if err := kafkaSvc.TestConnection(connectCtx); err != nil {
		logger.Fatal("failed to test connectivity to kafka cluster", zap.Error(err))
	}

	// The zookeeper session is short-lived, one is opened per check cycle. Hence the checker only
	// receives a connector rather than a connection.
	var zkConnect checker.ZookeeperConnector
	if cfg.Zookeeper.Enabled {
		zkLogger := logger.Named("zookeeper")
		zkConnect = func() (checker.ZookeeperConn, error) {
			return zookeeper.NewClient(cfg.Zookeeper, zkLogger)
		}
	}

	checkSvc := checker.NewService(cfg.Checker, logger.Named("checker"), kafkaSvc, zkConnect)

	exporter := prometheus.NewExporter(cfg.Exporter, logger.Named("exporter"), checkSvc, cfg.Checker.Tags)
	promclient.MustRegister(exporter)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Status: Healthy"))
	})

	address := net.JoinHostPort(cfg.Exporter.Host, strconv.Itoa(cfg.Exporter.Port))
	srv := &http.Server{Addr: address, Handler: mux}

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening on address", zap.String("listen_address", address))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("error starting HTTP server", zap.Error(err))
	}
}
