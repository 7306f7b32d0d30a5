package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/cane-check/internal/config"
	"github.com/example/cane-check/internal/handlers"
	"github.com/example/cane-check/internal/logging"
	"github.com/example/cane-check/internal/metrics"
	"github.com/example/cane-check/internal/predictor"
	"github.com/example/cane-check/internal/preview"
	"github.com/example/cane-check/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	previews := initPreviewStore(ctx, cfg, logger)
	cancel()

	client := predictor.New(cfg.PredictionEndpoint, cfg.PredictTimeout, logger)
	m := metrics.New()
	sessions := session.NewManager(client, previews, cfg.PreviewTTL, m, logger)

	stopReaper := startReaper(sessions, cfg.SessionIdleTimeout, logger)
	defer stopReaper()

	r := gin.Default()
	r.MaxMultipartMemory = handlers.MaxUploadSize
	handlers.RegisterRoutes(r, sessions, m)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	logger.Info("cane-check API listening",
		zap.String("addr", cfg.ListenAddr),
		zap.String("prediction_endpoint", client.Endpoint()),
	)
	serveErr := serveHTTPServer(server, 15*time.Second, logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	sessions.Close(shutdownCtx)
	shutdownCancel()

	if serveErr != nil {
		logger.Fatal("server failed", zap.Error(serveErr))
	}
}

func initPreviewStore(ctx context.Context, cfg config.Config, logger *zap.Logger) preview.Store {
	if cfg.RedisAddr == "" {
		logger.Info("keeping previews in memory")
		return preview.NewMemoryStore()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal("redis connection failed", zap.Error(err), zap.String("addr", cfg.RedisAddr))
	}
	logger.Info("keeping previews in redis", zap.String("addr", cfg.RedisAddr))
	return preview.NewRedisStore(client, logger)
}

func startReaper(sessions *session.Manager, maxIdle time.Duration, logger *zap.Logger) func() {
	interval := maxIdle / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				sessions.Reap(ctx, maxIdle)
				cancel()
			case <-done:
				return
			}
		}
	}()
	logger.Debug("session reaper started", zap.Duration("interval", interval), zap.Duration("max_idle", maxIdle))
	return func() {
		ticker.Stop()
		close(done)
	}
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
