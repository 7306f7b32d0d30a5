package main

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/cane-check/internal/controller"
	"github.com/example/cane-check/internal/handlers"
	"github.com/example/cane-check/internal/metrics"
	"github.com/example/cane-check/internal/predictor"
	"github.com/example/cane-check/internal/preview"
	"github.com/example/cane-check/internal/session"
)

type blockingPredictor struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingPredictor) Predict(ctx context.Context, requestID string, img predictor.Image) (*predictor.Result, error) {
	close(b.started)
	<-b.release
	return &predictor.Result{Label: "Healthy", Confidence: 0.97}, nil
}

func TestServerGracefulShutdownLetsSubmissionSettle(t *testing.T) {
	logger := zap.NewNop()
	gin.SetMode(gin.TestMode)

	client := &blockingPredictor{started: make(chan struct{}), release: make(chan struct{})}
	store := preview.NewMemoryStore()
	sessions := session.NewManager(client, store, time.Minute, metrics.New(), logger)
	_, ctrl := sessions.Create()

	router := gin.New()
	handlers.RegisterRoutes(router, sessions, nil)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: router}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, logger, listener, signalCh)
	}()

	addr := listener.Addr().String()
	waitForServer(t, addr)

	resp, err := (&http.Client{Timeout: 2 * time.Second}).Get("http://" + addr + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	var health map[string]string
	if err := json.Unmarshal(body, &health); err != nil || health["status"] != "ok" {
		t.Fatalf("unexpected health body %q", body)
	}

	ctrl.SelectFile(context.Background(), controller.File{Name: "cane1.jpg", MIMEType: "image/jpeg", Data: []byte("jpeg")})
	if _, _, ok := ctrl.SubmitAsync(context.Background()); !ok {
		t.Fatal("expected submit to be accepted")
	}
	select {
	case <-client.started:
	case <-time.After(2 * time.Second):
		t.Fatal("prediction did not start in time")
	}

	signalCh <- syscall.SIGTERM
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(client.release)
	}()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sessions.Close(ctx)

	if sessions.Len() != 0 || store.Len() != 0 {
		t.Fatalf("expected sessions and previews released, sessions=%d previews=%d", sessions.Len(), store.Len())
	}
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}
