package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/example/cane-check/internal/controller"
	"github.com/example/cane-check/internal/predictor"
	"github.com/example/cane-check/internal/preview"
)

type stubPredictor struct {
	release chan struct{}
}

func (s *stubPredictor) Predict(ctx context.Context, requestID string, img predictor.Image) (*predictor.Result, error) {
	if s.release != nil {
		<-s.release
	}
	return &predictor.Result{Label: "Healthy", Confidence: 0.9}, nil
}

func image() controller.File {
	return controller.File{Name: "cane1.jpg", MIMEType: "image/jpeg", Data: []byte("x"), Source: controller.SourcePicker}
}

func TestCreateGetEnd(t *testing.T) {
	store := preview.NewMemoryStore()
	m := NewManager(&stubPredictor{}, store, time.Minute, nil, zap.NewNop())
	ctx := context.Background()

	id, ctrl := m.Create()
	got, err := m.Get(id)
	if err != nil || got != ctrl {
		t.Fatalf("Get() = %v, %v", got, err)
	}
	ctrl.SelectFile(ctx, image())
	if store.Len() != 1 {
		t.Fatalf("expected one preview, got %d", store.Len())
	}

	if err := m.End(ctx, id); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected preview released on session end, got %d", store.Len())
	}
	if _, err := m.Get(id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := m.End(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second End, got %v", err)
	}
}

func TestReapSkipsBusyAndRecentSessions(t *testing.T) {
	store := preview.NewMemoryStore()
	client := &stubPredictor{release: make(chan struct{})}
	m := NewManager(client, store, time.Minute, nil, zap.NewNop())
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	idle, idleCtrl := m.Create()
	idleCtrl.SelectFile(ctx, image())
	_, busyCtrl := m.Create()
	busyCtrl.SelectFile(ctx, image())
	if _, _, ok := busyCtrl.SubmitAsync(ctx); !ok {
		t.Fatal("expected submit to be accepted")
	}

	now = now.Add(2 * time.Hour)
	recent, _ := m.Create()

	if n := m.Reap(ctx, time.Hour); n != 1 {
		t.Fatalf("expected 1 reaped session, got %d", n)
	}
	if _, err := m.Get(idle); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected idle session to be reaped, got %v", err)
	}
	if _, err := m.Get(recent); err != nil {
		t.Fatalf("expected recent session to survive, got %v", err)
	}
	if m.Len() != 2 {
		t.Fatalf("expected 2 sessions left, got %d", m.Len())
	}

	close(client.release)
	busyCtrl.Wait()
}

func TestCloseWaitsAndEndsAll(t *testing.T) {
	store := preview.NewMemoryStore()
	client := &stubPredictor{release: make(chan struct{})}
	m := NewManager(client, store, time.Minute, nil, zap.NewNop())
	ctx := context.Background()

	_, ctrl := m.Create()
	ctrl.SelectFile(ctx, image())
	_, done, ok := ctrl.SubmitAsync(ctx)
	if !ok {
		t.Fatal("expected submit to be accepted")
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		close(client.release)
	}()
	m.Close(ctx)

	select {
	case snap := <-done:
		if snap.Request != controller.Idle {
			t.Fatalf("expected idle, got %s", snap.Request)
		}
	default:
		t.Fatal("expected request to have settled before Close returned")
	}
	if m.Len() != 0 || store.Len() != 0 {
		t.Fatalf("expected everything released, sessions=%d previews=%d", m.Len(), store.Len())
	}
}
