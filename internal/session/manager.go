// Package session keeps one interaction controller per client session.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/cane-check/internal/controller"
	"github.com/example/cane-check/internal/logging"
	"github.com/example/cane-check/internal/metrics"
	"github.com/example/cane-check/internal/predictor"
	"github.com/example/cane-check/internal/preview"
)

// ErrNotFound is returned for unknown or ended sessions.
var ErrNotFound = errors.New("session not found")

type entry struct {
	ctrl     *controller.Controller
	lastSeen time.Time
}

// Manager creates, looks up and ends sessions.
type Manager struct {
	predictor  predictor.Client
	previews   preview.Store
	previewTTL time.Duration
	metrics    *metrics.Metrics
	logger     *zap.Logger
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

// NewManager builds a manager whose controllers share client and previews.
func NewManager(client predictor.Client, previews preview.Store, previewTTL time.Duration, m *metrics.Metrics, logger *zap.Logger) *Manager {
	return &Manager{
		predictor:  client,
		previews:   previews,
		previewTTL: previewTTL,
		metrics:    m,
		logger:     logger.Named("sessions"),
		now:        time.Now,
		sessions:   make(map[string]*entry),
	}
}

// Previews returns the store backing preview handles.
func (m *Manager) Previews() preview.Store {
	return m.previews
}

// Create opens a new session.
func (m *Manager) Create() (string, *controller.Controller) {
	id := uuid.NewString()
	ctrl := controller.New(m.predictor, m.previews, controller.Options{
		PreviewTTL: m.previewTTL,
		Metrics:    m.metrics,
		Logger:     logging.WithSession(m.logger, id),
	})

	m.mu.Lock()
	m.sessions[id] = &entry{ctrl: ctrl, lastSeen: m.now()}
	m.mu.Unlock()

	m.metrics.SessionOpened()
	m.logger.Info("session opened", zap.String("session_id", id))
	return id, ctrl
}

// Get returns the controller for id and marks the session as active.
func (m *Manager) Get(id string) (*controller.Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.lastSeen = m.now()
	return e.ctrl, nil
}

// End closes the session and releases its preview.
func (m *Manager) End(ctx context.Context, id string) error {
	m.mu.Lock()
	e, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}

	e.ctrl.Close(ctx)
	m.metrics.SessionClosed()
	m.logger.Info("session ended", zap.String("session_id", id))
	return nil
}

// Reap ends sessions idle for longer than maxIdle. Sessions with an
// outstanding request are kept until it settles.
func (m *Manager) Reap(ctx context.Context, maxIdle time.Duration) int {
	cutoff := m.now().Add(-maxIdle)

	m.mu.Lock()
	var expired []string
	for id, e := range m.sessions {
		if e.lastSeen.Before(cutoff) && e.ctrl.Snapshot().Request == controller.Idle {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	reaped := 0
	for _, id := range expired {
		if err := m.End(ctx, id); err == nil {
			reaped++
		}
	}
	if reaped > 0 {
		m.logger.Info("reaped idle sessions", zap.Int("count", reaped))
	}
	return reaped
}

// Len reports the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close waits for outstanding requests and ends every session.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	ctrls := make([]*controller.Controller, 0, len(m.sessions))
	for id, e := range m.sessions {
		ids = append(ids, id)
		ctrls = append(ctrls, e.ctrl)
	}
	m.mu.Unlock()

	waited := make(chan struct{})
	go func() {
		for _, ctrl := range ctrls {
			ctrl.Wait()
		}
		close(waited)
	}()
	select {
	case <-waited:
	case <-ctx.Done():
		m.logger.Warn("shutdown deadline reached with requests outstanding", zap.Error(ctx.Err()))
	}

	for _, id := range ids {
		_ = m.End(ctx, id)
	}
}
