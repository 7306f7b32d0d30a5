// Package preview holds locally resolvable copies of selected images for display.
package preview

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// PathPrefix is the URL path under which previews are served.
const PathPrefix = "/previews/"

// ErrNotFound is returned when a preview was released or has expired.
var ErrNotFound = errors.New("preview not found")

// Payload is the image data a preview resolves to.
type Payload struct {
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Store abstracts where preview bytes live.
type Store interface {
	Put(ctx context.Context, id string, payload Payload, ttl time.Duration) error
	Get(ctx context.Context, id string) (*Payload, error)
	Delete(ctx context.Context, id string) error
}

// Handle is a scoped reference to a stored preview. Release must be called
// once the owning image is replaced or its session ends.
type Handle struct {
	ID  string `json:"id"`
	URL string `json:"url"`

	store    Store
	mu       sync.Mutex
	released bool
}

// Acquire stores payload and returns a handle to it.
func Acquire(ctx context.Context, store Store, payload Payload, ttl time.Duration) (*Handle, error) {
	id := uuid.NewString()
	if err := store.Put(ctx, id, payload, ttl); err != nil {
		return nil, err
	}
	return &Handle{ID: id, URL: PathPrefix + id, store: store}, nil
}

// Release drops the stored bytes. Calling it more than once is a no-op.
func (h *Handle) Release(ctx context.Context) error {
	if h == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return nil
	}
	h.released = true
	err := h.store.Delete(ctx, h.ID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// Released reports whether Release has been called.
func (h *Handle) Released() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}
