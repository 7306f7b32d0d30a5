// Package controller implements the interaction state machine behind image
// submission: file selection, drag feedback, the guarded prediction request
// and the resulting success or failure view.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/cane-check/internal/logging"
	"github.com/example/cane-check/internal/metrics"
	"github.com/example/cane-check/internal/predictor"
	"github.com/example/cane-check/internal/preview"
)

// File is a candidate selection from a drop or picker gesture.
type File struct {
	Name     string
	MIMEType string
	Data     []byte
	Source   Source
}

// Options tune a Controller. Zero values fall back to defaults.
type Options struct {
	PreviewTTL time.Duration
	Metrics    *metrics.Metrics
	Logger     *zap.Logger
}

// Controller owns one session's state. All methods are safe for concurrent
// use and none of them return errors: failures end up in the snapshot.
type Controller struct {
	predictor  predictor.Client
	previews   preview.Store
	previewTTL time.Duration
	metrics    *metrics.Metrics
	logger     *zap.Logger

	mu      sync.Mutex
	state   State
	closed  bool
	pending sync.WaitGroup
}

// New builds a controller that sends images to client and keeps previews in previews.
func New(client predictor.Client, previews preview.Store, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ttl := opts.PreviewTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &Controller{
		predictor:  client,
		previews:   previews,
		previewTTL: ttl,
		metrics:    opts.Metrics,
		logger:     logger.Named("controller"),
		state:      InitialState(),
	}
}

// Snapshot returns the current read-only view.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return NewSnapshot(c.state)
}

// State returns a copy of the raw state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SelectFile offers f as the new image. Files whose declared type is not an
// image are ignored without any state change.
func (c *Controller) SelectFile(ctx context.Context, f File) Snapshot {
	if !IsImage(f.MIMEType) {
		c.metrics.ObserveSelection(string(f.Source), false)
		c.logger.Debug("ignoring non-image selection",
			zap.String("name", f.Name),
			zap.String("mime_type", f.MIMEType),
			zap.String("source", string(f.Source)),
		)
		return c.Snapshot()
	}

	handle, err := preview.Acquire(ctx, c.previews, preview.Payload{
		Name:     f.Name,
		MIMEType: f.MIMEType,
		Data:     f.Data,
	}, c.previewTTL)
	if err != nil {
		c.logger.Error("failed to acquire preview, selection dropped", zap.Error(err), zap.String("name", f.Name))
		return c.Snapshot()
	}

	img := SelectedImage{
		ID:       uuid.NewString(),
		Name:     f.Name,
		MIMEType: f.MIMEType,
		Source:   f.Source,
		Data:     f.Data,
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.release(ctx, handle)
		return c.Snapshot()
	}
	replaced := c.state.Preview
	c.state = Reduce(c.state, FileSelected{Image: img, Preview: handle})
	snap := NewSnapshot(c.state)
	c.mu.Unlock()

	c.release(ctx, replaced)
	c.metrics.ObserveSelection(string(f.Source), true)
	c.logger.Info("image selected",
		zap.String("image_id", img.ID),
		zap.String("name", img.Name),
		zap.Int("size", len(img.Data)),
		zap.String("source", string(img.Source)),
	)
	return snap
}

// Drop handles a completed drop gesture: the drag highlight is cleared and
// the dropped file is offered as a selection.
func (c *Controller) Drop(ctx context.Context, f File) Snapshot {
	c.SetDragActive(false)
	f.Source = SourceDrop
	return c.SelectFile(ctx, f)
}

// SetDragActive sets the drop target highlight.
func (c *Controller) SetDragActive(active bool) Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Reduce(c.state, DragChanged{Active: active})
	return NewSnapshot(c.state)
}

// Submit sends the selected image and blocks until the request settles. The
// boolean is false when the call was ignored because no image is selected or
// a request is already outstanding.
func (c *Controller) Submit(ctx context.Context) (Snapshot, bool) {
	snap, done, ok := c.SubmitAsync(ctx)
	if !ok {
		return snap, false
	}
	return <-done, true
}

// SubmitAsync starts a submission and returns the InFlight snapshot right
// away. The channel receives the snapshot taken when the request settles.
// The request is not cancelled when ctx is; it runs until the prediction
// client returns.
func (c *Controller) SubmitAsync(ctx context.Context) (Snapshot, <-chan Snapshot, bool) {
	c.mu.Lock()
	if c.closed || !c.state.SubmitEnabled() {
		snap := NewSnapshot(c.state)
		c.mu.Unlock()
		return snap, nil, false
	}
	requestID := uuid.NewString()
	img := *c.state.Image
	c.state = Reduce(c.state, SubmitStarted{RequestID: requestID})
	snap := NewSnapshot(c.state)
	c.pending.Add(1)
	c.mu.Unlock()

	c.metrics.RequestStarted()
	logging.WithOperation(c.logger, "controller.submit", requestID).Info("prediction requested",
		zap.String("image_id", img.ID),
		zap.String("name", img.Name),
	)

	done := make(chan Snapshot, 1)
	go func() {
		defer c.pending.Done()
		done <- c.run(context.WithoutCancel(ctx), requestID, img)
	}()
	return snap, done, true
}

// Wait blocks until every outstanding request has settled.
func (c *Controller) Wait() {
	c.pending.Wait()
}

// Close ends the session and releases the preview. Outstanding requests
// still settle but their results are no longer observable.
func (c *Controller) Close(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	handle := c.state.Preview
	c.state.Preview = nil
	c.mu.Unlock()

	c.release(ctx, handle)
}

func (c *Controller) run(ctx context.Context, requestID string, img SelectedImage) Snapshot {
	opLogger := logging.WithOperation(c.logger, "controller.submit", requestID)
	start := time.Now()

	res, err := c.predict(ctx, requestID, img)
	result, outcome := settle(res, err)

	c.mu.Lock()
	stale := c.state.IsStale()
	c.state = Reduce(c.state, RequestSettled{RequestID: requestID, Result: result})
	snap := NewSnapshot(c.state)
	c.mu.Unlock()

	elapsed := time.Since(start)
	c.metrics.RequestSettled(outcome, elapsed)

	switch {
	case stale:
		c.metrics.StaleResultDiscarded()
		opLogger.Info("discarding result for superseded image",
			zap.String("image_id", img.ID),
			zap.String("outcome", outcome),
		)
	case result.Kind == ResultFailure:
		opLogger.Warn("prediction failed",
			zap.Error(err),
			zap.String("outcome", outcome),
			zap.Duration("elapsed", elapsed),
		)
	default:
		opLogger.Info("prediction settled",
			zap.String("label", result.Label),
			zap.Float64("confidence", result.Confidence),
			zap.Duration("elapsed", elapsed),
		)
	}
	return snap
}

// predict shields the state machine from a panicking client so the request
// state always returns to Idle.
func (c *Controller) predict(ctx context.Context, requestID string, img SelectedImage) (res *predictor.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("prediction client panicked: %v", r)
		}
	}()
	return c.predictor.Predict(ctx, requestID, predictor.Image{
		Name:     img.Name,
		MIMEType: img.MIMEType,
		Data:     img.Data,
	})
}

func (c *Controller) release(ctx context.Context, handle *preview.Handle) {
	if handle == nil {
		return
	}
	if err := handle.Release(ctx); err != nil {
		c.logger.Warn("failed to release preview", zap.Error(err), zap.String("preview_id", handle.ID))
	}
}

// ConnectionErrorPrefix starts the reason of every transport failure.
const ConnectionErrorPrefix = "Connection Error"

func settle(res *predictor.Result, err error) (PredictionResult, string) {
	if err == nil && res != nil {
		return PredictionResult{Kind: ResultSuccess, Label: res.Label, Confidence: res.Confidence}, metrics.OutcomeSuccess
	}
	if err == nil {
		err = errors.New("empty prediction result")
	}

	var (
		transportErr *predictor.TransportError
		statusErr    *predictor.StatusError
		malformedErr *predictor.MalformedError
	)
	switch {
	case errors.As(err, &transportErr):
		return PredictionResult{
			Kind:   ResultFailure,
			Reason: fmt.Sprintf("%s: could not reach the prediction service at %s", ConnectionErrorPrefix, transportErr.Endpoint),
		}, metrics.OutcomeTransportError
	case errors.As(err, &statusErr):
		return PredictionResult{
			Kind:   ResultFailure,
			Reason: fmt.Sprintf("prediction service returned status %d", statusErr.StatusCode),
		}, metrics.OutcomeHTTPError
	case errors.As(err, &malformedErr):
		return PredictionResult{
			Kind:   ResultFailure,
			Reason: fmt.Sprintf("invalid prediction response: %s", malformedErr.Detail),
		}, metrics.OutcomeMalformed
	default:
		return PredictionResult{
			Kind:   ResultFailure,
			Reason: fmt.Sprintf("prediction failed: %v", err),
		}, metrics.OutcomeMalformed
	}
}
