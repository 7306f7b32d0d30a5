package controller

import (
	"strings"

	"github.com/example/cane-check/internal/preview"
)

// RequestState tracks whether a prediction request is outstanding.
type RequestState string

const (
	Idle     RequestState = "idle"
	InFlight RequestState = "in_flight"
)

// Source is the gesture a file arrived through.
type Source string

const (
	SourceDrop   Source = "drop"
	SourcePicker Source = "picker"
)

// SelectedImage is the file currently chosen by the user. Values are never
// mutated once built; a new selection replaces the pointer.
type SelectedImage struct {
	ID       string
	Name     string
	MIMEType string
	Source   Source
	Data     []byte
}

// ResultKind distinguishes the two PredictionResult variants.
type ResultKind string

const (
	ResultSuccess ResultKind = "success"
	ResultFailure ResultKind = "failure"
)

// PredictionResult is the outcome of a settled request. Label and Confidence
// are set for ResultSuccess, Reason for ResultFailure.
type PredictionResult struct {
	Kind       ResultKind
	Label      string
	Confidence float64
	Reason     string
}

// State is the complete per-session interaction state.
type State struct {
	Image      *SelectedImage
	Preview    *preview.Handle
	Request    RequestState
	Result     *PredictionResult
	DragActive bool

	// pending identifies the outstanding request and the image it was issued for.
	pendingRequestID string
	pendingImageID   string
}

// InitialState is the state of a fresh session.
func InitialState() State {
	return State{Request: Idle}
}

// SubmitEnabled reports whether a submit would be accepted.
func (s State) SubmitEnabled() bool {
	return s.Image != nil && s.Request == Idle
}

// IsImage reports whether a declared media type belongs to the image category.
func IsImage(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/")
}

// Event is an input to Reduce.
type Event interface {
	isEvent()
}

// FileSelected offers a new image together with its already acquired preview.
type FileSelected struct {
	Image   SelectedImage
	Preview *preview.Handle
}

// DragChanged toggles the drop target highlight.
type DragChanged struct {
	Active bool
}

// SubmitStarted marks the start of request RequestID for the current image.
type SubmitStarted struct {
	RequestID string
}

// RequestSettled delivers the outcome of request RequestID.
type RequestSettled struct {
	RequestID string
	Result    PredictionResult
}

func (FileSelected) isEvent()   {}
func (DragChanged) isEvent()    {}
func (SubmitStarted) isEvent()  {}
func (RequestSettled) isEvent() {}

// Reduce returns the state that follows s after ev. It never mutates s and
// performs no side effects; releasing a replaced preview is the caller's job.
func Reduce(s State, ev Event) State {
	switch ev := ev.(type) {
	case FileSelected:
		if !IsImage(ev.Image.MIMEType) {
			return s
		}
		img := ev.Image
		s.Image = &img
		s.Preview = ev.Preview
		s.Result = nil
		return s

	case DragChanged:
		s.DragActive = ev.Active
		return s

	case SubmitStarted:
		if !s.SubmitEnabled() {
			return s
		}
		s.Request = InFlight
		s.pendingRequestID = ev.RequestID
		s.pendingImageID = s.Image.ID
		return s

	case RequestSettled:
		if s.Request != InFlight || ev.RequestID != s.pendingRequestID {
			return s
		}
		if !s.IsStale() {
			result := ev.Result
			s.Result = &result
		}
		s.Request = Idle
		s.pendingRequestID = ""
		s.pendingImageID = ""
		return s
	}
	return s
}

// IsStale reports whether the outstanding request was issued for an image
// that is no longer selected. Its result is discarded when it settles.
func (s State) IsStale() bool {
	if s.Request != InFlight {
		return false
	}
	return s.Image == nil || s.Image.ID != s.pendingImageID
}
