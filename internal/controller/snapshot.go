package controller

import "github.com/example/cane-check/internal/category"

// ImageView describes the selected image without its bytes.
type ImageView struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	MIMEType string `json:"mime_type"`
	Size     int    `json:"size"`
	Source   Source `json:"source"`
}

// PreviewView locates the preview of the selected image.
type PreviewView struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// ResultView is the rendering-ready form of a PredictionResult.
type ResultView struct {
	Kind              ResultKind        `json:"kind"`
	Label             string            `json:"label,omitempty"`
	Confidence        float64           `json:"confidence,omitempty"`
	ConfidencePercent string            `json:"confidence_percent,omitempty"`
	Category          category.Category `json:"category"`
	Reason            string            `json:"reason,omitempty"`
}

// Snapshot is the read-only view handed to the rendering layer.
type Snapshot struct {
	Image         *ImageView   `json:"image"`
	Preview       *PreviewView `json:"preview"`
	Request       RequestState `json:"request_state"`
	Result        *ResultView  `json:"result"`
	DragActive    bool         `json:"drag_active"`
	SubmitEnabled bool         `json:"submit_enabled"`
}

// Failed reports whether the snapshot holds a failure result.
func (s Snapshot) Failed() bool {
	return s.Result != nil && s.Result.Kind == ResultFailure
}

// NewSnapshot derives the rendering view of s.
func NewSnapshot(s State) Snapshot {
	snap := Snapshot{
		Request:       s.Request,
		DragActive:    s.DragActive,
		SubmitEnabled: s.SubmitEnabled(),
	}
	if s.Image != nil {
		snap.Image = &ImageView{
			ID:       s.Image.ID,
			Name:     s.Image.Name,
			MIMEType: s.Image.MIMEType,
			Size:     len(s.Image.Data),
			Source:   s.Image.Source,
		}
	}
	if s.Preview != nil {
		snap.Preview = &PreviewView{ID: s.Preview.ID, URL: s.Preview.URL}
	}
	if s.Result != nil {
		snap.Result = newResultView(*s.Result)
	}
	return snap
}

func newResultView(r PredictionResult) *ResultView {
	if r.Kind == ResultFailure {
		return &ResultView{Kind: ResultFailure, Reason: r.Reason, Category: category.Unknown}
	}
	return &ResultView{
		Kind:              ResultSuccess,
		Label:             r.Label,
		Confidence:        r.Confidence,
		ConfidencePercent: category.ConfidencePercent(r.Confidence),
		Category:          category.Of(r.Label),
	}
}
