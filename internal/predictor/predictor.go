// Package predictor talks to the external image classification service.
package predictor

import (
	"context"
	"errors"
	"fmt"
)

// Image is the payload sent for classification.
type Image struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Result contains the label and confidence returned by the prediction service.
type Result struct {
	Label      string
	Confidence float64
}

// Client exposes the subset of functionality used by the interaction controller.
type Client interface {
	Predict(ctx context.Context, requestID string, img Image) (*Result, error)
}

// ErrMalformedResponse marks a reachable service that answered with a body we cannot use.
var ErrMalformedResponse = errors.New("malformed prediction response")

// MalformedError carries the reason a response body was rejected. It matches ErrMalformedResponse.
type MalformedError struct {
	Detail string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%v: %s", ErrMalformedResponse, e.Detail)
}

func (e *MalformedError) Is(target error) bool {
	return target == ErrMalformedResponse
}

// StatusError reports a non-2xx answer from the prediction service.
type StatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("prediction service status: %s", e.Status)
	}
	return fmt.Sprintf("prediction service status: %s: %s", e.Status, e.Body)
}

// TransportError reports that the request never produced an HTTP response.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("prediction service at %s unreachable: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
