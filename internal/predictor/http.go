package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/cane-check/internal/logging"
)

const (
	// FormField is the multipart field carrying the image.
	FormField = "file"

	maxResponseBytes = 1 << 20
	maxErrorBody     = 2048
)

// HTTPClient posts images to <endpoint>/predict.
type HTTPClient struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

// New builds a client for the service rooted at endpoint.
func New(endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		endpoint:   strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("predictor"),
	}
}

// Endpoint returns the base address requests are sent to.
func (c *HTTPClient) Endpoint() string {
	return c.endpoint
}

// Predict uploads img and decodes the service's label and confidence.
func (c *HTTPClient) Predict(ctx context.Context, requestID string, img Image) (*Result, error) {
	opLogger := logging.WithOperation(c.logger, "predictor.predict", requestID)

	body, contentType, err := encodeImage(img)
	if err != nil {
		return nil, logging.NewOperationError("predictor.encode", requestID, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/predict", body)
	if err != nil {
		wrapped := logging.NewOperationError("predictor.predict", requestID, &TransportError{Endpoint: c.endpoint, Err: err})
		opLogger.Error("failed to build prediction request", zap.Error(err))
		return nil, wrapped
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		opLogger.Warn("prediction request failed", zap.Error(err), zap.String("endpoint", c.endpoint))
		return nil, logging.NewOperationError("predictor.predict", requestID, &TransportError{Endpoint: c.endpoint, Err: err})
	}
	defer resp.Body.Close()

	opLogger.Debug("prediction response received",
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, logging.NewOperationError("predictor.predict", requestID, newStatusError(resp))
	}

	result, err := decodeResult(resp.Body)
	if err != nil {
		opLogger.Warn("prediction response rejected", zap.Error(err))
		return nil, logging.NewOperationError("predictor.decode", requestID, err)
	}
	return result, nil
}

func encodeImage(img Image) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	name := img.Name
	if name == "" {
		name = "upload"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, FormField, name))
	if img.MIMEType != "" {
		header.Set("Content-Type", img.MIMEType)
	} else {
		header.Set("Content-Type", "application/octet-stream")
	}

	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("create multipart part: %w", err)
	}
	if _, err := part.Write(img.Data); err != nil {
		return nil, "", fmt.Errorf("write image bytes: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("close multipart writer: %w", err)
	}
	return body, writer.FormDataContentType(), nil
}

func decodeResult(r io.Reader) (*Result, error) {
	var payload struct {
		Prediction *string  `json:"prediction"`
		Confidence *float64 `json:"confidence"`
	}
	if err := json.NewDecoder(io.LimitReader(r, maxResponseBytes)).Decode(&payload); err != nil {
		return nil, &MalformedError{Detail: err.Error()}
	}
	if payload.Prediction == nil || *payload.Prediction == "" {
		return nil, &MalformedError{Detail: "missing prediction"}
	}
	if payload.Confidence == nil {
		return nil, &MalformedError{Detail: "missing confidence"}
	}
	if *payload.Confidence < 0 || *payload.Confidence > 1 {
		return nil, &MalformedError{Detail: fmt.Sprintf("confidence %v outside [0,1]", *payload.Confidence)}
	}
	return &Result{Label: *payload.Prediction, Confidence: *payload.Confidence}, nil
}

func newStatusError(resp *http.Response) *StatusError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Body:       strings.TrimSpace(string(body)),
	}
}
