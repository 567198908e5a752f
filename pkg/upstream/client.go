// Package upstream calls the Gemini generateContent API.
package upstream

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pario-ai/google-proxy/pkg/models"
)

// Call is one upstream request.
type Call struct {
	Model   string
	Request models.GenerateContentRequest
	// Timeout bounds a single attempt. For streams it bounds the time until
	// the response headers arrive.
	Timeout time.Duration
}

// Client is the upstream capability used by the dispatcher.
type Client interface {
	Generate(ctx context.Context, call Call) (*models.GenerateContentResponse, error)
	Stream(ctx context.Context, call Call) (Stream, error)
}

// Stream yields the events of a streaming reply. Next returns io.EOF once
// the stream ends normally.
type Stream interface {
	Next() (*models.GenerateContentResponse, error)
	Close() error
}

// HTTPError is a non-2xx reply from the API.
type HTTPError struct {
	Status int
	// Reason is the API status string, e.g. RESOURCE_EXHAUSTED.
	Reason  string
	Message string
}

func (e *HTTPError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Reason != "" {
		return fmt.Sprintf("upstream returned %d %s: %s", e.Status, e.Reason, msg)
	}
	return fmt.Sprintf("upstream returned %d: %s", e.Status, msg)
}

// HTTPStatus returns the HTTP status code.
func (e *HTTPError) HTTPStatus() int {
	return e.Status
}
