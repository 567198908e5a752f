package models

import (
	"time"

	"github.com/pario-ai/google-proxy/pkg/errs"
)

// Usage represents token usage from an upstream response.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens" cbor:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens" cbor:"completion_tokens"`
	TotalTokens      int `json:"total_tokens" cbor:"total_tokens"`
}

// Response is the normalized reply to a request.
type Response struct {
	Kind         Kind   `json:"kind" cbor:"kind"`
	Model        string `json:"model" cbor:"model"`
	Text         string `json:"text" cbor:"text"`
	FinishReason string `json:"finish_reason,omitempty" cbor:"finish_reason,omitempty"`
	Usage        *Usage `json:"usage,omitempty" cbor:"usage,omitempty"`
	SessionID    string `json:"session_id,omitempty" cbor:"-"`
	Cached       bool   `json:"cached,omitempty" cbor:"-"`
}

// Chunk is one increment of a streaming reply. The last chunk of a stream
// has Done set, or carries Error when the stream failed.
type Chunk struct {
	Index        int           `json:"index"`
	Text         string        `json:"text,omitempty"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Usage        *Usage        `json:"usage,omitempty"`
	Done         bool          `json:"done,omitempty"`
	Error        *ErrorPayload `json:"error,omitempty"`
}

// ErrorPayload is the caller-visible form of an error.
type ErrorPayload struct {
	Kind    errs.Kind `json:"kind"`
	Message string    `json:"message"`
}

// NewErrorPayload converts err into its caller-visible form.
func NewErrorPayload(err error) *ErrorPayload {
	return &ErrorPayload{Kind: errs.KindOf(err), Message: errs.Message(err)}
}

// UsageRecord is one completed request in the usage ledger.
type UsageRecord struct {
	ID               int64     `json:"id"`
	StoreID          string    `json:"store_id"`
	Kind             Kind      `json:"kind"`
	Model            string    `json:"model"`
	SessionID        string    `json:"session_id,omitempty"`
	Cached           bool      `json:"cached"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	TotalTokens      int       `json:"total_tokens"`
	CreatedAt        time.Time `json:"created_at"`
}

// UsageSummary aggregates usage for one store and model.
type UsageSummary struct {
	StoreID         string `json:"store_id"`
	Model           string `json:"model"`
	RequestCount    int64  `json:"request_count"`
	CachedCount     int64  `json:"cached_count"`
	TotalPrompt     int64  `json:"total_prompt_tokens"`
	TotalCompletion int64  `json:"total_completion_tokens"`
	TotalTokens     int64  `json:"total_tokens"`
}
