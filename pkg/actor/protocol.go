package actor

import (
	"encoding/json"

	"github.com/pario-ai/google-proxy/pkg/models"
)

// Control message types. Request messages use the models.Kind values.
const (
	TypeListModels = "list_models"
	TypeCacheStats = "cache_stats"
)

// Reply types.
const (
	ReplyResponse   = "response"
	ReplyChunk      = "chunk"
	ReplyError      = "error"
	ReplyModels     = "models"
	ReplyCacheStats = "cache_stats"
)

// Envelope heads every inbound line. The request fields sit beside id and
// type at the top level.
type Envelope struct {
	ID   json.RawMessage `json:"id,omitempty"`
	Type string          `json:"type"`
}

// Reply is one outbound line. Exactly one payload field is set, matching
// Type.
type Reply struct {
	ID         json.RawMessage      `json:"id,omitempty"`
	Type       string               `json:"type"`
	Response   *models.Response     `json:"response,omitempty"`
	Chunk      *models.Chunk        `json:"chunk,omitempty"`
	Error      *models.ErrorPayload `json:"error,omitempty"`
	Models     []models.ModelInfo   `json:"models,omitempty"`
	CacheStats *models.CacheStats   `json:"cache_stats,omitempty"`
}
