package models

import (
	"encoding/json"

	"github.com/pario-ai/google-proxy/pkg/errs"
)

// Kind identifies a request variant.
type Kind string

const (
	KindTextGeneration      Kind = "text_generation"
	KindImageUnderstanding  Kind = "image_understanding"
	KindStreamingGeneration Kind = "streaming_generation"
	KindChatTurn            Kind = "chat_turn"
)

// Request is one of *TextGeneration, *ImageUnderstanding,
// *StreamingGeneration or *ChatTurn. The set is closed.
type Request interface {
	Kind() Kind
	Base() Fields
	isRequest()
}

// Fields holds the fields shared by every request variant.
type Fields struct {
	// Model defaults to the configured default model when empty.
	Model             string            `json:"model,omitempty"`
	Prompt            string            `json:"prompt"`
	SystemInstruction string            `json:"system_instruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generation_config,omitempty"`
}

// Base returns the shared request fields.
func (f Fields) Base() Fields { return f }

// Image is an inline binary image payload.
type Image struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// TextGeneration is a single-shot text prompt.
type TextGeneration struct {
	Fields
}

// ImageUnderstanding is a prompt about an attached image.
type ImageUnderstanding struct {
	Fields
	Image Image `json:"image"`
}

// StreamingGeneration is a text prompt whose reply is delivered as chunks.
// SessionID is optional; when set the stream takes part in that conversation.
type StreamingGeneration struct {
	Fields
	SessionID string `json:"session_id,omitempty"`
}

// ChatTurn is one caller message in a multi-turn conversation. An empty
// SessionID starts a new conversation.
type ChatTurn struct {
	Fields
	SessionID string `json:"session_id,omitempty"`
}

func (*TextGeneration) Kind() Kind      { return KindTextGeneration }
func (*ImageUnderstanding) Kind() Kind  { return KindImageUnderstanding }
func (*StreamingGeneration) Kind() Kind { return KindStreamingGeneration }
func (*ChatTurn) Kind() Kind            { return KindChatTurn }

func (*TextGeneration) isRequest()      {}
func (*ImageUnderstanding) isRequest()  {}
func (*StreamingGeneration) isRequest() {}
func (*ChatTurn) isRequest()            {}

// Role is the author of a conversation turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is a single message in a conversation.
type Turn struct {
	Role Role   `json:"role" cbor:"role"`
	Text string `json:"text" cbor:"text"`
}

// Outbound is a normalized request: exactly what is sent upstream. Two
// requests with equal Outbound values are interchangeable for caching.
type Outbound struct {
	Model             string            `json:"model" cbor:"model"`
	SystemInstruction string            `json:"system_instruction,omitempty" cbor:"system_instruction,omitempty"`
	Contents          []Content         `json:"contents" cbor:"contents"`
	GenerationConfig  *GenerationConfig `json:"generation_config,omitempty" cbor:"generation_config,omitempty"`
}

// Wire converts the normalized request into the upstream request body.
func (o Outbound) Wire() GenerateContentRequest {
	req := GenerateContentRequest{
		Contents:         o.Contents,
		GenerationConfig: o.GenerationConfig,
	}
	if o.SystemInstruction != "" {
		req.SystemInstruction = &Content{
			Parts: []Part{{Text: o.SystemInstruction}},
		}
	}
	return req
}

// TurnsToContents converts conversation turns to upstream contents.
func TurnsToContents(turns []Turn) []Content {
	contents := make([]Content, 0, len(turns))
	for _, t := range turns {
		contents = append(contents, Content{
			Role:  string(t.Role),
			Parts: []Part{{Text: t.Text}},
		})
	}
	return contents
}

// DecodeRequest decodes data into the variant named by kind. Unknown fields
// are ignored.
func DecodeRequest(kind Kind, data []byte) (Request, error) {
	var req Request
	switch kind {
	case KindTextGeneration:
		req = &TextGeneration{}
	case KindImageUnderstanding:
		req = &ImageUnderstanding{}
	case KindStreamingGeneration:
		req = &StreamingGeneration{}
	case KindChatTurn:
		req = &ChatTurn{}
	default:
		return nil, errs.Validationf("unknown request type %q", kind)
	}
	if err := json.Unmarshal(data, req); err != nil {
		return nil, errs.New(errs.KindValidation, "malformed "+string(kind)+" request", err)
	}
	return req, nil
}
