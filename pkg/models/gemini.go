package models

import "strings"

// Gemini generateContent wire types. Only the fields the proxy reads or
// forwards are modelled.

// GenerateContentRequest is the body of a generateContent call.
type GenerateContentRequest struct {
	Contents          []Content         `json:"contents"`
	SystemInstruction *Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *GenerationConfig `json:"generationConfig,omitempty"`
}

// Content is a role-tagged list of parts.
type Content struct {
	Role  string `json:"role,omitempty" cbor:"role,omitempty"`
	Parts []Part `json:"parts" cbor:"parts"`
}

// Part is either text or inline binary data.
type Part struct {
	Text       string `json:"text,omitempty" cbor:"text,omitempty"`
	InlineData *Blob  `json:"inlineData,omitempty" cbor:"inline_data,omitempty"`
}

// Blob is inline binary data. Data is base64-encoded on the JSON wire.
type Blob struct {
	MIMEType string `json:"mimeType" cbor:"mime_type"`
	Data     []byte `json:"data" cbor:"data"`
}

// GenerationConfig holds sampling parameters.
type GenerationConfig struct {
	Temperature     *float64 `json:"temperature,omitempty" cbor:"temperature,omitempty"`
	TopP            *float64 `json:"topP,omitempty" cbor:"top_p,omitempty"`
	TopK            *int     `json:"topK,omitempty" cbor:"top_k,omitempty"`
	MaxOutputTokens *int     `json:"maxOutputTokens,omitempty" cbor:"max_output_tokens,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty" cbor:"stop_sequences,omitempty"`
}

// GenerateContentResponse is the body of a generateContent reply and of
// each event in a streamGenerateContent SSE stream.
type GenerateContentResponse struct {
	Candidates     []Candidate     `json:"candidates"`
	PromptFeedback *PromptFeedback `json:"promptFeedback,omitempty"`
	UsageMetadata  *UsageMetadata  `json:"usageMetadata,omitempty"`
	ModelVersion   string          `json:"modelVersion,omitempty"`
}

// Candidate is one generated reply.
type Candidate struct {
	Content       Content        `json:"content"`
	FinishReason  string         `json:"finishReason,omitempty"`
	Index         int            `json:"index"`
	SafetyRatings []SafetyRating `json:"safetyRatings,omitempty"`
}

// SafetyRating is a per-category safety score.
type SafetyRating struct {
	Category    string `json:"category"`
	Probability string `json:"probability"`
}

// PromptFeedback reports whether the prompt itself was blocked.
type PromptFeedback struct {
	BlockReason   string         `json:"blockReason,omitempty"`
	SafetyRatings []SafetyRating `json:"safetyRatings,omitempty"`
}

// UsageMetadata holds token counts from a Gemini response.
type UsageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// ToUsage converts UsageMetadata to the standard Usage type.
func (u *UsageMetadata) ToUsage() *Usage {
	if u == nil {
		return nil
	}
	return &Usage{
		PromptTokens:     u.PromptTokenCount,
		CompletionTokens: u.CandidatesTokenCount,
		TotalTokens:      u.TotalTokenCount,
	}
}

// APIErrorResponse is the error body returned by the API on non-2xx.
type APIErrorResponse struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// Text concatenates the text parts of the first candidate.
func (r *GenerateContentResponse) Text() string {
	if r == nil || len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// FinishReason returns the normalized finish reason of the first candidate.
func (r *GenerateContentResponse) FinishReason() string {
	if r == nil || len(r.Candidates) == 0 {
		return ""
	}
	return NormalizeFinishReason(r.Candidates[0].FinishReason)
}

// Blocked returns the prompt block reason, or "" when the prompt was accepted.
func (r *GenerateContentResponse) Blocked() string {
	if r == nil || r.PromptFeedback == nil {
		return ""
	}
	return r.PromptFeedback.BlockReason
}

// NormalizeFinishReason maps Gemini finish reasons onto the proxy's
// lower-case vocabulary.
func NormalizeFinishReason(raw string) string {
	switch raw {
	case "":
		return ""
	case "STOP", "FINISH_REASON_UNSPECIFIED":
		return "end_turn"
	case "MAX_TOKENS":
		return "max_tokens"
	default:
		return strings.ToLower(raw)
	}
}
