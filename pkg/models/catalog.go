package models

// Range is an inclusive numeric bound for a sampling parameter.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ModelInfo describes a model the proxy knows about.
type ModelInfo struct {
	ID                         string   `json:"id"`
	DisplayName                string   `json:"display_name"`
	Description                string   `json:"description,omitempty"`
	Provider                   string   `json:"provider"`
	InputTokenLimit            int      `json:"input_token_limit"`
	OutputTokenLimit           int      `json:"output_token_limit"`
	SupportedGenerationMethods []string `json:"supported_generation_methods"`
	Temperature                *Range   `json:"temperature_range,omitempty"`
	TopP                       *Range   `json:"top_p_range,omitempty"`
	TopK                       *Range   `json:"top_k_range,omitempty"`
}

// DefaultModels returns the built-in model catalog.
func DefaultModels() []ModelInfo {
	methods := []string{"generateContent", "streamGenerateContent"}
	return []ModelInfo{
		{
			ID:                         "gemini-2.0-flash",
			DisplayName:                "Gemini 2.0 Flash",
			Description:                "Optimized for speed, versatile on a broad range of tasks",
			Provider:                   "google",
			InputTokenLimit:            32_000,
			OutputTokenLimit:           8_000,
			SupportedGenerationMethods: methods,
			Temperature:                &Range{Min: 0, Max: 2},
			TopP:                       &Range{Min: 0, Max: 1},
			TopK:                       &Range{Min: 1, Max: 40},
		},
		{
			ID:                         "gemini-2.0-pro",
			DisplayName:                "Gemini 2.0 Pro",
			Description:                "High-quality model with strong reasoning across a variety of tasks",
			Provider:                   "google",
			InputTokenLimit:            32_000,
			OutputTokenLimit:           16_000,
			SupportedGenerationMethods: methods,
			Temperature:                &Range{Min: 0, Max: 2},
			TopP:                       &Range{Min: 0, Max: 1},
			TopK:                       &Range{Min: 1, Max: 40},
		},
	}
}
