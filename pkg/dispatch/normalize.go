package dispatch

import (
	"strings"

	"github.com/pario-ai/google-proxy/pkg/errs"
	"github.com/pario-ai/google-proxy/pkg/models"
)

// maxImageBytes is the API's inline data limit.
const maxImageBytes = 20 << 20

// normalize validates f and builds the outbound request: history first,
// then the caller turn with the optional image attached.
func (d *Dispatcher) normalize(f models.Fields, history []models.Turn, image *models.Image) (models.Outbound, error) {
	if strings.TrimSpace(f.Prompt) == "" {
		return models.Outbound{}, errs.Validationf("prompt must not be empty")
	}

	model := strings.TrimPrefix(strings.TrimSpace(f.Model), "models/")
	if model == "" {
		model = d.cfg.DefaultModel
	}
	if strings.ContainsAny(model, " /?#") {
		return models.Outbound{}, errs.Validationf("invalid model name %q", f.Model)
	}

	if err := validateGenerationConfig(f.GenerationConfig); err != nil {
		return models.Outbound{}, err
	}

	parts := []models.Part{{Text: f.Prompt}}
	if image != nil {
		parts = append(parts, models.Part{InlineData: &models.Blob{MIMEType: image.MIMEType, Data: image.Data}})
	}

	contents := models.TurnsToContents(history)
	contents = append(contents, models.Content{Role: string(models.RoleUser), Parts: parts})

	return models.Outbound{
		Model:             model,
		SystemInstruction: f.SystemInstruction,
		Contents:          contents,
		GenerationConfig:  f.GenerationConfig,
	}, nil
}

func validateImage(img models.Image) error {
	if len(img.Data) == 0 {
		return errs.Validationf("image data must not be empty")
	}
	if len(img.Data) > maxImageBytes {
		return errs.Validationf("image is %d bytes, limit is %d", len(img.Data), maxImageBytes)
	}
	if !strings.HasPrefix(img.MIMEType, "image/") {
		return errs.Validationf("unsupported image MIME type %q", img.MIMEType)
	}
	return nil
}

func validateGenerationConfig(gc *models.GenerationConfig) error {
	if gc == nil {
		return nil
	}
	if gc.Temperature != nil && (*gc.Temperature < 0 || *gc.Temperature > 2) {
		return errs.Validationf("temperature must be within [0, 2], got %v", *gc.Temperature)
	}
	if gc.TopP != nil && (*gc.TopP < 0 || *gc.TopP > 1) {
		return errs.Validationf("topP must be within [0, 1], got %v", *gc.TopP)
	}
	if gc.TopK != nil && *gc.TopK < 1 {
		return errs.Validationf("topK must be positive, got %d", *gc.TopK)
	}
	if gc.MaxOutputTokens != nil && *gc.MaxOutputTokens < 1 {
		return errs.Validationf("maxOutputTokens must be positive, got %d", *gc.MaxOutputTokens)
	}
	return nil
}
