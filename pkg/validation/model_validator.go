package validation

import (
	"fmt"
	"strings"

	apperrors "go-analysis-console/internal/errors"

	"github.com/arbovm/levenshtein"
)

// ModelValidator checks a classification model id against the catalog
// the service advertised.
type ModelValidator struct {
	known []string
}

func NewModelValidator(known []string) *ModelValidator {
	return &ModelValidator{known: known}
}

// Validate rejects an empty id, an empty catalog and unknown ids. Unknown
// ids get a "did you mean" hint when a close name exists.
func (v *ModelValidator) Validate(model string) error {
	model = strings.TrimSpace(model)
	if len(v.known) == 0 {
		return apperrors.NewValidationError("No classification models are available", nil)
	}
	if model == "" {
		return apperrors.NewValidationError("No model selected", nil)
	}
	for _, k := range v.known {
		if k == model {
			return nil
		}
	}
	if s, ok := v.Suggest(model); ok {
		return apperrors.NewValidationError(fmt.Sprintf("Unknown model %q, did you mean %q?", model, s), nil)
	}
	return apperrors.NewValidationError(fmt.Sprintf("Unknown model %q", model), nil)
}

// Suggest returns the closest known name within a third of its length
// (at least two edits). Ties keep the first name in catalog order.
func (v *ModelValidator) Suggest(model string) (string, bool) {
	needle := strings.ToLower(model)
	best, bestDist := "", -1
	for _, k := range v.known {
		d := levenshtein.Distance(needle, strings.ToLower(k))
		if bestDist < 0 || d < bestDist {
			best, bestDist = k, d
		}
	}
	if bestDist < 0 {
		return "", false
	}
	limit := len(best) / 3
	if limit < 2 {
		limit = 2
	}
	return best, bestDist <= limit
}
