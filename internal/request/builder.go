package request

import (
	"net/http"
	"strconv"

	apperrors "go-analysis-console/internal/errors"
	"go-analysis-console/pkg/models"
	"go-analysis-console/pkg/validation"
)

const (
	MinConfidence     = 0.1
	MaxConfidence     = 0.9
	DefaultConfidence = 0.25
	DefaultTopK       = 3
)

// Field is one plain multipart form field.
type Field struct {
	Name  string
	Value string
}

// Descriptor is a transport-neutral description of one outbound request.
type Descriptor struct {
	Mode   models.AnalysisMode
	Method string
	Path   string
	Fields []Field
	File   *models.ImageFile
}

// ClampConfidence maps v into [MinConfidence, MaxConfidence]; zero means default.
func ClampConfidence(v float64) float64 {
	switch {
	case v == 0:
		return DefaultConfidence
	case v < MinConfidence:
		return MinConfidence
	case v > MaxConfidence:
		return MaxConfidence
	}
	return v
}

// Build turns one submission into the requests to send. Every mode yields
// exactly one descriptor; for comparison the service fans out.
//
// catalog may be nil when the model list has not been loaded; the model
// id is then only checked for presence.
func Build(req models.AnalysisRequest, catalog *models.ModelCatalog) ([]Descriptor, error) {
	mode, file := req.Mode, req.File
	if file == nil {
		return nil, apperrors.NewValidationError("Please select an image first", nil)
	}

	d := Descriptor{
		Mode:   mode,
		Method: http.MethodPost,
		Path:   mode.Endpoint(),
		File:   file,
	}

	switch mode {
	case models.ModeClassify:
		if catalog != nil {
			if err := validation.NewModelValidator(catalog.ClassificationNames()).Validate(req.ModelID); err != nil {
				return nil, err
			}
		} else if req.ModelID == "" {
			return nil, apperrors.NewValidationError("No model selected", nil)
		}
		d.Fields = []Field{{Name: "model", Value: req.ModelID}}
	case models.ModeSegment:
		conf := ClampConfidence(req.ConfidenceThreshold)
		d.Fields = []Field{{Name: "conf", Value: strconv.FormatFloat(conf, 'f', -1, 64)}}
	case models.ModeCompare:
		topK := req.TopK
		if topK <= 0 {
			topK = DefaultTopK
		}
		d.Fields = []Field{{Name: "top_k", Value: strconv.Itoa(topK)}}
	default:
		return nil, apperrors.NewValidationError("Unknown analysis mode", nil).WithDetails(string(mode))
	}

	return []Descriptor{d}, nil
}
