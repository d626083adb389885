package models

import (
	"fmt"
	"strings"
)

// AnalysisMode selects which analysis the remote service runs.
// Values match the "type" field of history records.
type AnalysisMode string

const (
	ModeClassify AnalysisMode = "classification"
	ModeSegment  AnalysisMode = "segmentation"
	ModeCompare  AnalysisMode = "comparison"
)

// ParseMode accepts the wire names and the short verbs used by the view.
func ParseMode(s string) (AnalysisMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "classification", "classify":
		return ModeClassify, nil
	case "segmentation", "segment":
		return ModeSegment, nil
	case "comparison", "compare":
		return ModeCompare, nil
	}
	return "", fmt.Errorf("unknown analysis mode %q", s)
}

// Endpoint is the service path that serves the mode.
func (m AnalysisMode) Endpoint() string {
	switch m {
	case ModeClassify:
		return "/classify"
	case ModeSegment:
		return "/segment"
	case ModeCompare:
		return "/compare"
	}
	return ""
}

func (m AnalysisMode) Valid() bool {
	return m.Endpoint() != ""
}

// ImageFile is the binary blob picked by the user. The core never decodes it.
type ImageFile struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Data        []byte `json:"-"`
}

// AnalysisRequest is one user submission before it is turned into wire requests.
type AnalysisRequest struct {
	Mode                AnalysisMode
	File                *ImageFile
	ModelID             string
	ConfidenceThreshold float64
	TopK                int
}

// Prediction is one ranked class of a classification.
type Prediction struct {
	Class             string  `json:"class"`
	Confidence        float64 `json:"confidence"`
	ConfidencePercent string  `json:"confidence_percent,omitempty"`
}

// ClassificationResult keeps Ranked sorted by descending confidence and
// never empty.
type ClassificationResult struct {
	Model          string       `json:"model,omitempty"`
	TopClass       string       `json:"top_class"`
	TopConfidence  float64      `json:"top_confidence"`
	Ranked         []Prediction `json:"ranked"`
	ProcessingTime string       `json:"processing_time,omitempty"`
}

// Detection is one object found by the segmentation model.
type Detection struct {
	ClassID    int       `json:"class_id"`
	ClassName  string    `json:"class_name"`
	Confidence float64   `json:"confidence"`
	Box        []float64 `json:"box,omitempty"`
}

type SegmentationResult struct {
	ResultImageRef string      `json:"result_image"`
	Detections     []Detection `json:"detections"`
	ProcessingTime string      `json:"processing_time"`
}

// ComparisonEntry pairs a model with its classification. Entries are kept
// in the order the service sent them.
type ComparisonEntry struct {
	Model  string               `json:"model"`
	Result ClassificationResult `json:"result"`
}

type ComparisonResult struct {
	PerModel       []ComparisonEntry `json:"per_model"`
	ProcessingTime string            `json:"processing_time"`
	ModelsCompared int               `json:"models_compared"`
	// Best is empty when no model qualifies.
	Best string `json:"best,omitempty"`
}

// ResultKind tags the populated variant of AnalysisResult.
type ResultKind string

const (
	KindClassification ResultKind = "classification"
	KindSegmentation   ResultKind = "segmentation"
	KindComparison     ResultKind = "comparison"
)

// AnalysisResult is a tagged union: exactly the field named by Kind is set.
type AnalysisResult struct {
	Kind           ResultKind            `json:"kind"`
	Classification *ClassificationResult `json:"classification,omitempty"`
	Segmentation   *SegmentationResult   `json:"segmentation,omitempty"`
	Comparison     *ComparisonResult     `json:"comparison,omitempty"`
}

func NewClassification(r ClassificationResult) *AnalysisResult {
	return &AnalysisResult{Kind: KindClassification, Classification: &r}
}

func NewSegmentation(r SegmentationResult) *AnalysisResult {
	return &AnalysisResult{Kind: KindSegmentation, Segmentation: &r}
}

func NewComparison(r ComparisonResult) *AnalysisResult {
	return &AnalysisResult{Kind: KindComparison, Comparison: &r}
}

// Validate checks the union invariant.
func (r *AnalysisResult) Validate() error {
	set := 0
	if r.Classification != nil {
		set++
	}
	if r.Segmentation != nil {
		set++
	}
	if r.Comparison != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("analysis result has %d variants populated", set)
	}
	switch r.Kind {
	case KindClassification:
		if r.Classification == nil {
			return fmt.Errorf("kind %s without classification payload", r.Kind)
		}
		if len(r.Classification.Ranked) == 0 {
			return fmt.Errorf("classification has no ranked predictions")
		}
	case KindSegmentation:
		if r.Segmentation == nil {
			return fmt.Errorf("kind %s without segmentation payload", r.Kind)
		}
	case KindComparison:
		if r.Comparison == nil {
			return fmt.Errorf("kind %s without comparison payload", r.Kind)
		}
	default:
		return fmt.Errorf("unknown result kind %q", r.Kind)
	}
	return nil
}
