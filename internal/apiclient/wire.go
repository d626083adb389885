package apiclient

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go-analysis-console/pkg/models"
)

type modelsResponse struct {
	Classification []models.ModelInfo `json:"classification_models"`
	Segmentation   []models.ModelInfo `json:"segmentation_models"`
}

func nonNilModels(in []models.ModelInfo) []models.ModelInfo {
	if in == nil {
		return []models.ModelInfo{}
	}
	return in
}

type classifyResponse struct {
	Model          string              `json:"model"`
	TopClass       string              `json:"top_class"`
	TopConfidence  *float64            `json:"top_confidence"`
	Predictions    []models.Prediction `json:"predictions"`
	ProcessingTime string              `json:"processing_time"`
}

func (r classifyResponse) normalize() (models.ClassificationResult, error) {
	if len(r.Predictions) == 0 {
		return models.ClassificationResult{}, fmt.Errorf("classification without predictions")
	}
	ranked := make([]models.Prediction, len(r.Predictions))
	copy(ranked, r.Predictions)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Confidence > ranked[j].Confidence
	})

	out := models.ClassificationResult{
		Model:          r.Model,
		TopClass:       r.TopClass,
		Ranked:         ranked,
		ProcessingTime: r.ProcessingTime,
	}
	if out.TopClass == "" {
		out.TopClass = ranked[0].Class
	}
	if r.TopConfidence != nil {
		out.TopConfidence = *r.TopConfidence
	} else {
		out.TopConfidence = ranked[0].Confidence
	}
	if out.TopConfidence < 0 || out.TopConfidence > 1 {
		return models.ClassificationResult{}, fmt.Errorf("top_confidence %v outside [0,1]", out.TopConfidence)
	}
	return out, nil
}

func decodeClassification(raw []byte) (*models.AnalysisResult, error) {
	var wire classifyResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	res, err := wire.normalize()
	if err != nil {
		return nil, err
	}
	return models.NewClassification(res), nil
}

type segmentResponse struct {
	ResultImage    string             `json:"result_image"`
	NumDetections  int                `json:"num_detections"`
	Detections     []models.Detection `json:"detections"`
	ProcessingTime string             `json:"processing_time"`
}

func decodeSegmentation(raw []byte) (*models.AnalysisResult, error) {
	var wire segmentResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}
	if wire.ResultImage == "" {
		return nil, fmt.Errorf("segmentation without result_image")
	}
	detections := wire.Detections
	if detections == nil {
		detections = []models.Detection{}
	}
	return models.NewSegmentation(models.SegmentationResult{
		ResultImageRef: wire.ResultImage,
		Detections:     detections,
		ProcessingTime: wire.ProcessingTime,
	}), nil
}

type compareResponse struct {
	Comparisons    json.RawMessage `json:"comparisons"`
	ProcessingTime string          `json:"processing_time"`
	ModelsCompared *int            `json:"models_compared"`
}

func decodeComparison(raw []byte) (*models.AnalysisResult, error) {
	var wire compareResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, err
	}

	entries := []models.ComparisonEntry{}
	if len(wire.Comparisons) > 0 && string(wire.Comparisons) != "null" {
		err := forEachMember(wire.Comparisons, func(name string, value json.RawMessage) error {
			var cr classifyResponse
			if err := json.Unmarshal(value, &cr); err != nil {
				return fmt.Errorf("comparison %q: %w", name, err)
			}
			res, err := cr.normalize()
			if err != nil {
				return fmt.Errorf("comparison %q: %w", name, err)
			}
			if res.Model == "" {
				res.Model = name
			}
			entries = append(entries, models.ComparisonEntry{Model: name, Result: res})
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	compared := len(entries)
	if wire.ModelsCompared != nil {
		compared = *wire.ModelsCompared
	}
	return models.NewComparison(models.ComparisonResult{
		PerModel:       entries,
		ProcessingTime: wire.ProcessingTime,
		ModelsCompared: compared,
	}), nil
}

type predictionRecord struct {
	MongoID   string          `json:"_id"`
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Timestamp string          `json:"timestamp"`
	Model     string          `json:"model"`
	Models    []string        `json:"models"`
	Result    json.RawMessage `json:"result"`
}

type predictionsResponse struct {
	Predictions []predictionRecord `json:"predictions"`
	Count       int                `json:"count"`
}

func (p predictionRecord) toModel() models.HistoryRecord {
	rec := models.HistoryRecord{
		ID:        p.MongoID,
		Type:      models.AnalysisMode(strings.ToLower(p.Type)),
		Timestamp: parseTimestamp(p.Timestamp),
		Model:     p.Model,
		Models:    p.Models,
	}
	if rec.ID == "" {
		rec.ID = p.ID
	}
	if len(p.Result) > 0 {
		// a summary that does not parse just stays empty
		_ = json.Unmarshal(p.Result, &rec.Summary)
	}
	rec.Label = rec.ModelLabel()
	return rec
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	time.RFC1123,
	time.RFC1123Z,
}

// parseTimestamp accepts ISO-8601 with or without zone (naive means UTC)
// and the RFC 1123 form Flask emits for datetimes.
func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

type statsResponse struct {
	TotalPredictions int            `json:"total_predictions"`
	ByType           map[string]int `json:"by_type"`
	AvailableModels  struct {
		Classification []string `json:"classification"`
		Segmentation   []string `json:"segmentation"`
	} `json:"available_models"`
}

func (s statsResponse) toModel() *models.StatsSnapshot {
	snap := &models.StatsSnapshot{
		TotalPredictions: s.TotalPredictions,
		ByType:           s.ByType,
		AvailableModels: models.AvailableModels{
			Classification: s.AvailableModels.Classification,
			Segmentation:   s.AvailableModels.Segmentation,
		},
	}
	if snap.ByType == nil {
		snap.ByType = map[string]int{}
	}
	if snap.AvailableModels.Classification == nil {
		snap.AvailableModels.Classification = []string{}
	}
	if snap.AvailableModels.Segmentation == nil {
		snap.AvailableModels.Segmentation = []string{}
	}
	return snap
}
