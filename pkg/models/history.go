package models

import "time"

// ResultSummary is the part of a stored prediction the history list shows.
type ResultSummary struct {
	TopClass       string  `json:"top_class,omitempty"`
	TopConfidence  float64 `json:"top_confidence,omitempty"`
	NumDetections  *int    `json:"num_detections,omitempty"`
	ModelsCompared int     `json:"models_compared,omitempty"`
}

// HistoryRecord is a read-only copy of one analysis stored by the service.
type HistoryRecord struct {
	ID        string        `json:"id"`
	Type      AnalysisMode  `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Model     string        `json:"model,omitempty"`
	Models    []string      `json:"models,omitempty"`
	Summary   ResultSummary `json:"summary"`
	// Label is ModelLabel, filled when the record is decoded.
	Label     string        `json:"model_label"`
}

// ModelLabel is what the history list prints next to the record.
func (h HistoryRecord) ModelLabel() string {
	if h.Type == ModeCompare {
		if len(h.Models) == 0 {
			return "various"
		}
		label := h.Models[0]
		for _, m := range h.Models[1:] {
			label += ", " + m
		}
		return label
	}
	if h.Model == "" && h.Type == ModeSegment {
		return "yolo"
	}
	return h.Model
}

// AvailableModels lists model names per analysis family.
type AvailableModels struct {
	Classification []string `json:"classification"`
	Segmentation   []string `json:"segmentation"`
}

// StatsSnapshot is recomputed by the service on every fetch.
type StatsSnapshot struct {
	TotalPredictions int             `json:"total_predictions"`
	ByType           map[string]int  `json:"by_type"`
	AvailableModels  AvailableModels `json:"available_models"`
}

// ModelInfo describes one model offered by the service.
type ModelInfo struct {
	Name       string `json:"name"`
	Type       string `json:"type,omitempty"`
	NumClasses int    `json:"num_classes,omitempty"`
}

// ModelCatalog is the answer of GET /models.
type ModelCatalog struct {
	Classification []ModelInfo `json:"classification"`
	Segmentation   []ModelInfo `json:"segmentation"`
}

// ClassificationNames returns the classification model names in service order.
func (c *ModelCatalog) ClassificationNames() []string {
	names := make([]string, 0, len(c.Classification))
	for _, m := range c.Classification {
		names = append(names, m.Name)
	}
	return names
}
