package session

import (
	"fmt"
	"net/url"

	"go-analysis-console/internal/compare"
	apperrors "go-analysis-console/internal/errors"
	"go-analysis-console/internal/history"
	"go-analysis-console/pkg/models"
)

// UploadView describes the upload zone.
type UploadView struct {
	State      string            `json:"state"`
	File       *models.ImageFile `json:"file,omitempty"`
	PreviewURL string            `json:"preview_url,omitempty"`
}

// ComparisonRow is one model line of the comparison table.
type ComparisonRow struct {
	Model             string              `json:"model"`
	TopClass          string              `json:"top_class"`
	TopConfidence     float64             `json:"top_confidence"`
	ConfidencePercent string              `json:"confidence_percent"`
	Ranked            []models.Prediction `json:"ranked"`
	Best              bool                `json:"best"`
}

// ComparisonView is the rendered comparison. Rows keep response order;
// Standings lists the models by descending confidence. NoResults replaces
// the table when the service compared nothing.
type ComparisonView struct {
	Rows           []ComparisonRow `json:"rows"`
	Standings      []string        `json:"standings"`
	Best           string          `json:"best,omitempty"`
	NoResults      bool            `json:"no_results"`
	ModelsCompared int             `json:"models_compared"`
	ProcessingTime string          `json:"processing_time,omitempty"`
}

// ResultView is the rendered analysis result.
type ResultView struct {
	Kind           models.ResultKind           `json:"kind"`
	Classification *models.ClassificationResult `json:"classification,omitempty"`
	Segmentation   *models.SegmentationResult   `json:"segmentation,omitempty"`
	ResultImageURL string                       `json:"result_image_url,omitempty"`
	Comparison     *ComparisonView              `json:"comparison,omitempty"`
}

// Snapshot is everything the page renders.
type Snapshot struct {
	Mode         Tab                  `json:"mode"`
	Upload       UploadView           `json:"upload"`
	Models       *models.ModelCatalog `json:"models,omitempty"`
	Model        string               `json:"model"`
	Confidence   float64              `json:"confidence"`
	TopK         int                  `json:"top_k"`
	Loading      bool                 `json:"loading"`
	CanSubmit    bool                 `json:"can_submit"`
	Result       *ResultView          `json:"result,omitempty"`
	Error        *apperrors.AppError  `json:"error,omitempty"`
	Notice       *apperrors.AppError  `json:"notice,omitempty"`
	CatalogError *apperrors.AppError  `json:"catalog_error,omitempty"`
	History      history.View         `json:"history"`
}

// Snapshot captures the current page state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.dispatcher.State()
	snap := Snapshot{
		Mode:         s.tab,
		Upload:       UploadView{State: s.upload.State().String()},
		Models:       s.catalog,
		Model:        s.model,
		Confidence:   s.confidence,
		TopK:         s.topK,
		Loading:      st.Loading,
		Error:        st.Error,
		Notice:       s.notice,
		CatalogError: s.catalogErr,
		History:      s.history.View(),
	}
	sel, hasFile := s.upload.Selection()
	if hasFile {
		snap.Upload.File = sel.File
		snap.Upload.PreviewURL = sel.Preview.URL
	}
	if st.Result != nil {
		snap.Result = s.render(st.Result)
	}
	snap.CanSubmit = s.canSubmit(hasFile, st.Loading)
	return snap
}

// canSubmit is false without a file, while loading, on the history tab and
// for classification without any model. Called with s.mu held.
func (s *Session) canSubmit(hasFile, loading bool) bool {
	if !hasFile || loading {
		return false
	}
	mode, ok := s.tab.Mode()
	if !ok {
		return false
	}
	if mode == models.ModeClassify {
		return s.catalog != nil && len(s.catalog.Classification) > 0 && s.model != ""
	}
	return true
}

func (s *Session) render(r *models.AnalysisResult) *ResultView {
	v := &ResultView{Kind: r.Kind}
	switch r.Kind {
	case models.KindClassification:
		v.Classification = r.Classification
	case models.KindSegmentation:
		v.Segmentation = r.Segmentation
		if r.Segmentation.ResultImageRef != "" {
			v.ResultImageURL = s.imagePrefix + url.PathEscape(r.Segmentation.ResultImageRef)
		}
	case models.KindComparison:
		v.Comparison = comparisonView(r.Comparison)
	}
	return v
}

func comparisonView(c *models.ComparisonResult) *ComparisonView {
	ranking := compare.Rank(c.PerModel)
	view := &ComparisonView{
		Rows:           make([]ComparisonRow, 0, len(ranking.Entries)),
		Standings:      make([]string, 0, len(ranking.Entries)),
		Best:           ranking.Best,
		NoResults:      ranking.Empty(),
		ModelsCompared: c.ModelsCompared,
		ProcessingTime: c.ProcessingTime,
	}
	for _, e := range ranking.Entries {
		view.Rows = append(view.Rows, ComparisonRow{
			Model:             e.Model,
			TopClass:          e.Result.TopClass,
			TopConfidence:     e.Result.TopConfidence,
			ConfidencePercent: percent(e.Result.TopConfidence),
			Ranked:            e.Result.Ranked,
			Best:              ranking.IsBest(e.Model),
		})
	}
	for _, e := range ranking.Sorted() {
		view.Standings = append(view.Standings, e.Model)
	}
	return view
}

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}
