// Package session holds the state of the single analysis page served by
// the console and routes user actions to the core components.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go-analysis-console/internal/dispatcher"
	apperrors "go-analysis-console/internal/errors"
	"go-analysis-console/internal/history"
	"go-analysis-console/internal/logger"
	"go-analysis-console/internal/preview"
	"go-analysis-console/internal/request"
	"go-analysis-console/internal/upload"
	"go-analysis-console/pkg/models"

	"github.com/sirupsen/logrus"
)

const connectFailedMessage = "Could not connect to the server. Please make sure the analysis service is running."

// Tab is the page tab. The three analysis tabs carry their mode name.
type Tab string

const (
	TabClassify Tab = Tab(models.ModeClassify)
	TabSegment  Tab = Tab(models.ModeSegment)
	TabCompare  Tab = Tab(models.ModeCompare)
	TabHistory  Tab = "history"
)

// ParseTab accepts the analysis mode names and "history".
func ParseTab(s string) (Tab, error) {
	if strings.EqualFold(strings.TrimSpace(s), string(TabHistory)) {
		return TabHistory, nil
	}
	mode, err := models.ParseMode(s)
	if err != nil {
		return "", apperrors.NewValidationError(fmt.Sprintf("Unknown tab %q", s), err)
	}
	return Tab(mode), nil
}

// Mode returns the analysis mode of the tab; false for the history tab.
func (t Tab) Mode() (models.AnalysisMode, bool) {
	m := models.AnalysisMode(t)
	return m, m.Valid()
}

// ModelLister loads the model catalog.
type ModelLister interface {
	ListModels(ctx context.Context) (*models.ModelCatalog, error)
}

// Options wires a Session.
type Options struct {
	Previews   *preview.Manager
	Dispatcher *dispatcher.Dispatcher
	History    *history.Synchronizer
	Models     ModelLister

	DefaultModel      string
	DefaultConfidence float64
	DefaultTopK       int

	// ResultImagePrefix is prepended to segmentation result refs.
	ResultImagePrefix string
}

// Session serializes user actions the way a single page event loop would.
// Network calls run outside the lock.
type Session struct {
	mu sync.Mutex

	upload     *upload.Machine
	dispatcher *dispatcher.Dispatcher
	history    *history.Synchronizer
	lister     ModelLister

	tab        Tab
	model      string
	confidence float64
	topK       int

	catalog    *models.ModelCatalog
	catalogErr *apperrors.AppError
	notice     *apperrors.AppError

	defaultModel string
	imagePrefix  string
}

func New(opts Options) *Session {
	s := &Session{
		dispatcher:   opts.Dispatcher,
		history:      opts.History,
		lister:       opts.Models,
		tab:          TabClassify,
		confidence:   request.ClampConfidence(opts.DefaultConfidence),
		topK:         opts.DefaultTopK,
		defaultModel: opts.DefaultModel,
		imagePrefix:  opts.ResultImagePrefix,
	}
	if s.topK < 1 {
		s.topK = request.DefaultTopK
	}
	if s.imagePrefix == "" {
		s.imagePrefix = "/results/image/"
	}
	s.upload = upload.NewMachine(opts.Previews, s.onSelection)
	return s
}

// onSelection drops the outcome of the previous file. Called with s.mu held.
func (s *Session) onSelection(*upload.Selection) {
	s.dispatcher.Reset()
}

// LoadModels fetches the catalog and picks the default model.
func (s *Session) LoadModels(ctx context.Context) error {
	catalog, err := s.lister.ListModels(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.catalogErr = apperrors.NewTransportError(connectFailedMessage, err)
		logger.WithError(err).Error("Failed to load model catalog")
		return s.catalogErr
	}
	s.catalog = catalog
	s.catalogErr = nil

	names := catalog.ClassificationNames()
	s.model = ""
	for _, n := range names {
		if n == s.defaultModel {
			s.model = n
		}
	}
	if s.model == "" && len(names) > 0 {
		s.model = names[0]
	}
	logger.WithFields(logrus.Fields{
		"classification_models": len(catalog.Classification),
		"segmentation_models":   len(catalog.Segmentation),
		"selected_model":        s.model,
	}).Info("Model catalog loaded")
	return nil
}

// SetMode switches tabs. The displayed result and errors are dropped;
// opening the history tab reloads the history.
func (s *Session) SetMode(ctx context.Context, raw string) error {
	tab, err := ParseTab(raw)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.tab = tab
	s.notice = nil
	s.dispatcher.Reset()
	s.mu.Unlock()

	if tab == TabHistory {
		// sync failures are kept on the history view
		s.history.Refresh(ctx)
	}
	return nil
}

func (s *Session) SelectModel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = strings.TrimSpace(name)
}

func (s *Session) SetConfidence(v float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confidence = request.ClampConfidence(v)
}

func (s *Session) SetTopK(k int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k < 1 {
		k = request.DefaultTopK
	}
	s.topK = k
}

func (s *Session) DragEnter() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upload.DragEnter()
}

func (s *Session) DragOver() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upload.DragOver()
}

func (s *Session) DragLeave(relatedInside bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upload.DragLeave(relatedInside)
}

// Drop handles a file dropped on the upload zone.
func (s *Session) Drop(file *models.ImageFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.noted(s.upload.Drop(file))
}

// SelectFile handles the file input.
func (s *Session) SelectFile(file *models.ImageFile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.noted(s.upload.SelectFile(file))
}

// noted records an upload rejection. Called with s.mu held.
func (s *Session) noted(err error) error {
	if err == nil {
		s.notice = nil
		return nil
	}
	appErr, ok := apperrors.As(err)
	if !ok {
		appErr = apperrors.NewValidationError(err.Error(), err)
	}
	s.notice = appErr
	return appErr
}

// Clear removes the selection together with any result or error.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upload.Clear()
	s.notice = nil
}

// Submit runs the analysis of the active tab on the current selection.
func (s *Session) Submit(ctx context.Context) (*models.AnalysisResult, error) {
	s.mu.Lock()
	mode, ok := s.tab.Mode()
	if !ok {
		s.mu.Unlock()
		return nil, apperrors.NewValidationError("Select an analysis mode first", nil)
	}
	var file *models.ImageFile
	if sel, ok := s.upload.Selection(); ok {
		file = sel.File
	}
	req := models.AnalysisRequest{
		Mode:                mode,
		File:                file,
		ModelID:             s.model,
		ConfidenceThreshold: s.confidence,
		TopK:                s.topK,
	}
	catalog := s.catalog
	if catalog == nil && s.catalogErr != nil {
		catalog = &models.ModelCatalog{}
	}
	// the generation is taken under s.mu so a Clear or SetMode that
	// follows always supersedes this submission
	sub, err := s.dispatcher.Prepare(ctx, req, catalog)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	result, err := sub.Run()
	if errors.Is(err, dispatcher.ErrSuperseded) {
		logger.WithField("mode", mode).Debug("Submission superseded")
	}
	return result, err
}

// DismissError hides the analysis error, any upload notice and the
// history sync error.
func (s *Session) DismissError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatcher.DismissError()
	s.history.DismissError()
	s.notice = nil
}

// RefreshHistory reloads history and statistics.
func (s *Session) RefreshHistory(ctx context.Context) (history.View, error) {
	return s.history.Refresh(ctx)
}

func (s *Session) History() history.View {
	return s.history.View()
}
