package history

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "go-analysis-console/internal/errors"
	"go-analysis-console/internal/logger"
	"go-analysis-console/internal/observer"
	"go-analysis-console/internal/workerpool"
	"go-analysis-console/pkg/models"

	"github.com/sirupsen/logrus"
)

const (
	DefaultLimit = 10
	MaxLimit     = 50

	syncFailedMessage = "Could not load the history. Showing the last known data."
)

// Source is the part of the analysis service the synchronizer reads.
type Source interface {
	Predictions(ctx context.Context, limit int) ([]models.HistoryRecord, error)
	Stats(ctx context.Context) (*models.StatsSnapshot, error)
}

// View is the merged history and statistics shown to the user.
type View struct {
	History     []models.HistoryRecord `json:"history"`
	Stats       *models.StatsSnapshot  `json:"stats,omitempty"`
	Ready       bool                   `json:"ready"`
	Refreshing  bool                   `json:"refreshing"`
	Error       *apperrors.AppError    `json:"error,omitempty"`
	RefreshedAt time.Time              `json:"refreshed_at,omitempty"`
}

// Synchronizer keeps View in step with the service. Both fetches of a
// refresh must succeed before the view is replaced.
type Synchronizer struct {
	src    Source
	pool   *workerpool.WorkerPool
	limit  int
	events observer.Subject

	mu       sync.RWMutex
	gen      uint64
	inflight int
	view     View
}

// New creates a synchronizer. limit is clamped to [1, MaxLimit]; zero
// means DefaultLimit. events may be nil.
func New(src Source, pool *workerpool.WorkerPool, limit int, events observer.Subject) *Synchronizer {
	switch {
	case limit == 0:
		limit = DefaultLimit
	case limit < 1:
		limit = 1
	case limit > MaxLimit:
		limit = MaxLimit
	}
	return &Synchronizer{
		src:    src,
		pool:   pool,
		limit:  limit,
		events: events,
		view:   View{History: []models.HistoryRecord{}},
	}
}

func (s *Synchronizer) Limit() int { return s.limit }

// View returns a copy of the current view.
func (s *Synchronizer) View() View {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v := s.view
	v.History = append([]models.HistoryRecord(nil), s.view.History...)
	return v
}

// Refresh fetches history and stats concurrently. On partial failure the
// previous view is kept and a single PartialSyncError is recorded. A
// refresh that finishes after a newer one started is dropped.
func (s *Synchronizer) Refresh(ctx context.Context) (View, error) {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.inflight++
	s.view.Refreshing = true
	s.mu.Unlock()

	started := time.Now()
	var (
		wg       sync.WaitGroup
		records  []models.HistoryRecord
		stats    *models.StatsSnapshot
		histErr  error
		statsErr error
	)
	wg.Add(2)
	s.run(func() {
		defer wg.Done()
		records, histErr = s.src.Predictions(ctx, s.limit)
	})
	s.run(func() {
		defer wg.Done()
		stats, statsErr = s.src.Stats(ctx)
	})
	wg.Wait()

	s.mu.Lock()
	s.inflight--
	s.view.Refreshing = s.inflight > 0
	if gen != s.gen {
		v := s.view
		s.mu.Unlock()
		return v, nil
	}

	if histErr != nil || statsErr != nil {
		cause := histErr
		if cause == nil {
			cause = statsErr
		}
		syncErr := apperrors.NewPartialSyncError(syncFailedMessage, cause)
		s.view.Error = syncErr
		v := s.view
		s.mu.Unlock()

		logger.WithFields(logrus.Fields{
			"history_error": errString(histErr),
			"stats_error":   errString(statsErr),
		}).Warn("History sync failed; keeping previous view")
		s.publish(ctx, observer.AnalysisEvent{
			EventType:      observer.HistorySyncFailed,
			ProcessingTime: time.Since(started),
			ErrorMessage:   syncErr.Error(),
		})
		return v, syncErr
	}

	s.view = View{
		History:     newestFirst(records, s.limit),
		Stats:       stats,
		Ready:       true,
		Refreshing:  s.view.Refreshing,
		RefreshedAt: time.Now(),
	}
	v := s.view
	s.mu.Unlock()

	s.publish(ctx, observer.AnalysisEvent{
		EventType:      observer.HistoryRefreshed,
		ProcessingTime: time.Since(started),
		Success:        true,
		Metadata:       map[string]interface{}{"records": len(v.History)},
	})
	return v, nil
}

// DismissError clears a displayed sync error.
func (s *Synchronizer) DismissError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.view.Error = nil
}

// OnEvent refreshes after every successful analysis.
func (s *Synchronizer) OnEvent(ctx context.Context, event observer.AnalysisEvent) {
	if event.EventType != observer.AnalysisCompleted {
		return
	}
	s.Refresh(ctx)
}

func (s *Synchronizer) GetObserverName() string {
	return "history_synchronizer"
}

// run uses the pool when it accepts the job and falls back to a goroutine.
func (s *Synchronizer) run(job func()) {
	if s.pool != nil && s.pool.Submit(job) {
		return
	}
	go job()
}

func (s *Synchronizer) publish(ctx context.Context, event observer.AnalysisEvent) {
	if s.events == nil {
		return
	}
	s.events.NotifyObservers(ctx, event)
}

// newestFirst orders records by descending timestamp, keeping service
// order for equal stamps, and truncates to limit.
func newestFirst(records []models.HistoryRecord, limit int) []models.HistoryRecord {
	out := append([]models.HistoryRecord{}, records...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
