package dispatcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"go-analysis-console/internal/apiclient"
	"go-analysis-console/internal/compare"
	apperrors "go-analysis-console/internal/errors"
	"go-analysis-console/internal/observer"
	"go-analysis-console/internal/request"
	"go-analysis-console/pkg/models"

	"github.com/google/uuid"
)

// GenericFailureMessage is shown when the service gave no error text.
const GenericFailureMessage = "An error occurred while processing the image."

// ErrSuperseded is returned to a caller whose submission was overtaken by a
// newer submission or reset. Its outcome was not applied.
var ErrSuperseded = errors.New("submission superseded")

// Executor runs one outbound request.
type Executor interface {
	Execute(ctx context.Context, d request.Descriptor) (*models.AnalysisResult, error)
}

// State is what the view renders for the current submission.
type State struct {
	Loading    bool                   `json:"loading"`
	Result     *models.AnalysisResult `json:"result,omitempty"`
	Error      *apperrors.AppError    `json:"error,omitempty"`
	Generation uint64                 `json:"generation"`
}

// Dispatcher executes submissions one logical outcome at a time. Each
// submission gets a generation; only the newest generation may write State.
type Dispatcher struct {
	exec    Executor
	events  observer.Subject
	timeout time.Duration

	mu     sync.Mutex
	gen    uint64
	cancel context.CancelFunc
	state  State
}

// New creates a dispatcher. timeout bounds each submission; zero means none.
func New(exec Executor, events observer.Subject, timeout time.Duration) *Dispatcher {
	return &Dispatcher{exec: exec, events: events, timeout: timeout}
}

// State returns a snapshot of the current submission state.
func (d *Dispatcher) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Submit builds and executes one analysis. Previous result and error are
// cleared before the call. A submission overtaken by a later Submit or
// Reset returns ErrSuperseded and leaves State to the newer action.
func (d *Dispatcher) Submit(ctx context.Context, req models.AnalysisRequest, catalog *models.ModelCatalog) (*models.AnalysisResult, error) {
	sub, err := d.Prepare(ctx, req, catalog)
	if err != nil {
		return nil, err
	}
	return sub.Run()
}

// Submission is an analysis that holds the newest generation but has not
// been sent yet.
type Submission struct {
	d       *Dispatcher
	id      string
	mode    models.AnalysisMode
	gen     uint64
	parent  context.Context
	ctx     context.Context
	descs   []request.Descriptor
	started time.Time
}

// Prepare builds the request and takes a new generation, superseding
// whatever ran before. It does no I/O, so callers may hold their own lock
// around it to order it against Reset. A rejected request also
// supersedes the previous submission and shows only its own error.
func (d *Dispatcher) Prepare(ctx context.Context, req models.AnalysisRequest, catalog *models.ModelCatalog) (*Submission, error) {
	descs, err := request.Build(req, catalog)
	if err != nil {
		appErr, ok := apperrors.As(err)
		if !ok {
			appErr = apperrors.NewValidationError(err.Error(), err)
		}
		d.mu.Lock()
		d.gen++
		d.finish()
		d.state = State{Error: appErr, Generation: d.gen}
		d.mu.Unlock()
		return nil, appErr
	}

	runCtx, gen := d.begin(ctx)
	sub := &Submission{
		d:       d,
		id:      uuid.NewString(),
		mode:    req.Mode,
		gen:     gen,
		parent:  ctx,
		ctx:     runCtx,
		descs:   descs,
		started: time.Now(),
	}
	d.publish(ctx, observer.AnalysisEvent{
		EventType:    observer.AnalysisStarted,
		SubmissionID: sub.id,
		Mode:         string(sub.mode),
	})
	return sub, nil
}

// Run sends the prepared request and applies the outcome if the
// submission is still the newest one.
func (s *Submission) Run() (*models.AnalysisResult, error) {
	d := s.d
	event := observer.AnalysisEvent{
		SubmissionID: s.id,
		Mode:         string(s.mode),
	}

	if !d.current(s.gen) {
		event.EventType = observer.AnalysisSuperseded
		d.publish(s.parent, event)
		return nil, ErrSuperseded
	}

	result, execErr := d.execute(s.ctx, s.descs)
	if execErr == nil && result.Kind == models.KindComparison {
		compare.Apply(result.Comparison)
	}
	event.ProcessingTime = time.Since(s.started)

	d.mu.Lock()
	if s.gen != d.gen {
		d.mu.Unlock()
		event.EventType = observer.AnalysisSuperseded
		d.publish(s.parent, event)
		return nil, ErrSuperseded
	}
	d.finish()
	if execErr != nil {
		appErr := userFacing(execErr)
		d.state.Error = appErr
		d.mu.Unlock()

		event.EventType = observer.AnalysisFailed
		event.ErrorMessage = execErr.Error()
		d.publish(s.parent, event)
		return nil, appErr
	}
	d.state.Result = result
	d.mu.Unlock()

	event.EventType = observer.AnalysisCompleted
	event.Success = true
	event.Metadata = map[string]interface{}{"result_kind": string(result.Kind)}
	d.publish(s.parent, event)
	return result, nil
}

func (d *Dispatcher) current(gen uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return gen == d.gen
}

// Reset drops the current outcome and invalidates any submission in
// flight; its result will be discarded when it arrives.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	d.finish()
	d.state = State{Generation: d.gen}
}

// DismissError clears a displayed error without touching the result.
func (d *Dispatcher) DismissError() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state.Error = nil
}

func (d *Dispatcher) begin(parent context.Context) (context.Context, uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.gen++
	d.finish()

	var ctx context.Context
	var cancel context.CancelFunc
	if d.timeout > 0 {
		ctx, cancel = context.WithTimeout(parent, d.timeout)
	} else {
		ctx, cancel = context.WithCancel(parent)
	}
	d.cancel = cancel
	d.state = State{Loading: true, Generation: d.gen}
	return ctx, d.gen
}

// finish cancels the tracked context and clears loading. d.mu must be held.
func (d *Dispatcher) finish() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.state.Loading = false
}

func (d *Dispatcher) execute(ctx context.Context, descs []request.Descriptor) (*models.AnalysisResult, error) {
	if len(descs) != 1 {
		return nil, apperrors.NewInternalError("unexpected number of requests", nil)
	}
	result, err := d.exec.Execute(ctx, descs[0])
	if err != nil {
		return nil, err
	}
	if err := result.Validate(); err != nil {
		return nil, apperrors.NewTransportError("malformed response from the analysis service", err)
	}
	return result, nil
}

func (d *Dispatcher) publish(ctx context.Context, event observer.AnalysisEvent) {
	if d.events == nil {
		return
	}
	d.events.NotifyObservers(ctx, event)
}

// userFacing keeps the service's own error text when there is one and
// otherwise replaces the message with the generic fallback.
func userFacing(err error) *apperrors.AppError {
	if msg, ok := apiclient.ServiceMessage(err); ok {
		return apperrors.NewTransportError(msg, err)
	}
	if appErr, ok := apperrors.As(err); ok {
		if appErr.Type == apperrors.ErrorTypeValidation {
			return appErr
		}
		out := *appErr
		out.Message = GenericFailureMessage
		out.Details = appErr.Message
		return &out
	}
	return apperrors.NewTransportError(GenericFailureMessage, err)
}
