package supervisor

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/c360/citystreams/errors"
	"github.com/c360/citystreams/health"
	"github.com/c360/citystreams/pipeline"
	"github.com/c360/citystreams/schema"
)

// ServiceName is the component name of the aggregate health status.
const ServiceName = "citystreams"

// Runner is a supervised pipeline. *pipeline.Pipeline implements it.
type Runner interface {
	Kind() schema.StreamKind
	Run(ctx context.Context) error
	Stop()
	State() pipeline.State
	Err() error
	Done() <-chan struct{}
	Status() pipeline.Status
}

var _ Runner = (*pipeline.Pipeline)(nil)

// NewRunID returns a fresh identifier for one process run.
func NewRunID() string {
	return uuid.NewString()
}

// Supervisor owns the goroutines of its pipelines. A failing pipeline never
// affects the others.
type Supervisor struct {
	logger    *slog.Logger
	pipelines []Runner
	byKind    map[schema.StreamKind]Runner

	started atomic.Bool
	cancel  context.CancelFunc
	group   errgroup.Group
	done    chan struct{}

	firstOnce sync.Once
	first     schema.StreamKind
	anyDone   chan struct{}

	mu       sync.Mutex
	panicked map[schema.StreamKind]error
}

// New creates a supervisor. Pipelines must serve distinct stream kinds.
func New(logger *slog.Logger, pipelines ...Runner) (*Supervisor, error) {
	if len(pipelines) == 0 {
		return nil, errors.ConfigFailure("Supervisor", "New", "no pipelines to supervise")
	}
	if logger == nil {
		logger = slog.Default()
	}

	byKind := make(map[schema.StreamKind]Runner, len(pipelines))
	for _, p := range pipelines {
		if p == nil {
			return nil, errors.ConfigFailure("Supervisor", "New", "nil pipeline")
		}
		if _, dup := byKind[p.Kind()]; dup {
			return nil, errors.ConfigFailure("Supervisor", "New", "duplicate pipeline for stream %s", p.Kind())
		}
		byKind[p.Kind()] = p
	}

	return &Supervisor{
		logger:    logger.With("component", "supervisor"),
		pipelines: pipelines,
		byKind:    byKind,
		done:      make(chan struct{}),
		anyDone:   make(chan struct{}),
		panicked:  make(map[schema.StreamKind]error),
	}, nil
}

// Start launches every pipeline in its own goroutine and returns at once.
// Cancelling ctx hard-stops all pipelines.
func (s *Supervisor) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Supervisor", "Start", "start pipelines")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	kinds := make([]string, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		p := p
		kinds = append(kinds, p.Kind().String())
		// No group context: one pipeline ending never cancels the others.
		s.group.Go(func() error {
			s.run(runCtx, p)
			return nil
		})
	}
	go func() {
		_ = s.group.Wait()
		cancel()
		close(s.done)
	}()

	s.logger.Info("Started pipelines", "count", len(s.pipelines), "streams", kinds)
	return nil
}

func (s *Supervisor) run(ctx context.Context, p Runner) {
	kind := p.Kind()
	defer s.firstOnce.Do(func() {
		s.first = kind
		close(s.anyDone)
	})
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("pipeline %s panicked: %v", kind, r)
			s.mu.Lock()
			s.panicked[kind] = err
			s.mu.Unlock()
			s.logger.Error("Pipeline panicked", "stream", kind.String(), "panic", r,
				"stack", string(debug.Stack()))
		}
	}()

	err := p.Run(ctx)
	if err != nil {
		s.logger.Error("Pipeline finished", "stream", kind.String(), "state", p.State().String(), "error", err)
		return
	}
	s.logger.Info("Pipeline finished", "stream", kind.String(), "state", p.State().String())
}

// Done is closed once every pipeline has returned.
func (s *Supervisor) Done() <-chan struct{} { return s.done }

// AwaitAny blocks until the first pipeline reaches a terminal state and
// returns its kind.
func (s *Supervisor) AwaitAny(ctx context.Context) (schema.StreamKind, error) {
	if !s.started.Load() {
		return 0, errors.WrapFatal(errors.ErrNotStarted, "Supervisor", "AwaitAny", "wait for pipelines")
	}
	select {
	case <-s.anyDone:
		return s.first, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Await blocks until the pipeline for kind is terminal and returns its error.
func (s *Supervisor) Await(ctx context.Context, kind schema.StreamKind) error {
	p, ok := s.byKind[kind]
	if !ok {
		return errors.ConfigFailure("Supervisor", "Await", "no pipeline for stream %s", kind)
	}
	if !s.started.Load() {
		return errors.WrapFatal(errors.ErrNotStarted, "Supervisor", "Await", "wait for "+kind.String())
	}
	select {
	case <-p.Done():
		return s.pipelineErr(p)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every pipeline is terminal and joins their errors.
func (s *Supervisor) Wait(ctx context.Context) error {
	if !s.started.Load() {
		return errors.WrapFatal(errors.ErrNotStarted, "Supervisor", "Wait", "wait for pipelines")
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	var errs []error
	for _, p := range s.pipelines {
		if err := s.pipelineErr(p); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.Kind(), err))
		}
	}
	return stderrors.Join(errs...)
}

func (s *Supervisor) pipelineErr(p Runner) error {
	if err := s.panickedErr(p.Kind()); err != nil {
		return err
	}
	return p.Err()
}

// StopAll signals every pipeline to stop and blocks until all are terminal.
// Pipelines finish the batch they are writing. If ctx ends first, the
// remaining pipelines are hard-stopped, abandoning their in-flight batches,
// and the context error is returned once they have exited.
func (s *Supervisor) StopAll(ctx context.Context) error {
	start := time.Now()
	s.logger.Info("Stopping pipelines", "count", len(s.pipelines))
	for _, p := range s.pipelines {
		p.Stop()
	}
	if !s.started.Load() {
		return nil
	}

	select {
	case <-s.done:
		s.logger.Info("All pipelines stopped", "duration_ms", time.Since(start).Milliseconds())
		return nil
	case <-ctx.Done():
	}

	var pending []string
	for _, p := range s.pipelines {
		if !p.State().Terminal() {
			pending = append(pending, p.Kind().String())
		}
	}
	s.logger.Warn("Graceful stop timed out, cancelling pipelines", "pending", pending)
	s.cancel()
	<-s.done
	return errors.Wrap(ctx.Err(), "Supervisor", "StopAll", "graceful stop")
}

// Statuses returns a snapshot of every pipeline in registration order.
func (s *Supervisor) Statuses() []pipeline.Status {
	out := make([]pipeline.Status, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		st := p.Status()
		if err := s.panickedErr(p.Kind()); err != nil {
			st.State = pipeline.StateFailed
			st.LastError = err.Error()
		}
		out = append(out, st)
	}
	return out
}

func (s *Supervisor) panickedErr(kind schema.StreamKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panicked[kind]
}

// Failed returns the kinds of pipelines that ended Failed.
func (s *Supervisor) Failed() []schema.StreamKind {
	var failed []schema.StreamKind
	for _, st := range s.Statuses() {
		if st.State == pipeline.StateFailed {
			failed = append(failed, st.Stream)
		}
	}
	return failed
}

// Health aggregates pipeline health. Any failed pipeline makes the service
// unhealthy.
func (s *Supervisor) Health() health.Status {
	statuses := s.Statuses()
	subs := make([]health.Status, 0, len(statuses))
	for _, st := range statuses {
		subs = append(subs, st.Health())
	}
	return health.Aggregate(ServiceName, subs)
}
