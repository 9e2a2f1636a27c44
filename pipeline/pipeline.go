package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/citystreams/checkpoint"
	"github.com/c360/citystreams/errors"
	"github.com/c360/citystreams/health"
	"github.com/c360/citystreams/metric"
	"github.com/c360/citystreams/parser"
	"github.com/c360/citystreams/pkg/retry"
	"github.com/c360/citystreams/record"
	"github.com/c360/citystreams/schema"
	"github.com/c360/citystreams/sink"
	"github.com/c360/citystreams/source"
	"github.com/c360/citystreams/watermark"
)

// Defaults applied by New to zero Config fields.
const (
	DefaultBatchSize   = 500
	DefaultPollWait    = time.Second
	DefaultRetryBudget = 3
)

const (
	rejectLogInterval = 100 * time.Millisecond
	rejectLogBurst    = 20
)

// sampleBytes caps the payload sample logged for a rejected message.
const sampleBytes = 128

// Config binds a pipeline to one stream.
type Config struct {
	Kind schema.StreamKind
	// Topic defaults to Kind.Topic().
	Topic     string
	BatchSize int
	PollWait  time.Duration
	// RetryBudget is the total number of append+commit attempts per batch,
	// and of checkpoint load attempts at startup.
	RetryBudget int
	// Backoff paces batch and checkpoint retries. MaxAttempts is ignored in
	// favour of RetryBudget.
	Backoff retry.Config
	// SourceBackoff paces subscribe and pull retries, which never give up.
	SourceBackoff retry.Config
	// RunID is stamped into every committed checkpoint.
	RunID string
}

// Rejecter receives the payloads of a batch that failed to parse.
type Rejecter interface {
	Reject(ctx context.Context, kind schema.StreamKind, rejects []sink.Rejected, checkpointOffset int64) error
}

// Dependencies are the collaborators of a pipeline. Rejects, Metrics and
// Logger are optional.
type Dependencies struct {
	Source      source.Source
	Checkpoints checkpoint.Store
	Sink        sink.Appender
	Rejects     Rejecter
	Parser      *parser.Parser
	Watermark   *watermark.Policy
	Metrics     *metric.Metrics
	Logger      *slog.Logger
}

// Counters are cumulative per-run pipeline counters.
type Counters struct {
	Received      int64 `json:"received"`
	Parsed        int64 `json:"parsed"`
	ParseErrors   int64 `json:"parse_errors"`
	Late          int64 `json:"late"`
	Batches       int64 `json:"batches"`
	BatchRetries  int64 `json:"batch_retries"`
	SourceRetries int64 `json:"source_retries"`
}

// Pipeline moves one stream from its source topic to the sink, committing a
// checkpoint after every batch.
type Pipeline struct {
	cfg    Config
	deps   Dependencies
	logger *slog.Logger
	stream string

	// rejectLog caps Warn-level parse error logs; the rest go to Debug.
	rejectLog *rate.Limiter

	state    atomic.Int32
	started  atomic.Bool
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	// sub is only touched by the Run goroutine.
	sub source.Subscription

	mu           sync.RWMutex
	err          error
	committed    int64
	hasCommit    bool
	counters     Counters
	startedAt    time.Time
	lastActivity time.Time
}

// New validates cfg and deps and returns a pipeline in StateStarting.
func New(cfg Config, deps Dependencies) (*Pipeline, error) {
	if !cfg.Kind.Valid() {
		return nil, errors.ConfigFailure("Pipeline", "New", "unknown stream kind %d", int(cfg.Kind))
	}
	switch {
	case deps.Source == nil:
		return nil, errors.ConfigFailure("Pipeline", "New", "%s: source is required", cfg.Kind)
	case deps.Checkpoints == nil:
		return nil, errors.ConfigFailure("Pipeline", "New", "%s: checkpoint store is required", cfg.Kind)
	case deps.Sink == nil:
		return nil, errors.ConfigFailure("Pipeline", "New", "%s: sink is required", cfg.Kind)
	case deps.Parser == nil:
		return nil, errors.ConfigFailure("Pipeline", "New", "%s: parser is required", cfg.Kind)
	case deps.Watermark == nil:
		return nil, errors.ConfigFailure("Pipeline", "New", "%s: watermark policy is required", cfg.Kind)
	}

	if cfg.Topic == "" {
		cfg.Topic = cfg.Kind.Topic()
	}
	if cfg.BatchSize < 0 || cfg.RetryBudget < 0 || cfg.PollWait < 0 {
		return nil, errors.ConfigFailure("Pipeline", "New",
			"%s: batch size, retry budget and poll wait must not be negative", cfg.Kind)
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.PollWait == 0 {
		cfg.PollWait = DefaultPollWait
	}
	if cfg.RetryBudget == 0 {
		cfg.RetryBudget = DefaultRetryBudget
	}
	if cfg.Backoff == (retry.Config{}) {
		cfg.Backoff = retry.DefaultConfig()
	}
	if cfg.SourceBackoff == (retry.Config{}) {
		cfg.SourceBackoff = retry.Persistent()
	}
	cfg.Backoff.MaxAttempts = cfg.RetryBudget

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{
		cfg:    cfg,
		deps:   deps,
		stream: cfg.Kind.String(),
		logger: logger.With("component", "pipeline", "stream", cfg.Kind.String()),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),

		rejectLog: rate.NewLimiter(rate.Every(rejectLogInterval), rejectLogBurst),
	}
	p.state.Store(int32(StateStarting))
	return p, nil
}

// Kind returns the stream this pipeline serves.
func (p *Pipeline) Kind() schema.StreamKind { return p.cfg.Kind }

// State returns the current lifecycle state.
func (p *Pipeline) State() State { return State(p.state.Load()) }

// Done is closed when Run returns.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Err returns the error that failed the pipeline, if any.
func (p *Pipeline) Err() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.err
}

// Stop asks the pipeline to stop. An idle pull is interrupted; a batch
// already pulled is written and committed first. Safe to call repeatedly.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

func (p *Pipeline) stopping() bool {
	select {
	case <-p.stopCh:
		return true
	default:
		return false
	}
}

func (p *Pipeline) setState(s State) {
	p.state.Store(int32(s))
	p.deps.Metrics.RecordPipelineState(p.stream, int(s))
}

// Run executes the pipeline until it is stopped, ctx is cancelled, or an
// unrecoverable error occurs. It returns nil when the pipeline ends
// Stopped and the failure otherwise. Cancelling ctx abandons the batch in
// flight without committing it.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return errors.WrapFatal(errors.ErrAlreadyStarted, "Pipeline", "Run", "start "+p.stream)
	}
	defer close(p.done)

	p.mu.Lock()
	p.startedAt = time.Now()
	p.mu.Unlock()
	p.setState(StateStarting)

	// idle ends on Stop as well as on ctx. Work on a pulled batch runs
	// under ctx alone so that Stop lets it finish.
	idle, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.stopCh:
			cancel()
		case <-idle.Done():
		}
	}()

	err := p.run(ctx, idle)
	if p.sub != nil {
		if cerr := p.sub.Close(); cerr != nil {
			p.logger.Warn("Failed to close subscription", "error", cerr)
		}
		p.sub = nil
	}
	return p.finish(ctx, err)
}

func (p *Pipeline) finish(ctx context.Context, err error) error {
	if err == nil || ctx.Err() != nil {
		p.setState(StateStopped)
		offset, ok := p.committedOffset()
		p.logger.Info("Pipeline stopped", "offset", offset, "has_checkpoint", ok)
		return nil
	}

	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	p.setState(StateFailed)
	p.logger.Error("Pipeline failed", "error", err)
	return err
}

func (p *Pipeline) run(ctx, idle context.Context) error {
	if p.stopping() {
		return nil
	}
	if err := p.recover(idle); err != nil {
		if idle.Err() != nil {
			return nil
		}
		return err
	}
	if err := p.subscribe(idle); err != nil {
		if idle.Err() != nil {
			return nil
		}
		return err
	}

	p.setState(StateRunning)
	p.logger.Info("Pipeline running", "topic", p.cfg.Topic, "position", p.position().String(),
		"batch_size", p.cfg.BatchSize, "retry_budget", p.cfg.RetryBudget)

	for idle.Err() == nil {
		msgs, err := p.pull(idle)
		if err != nil && idle.Err() == nil {
			return err
		}
		if len(msgs) > 0 {
			if err := p.process(ctx, msgs); err != nil {
				return err
			}
		}
	}
	return nil
}

// retryable marks everything but transient failures as final.
func retryable(err error) error {
	if err == nil || errors.Classify(err) == errors.ErrorTransient {
		return err
	}
	return retry.NonRetryable(err)
}

func unwrapNonRetryable(err error) error {
	var nre *retry.NonRetryableError
	if stderrors.As(err, &nre) {
		return nre.Err
	}
	return err
}

// recover loads the checkpoint and seeds the watermark from it.
func (p *Pipeline) recover(ctx context.Context) error {
	var (
		rec checkpoint.Record
		ok  bool
	)
	err := retry.DoNotify(ctx, p.cfg.Backoff, func() error {
		var err error
		rec, ok, err = p.deps.Checkpoints.Load(ctx, p.cfg.Kind)
		return retryable(err)
	}, func(attempt int, err error, wait time.Duration) {
		p.logger.Warn("Checkpoint load failed, retrying", "attempt", attempt,
			"budget", p.cfg.RetryBudget, "retry_in", wait, "error", err)
	})
	if err != nil {
		return errors.Wrap(unwrapNonRetryable(err), "Pipeline", "recover", "load checkpoint")
	}

	if err := p.pruneUncommitted(ctx, rec.Offset, ok); err != nil {
		return err
	}

	if !ok {
		p.logger.Info("No checkpoint found, starting from earliest offset")
		return nil
	}

	p.deps.Watermark.Restore(rec.Watermark)
	p.mu.Lock()
	p.committed = rec.Offset
	p.hasCommit = true
	p.mu.Unlock()

	p.deps.Metrics.RecordCheckpointOffset(p.stream, rec.Offset)
	p.deps.Metrics.RecordWatermark(p.stream, rec.Watermark)
	p.logger.Info("Recovered checkpoint", "offset", rec.Offset,
		"watermark", rec.Watermark, "previous_run", rec.RunID)
	return nil
}

// pruneUncommitted removes partitions a previous run wrote without
// committing their checkpoint, so the replay from the checkpoint is the only
// copy of those rows. Sinks that cannot prune are left alone.
func (p *Pipeline) pruneUncommitted(ctx context.Context, committed int64, hasCommit bool) error {
	pruner, ok := p.deps.Sink.(sink.Pruner)
	if !ok {
		return nil
	}

	var removed int
	err := retry.DoNotify(ctx, p.cfg.Backoff, func() error {
		var err error
		removed, err = pruner.Prune(ctx, p.cfg.Kind, committed, hasCommit)
		return retryable(err)
	}, func(attempt int, err error, wait time.Duration) {
		p.logger.Warn("Pruning uncommitted partitions failed, retrying", "attempt", attempt,
			"budget", p.cfg.RetryBudget, "retry_in", wait, "error", err)
	})
	if err != nil {
		return errors.Wrap(unwrapNonRetryable(err), "Pipeline", "recover", "prune uncommitted partitions")
	}
	if removed > 0 {
		p.logger.Warn("Removed partitions of an uncommitted batch", "count", removed,
			"committed", committed, "has_checkpoint", hasCommit)
	}
	return nil
}

func (p *Pipeline) committedOffset() (int64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.committed, p.hasCommit
}

func (p *Pipeline) position() source.Position {
	offset, ok := p.committedOffset()
	if !ok {
		return source.Earliest()
	}
	return source.After(offset)
}

func (p *Pipeline) notifySource(action string) retry.Notify {
	return func(attempt int, err error, wait time.Duration) {
		p.deps.Metrics.RecordSourceRetry(p.stream)
		p.mu.Lock()
		p.counters.SourceRetries++
		p.mu.Unlock()
		p.logger.Warn("Source unavailable, retrying", "action", action, "attempt", attempt,
			"retry_in", wait, "error", err)
	}
}

func (p *Pipeline) openSubscription(ctx context.Context) error {
	sub, err := p.deps.Source.Subscribe(ctx, p.cfg.Topic, p.position())
	if err != nil {
		return retryable(err)
	}
	p.sub = sub
	return nil
}

// subscribe opens the subscription, retrying until it succeeds.
func (p *Pipeline) subscribe(ctx context.Context) error {
	err := retry.Until(ctx, p.cfg.SourceBackoff, func() error {
		return p.openSubscription(ctx)
	}, p.notifySource("subscribe"))
	return unwrapNonRetryable(err)
}

// pull fetches the next batch. A failed pull drops the subscription and
// resubscribes after the last committed offset, so nothing pulled but
// uncommitted is skipped.
func (p *Pipeline) pull(ctx context.Context) ([]source.RawMessage, error) {
	var msgs []source.RawMessage
	err := retry.Until(ctx, p.cfg.SourceBackoff, func() error {
		if p.sub == nil {
			if err := p.openSubscription(ctx); err != nil {
				return err
			}
		}
		got, err := p.sub.Pull(ctx, p.cfg.BatchSize, p.cfg.PollWait)
		if err != nil {
			if ctx.Err() != nil {
				// Stopping: keep whatever arrived so it is committed.
				msgs = got
				return retry.NonRetryable(err)
			}
			_ = p.sub.Close()
			p.sub = nil
			return retryable(err)
		}
		msgs = got
		return nil
	}, p.notifySource("pull"))
	return msgs, unwrapNonRetryable(err)
}

// process parses msgs, writes the surviving records and commits the batch's
// highest offset. Append and commit are retried together within the retry
// budget; the checkpoint is only written after the sink succeeded.
func (p *Pipeline) process(ctx context.Context, msgs []source.RawMessage) error {
	start := time.Now()
	kind := p.cfg.Kind
	p.deps.Metrics.RecordReceived(p.stream, len(msgs))

	batch := make([]record.Record, 0, len(msgs))
	var (
		rejects []sink.Rejected
		late    int64
	)
	offset := msgs[0].Offset
	for _, msg := range msgs {
		if msg.Offset > offset {
			offset = msg.Offset
		}

		rec, err := p.deps.Parser.Parse(kind, msg)
		if err != nil {
			pe, ok := errors.AsParseError(err)
			if !ok {
				return err
			}
			p.deps.Metrics.RecordParseError(p.stream, pe.Field)
			level := slog.LevelDebug
			if p.rejectLog.Allow() {
				level = slog.LevelWarn
			}
			p.logger.Log(ctx, level, "Skipping unparseable message", "offset", msg.Offset,
				"field", pe.Field, "reason", pe.Reason, "sample", parser.Sample(msg.Value, sampleBytes))
			rejects = append(rejects, sink.Rejected{
				Offset:  msg.Offset,
				Payload: msg.Value,
				Field:   pe.Field,
				Reason:  pe.Reason,
			})
			continue
		}

		// Lateness is judged against the watermark before this record moves it.
		isLate := p.deps.Watermark.IsLate(rec.EventTime())
		if isLate {
			late++
			p.deps.Metrics.RecordLate(p.stream)
		}
		p.deps.Watermark.Observe(rec.EventTime())
		p.deps.Metrics.RecordParsed(p.stream)
		batch = append(batch, rec.WithLate(isLate))
	}

	p.mu.Lock()
	p.counters.Received += int64(len(msgs))
	p.counters.Parsed += int64(len(batch))
	p.counters.ParseErrors += int64(len(rejects))
	p.counters.Late += late
	p.lastActivity = time.Now()
	p.mu.Unlock()

	wm, _ := p.deps.Watermark.Current()
	cp := checkpoint.Record{
		Stream:    kind,
		Offset:    offset,
		Watermark: wm,
		RunID:     p.cfg.RunID,
	}

	err := retry.DoNotify(ctx, p.cfg.Backoff, func() error {
		if err := p.deps.Sink.Append(ctx, kind, batch, offset); err != nil {
			return retryable(err)
		}
		if p.deps.Rejects != nil {
			if err := p.deps.Rejects.Reject(ctx, kind, rejects, offset); err != nil {
				return retryable(err)
			}
		}
		cp.WrittenAt = time.Now().UTC()
		return retryable(p.deps.Checkpoints.Commit(ctx, cp))
	}, func(attempt int, err error, wait time.Duration) {
		p.deps.Metrics.RecordBatchRetry(p.stream)
		p.mu.Lock()
		p.counters.BatchRetries++
		p.mu.Unlock()
		p.logger.Warn("Batch write failed, retrying", "offset", offset, "attempt", attempt,
			"budget", p.cfg.RetryBudget, "retry_in", wait, "error", err)
	})
	if err != nil {
		return errors.Wrap(unwrapNonRetryable(err), "Pipeline", "process",
			fmt.Sprintf("commit batch at offset %d", offset))
	}

	p.mu.Lock()
	p.committed = offset
	p.hasCommit = true
	p.counters.Batches++
	p.mu.Unlock()

	p.deps.Metrics.RecordBatchCommitted(p.stream, offset, time.Since(start))
	p.deps.Metrics.RecordWatermark(p.stream, wm)
	p.logger.Debug("Committed batch", "offset", offset, "records", len(batch),
		"rejected", len(rejects), "late", late, "duration", time.Since(start))
	return nil
}

// Status is a point-in-time snapshot of a pipeline.
type Status struct {
	Stream        schema.StreamKind `json:"stream"`
	Topic         string            `json:"topic"`
	State         State             `json:"state"`
	Offset        int64             `json:"offset"`
	HasCheckpoint bool              `json:"has_checkpoint"`
	Watermark     time.Time         `json:"watermark,omitempty"`
	Counters
	StartedAt    time.Time `json:"started_at,omitempty"`
	LastActivity time.Time `json:"last_activity,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
}

// Status returns a snapshot of the pipeline.
func (p *Pipeline) Status() Status {
	wm, _ := p.deps.Watermark.Current()

	p.mu.RLock()
	defer p.mu.RUnlock()
	st := Status{
		Stream:        p.cfg.Kind,
		Topic:         p.cfg.Topic,
		State:         p.State(),
		Offset:        p.committed,
		HasCheckpoint: p.hasCommit,
		Watermark:     wm,
		Counters:      p.counters,
		StartedAt:     p.startedAt,
		LastActivity:  p.lastActivity,
	}
	if p.err != nil {
		st.LastError = p.err.Error()
	}
	return st
}

// Health maps the snapshot onto a health status: running and stopped
// pipelines are healthy, starting ones degraded, failed ones unhealthy.
func (s Status) Health() health.Status {
	component := s.Stream.String()
	var hs health.Status
	switch s.State {
	case StateRunning:
		hs = health.NewHealthy(component, "running")
	case StateStopped:
		hs = health.NewHealthy(component, "stopped")
	case StateStarting:
		hs = health.NewDegraded(component, "starting")
	default:
		if s.LastError != "" {
			hs = health.FromError(component, stderrors.New(s.LastError))
		} else {
			hs = health.NewUnhealthy(component, "failed")
		}
	}

	var uptime time.Duration
	if !s.StartedAt.IsZero() {
		uptime = time.Since(s.StartedAt)
	}
	return hs.WithMetrics(&health.Metrics{
		Uptime:           uptime,
		ErrorCount:       int(s.ParseErrors),
		RecordsProcessed: s.Parsed,
		LastOffset:       s.Offset,
		LastActivity:     s.LastActivity,
	})
}
