package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"qabatch/internal/core/domain"
	"qabatch/internal/core/ports"
)

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// RunOptions narrows and paces a run.
type RunOptions struct {
	StartID domain.ItemID // resume from this id; empty starts at the beginning
	Count   int           // maximum items to process; <= 0 means no limit
	Delay   time.Duration // pause after every item except the last
}

// Orchestrator coordinates the generation workflow.
type Orchestrator struct {
	resolver  ports.Resolver
	prompts   ports.PromptBuilder
	generator ports.Generator
	validator ports.Validator
	storage   ports.Storage
	logger    *zap.Logger

	sleep   Sleeper
	now     func() time.Time
	tracer  trace.Tracer
	metrics *Metrics
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithSleeper replaces the pacing wait.
func WithSleeper(s Sleeper) Option {
	return func(o *Orchestrator) { o.sleep = s }
}

// WithClock replaces the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithTracer records a batch span with one child span per item.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithMetrics records per-item counters.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(
	resolver ports.Resolver,
	prompts ports.PromptBuilder,
	generator ports.Generator,
	validator ports.Validator,
	storage ports.Storage,
	logger *zap.Logger,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		resolver:  resolver,
		prompts:   prompts,
		generator: generator,
		validator: validator,
		storage:   storage,
		logger:    logger,
		sleep:     sleepContext,
		now:       func() time.Time { return time.Now().UTC() },
		tracer:    noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes the selected catalog items one at a time. Per-item failures
// are recorded to the failure log and never stop the batch; only a bad
// selection or an unusable output directory is returned as an error before
// any item runs. If ctx is cancelled the loop stops between items and the
// partial result is returned with ctx.Err().
func (o *Orchestrator) Run(ctx context.Context, catalog []domain.WorkItem, opts RunOptions) (*domain.BatchResult, error) {
	items, err := SelectItems(catalog, opts.StartID, opts.Count)
	if err != nil {
		return nil, err
	}
	if err := o.storage.Init(ctx); err != nil {
		return nil, domain.ConfigurationError("%w", err)
	}

	runID := uuid.New().String()
	log := o.logger.With(zap.String("run_id", runID))

	ctx, span := o.tracer.Start(ctx, "qabatch.batch", trace.WithAttributes(
		attribute.String("qabatch.run_id", runID),
		attribute.String("qabatch.start_id", string(opts.StartID)),
		attribute.Int("qabatch.selected", len(items)),
	))
	defer span.End()
	result := &domain.BatchResult{
		RunID:       runID,
		Selected:    len(items),
		SuccessPath: o.storage.SuccessPath(),
		FailurePath: o.storage.FailurePath(),
		StartedAt:   o.now(),
	}

	log.Info("starting batch",
		zap.Int("items", len(items)),
		zap.String("start_id", string(opts.StartID)),
		zap.Int("count", opts.Count),
		zap.Duration("delay", opts.Delay))

	for i, item := range items {
		if ctx.Err() != nil {
			result.Interrupted = true
			result.NextID = item.ID
			break
		}

		itemLog := log.With(zap.String("item_id", string(item.ID)))
		itemLog.Info("processing item",
			zap.Int("position", i+1),
			zap.Int("total", len(items)),
			zap.Int("images", len(item.Images)))

		outcome := o.processItem(ctx, runID, item, itemLog)
		if outcome.State == domain.StateFailed && ctx.Err() != nil {
			// Cut short by cancellation; leave the item for the next run.
			result.Interrupted = true
			result.NextID = item.ID
			break
		}

		result.Attempted++
		result.Outcomes = append(result.Outcomes, outcome)
		if outcome.State == domain.StatePersisted {
			result.Persisted++
		} else {
			result.Failed++
		}

		if i < len(items)-1 && opts.Delay > 0 {
			itemLog.Debug("pacing before next item", zap.Duration("delay", opts.Delay))
			if err := o.sleep(ctx, opts.Delay); err != nil {
				result.Interrupted = true
				result.NextID = items[i+1].ID
				break
			}
		}
	}

	result.CompletedAt = o.now()
	span.SetAttributes(
		attribute.Int("qabatch.persisted", result.Persisted),
		attribute.Int("qabatch.failed", result.Failed),
		attribute.Bool("qabatch.interrupted", result.Interrupted),
	)
	if result.Interrupted {
		span.SetStatus(codes.Error, "interrupted")
		span.SetAttributes(attribute.String("qabatch.next_id", string(result.NextID)))
	}
	log.Info("batch finished",
		zap.Int("attempted", result.Attempted),
		zap.Int("persisted", result.Persisted),
		zap.Int("failed", result.Failed),
		zap.Bool("interrupted", result.Interrupted),
		zap.String("success_path", result.SuccessPath),
		zap.String("failure_path", result.FailurePath))

	if result.Interrupted {
		log.Warn("batch interrupted", zap.String("resume_from", string(result.NextID)))
		return result, ctx.Err()
	}
	return result, nil
}

// processItem drives one item from PENDING to PERSISTED or FAILED.
func (o *Orchestrator) processItem(ctx context.Context, runID string, item domain.WorkItem, log *zap.Logger) domain.ItemOutcome {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "qabatch.item",
		trace.WithAttributes(attribute.String("qabatch.item_id", string(item.ID)), attribute.String("qabatch.run_id", runID)))
	defer span.End()

	state := domain.StatePending
	advance := func(next domain.ItemState) {
		log.Debug("state transition", zap.Stringer("from", state), zap.Stringer("to", next))
		span.AddEvent(next.String())
		state = next
	}
	fail := func(defaultKind domain.ErrorKind, err error) domain.ItemOutcome {
		kind := domain.KindOf(err)
		if kind == "" {
			kind = defaultKind
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		if ctx.Err() == nil {
			o.metrics.itemFailed(ctx, kind, time.Since(start).Seconds())
		}
		o.recordFailure(ctx, runID, item.ID, state, kind, err, log)
		advance(domain.StateFailed)
		return domain.ItemOutcome{ItemID: item.ID, State: domain.StateFailed, Kind: kind, Err: err}
	}

	advance(domain.StateResolving)
	locators, err := o.resolver.Resolve(item.ID, item.Images)
	if err != nil {
		return fail(domain.KindResolution, err)
	}

	advance(domain.StatePrompting)
	prompt := o.prompts.Build(locators, item.ID)
	log.Debug("prompt built", zap.Int("prompt_chars", len(prompt)), zap.Int("locators", len(locators)))

	advance(domain.StateGenerating)
	raw, err := o.generator.Generate(ctx, prompt, locators)
	if err != nil {
		return fail(domain.KindGeneration, err)
	}

	advance(domain.StateValidating)
	record, err := o.validator.Validate(raw)
	if err != nil {
		return fail(domain.KindParse, err)
	}
	record.OriginalID = item.ID
	record.OriginalImagePaths = item.Images
	record.ImageURLs = domain.URLs(locators)

	if err := o.storage.AppendSuccess(ctx, record); err != nil {
		return fail(domain.KindPersistence, domain.PersistenceError(err))
	}

	advance(domain.StatePersisted)
	o.metrics.itemPersisted(ctx, time.Since(start).Seconds())
	log.Info("record persisted", zap.Duration("elapsed", time.Since(start)))
	return domain.ItemOutcome{ItemID: item.ID, State: domain.StatePersisted}
}

// recordFailure appends to the failure log unless the run is being cancelled.
func (o *Orchestrator) recordFailure(
	ctx context.Context,
	runID string,
	itemID domain.ItemID,
	stage domain.ItemState,
	kind domain.ErrorKind,
	err error,
	log *zap.Logger,
) {
	if ctx.Err() != nil {
		log.Warn("item interrupted", zap.Stringer("stage", stage), zap.Error(err))
		return
	}

	log.Error("item failed",
		zap.Stringer("stage", stage),
		zap.String("kind", string(kind)),
		zap.Error(err))

	failure := domain.FailureRecord{
		RunID:     runID,
		ItemID:    itemID,
		Kind:      kind,
		Message:   err.Error(),
		Raw:       domain.RawOf(err),
		Timestamp: o.now(),
	}
	if appendErr := o.storage.AppendFailure(ctx, failure); appendErr != nil {
		log.Error("failed to append to failure log", zap.Error(appendErr))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
