package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/manthysbr/inspectd/internal/core/domain"
	"github.com/manthysbr/inspectd/internal/core/ports"
	"golang.org/x/sync/errgroup"
)

const PipelineVersion = "2"

const (
	PhaseExtraction  = "extraction"
	PhaseCondition   = "condition"
	PhaseAggregation = "aggregation"
	PhaseNarrative   = "narrative"
	PhaseValuation   = "valuation"
	PhaseAssembly    = "assembly"
)

// PipelineConfig bounds how long a task and each provider call may run.
type PipelineConfig struct {
	CallTimeout time.Duration
	TaskTimeout time.Duration
}

type phase struct {
	name     string
	progress int
	run      func(context.Context, *runState) error
}

// runState is owned by one task run and never shared.
type runState struct {
	task      domain.Task
	provider  ports.AnalysisProvider
	outcomes  domain.OutcomeSet
	record    domain.NormalizedRecord
	narrative domain.NarrativeOutcome
	valuation domain.ValuationResult
	report    domain.Report
}

// Orchestrator drives one inspection task through the fixed phase sequence
// and owns all of its status transitions.
type Orchestrator struct {
	logger *slog.Logger
	store  ports.TaskStore
	events *EventBus
	engine *ValuationEngine
	cfg    PipelineConfig
	now    func() time.Time

	mu       sync.RWMutex
	provider ports.AnalysisProvider
}

func NewOrchestrator(
	logger *slog.Logger,
	store ports.TaskStore,
	provider ports.AnalysisProvider,
	engine *ValuationEngine,
	events *EventBus,
	cfg PipelineConfig,
) *Orchestrator {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Minute
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Minute
	}
	return &Orchestrator{
		logger:   logger,
		store:    store,
		events:   events,
		engine:   engine,
		cfg:      cfg,
		now:      time.Now,
		provider: provider,
	}
}

// UpdateProvider hot-swaps the analysis provider. Tasks already running
// keep the provider they started with.
func (o *Orchestrator) UpdateProvider(p ports.AnalysisProvider) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.provider = p
	o.logger.Info("analysis provider hot-reloaded")
}

func (o *Orchestrator) currentProvider() ports.AnalysisProvider {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.provider
}

// Ceiling is the wall-clock limit for one task.
func (o *Orchestrator) Ceiling() time.Duration {
	return o.cfg.TaskTimeout
}

// HandleDelivery adapts Process to the scheduler.
func (o *Orchestrator) HandleDelivery(ctx context.Context, d ports.Delivery) error {
	return o.Process(ctx, d.TaskID)
}

// Process runs the pipeline for id. It is safe to call more than once for
// the same id: only a PENDING task is ever claimed. A returned error means
// the delivery should be retried.
func (o *Orchestrator) Process(ctx context.Context, id domain.TaskID) error {
	logger := o.logger.With("task_id", id)

	task, err := o.store.GetTask(ctx, id)
	if errors.Is(err, domain.ErrTaskNotFound) {
		logger.Warn("delivered task does not exist, dropping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load task: %w", err)
	}

	switch task.Status {
	case domain.TaskStatusCompleted, domain.TaskStatusFailed:
		logger.Info("task already terminal, skipping", "status", task.Status)
		return nil
	case domain.TaskStatusProcessing:
		if task.StartedAt != nil && o.now().Sub(*task.StartedAt) > o.cfg.TaskTimeout {
			o.failTask(ctx, id, fmt.Sprintf("processing lease expired: no result within %s", o.cfg.TaskTimeout))
			return nil
		}
		logger.Info("task is being processed elsewhere, skipping")
		return nil
	}

	claimed, err := o.store.ClaimTask(ctx, id)
	if errors.Is(err, domain.ErrTaskNotClaimable) || errors.Is(err, domain.ErrTaskNotFound) {
		logger.Info("task claimed by another worker")
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim task: %w", err)
	}

	logger.Info("processing inspection", "attempt", claimed.Attempts)
	o.events.PublishStatus(id, domain.TaskStatusProcessing, 0, "", "")

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.TaskTimeout)
	defer cancel()

	report, runErr := o.run(runCtx, claimed)

	switch {
	case ctx.Err() != nil:
		// Shutting down; leave the task for recovery rather than failing it.
		logger.Warn("pipeline interrupted by shutdown", "error", ctx.Err())
		return ctx.Err()
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		o.failTask(ctx, id, fmt.Sprintf("inspection exceeded time limit of %s", o.cfg.TaskTimeout))
		return nil
	case runErr != nil:
		o.failTask(ctx, id, runErr.Error())
		return nil
	}

	if err := o.store.SetReport(ctx, id, report); err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			logger.Error("task vanished before report could be stored")
			return nil
		}
		o.failTask(ctx, id, fmt.Sprintf("persist report: %v", err))
		return nil
	}

	o.events.PublishStatus(id, domain.TaskStatusCompleted, 100, PhaseAssembly, "")
	logger.Info("inspection completed",
		"final_price", report.Valuation.Price,
		"degraded", len(report.DegradedKinds),
	)
	return nil
}

func (o *Orchestrator) phases() []phase {
	return []phase{
		{name: PhaseExtraction, progress: 20, run: o.runExtraction},
		{name: PhaseCondition, progress: 40, run: o.runCondition},
		{name: PhaseAggregation, progress: 70, run: o.runAggregation},
		{name: PhaseNarrative, progress: 80, run: o.runNarrative},
		{name: PhaseValuation, progress: 90, run: o.runValuation},
		{name: PhaseAssembly, progress: 95, run: o.runAssembly},
	}
}

// run executes every phase in order. Panics are converted to errors so a
// defect fails the task instead of the worker.
func (o *Orchestrator) run(ctx context.Context, task domain.Task) (report domain.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("pipeline panicked", "task_id", task.ID, "panic", r)
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	st := &runState{
		task:     task,
		provider: o.currentProvider(),
		outcomes: make(domain.OutcomeSet),
	}
	if st.provider == nil {
		return domain.Report{}, errors.New("no analysis provider configured")
	}

	for _, p := range o.phases() {
		if err := ctx.Err(); err != nil {
			return domain.Report{}, err
		}
		if err := o.store.UpdateProgress(ctx, task.ID, p.progress, p.name); err != nil {
			if errors.Is(err, domain.ErrTaskNotFound) || errors.Is(err, domain.ErrInvalidTransition) {
				return domain.Report{}, fmt.Errorf("task no longer processing: %w", err)
			}
			o.logger.Warn("failed to record progress", "task_id", task.ID, "phase", p.name, "error", err)
		}
		o.events.PublishStatus(task.ID, domain.TaskStatusProcessing, p.progress, p.name, "")

		start := o.now()
		if err := p.run(ctx, st); err != nil {
			return domain.Report{}, fmt.Errorf("%s: %w", p.name, err)
		}
		o.logger.Debug("phase finished", "task_id", task.ID, "phase", p.name, "elapsed", o.now().Sub(start))
	}
	return st.report, nil
}

type analysisCall struct {
	kind   domain.AnalysisKind
	images []domain.FileRef
}

func single(ref domain.FileRef) []domain.FileRef {
	if ref == "" {
		return nil
	}
	return []domain.FileRef{ref}
}

func (o *Orchestrator) runExtraction(ctx context.Context, st *runState) error {
	f := st.task.Inputs.Files
	o.fanOut(ctx, st, []analysisCall{
		{kind: domain.KindDeviceInfo, images: single(f.AboutMachine)},
		{kind: domain.KindMachineType, images: single(f.MachineType)},
		{kind: domain.KindProductDate, images: single(f.ProductDate)},
		{kind: domain.KindBattery, images: single(f.BatteryHealth)},
	})
	return nil
}

func (o *Orchestrator) runCondition(ctx context.Context, st *runState) error {
	f := st.task.Inputs.Files
	o.fanOut(ctx, st, []analysisCall{
		{kind: domain.KindAppearance, images: f.Appearance},
		{kind: domain.KindScreen, images: single(f.Screen)},
		{kind: domain.KindCameraLens, images: f.CameraLens},
		{kind: domain.KindFlashlight, images: single(f.Flashlight)},
	})
	return nil
}

func (o *Orchestrator) runAggregation(_ context.Context, st *runState) error {
	st.record = Aggregate(st.task.Inputs, st.outcomes)
	return nil
}

func (o *Orchestrator) runNarrative(ctx context.Context, st *runState) error {
	st.narrative = o.guardedNarrative(ctx, st.provider, RenderDocument(st.record))
	if !st.narrative.Success {
		o.logger.Warn("price narrative degraded", "task_id", st.task.ID, "error", st.narrative.Error)
	}
	return nil
}

func (o *Orchestrator) runValuation(ctx context.Context, st *runState) error {
	st.valuation = o.engine.Value(ctx, valuationIdentity(st.task.Inputs.BasicInfo, st.record), st.record)
	if st.valuation.Error != "" {
		o.logger.Warn("valuation degraded", "task_id", st.task.ID, "error", st.valuation.Error)
	}
	return nil
}

func (o *Orchestrator) runAssembly(_ context.Context, st *runState) error {
	st.report = BuildReport(st.task.Inputs, st.record, st.valuation, st.narrative)
	return nil
}

// valuationIdentity uses the submitted identity, falling back to what was
// read from the screenshots for blank fields.
func valuationIdentity(basic domain.BasicInfo, rec domain.NormalizedRecord) domain.DeviceInfo {
	pick := func(submitted, extracted string) string {
		if known(submitted) {
			return submitted
		}
		return extracted
	}
	return domain.DeviceInfo{
		Brand:   pick(basic.Brand, rec.Identity.Brand),
		Model:   pick(basic.Model, rec.Identity.Model),
		Storage: pick(basic.Storage, rec.Identity.StorageTotal),
	}
}

// fanOut runs calls concurrently; each writes only its own slot.
func (o *Orchestrator) fanOut(ctx context.Context, st *runState, calls []analysisCall) {
	results := make([]domain.AnalysisOutcome, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, c := range calls {
		g.Go(func() error {
			results[i] = o.guardedAnalysis(gctx, st.provider, c)
			return nil
		})
	}
	_ = g.Wait()

	for _, out := range results {
		st.outcomes[out.Kind] = out
		if !out.Success {
			o.logger.Warn("analysis degraded", "task_id", st.task.ID, "kind", out.Kind, "error", out.Error)
		}
	}
}

// guardedAnalysis never blocks longer than CallTimeout and never panics,
// even when the provider ignores its context.
func (o *Orchestrator) guardedAnalysis(ctx context.Context, provider ports.AnalysisProvider, c analysisCall) domain.AnalysisOutcome {
	if len(c.images) == 0 {
		return domain.Failed(c.kind, "no image supplied")
	}

	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	ch := make(chan domain.AnalysisOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- domain.Failed(c.kind, fmt.Sprintf("provider panic: %v", r))
			}
		}()
		if c.kind.IsExtraction() {
			ch <- provider.Extract(callCtx, c.kind, c.images[0])
			return
		}
		ch <- provider.Analyze(callCtx, c.kind, c.images)
	}()

	select {
	case out := <-ch:
		out.Kind = c.kind
		if out.Success && out.Payload == nil {
			return domain.Failed(c.kind, "provider returned no payload")
		}
		if !out.Success && out.Error == "" {
			out.Error = "analysis failed"
		}
		return out
	case <-callCtx.Done():
		return domain.Failed(c.kind, fmt.Sprintf("analysis timed out: %v", callCtx.Err()))
	}
}

func (o *Orchestrator) guardedNarrative(ctx context.Context, provider ports.AnalysisProvider, document string) domain.NarrativeOutcome {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	ch := make(chan domain.NarrativeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- domain.NarrativeOutcome{Error: fmt.Sprintf("provider panic: %v", r)}
			}
		}()
		ch <- provider.SynthesizePriceNarrative(callCtx, document)
	}()

	select {
	case out := <-ch:
		return out
	case <-callCtx.Done():
		return domain.NarrativeOutcome{Error: fmt.Sprintf("narrative timed out: %v", callCtx.Err())}
	}
}

func (o *Orchestrator) failTask(ctx context.Context, id domain.TaskID, msg string) {
	o.logger.Error("inspection failed", "task_id", id, "error", msg)
	if err := o.store.SetStatus(ctx, id, domain.TaskStatusFailed, msg); err != nil {
		o.logger.Error("failed to save task status", "task_id", id, "error", err)
		return
	}
	o.events.PublishStatus(id, domain.TaskStatusFailed, -1, "", msg)
	o.events.PublishLog(id, msg)
}
