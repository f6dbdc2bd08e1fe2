package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Alias1177/PredictorPipeline/config"
	"github.com/Alias1177/PredictorPipeline/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// StageError identifies which invocation failed.
type StageError struct {
	Stage  string
	Ticker string
	Err    error
}

func (e *StageError) Error() string {
	if e.Ticker == "" {
		return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("ticker %s: stage %s: %v", e.Ticker, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Observer is told about every outcome and every finished run.
type Observer interface {
	ObserveOutcome(outcome models.StageOutcome)
	ObserveRun(report *models.RunReport)
}

// Runner executes a pipeline: cleanup once, then every stage of every ticker,
// one invocation at a time.
type Runner struct {
	exec     models.Executor
	cleaner  models.Cleaner
	policy   Policy
	recorder models.RunRecorder
	notifier models.Notifier
	observer Observer
	logger   zerolog.Logger
	now      func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

func WithPolicy(p Policy) Option {
	return func(r *Runner) { r.policy = p }
}

func WithRecorder(rec models.RunRecorder) Option {
	return func(r *Runner) { r.recorder = rec }
}

func WithNotifier(n models.Notifier) Option {
	return func(r *Runner) { r.notifier = n }
}

func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

func WithLogger(l zerolog.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// New creates a runner around an executor and a cleanup step.
func New(exec models.Executor, cleaner models.Cleaner, opts ...Option) *Runner {
	r := &Runner{
		exec:    exec,
		cleaner: cleaner,
		policy:  DefaultPolicy,
		logger:  log.With().Str("component", "runner").Logger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the failure policy in effect.
func (r *Runner) Policy() Policy {
	return r.policy
}

// Run executes the pipeline. The report is returned even when err is non-nil,
// except for an invalid pipeline, which runs nothing.
func (r *Runner) Run(ctx context.Context, p *config.Pipeline) (*models.RunReport, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}
	hash, err := p.Fingerprint()
	if err != nil {
		return nil, err
	}

	report := &models.RunReport{
		Pipeline:   p.Name,
		ConfigHash: hash,
		Policy:     string(r.policy),
		EndDate:    p.EndDate,
		Status:     models.RunStatusRunning,
		StartedAt:  r.now(),
	}
	report.RunID = r.startRun(ctx, report)

	logger := r.logger.With().Str("pipeline", p.Name).Int64("run_id", report.RunID).Logger()
	logger.Info().
		Int("tickers", len(p.Tickers)).
		Str("end_date", p.EndDate).
		Str("policy", string(r.policy)).
		Msg("Starting pipeline run")

	seq := 0
	record := func(o models.StageOutcome) {
		if r.observer != nil {
			r.observer.ObserveOutcome(o)
		}
		r.recordOutcome(ctx, report.RunID, seq, o)
		seq++
	}
	var faults []error

	logger.Info().Msg("Cleaning up previous run artifacts")
	report.Cleanup = r.cleaner.Clean(ctx)
	record(report.Cleanup)
	if report.Cleanup.Failed() {
		fault := stageError(report.Cleanup)
		faults = append(faults, fault)
		logger.Warn().Err(fault).Msg("Cleanup failed")
		if r.policy.halts() {
			return r.finish(ctx, report, faults, false)
		}
	}
	if ctx.Err() != nil {
		return r.finish(ctx, report, faults, true)
	}

	halted := false
	for _, job := range p.Jobs() {
		logger.Info().Str("ticker", job.Symbol).Msg("Processing ticker")

		result := models.TickerResult{Symbol: job.Symbol}
		skip := false
		for _, stage := range p.Stages {
			inv := BuildInvocation(stage, job)
			var o models.StageOutcome
			if skip {
				o = skipped(inv, r.now())
			} else {
				o = r.exec.Execute(ctx, inv)
			}
			result.Outcomes = append(result.Outcomes, o)
			record(o)

			if ctx.Err() != nil {
				report.Tickers = append(report.Tickers, result)
				return r.finish(ctx, report, faults, true)
			}
			if !o.Failed() {
				continue
			}

			fault := stageError(o)
			faults = append(faults, fault)
			logger.Warn().Err(fault).Str("ticker", job.Symbol).Str("stage", stage.Name).Msg("Stage failed")
			if r.policy.halts() {
				halted = true
				skip = true
			} else if r.policy.skipsTicker() {
				skip = true
			}
		}
		report.Tickers = append(report.Tickers, result)
		if halted {
			break
		}
	}

	return r.finish(ctx, report, faults, false)
}

func (r *Runner) finish(ctx context.Context, report *models.RunReport, faults []error, interrupted bool) (*models.RunReport, error) {
	report.FinishedAt = r.now()
	report.FailureCount = len(faults)

	var err error
	switch {
	case interrupted:
		report.Status = models.RunStatusInterrupted
		err = fmt.Errorf("run interrupted: %w", context.Cause(ctx))
	case len(faults) > 0 && r.policy != PolicyIgnore:
		report.Status = models.RunStatusFailed
		err = r.policy.result(faults)
	default:
		report.Status = models.RunStatusCompleted
	}

	// History and notifications still go out after an interrupt.
	bg := context.WithoutCancel(ctx)
	if r.recorder != nil && report.RunID != 0 {
		if recErr := r.recorder.FinishRun(bg, report); recErr != nil {
			r.logger.Error().Err(recErr).Int64("run_id", report.RunID).Msg("Failed to record run result")
		}
	}
	if r.observer != nil {
		r.observer.ObserveRun(report)
	}
	if r.notifier != nil {
		if nErr := r.notifier.NotifyRun(bg, report); nErr != nil {
			r.logger.Warn().Err(nErr).Msg("Failed to send run notification")
		}
	}

	r.logger.Info().
		Str("status", report.Status).
		Int("failures", report.FailureCount).
		Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).
		Msg("Pipeline run finished")
	return report, err
}

func (r *Runner) startRun(ctx context.Context, report *models.RunReport) int64 {
	if r.recorder == nil {
		return 0
	}
	id, err := r.recorder.StartRun(ctx, report)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to record run start, continuing without history")
		return 0
	}
	return id
}

func (r *Runner) recordOutcome(ctx context.Context, runID int64, seq int, o models.StageOutcome) {
	if r.recorder == nil || runID == 0 {
		return
	}
	if err := r.recorder.RecordOutcome(context.WithoutCancel(ctx), runID, seq, o); err != nil {
		r.logger.Error().Err(err).Str("stage", o.Invocation.Stage).Msg("Failed to record stage outcome")
	}
}

func skipped(inv models.Invocation, at time.Time) models.StageOutcome {
	return models.StageOutcome{
		Invocation: inv,
		Status:     models.StatusSkipped,
		ExitCode:   -1,
		StartedAt:  at,
	}
}

func stageError(o models.StageOutcome) error {
	err := o.Err
	if err == nil {
		msg := o.Error
		if msg == "" {
			msg = fmt.Sprintf("exit code %d", o.ExitCode)
		}
		err = errors.New(msg)
	}
	return &StageError{Stage: o.Invocation.Stage, Ticker: o.Invocation.Ticker, Err: err}
}
