package models

import "context"

// Executor runs one invocation to completion. A failed run is reported
// through the outcome, never by panicking.
type Executor interface {
	Execute(ctx context.Context, inv Invocation) StageOutcome
}

// Cleaner performs the once-per-run cleanup step.
type Cleaner interface {
	Clean(ctx context.Context) StageOutcome
}

// RunRecorder persists run progress. Implementations must tolerate being
// called from a single goroutine only.
type RunRecorder interface {
	StartRun(ctx context.Context, report *RunReport) (int64, error)
	RecordOutcome(ctx context.Context, runID int64, seq int, outcome StageOutcome) error
	FinishRun(ctx context.Context, report *RunReport) error
}

// RunStore is the read side of the run history.
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
	GetRun(ctx context.Context, id int64) (*RunSummary, []InvocationRecord, error)
}

// Notifier announces finished runs.
type Notifier interface {
	NotifyRun(ctx context.Context, report *RunReport) error
}
