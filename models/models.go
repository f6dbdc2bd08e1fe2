package models

import (
	"time"
)

// Stage names used by the default pipeline definitions.
const (
	StageCleanup            = "cleanup"
	StagePrepareData        = "prepare_data"
	StageFeatureEngineering = "feature_engineering"
	StageTrainModel         = "train_model"
	StagePredict            = "predict"
)

// Flag names a stage may ask for. Each is rendered as --name=value.
const (
	FlagTicker         = "ticker"
	FlagStartDate      = "start_date"
	FlagEndDate        = "end_date"
	FlagBestParams     = "best_params"
	FlagYFinanceTicker = "yfinance_ticker"
)

// Invocation statuses
const (
	StatusSucceeded = "SUCCEEDED"
	StatusFailed    = "FAILED"
	StatusSkipped   = "SKIPPED"
)

// Run statuses
const (
	RunStatusRunning     = "RUNNING"
	RunStatusCompleted   = "COMPLETED"
	RunStatusFailed      = "FAILED"
	RunStatusInterrupted = "INTERRUPTED"
)

// TickerJob is everything a stage can be told about one ticker.
type TickerJob struct {
	Symbol       string `json:"symbol"`
	SourceSymbol string `json:"source_symbol,omitempty"` // vendor symbol, e.g. BTC-USD
	StartDate    string `json:"start_date"`
	EndDate      string `json:"end_date"`
	ParamsFile   string `json:"params_file,omitempty"`
}

// Invocation is a single synchronous call of an external program.
type Invocation struct {
	Stage   string   `json:"stage"`
	Ticker  string   `json:"ticker,omitempty"` // empty for cleanup
	Command []string `json:"command"`
	Args    []string `json:"args"`
}

// Argv returns the full argument vector, program first.
func (i Invocation) Argv() []string {
	argv := make([]string, 0, len(i.Command)+len(i.Args))
	argv = append(argv, i.Command...)
	return append(argv, i.Args...)
}

// StageOutcome records what happened to one invocation.
type StageOutcome struct {
	Invocation Invocation    `json:"invocation"`
	Status     string        `json:"status"`
	ExitCode   int           `json:"exit_code"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Err        error         `json:"-"`
}

// Failed reports whether the invocation ran and did not succeed.
func (o StageOutcome) Failed() bool {
	return o.Status == StatusFailed
}

// TickerResult groups the outcomes of one ticker's stages.
type TickerResult struct {
	Symbol   string         `json:"symbol"`
	Outcomes []StageOutcome `json:"outcomes"`
}

// Failed reports whether any stage of the ticker failed.
func (t TickerResult) Failed() bool {
	for _, o := range t.Outcomes {
		if o.Failed() {
			return true
		}
	}
	return false
}

// RunReport is the result of one pipeline run.
type RunReport struct {
	RunID        int64          `json:"run_id,omitempty"`
	Pipeline     string         `json:"pipeline"`
	ConfigHash   string         `json:"config_hash"`
	Policy       string         `json:"policy"`
	EndDate      string         `json:"end_date"`
	Status       string         `json:"status"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
	Cleanup      StageOutcome   `json:"cleanup"`
	Tickers      []TickerResult `json:"tickers"`
	FailureCount int            `json:"failure_count"`
}

// Outcomes returns cleanup followed by every stage outcome in execution order.
func (r *RunReport) Outcomes() []StageOutcome {
	out := []StageOutcome{r.Cleanup}
	for _, t := range r.Tickers {
		out = append(out, t.Outcomes...)
	}
	return out
}

// RunSummary is the stored form of a run, as listed by the history store.
type RunSummary struct {
	ID           int64      `json:"id"`
	Pipeline     string     `json:"pipeline"`
	ConfigHash   string     `json:"config_hash"`
	Policy       string     `json:"policy"`
	EndDate      string     `json:"end_date"`
	Status       string     `json:"status"`
	TickerCount  int        `json:"ticker_count"`
	FailureCount int        `json:"failure_count"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// InvocationRecord is a stored stage invocation.
type InvocationRecord struct {
	ID         int64     `json:"id"`
	RunID      int64     `json:"run_id"`
	Seq        int       `json:"seq"`
	Stage      string    `json:"stage"`
	Ticker     string    `json:"ticker,omitempty"`
	Argv       string    `json:"argv"`
	Status     string    `json:"status"`
	ExitCode   int       `json:"exit_code"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
}
