package process

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Alias1177/PredictorPipeline/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DryRun logs invocations instead of running them. Every invocation succeeds.
type DryRun struct {
	mu     sync.Mutex
	calls  []models.Invocation
	logger zerolog.Logger
}

func NewDryRun() *DryRun {
	return &DryRun{logger: log.With().Str("component", "dry_run").Logger()}
}

func (d *DryRun) Execute(_ context.Context, inv models.Invocation) models.StageOutcome {
	d.mu.Lock()
	d.calls = append(d.calls, inv)
	d.mu.Unlock()

	d.logger.Info().Str("stage", inv.Stage).Str("ticker", inv.Ticker).
		Msg(strings.Join(inv.Argv(), " "))
	return models.StageOutcome{
		Invocation: inv,
		Status:     models.StatusSucceeded,
		StartedAt:  time.Now(),
	}
}

// Calls returns a copy of every invocation seen so far.
func (d *DryRun) Calls() []models.Invocation {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]models.Invocation(nil), d.calls...)
}
