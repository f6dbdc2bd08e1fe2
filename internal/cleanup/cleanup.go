// Package cleanup clears artifacts left by a previous pipeline run.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/Alias1177/PredictorPipeline/config"
	"github.com/Alias1177/PredictorPipeline/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Command runs an external cleanup program through an executor.
type Command struct {
	Exec    models.Executor
	Command []string
}

func (c *Command) Clean(ctx context.Context) models.StageOutcome {
	return c.Exec.Execute(ctx, models.Invocation{
		Stage:   models.StageCleanup,
		Command: append([]string(nil), c.Command...),
	})
}

// Paths removes files and directories. Paths that do not exist are fine.
type Paths struct {
	Paths  []string
	DryRun bool
	logger zerolog.Logger
}

func NewPaths(paths []string, dryRun bool) *Paths {
	return &Paths{
		Paths:  paths,
		DryRun: dryRun,
		logger: log.With().Str("component", "cleanup").Logger(),
	}
}

func (p *Paths) Clean(ctx context.Context) models.StageOutcome {
	out := models.StageOutcome{
		Invocation: models.Invocation{
			Stage:   models.StageCleanup,
			Command: []string{"rm", "-rf"},
			Args:    append([]string(nil), p.Paths...),
		},
		StartedAt: time.Now(),
	}

	var errs []error
	for _, path := range p.Paths {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if p.DryRun {
			p.logger.Info().Str("path", path).Msg("Would remove")
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		p.logger.Debug().Str("path", path).Msg("Removed")
	}
	out.Duration = time.Since(out.StartedAt)

	if err := errors.Join(errs...); err != nil {
		out.Status = models.StatusFailed
		out.ExitCode = 1
		out.Err = err
		out.Error = err.Error()
		p.logger.Error().Err(err).Msg("An error occurred while cleaning the data")
		return out
	}
	out.Status = models.StatusSucceeded
	p.logger.Info().Int("paths", len(p.Paths)).Msg("Data cleaned successfully")
	return out
}

// FromConfig picks the cleaner a pipeline asks for. A command wins over paths.
func FromConfig(c config.Cleanup, exec models.Executor, dryRun bool) models.Cleaner {
	if len(c.Command) > 0 {
		return &Command{Exec: exec, Command: c.Command}
	}
	return NewPaths(c.Paths, dryRun)
}
