package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/Alias1177/PredictorPipeline/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const waitDelay = 5 * time.Second

// ExitError is returned in a StageOutcome when the program exits nonzero.
type ExitError struct {
	Code int
}

// Error implements the error interface
func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Options holds options for creating a new Executor
type Options struct {
	Dir         string        // working directory for every program; empty means ours
	Env         []string      // extra KEY=VALUE pairs on top of os.Environ()
	Timeout     time.Duration // per invocation; 0 disables
	Passthrough bool          // wire child output straight to our stdout/stderr
}

// Executor runs invocations as child processes, one at a time.
type Executor struct {
	opts   Options
	logger zerolog.Logger
	stdout io.Writer
	stderr io.Writer
}

// New creates an executor. Child output is logged line by line unless
// Passthrough is set.
func New(opts Options) *Executor {
	return &Executor{
		opts:   opts,
		logger: log.With().Str("component", "executor").Logger(),
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

// Execute runs inv and waits for it to exit.
func (e *Executor) Execute(ctx context.Context, inv models.Invocation) models.StageOutcome {
	out := models.StageOutcome{Invocation: inv, StartedAt: time.Now()}
	argv := inv.Argv()
	if len(argv) == 0 {
		return fail(out, -1, fmt.Errorf("stage %s has an empty command", inv.Stage))
	}

	if e.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.Timeout)
		defer cancel()
	}

	logger := e.logger.With().Str("stage", inv.Stage).Str("ticker", inv.Ticker).Logger()
	logger.Debug().Strs("argv", argv).Msg("Starting stage")

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = e.opts.Dir
	cmd.Env = append(os.Environ(), e.opts.Env...)
	// Grandchildren holding the output pipes must not keep us waiting forever.
	cmd.WaitDelay = waitDelay

	var stdoutLog, stderrLog *lineLogger
	if e.opts.Passthrough {
		cmd.Stdout = e.stdout
		cmd.Stderr = e.stderr
	} else {
		stdoutLog = newLineLogger(logger, "stdout")
		stderrLog = newLineLogger(logger, "stderr")
		cmd.Stdout = stdoutLog
		cmd.Stderr = stderrLog
	}

	err := cmd.Run()
	if stdoutLog != nil {
		stdoutLog.Flush()
		stderrLog.Flush()
	}
	out.Duration = time.Since(out.StartedAt)

	if err == nil {
		out.Status = models.StatusSucceeded
		logger.Info().Dur("duration", out.Duration).Msg("Stage executed successfully")
		return out
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		out = fail(out, exitCode(err), fmt.Errorf("timed out after %s: %w", e.opts.Timeout, ctx.Err()))
	} else if ctx.Err() != nil {
		out = fail(out, exitCode(err), fmt.Errorf("cancelled: %w", ctx.Err()))
	} else {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out = fail(out, exitErr.ExitCode(), &ExitError{Code: exitErr.ExitCode()})
		} else {
			out = fail(out, -1, fmt.Errorf("start %s: %w", argv[0], err))
		}
	}
	logger.Error().Err(out.Err).Int("exit_code", out.ExitCode).Msg("An error occurred while executing stage")
	return out
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

func fail(out models.StageOutcome, code int, err error) models.StageOutcome {
	out.Status = models.StatusFailed
	out.ExitCode = code
	out.Err = err
	out.Error = err.Error()
	return out
}
