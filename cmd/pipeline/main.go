package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/Alias1177/PredictorPipeline/config"
	"github.com/Alias1177/PredictorPipeline/internal/api"
	"github.com/Alias1177/PredictorPipeline/internal/cleanup"
	settings "github.com/Alias1177/PredictorPipeline/internal/config"
	"github.com/Alias1177/PredictorPipeline/internal/database"
	"github.com/Alias1177/PredictorPipeline/internal/metrics"
	"github.com/Alias1177/PredictorPipeline/internal/notify"
	"github.com/Alias1177/PredictorPipeline/internal/platform/process"
	"github.com/Alias1177/PredictorPipeline/internal/runner"
	"github.com/Alias1177/PredictorPipeline/internal/util"
	"github.com/Alias1177/PredictorPipeline/models"
	"github.com/Alias1177/PredictorPipeline/pkg/checksum"
	"github.com/rs/zerolog/log"
)

const (
	exitOK    = 0
	exitRun   = 1
	exitUsage = 2
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUsage)
	}

	cfg, err := settings.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitUsage)
	}
	log.Logger = util.NewLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	var code int
	switch os.Args[1] {
	case "run":
		code = cmdRun(ctx, cfg, os.Args[2:])
	case "list":
		code = cmdList(cfg, os.Args[2:])
	case "clean":
		code = cmdClean(ctx, cfg, os.Args[2:])
	case "history":
		code = cmdHistory(ctx, cfg, os.Args[2:])
	case "serve":
		code = cmdServe(ctx, cfg, os.Args[2:])
	default:
		usage()
		code = exitUsage
	}
	stop()
	os.Exit(code)
}

func usage() {
	fmt.Println("usage:")
	fmt.Println("  pipeline run [--config pipeline.yaml | --preset basic|tuned] [--policy ticker] [--only GLD,BTC] [--dry-run]")
	fmt.Println("  pipeline list [--config pipeline.yaml | --preset basic|tuned]")
	fmt.Println("  pipeline clean [--config pipeline.yaml | --preset basic|tuned] [--dry-run]")
	fmt.Println("  pipeline history [--limit 20] [--run ID]")
	fmt.Println("  pipeline serve [--config pipeline.yaml | --preset basic|tuned] [--port 8080]")
	fmt.Println("")
	fmt.Println("notes:")
	fmt.Println("  - cleanup runs once, then prepare_data, feature_engineering and train_model per ticker")
	fmt.Println("  - policies: ignore, collect, ticker (default), halt")
	fmt.Println("  - settings come from the environment or a .env file")
}

type pipelineFlags struct {
	file   *string
	preset *string
}

func addPipelineFlags(fs *flag.FlagSet, cfg *settings.Config) pipelineFlags {
	return pipelineFlags{
		file:   fs.String("config", cfg.PipelineFile, "Path to a YAML pipeline definition"),
		preset: fs.String("preset", cfg.Preset, "Built-in pipeline when --config is empty: "+strings.Join(config.PresetNames(), ", ")),
	}
}

func (f pipelineFlags) load() (*config.Pipeline, error) {
	if *f.file == "" {
		return config.Preset(*f.preset)
	}
	p, err := config.Load(*f.file)
	if err != nil {
		return nil, err
	}
	if sum, err := checksum.File(*f.file); err == nil {
		log.Debug().Str("file", *f.file).Str("checksum", sum).Msg("Loaded pipeline definition")
	}
	return p, nil
}

func cmdRun(ctx context.Context, cfg *settings.Config, args []string) int {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	pf := addPipelineFlags(fs, cfg)
	policyName := fs.String("policy", cfg.FailurePolicy, "Failure policy: ignore, collect, ticker or halt")
	only := fs.String("only", "", "Comma-separated subset of tickers to run")
	dryRun := fs.Bool("dry-run", false, "Log invocations instead of running them")
	timeout := fs.Duration("timeout", cfg.StageTimeout, "Per-stage timeout (0 = none)")
	passthrough := fs.Bool("passthrough", cfg.PassthroughOut, "Send stage output straight to the terminal")
	_ = fs.Parse(args)

	p, err := pf.load()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load pipeline")
		return exitUsage
	}
	if p, err = p.Only(splitList(*only)); err != nil {
		log.Error().Err(err).Msg("Invalid --only")
		return exitUsage
	}
	policy, err := runner.ParsePolicy(*policyName)
	if err != nil {
		log.Error().Err(err).Msg("Invalid failure policy")
		return exitUsage
	}

	var exec models.Executor
	if *dryRun {
		exec = process.NewDryRun()
	} else {
		exec = process.New(process.Options{
			Dir:         cfg.WorkDir,
			Timeout:     *timeout,
			Passthrough: *passthrough,
		})
	}

	opts := []runner.Option{
		runner.WithPolicy(policy),
		runner.WithObserver(metrics.Observer{}),
	}

	if cfg.MetricsAddr != "" {
		srv := metrics.Serve(cfg.MetricsAddr)
		defer srv.Close()
		log.Info().Str("addr", cfg.MetricsAddr).Msg("Serving metrics")
	}

	if cfg.DB.Enabled() && !*dryRun {
		db, err := openDB(ctx, cfg)
		if err != nil {
			log.Warn().Err(err).Msg("Run history disabled")
		} else {
			defer db.Close()
			opts = append(opts, runner.WithRecorder(db))
		}
	}

	if cfg.Telegram.Enabled() && !*dryRun {
		n, err := notify.NewTelegram(notify.Options{
			BotToken:   cfg.Telegram.BotToken,
			ChatID:     cfg.Telegram.ChatID,
			RatePerSec: cfg.Telegram.RatePerSec,
			OnlyFailed: cfg.Telegram.OnlyFailed,
		})
		if err != nil {
			log.Warn().Err(err).Msg("Telegram notifications disabled")
		} else {
			opts = append(opts, runner.WithNotifier(n))
		}
	}

	r := runner.New(exec, cleanup.FromConfig(p.Cleanup, exec, *dryRun), opts...)
	report, err := r.Run(ctx, p)
	if report != nil {
		printReport(report)
	}
	if err != nil {
		log.Error().Err(err).Msg("Pipeline run failed")
		return exitRun
	}
	return exitOK
}

func cmdList(cfg *settings.Config, args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	pf := addPipelineFlags(fs, cfg)
	_ = fs.Parse(args)

	p, err := pf.load()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load pipeline")
		return exitUsage
	}

	fmt.Printf("Pipeline %s, end date %s\n\n", p.Name, p.EndDate)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TICKER\tSTART\tSOURCE\tPARAMS")
	for _, job := range p.Jobs() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", job.Symbol, job.StartDate, orDash(job.SourceSymbol), orDash(job.ParamsFile))
	}
	w.Flush()

	fmt.Println("\nInvocations:")
	if len(p.Cleanup.Command) > 0 {
		fmt.Printf("  %s\n", strings.Join(p.Cleanup.Command, " "))
	} else {
		fmt.Printf("  rm -rf %s\n", strings.Join(p.Cleanup.Paths, " "))
	}
	for _, inv := range runner.Plan(p) {
		fmt.Printf("  %s\n", strings.Join(inv.Argv(), " "))
	}
	return exitOK
}

func cmdClean(ctx context.Context, cfg *settings.Config, args []string) int {
	fs := flag.NewFlagSet("clean", flag.ExitOnError)
	pf := addPipelineFlags(fs, cfg)
	dryRun := fs.Bool("dry-run", false, "Only report what would be removed")
	_ = fs.Parse(args)

	p, err := pf.load()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load pipeline")
		return exitUsage
	}

	var exec models.Executor = process.New(process.Options{Dir: cfg.WorkDir})
	if *dryRun {
		exec = process.NewDryRun()
	}
	out := cleanup.FromConfig(p.Cleanup, exec, *dryRun).Clean(ctx)
	if out.Failed() {
		return exitRun
	}
	return exitOK
}

func cmdHistory(ctx context.Context, cfg *settings.Config, args []string) int {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Number of runs to list")
	runID := fs.Int64("run", 0, "Show the invocations of one run")
	_ = fs.Parse(args)

	if !cfg.DB.Enabled() {
		log.Error().Msg("DB_HOST is not set, run history is unavailable")
		return exitUsage
	}
	db, err := openDB(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize database")
		return exitRun
	}
	defer db.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	defer w.Flush()

	if *runID != 0 {
		run, records, err := db.GetRun(ctx, *runID)
		if err != nil {
			log.Error().Err(err).Msg("Failed to load run")
			return exitRun
		}
		if run == nil {
			log.Error().Int64("run_id", *runID).Msg("Run not found")
			return exitRun
		}
		fmt.Fprintf(w, "Run #%d %s %s (policy %s, end date %s)\n\n", run.ID, run.Pipeline, run.Status, run.Policy, run.EndDate)
		fmt.Fprintln(w, "SEQ\tSTAGE\tTICKER\tSTATUS\tEXIT\tDURATION\tCOMMAND")
		for _, rec := range records {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\t%s\n", rec.Seq, rec.Stage, orDash(rec.Ticker), rec.Status,
				rec.ExitCode, time.Duration(rec.DurationMS)*time.Millisecond, rec.Argv)
		}
		return exitOK
	}

	runs, err := db.ListRuns(ctx, *limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list runs")
		return exitRun
	}
	fmt.Fprintln(w, "ID\tPIPELINE\tSTATUS\tPOLICY\tTICKERS\tFAILURES\tSTARTED")
	for _, r := range runs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%s\n", r.ID, r.Pipeline, r.Status, r.Policy,
			r.TickerCount, r.FailureCount, r.StartedAt.Format(time.RFC3339))
	}
	return exitOK
}

func cmdServe(ctx context.Context, cfg *settings.Config, args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	pf := addPipelineFlags(fs, cfg)
	port := fs.String("port", cfg.APIPort, "Port to listen on")
	_ = fs.Parse(args)

	p, err := pf.load()
	if err != nil {
		log.Error().Err(err).Msg("Failed to load pipeline")
		return exitUsage
	}

	var store models.RunStore
	if cfg.DB.Enabled() {
		db, err := openDB(ctx, cfg)
		if err != nil {
			log.Warn().Err(err).Msg("Run history disabled")
		} else {
			defer db.Close()
			store = db
		}
	}

	srv := &http.Server{
		Addr:              ":" + *port,
		Handler:           api.NewRouter(store, p, cfg.APIEnv == "production"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Starting API server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Failed to start server")
			return exitRun
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown failed")
			return exitRun
		}
		log.Info().Msg("API server stopped")
	}
	return exitOK
}

func openDB(ctx context.Context, cfg *settings.Config) (*database.DB, error) {
	return database.New(ctx, database.ConnectionParams{
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		DBName:   cfg.DB.Name,
		SSLMode:  cfg.DB.SSLMode,
	})
}

func printReport(report *models.RunReport) {
	fmt.Printf("\n===== RUN SUMMARY (%s) =====\n", report.Status)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TICKER\tSTAGE\tSTATUS\tEXIT\tDURATION")
	for _, o := range report.Outcomes() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n", orDash(o.Invocation.Ticker), o.Invocation.Stage, o.Status,
			o.ExitCode, o.Duration.Round(time.Millisecond))
	}
	w.Flush()
	fmt.Printf("Failures: %d\n", report.FailureCount)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, strings.ToUpper(p))
		}
	}
	return out
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
