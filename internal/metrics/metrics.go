package metrics

import (
	"net/http"

	"github.com/Alias1177/PredictorPipeline/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StageInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pipeline_stage_invocations_total", Help: "Stage invocations by outcome"},
		[]string{"stage", "status"},
	)
	StageDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Wall time of executed stages",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
		[]string{"stage"},
	)
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pipeline_runs_total", Help: "Finished pipeline runs by status"},
		[]string{"pipeline", "status"},
	)
	TickersProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "pipeline_tickers_processed_total", Help: "Tickers whose stages were attempted"},
		[]string{"ticker", "result"},
	)
)

func init() {
	prometheus.MustRegister(StageInvocationsTotal, StageDurationSeconds, RunsTotal, TickersProcessedTotal)
}

// Observer feeds runner events into the collectors above.
type Observer struct{}

func (Observer) ObserveOutcome(o models.StageOutcome) {
	StageInvocationsTotal.WithLabelValues(o.Invocation.Stage, o.Status).Inc()
	if o.Status != models.StatusSkipped {
		StageDurationSeconds.WithLabelValues(o.Invocation.Stage).Observe(o.Duration.Seconds())
	}
}

func (Observer) ObserveRun(report *models.RunReport) {
	RunsTotal.WithLabelValues(report.Pipeline, report.Status).Inc()
	for _, t := range report.Tickers {
		result := "ok"
		if t.Failed() {
			result = "failed"
		}
		TickersProcessedTotal.WithLabelValues(t.Symbol, result).Inc()
	}
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
