package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Alias1177/PredictorPipeline/config"
	"github.com/Alias1177/PredictorPipeline/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// recorder shares one ordered log between the fake cleaner and executor.
type recorder struct {
	calls []models.Invocation
	fail  map[string]bool // "stage" or "stage/ticker"
	onRun func(inv models.Invocation)
}

func newRecorder(failing ...string) *recorder {
	r := &recorder{fail: map[string]bool{}}
	for _, f := range failing {
		r.fail[f] = true
	}
	return r
}

func (r *recorder) Execute(_ context.Context, inv models.Invocation) models.StageOutcome {
	r.calls = append(r.calls, inv)
	if r.onRun != nil {
		r.onRun(inv)
	}
	if r.fail[inv.Stage] || r.fail[inv.Stage+"/"+inv.Ticker] {
		return models.StageOutcome{Invocation: inv, Status: models.StatusFailed, ExitCode: 1, Error: "exit status 1"}
	}
	return models.StageOutcome{Invocation: inv, Status: models.StatusSucceeded}
}

func (r *recorder) Clean(ctx context.Context) models.StageOutcome {
	return r.Execute(ctx, models.Invocation{Stage: models.StageCleanup, Command: []string{"clean"}})
}

func (r *recorder) stages() []string {
	var out []string
	for _, c := range r.calls {
		if c.Ticker == "" {
			out = append(out, c.Stage)
			continue
		}
		out = append(out, c.Ticker+":"+c.Stage)
	}
	return out
}

func newTestRunner(rec *recorder, opts ...Option) *Runner {
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	return New(rec, rec, opts...)
}

func TestScenarioA_NoParamsTemplate(t *testing.T) {
	rec := newRecorder()
	report, err := newTestRunner(rec).Run(context.Background(), config.Basic())
	require.NoError(t, err)

	assert.Equal(t, []string{
		"cleanup",
		"BTC:prepare_data", "BTC:feature_engineering", "BTC:train_model",
		"GLD:prepare_data", "GLD:feature_engineering", "GLD:train_model",
	}, rec.stages())

	assert.Equal(t, []string{"--ticker=BTC", "--start_date=2010-01-01", "--end_date=2024-06-29"}, rec.calls[1].Args)
	assert.Equal(t, []string{"--ticker=BTC"}, rec.calls[2].Args)
	assert.Equal(t, []string{"--ticker=BTC"}, rec.calls[3].Args)
	assert.Equal(t, []string{"--ticker=GLD", "--start_date=2000-01-01", "--end_date=2024-06-29"}, rec.calls[4].Args)
	assert.Equal(t, []string{"--ticker=GLD"}, rec.calls[6].Args)

	assert.Equal(t, models.RunStatusCompleted, report.Status)
	assert.Zero(t, report.FailureCount)
	assert.Len(t, report.Tickers, 2)
}

func TestScenarioB_ParamsTemplate(t *testing.T) {
	rec := newRecorder()
	_, err := newTestRunner(rec).Run(context.Background(), config.Tuned())
	require.NoError(t, err)

	trains := map[string][]string{}
	for _, c := range rec.calls {
		if c.Stage == models.StageTrainModel {
			trains[c.Ticker] = c.Args
		}
	}
	assert.Equal(t, map[string][]string{
		"BTC": {"--ticker=BTC", "--best_params=BTC_best_params.json"},
		"GLD": {"--ticker=GLD", "--best_params=GLD_best_params.json"},
	}, trains)
	assert.Equal(t, []string{"--ticker=BTC", "--start_date=2015-01-01", "--end_date=2024-06-29"}, rec.calls[1].Args)
}

func TestScenarioC_CleanupFailureDoesNotStopRun(t *testing.T) {
	for _, policy := range []Policy{PolicyIgnore, PolicyCollect, PolicyTicker} {
		t.Run(string(policy), func(t *testing.T) {
			rec := newRecorder(models.StageCleanup)
			report, err := newTestRunner(rec, WithPolicy(policy)).Run(context.Background(), config.Basic())

			assert.Len(t, rec.calls, 7)
			assert.True(t, report.Cleanup.Failed())
			assert.Equal(t, 1, report.FailureCount)
			if policy == PolicyIgnore {
				assert.NoError(t, err)
			} else {
				var stageErr *StageError
				require.ErrorAs(t, err, &stageErr)
				assert.Equal(t, models.StageCleanup, stageErr.Stage)
			}
		})
	}
}

func TestCleanupFailureHaltsUnderHaltPolicy(t *testing.T) {
	rec := newRecorder(models.StageCleanup)
	report, err := newTestRunner(rec, WithPolicy(PolicyHalt)).Run(context.Background(), config.Basic())

	require.Error(t, err)
	assert.Equal(t, []string{"cleanup"}, rec.stages())
	assert.Equal(t, models.RunStatusFailed, report.Status)
	assert.Empty(t, report.Tickers)
}

func TestCleanupRunsOnceBeforeAnyStage(t *testing.T) {
	p := config.Tuned()
	p.Tickers["SLV"] = config.Ticker{StartDate: "2006-05-01"}
	p.Tickers["ETH"] = config.Ticker{StartDate: "2017-11-09"}

	rec := newRecorder()
	_, err := newTestRunner(rec).Run(context.Background(), p)
	require.NoError(t, err)

	cleanups := 0
	for i, c := range rec.calls {
		if c.Stage == models.StageCleanup {
			cleanups++
			assert.Zero(t, i, "cleanup must be the first invocation")
		}
	}
	assert.Equal(t, 1, cleanups)
	assert.Len(t, rec.calls, 1+4*3)
}

func TestStagesRunInOrderPerTicker(t *testing.T) {
	rec := newRecorder()
	_, err := newTestRunner(rec).Run(context.Background(), config.Basic())
	require.NoError(t, err)

	position := map[string]int{}
	for i, s := range rec.stages() {
		position[s] = i
	}
	for _, ticker := range []string{"BTC", "GLD"} {
		assert.Less(t, position[ticker+":prepare_data"], position[ticker+":feature_engineering"])
		assert.Less(t, position[ticker+":feature_engineering"], position[ticker+":train_model"])
	}
	// One ticker finishes before the next starts.
	assert.Less(t, position["BTC:train_model"], position["GLD:prepare_data"])
}

func TestRemovingTickerOnlyChangesPerTickerInvocations(t *testing.T) {
	full := newRecorder()
	_, err := newTestRunner(full).Run(context.Background(), config.Basic())
	require.NoError(t, err)

	p, err := config.Basic().Only([]string{"GLD"})
	require.NoError(t, err)
	partial := newRecorder()
	_, err = newTestRunner(partial).Run(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"cleanup", "GLD:prepare_data", "GLD:feature_engineering", "GLD:train_model",
	}, partial.stages())
	assert.Equal(t, full.calls[0], partial.calls[0])
	assert.Equal(t, full.calls[4:], partial.calls[1:])
}

func TestPolicyIgnoreRunsEverything(t *testing.T) {
	rec := newRecorder("prepare_data/BTC")
	report, err := newTestRunner(rec, WithPolicy(PolicyIgnore)).Run(context.Background(), config.Basic())

	require.NoError(t, err)
	assert.Len(t, rec.calls, 7)
	assert.Equal(t, models.RunStatusCompleted, report.Status)
	assert.Equal(t, 1, report.FailureCount)
	assert.True(t, report.Tickers[0].Failed())
}

func TestPolicyCollectJoinsEveryFailure(t *testing.T) {
	rec := newRecorder("prepare_data/BTC", "train_model/GLD")
	report, err := newTestRunner(rec, WithPolicy(PolicyCollect)).Run(context.Background(), config.Basic())

	require.Error(t, err)
	assert.Len(t, rec.calls, 7)
	assert.Equal(t, 2, report.FailureCount)
	assert.Equal(t, models.RunStatusFailed, report.Status)
	assert.Contains(t, err.Error(), "ticker BTC: stage prepare_data")
	assert.Contains(t, err.Error(), "ticker GLD: stage train_model")
}

func TestPolicyTickerSkipsRestOfFailingTicker(t *testing.T) {
	rec := newRecorder("prepare_data/BTC")
	report, err := newTestRunner(rec, WithPolicy(PolicyTicker)).Run(context.Background(), config.Basic())

	require.Error(t, err)
	assert.Equal(t, []string{
		"cleanup", "BTC:prepare_data",
		"GLD:prepare_data", "GLD:feature_engineering", "GLD:train_model",
	}, rec.stages())

	btc := report.Tickers[0]
	require.Len(t, btc.Outcomes, 3)
	assert.Equal(t, models.StatusFailed, btc.Outcomes[0].Status)
	assert.Equal(t, models.StatusSkipped, btc.Outcomes[1].Status)
	assert.Equal(t, models.StatusSkipped, btc.Outcomes[2].Status)
	assert.False(t, report.Tickers[1].Failed())
}

func TestPolicyHaltStopsWholeRun(t *testing.T) {
	rec := newRecorder("feature_engineering/BTC")
	report, err := newTestRunner(rec, WithPolicy(PolicyHalt)).Run(context.Background(), config.Basic())

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, "BTC", stageErr.Ticker)
	assert.Equal(t, models.StageFeatureEngineering, stageErr.Stage)

	assert.Equal(t, []string{"cleanup", "BTC:prepare_data", "BTC:feature_engineering"}, rec.stages())
	require.Len(t, report.Tickers, 1)
	assert.Equal(t, models.StatusSkipped, report.Tickers[0].Outcomes[2].Status)
}

func TestInvalidPipelineRunsNothing(t *testing.T) {
	p := config.Basic()
	p.Tickers = map[string]config.Ticker{}

	rec := newRecorder()
	report, err := newTestRunner(rec).Run(context.Background(), p)

	require.ErrorIs(t, err, config.ErrNoTickers)
	assert.Nil(t, report)
	assert.Empty(t, rec.calls)
}

func TestCancellationStopsAtCurrentCommand(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := newRecorder()
	rec.onRun = func(inv models.Invocation) {
		if inv.Ticker == "BTC" && inv.Stage == models.StageFeatureEngineering {
			cancel()
		}
	}
	report, err := newTestRunner(rec).Run(ctx, config.Basic())

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, models.RunStatusInterrupted, report.Status)
	assert.Equal(t, []string{"cleanup", "BTC:prepare_data", "BTC:feature_engineering"}, rec.stages())
}

type MockRecorder struct {
	mock.Mock
}

func (m *MockRecorder) StartRun(ctx context.Context, report *models.RunReport) (int64, error) {
	args := m.Called(report.Pipeline)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRecorder) RecordOutcome(ctx context.Context, runID int64, seq int, o models.StageOutcome) error {
	args := m.Called(runID, seq, o.Invocation.Stage)
	return args.Error(0)
}

func (m *MockRecorder) FinishRun(ctx context.Context, report *models.RunReport) error {
	args := m.Called(report.RunID, report.Status)
	return args.Error(0)
}

func TestRecorderSeesEveryOutcomeInOrder(t *testing.T) {
	store := new(MockRecorder)
	store.On("StartRun", "basic").Return(int64(11), nil)
	expected := []string{
		models.StageCleanup,
		models.StagePrepareData, models.StageFeatureEngineering, models.StageTrainModel,
		models.StagePrepareData, models.StageFeatureEngineering, models.StageTrainModel,
	}
	for seq, stage := range expected {
		store.On("RecordOutcome", int64(11), seq, stage).Return(nil).Once()
	}
	store.On("FinishRun", int64(11), models.RunStatusCompleted).Return(nil).Once()

	report, err := newTestRunner(newRecorder(), WithRecorder(store)).Run(context.Background(), config.Basic())
	require.NoError(t, err)
	assert.Equal(t, int64(11), report.RunID)
	store.AssertExpectations(t)
}

func TestRecorderFailureDoesNotFailRun(t *testing.T) {
	store := new(MockRecorder)
	store.On("StartRun", "basic").Return(int64(0), errors.New("db down"))

	rec := newRecorder()
	report, err := newTestRunner(rec, WithRecorder(store)).Run(context.Background(), config.Basic())
	require.NoError(t, err)
	assert.Zero(t, report.RunID)
	assert.Len(t, rec.calls, 7)
	store.AssertNotCalled(t, "RecordOutcome", mock.Anything, mock.Anything, mock.Anything)
}

type notifierFunc func(ctx context.Context, report *models.RunReport) error

func (f notifierFunc) NotifyRun(ctx context.Context, report *models.RunReport) error {
	return f(ctx, report)
}

func TestNotifierReceivesFinalReport(t *testing.T) {
	var got *models.RunReport
	n := notifierFunc(func(_ context.Context, r *models.RunReport) error {
		got = r
		return errors.New("telegram unavailable")
	})
	clock := time.Date(2024, 6, 29, 12, 0, 0, 0, time.UTC)

	report, err := newTestRunner(newRecorder(), WithNotifier(n), WithClock(func() time.Time { return clock })).
		Run(context.Background(), config.Basic())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Same(t, report, got)
	assert.Equal(t, clock, got.FinishedAt)
	assert.NotEmpty(t, got.ConfigHash)
}

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    Policy
		wantErr bool
	}{
		{"", PolicyTicker, false},
		{"ignore", PolicyIgnore, false},
		{" Collect ", PolicyCollect, false},
		{"HALT", PolicyHalt, false},
		{"retry", "", true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
