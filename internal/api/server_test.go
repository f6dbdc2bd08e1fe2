package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Alias1177/PredictorPipeline/config"
	"github.com/Alias1177/PredictorPipeline/models"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) ListRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	args := m.Called(limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.RunSummary), args.Error(1)
}

func (m *MockStore) GetRun(ctx context.Context, id int64) (*models.RunSummary, []models.InvocationRecord, error) {
	args := m.Called(id)
	var run *models.RunSummary
	if args.Get(0) != nil {
		run = args.Get(0).(*models.RunSummary)
	}
	var recs []models.InvocationRecord
	if args.Get(1) != nil {
		recs = args.Get(1).([]models.InvocationRecord)
	}
	return run, recs, args.Error(2)
}

func do(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	rec := do(t, NewRouter(nil, config.Basic(), false), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestGetPipelineListsPlannedInvocations(t *testing.T) {
	rec := do(t, NewRouter(nil, config.Tuned(), false), "/api/v1/pipeline")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Name        string              `json:"name"`
		Invocations []models.Invocation `json:"invocations"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "tuned", body.Name)
	require.Len(t, body.Invocations, 6)
	assert.Equal(t, []string{"--ticker=BTC", "--best_params=BTC_best_params.json"}, body.Invocations[2].Args)
}

func TestListRuns(t *testing.T) {
	store := new(MockStore)
	started := time.Date(2024, 6, 29, 0, 0, 0, 0, time.UTC)
	store.On("ListRuns", 5).Return([]models.RunSummary{
		{ID: 2, Pipeline: "basic", Status: models.RunStatusCompleted, StartedAt: started},
	}, nil)

	rec := do(t, NewRouter(store, config.Basic(), false), "/api/v1/runs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs []models.RunSummary `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, int64(2), body.Runs[0].ID)
	store.AssertExpectations(t)
}

func TestListRunsCapsLimit(t *testing.T) {
	store := new(MockStore)
	store.On("ListRuns", maxListLimit).Return(nil, nil)

	rec := do(t, NewRouter(store, config.Basic(), false), "/api/v1/runs?limit=100000")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"runs":[]}`, rec.Body.String())
	store.AssertExpectations(t)
}

func TestListRunsRejectsBadLimit(t *testing.T) {
	store := new(MockStore)
	rec := do(t, NewRouter(store, config.Basic(), false), "/api/v1/runs?limit=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	store.AssertNotCalled(t, "ListRuns", mock.Anything)
}

func TestRunsWithoutStore(t *testing.T) {
	rec := do(t, NewRouter(nil, config.Basic(), false), "/api/v1/runs")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestGetRun(t *testing.T) {
	store := new(MockStore)
	store.On("GetRun", int64(3)).Return(&models.RunSummary{ID: 3}, []models.InvocationRecord{
		{RunID: 3, Seq: 0, Stage: models.StageCleanup, Status: models.StatusSucceeded},
	}, nil)
	store.On("GetRun", int64(4)).Return(nil, nil, nil)
	store.On("GetRun", int64(5)).Return(nil, nil, errors.New("connection reset"))

	router := NewRouter(store, config.Basic(), false)

	rec := do(t, router, "/api/v1/runs/3")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"stage":"cleanup"`)

	assert.Equal(t, http.StatusNotFound, do(t, router, "/api/v1/runs/4").Code)
	assert.Equal(t, http.StatusInternalServerError, do(t, router, "/api/v1/runs/5").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, router, "/api/v1/runs/x").Code)
}
