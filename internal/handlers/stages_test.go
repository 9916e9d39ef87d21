package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"dealflow/db"
	"dealflow/internal/handlers/testutils"
	"dealflow/models"
	"dealflow/pkg/apperr"
)

func TestAdvanceStageHandler(t *testing.T) {
	stage := &db.ProviderStage{ID: 1, DealID: 1, RoleType: models.PartyValuer, Stage: "instructed"}
	store := &MockStorage{
		GetStageFunc: func(ctx context.Context, id int) (*db.ProviderStage, error) {
			return stage, nil
		},
		AdvanceStageFunc: func(ctx context.Context, id int, expected, next string) (bool, error) {
			require.Equal(t, "instructed", expected)
			require.Equal(t, "site_visit", next)
			stage = &db.ProviderStage{ID: 1, DealID: 1, RoleType: models.PartyValuer, Stage: next}
			return true, nil
		},
	}
	h := newTestHandler(store)

	req := httptest.NewRequest(http.MethodPost, "/api/provider-stages/1/advance_stage", nil)
	req.Header.Set("X-Actor-ID", "1")
	req = testutils.WithChiURLParams(req, map[string]string{"stageId": "1"})
	w := httptest.NewRecorder()
	h.AdvanceStageHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"advanced":true`)
	require.Contains(t, w.Body.String(), "site_visit")
}

func TestAdvanceStageBlockedByMandatoryTasks(t *testing.T) {
	store := &MockStorage{
		AdvanceStageFunc: func(ctx context.Context, id int, expected, next string) (bool, error) {
			return false, nil
		},
		MandatoryTaskProgressFunc: func(ctx context.Context, stageID int, stage string) (int, int, error) {
			require.Equal(t, "instructed", stage)
			return 3, 2, nil
		},
	}
	h := newTestHandler(store)

	req := httptest.NewRequest(http.MethodPost, "/api/provider-stages/1/advance_stage", nil)
	req.Header.Set("X-Actor-ID", "1")
	req = testutils.WithChiURLParams(req, map[string]string{"stageId": "1"})
	w := httptest.NewRecorder()
	h.AdvanceStageHandler(w, req)

	// not-ready is a 200 outcome, safe to retry
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"advanced":false`)
	require.Contains(t, w.Body.String(), "mandatory tasks incomplete")
}

func TestAdvanceStageFinalStage(t *testing.T) {
	store := &MockStorage{
		GetStageFunc: func(ctx context.Context, id int) (*db.ProviderStage, error) {
			return &db.ProviderStage{ID: id, DealID: 1, RoleType: models.PartyValuer, Stage: "delivered"}, nil
		},
	}
	h := newTestHandler(store)

	req := httptest.NewRequest(http.MethodPost, "/api/provider-stages/1/advance_stage", nil)
	req.Header.Set("X-Actor-ID", "1")
	req = testutils.WithChiURLParams(req, map[string]string{"stageId": "1"})
	w := httptest.NewRecorder()
	h.AdvanceStageHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"advanced":false`)
	require.Contains(t, w.Body.String(), "final")
}

func TestAdvanceStageLostRace(t *testing.T) {
	calls := 0
	store := &MockStorage{
		GetStageFunc: func(ctx context.Context, id int) (*db.ProviderStage, error) {
			calls++
			if calls == 1 {
				return &db.ProviderStage{ID: id, DealID: 1, RoleType: models.PartyValuer, Stage: "instructed"}, nil
			}
			return &db.ProviderStage{ID: id, DealID: 1, RoleType: models.PartyValuer, Stage: "site_visit"}, nil
		},
		AdvanceStageFunc: func(ctx context.Context, id int, expected, next string) (bool, error) {
			return false, nil
		},
	}
	h := newTestHandler(store)

	req := httptest.NewRequest(http.MethodPost, "/api/provider-stages/1/advance_stage", nil)
	req.Header.Set("X-Actor-ID", "1")
	req = testutils.WithChiURLParams(req, map[string]string{"stageId": "1"})
	w := httptest.NewRecorder()
	h.AdvanceStageHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"advanced":false`)
	require.Contains(t, w.Body.String(), "already advanced")
}

// Advancing moves on only when the current stage's own checklist is defined
// and done. A second advance with no new completions must leave the stage
// exactly where the first one put it.
func TestAdvanceStageRepeatWithoutNewTasks(t *testing.T) {
	stage := &db.ProviderStage{ID: 1, DealID: 1, RoleType: models.PartyValuer, Stage: "instructed"}
	mandatory := map[string][2]int{"instructed": {2, 0}} // named stage -> {total, incomplete}
	store := &MockStorage{
		GetStageFunc: func(ctx context.Context, id int) (*db.ProviderStage, error) {
			snapshot := *stage
			return &snapshot, nil
		},
		AdvanceStageFunc: func(ctx context.Context, id int, expected, next string) (bool, error) {
			if stage.Stage != expected {
				return false, nil
			}
			progress := mandatory[expected]
			if progress[0] == 0 || progress[1] > 0 {
				return false, nil
			}
			stage.Stage = next
			return true, nil
		},
		MandatoryTaskProgressFunc: func(ctx context.Context, stageID int, name string) (int, int, error) {
			progress := mandatory[name]
			return progress[0], progress[1], nil
		},
	}
	h := newTestHandler(store)

	advance := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/provider-stages/1/advance_stage", nil)
		req.Header.Set("X-Actor-ID", "1")
		req = testutils.WithChiURLParams(req, map[string]string{"stageId": "1"})
		w := httptest.NewRecorder()
		h.AdvanceStageHandler(w, req)
		return w
	}

	first := advance()
	require.Equal(t, http.StatusOK, first.Code)
	require.Contains(t, first.Body.String(), `"advanced":true`)
	require.Contains(t, first.Body.String(), "site_visit")

	second := advance()
	require.Equal(t, http.StatusOK, second.Code)
	require.Contains(t, second.Body.String(), `"advanced":false`)
	require.Contains(t, second.Body.String(), "no mandatory tasks defined")
	require.Equal(t, "site_visit", stage.Stage)
}

func TestCreateTaskHandler(t *testing.T) {
	h := newTestHandler(&MockStorage{})

	req := httptest.NewRequest(http.MethodPost, "/api/deal-tasks",
		strings.NewReader(`{"stage_id":1,"title":"Obtain title plan","priority":"high","mandatory":true}`))
	req.Header.Set("X-Actor-ID", "1")
	w := httptest.NewRecorder()
	h.CreateTaskHandler(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Contains(t, w.Body.String(), "Obtain title plan")
	// the task is keyed to the stage the engagement is currently in
	require.Contains(t, w.Body.String(), `"stage":"instructed"`)
}

func TestListTasksIncludesDependencies(t *testing.T) {
	store := &MockStorage{
		ListTaskDependenciesFunc: func(ctx context.Context, taskID int) ([]int, error) {
			require.Equal(t, 1, taskID)
			return []int{4, 7}, nil
		},
	}
	h := newTestHandler(store)

	req := httptest.NewRequest(http.MethodGet, "/api/deal-tasks?stage_id=1", nil)
	w := httptest.NewRecorder()
	h.ListTasksHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "Instruct valuer")
	require.Contains(t, w.Body.String(), `"dependencies":[4,7]`)
}

func TestCreateTaskCrossStageDependency(t *testing.T) {
	store := &MockStorage{
		GetTaskFunc: func(ctx context.Context, id int) (*db.Task, error) {
			return &db.Task{ID: id, StageID: 99, Status: models.TaskPending}, nil
		},
	}
	h := newTestHandler(store)

	req := httptest.NewRequest(http.MethodPost, "/api/deal-tasks",
		strings.NewReader(`{"stage_id":1,"title":"Review report","dependencies":[5]}`))
	req.Header.Set("X-Actor-ID", "1")
	w := httptest.NewRecorder()
	h.CreateTaskHandler(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "different stage")
}

func TestCompleteTaskDependencyNotSatisfied(t *testing.T) {
	store := &MockStorage{
		CompleteTaskFunc: func(ctx context.Context, id int) (*db.Task, error) {
			return nil, apperr.InvalidTransition("", "dependency not satisfied: 1 incomplete dependency task(s)")
		},
	}
	h := newTestHandler(store)

	req := httptest.NewRequest(http.MethodPost, "/api/deal-tasks/1/complete", nil)
	req = testutils.WithChiURLParams(req, map[string]string{"taskId": "1"})
	w := httptest.NewRecorder()
	h.CompleteTaskHandler(w, req)

	require.Equal(t, http.StatusConflict, w.Code)
	require.Contains(t, w.Body.String(), "dependency not satisfied")
}

func TestCompleteTaskAlreadyCompleted(t *testing.T) {
	store := &MockStorage{
		GetTaskFunc: func(ctx context.Context, id int) (*db.Task, error) {
			return &db.Task{ID: id, StageID: 1, Status: models.TaskCompleted}, nil
		},
	}
	h := newTestHandler(store)

	req := httptest.NewRequest(http.MethodPost, "/api/deal-tasks/1/complete", nil)
	req = testutils.WithChiURLParams(req, map[string]string{"taskId": "1"})
	w := httptest.NewRecorder()
	h.CompleteTaskHandler(w, req)

	require.Equal(t, http.StatusConflict, w.Code)
	require.Contains(t, w.Body.String(), "already completed")
}

func TestStartTaskHandler(t *testing.T) {
	h := newTestHandler(&MockStorage{})

	req := httptest.NewRequest(http.MethodPost, "/api/deal-tasks/1/start", nil)
	req = testutils.WithChiURLParams(req, map[string]string{"taskId": "1"})
	w := httptest.NewRecorder()
	h.StartTaskHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}
