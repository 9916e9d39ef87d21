package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"dealflow/db"
	"dealflow/models"
	"dealflow/pkg/apperr"
)

func (h *Handler) ListStagesHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)
	dealID, err := strconv.Atoi(r.URL.Query().Get("deal_id"))
	if err != nil || dealID <= 0 {
		h.respondError(w, r, apperr.Validation("deal_id query parameter is required"))
		return
	}
	stages, err := h.Store.ListStages(r.Context(), dealID, params.Limit, params.Offset)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondList(w, stages)
}

type advanceStageResponse struct {
	Advanced bool              `json:"advanced"`
	Reason   string            `json:"reason,omitempty"`
	Stage    *db.ProviderStage `json:"stage"`
}

// AdvanceStageHandler moves the engagement to its next stage. Not-ready
// outcomes (incomplete mandatory tasks, final stage, lost race) return 200
// with advanced:false so retries are harmless.
func (h *Handler) AdvanceStageHandler(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamInt(r, "stageId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	stage, err := h.Store.GetStage(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	actor, err := h.actorParty(r, stage.DealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if actor.PartyType != stage.RoleType && actor.PartyType != models.PartyLender {
		h.respondError(w, r, apperr.PermissionDenied("only the engaged provider or the lender can advance this stage"))
		return
	}

	next, ok := models.NextStage(stage.RoleType, stage.Stage)
	if !ok {
		h.respondJSON(w, http.StatusOK, advanceStageResponse{
			Advanced: false, Reason: "stage is final", Stage: stage,
		})
		return
	}
	advanced, err := h.Store.AdvanceStage(r.Context(), id, stage.Stage, next)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	current, err := h.Store.GetStage(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !advanced {
		reason := "stage already advanced"
		if current.Stage == stage.Stage {
			total, incomplete, err := h.Store.MandatoryTaskProgress(r.Context(), id, stage.Stage)
			if err != nil {
				h.respondError(w, r, err)
				return
			}
			switch {
			case total == 0:
				reason = "no mandatory tasks defined for this stage"
			case incomplete > 0:
				reason = "mandatory tasks incomplete"
			}
		}
		h.respondJSON(w, http.StatusOK, advanceStageResponse{
			Advanced: false, Reason: reason, Stage: current,
		})
		return
	}
	h.respondJSON(w, http.StatusOK, advanceStageResponse{Advanced: true, Stage: current})
}

type createTaskRequest struct {
	StageID      int                 `json:"stage_id"`
	Title        string              `json:"title"`
	Priority     models.TaskPriority `json:"priority"`
	DueDate      *time.Time          `json:"due_date,omitempty"`
	Mandatory    bool                `json:"mandatory"`
	Dependencies []int               `json:"dependencies,omitempty"`
}

func (h *Handler) CreateTaskHandler(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := readJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.StageID <= 0 {
		h.respondError(w, r, apperr.Validation("stage_id must be positive"))
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		h.respondError(w, r, apperr.Validation("title is required"))
		return
	}
	if req.Priority == "" {
		req.Priority = models.PriorityMedium
	}
	if !models.ValidTaskPriority(req.Priority) {
		h.respondError(w, r, apperr.Validation("invalid priority %q", req.Priority))
		return
	}
	stage, err := h.Store.GetStage(r.Context(), req.StageID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if _, err := h.actorParty(r, stage.DealID); err != nil {
		h.respondError(w, r, err)
		return
	}
	for _, dep := range req.Dependencies {
		depTask, err := h.Store.GetTask(r.Context(), dep)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		if depTask.StageID != req.StageID {
			h.respondError(w, r, apperr.Validation("dependency task %d belongs to a different stage", dep))
			return
		}
	}

	task := &db.Task{
		StageID:   req.StageID,
		Stage:     stage.Stage,
		Title:     req.Title,
		Priority:  req.Priority,
		DueDate:   req.DueDate,
		Mandatory: req.Mandatory,
		Status:    models.TaskPending,
	}
	if err := h.Store.CreateTask(r.Context(), task, req.Dependencies); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, task)
}

// taskView is a task with its dependency task ids resolved.
type taskView struct {
	db.Task
	Dependencies []int `json:"dependencies,omitempty"`
}

func (h *Handler) ListTasksHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)
	stageID, err := strconv.Atoi(r.URL.Query().Get("stage_id"))
	if err != nil || stageID <= 0 {
		h.respondError(w, r, apperr.Validation("stage_id query parameter is required"))
		return
	}
	tasks, err := h.Store.ListTasks(r.Context(), stageID, params.Limit, params.Offset)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	views := make([]taskView, 0, len(tasks))
	for _, task := range tasks {
		deps, err := h.Store.ListTaskDependencies(r.Context(), task.ID)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		views = append(views, taskView{Task: task, Dependencies: deps})
	}
	h.respondList(w, views)
}

func (h *Handler) StartTaskHandler(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamInt(r, "taskId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	ok, err := h.Store.StartTask(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !ok {
		task, err := h.Store.GetTask(r.Context(), id)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		h.respondError(w, r, apperr.InvalidTransition(string(task.Status),
			"only a pending task can be started"))
		return
	}
	task, err := h.Store.GetTask(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, task)
}

// CompleteTaskHandler completes a task once all its dependencies are
// completed, then recomputes the stage's completion percent.
func (h *Handler) CompleteTaskHandler(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamInt(r, "taskId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	task, err := h.Store.GetTask(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if task.Status == models.TaskCompleted {
		h.respondError(w, r, apperr.InvalidTransition(string(task.Status),
			"task is already completed"))
		return
	}
	completed, err := h.Store.CompleteTask(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, completed)
}
