package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"dealflow/db"
	"dealflow/models"
	"dealflow/pkg/apperr"
)

type createCPRequest struct {
	DealID         int              `json:"deal_id"`
	CPNumber       string           `json:"cp_number"`
	Title          string           `json:"title"`
	IsMandatory    *bool            `json:"is_mandatory,omitempty"`
	OwnerPartyType models.PartyType `json:"owner_party_type"`
}

func (h *Handler) CreateCPHandler(w http.ResponseWriter, r *http.Request) {
	var req createCPRequest
	if err := readJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.DealID <= 0 {
		h.respondError(w, r, apperr.Validation("deal_id must be positive"))
		return
	}
	if strings.TrimSpace(req.CPNumber) == "" || strings.TrimSpace(req.Title) == "" {
		h.respondError(w, r, apperr.Validation("cp_number and title are required"))
		return
	}
	actor, err := h.actorParty(r, req.DealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if actor.PartyType != models.PartyLender {
		h.respondError(w, r, apperr.PermissionDenied("only the lender can create a condition precedent"))
		return
	}

	mandatory := true
	if req.IsMandatory != nil {
		mandatory = *req.IsMandatory
	}
	cp := &db.ConditionPrecedent{
		DealID:         req.DealID,
		CPNumber:       req.CPNumber,
		Title:          req.Title,
		IsMandatory:    mandatory,
		OwnerPartyType: req.OwnerPartyType,
		Status:         models.CPPending,
	}
	if err := h.Store.CreateCP(r.Context(), cp); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, cp)
}

func (h *Handler) ListCPsHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)
	dealID, err := strconv.Atoi(r.URL.Query().Get("deal_id"))
	if err != nil || dealID <= 0 {
		h.respondError(w, r, apperr.Validation("deal_id query parameter is required"))
		return
	}
	cps, err := h.Store.ListCPs(r.Context(), dealID, params.Limit, params.Offset)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondList(w, cps)
}

type cpDecisionRequest struct {
	Reason string `json:"reason"`
}

// decideCP applies a lender decision on a pending condition precedent.
// Rejections and waivers require a reason.
func (h *Handler) decideCP(w http.ResponseWriter, r *http.Request, to models.CPStatus, reasonRequired bool) {
	id, err := urlParamInt(r, "cpId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	cp, err := h.Store.GetCP(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	actor, err := h.actorParty(r, cp.DealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if actor.PartyType != models.PartyLender {
		h.respondError(w, r, apperr.PermissionDenied("only the lender can decide a condition precedent"))
		return
	}
	if !models.CanTransition(cp.Status, to, models.CPTransitions) {
		h.respondError(w, r, apperr.InvalidTransition(string(cp.Status),
			"only a pending condition precedent can be decided"))
		return
	}

	var req cpDecisionRequest
	if err := readJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	var reason *string
	if s := strings.TrimSpace(req.Reason); s != "" {
		reason = &s
	} else if reasonRequired {
		h.respondError(w, r, apperr.Validation("reason is required"))
		return
	}

	ok, err := h.Store.SetCPStatus(r.Context(), id, to, reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !ok {
		current, err := h.Store.GetCP(r.Context(), id)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		h.respondError(w, r, apperr.InvalidTransition(string(current.Status),
			"only a pending condition precedent can be decided"))
		return
	}
	updated, err := h.Store.GetCP(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, updated)
}

func (h *Handler) ApproveCPHandler(w http.ResponseWriter, r *http.Request) {
	h.decideCP(w, r, models.CPSatisfied, false)
}

func (h *Handler) RejectCPHandler(w http.ResponseWriter, r *http.Request) {
	h.decideCP(w, r, models.CPRejected, true)
}

func (h *Handler) WaiveCPHandler(w http.ResponseWriter, r *http.Request) {
	h.decideCP(w, r, models.CPWaived, true)
}

type createRequisitionRequest struct {
	DealID   int    `json:"deal_id"`
	Subject  string `json:"subject"`
	Question string `json:"question"`
}

// CreateRequisitionHandler raises a legal question. Only the lender-side
// solicitor raises requisitions.
func (h *Handler) CreateRequisitionHandler(w http.ResponseWriter, r *http.Request) {
	var req createRequisitionRequest
	if err := readJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.DealID <= 0 {
		h.respondError(w, r, apperr.Validation("deal_id must be positive"))
		return
	}
	if strings.TrimSpace(req.Subject) == "" || strings.TrimSpace(req.Question) == "" {
		h.respondError(w, r, apperr.Validation("subject and question are required"))
		return
	}
	actor, err := h.actorParty(r, req.DealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if actor.PartyType != models.PartySolicitor || actor.ActingFor != models.ForLender {
		h.respondError(w, r, apperr.PermissionDenied("only the lender's solicitor can raise a requisition"))
		return
	}

	requisition := &db.Requisition{
		DealID:          req.DealID,
		RaisedByPartyID: actor.ID,
		Subject:         req.Subject,
		Question:        req.Question,
		Status:          models.RequisitionOpen,
	}
	if err := h.Store.CreateRequisition(r.Context(), requisition); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, requisition)
}

func (h *Handler) ListRequisitionsHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)
	dealID, err := strconv.Atoi(r.URL.Query().Get("deal_id"))
	if err != nil || dealID <= 0 {
		h.respondError(w, r, apperr.Validation("deal_id query parameter is required"))
		return
	}
	requisitions, err := h.Store.ListRequisitions(r.Context(), dealID, params.Limit, params.Offset)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondList(w, requisitions)
}

type respondRequisitionRequest struct {
	Response string `json:"response"`
}

func (h *Handler) RespondRequisitionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamInt(r, "requisitionId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	requisition, err := h.Store.GetRequisition(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	actor, err := h.actorParty(r, requisition.DealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if actor.ID == requisition.RaisedByPartyID {
		h.respondError(w, r, apperr.PermissionDenied("the raising party cannot respond to its own requisition"))
		return
	}

	var req respondRequisitionRequest
	if err := readJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	response := strings.TrimSpace(req.Response)
	if response == "" {
		h.respondError(w, r, apperr.Validation("response must not be empty"))
		return
	}

	ok, err := h.Store.RespondRequisition(r.Context(), id, response)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !ok {
		h.failRequisitionTransition(w, r, id, "only an open requisition can be responded to")
		return
	}
	updated, err := h.Store.GetRequisition(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, updated)
}

// decideRequisition settles a responded requisition, or closes one outright.
// The allowed from-states come from the requisition transition table.
func (h *Handler) decideRequisition(w http.ResponseWriter, r *http.Request, to models.RequisitionStatus) {
	id, err := urlParamInt(r, "requisitionId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	requisition, err := h.Store.GetRequisition(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	actor, err := h.actorParty(r, requisition.DealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if actor.ID != requisition.RaisedByPartyID && actor.PartyType != models.PartyLender {
		h.respondError(w, r, apperr.PermissionDenied("only the raising party or the lender can settle a requisition"))
		return
	}

	ok, err := h.Store.SetRequisitionStatus(r.Context(), id,
		models.SourcesOf(to, models.RequisitionTransitions), to)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !ok {
		h.failRequisitionTransition(w, r, id, "requisition cannot move to "+string(to))
		return
	}
	updated, err := h.Store.GetRequisition(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, updated)
}

func (h *Handler) ApproveRequisitionHandler(w http.ResponseWriter, r *http.Request) {
	h.decideRequisition(w, r, models.RequisitionApproved)
}

func (h *Handler) RejectRequisitionHandler(w http.ResponseWriter, r *http.Request) {
	h.decideRequisition(w, r, models.RequisitionRejected)
}

func (h *Handler) CloseRequisitionHandler(w http.ResponseWriter, r *http.Request) {
	h.decideRequisition(w, r, models.RequisitionClosed)
}

func (h *Handler) failRequisitionTransition(w http.ResponseWriter, r *http.Request, id int, msg string) {
	requisition, err := h.Store.GetRequisition(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondError(w, r, apperr.InvalidTransition(string(requisition.Status), "%s", msg))
}

// maxStagesPerDeal bounds the stage listing in the readiness breakdown; a
// deal has at most one active stage per consultant role.
const maxStagesPerDeal = 100

type readinessResponse struct {
	DealID           int  `json:"deal_id"`
	Score            int  `json:"score"`
	Ready            bool `json:"ready"`
	MandatoryCPs     int  `json:"mandatory_cps"`
	ClearedCPs       int  `json:"cleared_cps"`
	OpenRequisitions int  `json:"open_requisitions"`
	OpenDrawdowns    int  `json:"open_drawdowns"`
	TotalStages      int  `json:"total_stages"`
	CompletedStages  int  `json:"completed_stages"`
}

// ReadinessHandler reports legal completion readiness. The score is cleared
// mandatory CPs over mandatory total; a deal with no mandatory CPs scores 0
// rather than vacuously 100. The breakdown also reports unsettled drawdowns
// and provider stage progress.
func (h *Handler) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	dealID, err := urlParamInt(r, "dealId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if _, err := h.Store.GetDeal(r.Context(), dealID); err != nil {
		h.respondError(w, r, err)
		return
	}
	mandatory, cleared, err := h.Store.CPReadiness(r.Context(), dealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	open, err := h.Store.CountOpenRequisitions(r.Context(), dealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	openDrawdowns, err := h.Store.CountDrawdowns(r.Context(), dealID, models.DrawdownOpenStatuses)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	stages, err := h.Store.ListStages(r.Context(), dealID, maxStagesPerDeal, 0)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	completedStages := 0
	for _, st := range stages {
		if _, more := models.NextStage(st.RoleType, st.Stage); !more {
			completedStages++
		}
	}

	score := 0
	if mandatory > 0 {
		score = cleared * 100 / mandatory
	}
	h.respondJSON(w, http.StatusOK, readinessResponse{
		DealID:           dealID,
		Score:            score,
		Ready:            mandatory > 0 && cleared == mandatory && open == 0,
		MandatoryCPs:     mandatory,
		ClearedCPs:       cleared,
		OpenRequisitions: open,
		OpenDrawdowns:    openDrawdowns,
		TotalStages:      len(stages),
		CompletedStages:  completedStages,
	})
}
