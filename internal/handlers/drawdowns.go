package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"dealflow/db"
	"dealflow/models"
	"dealflow/pkg/apperr"
)

type createDrawdownRequest struct {
	DealID                int     `json:"deal_id"`
	RequestedAmount       float64 `json:"requested_amount"`
	Purpose               string  `json:"purpose"`
	Milestone             *string `json:"milestone,omitempty"`
	IMSInspectionRequired bool    `json:"ims_inspection_required"`
}

// CreateDrawdownHandler opens a disbursement request. When an IMS inspection
// is required the monitoring surveyor chain starts at pending and the lender
// chain waits on it; otherwise the request goes straight to lender review.
func (h *Handler) CreateDrawdownHandler(w http.ResponseWriter, r *http.Request) {
	var req createDrawdownRequest
	if err := readJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.DealID <= 0 {
		h.respondError(w, r, apperr.Validation("deal_id must be positive"))
		return
	}
	if req.RequestedAmount <= 0 {
		h.respondError(w, r, apperr.Validation("requested_amount must be positive"))
		return
	}
	if strings.TrimSpace(req.Purpose) == "" {
		h.respondError(w, r, apperr.Validation("purpose is required"))
		return
	}
	actor, err := h.actorParty(r, req.DealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if actor.PartyType != models.PartyBorrower {
		h.respondError(w, r, apperr.PermissionDenied("only the borrower can request a drawdown"))
		return
	}

	drawdown := &db.Drawdown{
		DealID:                req.DealID,
		RequestedAmount:       req.RequestedAmount,
		Purpose:               req.Purpose,
		Milestone:             req.Milestone,
		IMSInspectionRequired: req.IMSInspectionRequired,
		MSReviewStatus:        models.MSNotRequired,
		LenderApprovalStatus:  models.DrawdownLenderReview,
	}
	if req.IMSInspectionRequired {
		drawdown.MSReviewStatus = models.MSPending
		drawdown.LenderApprovalStatus = models.DrawdownIMSInspectionRequired
	}
	if err := h.Store.CreateDrawdown(r.Context(), drawdown); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, drawdown)
}

func (h *Handler) GetDrawdownHandler(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamInt(r, "drawdownId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	drawdown, err := h.Store.GetDrawdown(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, drawdown)
}

func (h *Handler) ListDrawdownsHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)
	dealID, err := strconv.Atoi(r.URL.Query().Get("deal_id"))
	if err != nil || dealID <= 0 {
		h.respondError(w, r, apperr.Validation("deal_id query parameter is required"))
		return
	}
	drawdowns, err := h.Store.ListDrawdowns(r.Context(), dealID, params.Limit, params.Offset)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondList(w, drawdowns)
}

// drawdownActor loads the drawdown and authorizes the actor's role.
func (h *Handler) drawdownActor(r *http.Request, required models.PartyType) (*db.Drawdown, error) {
	id, err := urlParamInt(r, "drawdownId")
	if err != nil {
		return nil, err
	}
	drawdown, err := h.Store.GetDrawdown(r.Context(), id)
	if err != nil {
		return nil, err
	}
	actor, err := h.actorParty(r, drawdown.DealID)
	if err != nil {
		return nil, err
	}
	if actor.PartyType != required {
		return nil, apperr.PermissionDenied("action requires the %s", required)
	}
	return drawdown, nil
}

// msStep applies one in-order monitoring surveyor step.
func (h *Handler) msStep(w http.ResponseWriter, r *http.Request, from, to models.MSReviewStatus, siteVisitDate *time.Time, notes *string) {
	drawdown, err := h.drawdownActor(r, models.PartyMonitoringSurveyor)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !models.CanTransition(drawdown.MSReviewStatus, to, models.MSReviewTransitions) {
		h.respondError(w, r, apperr.InvalidTransition(string(drawdown.MSReviewStatus),
			"inspection cannot move to %s", to))
		return
	}
	ok, err := h.Store.UpdateMSStatus(r.Context(), drawdown.ID, from, to, siteVisitDate, notes)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !ok {
		h.failDrawdownMS(w, r, drawdown.ID, "inspection cannot move to "+string(to))
		return
	}
	h.respondDrawdown(w, r, drawdown.ID)
}

func (h *Handler) MSStartReviewHandler(w http.ResponseWriter, r *http.Request) {
	h.msStep(w, r, models.MSPending, models.MSUnderReview, nil, nil)
}

type msScheduleRequest struct {
	SiteVisitDate *time.Time `json:"site_visit_date"`
}

func (h *Handler) MSScheduleSiteVisitHandler(w http.ResponseWriter, r *http.Request) {
	var req msScheduleRequest
	if err := readJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.SiteVisitDate == nil {
		h.respondError(w, r, apperr.Validation("site_visit_date is required"))
		return
	}
	h.msStep(w, r, models.MSUnderReview, models.MSSiteVisitScheduled, req.SiteVisitDate, nil)
}

func (h *Handler) MSCompleteSiteVisitHandler(w http.ResponseWriter, r *http.Request) {
	h.msStep(w, r, models.MSSiteVisitScheduled, models.MSSiteVisitCompleted, nil, nil)
}

type msDecisionRequest struct {
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

// MSApproveHandler certifies the inspection and releases the lender chain to
// review in the same statement.
func (h *Handler) MSApproveHandler(w http.ResponseWriter, r *http.Request) {
	drawdown, err := h.drawdownActor(r, models.PartyMonitoringSurveyor)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req msDecisionRequest
	if err := readJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	var notes *string
	if s := strings.TrimSpace(req.Notes); s != "" {
		notes = &s
	}
	if !models.CanTransition(drawdown.MSReviewStatus, models.MSApproved, models.MSReviewTransitions) {
		h.respondError(w, r, apperr.InvalidTransition(string(drawdown.MSReviewStatus),
			"inspection can only be approved after the site visit is completed"))
		return
	}
	ok, err := h.Store.MSApprove(r.Context(), drawdown.ID, notes)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !ok {
		h.failDrawdownMS(w, r, drawdown.ID, "inspection can only be approved after the site visit is completed")
		return
	}
	h.respondDrawdown(w, r, drawdown.ID)
}

func (h *Handler) MSRejectHandler(w http.ResponseWriter, r *http.Request) {
	drawdown, err := h.drawdownActor(r, models.PartyMonitoringSurveyor)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req msDecisionRequest
	if err := readJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		h.respondError(w, r, apperr.Validation("reason is required"))
		return
	}
	if !models.CanTransition(drawdown.MSReviewStatus, models.MSRejected, models.MSReviewTransitions) {
		h.respondError(w, r, apperr.InvalidTransition(string(drawdown.MSReviewStatus),
			"inspection is already settled"))
		return
	}
	ok, err := h.Store.MSReject(r.Context(), drawdown.ID, reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !ok {
		h.failDrawdownMS(w, r, drawdown.ID, "inspection is already settled")
		return
	}
	h.respondDrawdown(w, r, drawdown.ID)
}

// ApproveDrawdownHandler applies the lender decision. The storage layer
// re-checks the inspection gate inside the update itself.
func (h *Handler) ApproveDrawdownHandler(w http.ResponseWriter, r *http.Request) {
	drawdown, err := h.drawdownActor(r, models.PartyLender)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	approved, err := h.Store.ApproveDrawdown(r.Context(), drawdown.ID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, approved)
}

type drawdownRejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) RejectDrawdownHandler(w http.ResponseWriter, r *http.Request) {
	drawdown, err := h.drawdownActor(r, models.PartyLender)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var req drawdownRejectRequest
	if err := readJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		h.respondError(w, r, apperr.Validation("reason is required"))
		return
	}
	if models.DrawdownTerminal(drawdown.LenderApprovalStatus) {
		h.respondError(w, r, apperr.InvalidTransition(string(drawdown.LenderApprovalStatus),
			"drawdown is already settled"))
		return
	}
	ok, err := h.Store.RejectDrawdown(r.Context(), drawdown.ID, reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !ok {
		h.failDrawdownLender(w, r, drawdown.ID, "drawdown is already settled")
		return
	}
	h.respondDrawdown(w, r, drawdown.ID)
}

func (h *Handler) MarkDrawdownPaidHandler(w http.ResponseWriter, r *http.Request) {
	drawdown, err := h.drawdownActor(r, models.PartyLender)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !models.CanTransition(drawdown.LenderApprovalStatus, models.DrawdownPaid, models.LenderApprovalTransitions) {
		h.respondError(w, r, apperr.InvalidTransition(string(drawdown.LenderApprovalStatus),
			"only an approved drawdown can be marked paid"))
		return
	}
	ok, err := h.Store.MarkDrawdownPaid(r.Context(), drawdown.ID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !ok {
		h.failDrawdownLender(w, r, drawdown.ID, "only an approved drawdown can be marked paid")
		return
	}
	h.respondDrawdown(w, r, drawdown.ID)
}

// UploadDrawdownDocumentsHandler stores multipart files under uuid blob keys
// and records one metadata row per file.
func (h *Handler) UploadDrawdownDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamInt(r, "drawdownId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	drawdown, err := h.Store.GetDrawdown(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	actor, err := h.actorParty(r, drawdown.DealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if actor.PartyType != models.PartyBorrower && actor.PartyType != models.PartyMonitoringSurveyor {
		h.respondError(w, r, apperr.PermissionDenied("only the borrower or the monitoring surveyor can upload drawdown documents"))
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.respondError(w, r, apperr.Validation("invalid multipart form"))
		return
	}
	category := models.DocumentCategory(r.FormValue("document_category"))
	if !models.ValidDocumentCategory(category) {
		h.respondError(w, r, apperr.Validation("invalid document_category %q", category))
		return
	}
	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		h.respondError(w, r, apperr.Validation("at least one file is required"))
		return
	}

	docs := make([]db.DrawdownDocument, 0, len(files))
	for _, fh := range files {
		f, err := fh.Open()
		if err != nil {
			h.respondError(w, r, apperr.Validation("failed to read uploaded file %q", fh.Filename))
			return
		}
		key := uuid.NewString()
		err = h.Blobs.Put(r.Context(), key, fh.Header.Get("Content-Type"), f)
		f.Close()
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		docs = append(docs, db.DrawdownDocument{
			DrawdownID:        id,
			Category:          category,
			FileName:          fh.Filename,
			StorageKey:        key,
			UploadedByPartyID: actor.ID,
		})
	}
	created, err := h.Store.AddDrawdownDocuments(r.Context(), docs)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, map[string]any{"results": created})
}

func (h *Handler) ListDrawdownDocumentsHandler(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamInt(r, "drawdownId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	docs, err := h.Store.ListDrawdownDocuments(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondList(w, docs)
}

func (h *Handler) respondDrawdown(w http.ResponseWriter, r *http.Request, id int) {
	drawdown, err := h.Store.GetDrawdown(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, drawdown)
}

func (h *Handler) failDrawdownMS(w http.ResponseWriter, r *http.Request, id int, msg string) {
	drawdown, err := h.Store.GetDrawdown(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondError(w, r, apperr.InvalidTransition(string(drawdown.MSReviewStatus), "%s", msg))
}

func (h *Handler) failDrawdownLender(w http.ResponseWriter, r *http.Request, id int, msg string) {
	drawdown, err := h.Store.GetDrawdown(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondError(w, r, apperr.InvalidTransition(string(drawdown.LenderApprovalStatus), "%s", msg))
}
