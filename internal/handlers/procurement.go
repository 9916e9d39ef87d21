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

// MatchingProvidersHandler lists candidate firms for a consultant role.
func (h *Handler) MatchingProvidersHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)
	dealID, err := strconv.Atoi(r.URL.Query().Get("deal_id"))
	if err != nil || dealID <= 0 {
		h.respondError(w, r, apperr.Validation("deal_id query parameter is required"))
		return
	}
	roleType := models.PartyType(r.URL.Query().Get("role_type"))
	if !models.IsConsultantRole(roleType) {
		h.respondError(w, r, apperr.Validation("role_type must be a consultant role"))
		return
	}
	if _, err := h.actorParty(r, dealID); err != nil {
		h.respondError(w, r, err)
		return
	}
	firms, err := h.Store.ListMatchingFirms(r.Context(), roleType, params.Limit, params.Offset)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondList(w, firms)
}

type requestQuotesRequest struct {
	DealID      int              `json:"deal_id"`
	RoleType    models.PartyType `json:"role_type"`
	ProviderIDs []int            `json:"provider_ids"`
	DueInDays   int              `json:"due_in_days"`
}

// RequestQuotesHandler fans one enquiry out to each selected firm. The batch
// is all-or-nothing.
func (h *Handler) RequestQuotesHandler(w http.ResponseWriter, r *http.Request) {
	var req requestQuotesRequest
	if err := readJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.DealID <= 0 {
		h.respondError(w, r, apperr.Validation("deal_id must be positive"))
		return
	}
	if !models.IsConsultantRole(req.RoleType) {
		h.respondError(w, r, apperr.Validation("role_type must be a consultant role"))
		return
	}
	if len(req.ProviderIDs) == 0 {
		h.respondError(w, r, apperr.Validation("provider_ids must not be empty"))
		return
	}
	if req.DueInDays <= 0 {
		h.respondError(w, r, apperr.Validation("due_in_days must be positive"))
		return
	}
	actor, err := h.actorParty(r, req.DealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if actor.PartyType != models.PartyLender {
		h.respondError(w, r, apperr.PermissionDenied("only the lender can request quotes"))
		return
	}

	dueAt := time.Now().AddDate(0, 0, req.DueInDays)
	enquiries := make([]db.Enquiry, 0, len(req.ProviderIDs))
	for _, firmID := range req.ProviderIDs {
		if firmID <= 0 {
			h.respondError(w, r, apperr.Validation("provider id must be positive"))
			return
		}
		enquiries = append(enquiries, db.Enquiry{
			DealID:         req.DealID,
			RoleType:       req.RoleType,
			ProviderFirmID: firmID,
			Status:         models.EnquirySent,
			DueAt:          dueAt,
		})
	}
	created, err := h.Store.CreateEnquiries(r.Context(), enquiries)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	for _, e := range created {
		h.Notify.Notify(r.Context(), e.ProviderFirmID, "enquiry.sent", e)
	}
	h.respondJSON(w, http.StatusCreated, map[string]any{"results": created})
}

func (h *Handler) ListEnquiriesHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)
	dealID, err := strconv.Atoi(r.URL.Query().Get("deal_id"))
	if err != nil || dealID <= 0 {
		h.respondError(w, r, apperr.Validation("deal_id query parameter is required"))
		return
	}
	enquiries, err := h.Store.ListEnquiries(r.Context(), dealID, params.Limit, params.Offset)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondList(w, enquiries)
}

// actorRepresentsFirm reports whether the consultant party is bound to the
// firm the enquiry was sent to. A party with no firm binding cannot act on
// any enquiry, even when its role matches.
func actorRepresentsFirm(actor *db.Party, firmID int) bool {
	return actor.ProviderFirmID != nil && *actor.ProviderFirmID == firmID
}

// markEnquiry applies a provider-side status mark with a guarded update whose
// from-list is derived from the enquiry transition table.
func (h *Handler) markEnquiry(w http.ResponseWriter, r *http.Request, to models.EnquiryStatus) {
	id, err := urlParamInt(r, "enquiryId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	enquiry, err := h.Store.GetEnquiry(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	actor, err := h.actorParty(r, enquiry.DealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if actor.PartyType != enquiry.RoleType {
		h.respondError(w, r, apperr.PermissionDenied("only the enquired provider can update this enquiry"))
		return
	}
	if !actorRepresentsFirm(actor, enquiry.ProviderFirmID) {
		h.respondError(w, r, apperr.PermissionDenied("actor is not bound to the enquired firm"))
		return
	}

	ok, err := h.Store.UpdateEnquiryStatus(r.Context(), id,
		models.SourcesOf(to, models.EnquiryTransitions), to)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !ok {
		current, err := h.Store.GetEnquiry(r.Context(), id)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		h.respondError(w, r, apperr.InvalidTransition(string(current.Status),
			"enquiry cannot move to %s", to))
		return
	}
	updated, err := h.Store.GetEnquiry(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, updated)
}

func (h *Handler) ViewEnquiryHandler(w http.ResponseWriter, r *http.Request) {
	h.markEnquiry(w, r, models.EnquiryViewed)
}

func (h *Handler) AcknowledgeEnquiryHandler(w http.ResponseWriter, r *http.Request) {
	h.markEnquiry(w, r, models.EnquiryAcknowledged)
}

func (h *Handler) DeclineEnquiryHandler(w http.ResponseWriter, r *http.Request) {
	h.markEnquiry(w, r, models.EnquiryDeclined)
}

type submitQuoteRequest struct {
	EnquiryID    int        `json:"enquiry_id"`
	Price        float64    `json:"price"`
	LeadTimeDays int        `json:"lead_time_days"`
	Scope        string     `json:"scope"`
	Assumptions  string     `json:"assumptions"`
	ValidUntil   *time.Time `json:"valid_until,omitempty"`
}

// SubmitQuoteHandler records a provider's quote. Submission after the due
// date is accepted but flagged as late.
func (h *Handler) SubmitQuoteHandler(w http.ResponseWriter, r *http.Request) {
	var req submitQuoteRequest
	if err := readJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.EnquiryID <= 0 {
		h.respondError(w, r, apperr.Validation("enquiry_id must be positive"))
		return
	}
	if req.Price <= 0 {
		h.respondError(w, r, apperr.Validation("price must be positive"))
		return
	}
	if req.LeadTimeDays <= 0 {
		h.respondError(w, r, apperr.Validation("lead_time_days must be positive"))
		return
	}
	if strings.TrimSpace(req.Scope) == "" {
		h.respondError(w, r, apperr.Validation("scope is required"))
		return
	}

	enquiry, err := h.Store.GetEnquiry(r.Context(), req.EnquiryID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	actor, err := h.actorParty(r, enquiry.DealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if actor.PartyType != enquiry.RoleType {
		h.respondError(w, r, apperr.PermissionDenied("only the enquired provider can submit a quote"))
		return
	}
	if !actorRepresentsFirm(actor, enquiry.ProviderFirmID) {
		h.respondError(w, r, apperr.PermissionDenied("actor is not bound to the enquired firm"))
		return
	}
	if !models.EnquiryIsOpen(enquiry.Status) {
		h.respondError(w, r, apperr.InvalidTransition(string(enquiry.Status),
			"enquiry is no longer open for quotes"))
		return
	}

	quote := &db.Quote{
		EnquiryID:     req.EnquiryID,
		Price:         req.Price,
		LeadTimeDays:  req.LeadTimeDays,
		Scope:         req.Scope,
		Assumptions:   req.Assumptions,
		ValidUntil:    req.ValidUntil,
		Status:        models.QuoteSubmitted,
		SubmittedLate: time.Now().After(enquiry.DueAt),
	}
	if err := h.Store.CreateQuote(r.Context(), quote); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, quote)
}

func (h *Handler) ListQuotesHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)
	dealID, err := strconv.Atoi(r.URL.Query().Get("deal_id"))
	if err != nil || dealID <= 0 {
		h.respondError(w, r, apperr.Validation("deal_id query parameter is required"))
		return
	}
	quotes, err := h.Store.ListQuotes(r.Context(), dealID, params.Limit, params.Offset)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondList(w, quotes)
}
