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

// quoteContext loads a quote and its enquiry and authorizes the actor.
func (h *Handler) quoteContext(r *http.Request) (*db.Quote, *db.Enquiry, *db.Party, error) {
	id, err := urlParamInt(r, "quoteId")
	if err != nil {
		return nil, nil, nil, err
	}
	quote, err := h.Store.GetQuote(r.Context(), id)
	if err != nil {
		return nil, nil, nil, err
	}
	enquiry, err := h.Store.GetEnquiry(r.Context(), quote.EnquiryID)
	if err != nil {
		return nil, nil, nil, err
	}
	actor, err := h.actorParty(r, enquiry.DealID)
	if err != nil {
		return nil, nil, nil, err
	}
	return quote, enquiry, actor, nil
}

// AcceptQuoteHandler accepts the quote and engages its firm in one
// transaction. Sibling quotes and enquiries are left untouched.
func (h *Handler) AcceptQuoteHandler(w http.ResponseWriter, r *http.Request) {
	quote, enquiry, actor, err := h.quoteContext(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if actor.PartyType != models.PartyLender {
		h.respondError(w, r, apperr.PermissionDenied("only the lender can accept a quote"))
		return
	}
	if !models.CanTransition(quote.Status, models.QuoteAccepted, models.QuoteTransitions) {
		h.respondError(w, r, apperr.InvalidTransition(string(quote.Status), "quote cannot be accepted"))
		return
	}

	sel := &db.Selection{
		DealID:         enquiry.DealID,
		RoleType:       enquiry.RoleType,
		ProviderFirmID: enquiry.ProviderFirmID,
		QuoteID:        &quote.ID,
		SelectedBy:     models.ForLender,
		Status:         models.SelectionActive,
	}
	if err := h.Store.AcceptQuoteAndSelect(r.Context(), quote.ID, sel); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.Notify.Notify(r.Context(), enquiry.ProviderFirmID, "quote.accepted", sel)
	h.respondJSON(w, http.StatusOK, sel)
}

type quoteDecisionRequest struct {
	Notes        string   `json:"notes"`
	CounterPrice *float64 `json:"counter_price,omitempty"`
}

func (h *Handler) RejectQuoteHandler(w http.ResponseWriter, r *http.Request) {
	quote, enquiry, actor, err := h.quoteContext(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if actor.PartyType != models.PartyLender {
		h.respondError(w, r, apperr.PermissionDenied("only the lender can reject a quote"))
		return
	}

	var req quoteDecisionRequest
	if err := readJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	notes := strings.TrimSpace(req.Notes)
	if notes == "" {
		h.respondError(w, r, apperr.Validation("notes are required when rejecting a quote"))
		return
	}

	ok, err := h.Store.UpdateQuoteStatus(r.Context(), quote.ID,
		models.SourcesOf(models.QuoteRejected, models.QuoteTransitions),
		models.QuoteRejected, &notes, nil)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !ok {
		h.failQuoteTransition(w, r, quote.ID, "quote cannot be rejected")
		return
	}
	h.Notify.Notify(r.Context(), enquiry.ProviderFirmID, "quote.rejected", quote.ID)
	h.respondQuote(w, r, quote.ID)
}

// NegotiateQuoteHandler asks the provider for revised terms, optionally with
// a counter price.
func (h *Handler) NegotiateQuoteHandler(w http.ResponseWriter, r *http.Request) {
	quote, enquiry, actor, err := h.quoteContext(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if actor.PartyType != models.PartyLender {
		h.respondError(w, r, apperr.PermissionDenied("only the lender can negotiate a quote"))
		return
	}

	var req quoteDecisionRequest
	if err := readJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.CounterPrice != nil && *req.CounterPrice <= 0 {
		h.respondError(w, r, apperr.Validation("counter_price must be positive"))
		return
	}
	var notes *string
	if s := strings.TrimSpace(req.Notes); s != "" {
		notes = &s
	}

	ok, err := h.Store.UpdateQuoteStatus(r.Context(), quote.ID,
		models.SourcesOf(models.QuoteNegotiationRequested, models.QuoteTransitions),
		models.QuoteNegotiationRequested, notes, req.CounterPrice)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !ok {
		h.failQuoteTransition(w, r, quote.ID, "quote cannot be negotiated")
		return
	}
	h.Notify.Notify(r.Context(), enquiry.ProviderFirmID, "quote.negotiation_requested", quote.ID)
	h.respondQuote(w, r, quote.ID)
}

type reviseQuoteRequest struct {
	Price        float64    `json:"price"`
	LeadTimeDays int        `json:"lead_time_days"`
	Scope        string     `json:"scope"`
	Assumptions  string     `json:"assumptions"`
	ValidUntil   *time.Time `json:"valid_until,omitempty"`
}

// ReviseQuoteHandler resubmits revised terms after a negotiation request.
func (h *Handler) ReviseQuoteHandler(w http.ResponseWriter, r *http.Request) {
	quote, enquiry, actor, err := h.quoteContext(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if actor.PartyType != enquiry.RoleType {
		h.respondError(w, r, apperr.PermissionDenied("only the quoting provider can revise this quote"))
		return
	}
	if !actorRepresentsFirm(actor, enquiry.ProviderFirmID) {
		h.respondError(w, r, apperr.PermissionDenied("actor is not bound to the quoting firm"))
		return
	}

	var req reviseQuoteRequest
	if err := readJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.Price <= 0 || req.LeadTimeDays <= 0 || strings.TrimSpace(req.Scope) == "" {
		h.respondError(w, r, apperr.Validation("price, lead_time_days and scope are required"))
		return
	}
	// revising puts the quote back to submitted
	if !models.CanTransition(quote.Status, models.QuoteSubmitted, models.QuoteTransitions) {
		h.respondError(w, r, apperr.InvalidTransition(string(quote.Status),
			"only a quote under negotiation can be revised"))
		return
	}

	ok, err := h.Store.ReviseQuote(r.Context(), quote.ID,
		req.Price, req.LeadTimeDays, req.Scope, req.Assumptions, req.ValidUntil)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !ok {
		h.failQuoteTransition(w, r, quote.ID, "only a quote under negotiation can be revised")
		return
	}
	h.respondQuote(w, r, quote.ID)
}

func (h *Handler) respondQuote(w http.ResponseWriter, r *http.Request, id int) {
	quote, err := h.Store.GetQuote(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, quote)
}

func (h *Handler) failQuoteTransition(w http.ResponseWriter, r *http.Request, id int, msg string) {
	quote, err := h.Store.GetQuote(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondError(w, r, apperr.InvalidTransition(string(quote.Status), "%s", msg))
}

type createSelectionRequest struct {
	DealID         int              `json:"deal_id"`
	RoleType       models.PartyType `json:"role_type"`
	ProviderFirmID int              `json:"provider_firm_id"`
	FirmName       string           `json:"firm_name"`
	QuoteID        *int             `json:"quote_id,omitempty"`
}

// CreateSelectionHandler engages a firm without a quote decision. The
// borrower may bring its own solicitor; that selection waits for lender
// approval. A named external firm is registered on the fly.
func (h *Handler) CreateSelectionHandler(w http.ResponseWriter, r *http.Request) {
	var req createSelectionRequest
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
	actor, err := h.actorParty(r, req.DealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	switch actor.PartyType {
	case models.PartyLender:
	case models.PartyBorrower:
		if req.RoleType != models.PartySolicitor {
			h.respondError(w, r, apperr.PermissionDenied("the borrower may only select its own solicitor"))
			return
		}
	default:
		h.respondError(w, r, apperr.PermissionDenied("only a principal can select a provider"))
		return
	}

	firmID := req.ProviderFirmID
	if firmID <= 0 {
		name := strings.TrimSpace(req.FirmName)
		if name == "" {
			h.respondError(w, r, apperr.Validation("provider firm could not be resolved: provider_firm_id or firm_name required"))
			return
		}
		firm := &db.ProviderFirm{Name: name, RoleType: req.RoleType}
		if err := h.Store.CreateProviderFirm(r.Context(), firm); err != nil {
			h.respondError(w, r, err)
			return
		}
		firmID = firm.ID
	} else if _, err := h.Store.GetProviderFirm(r.Context(), firmID); err != nil {
		h.respondError(w, r, err)
		return
	}

	sel := &db.Selection{
		DealID:         req.DealID,
		RoleType:       req.RoleType,
		ProviderFirmID: firmID,
		QuoteID:        req.QuoteID,
		SelectedBy:     models.ActingFor(actor.PartyType),
		Status:         models.SelectionActive,
	}
	if actor.PartyType == models.PartyBorrower {
		sel.LenderApprovalRequired = true
		sel.Status = models.SelectionPendingLenderApproval
	}
	if err := h.Store.CreateSelection(r.Context(), sel); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, sel)
}

func (h *Handler) ApproveSelectionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamInt(r, "selectionId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	sel, err := h.Store.GetSelection(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	actor, err := h.actorParty(r, sel.DealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if actor.PartyType != models.PartyLender {
		h.respondError(w, r, apperr.PermissionDenied("only the lender can approve a selection"))
		return
	}
	approved, err := h.Store.ApproveSelection(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, approved)
}

func (h *Handler) DeclineSelectionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamInt(r, "selectionId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	sel, err := h.Store.GetSelection(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	actor, err := h.actorParty(r, sel.DealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if actor.PartyType != models.PartyLender {
		h.respondError(w, r, apperr.PermissionDenied("only the lender can decline a selection"))
		return
	}
	ok, err := h.Store.DeclineSelection(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !ok {
		current, err := h.Store.GetSelection(r.Context(), id)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		h.respondError(w, r, apperr.InvalidTransition(string(current.Status),
			"selection is not awaiting lender approval"))
		return
	}
	updated, err := h.Store.GetSelection(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, updated)
}

func (h *Handler) ListSelectionsHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)
	dealID, err := strconv.Atoi(r.URL.Query().Get("deal_id"))
	if err != nil || dealID <= 0 {
		h.respondError(w, r, apperr.Validation("deal_id query parameter is required"))
		return
	}
	selections, err := h.Store.ListSelections(r.Context(), dealID, params.Limit, params.Offset)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondList(w, selections)
}
