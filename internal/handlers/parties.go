package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"dealflow/db"
	"dealflow/models"
	"dealflow/pkg/apperr"
)

type createDealRequest struct {
	FacilityType string `json:"facility_type"`
}

func (h *Handler) CreateDealHandler(w http.ResponseWriter, r *http.Request) {
	var req createDealRequest
	if err := readJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	req.FacilityType = strings.TrimSpace(req.FacilityType)
	if req.FacilityType == "" {
		h.respondError(w, r, apperr.Validation("facility_type is required"))
		return
	}

	deal := &db.Deal{
		FacilityType: req.FacilityType,
		Status:       models.DealActive,
		CurrentStage: "procurement",
	}
	if err := h.Store.CreateDeal(r.Context(), deal); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, deal)
}

func (h *Handler) GetDealHandler(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamInt(r, "dealId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	deal, err := h.Store.GetDeal(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, deal)
}

func (h *Handler) ListDealsHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)
	deals, err := h.Store.ListDeals(r.Context(), params.Limit, params.Offset)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondList(w, deals)
}

type dealStatusRequest struct {
	Status models.DealStatus `json:"status"`
}

func (h *Handler) SetDealStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamInt(r, "dealId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	actor, err := h.actorParty(r, id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if actor.PartyType != models.PartyLender {
		h.respondError(w, r, apperr.PermissionDenied("only the lender can change deal status"))
		return
	}

	var req dealStatusRequest
	if err := readJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	switch req.Status {
	case models.DealActive, models.DealOnHold, models.DealCompleted, models.DealCancelled:
	default:
		h.respondError(w, r, apperr.Validation("invalid status %q", req.Status))
		return
	}
	if err := h.Store.UpdateDealStatus(r.Context(), id, req.Status); err != nil {
		h.respondError(w, r, err)
		return
	}
	deal, err := h.Store.GetDeal(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, deal)
}

type createPartyRequest struct {
	DealID         int              `json:"deal_id"`
	UserID         int              `json:"user_id"`
	PartyType      models.PartyType `json:"party_type"`
	ActingFor      models.ActingFor `json:"acting_for"`
	ProviderFirmID *int             `json:"provider_firm_id,omitempty"`
}

// CreatePartyHandler invites a party onto a deal. Consultants may only be
// invited by the lender; the borrower is attached at origination.
func (h *Handler) CreatePartyHandler(w http.ResponseWriter, r *http.Request) {
	var req createPartyRequest
	if err := readJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.DealID <= 0 || req.UserID <= 0 {
		h.respondError(w, r, apperr.Validation("deal_id and user_id must be positive"))
		return
	}
	switch req.PartyType {
	case models.PartyLender, models.PartyBorrower, models.PartyValuer,
		models.PartyMonitoringSurveyor, models.PartySolicitor:
	default:
		h.respondError(w, r, apperr.Validation("invalid party_type %q", req.PartyType))
		return
	}
	if req.ActingFor != models.ForLender && req.ActingFor != models.ForBorrower {
		h.respondError(w, r, apperr.Validation("acting_for must be lender or borrower"))
		return
	}

	if models.IsConsultantRole(req.PartyType) {
		actor, err := h.actorParty(r, req.DealID)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		if actor.PartyType != models.PartyLender {
			h.respondError(w, r, apperr.PermissionDenied("only the lender can invite consultants"))
			return
		}
		// consultants act for a specific firm; the binding is what later
		// authorizes them on that firm's enquiries and quotes
		if req.ProviderFirmID == nil || *req.ProviderFirmID <= 0 {
			h.respondError(w, r, apperr.Validation("provider_firm_id is required for consultant parties"))
			return
		}
		if _, err := h.Store.GetProviderFirm(r.Context(), *req.ProviderFirmID); err != nil {
			h.respondError(w, r, err)
			return
		}
	} else {
		req.ProviderFirmID = nil
	}

	party := &db.Party{
		DealID:         req.DealID,
		UserID:         req.UserID,
		PartyType:      req.PartyType,
		ActingFor:      req.ActingFor,
		ProviderFirmID: req.ProviderFirmID,
		Status:         models.PartyInvited,
	}
	if err := h.Store.CreateParty(r.Context(), party); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, party)
}

func (h *Handler) ConfirmPartyHandler(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamInt(r, "partyId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	ok, err := h.Store.UpdatePartyStatus(r.Context(), id,
		models.SourcesOf(models.PartyActive, models.PartyTransitions),
		models.PartyActive, nil)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !ok {
		h.failPartyTransition(w, r, id, "party cannot be confirmed")
		return
	}
	party, err := h.Store.GetParty(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, party)
}

type removePartyRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) RemovePartyHandler(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamInt(r, "partyId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	party, err := h.Store.GetParty(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	actor, err := h.actorParty(r, party.DealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if actor.PartyType != models.PartyLender {
		h.respondError(w, r, apperr.PermissionDenied("only the lender can remove parties"))
		return
	}

	var req removePartyRequest
	if err := readJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	var reason *string
	if s := strings.TrimSpace(req.Reason); s != "" {
		reason = &s
	}

	ok, err := h.Store.UpdatePartyStatus(r.Context(), id,
		models.SourcesOf(models.PartyRemoved, models.PartyTransitions),
		models.PartyRemoved, reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !ok {
		h.failPartyTransition(w, r, id, "party is already removed")
		return
	}
	updated, err := h.Store.GetParty(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, updated)
}

type replaceSolicitorRequest struct {
	DealID     int    `json:"deal_id"`
	NewPartyID int    `json:"new_party_id"`
	Reason     string `json:"reason"`
}

// ReplaceSolicitorHandler swaps the active lender solicitor for another
// lender-side solicitor party in one transaction.
func (h *Handler) ReplaceSolicitorHandler(w http.ResponseWriter, r *http.Request) {
	var req replaceSolicitorRequest
	if err := readJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.DealID <= 0 || req.NewPartyID <= 0 {
		h.respondError(w, r, apperr.Validation("deal_id and new_party_id must be positive"))
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		h.respondError(w, r, apperr.Validation("reason is required"))
		return
	}
	actor, err := h.actorParty(r, req.DealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if actor.PartyType != models.PartyLender {
		h.respondError(w, r, apperr.PermissionDenied("only the lender can replace its solicitor"))
		return
	}

	if err := h.Store.ReplaceLenderSolicitor(r.Context(), req.DealID, req.NewPartyID, req.Reason); err != nil {
		h.respondError(w, r, err)
		return
	}
	party, err := h.Store.GetParty(r.Context(), req.NewPartyID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, party)
}

func (h *Handler) ListPartiesHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)
	dealID, err := strconv.Atoi(r.URL.Query().Get("deal_id"))
	if err != nil || dealID <= 0 {
		h.respondError(w, r, apperr.Validation("deal_id query parameter is required"))
		return
	}
	if _, err := h.actorParty(r, dealID); err != nil {
		h.respondError(w, r, err)
		return
	}
	parties, err := h.Store.ListParties(r.Context(), dealID, params.Limit, params.Offset)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondList(w, parties)
}

func (h *Handler) failPartyTransition(w http.ResponseWriter, r *http.Request, id int, msg string) {
	party, err := h.Store.GetParty(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondError(w, r, apperr.InvalidTransition(string(party.Status), "%s", msg))
}
