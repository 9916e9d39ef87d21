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

// CreateDeliverableHandler accepts a provider's work product as multipart
// (stage_id, title, file) and stores the bytes under a uuid blob key.
func (h *Handler) CreateDeliverableHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.respondError(w, r, apperr.Validation("invalid multipart form"))
		return
	}
	stageID, err := strconv.Atoi(r.FormValue("stage_id"))
	if err != nil || stageID <= 0 {
		h.respondError(w, r, apperr.Validation("stage_id is required"))
		return
	}
	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		h.respondError(w, r, apperr.Validation("title is required"))
		return
	}
	stage, err := h.Store.GetStage(r.Context(), stageID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	actor, err := h.actorParty(r, stage.DealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if actor.PartyType != stage.RoleType {
		h.respondError(w, r, apperr.PermissionDenied("only the engaged provider can upload a deliverable"))
		return
	}

	f, fh, err := r.FormFile("file")
	if err != nil {
		h.respondError(w, r, apperr.Validation("file is required"))
		return
	}
	defer f.Close()
	key := uuid.NewString()
	if err := h.Blobs.Put(r.Context(), key, fh.Header.Get("Content-Type"), f); err != nil {
		h.respondError(w, r, err)
		return
	}

	deliverable := &db.Deliverable{
		DealID:            stage.DealID,
		StageID:           stageID,
		UploadedByPartyID: actor.ID,
		Title:             title,
		FileName:          fh.Filename,
		StorageKey:        key,
		Status:            models.DeliverableUploaded,
	}
	if err := h.Store.CreateDeliverable(r.Context(), deliverable); err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, deliverable)
}

func (h *Handler) ListDeliverablesHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)
	dealID, err := strconv.Atoi(r.URL.Query().Get("deal_id"))
	if err != nil || dealID <= 0 {
		h.respondError(w, r, apperr.Validation("deal_id query parameter is required"))
		return
	}
	deliverables, err := h.Store.ListDeliverables(r.Context(), dealID, params.Limit, params.Offset)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondList(w, deliverables)
}

type reviewDeliverableRequest struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes"`
}

// ReviewDeliverableHandler applies the lender decision. request_revision
// keeps the deliverable under review but flags a new version as expected.
func (h *Handler) ReviewDeliverableHandler(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamInt(r, "deliverableId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	deliverable, err := h.Store.GetDeliverable(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	actor, err := h.actorParty(r, deliverable.DealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if actor.PartyType != models.PartyLender {
		h.respondError(w, r, apperr.PermissionDenied("only the lender can review a deliverable"))
		return
	}

	var req reviewDeliverableRequest
	if err := readJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	var to models.DeliverableStatus
	requestRevision := false
	switch req.Decision {
	case "approve":
		to = models.DeliverableApproved
	case "reject":
		to = models.DeliverableRejected
	case "request_revision":
		to = models.DeliverableUnderReview
		requestRevision = true
	default:
		h.respondError(w, r, apperr.Validation("decision must be approve, reject or request_revision"))
		return
	}
	var notes *string
	if s := strings.TrimSpace(req.Notes); s != "" {
		notes = &s
	}

	reviewed, err := h.Store.ReviewDeliverable(r.Context(), id, to, requestRevision, notes)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.Notify.Notify(r.Context(), deliverable.UploadedByPartyID, "deliverable."+req.Decision, reviewed)
	h.respondJSON(w, http.StatusOK, reviewed)
}

// UploadDeliverableRevisionHandler replaces the file after a rejection or a
// revision request. The version strictly increments.
func (h *Handler) UploadDeliverableRevisionHandler(w http.ResponseWriter, r *http.Request) {
	id, err := urlParamInt(r, "deliverableId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	deliverable, err := h.Store.GetDeliverable(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	actor, err := h.actorParty(r, deliverable.DealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if actor.ID != deliverable.UploadedByPartyID {
		h.respondError(w, r, apperr.PermissionDenied("only the original uploader can revise a deliverable"))
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.respondError(w, r, apperr.Validation("invalid multipart form"))
		return
	}
	f, fh, err := r.FormFile("file")
	if err != nil {
		h.respondError(w, r, apperr.Validation("file is required"))
		return
	}
	defer f.Close()
	key := uuid.NewString()
	if err := h.Blobs.Put(r.Context(), key, fh.Header.Get("Content-Type"), f); err != nil {
		h.respondError(w, r, err)
		return
	}

	revised, err := h.Store.UploadDeliverableRevision(r.Context(), id, fh.Filename, key)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, revised)
}

type appointmentSlotRequest struct {
	StartsAt time.Time `json:"starts_at"`
	EndsAt   time.Time `json:"ends_at"`
}

type createAppointmentRequest struct {
	DealID      int                      `json:"deal_id"`
	Subject     string                   `json:"subject"`
	Location    *string                  `json:"location,omitempty"`
	ScheduledAt *time.Time               `json:"scheduled_at,omitempty"`
	Slots       []appointmentSlotRequest `json:"slots,omitempty"`
}

// appointmentView is an appointment plus the action flags computed for the
// requesting actor.
type appointmentView struct {
	*db.Appointment
	Slots        []db.AppointmentSlot           `json:"slots,omitempty"`
	Capabilities models.AppointmentCapabilities `json:"capabilities"`
}

func (h *Handler) appointmentView(r *http.Request, a *db.Appointment, actor *db.Party) (*appointmentView, error) {
	slots, err := h.Store.ListAppointmentSlots(r.Context(), a.ID)
	if err != nil {
		return nil, err
	}
	return &appointmentView{
		Appointment:  a,
		Slots:        slots,
		Capabilities: models.CapabilitiesFor(a.Status, actor.PartyType),
	}, nil
}

// CreateAppointmentHandler lets a consultant propose a visit, either with
// candidate slots or a fixed time.
func (h *Handler) CreateAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := readJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if req.DealID <= 0 {
		h.respondError(w, r, apperr.Validation("deal_id must be positive"))
		return
	}
	if strings.TrimSpace(req.Subject) == "" {
		h.respondError(w, r, apperr.Validation("subject is required"))
		return
	}
	if len(req.Slots) == 0 && req.ScheduledAt == nil {
		h.respondError(w, r, apperr.Validation("either slots or scheduled_at is required"))
		return
	}
	for _, s := range req.Slots {
		if !s.EndsAt.After(s.StartsAt) {
			h.respondError(w, r, apperr.Validation("slot end must be after its start"))
			return
		}
	}
	actor, err := h.actorParty(r, req.DealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !models.IsConsultantRole(actor.PartyType) {
		h.respondError(w, r, apperr.PermissionDenied("only a consultant can propose an appointment"))
		return
	}

	appointment := &db.Appointment{
		DealID:            req.DealID,
		ProposedByPartyID: actor.ID,
		Subject:           req.Subject,
		Location:          req.Location,
		Status:            models.AppointmentProposed,
		ScheduledAt:       req.ScheduledAt,
	}
	slots := make([]db.AppointmentSlot, 0, len(req.Slots))
	for _, s := range req.Slots {
		slots = append(slots, db.AppointmentSlot{StartsAt: s.StartsAt, EndsAt: s.EndsAt})
	}
	created, err := h.Store.CreateAppointment(r.Context(), appointment, slots)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, appointmentView{
		Appointment:  appointment,
		Slots:        created,
		Capabilities: models.CapabilitiesFor(appointment.Status, actor.PartyType),
	})
}

func (h *Handler) ListAppointmentsHandler(w http.ResponseWriter, r *http.Request) {
	params := parsePaginationParams(r)
	dealID, err := strconv.Atoi(r.URL.Query().Get("deal_id"))
	if err != nil || dealID <= 0 {
		h.respondError(w, r, apperr.Validation("deal_id query parameter is required"))
		return
	}
	actor, err := h.actorParty(r, dealID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	appointments, err := h.Store.ListAppointments(r.Context(), dealID, params.Limit, params.Offset)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	views := make([]*appointmentView, 0, len(appointments))
	for i := range appointments {
		v, err := h.appointmentView(r, &appointments[i], actor)
		if err != nil {
			h.respondError(w, r, err)
			return
		}
		views = append(views, v)
	}
	h.respondList(w, views)
}

// appointmentActor loads an appointment and the acting party.
func (h *Handler) appointmentActor(r *http.Request) (*db.Appointment, *db.Party, error) {
	id, err := urlParamInt(r, "appointmentId")
	if err != nil {
		return nil, nil, err
	}
	appointment, err := h.Store.GetAppointment(r.Context(), id)
	if err != nil {
		return nil, nil, err
	}
	actor, err := h.actorParty(r, appointment.DealID)
	if err != nil {
		return nil, nil, err
	}
	return appointment, actor, nil
}

type confirmAppointmentRequest struct {
	SlotID *int `json:"slot_id,omitempty"`
}

func (h *Handler) ConfirmAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	appointment, actor, err := h.appointmentActor(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !models.CapabilitiesFor(appointment.Status, actor.PartyType).CanConfirm {
		h.respondError(w, r, apperr.PermissionDenied("actor cannot confirm this appointment"))
		return
	}
	var req confirmAppointmentRequest
	if err := readJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	confirmed, err := h.Store.ConfirmAppointment(r.Context(), appointment.ID, req.SlotID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	view, err := h.appointmentView(r, confirmed, actor)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, view)
}

type rescheduleAppointmentRequest struct {
	Slots []appointmentSlotRequest `json:"slots"`
}

func (h *Handler) RescheduleAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	appointment, actor, err := h.appointmentActor(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !models.CapabilitiesFor(appointment.Status, actor.PartyType).CanReschedule {
		h.respondError(w, r, apperr.PermissionDenied("actor cannot reschedule this appointment"))
		return
	}
	var req rescheduleAppointmentRequest
	if err := readJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if len(req.Slots) == 0 {
		h.respondError(w, r, apperr.Validation("at least one slot is required"))
		return
	}
	slots := make([]db.AppointmentSlot, 0, len(req.Slots))
	for _, s := range req.Slots {
		if !s.EndsAt.After(s.StartsAt) {
			h.respondError(w, r, apperr.Validation("slot end must be after its start"))
			return
		}
		slots = append(slots, db.AppointmentSlot{StartsAt: s.StartsAt, EndsAt: s.EndsAt})
	}
	updated, newSlots, err := h.Store.RescheduleAppointment(r.Context(), appointment.ID, slots)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, appointmentView{
		Appointment:  updated,
		Slots:        newSlots,
		Capabilities: models.CapabilitiesFor(updated.Status, actor.PartyType),
	})
}

type cancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) CancelAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	appointment, actor, err := h.appointmentActor(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !models.CapabilitiesFor(appointment.Status, actor.PartyType).CanCancel {
		h.respondError(w, r, apperr.PermissionDenied("actor cannot cancel this appointment"))
		return
	}
	var req cancelAppointmentRequest
	if err := readJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	var reason *string
	if s := strings.TrimSpace(req.Reason); s != "" {
		reason = &s
	}
	ok, err := h.Store.CancelAppointment(r.Context(), appointment.ID, reason)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !ok {
		h.failAppointmentTransition(w, r, appointment.ID, "appointment cannot be cancelled")
		return
	}
	h.respondAppointment(w, r, appointment.ID, actor)
}

func (h *Handler) CompleteAppointmentHandler(w http.ResponseWriter, r *http.Request) {
	appointment, actor, err := h.appointmentActor(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !models.CapabilitiesFor(appointment.Status, actor.PartyType).CanComplete {
		h.respondError(w, r, apperr.PermissionDenied("actor cannot complete this appointment"))
		return
	}
	ok, err := h.Store.CompleteAppointment(r.Context(), appointment.ID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if !ok {
		h.failAppointmentTransition(w, r, appointment.ID, "only a confirmed appointment can be completed")
		return
	}
	h.respondAppointment(w, r, appointment.ID, actor)
}

func (h *Handler) respondAppointment(w http.ResponseWriter, r *http.Request, id int, actor *db.Party) {
	appointment, err := h.Store.GetAppointment(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	view, err := h.appointmentView(r, appointment, actor)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, view)
}

func (h *Handler) failAppointmentTransition(w http.ResponseWriter, r *http.Request, id int, msg string) {
	appointment, err := h.Store.GetAppointment(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondError(w, r, apperr.InvalidTransition(string(appointment.Status), "%s", msg))
}
