// Package models holds the deal workflow vocabulary: party roles, entity
// statuses and the allowed transitions between them. Handlers and storage
// both depend on this package; it depends on nothing.
package models

import "sort"

// PartyType identifies the role a party holds on a deal.
type PartyType string

const (
	PartyLender             PartyType = "lender"
	PartyBorrower           PartyType = "borrower"
	PartyValuer             PartyType = "valuer"
	PartyMonitoringSurveyor PartyType = "monitoring_surveyor"
	PartySolicitor          PartyType = "solicitor"
)

// ConsultantRoles are the role types a provider firm can be procured for.
var ConsultantRoles = []PartyType{PartyValuer, PartyMonitoringSurveyor, PartySolicitor}

func IsConsultantRole(pt PartyType) bool {
	for _, r := range ConsultantRoles {
		if r == pt {
			return true
		}
	}
	return false
}

// ActingFor records which principal side a consultant represents.
type ActingFor string

const (
	ForLender   ActingFor = "lender"
	ForBorrower ActingFor = "borrower"
)

// DealStatus is the aggregate deal lifecycle. Completed and cancelled are terminal.
type DealStatus string

const (
	DealActive    DealStatus = "active"
	DealCompleted DealStatus = "completed"
	DealCancelled DealStatus = "cancelled"
	DealOnHold    DealStatus = "on_hold"
)

// PartyStatus is the appointment lifecycle of a deal party.
type PartyStatus string

const (
	PartyInvited             PartyStatus = "invited"
	PartyPendingConfirmation PartyStatus = "pending_confirmation"
	PartyActive              PartyStatus = "active"
	PartyRemoved             PartyStatus = "removed"
)

var PartyTransitions = map[PartyStatus]map[PartyStatus]bool{
	PartyInvited:             {PartyPendingConfirmation: true, PartyActive: true, PartyRemoved: true},
	PartyPendingConfirmation: {PartyActive: true, PartyRemoved: true},
	PartyActive:              {PartyRemoved: true},
	PartyRemoved:             {},
}

// EnquiryStatus tracks a request-for-quote sent to one provider firm.
type EnquiryStatus string

const (
	EnquirySent         EnquiryStatus = "sent"
	EnquiryViewed       EnquiryStatus = "viewed"
	EnquiryAcknowledged EnquiryStatus = "acknowledged"
	EnquiryQuoted       EnquiryStatus = "quoted"
	EnquiryDeclined     EnquiryStatus = "declined"
	EnquiryExpired      EnquiryStatus = "expired"
)

var EnquiryTransitions = map[EnquiryStatus]map[EnquiryStatus]bool{
	EnquirySent:         {EnquiryViewed: true, EnquiryAcknowledged: true, EnquiryQuoted: true, EnquiryDeclined: true, EnquiryExpired: true},
	EnquiryViewed:       {EnquiryAcknowledged: true, EnquiryQuoted: true, EnquiryDeclined: true, EnquiryExpired: true},
	EnquiryAcknowledged: {EnquiryQuoted: true, EnquiryDeclined: true, EnquiryExpired: true},
	EnquiryQuoted:       {},
	EnquiryDeclined:     {},
	EnquiryExpired:      {},
}

// EnquiryOpenStatuses are the states a quote may still be submitted from.
var EnquiryOpenStatuses = []EnquiryStatus{EnquirySent, EnquiryViewed, EnquiryAcknowledged}

func EnquiryIsOpen(s EnquiryStatus) bool {
	for _, o := range EnquiryOpenStatuses {
		if o == s {
			return true
		}
	}
	return false
}

// QuoteStatus tracks a provider's quote against one enquiry.
type QuoteStatus string

const (
	QuoteSubmitted            QuoteStatus = "submitted"
	QuoteUnderReview          QuoteStatus = "under_review"
	QuoteAccepted             QuoteStatus = "accepted"
	QuoteRejected             QuoteStatus = "rejected"
	QuoteNegotiationRequested QuoteStatus = "negotiation_requested"
)

var QuoteTransitions = map[QuoteStatus]map[QuoteStatus]bool{
	QuoteSubmitted:   {QuoteUnderReview: true, QuoteAccepted: true, QuoteRejected: true, QuoteNegotiationRequested: true},
	QuoteUnderReview: {QuoteAccepted: true, QuoteRejected: true, QuoteNegotiationRequested: true},
	// negotiate is the only way back: the provider revises and the quote
	// returns to submitted.
	QuoteNegotiationRequested: {QuoteSubmitted: true},
	QuoteAccepted:             {},
	QuoteRejected:             {},
}

// SelectionStatus tracks an engaged provider selection.
type SelectionStatus string

const (
	SelectionActive                SelectionStatus = "active"
	SelectionPendingLenderApproval SelectionStatus = "pending_lender_approval"
	SelectionDeclined              SelectionStatus = "declined"
)

// StageSequences lists the ordered engagement stages per consultant role.
var StageSequences = map[PartyType][]string{
	PartyValuer:             {"instructed", "site_visit", "report_drafted", "delivered"},
	PartyMonitoringSurveyor: {"instructed", "initial_report", "monitoring", "delivered"},
	PartySolicitor:          {"instructed", "due_diligence", "cp_satisfaction", "completion"},
}

// NextStage returns the stage after current for the role, or ok=false when
// current is the final stage (or unknown).
func NextStage(role PartyType, current string) (string, bool) {
	seq := StageSequences[role]
	for i, s := range seq {
		if s == current && i+1 < len(seq) {
			return seq[i+1], true
		}
	}
	return "", false
}

// FirstStage returns the initial stage for a role.
func FirstStage(role PartyType) string {
	if seq := StageSequences[role]; len(seq) > 0 {
		return seq[0]
	}
	return "instructed"
}

// TaskStatus and TaskPriority describe checklist items on a provider stage.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskBlocked    TaskStatus = "blocked"
	TaskCompleted  TaskStatus = "completed"
)

type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityMedium   TaskPriority = "medium"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

func ValidTaskPriority(p TaskPriority) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// CPStatus is a condition precedent's state.
type CPStatus string

const (
	CPPending   CPStatus = "pending"
	CPSatisfied CPStatus = "satisfied"
	CPRejected  CPStatus = "rejected"
	CPWaived    CPStatus = "waived"
)

var CPTransitions = map[CPStatus]map[CPStatus]bool{
	CPPending:   {CPSatisfied: true, CPRejected: true, CPWaived: true},
	CPSatisfied: {},
	CPRejected:  {},
	CPWaived:    {},
}

// RequisitionStatus is a raised legal question's state.
type RequisitionStatus string

const (
	RequisitionOpen      RequisitionStatus = "open"
	RequisitionResponded RequisitionStatus = "responded"
	RequisitionApproved  RequisitionStatus = "approved"
	RequisitionRejected  RequisitionStatus = "rejected"
	RequisitionClosed    RequisitionStatus = "closed"
)

var RequisitionTransitions = map[RequisitionStatus]map[RequisitionStatus]bool{
	RequisitionOpen:      {RequisitionResponded: true, RequisitionClosed: true},
	RequisitionResponded: {RequisitionApproved: true, RequisitionRejected: true, RequisitionClosed: true},
	RequisitionApproved:  {},
	RequisitionRejected:  {},
	RequisitionClosed:    {},
}

// MSReviewStatus is the monitoring surveyor's inspection chain on a drawdown.
// NotRequired is set when the drawdown does not need an IMS inspection.
type MSReviewStatus string

const (
	MSNotRequired        MSReviewStatus = "not_required"
	MSPending            MSReviewStatus = "pending"
	MSUnderReview        MSReviewStatus = "under_review"
	MSSiteVisitScheduled MSReviewStatus = "site_visit_scheduled"
	MSSiteVisitCompleted MSReviewStatus = "site_visit_completed"
	MSApproved           MSReviewStatus = "ms_approved"
	MSRejected           MSReviewStatus = "ms_rejected"
)

// MSReviewTransitions enforces the strict in-order chain; ms_reject is
// reachable from every non-terminal state.
var MSReviewTransitions = map[MSReviewStatus]map[MSReviewStatus]bool{
	MSPending:            {MSUnderReview: true, MSRejected: true},
	MSUnderReview:        {MSSiteVisitScheduled: true, MSRejected: true},
	MSSiteVisitScheduled: {MSSiteVisitCompleted: true, MSRejected: true},
	MSSiteVisitCompleted: {MSApproved: true, MSRejected: true},
	MSApproved:           {},
	MSRejected:           {},
	MSNotRequired:        {},
}

// LenderApprovalStatus is the lender's approval chain on a drawdown.
type LenderApprovalStatus string

const (
	DrawdownRequested             LenderApprovalStatus = "requested"
	DrawdownIMSInspectionRequired LenderApprovalStatus = "ims_inspection_required"
	DrawdownIMSCertified          LenderApprovalStatus = "ims_certified"
	DrawdownLenderReview          LenderApprovalStatus = "lender_review"
	DrawdownApproved              LenderApprovalStatus = "approved"
	DrawdownPaid                  LenderApprovalStatus = "paid"
	DrawdownRejected              LenderApprovalStatus = "rejected"
)

var LenderApprovalTransitions = map[LenderApprovalStatus]map[LenderApprovalStatus]bool{
	DrawdownRequested:             {DrawdownIMSInspectionRequired: true, DrawdownLenderReview: true, DrawdownRejected: true},
	DrawdownIMSInspectionRequired: {DrawdownIMSCertified: true, DrawdownLenderReview: true, DrawdownRejected: true},
	DrawdownIMSCertified:          {DrawdownLenderReview: true, DrawdownRejected: true},
	DrawdownLenderReview:          {DrawdownApproved: true, DrawdownRejected: true},
	DrawdownApproved:              {DrawdownPaid: true, DrawdownRejected: true},
	DrawdownPaid:                  {},
	DrawdownRejected:              {},
}

func DrawdownTerminal(s LenderApprovalStatus) bool {
	return s == DrawdownPaid || s == DrawdownRejected
}

// DrawdownOpenStatuses are the lender-chain states of a drawdown that is not
// yet settled.
var DrawdownOpenStatuses = []LenderApprovalStatus{
	DrawdownRequested, DrawdownIMSInspectionRequired, DrawdownIMSCertified,
	DrawdownLenderReview, DrawdownApproved,
}

// DeliverableStatus is a consultant deliverable's review state.
type DeliverableStatus string

const (
	DeliverableUploaded    DeliverableStatus = "uploaded"
	DeliverableUnderReview DeliverableStatus = "under_review"
	DeliverableApproved    DeliverableStatus = "approved"
	DeliverableRejected    DeliverableStatus = "rejected"
	DeliverableRevised     DeliverableStatus = "revised"
)

// ReviewableDeliverableStatuses are the states a lender review acts on.
var ReviewableDeliverableStatuses = []DeliverableStatus{
	DeliverableUploaded, DeliverableUnderReview, DeliverableRevised,
}

// AppointmentStatus is the site-visit / meeting lifecycle.
type AppointmentStatus string

const (
	AppointmentProposed    AppointmentStatus = "proposed"
	AppointmentConfirmed   AppointmentStatus = "confirmed"
	AppointmentRescheduled AppointmentStatus = "rescheduled"
	AppointmentCancelled   AppointmentStatus = "cancelled"
	AppointmentCompleted   AppointmentStatus = "completed"
)

var AppointmentTransitions = map[AppointmentStatus]map[AppointmentStatus]bool{
	AppointmentProposed:    {AppointmentConfirmed: true, AppointmentRescheduled: true, AppointmentCancelled: true},
	AppointmentConfirmed:   {AppointmentRescheduled: true, AppointmentCancelled: true, AppointmentCompleted: true},
	AppointmentRescheduled: {AppointmentConfirmed: true, AppointmentCancelled: true},
	AppointmentCancelled:   {},
	AppointmentCompleted:   {},
}

// AppointmentCapabilities are the server-computed action flags returned with
// every appointment so clients never infer permission from status alone.
type AppointmentCapabilities struct {
	CanConfirm    bool `json:"can_confirm"`
	CanReschedule bool `json:"can_reschedule"`
	CanCancel     bool `json:"can_cancel"`
	CanComplete   bool `json:"can_complete"`
}

// CapabilitiesFor computes the appointment actions available to an actor role
// from the current status. Confirmation sits with the principal side; the
// proposing provider may reschedule or cancel; completion is recorded by the
// provider or the lender.
func CapabilitiesFor(status AppointmentStatus, actor PartyType) AppointmentCapabilities {
	var c AppointmentCapabilities
	principal := actor == PartyLender || actor == PartyBorrower
	consultant := IsConsultantRole(actor)
	c.CanConfirm = principal && AppointmentTransitions[status][AppointmentConfirmed]
	c.CanReschedule = (principal || consultant) && AppointmentTransitions[status][AppointmentRescheduled]
	c.CanCancel = (principal || consultant) && AppointmentTransitions[status][AppointmentCancelled]
	c.CanComplete = (consultant || actor == PartyLender) && AppointmentTransitions[status][AppointmentCompleted]
	return c
}

// DocumentCategory classifies uploaded drawdown documents.
type DocumentCategory string

const (
	DocValuationReport  DocumentCategory = "valuation_report"
	DocMonitoringReport DocumentCategory = "monitoring_report"
	DocInvoice          DocumentCategory = "invoice"
	DocSitePhoto        DocumentCategory = "site_photo"
	DocLegalDocument    DocumentCategory = "legal_document"
	DocOther            DocumentCategory = "other"
)

func ValidDocumentCategory(c DocumentCategory) bool {
	switch c {
	case DocValuationReport, DocMonitoringReport, DocInvoice, DocSitePhoto, DocLegalDocument, DocOther:
		return true
	}
	return false
}

// CanTransition reports whether the table allows current -> next.
func CanTransition[S ~string](current, next S, table map[S]map[S]bool) bool {
	nexts, ok := table[current]
	if !ok {
		return false
	}
	return nexts[next]
}

// SourcesOf returns, sorted, every state the table allows next to be reached
// from. Guarded updates derive their from-lists through it so the guards can
// never drift from the transition tables.
func SourcesOf[S ~string](next S, table map[S]map[S]bool) []S {
	from := []S{}
	for current, nexts := range table {
		if nexts[next] {
			from = append(from, current)
		}
	}
	sort.Slice(from, func(i, j int) bool { return from[i] < from[j] })
	return from
}
