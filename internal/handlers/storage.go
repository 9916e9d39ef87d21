package handlers

import (
	"context"
	"time"

	"dealflow/db"
	"dealflow/models"
)

// StorageInterface is everything the HTTP layer needs from persistence.
// db.Storage is the production implementation; tests substitute MockStorage.
type StorageInterface interface {
	CreateDeal(ctx context.Context, d *db.Deal) error
	GetDeal(ctx context.Context, id int) (*db.Deal, error)
	UpdateDealStatus(ctx context.Context, id int, status models.DealStatus) error
	ListDeals(ctx context.Context, limit, offset int) ([]db.Deal, error)

	CreateParty(ctx context.Context, p *db.Party) error
	GetParty(ctx context.Context, id int) (*db.Party, error)
	GetPartyForUser(ctx context.Context, dealID, userID int) (*db.Party, error)
	ListParties(ctx context.Context, dealID, limit, offset int) ([]db.Party, error)
	UpdatePartyStatus(ctx context.Context, id int, from []models.PartyStatus, to models.PartyStatus, reason *string) (bool, error)
	ReplaceLenderSolicitor(ctx context.Context, dealID, newPartyID int, reason string) error

	ListMatchingFirms(ctx context.Context, roleType models.PartyType, limit, offset int) ([]db.ProviderFirm, error)
	GetProviderFirm(ctx context.Context, id int) (*db.ProviderFirm, error)
	CreateProviderFirm(ctx context.Context, f *db.ProviderFirm) error

	CreateEnquiries(ctx context.Context, enquiries []db.Enquiry) ([]db.Enquiry, error)
	GetEnquiry(ctx context.Context, id int) (*db.Enquiry, error)
	ListEnquiries(ctx context.Context, dealID, limit, offset int) ([]db.Enquiry, error)
	UpdateEnquiryStatus(ctx context.Context, id int, from []models.EnquiryStatus, to models.EnquiryStatus) (bool, error)
	ExpireOverdueEnquiries(ctx context.Context, now time.Time) (int64, error)

	CreateQuote(ctx context.Context, q *db.Quote) error
	GetQuote(ctx context.Context, id int) (*db.Quote, error)
	ListQuotes(ctx context.Context, dealID, limit, offset int) ([]db.Quote, error)
	UpdateQuoteStatus(ctx context.Context, id int, from []models.QuoteStatus, to models.QuoteStatus, notes *string, counterPrice *float64) (bool, error)
	ReviseQuote(ctx context.Context, id int, price float64, leadTimeDays int, scope, assumptions string, validUntil *time.Time) (bool, error)

	CreateSelection(ctx context.Context, sel *db.Selection) error
	AcceptQuoteAndSelect(ctx context.Context, quoteID int, sel *db.Selection) error
	GetSelection(ctx context.Context, id int) (*db.Selection, error)
	ListSelections(ctx context.Context, dealID, limit, offset int) ([]db.Selection, error)
	ApproveSelection(ctx context.Context, id int) (*db.Selection, error)
	DeclineSelection(ctx context.Context, id int) (bool, error)

	GetStage(ctx context.Context, id int) (*db.ProviderStage, error)
	ListStages(ctx context.Context, dealID, limit, offset int) ([]db.ProviderStage, error)
	AdvanceStage(ctx context.Context, id int, expected, next string) (bool, error)
	MandatoryTaskProgress(ctx context.Context, stageID int, stage string) (int, int, error)
	CreateTask(ctx context.Context, t *db.Task, dependencyIDs []int) error
	GetTask(ctx context.Context, id int) (*db.Task, error)
	ListTasks(ctx context.Context, stageID, limit, offset int) ([]db.Task, error)
	ListTaskDependencies(ctx context.Context, taskID int) ([]int, error)
	StartTask(ctx context.Context, id int) (bool, error)
	CompleteTask(ctx context.Context, id int) (*db.Task, error)

	CreateCP(ctx context.Context, cp *db.ConditionPrecedent) error
	GetCP(ctx context.Context, id int) (*db.ConditionPrecedent, error)
	ListCPs(ctx context.Context, dealID, limit, offset int) ([]db.ConditionPrecedent, error)
	SetCPStatus(ctx context.Context, id int, to models.CPStatus, reason *string) (bool, error)
	CPReadiness(ctx context.Context, dealID int) (mandatory, cleared int, err error)
	CreateRequisition(ctx context.Context, r *db.Requisition) error
	GetRequisition(ctx context.Context, id int) (*db.Requisition, error)
	ListRequisitions(ctx context.Context, dealID, limit, offset int) ([]db.Requisition, error)
	RespondRequisition(ctx context.Context, id int, response string) (bool, error)
	SetRequisitionStatus(ctx context.Context, id int, from []models.RequisitionStatus, to models.RequisitionStatus) (bool, error)
	CountOpenRequisitions(ctx context.Context, dealID int) (int, error)

	CreateDrawdown(ctx context.Context, d *db.Drawdown) error
	GetDrawdown(ctx context.Context, id int) (*db.Drawdown, error)
	ListDrawdowns(ctx context.Context, dealID, limit, offset int) ([]db.Drawdown, error)
	UpdateMSStatus(ctx context.Context, id int, from, to models.MSReviewStatus, siteVisitDate *time.Time, notes *string) (bool, error)
	MSApprove(ctx context.Context, id int, notes *string) (bool, error)
	MSReject(ctx context.Context, id int, reason string) (bool, error)
	ApproveDrawdown(ctx context.Context, id int) (*db.Drawdown, error)
	RejectDrawdown(ctx context.Context, id int, reason string) (bool, error)
	MarkDrawdownPaid(ctx context.Context, id int) (bool, error)
	CountDrawdowns(ctx context.Context, dealID int, statuses []models.LenderApprovalStatus) (int, error)
	AddDrawdownDocuments(ctx context.Context, docs []db.DrawdownDocument) ([]db.DrawdownDocument, error)
	ListDrawdownDocuments(ctx context.Context, drawdownID int) ([]db.DrawdownDocument, error)

	CreateDeliverable(ctx context.Context, d *db.Deliverable) error
	GetDeliverable(ctx context.Context, id int) (*db.Deliverable, error)
	ListDeliverables(ctx context.Context, dealID, limit, offset int) ([]db.Deliverable, error)
	ReviewDeliverable(ctx context.Context, id int, to models.DeliverableStatus, requestRevision bool, notes *string) (*db.Deliverable, error)
	UploadDeliverableRevision(ctx context.Context, id int, fileName, storageKey string) (*db.Deliverable, error)

	CreateAppointment(ctx context.Context, a *db.Appointment, slots []db.AppointmentSlot) ([]db.AppointmentSlot, error)
	GetAppointment(ctx context.Context, id int) (*db.Appointment, error)
	ListAppointments(ctx context.Context, dealID, limit, offset int) ([]db.Appointment, error)
	ListAppointmentSlots(ctx context.Context, appointmentID int) ([]db.AppointmentSlot, error)
	ConfirmAppointment(ctx context.Context, id int, slotID *int) (*db.Appointment, error)
	RescheduleAppointment(ctx context.Context, id int, slots []db.AppointmentSlot) (*db.Appointment, []db.AppointmentSlot, error)
	CancelAppointment(ctx context.Context, id int, reason *string) (bool, error)
	CompleteAppointment(ctx context.Context, id int) (bool, error)
}
