package handlers_test

import (
	"context"
	"io"
	"time"

	"dealflow/db"
	"dealflow/models"
	"dealflow/pkg/apperr"
)

// MockStorage implements StorageInterface. Methods delegate to the optional
// Func fields; the defaults model one deal with a lender party for user 1.
type MockStorage struct {
	GetPartyForUserFunc        func(ctx context.Context, dealID, userID int) (*db.Party, error)
	GetPartyFunc               func(ctx context.Context, id int) (*db.Party, error)
	UpdatePartyStatusFunc      func(ctx context.Context, id int, from []models.PartyStatus, to models.PartyStatus, reason *string) (bool, error)
	ReplaceLenderSolicitorFunc func(ctx context.Context, dealID, newPartyID int, reason string) error

	CreateEnquiriesFunc     func(ctx context.Context, enquiries []db.Enquiry) ([]db.Enquiry, error)
	GetEnquiryFunc          func(ctx context.Context, id int) (*db.Enquiry, error)
	UpdateEnquiryStatusFunc func(ctx context.Context, id int, from []models.EnquiryStatus, to models.EnquiryStatus) (bool, error)

	CreateQuoteFunc          func(ctx context.Context, q *db.Quote) error
	GetQuoteFunc             func(ctx context.Context, id int) (*db.Quote, error)
	UpdateQuoteStatusFunc    func(ctx context.Context, id int, from []models.QuoteStatus, to models.QuoteStatus, notes *string, counterPrice *float64) (bool, error)
	AcceptQuoteAndSelectFunc func(ctx context.Context, quoteID int, sel *db.Selection) error
	ReviseQuoteFunc          func(ctx context.Context, id int, price float64, leadTimeDays int, scope, assumptions string, validUntil *time.Time) (bool, error)

	GetSelectionFunc     func(ctx context.Context, id int) (*db.Selection, error)
	ApproveSelectionFunc func(ctx context.Context, id int) (*db.Selection, error)
	DeclineSelectionFunc func(ctx context.Context, id int) (bool, error)

	ListStagesFunc            func(ctx context.Context, dealID, limit, offset int) ([]db.ProviderStage, error)
	GetStageFunc              func(ctx context.Context, id int) (*db.ProviderStage, error)
	AdvanceStageFunc          func(ctx context.Context, id int, expected, next string) (bool, error)
	MandatoryTaskProgressFunc func(ctx context.Context, stageID int, stage string) (int, int, error)
	GetTaskFunc               func(ctx context.Context, id int) (*db.Task, error)
	ListTaskDependenciesFunc  func(ctx context.Context, taskID int) ([]int, error)
	CompleteTaskFunc          func(ctx context.Context, id int) (*db.Task, error)
	StartTaskFunc             func(ctx context.Context, id int) (bool, error)

	GetCPFunc                 func(ctx context.Context, id int) (*db.ConditionPrecedent, error)
	SetCPStatusFunc           func(ctx context.Context, id int, to models.CPStatus, reason *string) (bool, error)
	CPReadinessFunc           func(ctx context.Context, dealID int) (int, int, error)
	CountOpenRequisitionsFunc func(ctx context.Context, dealID int) (int, error)
	GetRequisitionFunc        func(ctx context.Context, id int) (*db.Requisition, error)
	RespondRequisitionFunc    func(ctx context.Context, id int, response string) (bool, error)
	SetRequisitionStatusFunc  func(ctx context.Context, id int, from []models.RequisitionStatus, to models.RequisitionStatus) (bool, error)

	CreateDrawdownFunc   func(ctx context.Context, d *db.Drawdown) error
	CountDrawdownsFunc   func(ctx context.Context, dealID int, statuses []models.LenderApprovalStatus) (int, error)
	GetDrawdownFunc      func(ctx context.Context, id int) (*db.Drawdown, error)
	UpdateMSStatusFunc   func(ctx context.Context, id int, from, to models.MSReviewStatus, siteVisitDate *time.Time, notes *string) (bool, error)
	MSApproveFunc        func(ctx context.Context, id int, notes *string) (bool, error)
	MSRejectFunc         func(ctx context.Context, id int, reason string) (bool, error)
	ApproveDrawdownFunc  func(ctx context.Context, id int) (*db.Drawdown, error)
	RejectDrawdownFunc   func(ctx context.Context, id int, reason string) (bool, error)
	MarkDrawdownPaidFunc func(ctx context.Context, id int) (bool, error)

	GetDeliverableFunc            func(ctx context.Context, id int) (*db.Deliverable, error)
	ReviewDeliverableFunc         func(ctx context.Context, id int, to models.DeliverableStatus, requestRevision bool, notes *string) (*db.Deliverable, error)
	UploadDeliverableRevisionFunc func(ctx context.Context, id int, fileName, storageKey string) (*db.Deliverable, error)

	GetAppointmentFunc      func(ctx context.Context, id int) (*db.Appointment, error)
	ConfirmAppointmentFunc  func(ctx context.Context, id int, slotID *int) (*db.Appointment, error)
	CancelAppointmentFunc   func(ctx context.Context, id int, reason *string) (bool, error)
	CompleteAppointmentFunc func(ctx context.Context, id int) (bool, error)
}

func lenderParty(dealID, userID int) *db.Party {
	return &db.Party{
		ID: 1, DealID: dealID, UserID: userID,
		PartyType: models.PartyLender, ActingFor: models.ForLender,
		Status: models.PartyActive,
	}
}

func (m *MockStorage) CreateDeal(ctx context.Context, d *db.Deal) error {
	d.ID = 1
	d.CreatedAt = time.Now()
	d.UpdatedAt = d.CreatedAt
	return nil
}

func (m *MockStorage) GetDeal(ctx context.Context, id int) (*db.Deal, error) {
	return &db.Deal{ID: id, FacilityType: "development", Status: models.DealActive, CurrentStage: "procurement"}, nil
}

func (m *MockStorage) UpdateDealStatus(ctx context.Context, id int, status models.DealStatus) error {
	return nil
}

func (m *MockStorage) ListDeals(ctx context.Context, limit, offset int) ([]db.Deal, error) {
	return []db.Deal{{ID: 1, FacilityType: "development", Status: models.DealActive}}, nil
}

func (m *MockStorage) CreateParty(ctx context.Context, p *db.Party) error {
	p.ID = 2
	return nil
}

func (m *MockStorage) GetParty(ctx context.Context, id int) (*db.Party, error) {
	if m.GetPartyFunc != nil {
		return m.GetPartyFunc(ctx, id)
	}
	return &db.Party{ID: id, DealID: 1, UserID: 9, PartyType: models.PartySolicitor,
		ActingFor: models.ForLender, Status: models.PartyActive}, nil
}

func (m *MockStorage) GetPartyForUser(ctx context.Context, dealID, userID int) (*db.Party, error) {
	if m.GetPartyForUserFunc != nil {
		return m.GetPartyForUserFunc(ctx, dealID, userID)
	}
	return lenderParty(dealID, userID), nil
}

func (m *MockStorage) ListParties(ctx context.Context, dealID, limit, offset int) ([]db.Party, error) {
	return []db.Party{*lenderParty(dealID, 1)}, nil
}

func (m *MockStorage) UpdatePartyStatus(ctx context.Context, id int, from []models.PartyStatus, to models.PartyStatus, reason *string) (bool, error) {
	if m.UpdatePartyStatusFunc != nil {
		return m.UpdatePartyStatusFunc(ctx, id, from, to, reason)
	}
	return true, nil
}

func (m *MockStorage) ReplaceLenderSolicitor(ctx context.Context, dealID, newPartyID int, reason string) error {
	if m.ReplaceLenderSolicitorFunc != nil {
		return m.ReplaceLenderSolicitorFunc(ctx, dealID, newPartyID, reason)
	}
	return nil
}

func (m *MockStorage) ListMatchingFirms(ctx context.Context, roleType models.PartyType, limit, offset int) ([]db.ProviderFirm, error) {
	return []db.ProviderFirm{{ID: 1, Name: "Acme Surveys", RoleType: roleType}}, nil
}

func (m *MockStorage) GetProviderFirm(ctx context.Context, id int) (*db.ProviderFirm, error) {
	return &db.ProviderFirm{ID: id, Name: "Acme Surveys", RoleType: models.PartyValuer}, nil
}

func (m *MockStorage) CreateProviderFirm(ctx context.Context, f *db.ProviderFirm) error {
	f.ID = 77
	return nil
}

func (m *MockStorage) CreateEnquiries(ctx context.Context, enquiries []db.Enquiry) ([]db.Enquiry, error) {
	if m.CreateEnquiriesFunc != nil {
		return m.CreateEnquiriesFunc(ctx, enquiries)
	}
	for i := range enquiries {
		enquiries[i].ID = i + 1
	}
	return enquiries, nil
}

func (m *MockStorage) GetEnquiry(ctx context.Context, id int) (*db.Enquiry, error) {
	if m.GetEnquiryFunc != nil {
		return m.GetEnquiryFunc(ctx, id)
	}
	return &db.Enquiry{ID: id, DealID: 1, RoleType: models.PartyValuer,
		ProviderFirmID: 1, Status: models.EnquirySent, DueAt: time.Now().Add(72 * time.Hour)}, nil
}

func (m *MockStorage) ListEnquiries(ctx context.Context, dealID, limit, offset int) ([]db.Enquiry, error) {
	return []db.Enquiry{{ID: 1, DealID: dealID, RoleType: models.PartyValuer, Status: models.EnquirySent}}, nil
}

func (m *MockStorage) UpdateEnquiryStatus(ctx context.Context, id int, from []models.EnquiryStatus, to models.EnquiryStatus) (bool, error) {
	if m.UpdateEnquiryStatusFunc != nil {
		return m.UpdateEnquiryStatusFunc(ctx, id, from, to)
	}
	return true, nil
}

func (m *MockStorage) ExpireOverdueEnquiries(ctx context.Context, now time.Time) (int64, error) {
	return 0, nil
}

func (m *MockStorage) CreateQuote(ctx context.Context, q *db.Quote) error {
	if m.CreateQuoteFunc != nil {
		return m.CreateQuoteFunc(ctx, q)
	}
	q.ID = 1
	q.Version = 1
	return nil
}

func (m *MockStorage) GetQuote(ctx context.Context, id int) (*db.Quote, error) {
	if m.GetQuoteFunc != nil {
		return m.GetQuoteFunc(ctx, id)
	}
	return &db.Quote{ID: id, EnquiryID: 1, Price: 5000, LeadTimeDays: 10,
		Scope: "full valuation", Status: models.QuoteSubmitted, Version: 1}, nil
}

func (m *MockStorage) ListQuotes(ctx context.Context, dealID, limit, offset int) ([]db.Quote, error) {
	return []db.Quote{{ID: 1, EnquiryID: 1, Price: 5000, Status: models.QuoteSubmitted}}, nil
}

func (m *MockStorage) UpdateQuoteStatus(ctx context.Context, id int, from []models.QuoteStatus, to models.QuoteStatus, notes *string, counterPrice *float64) (bool, error) {
	if m.UpdateQuoteStatusFunc != nil {
		return m.UpdateQuoteStatusFunc(ctx, id, from, to, notes, counterPrice)
	}
	return true, nil
}

func (m *MockStorage) ReviseQuote(ctx context.Context, id int, price float64, leadTimeDays int, scope, assumptions string, validUntil *time.Time) (bool, error) {
	if m.ReviseQuoteFunc != nil {
		return m.ReviseQuoteFunc(ctx, id, price, leadTimeDays, scope, assumptions, validUntil)
	}
	return true, nil
}

func (m *MockStorage) CreateSelection(ctx context.Context, sel *db.Selection) error {
	sel.ID = 1
	return nil
}

func (m *MockStorage) AcceptQuoteAndSelect(ctx context.Context, quoteID int, sel *db.Selection) error {
	if m.AcceptQuoteAndSelectFunc != nil {
		return m.AcceptQuoteAndSelectFunc(ctx, quoteID, sel)
	}
	sel.ID = 1
	return nil
}

func (m *MockStorage) GetSelection(ctx context.Context, id int) (*db.Selection, error) {
	if m.GetSelectionFunc != nil {
		return m.GetSelectionFunc(ctx, id)
	}
	return &db.Selection{ID: id, DealID: 1, RoleType: models.PartyValuer,
		ProviderFirmID: 1, Status: models.SelectionPendingLenderApproval}, nil
}

func (m *MockStorage) ListSelections(ctx context.Context, dealID, limit, offset int) ([]db.Selection, error) {
	return []db.Selection{{ID: 1, DealID: dealID, RoleType: models.PartyValuer, Status: models.SelectionActive}}, nil
}

func (m *MockStorage) ApproveSelection(ctx context.Context, id int) (*db.Selection, error) {
	if m.ApproveSelectionFunc != nil {
		return m.ApproveSelectionFunc(ctx, id)
	}
	return &db.Selection{ID: id, DealID: 1, RoleType: models.PartyValuer, Status: models.SelectionActive}, nil
}

func (m *MockStorage) DeclineSelection(ctx context.Context, id int) (bool, error) {
	if m.DeclineSelectionFunc != nil {
		return m.DeclineSelectionFunc(ctx, id)
	}
	return true, nil
}

func (m *MockStorage) GetStage(ctx context.Context, id int) (*db.ProviderStage, error) {
	if m.GetStageFunc != nil {
		return m.GetStageFunc(ctx, id)
	}
	return &db.ProviderStage{ID: id, DealID: 1, SelectionID: 1,
		RoleType: models.PartyValuer, Stage: "instructed"}, nil
}

func (m *MockStorage) ListStages(ctx context.Context, dealID, limit, offset int) ([]db.ProviderStage, error) {
	if m.ListStagesFunc != nil {
		return m.ListStagesFunc(ctx, dealID, limit, offset)
	}
	return []db.ProviderStage{{ID: 1, DealID: dealID, RoleType: models.PartyValuer, Stage: "instructed"}}, nil
}

func (m *MockStorage) AdvanceStage(ctx context.Context, id int, expected, next string) (bool, error) {
	if m.AdvanceStageFunc != nil {
		return m.AdvanceStageFunc(ctx, id, expected, next)
	}
	return true, nil
}

func (m *MockStorage) MandatoryTaskProgress(ctx context.Context, stageID int, stage string) (int, int, error) {
	if m.MandatoryTaskProgressFunc != nil {
		return m.MandatoryTaskProgressFunc(ctx, stageID, stage)
	}
	return 1, 0, nil
}

func (m *MockStorage) CreateTask(ctx context.Context, t *db.Task, dependencyIDs []int) error {
	t.ID = 1
	return nil
}

func (m *MockStorage) GetTask(ctx context.Context, id int) (*db.Task, error) {
	if m.GetTaskFunc != nil {
		return m.GetTaskFunc(ctx, id)
	}
	return &db.Task{ID: id, StageID: 1, Stage: "instructed", Title: "Instruct valuer",
		Priority: models.PriorityMedium, Status: models.TaskPending}, nil
}

func (m *MockStorage) ListTasks(ctx context.Context, stageID, limit, offset int) ([]db.Task, error) {
	return []db.Task{{ID: 1, StageID: stageID, Stage: "instructed", Title: "Instruct valuer", Status: models.TaskPending}}, nil
}

func (m *MockStorage) ListTaskDependencies(ctx context.Context, taskID int) ([]int, error) {
	if m.ListTaskDependenciesFunc != nil {
		return m.ListTaskDependenciesFunc(ctx, taskID)
	}
	return nil, nil
}

func (m *MockStorage) StartTask(ctx context.Context, id int) (bool, error) {
	if m.StartTaskFunc != nil {
		return m.StartTaskFunc(ctx, id)
	}
	return true, nil
}

func (m *MockStorage) CompleteTask(ctx context.Context, id int) (*db.Task, error) {
	if m.CompleteTaskFunc != nil {
		return m.CompleteTaskFunc(ctx, id)
	}
	return &db.Task{ID: id, StageID: 1, Title: "Instruct valuer", Status: models.TaskCompleted}, nil
}

func (m *MockStorage) CreateCP(ctx context.Context, cp *db.ConditionPrecedent) error {
	cp.ID = 1
	return nil
}

func (m *MockStorage) GetCP(ctx context.Context, id int) (*db.ConditionPrecedent, error) {
	if m.GetCPFunc != nil {
		return m.GetCPFunc(ctx, id)
	}
	return &db.ConditionPrecedent{ID: id, DealID: 1, CPNumber: "CP-1",
		Title: "Planning permission", IsMandatory: true, Status: models.CPPending}, nil
}

func (m *MockStorage) ListCPs(ctx context.Context, dealID, limit, offset int) ([]db.ConditionPrecedent, error) {
	return []db.ConditionPrecedent{{ID: 1, DealID: dealID, CPNumber: "CP-1", Status: models.CPPending}}, nil
}

func (m *MockStorage) SetCPStatus(ctx context.Context, id int, to models.CPStatus, reason *string) (bool, error) {
	if m.SetCPStatusFunc != nil {
		return m.SetCPStatusFunc(ctx, id, to, reason)
	}
	return true, nil
}

func (m *MockStorage) CPReadiness(ctx context.Context, dealID int) (int, int, error) {
	if m.CPReadinessFunc != nil {
		return m.CPReadinessFunc(ctx, dealID)
	}
	return 4, 2, nil
}

func (m *MockStorage) CreateRequisition(ctx context.Context, r *db.Requisition) error {
	r.ID = 1
	return nil
}

func (m *MockStorage) GetRequisition(ctx context.Context, id int) (*db.Requisition, error) {
	if m.GetRequisitionFunc != nil {
		return m.GetRequisitionFunc(ctx, id)
	}
	return &db.Requisition{ID: id, DealID: 1, RaisedByPartyID: 5,
		Subject: "Title deeds", Question: "Confirm the registered title", Status: models.RequisitionOpen}, nil
}

func (m *MockStorage) ListRequisitions(ctx context.Context, dealID, limit, offset int) ([]db.Requisition, error) {
	return []db.Requisition{{ID: 1, DealID: dealID, Subject: "Title deeds", Status: models.RequisitionOpen}}, nil
}

func (m *MockStorage) RespondRequisition(ctx context.Context, id int, response string) (bool, error) {
	if m.RespondRequisitionFunc != nil {
		return m.RespondRequisitionFunc(ctx, id, response)
	}
	return true, nil
}

func (m *MockStorage) SetRequisitionStatus(ctx context.Context, id int, from []models.RequisitionStatus, to models.RequisitionStatus) (bool, error) {
	if m.SetRequisitionStatusFunc != nil {
		return m.SetRequisitionStatusFunc(ctx, id, from, to)
	}
	return true, nil
}

func (m *MockStorage) CountOpenRequisitions(ctx context.Context, dealID int) (int, error) {
	if m.CountOpenRequisitionsFunc != nil {
		return m.CountOpenRequisitionsFunc(ctx, dealID)
	}
	return 0, nil
}

func (m *MockStorage) CreateDrawdown(ctx context.Context, d *db.Drawdown) error {
	if m.CreateDrawdownFunc != nil {
		return m.CreateDrawdownFunc(ctx, d)
	}
	d.ID = 1
	d.SequenceNumber = 1
	return nil
}

func (m *MockStorage) GetDrawdown(ctx context.Context, id int) (*db.Drawdown, error) {
	if m.GetDrawdownFunc != nil {
		return m.GetDrawdownFunc(ctx, id)
	}
	return &db.Drawdown{ID: id, DealID: 1, SequenceNumber: 1, RequestedAmount: 100000,
		Purpose: "groundworks", MSReviewStatus: models.MSNotRequired,
		LenderApprovalStatus: models.DrawdownLenderReview}, nil
}

func (m *MockStorage) ListDrawdowns(ctx context.Context, dealID, limit, offset int) ([]db.Drawdown, error) {
	return []db.Drawdown{{ID: 1, DealID: dealID, SequenceNumber: 1, RequestedAmount: 100000}}, nil
}

func (m *MockStorage) UpdateMSStatus(ctx context.Context, id int, from, to models.MSReviewStatus, siteVisitDate *time.Time, notes *string) (bool, error) {
	if m.UpdateMSStatusFunc != nil {
		return m.UpdateMSStatusFunc(ctx, id, from, to, siteVisitDate, notes)
	}
	return true, nil
}

func (m *MockStorage) MSApprove(ctx context.Context, id int, notes *string) (bool, error) {
	if m.MSApproveFunc != nil {
		return m.MSApproveFunc(ctx, id, notes)
	}
	return true, nil
}

func (m *MockStorage) MSReject(ctx context.Context, id int, reason string) (bool, error) {
	if m.MSRejectFunc != nil {
		return m.MSRejectFunc(ctx, id, reason)
	}
	return true, nil
}

func (m *MockStorage) ApproveDrawdown(ctx context.Context, id int) (*db.Drawdown, error) {
	if m.ApproveDrawdownFunc != nil {
		return m.ApproveDrawdownFunc(ctx, id)
	}
	return &db.Drawdown{ID: id, DealID: 1, LenderApprovalStatus: models.DrawdownApproved,
		MSReviewStatus: models.MSNotRequired}, nil
}

func (m *MockStorage) RejectDrawdown(ctx context.Context, id int, reason string) (bool, error) {
	if m.RejectDrawdownFunc != nil {
		return m.RejectDrawdownFunc(ctx, id, reason)
	}
	return true, nil
}

func (m *MockStorage) MarkDrawdownPaid(ctx context.Context, id int) (bool, error) {
	if m.MarkDrawdownPaidFunc != nil {
		return m.MarkDrawdownPaidFunc(ctx, id)
	}
	return true, nil
}

func (m *MockStorage) CountDrawdowns(ctx context.Context, dealID int, statuses []models.LenderApprovalStatus) (int, error) {
	if m.CountDrawdownsFunc != nil {
		return m.CountDrawdownsFunc(ctx, dealID, statuses)
	}
	return 0, nil
}

func (m *MockStorage) AddDrawdownDocuments(ctx context.Context, docs []db.DrawdownDocument) ([]db.DrawdownDocument, error) {
	for i := range docs {
		docs[i].ID = i + 1
	}
	return docs, nil
}

func (m *MockStorage) ListDrawdownDocuments(ctx context.Context, drawdownID int) ([]db.DrawdownDocument, error) {
	return nil, nil
}

func (m *MockStorage) CreateDeliverable(ctx context.Context, d *db.Deliverable) error {
	d.ID = 1
	d.Version = 1
	return nil
}

func (m *MockStorage) GetDeliverable(ctx context.Context, id int) (*db.Deliverable, error) {
	if m.GetDeliverableFunc != nil {
		return m.GetDeliverableFunc(ctx, id)
	}
	return &db.Deliverable{ID: id, DealID: 1, StageID: 1, UploadedByPartyID: 3,
		Title: "Valuation report", FileName: "report.pdf", Version: 1,
		Status: models.DeliverableUploaded}, nil
}

func (m *MockStorage) ListDeliverables(ctx context.Context, dealID, limit, offset int) ([]db.Deliverable, error) {
	return []db.Deliverable{{ID: 1, DealID: dealID, Title: "Valuation report", Status: models.DeliverableUploaded}}, nil
}

func (m *MockStorage) ReviewDeliverable(ctx context.Context, id int, to models.DeliverableStatus, requestRevision bool, notes *string) (*db.Deliverable, error) {
	if m.ReviewDeliverableFunc != nil {
		return m.ReviewDeliverableFunc(ctx, id, to, requestRevision, notes)
	}
	return &db.Deliverable{ID: id, DealID: 1, Status: to, RevisionRequested: requestRevision}, nil
}

func (m *MockStorage) UploadDeliverableRevision(ctx context.Context, id int, fileName, storageKey string) (*db.Deliverable, error) {
	if m.UploadDeliverableRevisionFunc != nil {
		return m.UploadDeliverableRevisionFunc(ctx, id, fileName, storageKey)
	}
	return &db.Deliverable{ID: id, DealID: 1, FileName: fileName, StorageKey: storageKey,
		Version: 2, Status: models.DeliverableRevised}, nil
}

func (m *MockStorage) CreateAppointment(ctx context.Context, a *db.Appointment, slots []db.AppointmentSlot) ([]db.AppointmentSlot, error) {
	a.ID = 1
	for i := range slots {
		slots[i].ID = i + 1
		slots[i].AppointmentID = a.ID
	}
	return slots, nil
}

func (m *MockStorage) GetAppointment(ctx context.Context, id int) (*db.Appointment, error) {
	if m.GetAppointmentFunc != nil {
		return m.GetAppointmentFunc(ctx, id)
	}
	return &db.Appointment{ID: id, DealID: 1, ProposedByPartyID: 3,
		Subject: "Site visit", Status: models.AppointmentProposed}, nil
}

func (m *MockStorage) ListAppointments(ctx context.Context, dealID, limit, offset int) ([]db.Appointment, error) {
	return []db.Appointment{{ID: 1, DealID: dealID, Subject: "Site visit", Status: models.AppointmentProposed}}, nil
}

func (m *MockStorage) ListAppointmentSlots(ctx context.Context, appointmentID int) ([]db.AppointmentSlot, error) {
	return nil, nil
}

func (m *MockStorage) ConfirmAppointment(ctx context.Context, id int, slotID *int) (*db.Appointment, error) {
	if m.ConfirmAppointmentFunc != nil {
		return m.ConfirmAppointmentFunc(ctx, id, slotID)
	}
	return &db.Appointment{ID: id, DealID: 1, Subject: "Site visit", Status: models.AppointmentConfirmed}, nil
}

func (m *MockStorage) RescheduleAppointment(ctx context.Context, id int, slots []db.AppointmentSlot) (*db.Appointment, []db.AppointmentSlot, error) {
	for i := range slots {
		slots[i].ID = i + 1
		slots[i].AppointmentID = id
	}
	return &db.Appointment{ID: id, DealID: 1, Subject: "Site visit", Status: models.AppointmentRescheduled}, slots, nil
}

func (m *MockStorage) CancelAppointment(ctx context.Context, id int, reason *string) (bool, error) {
	if m.CancelAppointmentFunc != nil {
		return m.CancelAppointmentFunc(ctx, id, reason)
	}
	return true, nil
}

func (m *MockStorage) CompleteAppointment(ctx context.Context, id int) (bool, error) {
	if m.CompleteAppointmentFunc != nil {
		return m.CompleteAppointmentFunc(ctx, id)
	}
	return true, nil
}

// partyFor returns a GetPartyForUserFunc resolving every user to the given
// role on the deal.
func partyFor(pt models.PartyType, af models.ActingFor) func(ctx context.Context, dealID, userID int) (*db.Party, error) {
	return func(ctx context.Context, dealID, userID int) (*db.Party, error) {
		return &db.Party{ID: 3, DealID: dealID, UserID: userID, PartyType: pt,
			ActingFor: af, Status: models.PartyActive}, nil
	}
}

// providerParty resolves the actor as a consultant bound to a provider firm.
func providerParty(pt models.PartyType, firmID int) func(ctx context.Context, dealID, userID int) (*db.Party, error) {
	return func(ctx context.Context, dealID, userID int) (*db.Party, error) {
		return &db.Party{ID: 3, DealID: dealID, UserID: userID, PartyType: pt,
			ActingFor: models.ForLender, ProviderFirmID: &firmID, Status: models.PartyActive}, nil
	}
}

// noParty rejects actor resolution as a non-member.
func noParty(ctx context.Context, dealID, userID int) (*db.Party, error) {
	return nil, apperr.NotFound("party not found")
}

// nopBlobStore discards uploads in handler tests.
type nopBlobStore struct{}

func (nopBlobStore) Put(_ context.Context, _ string, _ string, r io.Reader) error {
	_, err := io.Copy(io.Discard, r)
	return err
}

// nopNotifier drops events.
type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, int, string, any) {}
