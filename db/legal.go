package db

import (
	"context"
	"time"

	"github.com/lib/pq"

	"dealflow/models"
)

// ConditionPrecedent is a legal pre-condition on the deal.
type ConditionPrecedent struct {
	ID             int              `db:"id" json:"id"`
	DealID         int              `db:"deal_id" json:"dealId"`
	CPNumber       string           `db:"cp_number" json:"cpNumber"`
	Title          string           `db:"title" json:"title"`
	IsMandatory    bool             `db:"is_mandatory" json:"isMandatory"`
	OwnerPartyType models.PartyType `db:"owner_party_type" json:"ownerPartyType"`
	Status         models.CPStatus  `db:"status" json:"status"`
	Reason         *string          `db:"reason" json:"reason,omitempty"`
	CreatedAt      time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time        `db:"updated_at" json:"updatedAt"`
}

func (s *Storage) CreateCP(ctx context.Context, cp *ConditionPrecedent) error {
	query := `
        INSERT INTO condition_precedent (deal_id, cp_number, title, is_mandatory, owner_party_type, status)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id, created_at, updated_at`
	return s.db.QueryRowContext(ctx, query,
		cp.DealID, cp.CPNumber, cp.Title, cp.IsMandatory, cp.OwnerPartyType, cp.Status).
		Scan(&cp.ID, &cp.CreatedAt, &cp.UpdatedAt)
}

func (s *Storage) GetCP(ctx context.Context, id int) (*ConditionPrecedent, error) {
	cp := &ConditionPrecedent{}
	query := `SELECT * FROM condition_precedent WHERE id=$1`
	if err := s.db.GetContext(ctx, cp, query, id); err != nil {
		return nil, mapDBError(err, "condition precedent")
	}
	return cp, nil
}

func (s *Storage) ListCPs(ctx context.Context, dealID, limit, offset int) ([]ConditionPrecedent, error) {
	cps := []ConditionPrecedent{}
	query := `SELECT * FROM condition_precedent WHERE deal_id=$1 ORDER BY cp_number ASC LIMIT $2 OFFSET $3`
	err := s.db.SelectContext(ctx, &cps, query, dealID, limit, offset)
	return cps, err
}

// SetCPStatus transitions a pending CP; false means it was not pending.
func (s *Storage) SetCPStatus(ctx context.Context, id int, to models.CPStatus, reason *string) (bool, error) {
	query := `
        UPDATE condition_precedent
        SET status=$1, reason=COALESCE($2, reason), updated_at=NOW()
        WHERE id=$3 AND status='pending'`
	res, err := s.db.ExecContext(ctx, query, to, reason, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CPReadiness counts mandatory CPs and how many are satisfied or waived.
func (s *Storage) CPReadiness(ctx context.Context, dealID int) (mandatory, cleared int, err error) {
	query := `
        SELECT COUNT(1),
               COUNT(1) FILTER (WHERE status IN ('satisfied', 'waived'))
        FROM condition_precedent
        WHERE deal_id=$1 AND is_mandatory`
	err = s.db.QueryRowContext(ctx, query, dealID).Scan(&mandatory, &cleared)
	return
}

// Requisition is a raised legal question requiring a tracked response.
type Requisition struct {
	ID              int                      `db:"id" json:"id"`
	DealID          int                      `db:"deal_id" json:"dealId"`
	RaisedByPartyID int                      `db:"raised_by_party_id" json:"raisedByPartyId"`
	Subject         string                   `db:"subject" json:"subject"`
	Question        string                   `db:"question" json:"question"`
	Response        *string                  `db:"response" json:"response,omitempty"`
	Status          models.RequisitionStatus `db:"status" json:"status"`
	CreatedAt       time.Time                `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time                `db:"updated_at" json:"updatedAt"`
}

func (s *Storage) CreateRequisition(ctx context.Context, r *Requisition) error {
	query := `
        INSERT INTO requisition (deal_id, raised_by_party_id, subject, question, status)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, created_at, updated_at`
	return s.db.QueryRowContext(ctx, query,
		r.DealID, r.RaisedByPartyID, r.Subject, r.Question, r.Status).
		Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt)
}

func (s *Storage) GetRequisition(ctx context.Context, id int) (*Requisition, error) {
	r := &Requisition{}
	query := `SELECT * FROM requisition WHERE id=$1`
	if err := s.db.GetContext(ctx, r, query, id); err != nil {
		return nil, mapDBError(err, "requisition")
	}
	return r, nil
}

func (s *Storage) ListRequisitions(ctx context.Context, dealID, limit, offset int) ([]Requisition, error) {
	reqs := []Requisition{}
	query := `SELECT * FROM requisition WHERE deal_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	err := s.db.SelectContext(ctx, &reqs, query, dealID, limit, offset)
	return reqs, err
}

// RespondRequisition records the response and moves open -> responded.
func (s *Storage) RespondRequisition(ctx context.Context, id int, response string) (bool, error) {
	query := `
        UPDATE requisition SET response=$1, status='responded', updated_at=NOW()
        WHERE id=$2 AND status='open'`
	res, err := s.db.ExecContext(ctx, query, response, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// SetRequisitionStatus is a guarded transition for approve/reject/close.
func (s *Storage) SetRequisitionStatus(ctx context.Context, id int, from []models.RequisitionStatus, to models.RequisitionStatus) (bool, error) {
	query := `UPDATE requisition SET status=$1, updated_at=NOW() WHERE id=$2 AND status = ANY($3)`
	res, err := s.db.ExecContext(ctx, query, to, id, pq.Array(statusStrings(from)))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Storage) CountOpenRequisitions(ctx context.Context, dealID int) (int, error) {
	var count int
	query := `SELECT COUNT(1) FROM requisition WHERE deal_id=$1 AND status IN ('open', 'responded')`
	err := s.db.GetContext(ctx, &count, query, dealID)
	return count, err
}
