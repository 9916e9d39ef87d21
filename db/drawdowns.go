package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"dealflow/models"
	"dealflow/pkg/apperr"
)

// Drawdown is a staged disbursement request with two parallel sub-chains:
// the monitoring surveyor's review and the lender's approval.
type Drawdown struct {
	ID                    int                         `db:"id" json:"id"`
	DealID                int                         `db:"deal_id" json:"dealId"`
	SequenceNumber        int                         `db:"sequence_number" json:"sequenceNumber"`
	RequestedAmount       float64                     `db:"requested_amount" json:"requestedAmount"`
	Purpose               string                      `db:"purpose" json:"purpose"`
	Milestone             *string                     `db:"milestone" json:"milestone,omitempty"`
	IMSInspectionRequired bool                        `db:"ims_inspection_required" json:"imsInspectionRequired"`
	MSReviewStatus        models.MSReviewStatus       `db:"ms_review_status" json:"msReviewStatus"`
	LenderApprovalStatus  models.LenderApprovalStatus `db:"lender_approval_status" json:"lenderApprovalStatus"`
	SiteVisitDate         *time.Time                  `db:"site_visit_date" json:"siteVisitDate,omitempty"`
	MSNotes               *string                     `db:"ms_notes" json:"msNotes,omitempty"`
	RejectionReason       *string                     `db:"rejection_reason" json:"rejectionReason,omitempty"`
	CreatedAt             time.Time                   `db:"created_at" json:"createdAt"`
	UpdatedAt             time.Time                   `db:"updated_at" json:"updatedAt"`
}

// CreateDrawdown assigns the next sequence number for the deal inside the
// insert itself; the unique index on (deal_id, sequence_number) rejects a
// concurrent duplicate.
func (s *Storage) CreateDrawdown(ctx context.Context, d *Drawdown) error {
	query := `
        INSERT INTO drawdown
            (deal_id, sequence_number, requested_amount, purpose, milestone,
             ims_inspection_required, ms_review_status, lender_approval_status)
        SELECT $1, COALESCE(MAX(sequence_number), 0) + 1, $2, $3, $4, $5, $6, $7
        FROM drawdown WHERE deal_id = $1
        RETURNING id, sequence_number, created_at, updated_at`
	err := s.db.QueryRowContext(ctx, query,
		d.DealID, d.RequestedAmount, d.Purpose, d.Milestone,
		d.IMSInspectionRequired, d.MSReviewStatus, d.LenderApprovalStatus).
		Scan(&d.ID, &d.SequenceNumber, &d.CreatedAt, &d.UpdatedAt)
	return mapDBError(err, "drawdown")
}

func (s *Storage) GetDrawdown(ctx context.Context, id int) (*Drawdown, error) {
	d := &Drawdown{}
	query := `SELECT * FROM drawdown WHERE id=$1`
	if err := s.db.GetContext(ctx, d, query, id); err != nil {
		return nil, mapDBError(err, "drawdown")
	}
	return d, nil
}

func (s *Storage) ListDrawdowns(ctx context.Context, dealID, limit, offset int) ([]Drawdown, error) {
	drawdowns := []Drawdown{}
	query := `SELECT * FROM drawdown WHERE deal_id=$1 ORDER BY sequence_number ASC LIMIT $2 OFFSET $3`
	err := s.db.SelectContext(ctx, &drawdowns, query, dealID, limit, offset)
	return drawdowns, err
}

// UpdateMSStatus advances the monitoring surveyor chain one step; false means
// the drawdown was not at the expected step.
func (s *Storage) UpdateMSStatus(ctx context.Context, id int, from, to models.MSReviewStatus, siteVisitDate *time.Time, notes *string) (bool, error) {
	query := `
        UPDATE drawdown
        SET ms_review_status=$1,
            site_visit_date=COALESCE($2, site_visit_date),
            ms_notes=COALESCE($3, ms_notes),
            updated_at=NOW()
        WHERE id=$4 AND ms_review_status=$5`
	res, err := s.db.ExecContext(ctx, query, to, siteVisitDate, notes, id, from)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MSApprove completes the inspection chain and releases the lender chain to
// review in the same statement; the two columns can never drift apart.
func (s *Storage) MSApprove(ctx context.Context, id int, notes *string) (bool, error) {
	query := `
        UPDATE drawdown
        SET ms_review_status='ms_approved',
            lender_approval_status=CASE
                WHEN lender_approval_status IN ('ims_inspection_required', 'ims_certified') THEN 'lender_review'
                ELSE lender_approval_status
            END,
            ms_notes=COALESCE($1, ms_notes),
            updated_at=NOW()
        WHERE id=$2 AND ms_review_status='site_visit_completed'`
	res, err := s.db.ExecContext(ctx, query, notes, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MSReject rejects the inspection from any non-terminal step and rejects the
// lender chain with it.
func (s *Storage) MSReject(ctx context.Context, id int, reason string) (bool, error) {
	query := `
        UPDATE drawdown
        SET ms_review_status='ms_rejected',
            lender_approval_status='rejected',
            rejection_reason=$1,
            updated_at=NOW()
        WHERE id=$2 AND ms_review_status IN ('pending', 'under_review', 'site_visit_scheduled', 'site_visit_completed')`
	res, err := s.db.ExecContext(ctx, query, reason, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ApproveDrawdown applies the lender approval. The cross-chain guard — never
// approve while an inspection is required but not ms_approved — is part of
// the update's predicate, re-checked in the same statement that writes.
func (s *Storage) ApproveDrawdown(ctx context.Context, id int) (*Drawdown, error) {
	d := &Drawdown{}
	query := `
        UPDATE drawdown
        SET lender_approval_status='approved', updated_at=NOW()
        WHERE id=$1
          AND lender_approval_status='lender_review'
          AND (NOT ims_inspection_required OR ms_review_status='ms_approved')
        RETURNING *`
	err := s.db.GetContext(ctx, d, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.GetDrawdown(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, apperr.InvalidTransition(string(current.LenderApprovalStatus),
			"drawdown cannot be approved: lender chain is %s, ms chain is %s",
			current.LenderApprovalStatus, current.MSReviewStatus)
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// RejectDrawdown rejects the lender chain from any non-terminal state.
func (s *Storage) RejectDrawdown(ctx context.Context, id int, reason string) (bool, error) {
	query := `
        UPDATE drawdown
        SET lender_approval_status='rejected', rejection_reason=$1, updated_at=NOW()
        WHERE id=$2 AND lender_approval_status NOT IN ('paid', 'rejected')`
	res, err := s.db.ExecContext(ctx, query, reason, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MarkDrawdownPaid records payment of an approved drawdown.
func (s *Storage) MarkDrawdownPaid(ctx context.Context, id int) (bool, error) {
	query := `
        UPDATE drawdown SET lender_approval_status='paid', updated_at=NOW()
        WHERE id=$1 AND lender_approval_status='approved'`
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Storage) CountDrawdowns(ctx context.Context, dealID int, statuses []models.LenderApprovalStatus) (int, error) {
	var count int
	query := `SELECT COUNT(1) FROM drawdown WHERE deal_id=$1 AND lender_approval_status = ANY($2)`
	err := s.db.GetContext(ctx, &count, query, dealID, pq.Array(statusStrings(statuses)))
	return count, err
}

// DrawdownDocument is metadata for an uploaded supporting file; the bytes
// live in the external blob store under StorageKey.
type DrawdownDocument struct {
	ID                int                     `db:"id" json:"id"`
	DrawdownID        int                     `db:"drawdown_id" json:"drawdownId"`
	Category          models.DocumentCategory `db:"category" json:"category"`
	FileName          string                  `db:"file_name" json:"fileName"`
	StorageKey        string                  `db:"storage_key" json:"storageKey"`
	UploadedByPartyID int                     `db:"uploaded_by_party_id" json:"uploadedByPartyId"`
	CreatedAt         time.Time               `db:"created_at" json:"createdAt"`
}

func (s *Storage) AddDrawdownDocuments(ctx context.Context, docs []DrawdownDocument) ([]DrawdownDocument, error) {
	out := make([]DrawdownDocument, len(docs))
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		query := `
            INSERT INTO drawdown_document (drawdown_id, category, file_name, storage_key, uploaded_by_party_id)
            VALUES ($1, $2, $3, $4, $5)
            RETURNING id, created_at`
		for i, doc := range docs {
			if err := tx.QueryRowContext(ctx, query,
				doc.DrawdownID, doc.Category, doc.FileName, doc.StorageKey, doc.UploadedByPartyID).
				Scan(&doc.ID, &doc.CreatedAt); err != nil {
				return err
			}
			out[i] = doc
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Storage) ListDrawdownDocuments(ctx context.Context, drawdownID int) ([]DrawdownDocument, error) {
	docs := []DrawdownDocument{}
	query := `SELECT * FROM drawdown_document WHERE drawdown_id=$1 ORDER BY created_at ASC`
	err := s.db.SelectContext(ctx, &docs, query, drawdownID)
	return docs, err
}
