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

// ProviderFirm is a firm that can be procured for a consultant role.
type ProviderFirm struct {
	ID        int              `db:"id" json:"id"`
	Name      string           `db:"name" json:"name"`
	RoleType  models.PartyType `db:"role_type" json:"roleType"`
	Location  string           `db:"location" json:"location"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`
}

// ListMatchingFirms returns candidate firms for a role. Match scoring is
// external; the engine only serves the ordered candidate list.
func (s *Storage) ListMatchingFirms(ctx context.Context, roleType models.PartyType, limit, offset int) ([]ProviderFirm, error) {
	firms := []ProviderFirm{}
	query := `SELECT * FROM provider_firm WHERE role_type=$1 ORDER BY name ASC LIMIT $2 OFFSET $3`
	err := s.db.SelectContext(ctx, &firms, query, roleType, limit, offset)
	return firms, err
}

func (s *Storage) GetProviderFirm(ctx context.Context, id int) (*ProviderFirm, error) {
	f := &ProviderFirm{}
	query := `SELECT * FROM provider_firm WHERE id=$1`
	if err := s.db.GetContext(ctx, f, query, id); err != nil {
		return nil, mapDBError(err, "provider firm")
	}
	return f, nil
}

func (s *Storage) CreateProviderFirm(ctx context.Context, f *ProviderFirm) error {
	query := `
        INSERT INTO provider_firm (name, role_type, location)
        VALUES ($1, $2, $3)
        RETURNING id, created_at`
	return s.db.QueryRowContext(ctx, query, f.Name, f.RoleType, f.Location).
		Scan(&f.ID, &f.CreatedAt)
}

// Enquiry is a request for quote sent to one provider firm.
type Enquiry struct {
	ID             int                  `db:"id" json:"id"`
	DealID         int                  `db:"deal_id" json:"dealId"`
	RoleType       models.PartyType     `db:"role_type" json:"roleType"`
	ProviderFirmID int                  `db:"provider_firm_id" json:"providerFirmId"`
	Status         models.EnquiryStatus `db:"status" json:"status"`
	DueAt          time.Time            `db:"due_at" json:"dueAt"`
	CreatedAt      time.Time            `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time            `db:"updated_at" json:"updatedAt"`
}

// CreateEnquiries inserts one enquiry per provider in a single transaction;
// either all enquiries are created or none.
func (s *Storage) CreateEnquiries(ctx context.Context, enquiries []Enquiry) ([]Enquiry, error) {
	out := make([]Enquiry, len(enquiries))
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		query := `
            INSERT INTO enquiry (deal_id, role_type, provider_firm_id, status, due_at)
            VALUES ($1, $2, $3, $4, $5)
            RETURNING id, created_at, updated_at`
		for i, e := range enquiries {
			if err := tx.QueryRowContext(ctx, query,
				e.DealID, e.RoleType, e.ProviderFirmID, e.Status, e.DueAt).
				Scan(&e.ID, &e.CreatedAt, &e.UpdatedAt); err != nil {
				return err
			}
			out[i] = e
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Storage) GetEnquiry(ctx context.Context, id int) (*Enquiry, error) {
	e := &Enquiry{}
	query := `SELECT * FROM enquiry WHERE id=$1`
	if err := s.db.GetContext(ctx, e, query, id); err != nil {
		return nil, mapDBError(err, "enquiry")
	}
	return e, nil
}

func (s *Storage) ListEnquiries(ctx context.Context, dealID, limit, offset int) ([]Enquiry, error) {
	enquiries := []Enquiry{}
	query := `SELECT * FROM enquiry WHERE deal_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	err := s.db.SelectContext(ctx, &enquiries, query, dealID, limit, offset)
	return enquiries, err
}

// UpdateEnquiryStatus is a guarded transition; false means the enquiry was
// not in an expected status.
func (s *Storage) UpdateEnquiryStatus(ctx context.Context, id int, from []models.EnquiryStatus, to models.EnquiryStatus) (bool, error) {
	query := `UPDATE enquiry SET status=$1, updated_at=NOW() WHERE id=$2 AND status = ANY($3)`
	res, err := s.db.ExecContext(ctx, query, to, id, pq.Array(statusStrings(from)))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ExpireOverdueEnquiries moves overdue open enquiries to expired. Idempotent
// and safe to race with quote submission: a quoted enquiry no longer matches.
func (s *Storage) ExpireOverdueEnquiries(ctx context.Context, now time.Time) (int64, error) {
	query := `
        UPDATE enquiry SET status='expired', updated_at=NOW()
        WHERE due_at < $1 AND status IN ('sent', 'viewed', 'acknowledged')`
	res, err := s.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Quote is a provider's response to one enquiry.
type Quote struct {
	ID            int                `db:"id" json:"id"`
	EnquiryID     int                `db:"enquiry_id" json:"enquiryId"`
	Price         float64            `db:"price" json:"price"`
	LeadTimeDays  int                `db:"lead_time_days" json:"leadTimeDays"`
	Scope         string             `db:"scope" json:"scope"`
	Assumptions   string             `db:"assumptions" json:"assumptions"`
	ValidUntil    *time.Time         `db:"valid_until" json:"validUntil,omitempty"`
	Status        models.QuoteStatus `db:"status" json:"status"`
	SubmittedLate bool               `db:"submitted_late" json:"submittedLate"`
	DecisionNotes *string            `db:"decision_notes" json:"decisionNotes,omitempty"`
	CounterPrice  *float64           `db:"counter_price" json:"counterPrice,omitempty"`
	Version       int                `db:"version" json:"version"`
	CreatedAt     time.Time          `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time          `db:"updated_at" json:"updatedAt"`
}

// CreateQuote inserts the quote and moves its enquiry to quoted in one
// transaction. The enquiry guard runs inside the transaction, so a racing
// expiry sweep or decline loses cleanly.
func (s *Storage) CreateQuote(ctx context.Context, q *Quote) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
            UPDATE enquiry SET status='quoted', updated_at=NOW()
            WHERE id=$1 AND status IN ('sent', 'viewed', 'acknowledged')`, q.EnquiryID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var status string
			if err := tx.GetContext(ctx, &status, `SELECT status FROM enquiry WHERE id=$1`, q.EnquiryID); err != nil {
				return mapDBError(err, "enquiry")
			}
			return apperr.InvalidTransition(status, "enquiry is no longer open for quotes")
		}

		return tx.QueryRowContext(ctx, `
            INSERT INTO quote (enquiry_id, price, lead_time_days, scope, assumptions, valid_until, status, submitted_late, version)
            VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1)
            RETURNING id, created_at, updated_at`,
			q.EnquiryID, q.Price, q.LeadTimeDays, q.Scope, q.Assumptions, q.ValidUntil, q.Status, q.SubmittedLate).
			Scan(&q.ID, &q.CreatedAt, &q.UpdatedAt)
	})
}

func (s *Storage) GetQuote(ctx context.Context, id int) (*Quote, error) {
	q := &Quote{}
	query := `SELECT * FROM quote WHERE id=$1`
	if err := s.db.GetContext(ctx, q, query, id); err != nil {
		return nil, mapDBError(err, "quote")
	}
	return q, nil
}

func (s *Storage) ListQuotes(ctx context.Context, dealID, limit, offset int) ([]Quote, error) {
	quotes := []Quote{}
	query := `
        SELECT q.* FROM quote q
        JOIN enquiry e ON q.enquiry_id = e.id
        WHERE e.deal_id = $1
        ORDER BY q.created_at DESC
        LIMIT $2 OFFSET $3`
	err := s.db.SelectContext(ctx, &quotes, query, dealID, limit, offset)
	return quotes, err
}

// UpdateQuoteStatus is a guarded transition with optional decision metadata.
func (s *Storage) UpdateQuoteStatus(ctx context.Context, id int, from []models.QuoteStatus, to models.QuoteStatus, notes *string, counterPrice *float64) (bool, error) {
	query := `
        UPDATE quote
        SET status=$1,
            decision_notes=COALESCE($2, decision_notes),
            counter_price=COALESCE($3, counter_price),
            updated_at=NOW()
        WHERE id=$4 AND status = ANY($5)`
	res, err := s.db.ExecContext(ctx, query, to, notes, counterPrice, id, pq.Array(statusStrings(from)))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ReviseQuote lets the provider resubmit after a negotiation request; the
// revision bumps the quote version and returns it to submitted.
func (s *Storage) ReviseQuote(ctx context.Context, id int, price float64, leadTimeDays int, scope, assumptions string, validUntil *time.Time) (bool, error) {
	query := `
        UPDATE quote
        SET price=$1, lead_time_days=$2, scope=$3, assumptions=$4, valid_until=$5,
            status='submitted', version=version+1, updated_at=NOW()
        WHERE id=$6 AND status='negotiation_requested'`
	res, err := s.db.ExecContext(ctx, query, price, leadTimeDays, scope, assumptions, validUntil, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// Selection records an engaged provider for a role on a deal. Superseded
// selections are kept for the audit trail.
type Selection struct {
	ID                     int                    `db:"id" json:"id"`
	DealID                 int                    `db:"deal_id" json:"dealId"`
	RoleType               models.PartyType       `db:"role_type" json:"roleType"`
	ProviderFirmID         int                    `db:"provider_firm_id" json:"providerFirmId"`
	QuoteID                *int                   `db:"quote_id" json:"quoteId,omitempty"`
	SelectedBy             models.ActingFor       `db:"selected_by" json:"selectedBy"`
	LenderApprovalRequired bool                   `db:"lender_approval_required" json:"lenderApprovalRequired"`
	Status                 models.SelectionStatus `db:"status" json:"status"`
	Superseded             bool                   `db:"superseded" json:"superseded"`
	SupersededAt           *time.Time             `db:"superseded_at" json:"supersededAt,omitempty"`
	CreatedAt              time.Time              `db:"created_at" json:"createdAt"`
	UpdatedAt              time.Time              `db:"updated_at" json:"updatedAt"`
}

// createSelectionTx supersedes any prior active selection for the
// (deal, role_type) pair and inserts the new one. An active selection also
// spawns the provider's stage record. The partial unique index on selection
// re-checks the single-active invariant at commit.
func (s *Storage) createSelectionTx(ctx context.Context, tx *sqlx.Tx, sel *Selection) error {
	_, err := tx.ExecContext(ctx, `
        UPDATE selection SET superseded=TRUE, superseded_at=NOW(), updated_at=NOW()
        WHERE deal_id=$1 AND role_type=$2 AND NOT superseded`,
		sel.DealID, sel.RoleType)
	if err != nil {
		return err
	}

	err = tx.QueryRowContext(ctx, `
        INSERT INTO selection (deal_id, role_type, provider_firm_id, quote_id, selected_by, lender_approval_required, status)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id, created_at, updated_at`,
		sel.DealID, sel.RoleType, sel.ProviderFirmID, sel.QuoteID, sel.SelectedBy,
		sel.LenderApprovalRequired, sel.Status).
		Scan(&sel.ID, &sel.CreatedAt, &sel.UpdatedAt)
	if err != nil {
		return mapDBError(err, "selection")
	}

	if sel.Status == models.SelectionActive {
		return s.createStageTx(ctx, tx, sel)
	}
	return nil
}

// CreateSelection engages a provider, superseding any prior selection for the
// same role atomically.
func (s *Storage) CreateSelection(ctx context.Context, sel *Selection) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return s.createSelectionTx(ctx, tx, sel)
	})
}

// AcceptQuoteAndSelect marks the quote accepted and engages its firm in one
// transaction; neither half can apply without the other.
func (s *Storage) AcceptQuoteAndSelect(ctx context.Context, quoteID int, sel *Selection) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, `
            UPDATE quote SET status='accepted', updated_at=NOW()
            WHERE id=$1 AND status IN ('submitted', 'under_review')`, quoteID)
		if err != nil {
			return mapDBError(err, "quote")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var status string
			if err := tx.GetContext(ctx, &status, `SELECT status FROM quote WHERE id=$1`, quoteID); err != nil {
				return mapDBError(err, "quote")
			}
			return apperr.InvalidTransition(status, "quote cannot be accepted from its current status")
		}
		return s.createSelectionTx(ctx, tx, sel)
	})
}

func (s *Storage) GetSelection(ctx context.Context, id int) (*Selection, error) {
	sel := &Selection{}
	query := `SELECT * FROM selection WHERE id=$1`
	if err := s.db.GetContext(ctx, sel, query, id); err != nil {
		return nil, mapDBError(err, "selection")
	}
	return sel, nil
}

func (s *Storage) ListSelections(ctx context.Context, dealID, limit, offset int) ([]Selection, error) {
	selections := []Selection{}
	query := `SELECT * FROM selection WHERE deal_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	err := s.db.SelectContext(ctx, &selections, query, dealID, limit, offset)
	return selections, err
}

// ApproveSelection activates a borrower-chosen selection awaiting lender
// approval and spawns the provider stage.
func (s *Storage) ApproveSelection(ctx context.Context, id int) (*Selection, error) {
	var sel Selection
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.GetContext(ctx, &sel, `
            UPDATE selection SET status='active', updated_at=NOW()
            WHERE id=$1 AND status='pending_lender_approval' AND NOT superseded
            RETURNING *`, id)
		if errors.Is(err, sql.ErrNoRows) {
			var status string
			if getErr := tx.GetContext(ctx, &status, `SELECT status FROM selection WHERE id=$1`, id); getErr != nil {
				return mapDBError(getErr, "selection")
			}
			return apperr.InvalidTransition(status, "selection is not awaiting lender approval")
		}
		if err != nil {
			return mapDBError(err, "selection")
		}
		return s.createStageTx(ctx, tx, &sel)
	})
	if err != nil {
		return nil, err
	}
	return &sel, nil
}

// DeclineSelection declines a pending selection; false means it was not
// pending lender approval.
func (s *Storage) DeclineSelection(ctx context.Context, id int) (bool, error) {
	query := `
        UPDATE selection SET status='declined', superseded=TRUE, superseded_at=NOW(), updated_at=NOW()
        WHERE id=$1 AND status='pending_lender_approval'`
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
