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

type Storage struct {
	db *sqlx.DB
}

func NewStorage(db *sqlx.DB) *Storage {
	return &Storage{db: db}
}

// uniqueViolation is the Postgres error code backing the at-most-one
// invariants (active lender solicitor, active selection, accepted quote).
const uniqueViolation = "23505"

func mapDBError(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound("%s not found", what)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return apperr.InvariantViolation("%s conflicts with an existing active record", what)
	}
	return err
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Storage) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Deal is the aggregate root. Readiness is derived on read, never stored.
type Deal struct {
	ID           int               `db:"id" json:"id"`
	FacilityType string            `db:"facility_type" json:"facilityType"`
	Status       models.DealStatus `db:"status" json:"status"`
	CurrentStage string            `db:"current_stage" json:"currentStage"`
	CreatedAt    time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time         `db:"updated_at" json:"updatedAt"`
}

func (s *Storage) CreateDeal(ctx context.Context, d *Deal) error {
	query := `
        INSERT INTO deal (facility_type, status, current_stage)
        VALUES ($1, $2, $3)
        RETURNING id, created_at, updated_at`
	return s.db.QueryRowContext(ctx, query, d.FacilityType, d.Status, d.CurrentStage).
		Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
}

func (s *Storage) GetDeal(ctx context.Context, id int) (*Deal, error) {
	d := &Deal{}
	query := `SELECT * FROM deal WHERE id=$1`
	if err := s.db.GetContext(ctx, d, query, id); err != nil {
		return nil, mapDBError(err, "deal")
	}
	return d, nil
}

func (s *Storage) UpdateDealStatus(ctx context.Context, id int, status models.DealStatus) error {
	query := `UPDATE deal SET status=$1, updated_at=NOW() WHERE id=$2`
	_, err := s.db.ExecContext(ctx, query, status, id)
	return err
}

func (s *Storage) ListDeals(ctx context.Context, limit, offset int) ([]Deal, error) {
	deals := []Deal{}
	query := `SELECT * FROM deal ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	err := s.db.SelectContext(ctx, &deals, query, limit, offset)
	return deals, err
}

// Party is a (deal, user, role) appointment.
type Party struct {
	ID                      int                `db:"id" json:"id"`
	DealID                  int                `db:"deal_id" json:"dealId"`
	UserID                  int                `db:"user_id" json:"userId"`
	PartyType               models.PartyType   `db:"party_type" json:"partyType"`
	ActingFor               models.ActingFor   `db:"acting_for" json:"actingFor"`
	ProviderFirmID          *int               `db:"provider_firm_id" json:"providerFirmId,omitempty"`
	Status                  models.PartyStatus `db:"status" json:"status"`
	IsActiveLenderSolicitor bool               `db:"is_active_lender_solicitor" json:"isActiveLenderSolicitor"`
	RemovedReason           *string            `db:"removed_reason" json:"removedReason,omitempty"`
	CreatedAt               time.Time          `db:"created_at" json:"createdAt"`
	UpdatedAt               time.Time          `db:"updated_at" json:"updatedAt"`
}

func (s *Storage) CreateParty(ctx context.Context, p *Party) error {
	query := `
        INSERT INTO party (deal_id, user_id, party_type, acting_for, provider_firm_id, status, is_active_lender_solicitor)
        VALUES ($1, $2, $3, $4, $5, $6, $7)
        RETURNING id, created_at, updated_at`
	err := s.db.QueryRowContext(ctx, query,
		p.DealID, p.UserID, p.PartyType, p.ActingFor, p.ProviderFirmID, p.Status, p.IsActiveLenderSolicitor).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	return mapDBError(err, "party")
}

func (s *Storage) GetParty(ctx context.Context, id int) (*Party, error) {
	p := &Party{}
	query := `SELECT * FROM party WHERE id=$1`
	if err := s.db.GetContext(ctx, p, query, id); err != nil {
		return nil, mapDBError(err, "party")
	}
	return p, nil
}

// GetPartyForUser resolves the caller's party on a deal. Removed parties do
// not resolve.
func (s *Storage) GetPartyForUser(ctx context.Context, dealID, userID int) (*Party, error) {
	p := &Party{}
	query := `
        SELECT * FROM party
        WHERE deal_id=$1 AND user_id=$2 AND status <> 'removed'
        ORDER BY created_at DESC LIMIT 1`
	if err := s.db.GetContext(ctx, p, query, dealID, userID); err != nil {
		return nil, mapDBError(err, "party")
	}
	return p, nil
}

func (s *Storage) ListParties(ctx context.Context, dealID, limit, offset int) ([]Party, error) {
	parties := []Party{}
	query := `SELECT * FROM party WHERE deal_id=$1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`
	err := s.db.SelectContext(ctx, &parties, query, dealID, limit, offset)
	return parties, err
}

// UpdatePartyStatus moves a party to the target status only when it is in one
// of the expected statuses; false means it was not.
func (s *Storage) UpdatePartyStatus(ctx context.Context, id int, from []models.PartyStatus, to models.PartyStatus, reason *string) (bool, error) {
	query := `
        UPDATE party
        SET status=$1, removed_reason=COALESCE($2, removed_reason), updated_at=NOW()
        WHERE id=$3 AND status = ANY($4)`
	res, err := s.db.ExecContext(ctx, query, to, reason, id, pq.Array(statusStrings(from)))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func statusStrings[S ~string](in []S) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = string(v)
	}
	return out
}

// ReplaceLenderSolicitor deactivates the current active lender solicitor and
// activates the replacement in one transaction. The partial unique index on
// party re-checks the invariant at commit, so two concurrent replacements
// cannot both succeed.
func (s *Storage) ReplaceLenderSolicitor(ctx context.Context, dealID, newPartyID int, reason string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
            UPDATE party
            SET is_active_lender_solicitor=FALSE, removed_reason=$1, updated_at=NOW()
            WHERE deal_id=$2 AND party_type='solicitor' AND acting_for='lender' AND is_active_lender_solicitor`,
			reason, dealID)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
            UPDATE party
            SET is_active_lender_solicitor=TRUE, status='active', updated_at=NOW()
            WHERE id=$1 AND deal_id=$2 AND party_type='solicitor' AND acting_for='lender' AND status <> 'removed'`,
			newPartyID, dealID)
		if err != nil {
			return mapDBError(err, "lender solicitor")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return apperr.Validation("replacement party is not a lender-side solicitor on this deal")
		}
		return nil
	})
}
