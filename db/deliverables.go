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

// Deliverable is a versioned consultant work product (valuation report,
// monitoring report, legal report) submitted for lender review.
type Deliverable struct {
	ID                int                      `db:"id" json:"id"`
	DealID            int                      `db:"deal_id" json:"dealId"`
	StageID           int                      `db:"stage_id" json:"stageId"`
	UploadedByPartyID int                      `db:"uploaded_by_party_id" json:"uploadedByPartyId"`
	Title             string                   `db:"title" json:"title"`
	FileName          string                   `db:"file_name" json:"fileName"`
	StorageKey        string                   `db:"storage_key" json:"storageKey"`
	Version           int                      `db:"version" json:"version"`
	Status            models.DeliverableStatus `db:"status" json:"status"`
	RevisionRequested bool                     `db:"revision_requested" json:"revisionRequested"`
	ReviewNotes       *string                  `db:"review_notes" json:"reviewNotes,omitempty"`
	CreatedAt         time.Time                `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time                `db:"updated_at" json:"updatedAt"`
}

func (s *Storage) CreateDeliverable(ctx context.Context, d *Deliverable) error {
	query := `
        INSERT INTO deliverable
            (deal_id, stage_id, uploaded_by_party_id, title, file_name, storage_key, version, status)
        VALUES ($1, $2, $3, $4, $5, $6, 1, $7)
        RETURNING id, version, created_at, updated_at`
	err := s.db.QueryRowContext(ctx, query,
		d.DealID, d.StageID, d.UploadedByPartyID, d.Title, d.FileName, d.StorageKey, d.Status).
		Scan(&d.ID, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	return mapDBError(err, "deliverable")
}

func (s *Storage) GetDeliverable(ctx context.Context, id int) (*Deliverable, error) {
	d := &Deliverable{}
	query := `SELECT * FROM deliverable WHERE id=$1`
	if err := s.db.GetContext(ctx, d, query, id); err != nil {
		return nil, mapDBError(err, "deliverable")
	}
	return d, nil
}

func (s *Storage) ListDeliverables(ctx context.Context, dealID, limit, offset int) ([]Deliverable, error) {
	deliverables := []Deliverable{}
	query := `SELECT * FROM deliverable WHERE deal_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	err := s.db.SelectContext(ctx, &deliverables, query, dealID, limit, offset)
	return deliverables, err
}

// ReviewDeliverable records the lender's decision on a reviewable version.
// A rejection with requestRevision keeps the thread open for a re-upload.
func (s *Storage) ReviewDeliverable(ctx context.Context, id int, to models.DeliverableStatus, requestRevision bool, notes *string) (*Deliverable, error) {
	d := &Deliverable{}
	query := `
        UPDATE deliverable
        SET status=$1, revision_requested=$2, review_notes=COALESCE($3, review_notes), updated_at=NOW()
        WHERE id=$4 AND status = ANY($5)
        RETURNING *`
	err := s.db.GetContext(ctx, d, query, to, requestRevision, notes, id,
		pq.Array(statusStrings(models.ReviewableDeliverableStatuses)))
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.GetDeliverable(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, apperr.InvalidTransition(string(current.Status),
			"deliverable is not awaiting review")
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// UploadDeliverableRevision replaces the file and bumps the version. Only a
// rejected deliverable with a revision request (or one explicitly rejected)
// accepts a new version.
func (s *Storage) UploadDeliverableRevision(ctx context.Context, id int, fileName, storageKey string) (*Deliverable, error) {
	d := &Deliverable{}
	query := `
        UPDATE deliverable
        SET file_name=$1, storage_key=$2, version=version+1, status='revised',
            revision_requested=FALSE, updated_at=NOW()
        WHERE id=$3 AND (status='rejected' OR revision_requested)
        RETURNING *`
	err := s.db.GetContext(ctx, d, query, fileName, storageKey, id)
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.GetDeliverable(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, apperr.InvalidTransition(string(current.Status),
			"deliverable does not have a revision outstanding")
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Appointment is a proposed site visit or meeting between a consultant and a
// principal, optionally with candidate time slots to choose from.
type Appointment struct {
	ID                int                      `db:"id" json:"id"`
	DealID            int                      `db:"deal_id" json:"dealId"`
	ProposedByPartyID int                      `db:"proposed_by_party_id" json:"proposedByPartyId"`
	Subject           string                   `db:"subject" json:"subject"`
	Location          *string                  `db:"location" json:"location,omitempty"`
	Status            models.AppointmentStatus `db:"status" json:"status"`
	ScheduledAt       *time.Time               `db:"scheduled_at" json:"scheduledAt,omitempty"`
	CancelReason      *string                  `db:"cancel_reason" json:"cancelReason,omitempty"`
	CreatedAt         time.Time                `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time                `db:"updated_at" json:"updatedAt"`
}

type AppointmentSlot struct {
	ID            int       `db:"id" json:"id"`
	AppointmentID int       `db:"appointment_id" json:"appointmentId"`
	StartsAt      time.Time `db:"starts_at" json:"startsAt"`
	EndsAt        time.Time `db:"ends_at" json:"endsAt"`
}

// CreateAppointment inserts the appointment and its candidate slots in one
// transaction. With no slots the proposer supplies ScheduledAt directly.
func (s *Storage) CreateAppointment(ctx context.Context, a *Appointment, slots []AppointmentSlot) ([]AppointmentSlot, error) {
	out := make([]AppointmentSlot, len(slots))
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		query := `
            INSERT INTO appointment (deal_id, proposed_by_party_id, subject, location, status, scheduled_at)
            VALUES ($1, $2, $3, $4, $5, $6)
            RETURNING id, created_at, updated_at`
		if err := tx.QueryRowContext(ctx, query,
			a.DealID, a.ProposedByPartyID, a.Subject, a.Location, a.Status, a.ScheduledAt).
			Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return err
		}
		slotQuery := `
            INSERT INTO appointment_slot (appointment_id, starts_at, ends_at)
            VALUES ($1, $2, $3) RETURNING id`
		for i, slot := range slots {
			slot.AppointmentID = a.ID
			if err := tx.QueryRowContext(ctx, slotQuery, a.ID, slot.StartsAt, slot.EndsAt).Scan(&slot.ID); err != nil {
				return err
			}
			out[i] = slot
		}
		return nil
	})
	if err != nil {
		return nil, mapDBError(err, "appointment")
	}
	return out, nil
}

func (s *Storage) GetAppointment(ctx context.Context, id int) (*Appointment, error) {
	a := &Appointment{}
	query := `SELECT * FROM appointment WHERE id=$1`
	if err := s.db.GetContext(ctx, a, query, id); err != nil {
		return nil, mapDBError(err, "appointment")
	}
	return a, nil
}

func (s *Storage) ListAppointments(ctx context.Context, dealID, limit, offset int) ([]Appointment, error) {
	appointments := []Appointment{}
	query := `SELECT * FROM appointment WHERE deal_id=$1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
	err := s.db.SelectContext(ctx, &appointments, query, dealID, limit, offset)
	return appointments, err
}

func (s *Storage) ListAppointmentSlots(ctx context.Context, appointmentID int) ([]AppointmentSlot, error) {
	slots := []AppointmentSlot{}
	query := `SELECT * FROM appointment_slot WHERE appointment_id=$1 ORDER BY starts_at ASC`
	err := s.db.SelectContext(ctx, &slots, query, appointmentID)
	return slots, err
}

// ConfirmAppointment picks a slot (when slots were proposed, slotID is
// required and must belong to this appointment) and confirms the meeting.
func (s *Storage) ConfirmAppointment(ctx context.Context, id int, slotID *int) (*Appointment, error) {
	a := &Appointment{}
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var scheduledAt *time.Time
		var slotCount int
		if err := tx.GetContext(ctx, &slotCount,
			`SELECT COUNT(1) FROM appointment_slot WHERE appointment_id=$1`, id); err != nil {
			return err
		}
		if slotCount > 0 {
			if slotID == nil {
				return apperr.Validation("slot_id is required when slots were proposed")
			}
			var startsAt time.Time
			err := tx.GetContext(ctx, &startsAt,
				`SELECT starts_at FROM appointment_slot WHERE id=$1 AND appointment_id=$2`, *slotID, id)
			if errors.Is(err, sql.ErrNoRows) {
				return apperr.Validation("slot %d does not belong to appointment %d", *slotID, id)
			}
			if err != nil {
				return err
			}
			scheduledAt = &startsAt
		}
		query := `
            UPDATE appointment
            SET status='confirmed', scheduled_at=COALESCE($1, scheduled_at), updated_at=NOW()
            WHERE id=$2 AND status IN ('proposed', 'rescheduled')
            RETURNING *`
		err := tx.GetContext(ctx, a, query, scheduledAt, id)
		if errors.Is(err, sql.ErrNoRows) {
			current, getErr := s.GetAppointment(ctx, id)
			if getErr != nil {
				return getErr
			}
			return apperr.InvalidTransition(string(current.Status), "appointment cannot be confirmed")
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// RescheduleAppointment replaces the slot set and moves the appointment back
// to awaiting confirmation.
func (s *Storage) RescheduleAppointment(ctx context.Context, id int, slots []AppointmentSlot) (*Appointment, []AppointmentSlot, error) {
	a := &Appointment{}
	out := make([]AppointmentSlot, len(slots))
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		query := `
            UPDATE appointment
            SET status='rescheduled', scheduled_at=NULL, updated_at=NOW()
            WHERE id=$1 AND status IN ('proposed', 'confirmed')
            RETURNING *`
		err := tx.GetContext(ctx, a, query, id)
		if errors.Is(err, sql.ErrNoRows) {
			current, getErr := s.GetAppointment(ctx, id)
			if getErr != nil {
				return getErr
			}
			return apperr.InvalidTransition(string(current.Status), "appointment cannot be rescheduled")
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM appointment_slot WHERE appointment_id=$1`, id); err != nil {
			return err
		}
		slotQuery := `
            INSERT INTO appointment_slot (appointment_id, starts_at, ends_at)
            VALUES ($1, $2, $3) RETURNING id`
		for i, slot := range slots {
			slot.AppointmentID = id
			if err := tx.QueryRowContext(ctx, slotQuery, id, slot.StartsAt, slot.EndsAt).Scan(&slot.ID); err != nil {
				return err
			}
			out[i] = slot
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return a, out, nil
}

func (s *Storage) CancelAppointment(ctx context.Context, id int, reason *string) (bool, error) {
	query := `
        UPDATE appointment SET status='cancelled', cancel_reason=$1, updated_at=NOW()
        WHERE id=$2 AND status IN ('proposed', 'confirmed', 'rescheduled')`
	res, err := s.db.ExecContext(ctx, query, reason, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *Storage) CompleteAppointment(ctx context.Context, id int) (bool, error) {
	query := `
        UPDATE appointment SET status='completed', updated_at=NOW()
        WHERE id=$1 AND status='confirmed'`
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}
