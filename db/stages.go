package db

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"dealflow/models"
	"dealflow/pkg/apperr"
)

// ProviderStage tracks a selected provider's progress through its
// role-specific engagement stages.
type ProviderStage struct {
	ID                int              `db:"id" json:"id"`
	DealID            int              `db:"deal_id" json:"dealId"`
	SelectionID       int              `db:"selection_id" json:"selectionId"`
	RoleType          models.PartyType `db:"role_type" json:"roleType"`
	Stage             string           `db:"stage" json:"stage"`
	CompletionPercent int              `db:"completion_percent" json:"completionPercent"`
	CreatedAt         time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time        `db:"updated_at" json:"updatedAt"`
}

// createStageTx spawns the stage record a new active selection starts in.
func (s *Storage) createStageTx(ctx context.Context, tx *sqlx.Tx, sel *Selection) error {
	_, err := tx.ExecContext(ctx, `
        INSERT INTO provider_stage (deal_id, selection_id, role_type, stage, completion_percent)
        VALUES ($1, $2, $3, $4, 0)`,
		sel.DealID, sel.ID, sel.RoleType, models.FirstStage(sel.RoleType))
	return err
}

func (s *Storage) GetStage(ctx context.Context, id int) (*ProviderStage, error) {
	st := &ProviderStage{}
	query := `SELECT * FROM provider_stage WHERE id=$1`
	if err := s.db.GetContext(ctx, st, query, id); err != nil {
		return nil, mapDBError(err, "provider stage")
	}
	return st, nil
}

func (s *Storage) ListStages(ctx context.Context, dealID, limit, offset int) ([]ProviderStage, error) {
	stages := []ProviderStage{}
	query := `SELECT * FROM provider_stage WHERE deal_id=$1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`
	err := s.db.SelectContext(ctx, &stages, query, dealID, limit, offset)
	return stages, err
}

// AdvanceStage moves the stage forward only when it is still at expected and
// the checklist of that named stage exists and is fully completed. Tasks are
// keyed to the stage they were created under, so a newly entered stage starts
// with an empty checklist and cannot advance until one is defined and done.
// The guard runs inside the update, so a concurrent advance loses harmlessly
// (idempotent no-op).
func (s *Storage) AdvanceStage(ctx context.Context, id int, expected, next string) (bool, error) {
	query := `
        UPDATE provider_stage SET stage=$1, completion_percent=0, updated_at=NOW()
        WHERE id=$2 AND stage=$3
          AND EXISTS (
              SELECT 1 FROM task
              WHERE task.stage_id=$2 AND task.stage=$3 AND task.mandatory
          )
          AND NOT EXISTS (
              SELECT 1 FROM task
              WHERE task.stage_id=$2 AND task.stage=$3 AND task.mandatory AND task.status <> 'completed'
          )`
	res, err := s.db.ExecContext(ctx, query, next, id, expected)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// MandatoryTaskProgress reports the size of the named stage's mandatory
// checklist and how many of those tasks are still incomplete.
func (s *Storage) MandatoryTaskProgress(ctx context.Context, stageID int, stage string) (total, incomplete int, err error) {
	var row struct {
		Total      int `db:"total"`
		Incomplete int `db:"incomplete"`
	}
	query := `
        SELECT COUNT(1) AS total,
               COUNT(1) FILTER (WHERE status <> 'completed') AS incomplete
        FROM task WHERE stage_id=$1 AND stage=$2 AND mandatory`
	if err := s.db.GetContext(ctx, &row, query, stageID, stage); err != nil {
		return 0, 0, err
	}
	return row.Total, row.Incomplete, nil
}

// Task is a checklist item on a provider stage. Stage records the named
// stage the task was created under; advancing past that stage leaves the
// task behind rather than carrying it into the next checklist.
type Task struct {
	ID        int                 `db:"id" json:"id"`
	StageID   int                 `db:"stage_id" json:"stageId"`
	Stage     string              `db:"stage" json:"stage"`
	Title     string              `db:"title" json:"title"`
	Priority  models.TaskPriority `db:"priority" json:"priority"`
	DueDate   *time.Time          `db:"due_date" json:"dueDate,omitempty"`
	Mandatory bool                `db:"mandatory" json:"mandatory"`
	Status    models.TaskStatus   `db:"status" json:"status"`
	CreatedAt time.Time           `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time           `db:"updated_at" json:"updatedAt"`
}

func (s *Storage) CreateTask(ctx context.Context, t *Task, dependencyIDs []int) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		err := tx.QueryRowContext(ctx, `
            INSERT INTO task (stage_id, stage, title, priority, due_date, mandatory, status)
            VALUES ($1, $2, $3, $4, $5, $6, $7)
            RETURNING id, created_at, updated_at`,
			t.StageID, t.Stage, t.Title, t.Priority, t.DueDate, t.Mandatory, t.Status).
			Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return err
		}
		for _, dep := range dependencyIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO task_dependency (task_id, depends_on_task_id) VALUES ($1, $2)`,
				t.ID, dep); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Storage) GetTask(ctx context.Context, id int) (*Task, error) {
	t := &Task{}
	query := `SELECT * FROM task WHERE id=$1`
	if err := s.db.GetContext(ctx, t, query, id); err != nil {
		return nil, mapDBError(err, "task")
	}
	return t, nil
}

func (s *Storage) ListTasks(ctx context.Context, stageID, limit, offset int) ([]Task, error) {
	tasks := []Task{}
	query := `SELECT * FROM task WHERE stage_id=$1 ORDER BY created_at ASC LIMIT $2 OFFSET $3`
	err := s.db.SelectContext(ctx, &tasks, query, stageID, limit, offset)
	return tasks, err
}

func (s *Storage) ListTaskDependencies(ctx context.Context, taskID int) ([]int, error) {
	ids := []int{}
	query := `SELECT depends_on_task_id FROM task_dependency WHERE task_id=$1 ORDER BY depends_on_task_id`
	err := s.db.SelectContext(ctx, &ids, query, taskID)
	return ids, err
}

// StartTask moves a pending task to in_progress.
func (s *Storage) StartTask(ctx context.Context, id int) (bool, error) {
	query := `UPDATE task SET status='in_progress', updated_at=NOW() WHERE id=$1 AND status='pending'`
	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CompleteTask marks the task completed and recomputes the stage's
// completion percentage. The dependency check is part of the same
// transaction, so an incomplete dependency can never slip past it.
func (s *Storage) CompleteTask(ctx context.Context, id int) (*Task, error) {
	var t Task
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		var blocked int
		err := tx.GetContext(ctx, &blocked, `
            SELECT COUNT(1) FROM task_dependency d
            JOIN task dep ON d.depends_on_task_id = dep.id
            WHERE d.task_id=$1 AND dep.status <> 'completed'`, id)
		if err != nil {
			return err
		}
		if blocked > 0 {
			return apperr.InvalidTransition("", "dependency not satisfied: %d incomplete dependency task(s)", blocked)
		}

		err = tx.GetContext(ctx, &t, `
            UPDATE task SET status='completed', updated_at=NOW()
            WHERE id=$1 AND status IN ('pending', 'in_progress', 'blocked')
            RETURNING *`, id)
		if err != nil {
			return mapDBError(err, "task")
		}

		_, err = tx.ExecContext(ctx, `
            UPDATE provider_stage ps
            SET completion_percent = (
                    SELECT COALESCE(
                        (COUNT(1) FILTER (WHERE t.status = 'completed')) * 100 / NULLIF(COUNT(1), 0),
                        0)
                    FROM task t
                    WHERE t.stage_id = ps.id AND t.stage = ps.stage AND t.mandatory
                ),
                updated_at = NOW()
            WHERE ps.id = $1`, t.StageID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}
