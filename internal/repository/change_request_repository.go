package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tutorhive/tutorhive-api/internal/models"
)

const changeRequestColumns = `id, kind, routine_id, schedule_id, created_by, student_ids, pending_by, accepted_by, rejected_by, status, payload, created_at, updated_at`

// ChangeRequestRepository provides persistence for change requests.
type ChangeRequestRepository struct {
	db *sqlx.DB
}

// NewChangeRequestRepository creates a new change request repository.
func NewChangeRequestRepository(db *sqlx.DB) *ChangeRequestRepository {
	return &ChangeRequestRepository{db: db}
}

// Create stores a new change request. The tagged payload is encoded here.
func (r *ChangeRequestRepository) Create(ctx context.Context, req *models.ChangeRequest) error {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = now
	}
	req.UpdatedAt = now
	if req.PendingBy == nil {
		req.PendingBy = pq.StringArray{}
	}
	if req.AcceptedBy == nil {
		req.AcceptedBy = pq.StringArray{}
	}
	if req.RejectedBy == nil {
		req.RejectedBy = pq.StringArray{}
	}
	if err := req.EncodePayload(); err != nil {
		return err
	}

	const query = `INSERT INTO change_requests (id, kind, routine_id, schedule_id, created_by, student_ids, pending_by, accepted_by, rejected_by, status, payload, created_at, updated_at)
		VALUES (:id, :kind, :routine_id, :schedule_id, :created_by, :student_ids, :pending_by, :accepted_by, :rejected_by, :status, :payload, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, req); err != nil {
		return fmt.Errorf("create change request: %w", err)
	}
	return nil
}

// FindByID loads a change request and decodes its payload.
func (r *ChangeRequestRepository) FindByID(ctx context.Context, id string) (*models.ChangeRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM change_requests WHERE id = $1`, changeRequestColumns)
	var req models.ChangeRequest
	if err := r.db.GetContext(ctx, &req, query, id); err != nil {
		return nil, err
	}
	if err := req.DecodePayload(); err != nil {
		return nil, err
	}
	return &req, nil
}

// List returns change requests addressed to or created by the given user.
func (r *ChangeRequestRepository) List(ctx context.Context, userID, status string) ([]models.ChangeRequest, error) {
	base := `FROM change_requests WHERE (created_by = $1 OR $1 = ANY(student_ids))`
	args := []interface{}{userID}
	if status != "" {
		base += fmt.Sprintf(" AND status = $%d", len(args)+1)
		args = append(args, status)
	}

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC", changeRequestColumns, base)
	var reqs []models.ChangeRequest
	if err := r.db.SelectContext(ctx, &reqs, query, args...); err != nil {
		return nil, fmt.Errorf("list change requests: %w", err)
	}
	for i := range reqs {
		if err := reqs[i].DecodePayload(); err != nil {
			return nil, err
		}
	}
	return reqs, nil
}

// SaveResponseSets persists the response tracking sets and derived status.
func (r *ChangeRequestRepository) SaveResponseSets(ctx context.Context, req *models.ChangeRequest) error {
	return r.saveResponseSets(ctx, r.db, req)
}

// SaveResponseSetsWithTx is SaveResponseSets inside an existing transaction.
func (r *ChangeRequestRepository) SaveResponseSetsWithTx(ctx context.Context, tx *sqlx.Tx, req *models.ChangeRequest) error {
	return r.saveResponseSets(ctx, tx, req)
}

func (r *ChangeRequestRepository) saveResponseSets(ctx context.Context, ext sqlx.ExtContext, req *models.ChangeRequest) error {
	req.UpdatedAt = time.Now().UTC()
	const query = `UPDATE change_requests SET pending_by = :pending_by, accepted_by = :accepted_by, rejected_by = :rejected_by, status = :status, updated_at = :updated_at WHERE id = :id`
	if _, err := sqlx.NamedExecContext(ctx, ext, query, req); err != nil {
		return fmt.Errorf("save change request responses: %w", err)
	}
	return nil
}

// PendingForRoutine reports whether the routine already has an open request;
// two concurrent weekly edits over one routine are not allowed.
func (r *ChangeRequestRepository) PendingForRoutine(ctx context.Context, routineID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM change_requests WHERE routine_id = $1 AND status = 'pending')`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, routineID); err != nil {
		return false, fmt.Errorf("check pending change requests: %w", err)
	}
	return exists, nil
}
