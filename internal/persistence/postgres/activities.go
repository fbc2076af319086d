package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/challenge/internal/domain"
	"example.com/challenge/internal/outbox"
)

// Activities is the Postgres-backed append-only activity ledger.
type Activities struct {
	pool *pgxpool.Pool
}

// NewActivities constructs the repository.
func NewActivities(pool *pgxpool.Pool) *Activities {
	return &Activities{pool: pool}
}

const activityColumns = `activity_id, user_id, kind, payload, created_at`

func scanActivity(row pgx.Row) (*domain.Activity, error) {
	var (
		activity domain.Activity
		raw      json.RawMessage
	)
	if err := row.Scan(&activity.ID, &activity.UserID, &activity.Kind, &raw, &activity.CreatedAt); err != nil {
		return nil, err
	}
	payload, err := domain.DecodePayload(activity.Kind, raw)
	if err != nil {
		return nil, err
	}
	activity.Payload = payload
	return &activity, nil
}

// Create appends a ledger entry and records the activity.recorded event in the
// same transaction.
func (r *Activities) Create(ctx context.Context, activity domain.Activity) error {
	body, err := domain.EncodePayload(activity.Payload)
	if err != nil {
		return err
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	const stmt = `INSERT INTO activities (activity_id, user_id, kind, payload, created_at)
        VALUES ($1,$2,$3,$4,$5)`
	if _, err = tx.Exec(ctx, stmt, activity.ID, activity.UserID, activity.Kind, body, activity.CreatedAt); err != nil {
		return err
	}

	if err = insertOutbox(ctx, tx, "activity", activity.ID, outbox.EventActivityRecorded, activity.UserID, outbox.ActivityRecorded{
		ActivityID: activity.ID,
		UserID:     activity.UserID,
		Kind:       activity.Kind,
		RecordedAt: activity.CreatedAt,
	}); err != nil {
		return err
	}

	err = tx.Commit(ctx)
	return err
}

// Get retrieves an activity by ID, or nil when absent.
func (r *Activities) Get(ctx context.Context, id string) (*domain.Activity, error) {
	const query = `SELECT ` + activityColumns + ` FROM activities WHERE activity_id=$1`

	activity, err := scanActivity(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return activity, nil
}

// ListByUser returns a user's activities newest first with keyset pagination.
func (r *Activities) ListByUser(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	args := []interface{}{userID, limit}
	query := `SELECT ` + activityColumns + ` FROM activities WHERE user_id=$1`
	if cursor != nil {
		query += ` AND (created_at, activity_id) < ($3, $4)`
		args = append(args, cursor.CreatedAt, cursor.ID)
	}
	query += ` ORDER BY created_at DESC, activity_id DESC LIMIT $2`

	results, err := r.queryActivities(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}

	var next *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, next, nil
}

// ListByUserSince returns a user's activities of one kind created strictly
// after the cursor position, ascending.
func (r *Activities) ListByUserSince(ctx context.Context, userID, kind string, after domain.Cursor, limit int) ([]domain.Activity, error) {
	const query = `SELECT ` + activityColumns + ` FROM activities
        WHERE user_id=$1 AND kind=$2 AND (created_at, activity_id) > ($3, $4)
        ORDER BY created_at, activity_id LIMIT $5`
	return r.queryActivities(ctx, query, userID, kind, after.CreatedAt, after.ID, limit)
}

// ListCertifiedByUserSince is ListByUserSince restricted to certified entries.
func (r *Activities) ListCertifiedByUserSince(ctx context.Context, userID, kind string, after domain.Cursor, limit int) ([]domain.Activity, error) {
	const query = `SELECT ` + activityColumns + ` FROM activities a
        WHERE a.user_id=$1 AND a.kind=$2 AND (a.created_at, a.activity_id) > ($3, $4)
          AND EXISTS (SELECT 1 FROM certifications c WHERE c.activity_id = a.activity_id)
        ORDER BY a.created_at, a.activity_id LIMIT $5`
	return r.queryActivities(ctx, query, userID, kind, after.CreatedAt, after.ID, limit)
}

func (r *Activities) queryActivities(ctx context.Context, query string, args ...interface{}) ([]domain.Activity, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.Activity, 0)
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *activity)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
