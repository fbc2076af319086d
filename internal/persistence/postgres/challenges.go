package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/challenge/internal/domain"
	"example.com/challenge/internal/observability"
	"example.com/challenge/internal/outbox"
)

// Challenges is the Postgres-backed contested-claim state machine.
type Challenges struct {
	pool *pgxpool.Pool
}

// NewChallenges constructs the repository.
func NewChallenges(pool *pgxpool.Pool) *Challenges {
	return &Challenges{pool: pool}
}

const challengeColumns = `challenge_id, challenged_user_id, challenger_user_id, challenged_activity_id,
        resolving_activity_id, status, expires_at, closed_at, resolution_reason, created_at`

func scanChallenge(row pgx.Row) (*domain.Challenge, error) {
	var (
		challenge domain.Challenge
		status    string
		reason    *string
	)
	err := row.Scan(
		&challenge.ID,
		&challenge.ChallengedUserID,
		&challenge.ChallengerUserID,
		&challenge.ChallengedActivityID,
		&challenge.ResolvingActivityID,
		&status,
		&challenge.ExpiresAt,
		&challenge.ClosedAt,
		&reason,
		&challenge.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	challenge.Status = domain.Status(status)
	if reason != nil {
		r := domain.Reason(*reason)
		challenge.ResolutionReason = &r
	}
	return &challenge, nil
}

// Create inserts an open challenge and records the challenge.opened event in
// the same transaction. The partial unique index on open challenges turns a
// lost creation race into ErrAlreadyChallenged.
func (r *Challenges) Create(ctx context.Context, challenge domain.Challenge) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	const stmt = `INSERT INTO challenges (challenge_id, challenged_user_id, challenger_user_id, challenged_activity_id, status, expires_at, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)`
	if _, err = tx.Exec(ctx, stmt,
		challenge.ID,
		challenge.ChallengedUserID,
		challenge.ChallengerUserID,
		challenge.ChallengedActivityID,
		challenge.Status,
		challenge.ExpiresAt,
		challenge.CreatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			err = domain.ErrAlreadyChallenged
		}
		return err
	}

	if err = insertOutbox(ctx, tx, "challenge", challenge.ID, outbox.EventChallengeOpened, challenge.ChallengedUserID, outbox.ChallengeOpened{
		ChallengeID:          challenge.ID,
		ChallengedUserID:     challenge.ChallengedUserID,
		ChallengerUserID:     challenge.ChallengerUserID,
		ChallengedActivityID: challenge.ChallengedActivityID,
		ExpiresAt:            challenge.ExpiresAt,
		OpenedAt:             challenge.CreatedAt,
	}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordChallengeOpened(challenge.CreatedAt)
	return nil
}

// Get retrieves a challenge by ID, or nil when absent.
func (r *Challenges) Get(ctx context.Context, id string) (*domain.Challenge, error) {
	const query = `SELECT ` + challengeColumns + ` FROM challenges WHERE challenge_id=$1`
	challenge, err := scanChallenge(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return challenge, nil
}

// HasOpen reports whether the activity has an open challenge.
func (r *Challenges) HasOpen(ctx context.Context, activityID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM challenges WHERE challenged_activity_id=$1 AND status='open')`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, activityID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// HasResolved reports whether a previous challenge on the activity resolved in
// the performer's favour, settling the activity permanently.
func (r *Challenges) HasResolved(ctx context.Context, activityID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM challenges
        WHERE challenged_activity_id=$1 AND status='closed'
          AND resolution_reason IN ('certified','resolved_by_superior'))`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, activityID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// ListByUser returns challenges for the user in the given role, newest first.
func (r *Challenges) ListByUser(ctx context.Context, userID string, role domain.Role, filter domain.StatusFilter, limit int) ([]domain.Challenge, error) {
	var column string
	switch role {
	case domain.RoleChallenged:
		column = "challenged_user_id"
	case domain.RoleChallenger:
		column = "challenger_user_id"
	default:
		return nil, domain.ErrInvalidRole
	}

	query := fmt.Sprintf(`SELECT %s FROM challenges WHERE %s=$1`, challengeColumns, column)
	switch filter {
	case domain.FilterOpen:
		query += ` AND status='open'`
	case domain.FilterClosed:
		query += ` AND status IN ('closed','expired')`
	case domain.FilterBoth:
	default:
		return nil, domain.ErrInvalidStatusFilter
	}
	query += ` ORDER BY created_at DESC, challenge_id DESC LIMIT $2`

	return r.queryChallenges(ctx, query, userID, limit)
}

// ListOpen pages through open challenges ascending by (created_at, id).
func (r *Challenges) ListOpen(ctx context.Context, after *domain.Cursor, limit int) ([]domain.Challenge, *domain.Cursor, error) {
	args := []interface{}{limit}
	query := `SELECT ` + challengeColumns + ` FROM challenges WHERE status='open'`
	if after != nil {
		query += ` AND (created_at, challenge_id) > ($2, $3)`
		args = append(args, after.CreatedAt, after.ID)
	}
	query += ` ORDER BY created_at, challenge_id LIMIT $1`

	results, err := r.queryChallenges(ctx, query, args...)
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

// TransitionIfOpen applies a terminal transition as a single conditional
// update. Only the caller that actually changed the row gets true back and may
// fire side effects; the settlement event rides in the same transaction.
func (r *Challenges) TransitionIfOpen(ctx context.Context, id string, status domain.Status, reason domain.Reason, resolvingActivityID *string, closedAt time.Time) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	const stmt = `UPDATE challenges
        SET status=$2, resolution_reason=$3, resolving_activity_id=$4, closed_at=$5
        WHERE challenge_id=$1 AND status='open'
        RETURNING challenged_user_id, challenged_activity_id`

	var challengedUserID, challengedActivityID string
	scanErr := tx.QueryRow(ctx, stmt, id, status, reason, resolvingActivityID, closedAt).Scan(&challengedUserID, &challengedActivityID)
	if errors.Is(scanErr, pgx.ErrNoRows) {
		_ = tx.Rollback(ctx)
		return false, nil
	}
	if scanErr != nil {
		err = scanErr
		return false, err
	}

	eventType := outbox.EventChallengeClosed
	if status == domain.StatusExpired {
		eventType = outbox.EventChallengeExpired
	}
	if err = insertOutbox(ctx, tx, "challenge", id, eventType, challengedUserID, outbox.ChallengeSettled{
		ChallengeID:          id,
		ChallengedUserID:     challengedUserID,
		ChallengedActivityID: challengedActivityID,
		Status:               string(status),
		ResolutionReason:     string(reason),
		ResolvingActivityID:  resolvingActivityID,
		SettledAt:            closedAt,
	}); err != nil {
		return false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return false, err
	}
	observability.RecordChallengeSettled(closedAt)
	return true, nil
}

func (r *Challenges) queryChallenges(ctx context.Context, query string, args ...interface{}) ([]domain.Challenge, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.Challenge, 0)
	for rows.Next() {
		challenge, err := scanChallenge(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *challenge)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
