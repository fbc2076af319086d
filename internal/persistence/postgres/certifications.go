package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/challenge/internal/domain"
	"example.com/challenge/internal/observability"
	"example.com/challenge/internal/outbox"
)

// Certifications is the Postgres-backed attestation store.
type Certifications struct {
	pool *pgxpool.Pool
}

// NewCertifications constructs the repository.
func NewCertifications(pool *pgxpool.Pool) *Certifications {
	return &Certifications{pool: pool}
}

// Create inserts the certification and closes any open challenge on the
// activity inside one transaction, so the attestation and the closure can
// never be observed apart.
func (r *Certifications) Create(ctx context.Context, cert domain.Certification, closedAt time.Time) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	const insertCert = `INSERT INTO certifications (certification_id, activity_id, certifier_id, certified_at)
        VALUES ($1,$2,$3,$4)`
	if _, err = tx.Exec(ctx, insertCert, cert.ID, cert.ActivityID, cert.CertifierID, cert.CertifiedAt); err != nil {
		if isUniqueViolation(err) {
			err = domain.ErrDuplicateCertification
		}
		return err
	}

	if err = insertOutbox(ctx, tx, "certification", cert.ID, outbox.EventActivityCertified, cert.ActivityID, outbox.ActivityCertified{
		CertificationID: cert.ID,
		ActivityID:      cert.ActivityID,
		CertifierID:     cert.CertifierID,
		CertifiedAt:     cert.CertifiedAt,
	}); err != nil {
		return err
	}

	// At most one open challenge exists per activity (partial unique index).
	const closeChallenge = `UPDATE challenges
        SET status=$2, resolution_reason=$3, closed_at=$4
        WHERE challenged_activity_id=$1 AND status='open'
        RETURNING challenge_id, challenged_user_id`

	var challengeID, challengedUserID string
	row := tx.QueryRow(ctx, closeChallenge, cert.ActivityID, domain.StatusClosed, domain.ReasonCertified, closedAt)
	scanErr := row.Scan(&challengeID, &challengedUserID)
	if scanErr == nil {
		if err = insertOutbox(ctx, tx, "challenge", challengeID, outbox.EventChallengeClosed, challengedUserID, outbox.ChallengeSettled{
			ChallengeID:          challengeID,
			ChallengedUserID:     challengedUserID,
			ChallengedActivityID: cert.ActivityID,
			Status:               string(domain.StatusClosed),
			ResolutionReason:     string(domain.ReasonCertified),
			SettledAt:            closedAt,
		}); err != nil {
			return err
		}
	} else if !errors.Is(scanErr, pgx.ErrNoRows) {
		err = scanErr
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return err
	}
	observability.RecordCertificationRecorded(cert.CertifiedAt)
	return nil
}

// Exists reports whether the activity holds at least one certification.
func (r *Certifications) Exists(ctx context.Context, activityID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM certifications WHERE activity_id=$1)`
	var exists bool
	if err := r.pool.QueryRow(ctx, query, activityID).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}
