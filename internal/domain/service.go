// Package domain defines the challenge lifecycle and resolution business logic.
package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Cursor is a restartable position in a (created_at, id) ordered scan.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// ActivityRepository captures persistence for the append-only activity ledger.
type ActivityRepository interface {
	Create(ctx context.Context, activity Activity) error
	Get(ctx context.Context, id string) (*Activity, error)
	// ListByUser returns a user's activities newest first with keyset pagination.
	ListByUser(ctx context.Context, userID string, cursor *Cursor, limit int) ([]Activity, *Cursor, error)
	// ListByUserSince returns a user's activities of one kind created strictly
	// after the cursor position, ascending by creation time.
	ListByUserSince(ctx context.Context, userID, kind string, after Cursor, limit int) ([]Activity, error)
	// ListCertifiedByUserSince is ListByUserSince restricted to activities that
	// hold at least one certification.
	ListCertifiedByUserSince(ctx context.Context, userID, kind string, after Cursor, limit int) ([]Activity, error)
}

// CertificationRepository captures persistence for attestations.
type CertificationRepository interface {
	// Create inserts the certification and, in the same unit of work, closes any
	// open challenge on the activity with reason certified, stamped closedAt.
	// Returns ErrDuplicateCertification if the (activity, certifier) pair exists.
	Create(ctx context.Context, cert Certification, closedAt time.Time) error
	Exists(ctx context.Context, activityID string) (bool, error)
}

// ChallengeRepository captures persistence for the contested-claim state machine.
type ChallengeRepository interface {
	// Create inserts an open challenge. Returns ErrAlreadyChallenged if the
	// activity already has an open challenge.
	Create(ctx context.Context, challenge Challenge) error
	Get(ctx context.Context, id string) (*Challenge, error)
	HasOpen(ctx context.Context, activityID string) (bool, error)
	// HasResolved reports whether the activity was the target of a challenge
	// closed with reason certified or resolved_by_superior.
	HasResolved(ctx context.Context, activityID string) (bool, error)
	ListByUser(ctx context.Context, userID string, role Role, filter StatusFilter, limit int) ([]Challenge, error)
	// ListOpen pages through open challenges ascending by (created_at, id).
	ListOpen(ctx context.Context, after *Cursor, limit int) ([]Challenge, *Cursor, error)
	// TransitionIfOpen applies a terminal transition only if the challenge is
	// still open, reporting whether a row actually changed. It is the sole
	// serialization point for challenge mutations: a false return means another
	// caller already settled the challenge and no side effects may fire.
	TransitionIfOpen(ctx context.Context, id string, status Status, reason Reason, resolvingActivityID *string, closedAt time.Time) (bool, error)
}

// Service orchestrates activity, certification, and challenge workflows.
type Service struct {
	activities     ActivityRepository
	certifications CertificationRepository
	challenges     ChallengeRepository
	clock          Clock
	challengeTTL   time.Duration
}

// ServiceOption configures optional Service behaviour.
type ServiceOption func(*Service)

// WithClock overrides the wall clock.
func WithClock(clock Clock) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

// WithChallengeTTL overrides the default open-challenge lifetime.
func WithChallengeTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) { s.challengeTTL = ttl }
}

// NewService constructs a Service.
func NewService(activities ActivityRepository, certifications CertificationRepository, challenges ChallengeRepository, opts ...ServiceOption) *Service {
	s := &Service{
		activities:     activities,
		certifications: certifications,
		challenges:     challenges,
		clock:          SystemClock(),
		challengeTTL:   DefaultChallengeTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RecordActivity appends a performance record to the ledger.
func (s *Service) RecordActivity(ctx context.Context, userID string, payload Payload) (*Activity, error) {
	if payload == nil {
		return nil, ErrUnknownKind
	}
	activity := Activity{
		ID:        uuid.NewString(),
		UserID:    userID,
		Kind:      payload.Kind(),
		Payload:   payload,
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := s.activities.Create(ctx, activity); err != nil {
		return nil, err
	}
	return &activity, nil
}

// GetActivity fetches an activity by ID.
func (s *Service) GetActivity(ctx context.Context, id string) (*Activity, error) {
	activity, err := s.activities.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, ErrActivityNotFound
	}
	return activity, nil
}

// ListActivitiesByUser returns a user's ledger entries newest first.
func (s *Service) ListActivitiesByUser(ctx context.Context, userID string, cursor *Cursor, limit int) ([]Activity, *Cursor, error) {
	return s.activities.ListByUser(ctx, userID, cursor, limit)
}

// CertifyActivity records a third party's attestation. On the first
// certification any open challenge on the activity closes synchronously with
// reason certified; insert and close are one atomic unit in the repository.
func (s *Service) CertifyActivity(ctx context.Context, certifierID, activityID string) (*Certification, error) {
	activity, err := s.activities.Get(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, ErrActivityNotFound
	}
	if activity.UserID == certifierID {
		return nil, ErrSelfCertification
	}

	now := s.clock.Now().UTC()
	cert := Certification{
		ID:          uuid.NewString(),
		ActivityID:  activityID,
		CertifierID: certifierID,
		CertifiedAt: now,
	}
	if err := s.certifications.Create(ctx, cert, now); err != nil {
		return nil, err
	}
	return &cert, nil
}

// CreateChallenge opens a dispute against an activity. An activity that is
// certified, already under an open challenge, or settled by a previous
// resolution can never be challenged again.
func (s *Service) CreateChallenge(ctx context.Context, challengerID, activityID string, expiresAt *time.Time) (*Challenge, error) {
	activity, err := s.activities.Get(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if activity == nil {
		return nil, ErrActivityNotFound
	}
	if activity.UserID == challengerID {
		return nil, ErrSelfChallenge
	}

	certified, err := s.certifications.Exists(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if certified {
		return nil, ErrActivityCertified
	}

	open, err := s.challenges.HasOpen(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, ErrAlreadyChallenged
	}

	resolved, err := s.challenges.HasResolved(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if resolved {
		return nil, ErrActivitySettled
	}

	now := s.clock.Now().UTC()
	deadline := now.Add(s.challengeTTL)
	if expiresAt != nil {
		deadline = expiresAt.UTC()
	}

	challenge := Challenge{
		ID:                   uuid.NewString(),
		ChallengedUserID:     activity.UserID,
		ChallengerUserID:     challengerID,
		ChallengedActivityID: activityID,
		Status:               StatusOpen,
		ExpiresAt:            deadline,
		CreatedAt:            now,
	}
	if err := s.challenges.Create(ctx, challenge); err != nil {
		return nil, err
	}
	return &challenge, nil
}

// GetChallenge fetches a challenge by ID.
func (s *Service) GetChallenge(ctx context.Context, id string) (*Challenge, error) {
	challenge, err := s.challenges.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if challenge == nil {
		return nil, ErrChallengeNotFound
	}
	return challenge, nil
}

// ListChallenges returns challenges where the user plays the given role.
func (s *Service) ListChallenges(ctx context.Context, userID string, role Role, filter StatusFilter, limit int) ([]Challenge, error) {
	switch role {
	case RoleChallenged, RoleChallenger:
	default:
		return nil, ErrInvalidRole
	}
	switch filter {
	case FilterOpen, FilterClosed, FilterBoth:
	default:
		return nil, ErrInvalidStatusFilter
	}
	return s.challenges.ListByUser(ctx, userID, role, filter, limit)
}

// HasOpenChallenge reports whether the activity is currently disputed.
func (s *Service) HasOpenChallenge(ctx context.Context, activityID string) (bool, error) {
	return s.challenges.HasOpen(ctx, activityID)
}

// IsCertified reports whether the activity holds at least one certification.
func (s *Service) IsCertified(ctx context.Context, activityID string) (bool, error) {
	return s.certifications.Exists(ctx, activityID)
}
