// Package memory provides a mutex-guarded store for local development and
// deterministic tests. It implements every domain repository interface with
// the same conditional-transition semantics as the Postgres repositories.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"example.com/challenge/internal/domain"
)

// Store keeps activities, certifications, and challenges in process memory.
type Store struct {
	mu             sync.Mutex
	activities     map[string]domain.Activity
	certifications map[string]domain.Certification
	challenges     map[string]domain.Challenge
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		activities:     make(map[string]domain.Activity),
		certifications: make(map[string]domain.Certification),
		challenges:     make(map[string]domain.Challenge),
	}
}

// Create implements domain.ActivityRepository.
func (s *Store) Create(ctx context.Context, activity domain.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities[activity.ID] = activity
	return nil
}

// Get implements domain.ActivityRepository.
func (s *Store) Get(ctx context.Context, id string) (*domain.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	activity, ok := s.activities[id]
	if !ok {
		return nil, nil
	}
	return &activity, nil
}

// ListByUser implements domain.ActivityRepository: newest first, keyset paged.
func (s *Store) ListByUser(ctx context.Context, userID string, cursor *domain.Cursor, limit int) ([]domain.Activity, *domain.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]domain.Activity, 0)
	for _, activity := range s.activities {
		if activity.UserID != userID {
			continue
		}
		if cursor != nil && !before(activity.CreatedAt, activity.ID, cursor.CreatedAt, cursor.ID) {
			continue
		}
		results = append(results, activity)
	}
	sort.Slice(results, func(i, j int) bool {
		return before(results[j].CreatedAt, results[j].ID, results[i].CreatedAt, results[i].ID)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	var next *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, next, nil
}

// ListByUserSince implements domain.ActivityRepository: ascending, strictly
// after the cursor position.
func (s *Store) ListByUserSince(ctx context.Context, userID, kind string, after domain.Cursor, limit int) ([]domain.Activity, error) {
	return s.listSince(ctx, userID, kind, after, limit, false)
}

// ListCertifiedByUserSince implements domain.ActivityRepository.
func (s *Store) ListCertifiedByUserSince(ctx context.Context, userID, kind string, after domain.Cursor, limit int) ([]domain.Activity, error) {
	return s.listSince(ctx, userID, kind, after, limit, true)
}

func (s *Store) listSince(ctx context.Context, userID, kind string, after domain.Cursor, limit int, certifiedOnly bool) ([]domain.Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]domain.Activity, 0)
	for _, activity := range s.activities {
		if activity.UserID != userID || activity.Kind != kind {
			continue
		}
		if !before(after.CreatedAt, after.ID, activity.CreatedAt, activity.ID) {
			continue
		}
		if certifiedOnly && !s.certifiedLocked(activity.ID) {
			continue
		}
		results = append(results, activity)
	}
	sort.Slice(results, func(i, j int) bool {
		return before(results[i].CreatedAt, results[i].ID, results[j].CreatedAt, results[j].ID)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// CreateCertification implements domain.CertificationRepository.Create via the
// Certifications view. Insert and conditional challenge close happen under one
// lock acquisition, mirroring the Postgres transaction.
func (s *Store) createCertification(ctx context.Context, cert domain.Certification, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.certifications {
		if existing.ActivityID == cert.ActivityID && existing.CertifierID == cert.CertifierID {
			return domain.ErrDuplicateCertification
		}
	}
	s.certifications[cert.ID] = cert

	for id, challenge := range s.challenges {
		if challenge.ChallengedActivityID != cert.ActivityID || challenge.Status != domain.StatusOpen {
			continue
		}
		reason := domain.ReasonCertified
		ts := closedAt
		challenge.Status = domain.StatusClosed
		challenge.ResolutionReason = &reason
		challenge.ClosedAt = &ts
		s.challenges[id] = challenge
	}
	return nil
}

func (s *Store) certifiedLocked(activityID string) bool {
	for _, cert := range s.certifications {
		if cert.ActivityID == activityID {
			return true
		}
	}
	return false
}

// CreateChallenge implements domain.ChallengeRepository.Create via the
// Challenges view.
func (s *Store) createChallenge(ctx context.Context, challenge domain.Challenge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.challenges {
		if existing.ChallengedActivityID == challenge.ChallengedActivityID && existing.Status == domain.StatusOpen {
			return domain.ErrAlreadyChallenged
		}
	}
	s.challenges[challenge.ID] = challenge
	return nil
}

func (s *Store) getChallenge(ctx context.Context, id string) (*domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	challenge, ok := s.challenges[id]
	if !ok {
		return nil, nil
	}
	return &challenge, nil
}

func (s *Store) hasOpen(ctx context.Context, activityID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, challenge := range s.challenges {
		if challenge.ChallengedActivityID == activityID && challenge.Status == domain.StatusOpen {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) hasResolved(ctx context.Context, activityID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, challenge := range s.challenges {
		if challenge.ChallengedActivityID != activityID || challenge.Status != domain.StatusClosed {
			continue
		}
		if challenge.ResolutionReason == nil {
			continue
		}
		if *challenge.ResolutionReason == domain.ReasonCertified || *challenge.ResolutionReason == domain.ReasonSuperior {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) listByUser(ctx context.Context, userID string, role domain.Role, filter domain.StatusFilter, limit int) ([]domain.Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]domain.Challenge, 0)
	for _, challenge := range s.challenges {
		switch role {
		case domain.RoleChallenged:
			if challenge.ChallengedUserID != userID {
				continue
			}
		case domain.RoleChallenger:
			if challenge.ChallengerUserID != userID {
				continue
			}
		default:
			continue
		}
		if !filter.Matches(challenge.Status) {
			continue
		}
		results = append(results, challenge)
	}
	sort.Slice(results, func(i, j int) bool {
		return before(results[j].CreatedAt, results[j].ID, results[i].CreatedAt, results[i].ID)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (s *Store) listOpen(ctx context.Context, after *domain.Cursor, limit int) ([]domain.Challenge, *domain.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	results := make([]domain.Challenge, 0)
	for _, challenge := range s.challenges {
		if challenge.Status != domain.StatusOpen {
			continue
		}
		if after != nil && !before(after.CreatedAt, after.ID, challenge.CreatedAt, challenge.ID) {
			continue
		}
		results = append(results, challenge)
	}
	sort.Slice(results, func(i, j int) bool {
		return before(results[i].CreatedAt, results[i].ID, results[j].CreatedAt, results[j].ID)
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	var next *domain.Cursor
	if limit > 0 && len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, next, nil
}

func (s *Store) transitionIfOpen(ctx context.Context, id string, status domain.Status, reason domain.Reason, resolvingActivityID *string, closedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	challenge, ok := s.challenges[id]
	if !ok || challenge.Terminal() {
		return false, nil
	}
	ts := closedAt
	challenge.Status = status
	challenge.ResolutionReason = &reason
	challenge.ClosedAt = &ts
	challenge.ResolvingActivityID = resolvingActivityID
	s.challenges[id] = challenge
	return true, nil
}

// before orders (created_at, id) pairs.
func before(t1 time.Time, id1 string, t2 time.Time, id2 string) bool {
	if !t1.Equal(t2) {
		return t1.Before(t2)
	}
	return id1 < id2
}

// Activities returns the store as a domain.ActivityRepository.
func (s *Store) Activities() domain.ActivityRepository { return s }

// Certifications returns the store as a domain.CertificationRepository.
func (s *Store) Certifications() domain.CertificationRepository { return certView{s} }

// Challenges returns the store as a domain.ChallengeRepository.
func (s *Store) Challenges() domain.ChallengeRepository { return challengeView{s} }

type certView struct{ store *Store }

func (v certView) Create(ctx context.Context, cert domain.Certification, closedAt time.Time) error {
	return v.store.createCertification(ctx, cert, closedAt)
}

func (v certView) Exists(ctx context.Context, activityID string) (bool, error) {
	v.store.mu.Lock()
	defer v.store.mu.Unlock()
	return v.store.certifiedLocked(activityID), nil
}

type challengeView struct{ store *Store }

func (v challengeView) Create(ctx context.Context, challenge domain.Challenge) error {
	return v.store.createChallenge(ctx, challenge)
}

func (v challengeView) Get(ctx context.Context, id string) (*domain.Challenge, error) {
	return v.store.getChallenge(ctx, id)
}

func (v challengeView) HasOpen(ctx context.Context, activityID string) (bool, error) {
	return v.store.hasOpen(ctx, activityID)
}

func (v challengeView) HasResolved(ctx context.Context, activityID string) (bool, error) {
	return v.store.hasResolved(ctx, activityID)
}

func (v challengeView) ListByUser(ctx context.Context, userID string, role domain.Role, filter domain.StatusFilter, limit int) ([]domain.Challenge, error) {
	return v.store.listByUser(ctx, userID, role, filter, limit)
}

func (v challengeView) ListOpen(ctx context.Context, after *domain.Cursor, limit int) ([]domain.Challenge, *domain.Cursor, error) {
	return v.store.listOpen(ctx, after, limit)
}

func (v challengeView) TransitionIfOpen(ctx context.Context, id string, status domain.Status, reason domain.Reason, resolvingActivityID *string, closedAt time.Time) (bool, error) {
	return v.store.transitionIfOpen(ctx, id, status, reason, resolvingActivityID, closedAt)
}
