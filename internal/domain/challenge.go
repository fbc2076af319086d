package domain

import "time"

// Status is the lifecycle state of a challenge. Open is the only initial
// state; closed and expired are terminal and never mutated again.
type Status string

const (
	StatusOpen    Status = "open"
	StatusClosed  Status = "closed"
	StatusExpired Status = "expired"
)

// Reason records why a challenge reached its terminal state.
type Reason string

const (
	ReasonExpired   Reason = "expired"
	ReasonCertified Reason = "certified"
	ReasonSuperior  Reason = "resolved_by_superior"
)

// DefaultChallengeTTL is how long a challenge stays open when the creator does
// not supply an explicit deadline.
const DefaultChallengeTTL = 14 * 24 * time.Hour

// Challenge is a formal dispute against an activity's claim.
type Challenge struct {
	ID                   string
	ChallengedUserID     string
	ChallengerUserID     string
	ChallengedActivityID string
	ResolvingActivityID  *string
	Status               Status
	ExpiresAt            time.Time
	ClosedAt             *time.Time
	ResolutionReason     *Reason
	CreatedAt            time.Time
}

// Terminal reports whether the challenge has reached a final state.
func (c *Challenge) Terminal() bool {
	return c.Status == StatusClosed || c.Status == StatusExpired
}

// Role selects which side of a challenge a listing is about.
type Role string

const (
	RoleChallenged Role = "challenged"
	RoleChallenger Role = "challenger"
)

// StatusFilter narrows challenge listings. FilterClosed matches both terminal
// states; FilterBoth matches everything.
type StatusFilter string

const (
	FilterOpen   StatusFilter = "open"
	FilterClosed StatusFilter = "closed"
	FilterBoth   StatusFilter = "both"
)

// Matches reports whether a challenge status passes the filter.
func (f StatusFilter) Matches(s Status) bool {
	switch f {
	case FilterOpen:
		return s == StatusOpen
	case FilterClosed:
		return s == StatusClosed || s == StatusExpired
	case FilterBoth:
		return true
	}
	return false
}
