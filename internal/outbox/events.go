package outbox

import "time"

// Event types recorded by the repositories and delivered by the Dispatcher.
const (
	EventActivityRecorded  = "activity.recorded"
	EventActivityCertified = "activity.certified"
	EventChallengeOpened   = "challenge.opened"
	EventChallengeClosed   = "challenge.closed"
	EventChallengeExpired  = "challenge.expired"
)

// Kafka topics. Challenge lifecycle events are partitioned by the challenged
// user so a user's transitions arrive in order.
const (
	TopicActivityEvents  = "activity_events"
	TopicChallengeEvents = "challenge_events"
)

// TopicForEvent routes an event type to its topic.
func TopicForEvent(eventType string) string {
	switch eventType {
	case EventChallengeOpened, EventChallengeClosed, EventChallengeExpired:
		return TopicChallengeEvents
	default:
		return TopicActivityEvents
	}
}

// ActivityRecorded announces a new ledger entry.
type ActivityRecorded struct {
	ActivityID string    `json:"activity_id"`
	UserID     string    `json:"user_id"`
	Kind       string    `json:"kind"`
	RecordedAt time.Time `json:"recorded_at"`
}

// ActivityCertified announces a third-party attestation.
type ActivityCertified struct {
	CertificationID string    `json:"certification_id"`
	ActivityID      string    `json:"activity_id"`
	CertifierID     string    `json:"certifier_id"`
	CertifiedAt     time.Time `json:"certified_at"`
}

// ChallengeOpened announces a new dispute.
type ChallengeOpened struct {
	ChallengeID          string    `json:"challenge_id"`
	ChallengedUserID     string    `json:"challenged_user_id"`
	ChallengerUserID     string    `json:"challenger_user_id"`
	ChallengedActivityID string    `json:"challenged_activity_id"`
	ExpiresAt            time.Time `json:"expires_at"`
	OpenedAt             time.Time `json:"opened_at"`
}

// ChallengeSettled announces a terminal transition. Used for both the closed
// and expired event types.
type ChallengeSettled struct {
	ChallengeID          string    `json:"challenge_id"`
	ChallengedUserID     string    `json:"challenged_user_id"`
	ChallengedActivityID string    `json:"challenged_activity_id"`
	Status               string    `json:"status"`
	ResolutionReason     string    `json:"resolution_reason"`
	ResolvingActivityID  *string   `json:"resolving_activity_id,omitempty"`
	SettledAt            time.Time `json:"settled_at"`
}
