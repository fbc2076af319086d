package domain

import "errors"

var (
	// ErrActivityNotFound is returned when an activity cannot be located.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrChallengeNotFound is returned when a challenge cannot be located.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrSelfChallenge rejects a user disputing their own performance.
	ErrSelfChallenge = errors.New("cannot challenge your own activity")
	// ErrSelfCertification rejects a performer vouching for themselves.
	ErrSelfCertification = errors.New("cannot certify your own activity")
	// ErrUnknownKind indicates no payload decoder is registered for the kind.
	ErrUnknownKind = errors.New("unsupported activity kind")
	// ErrInvalidRole indicates an unrecognised listing role.
	ErrInvalidRole = errors.New("invalid challenge role")
	// ErrInvalidStatusFilter indicates an unrecognised listing filter.
	ErrInvalidStatusFilter = errors.New("invalid status filter")

	// ErrDuplicateCertification indicates the (activity, certifier) pair exists.
	ErrDuplicateCertification = errors.New("activity already certified by this user")
	// ErrActivityCertified rejects a challenge against a certified activity.
	ErrActivityCertified = errors.New("activity already certified")
	// ErrAlreadyChallenged rejects a second open challenge on the same activity.
	ErrAlreadyChallenged = errors.New("activity already challenged")
	// ErrActivitySettled rejects a challenge against an activity whose earlier
	// challenge resolved in the performer's favour.
	ErrActivitySettled = errors.New("activity settled by a previous challenge")
)

var (
	validationErrs = []error{ErrSelfChallenge, ErrSelfCertification, ErrUnknownKind, ErrInvalidRole, ErrInvalidStatusFilter}
	conflictErrs   = []error{ErrDuplicateCertification, ErrActivityCertified, ErrAlreadyChallenged, ErrActivitySettled}
	notFoundErrs   = []error{ErrActivityNotFound, ErrChallengeNotFound}
)

func matchesAny(err error, targets []error) bool {
	for _, target := range targets {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsValidation reports whether err belongs to the validation class.
func IsValidation(err error) bool { return matchesAny(err, validationErrs) }

// IsConflict reports whether err belongs to the conflict class.
func IsConflict(err error) bool { return matchesAny(err, conflictErrs) }

// IsNotFound reports whether err belongs to the not-found class.
func IsNotFound(err error) bool { return matchesAny(err, notFoundErrs) }
