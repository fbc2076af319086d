package domain

import "time"

// Certification is a third party's attestation that an activity's claim is
// accurate. Unique per (activity, certifier), immutable once created.
type Certification struct {
	ID          string
	ActivityID  string
	CertifierID string
	CertifiedAt time.Time
}
