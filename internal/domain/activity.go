package domain

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// KindSet identifies a logged strength set (repetitions at a working weight).
const KindSet = "set"

// Payload carries the kind-specific fields of an activity.
type Payload interface {
	Kind() string
}

// Activity is an immutable performance record. It is appended once by its
// performer and never updated or deleted.
type Activity struct {
	ID        string
	UserID    string
	Kind      string
	Payload   Payload
	CreatedAt time.Time
}

// SetPayload describes a logged set. A missing weight is treated as zero
// (bodyweight work).
type SetPayload struct {
	Reps   int     `json:"reps"`
	Weight float64 `json:"weight,omitempty"`
}

// Kind implements Payload.
func (SetPayload) Kind() string { return KindSet }

// PayloadDecoder turns a stored payload document back into its typed form.
type PayloadDecoder func([]byte) (Payload, error)

var (
	payloadMu       sync.RWMutex
	payloadDecoders = map[string]PayloadDecoder{
		KindSet: func(raw []byte) (Payload, error) {
			var p SetPayload
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, err
			}
			return p, nil
		},
	}
)

// RegisterPayload installs a decoder for a new activity kind.
func RegisterPayload(kind string, decoder PayloadDecoder) {
	payloadMu.Lock()
	defer payloadMu.Unlock()
	payloadDecoders[kind] = decoder
}

// DecodePayload rebuilds the typed payload for the given kind.
func DecodePayload(kind string, raw []byte) (Payload, error) {
	payloadMu.RLock()
	decoder, ok := payloadDecoders[kind]
	payloadMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	return decoder(raw)
}

// EncodePayload serialises a payload for storage.
func EncodePayload(p Payload) ([]byte, error) {
	return json.Marshal(p)
}
