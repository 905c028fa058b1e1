// Package profile resolves profile codes to display metadata (avatar URL)
// and caches the results for a fixed time-to-live.
//
// The cache never treats a failed lookup as fatal: callers get ok=false and
// continue without enrichment. Failed lookups are not cached, so the next
// message from the same profile retries upstream.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// DefaultTTL is how long a fetched profile stays valid.
const DefaultTTL = 10 * time.Minute

var (
	ErrMalformed = errors.New("profile: malformed lookup response")
	ErrNoLookup  = errors.New("profile: lookup not configured")
)

// StatusError is returned when the lookup endpoint answers with a non-2xx status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("profile: lookup status %d", e.Code)
}

// Profile is the opaque profile record returned by the lookup service.
// ImageURL is the only field the relay reads; Raw keeps the full "data"
// object so persisted entries round-trip unchanged.
type Profile struct {
	ImageURL string
	Raw      json.RawMessage
}

// Entry is a cached profile. Valid iff now < ExpiresAt.
type Entry struct {
	ID        string
	Data      Profile
	ExpiresAt time.Time
}

func (e Entry) Valid(now time.Time) bool { return now.Before(e.ExpiresAt) }

// Lookup fetches a profile from the upstream collaborator.
type Lookup interface {
	Fetch(ctx context.Context, id string) (Profile, error)
}

// Store persists fetched entries (optional, best-effort).
type Store interface {
	PutProfile(ctx context.Context, e Entry) error
}

// LookupEvent is published on the bus for every Get.
type LookupEvent struct {
	ID     string `json:"id"`
	Result string `json:"result"` // hit | miss | error | disabled
	Error  string `json:"error,omitempty"`
}

const (
	ResultHit      = "hit"
	ResultMiss     = "miss"
	ResultError    = "error"
	ResultDisabled = "disabled"
)

// DecodeProfile parses a lookup response body of the form
// {"data": {"profileImageUrl": "...", ...}}.
func DecodeProfile(body []byte) (Profile, error) {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return decodeData(env.Data)
}

func decodeData(data json.RawMessage) (Profile, error) {
	if len(data) == 0 || string(data) == "null" {
		return Profile{}, fmt.Errorf("%w: missing data object", ErrMalformed)
	}
	var d struct {
		ProfileImageURL *string `json:"profileImageUrl"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return Profile{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if d.ProfileImageURL == nil {
		return Profile{}, fmt.Errorf("%w: data.profileImageUrl missing", ErrMalformed)
	}
	raw := make(json.RawMessage, len(data))
	copy(raw, data)
	return Profile{ImageURL: *d.ProfileImageURL, Raw: raw}, nil
}

// ProfileFromRaw rebuilds a Profile from a persisted "data" object.
func ProfileFromRaw(raw json.RawMessage) (Profile, error) { return decodeData(raw) }
