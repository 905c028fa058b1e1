package storage

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/CCasusensa/ArtaleBroadcast/internal/profile"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// profileRecord is the on-disk shape shared by both drivers.
type profileRecord struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	ExpiresAt int64           `json:"expires_at"` // unix milli
}

func toRecord(e profile.Entry) (profileRecord, error) {
	data := e.Data.Raw
	if len(data) == 0 {
		b, err := json.Marshal(map[string]string{"profileImageUrl": e.Data.ImageURL})
		if err != nil {
			return profileRecord{}, err
		}
		data = b
	}
	return profileRecord{ID: e.ID, Data: data, ExpiresAt: e.ExpiresAt.UnixMilli()}, nil
}

func (r profileRecord) entry() (profile.Entry, error) {
	p, err := profile.ProfileFromRaw(r.Data)
	if err != nil {
		return profile.Entry{}, err
	}
	return profile.Entry{ID: r.ID, Data: p, ExpiresAt: time.UnixMilli(r.ExpiresAt)}, nil
}
