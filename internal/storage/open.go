package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/CCasusensa/ArtaleBroadcast/internal/profile"
	logx "github.com/CCasusensa/ArtaleBroadcast/pkg/logx"
)

// Store is the persistence API used by the app.
type Store interface {
	PutProfile(ctx context.Context, e profile.Entry) error
	// LoadProfiles returns entries still valid at now.
	LoadProfiles(ctx context.Context, now time.Time) ([]profile.Entry, error)
	// PruneProfiles deletes entries expired at now and returns how many went.
	PruneProfiles(ctx context.Context, now time.Time) (int, error)
	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
