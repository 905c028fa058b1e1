package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/CCasusensa/ArtaleBroadcast/internal/profile"
	logx "github.com/CCasusensa/ArtaleBroadcast/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) PutProfile(ctx context.Context, e profile.Entry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if strings.TrimSpace(e.ID) == "" {
		return nil
	}
	r, err := toRecord(e)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles(id, data, expires_at, updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET data=excluded.data, expires_at=excluded.expires_at, updated_at=excluded.updated_at`,
		r.ID, string(r.Data), r.ExpiresAt, time.Now().UnixMilli(),
	)
	return err
}

func (s *sqliteStore) LoadProfiles(ctx context.Context, now time.Time) ([]profile.Entry, error) {
	if s == nil || s.db == nil {
		return nil, ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data, expires_at FROM profiles WHERE expires_at > ? ORDER BY id`, now.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []profile.Entry
	for rows.Next() {
		var (
			r    profileRecord
			data string
		)
		if err := rows.Scan(&r.ID, &data, &r.ExpiresAt); err != nil {
			return nil, err
		}
		r.Data = []byte(data)
		e, err := r.entry()
		if err != nil {
			s.log.Debug("skipping unreadable profile row", logx.String("profile", r.ID), logx.Err(err))
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneProfiles(ctx context.Context, now time.Time) (int, error) {
	if s == nil || s.db == nil {
		return 0, ErrDisabled
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
