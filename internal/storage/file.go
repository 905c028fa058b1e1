package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/CCasusensa/ArtaleBroadcast/internal/profile"
	logx "github.com/CCasusensa/ArtaleBroadcast/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.profiles.snapshot.json (periodic snapshot)
//   - <prefix>.profiles.journal.jsonl (append-only journal)
//
// The journal is compacted into the snapshot every compactEvery writes and
// on every prune.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	snapshotPath string
	journal      *os.File
	records      map[string]profileRecord

	writes int
}

const compactEvery = 500

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	snapPath := prefix + ".profiles.snapshot.json"
	journalPath := prefix + ".profiles.journal.jsonl"

	records := map[string]profileRecord{}
	if err := loadSnapshot(snapPath, records); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("profile snapshot unreadable; starting empty", logx.String("path", snapPath), logx.Err(err))
	}
	if err := replayJournal(journalPath, records); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("profile journal replay failed", logx.String("path", journalPath), logx.Err(err))
	}
	pruneRecords(records, time.Now())

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	return &fileStore{
		log:          log,
		snapshotPath: snapPath,
		journal:      jf,
		records:      records,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return nil
	}
	err := s.compactLocked(time.Now())
	if cerr := s.journal.Close(); err == nil {
		err = cerr
	}
	s.journal = nil
	return err
}

func (s *fileStore) PutProfile(ctx context.Context, e profile.Entry) error {
	_ = ctx
	if strings.TrimSpace(e.ID) == "" {
		return nil
	}
	r, err := toRecord(e)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return errors.New("profile journal closed")
	}
	s.records[r.ID] = r

	if err := json.NewEncoder(s.journal).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(time.Now()); err != nil {
			s.log.Debug("profile compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) LoadProfiles(ctx context.Context, now time.Time) ([]profile.Entry, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	nowMS := now.UnixMilli()
	out := make([]profile.Entry, 0, len(s.records))
	for _, r := range s.records {
		if r.ExpiresAt <= nowMS {
			continue
		}
		e, err := r.entry()
		if err != nil {
			s.log.Debug("skipping unreadable profile record", logx.String("profile", r.ID), logx.Err(err))
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fileStore) PruneProfiles(ctx context.Context, now time.Time) (int, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal == nil {
		return 0, errors.New("profile journal closed")
	}
	before := len(s.records)
	pruneRecords(s.records, now)
	n := before - len(s.records)
	if n == 0 {
		return 0, nil
	}
	return n, s.compactLocked(now)
}

func (s *fileStore) compactLocked(now time.Time) error {
	pruneRecords(s.records, now)

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	list := make([]profileRecord, 0, len(s.records))
	for _, r := range s.records {
		list = append(list, r)
	}
	if err := json.NewEncoder(f).Encode(list); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journal.Truncate(0); err != nil {
		return err
	}
	_, err = s.journal.Seek(0, 2)
	return err
}

func loadSnapshot(path string, out map[string]profileRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var list []profileRecord
	if err := json.NewDecoder(f).Decode(&list); err != nil {
		return err
	}
	for _, r := range list {
		if r.ID != "" {
			out[r.ID] = r
		}
	}
	return nil
}

func replayJournal(path string, out map[string]profileRecord) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64<<10), 1<<20)
	for sc.Scan() {
		var r profileRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.ID == "" {
			continue
		}
		out[r.ID] = r
	}
	return sc.Err()
}

func pruneRecords(m map[string]profileRecord, now time.Time) {
	nowMS := now.UnixMilli()
	for k, r := range m {
		if r.ExpiresAt <= nowMS {
			delete(m, k)
		}
	}
}
