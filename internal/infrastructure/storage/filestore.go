package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"FiveSBot/internal/busday"
	"FiveSBot/internal/domain"
	"FiveSBot/internal/ports"
)

// Table file names inside the data directory. Counts and fingerprints are
// derived caches of the submission table, rewritten alongside it so external
// consumers can read them without replaying records.
const (
	submissionsFile  = "submissions.json"
	staleUsesFile    = "stale_uses.json"
	dailyCountsFile  = "daily_counts.json"
	fingerprintsFile = "fingerprints.json"
)

// FileStore persists the ledger tables as JSON files with
// write-temp-then-rename replace semantics, so every append either lands
// completely or not at all.
type FileStore struct {
	mu  sync.Mutex
	dir string

	records   []domain.SubmissionRecord
	staleUses map[busday.Day][]domain.StaleUse
}

var _ ports.LedgerStore = (*FileStore)(nil)

// NewFileStore opens (and creates if needed) the data directory.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return &FileStore{
		dir:       dir,
		staleUses: map[busday.Day][]domain.StaleUse{},
	}, nil
}

// Load reads the persisted tables. Missing files mean a fresh installation.
func (s *FileStore) Load(context.Context) (domain.LedgerState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var records []domain.SubmissionRecord
	if err := s.readTable(submissionsFile, &records); err != nil {
		return domain.LedgerState{}, err
	}

	staleUses := map[busday.Day][]domain.StaleUse{}
	if err := s.readTable(staleUsesFile, &staleUses); err != nil {
		return domain.LedgerState{}, err
	}

	s.records = records
	s.staleUses = staleUses

	return domain.LedgerState{
		Records:   append([]domain.SubmissionRecord(nil), records...),
		StaleUses: copyStaleUses(staleUses),
	}, nil
}

// AppendSubmission adds one record and rewrites the submission table plus its
// derived caches. On write failure the in-memory mirror is rolled back.
func (s *FileStore) AppendSubmission(_ context.Context, rec domain.SubmissionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = append(s.records, rec)
	if err := s.writeSubmissionTables(); err != nil {
		s.records = s.records[:len(s.records)-1]
		return err
	}
	return nil
}

// AppendStaleUse adds one stale-use row and rewrites the stale-use table.
func (s *FileStore) AppendStaleUse(_ context.Context, day busday.Day, use domain.StaleUse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.staleUses[day] = append(s.staleUses[day], use)
	if err := s.writeTable(staleUsesFile, s.staleUses); err != nil {
		uses := s.staleUses[day]
		s.staleUses[day] = uses[:len(uses)-1]
		if len(s.staleUses[day]) == 0 {
			delete(s.staleUses, day)
		}
		return err
	}
	return nil
}

func (s *FileStore) writeSubmissionTables() error {
	if err := s.writeTable(submissionsFile, s.records); err != nil {
		return err
	}

	counts := map[busday.Day]map[string]int{}
	fingerprints := map[string][]domain.FingerprintRecord{}
	for _, rec := range s.records {
		if counts[rec.Day] == nil {
			counts[rec.Day] = map[string]int{}
		}
		counts[rec.Day][rec.EntityID]++
		fingerprints[rec.EntityID] = append(fingerprints[rec.EntityID], domain.FingerprintRecord{
			EntityID:   rec.EntityID,
			Day:        rec.Day,
			ExactHash:  rec.ExactHash,
			Perceptual: rec.Perceptual,
		})
	}

	// Derived caches; a failure here does not undo the submission, which is
	// already durable in its own table, and both are rebuilt on next append.
	_ = s.writeTable(dailyCountsFile, counts)
	_ = s.writeTable(fingerprintsFile, fingerprints)
	return nil
}

func (s *FileStore) readTable(name string, out interface{}) error {
	raw, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

func (s *FileStore) writeTable(name string, table interface{}) error {
	raw, err := json.MarshalIndent(table, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	target := filepath.Join(s.dir, name)
	tmp := target + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace %s: %w", name, err)
	}
	return nil
}

func copyStaleUses(in map[busday.Day][]domain.StaleUse) map[busday.Day][]domain.StaleUse {
	out := make(map[busday.Day][]domain.StaleUse, len(in))
	for day, uses := range in {
		out[day] = append([]domain.StaleUse(nil), uses...)
	}
	return out
}
