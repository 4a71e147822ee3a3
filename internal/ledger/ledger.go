// Package ledger owns the durable submission state and the duplicate
// detector. All mutations go through one mutex so two photos racing on the
// same entity and day can never both be accepted.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"FiveSBot/internal/busday"
	"FiveSBot/internal/domain"
	"FiveSBot/internal/fingerprint"
	"FiveSBot/internal/ports"
)

// Config carries the duplicate-detection thresholds.
type Config struct {
	RequiredCount    int
	NearDupThreshold float64
	LookbackDays     int
}

// Candidate is a submission whose fingerprints were already computed; hashing
// happens ahead of the serialized check so workers can run in parallel.
type Candidate struct {
	Submission domain.Submission
	Day        busday.Day
	ExactHash  string
	Perceptual *fingerprint.PHash
}

type occurrence struct {
	day       busday.Day
	timestamp time.Time
}

// Ledger keeps the authoritative in-memory state, backed by a LedgerStore.
// Appends hit the store first; memory is only updated after the store
// confirms, so a write failure never leaves the two diverged.
type Ledger struct {
	mu     sync.Mutex
	store  ports.LedgerStore
	cfg    Config
	logger *slog.Logger

	counts       map[busday.Day]map[string]int
	exactIndex   map[string]map[string][]occurrence // entity -> exact hash -> uses
	fingerprints map[string][]domain.FingerprintRecord
	staleUses    map[busday.Day][]domain.StaleUse
}

// New loads persisted state from the store and rebuilds the in-memory
// indices.
func New(ctx context.Context, store ports.LedgerStore, cfg Config, logger *slog.Logger) (*Ledger, error) {
	state, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger state: %w", err)
	}

	l := &Ledger{
		store:        store,
		cfg:          cfg,
		logger:       logger,
		counts:       map[busday.Day]map[string]int{},
		exactIndex:   map[string]map[string][]occurrence{},
		fingerprints: map[string][]domain.FingerprintRecord{},
		staleUses:    map[busday.Day][]domain.StaleUse{},
	}

	records := append([]domain.SubmissionRecord(nil), state.Records...)
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})
	for _, rec := range records {
		l.commitRecord(rec)
	}
	for day, uses := range state.StaleUses {
		l.staleUses[day] = append([]domain.StaleUse(nil), uses...)
	}

	if logger != nil {
		logger.Info("ledger loaded", "records", len(records), "stale_days", len(state.StaleUses))
	}
	return l, nil
}

// CheckAndRecord runs the duplicate rules in their fixed order and, when no
// rule matches, persists a new SubmissionRecord and increments the daily
// count. The first matching rule wins; later rules are not evaluated.
func (l *Ledger) CheckAndRecord(ctx context.Context, cand Candidate) (domain.Outcome, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entity := cand.Submission.EntityID

	// Rule 1: identical bytes already accepted today.
	if ts, ok := l.sameDayUse(entity, cand.ExactHash, cand.Day); ok {
		return domain.Outcome{
			Kind:              domain.OutcomeSameDayDuplicate,
			OriginalTimestamp: ts,
		}, nil
	}

	// Rule 2: identical bytes first accepted on an earlier or later day.
	if original, ok := l.staleUse(entity, cand.ExactHash, cand.Day); ok {
		use := domain.StaleUse{
			EntityID:    entity,
			OriginalDay: original,
			ExactHash:   cand.ExactHash,
		}
		if err := l.store.AppendStaleUse(ctx, cand.Day, use); err != nil {
			return domain.Outcome{}, fmt.Errorf("append stale use: %w", err)
		}
		l.staleUses[cand.Day] = append(l.staleUses[cand.Day], use)
		return domain.Outcome{
			Kind:        domain.OutcomeStaleDuplicate,
			OriginalDay: original,
		}, nil
	}

	// Rule 3: perceptually close to a photo from the lookback window.
	if cand.Perceptual != nil {
		if sim, day, ok := l.nearMatch(entity, *cand.Perceptual, cand.Day); ok {
			return domain.Outcome{
				Kind:       domain.OutcomeNearDuplicate,
				Similarity: sim,
				MatchedDay: day,
			}, nil
		}
	}

	rec := domain.SubmissionRecord{
		ID:         uuid.NewString(),
		EntityID:   entity,
		Day:        cand.Day,
		ExactHash:  cand.ExactHash,
		Perceptual: cand.Perceptual,
		ChannelID:  cand.Submission.ChannelID,
		UserID:     cand.Submission.UserID,
		Timestamp:  cand.Submission.Timestamp,
	}
	if err := l.store.AppendSubmission(ctx, rec); err != nil {
		return domain.Outcome{}, fmt.Errorf("append submission: %w", err)
	}
	l.commitRecord(rec)

	return domain.Outcome{
		Kind:     domain.OutcomeAccepted,
		NewCount: l.counts[cand.Day][entity],
		Required: l.cfg.RequiredCount,
	}, nil
}

// DayView is a consistent copy of one business day's state for reporting.
type DayView struct {
	Counts    map[string]int
	StaleUses []domain.StaleUse
}

// View copies the given day's counts and stale-use log under the lock.
func (l *Ledger) View(day busday.Day) DayView {
	l.mu.Lock()
	defer l.mu.Unlock()

	view := DayView{Counts: map[string]int{}}
	for entity, count := range l.counts[day] {
		view.Counts[entity] = count
	}
	view.StaleUses = append(view.StaleUses, l.staleUses[day]...)
	return view
}

// Count returns the accepted-photo count for one entity and day.
func (l *Ledger) Count(day busday.Day, entityID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[day][entityID]
}

func (l *Ledger) sameDayUse(entity, exactHash string, day busday.Day) (time.Time, bool) {
	for _, occ := range l.exactIndex[entity][exactHash] {
		if occ.day == day {
			return occ.timestamp, true
		}
	}
	return time.Time{}, false
}

func (l *Ledger) staleUse(entity, exactHash string, day busday.Day) (busday.Day, bool) {
	var earliest busday.Day
	found := false
	for _, occ := range l.exactIndex[entity][exactHash] {
		if occ.day == day {
			continue
		}
		if !found || occ.day.Before(earliest) {
			earliest = occ.day
			found = true
		}
	}
	return earliest, found
}

func (l *Ledger) nearMatch(entity string, hash fingerprint.PHash, day busday.Day) (float64, busday.Day, bool) {
	oldest := day.AddDays(-l.cfg.LookbackDays)

	var (
		bestSim float64
		bestDay busday.Day
		found   bool
	)
	for _, fr := range l.fingerprints[entity] {
		if fr.Perceptual == nil || fr.Day.Before(oldest) {
			continue
		}
		sim := fingerprint.Similarity(hash, *fr.Perceptual)
		if sim < l.cfg.NearDupThreshold {
			continue
		}
		if !found || sim > bestSim || (sim == bestSim && fr.Day.After(bestDay)) {
			bestSim = sim
			bestDay = fr.Day
			found = true
		}
	}
	return bestSim, bestDay, found
}

// commitRecord applies an already-persisted record to the in-memory indices.
// Caller holds the mutex (or is still single-threaded during load).
func (l *Ledger) commitRecord(rec domain.SubmissionRecord) {
	if l.counts[rec.Day] == nil {
		l.counts[rec.Day] = map[string]int{}
	}
	l.counts[rec.Day][rec.EntityID]++

	if l.exactIndex[rec.EntityID] == nil {
		l.exactIndex[rec.EntityID] = map[string][]occurrence{}
	}
	l.exactIndex[rec.EntityID][rec.ExactHash] = append(
		l.exactIndex[rec.EntityID][rec.ExactHash],
		occurrence{day: rec.Day, timestamp: rec.Timestamp},
	)

	l.fingerprints[rec.EntityID] = append(l.fingerprints[rec.EntityID], domain.FingerprintRecord{
		EntityID:   rec.EntityID,
		Day:        rec.Day,
		ExactHash:  rec.ExactHash,
		Perceptual: rec.Perceptual,
	})
}
