package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"FiveSBot/internal/busday"
	"FiveSBot/internal/domain"
	"FiveSBot/internal/fingerprint"
	"FiveSBot/internal/ledger"
	"FiveSBot/internal/session"
)

// EntityResolver answers whether an id is under tracking and what to call it.
type EntityResolver interface {
	Lookup(id string) (domain.Entity, bool)
}

// ErrUnknownEntity marks submissions for ids outside the roster.
var ErrUnknownEntity = fmt.Errorf("entity is not tracked")

// batches older than this are forgotten; Telegram delivers the photos of one
// album within seconds.
const batchRetention = 10 * time.Minute

// IntakeDeps wires all collaborators into the photo-intake workflow.
type IntakeDeps struct {
	Ledger   *ledger.Ledger
	Sessions *session.Manager
	Resolver EntityResolver
	Cutoff   busday.Cutoff
	Location *time.Location
	Logger   *slog.Logger
}

// Intake runs one photo submission through fingerprinting, duplicate
// detection and progress aggregation. Hashing happens before the ledger's
// serialized check, so concurrent callers only contend on the check itself.
type Intake struct {
	ledger   *ledger.Ledger
	sessions *session.Manager
	resolver EntityResolver
	cutoff   busday.Cutoff
	location *time.Location
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	batches map[string]*batchState
}

type batchState struct {
	hashes  map[string]bool
	touched time.Time
}

// NewIntake constructs the intake workflow.
func NewIntake(deps IntakeDeps) *Intake {
	return &Intake{
		ledger:   deps.Ledger,
		sessions: deps.Sessions,
		resolver: deps.Resolver,
		cutoff:   deps.Cutoff,
		location: deps.Location,
		logger:   deps.Logger,
		now:      time.Now,
		batches:  map[string]*batchState{},
	}
}

// HandlePhoto processes one submission and returns its business outcome.
// An error means the submission could not be decided at all (unreadable
// bytes, persistence failure) and should be retried or surfaced, never
// treated as accepted.
func (i *Intake) HandlePhoto(ctx context.Context, sub domain.Submission) (domain.Outcome, error) {
	entity, ok := i.resolver.Lookup(sub.EntityID)
	if !ok {
		return domain.Outcome{}, fmt.Errorf("%w: %s", ErrUnknownEntity, sub.EntityID)
	}

	exact, err := fingerprint.Exact(sub.Photo)
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("submission from %s: %w", sub.EntityID, err)
	}

	day := busday.Effective(sub.Timestamp, i.cutoff, i.location)

	// Within one album the same bytes are dropped before they ever reach
	// the ledger; the ledger itself has no notion of a batch.
	if sub.BatchID != "" && i.seenInBatch(sub.BatchID, exact) {
		return domain.Outcome{Kind: domain.OutcomeBatchDuplicate}, nil
	}

	var perceptual *fingerprint.PHash
	if hash, ok := fingerprint.Perceptual(sub.Photo); ok {
		perceptual = &hash
	} else if i.logger != nil {
		i.logger.Debug("photo does not decode, exact hash only",
			"entity", sub.EntityID, "bytes", len(sub.Photo))
	}

	outcome, err := i.ledger.CheckAndRecord(ctx, ledger.Candidate{
		Submission: sub,
		Day:        day,
		ExactHash:  exact,
		Perceptual: perceptual,
	})
	if err != nil {
		return domain.Outcome{}, err
	}

	if sub.BatchID != "" {
		i.rememberInBatch(sub.BatchID, exact)
	}

	if outcome.Accepted() {
		i.sessions.NoteAccepted(ctx, session.Key{
			ChannelID: sub.ChannelID,
			EntityID:  sub.EntityID,
			Day:       day,
		}, entity.DisplayName, outcome.NewCount)
	}

	if i.logger != nil {
		i.logger.Info("submission decided",
			"entity", sub.EntityID, "day", day.String(), "outcome", string(outcome.Kind))
	}
	return outcome, nil
}

func (i *Intake) seenInBatch(batchID, exact string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	batch := i.batches[batchID]
	return batch != nil && batch.hashes[exact]
}

func (i *Intake) rememberInBatch(batchID, exact string) {
	now := i.now()

	i.mu.Lock()
	defer i.mu.Unlock()

	batch := i.batches[batchID]
	if batch == nil {
		batch = &batchState{hashes: map[string]bool{}}
		i.batches[batchID] = batch
	}
	batch.hashes[exact] = true
	batch.touched = now

	for id, b := range i.batches {
		if now.Sub(b.touched) > batchRetention {
			delete(i.batches, id)
		}
	}
}
