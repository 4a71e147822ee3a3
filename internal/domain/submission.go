package domain

import (
	"time"

	"FiveSBot/internal/busday"
	"FiveSBot/internal/fingerprint"
)

// Entity is a tracked warehouse required to submit daily compliance photos.
// Display names are owned by the external registry and never mutated here.
type Entity struct {
	ID          string
	DisplayName string
}

// Submission carries one photo event after the transport has resolved which
// entity and chat it belongs to. Raw caption parsing stays in the transport.
type Submission struct {
	EntityID  string
	ChannelID string
	UserID    string
	BatchID   string
	Timestamp time.Time
	Photo     []byte
}

// SubmissionRecord is the immutable ledger entry created once per accepted
// photo.
type SubmissionRecord struct {
	ID         string             `json:"id"`
	EntityID   string             `json:"entity_id"`
	Day        busday.Day         `json:"business_day"`
	ExactHash  string             `json:"exact_hash"`
	Perceptual *fingerprint.PHash `json:"perceptual_hash,omitempty"`
	ChannelID  string             `json:"channel_id"`
	UserID     string             `json:"user_id"`
	Timestamp  time.Time          `json:"timestamp"`
}

// StaleUse records one attempt to reuse a photo first recorded on an earlier
// business day. Appended per day, never rewritten.
type StaleUse struct {
	EntityID    string     `json:"entity_id"`
	OriginalDay busday.Day `json:"original_day"`
	ExactHash   string     `json:"exact_hash"`
}

// FingerprintRecord is the per-entity fingerprint history the near-duplicate
// rule searches. Perceptual is nil for photos that did not decode.
type FingerprintRecord struct {
	EntityID   string             `json:"entity_id"`
	Day        busday.Day         `json:"business_day"`
	ExactHash  string             `json:"exact_hash"`
	Perceptual *fingerprint.PHash `json:"perceptual_hash,omitempty"`
}

// LedgerState is the durable state a store hands back at startup. Daily
// counts, submitted-sets and the fingerprint index are all derivable from the
// record list and are rebuilt in memory on load.
type LedgerState struct {
	Records   []SubmissionRecord
	StaleUses map[busday.Day][]StaleUse
}

// OutcomeKind enumerates the deterministic results of a duplicate check.
type OutcomeKind string

const (
	OutcomeAccepted         OutcomeKind = "accepted"
	OutcomeBatchDuplicate   OutcomeKind = "batch_duplicate"
	OutcomeSameDayDuplicate OutcomeKind = "same_day_duplicate"
	OutcomeStaleDuplicate   OutcomeKind = "stale_duplicate"
	OutcomeNearDuplicate    OutcomeKind = "near_duplicate"
)

// Outcome is the business result of one submission. Rejections are expected
// outcomes, not errors; each variant carries the context the transport needs
// to explain the decision to the submitter.
type Outcome struct {
	Kind OutcomeKind

	// Accepted
	NewCount int
	Required int

	// SameDayDuplicate
	OriginalTimestamp time.Time

	// StaleDuplicate
	OriginalDay busday.Day

	// NearDuplicate
	Similarity float64
	MatchedDay busday.Day
}

// Accepted reports whether the submission produced a new ledger record.
func (o Outcome) Accepted() bool {
	return o.Kind == OutcomeAccepted
}

// ReportLine is one entity row inside a report section.
type ReportLine struct {
	EntityID    string
	DisplayName string

	// OriginalDay is set in the stale-reuse section: the earliest day the
	// reused photo was first recorded.
	OriginalDay busday.Day

	// Count and Required are set in the under-quota section.
	Count    int
	Required int
}

// Report is the end-of-day compliance summary. Sections are always present;
// an empty slice means "none", which the transport renders explicitly so a
// missing section is never confused with a generation failure.
type Report struct {
	Day          busday.Day
	NotSubmitted []ReportLine
	StaleReuse   []ReportLine
	UnderQuota   []ReportLine
}
