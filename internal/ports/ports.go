package ports

import (
	"context"
	"time"

	"FiveSBot/internal/busday"
	"FiveSBot/internal/domain"
)

// LedgerStore persists the durable ledger tables. Implementations must make
// each append atomic: either the new row is durable or an error is returned,
// never a partial write the in-memory ledger would then disagree with.
type LedgerStore interface {
	Load(ctx context.Context) (domain.LedgerState, error)
	AppendSubmission(ctx context.Context, rec domain.SubmissionRecord) error
	AppendStaleUse(ctx context.Context, day busday.Day, use domain.StaleUse) error
}

// RegistrySource loads the immutable entity registry at startup and on
// manual reload.
type RegistrySource interface {
	Load(ctx context.Context) ([]domain.Entity, error)
}

// ProgressRenderer delivers coalesced progress blocks to a chat. Send returns
// an opaque handle the session layer passes back to Edit to update the same
// rendered message in place.
type ProgressRenderer interface {
	Send(ctx context.Context, channelID, text string) (handle string, err error)
	Edit(ctx context.Context, channelID, handle, text string) error
}

// ReportSink receives the finished daily report for rendering and delivery.
type ReportSink interface {
	DeliverReport(ctx context.Context, report domain.Report) error
}

// Scheduler controls when the daily report job executes.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}
