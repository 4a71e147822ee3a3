package usecase

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"FiveSBot/internal/busday"
	"FiveSBot/internal/domain"
	"FiveSBot/internal/ledger"
	"FiveSBot/internal/ports"
	"FiveSBot/internal/report"
	"FiveSBot/internal/session"
)

type memStore struct {
	submissions []domain.SubmissionRecord
	staleUses   map[busday.Day][]domain.StaleUse
}

func newMemStore() *memStore {
	return &memStore{staleUses: map[busday.Day][]domain.StaleUse{}}
}

func (s *memStore) Load(context.Context) (domain.LedgerState, error) {
	return domain.LedgerState{}, nil
}

func (s *memStore) AppendSubmission(_ context.Context, rec domain.SubmissionRecord) error {
	s.submissions = append(s.submissions, rec)
	return nil
}

func (s *memStore) AppendStaleUse(_ context.Context, day busday.Day, use domain.StaleUse) error {
	s.staleUses[day] = append(s.staleUses[day], use)
	return nil
}

type recordingRenderer struct {
	mu    sync.Mutex
	sends []string
	edits []string
}

var _ ports.ProgressRenderer = (*recordingRenderer)(nil)

func (r *recordingRenderer) Send(_ context.Context, _, text string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, text)
	return fmt.Sprintf("msg-%d", len(r.sends)), nil
}

func (r *recordingRenderer) Edit(_ context.Context, _, handle, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edits = append(r.edits, handle+"|"+text)
	return nil
}

type rosterMap map[string]domain.Entity

func (r rosterMap) Lookup(id string) (domain.Entity, bool) {
	e, ok := r[id]
	return e, ok
}

func (r rosterMap) Entities() []domain.Entity {
	out := make([]domain.Entity, 0, len(r))
	for _, e := range r {
		out = append(out, e)
	}
	return out
}

type fixture struct {
	intake   *Intake
	ledger   *ledger.Ledger
	renderer *recordingRenderer
	roster   rosterMap
	loc      *time.Location
	cutoff   busday.Cutoff
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	loc, err := time.LoadLocation("Asia/Ho_Chi_Minh")
	require.NoError(t, err)
	cutoff, err := busday.ParseCutoff("20:30")
	require.NoError(t, err)

	store := newMemStore()
	led, err := ledger.New(context.Background(), store, ledger.Config{
		RequiredCount:    4,
		NearDupThreshold: 0.90,
		LookbackDays:     90,
	}, nil)
	require.NoError(t, err)

	renderer := &recordingRenderer{}
	sessions := session.NewManager(session.Config{
		Policy:     session.PolicyEdit,
		EditWindow: 120 * time.Second,
		FlushDelay: 5 * time.Second,
		Required:   4,
	}, renderer, nil)

	roster := rosterMap{
		"DN01": {ID: "DN01", DisplayName: "Kho Đà Nẵng"},
		"HN02": {ID: "HN02", DisplayName: "Kho Hà Nội"},
	}

	return &fixture{
		intake: NewIntake(IntakeDeps{
			Ledger:   led,
			Sessions: sessions,
			Resolver: roster,
			Cutoff:   cutoff,
			Location: loc,
		}),
		ledger:   led,
		renderer: renderer,
		roster:   roster,
		loc:      loc,
		cutoff:   cutoff,
	}
}

func (f *fixture) submit(t *testing.T, entity string, at time.Time, photo []byte, batchID string) domain.Outcome {
	t.Helper()
	out, err := f.intake.HandlePhoto(context.Background(), domain.Submission{
		EntityID:  entity,
		ChannelID: "chat-1",
		UserID:    "user-1",
		BatchID:   batchID,
		Timestamp: at,
		Photo:     photo,
	})
	require.NoError(t, err)
	return out
}

// A warehouse sends its four photos within two minutes: every one is
// accepted, the chat sees a single evolving status block, and the evening
// report has nothing to say about it.
func TestQuotaRunEndToEnd(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	base := time.Date(2025, time.March, 10, 19, 0, 0, 0, f.loc)

	for n := 1; n <= 4; n++ {
		at := base.Add(time.Duration(n-1) * 30 * time.Second)
		out := f.submit(t, "DN01", at, []byte(fmt.Sprintf("photo-%d", n)), "")
		require.Equal(t, domain.OutcomeAccepted, out.Kind)
		require.Equal(t, n, out.NewCount)
	}

	require.Len(t, f.renderer.sends, 1)
	require.Len(t, f.renderer.edits, 3)

	final := f.renderer.edits[2]
	require.True(t, strings.HasPrefix(final, "msg-1|"), "all edits target the first message")
	require.Contains(t, final, "Kho Đà Nẵng")
	require.Contains(t, final, "✅ Ảnh 4/4")
	require.Contains(t, final, "🎉")

	gen := report.NewGenerator(report.Config{
		Cutoff:   f.cutoff,
		Location: f.loc,
		Required: 4,
	}, f.ledger, f.roster, nil)

	rep, err := gen.Generate(context.Background(), time.Date(2025, time.March, 10, 21, 0, 0, 0, f.loc))
	require.NoError(t, err)
	require.Equal(t, "2025-03-10", rep.Day.String())
	for _, line := range rep.NotSubmitted {
		require.NotEqual(t, "DN01", line.EntityID)
	}
	require.Empty(t, rep.StaleReuse)
	for _, line := range rep.UnderQuota {
		require.NotEqual(t, "DN01", line.EntityID)
	}
}

func TestUnderQuotaSurfacesInReport(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	base := time.Date(2025, time.March, 10, 18, 0, 0, 0, f.loc)

	f.submit(t, "HN02", base, []byte("hn-a"), "")
	f.submit(t, "HN02", base.Add(time.Minute), []byte("hn-b"), "")

	gen := report.NewGenerator(report.Config{
		Cutoff:   f.cutoff,
		Location: f.loc,
		Required: 4,
	}, f.ledger, f.roster, nil)

	rep, err := gen.Generate(context.Background(), time.Date(2025, time.March, 10, 21, 0, 0, 0, f.loc))
	require.NoError(t, err)

	var found bool
	for _, line := range rep.UnderQuota {
		if line.EntityID == "HN02" {
			found = true
			require.Equal(t, 2, line.Count)
			require.Equal(t, 4, line.Required)
		}
	}
	require.True(t, found, "HN02 with 2/4 photos belongs in the under-quota section")
}

func TestBatchDuplicateNeverReachesLedger(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	at := time.Date(2025, time.March, 10, 19, 0, 0, 0, f.loc)
	photo := []byte("album-photo")

	out := f.submit(t, "DN01", at, photo, "album-7")
	require.Equal(t, domain.OutcomeAccepted, out.Kind)

	out = f.submit(t, "DN01", at.Add(time.Second), photo, "album-7")
	require.Equal(t, domain.OutcomeBatchDuplicate, out.Kind)
	require.Equal(t, 1, f.ledger.Count(busday.DayOf(at), "DN01"))

	// Same bytes in a different album fall through to the ledger, which
	// flags them as a same-day duplicate instead.
	out = f.submit(t, "DN01", at.Add(2*time.Second), photo, "album-8")
	require.Equal(t, domain.OutcomeSameDayDuplicate, out.Kind)
}

func TestAfterCutoffCountsTowardNextDay(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	at := time.Date(2025, time.March, 10, 20, 45, 0, 0, f.loc)

	out := f.submit(t, "DN01", at, []byte("late-photo"), "")
	require.Equal(t, domain.OutcomeAccepted, out.Kind)

	d10, err := busday.ParseDay("2025-03-10")
	require.NoError(t, err)
	d11, err := busday.ParseDay("2025-03-11")
	require.NoError(t, err)
	require.Equal(t, 0, f.ledger.Count(d10, "DN01"))
	require.Equal(t, 1, f.ledger.Count(d11, "DN01"))
}

func TestUnknownEntityRejected(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.intake.HandlePhoto(context.Background(), domain.Submission{
		EntityID:  "XX99",
		ChannelID: "chat-1",
		Timestamp: time.Now(),
		Photo:     []byte("photo"),
	})
	require.ErrorIs(t, err, ErrUnknownEntity)
}

func TestEmptyPhotoIsAnError(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.intake.HandlePhoto(context.Background(), domain.Submission{
		EntityID:  "DN01",
		ChannelID: "chat-1",
		Timestamp: time.Now(),
		Photo:     nil,
	})
	require.Error(t, err)
}
