package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"FiveSBot/internal/busday"
)

type fakeClock struct {
	mu  sync.Mutex
	cur time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{cur: time.Date(2024, 3, 10, 19, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.cur.Add(d)
}

type fakeRenderer struct {
	mu     sync.Mutex
	sends  []string
	edits  []string
	lastID int
}

func (r *fakeRenderer) Send(_ context.Context, _ string, text string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sends = append(r.sends, text)
	r.lastID++
	return fmt.Sprintf("msg-%d", r.lastID), nil
}

func (r *fakeRenderer) Edit(_ context.Context, _ string, handle, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.edits = append(r.edits, handle+"|"+text)
	return nil
}

func (r *fakeRenderer) counts() (sends, edits int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sends), len(r.edits)
}

func testKey(t *testing.T) Key {
	t.Helper()
	day, err := busday.ParseDay("2024-03-10")
	require.NoError(t, err)
	return Key{ChannelID: "chat-1", EntityID: "DN01", Day: day}
}

func TestEditPolicyCoalescesBurst(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	renderer := &fakeRenderer{}
	m := NewManager(Config{
		Policy:     PolicyEdit,
		EditWindow: 120 * time.Second,
		Required:   4,
	}, renderer, nil)
	m.SetClock(clock.Now)

	key := testKey(t)
	ctx := context.Background()

	m.NoteAccepted(ctx, key, "GXT Đà Nẵng", 1)
	clock.Advance(time.Second)
	m.NoteAccepted(ctx, key, "GXT Đà Nẵng", 2)
	clock.Advance(time.Second)
	m.NoteAccepted(ctx, key, "GXT Đà Nẵng", 3)

	sends, edits := renderer.counts()
	require.Equal(t, 1, sends)
	require.Equal(t, 2, edits)
	require.Equal(t, "msg-1", m.Handle(key))

	// The last edit carries the full accumulated block.
	last := renderer.edits[len(renderer.edits)-1]
	require.True(t, strings.HasPrefix(last, "msg-1|"))
	require.Contains(t, last, "Ảnh 1/4")
	require.Contains(t, last, "Ảnh 2/4")
	require.Contains(t, last, "Ảnh 3/4")
}

func TestEditPolicyStartsFreshAfterWindow(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	renderer := &fakeRenderer{}
	m := NewManager(Config{
		Policy:     PolicyEdit,
		EditWindow: 120 * time.Second,
		Required:   4,
	}, renderer, nil)
	m.SetClock(clock.Now)

	key := testKey(t)
	ctx := context.Background()

	m.NoteAccepted(ctx, key, "GXT Đà Nẵng", 1)
	clock.Advance(121 * time.Second)
	m.NoteAccepted(ctx, key, "GXT Đà Nẵng", 2)

	sends, edits := renderer.counts()
	require.Equal(t, 2, sends)
	require.Zero(t, edits)
	require.Equal(t, "msg-2", m.Handle(key))

	// The fresh session starts a new block, not a continuation.
	require.NotContains(t, renderer.sends[1], "Ảnh 1/4")
	require.Contains(t, renderer.sends[1], "Ảnh 2/4")
}

func TestEditPolicyCompletionClosesSession(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	renderer := &fakeRenderer{}
	m := NewManager(Config{
		Policy:     PolicyEdit,
		EditWindow: 120 * time.Second,
		Required:   2,
	}, renderer, nil)
	m.SetClock(clock.Now)

	key := testKey(t)
	ctx := context.Background()

	m.NoteAccepted(ctx, key, "GXT Đà Nẵng", 1)
	m.NoteAccepted(ctx, key, "GXT Đà Nẵng", 2)

	require.False(t, m.Open(key))
	require.Contains(t, renderer.edits[0], "đã đủ 2 ảnh")

	// The next accepted photo opens a brand-new session.
	m.NoteAccepted(ctx, key, "GXT Đà Nẵng", 3)
	sends, _ := renderer.counts()
	require.Equal(t, 2, sends)
}

func TestAggregatePolicyFlushesOnQuota(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{}
	m := NewManager(Config{
		Policy:     PolicyAggregate,
		FlushDelay: time.Hour, // must not be what triggers the flush
		Required:   2,
	}, renderer, nil)

	key := testKey(t)
	ctx := context.Background()

	m.NoteAccepted(ctx, key, "GXT Đà Nẵng", 1)
	sends, _ := renderer.counts()
	require.Zero(t, sends, "aggregate policy must stay silent before the quota")

	m.NoteAccepted(ctx, key, "GXT Đà Nẵng", 2)
	sends, _ = renderer.counts()
	require.Equal(t, 1, sends)
	require.Contains(t, renderer.sends[0], "Ảnh 1/2")
	require.Contains(t, renderer.sends[0], "Ảnh 2/2")
	require.Contains(t, renderer.sends[0], "đã đủ 2 ảnh")
	require.False(t, m.Open(key))
}

func TestAggregatePolicyFlushesAfterDelay(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{}
	m := NewManager(Config{
		Policy:     PolicyAggregate,
		FlushDelay: 30 * time.Millisecond,
		Required:   4,
	}, renderer, nil)

	key := testKey(t)
	m.NoteAccepted(context.Background(), key, "GXT Đà Nẵng", 1)

	require.Eventually(t, func() bool {
		sends, _ := renderer.counts()
		return sends == 1
	}, time.Second, 5*time.Millisecond)
	require.False(t, m.Open(key))
}

func TestAggregatePolicySupersedesTimer(t *testing.T) {
	t.Parallel()

	renderer := &fakeRenderer{}
	m := NewManager(Config{
		Policy:     PolicyAggregate,
		FlushDelay: 80 * time.Millisecond,
		Required:   4,
	}, renderer, nil)

	key := testKey(t)
	ctx := context.Background()

	m.NoteAccepted(ctx, key, "GXT Đà Nẵng", 1)
	time.Sleep(40 * time.Millisecond)
	m.NoteAccepted(ctx, key, "GXT Đà Nẵng", 2)

	// The first timer was superseded; exactly one summary with both lines.
	require.Eventually(t, func() bool {
		sends, _ := renderer.counts()
		return sends == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(120 * time.Millisecond)
	sends, _ := renderer.counts()
	require.Equal(t, 1, sends)
	require.Contains(t, renderer.sends[0], "Ảnh 1/4")
	require.Contains(t, renderer.sends[0], "Ảnh 2/4")
}

func TestSessionsAreIndependentPerKey(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	renderer := &fakeRenderer{}
	m := NewManager(Config{
		Policy:     PolicyEdit,
		EditWindow: 120 * time.Second,
		Required:   4,
	}, renderer, nil)
	m.SetClock(clock.Now)

	ctx := context.Background()
	keyA := testKey(t)
	keyB := keyA
	keyB.EntityID = "HN02"

	m.NoteAccepted(ctx, keyA, "GXT Đà Nẵng", 1)
	m.NoteAccepted(ctx, keyB, "GXT Hà Nội", 1)

	sends, edits := renderer.counts()
	require.Equal(t, 2, sends)
	require.Zero(t, edits)
	require.NotEqual(t, m.Handle(keyA), m.Handle(keyB))
}
