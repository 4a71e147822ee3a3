// Package session coalesces bursts of accepted submissions into one evolving
// status block per chat, entity and business day, instead of one reply per
// photo.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"FiveSBot/internal/busday"
	"FiveSBot/internal/ports"
)

// Policy selects how bursts are folded into messages.
type Policy string

const (
	// PolicyEdit renders a message on the first accepted photo and edits it
	// in place for every later photo inside the window.
	PolicyEdit Policy = "edit"
	// PolicyAggregate stays silent and emits one summary once the quota is
	// reached or the burst goes quiet.
	PolicyAggregate Policy = "aggregate"
)

// Key identifies one progress session.
type Key struct {
	ChannelID string
	EntityID  string
	Day       busday.Day
}

// Config tunes the coalescing behaviour.
type Config struct {
	Policy     Policy
	EditWindow time.Duration
	FlushDelay time.Duration
	Required   int
}

// A session walks Idle -> Open -> Closed -> Idle; a closed session is simply
// removed from the map and the next submission starts a fresh one.
type session struct {
	open         bool
	lines        []string
	count        int
	displayName  string
	lastActivity time.Time
	handle       string
	timer        *time.Timer
}

// Manager owns all live sessions. One mutex guards the session map and all
// session state; renderer I/O always happens outside it, so a slow delivery
// for one key never blocks timers or submissions for another. Submissions for
// a single key arrive pre-serialized from the intake loop.
type Manager struct {
	mu       sync.Mutex
	cfg      Config
	renderer ports.ProgressRenderer
	logger   *slog.Logger
	now      func() time.Time

	sessions map[Key]*session
}

// NewManager builds a session manager around the given renderer.
func NewManager(cfg Config, renderer ports.ProgressRenderer, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:      cfg,
		renderer: renderer,
		logger:   logger,
		now:      time.Now,
		sessions: map[Key]*session{},
	}
}

// SetClock replaces the wall clock, for tests.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// NoteAccepted records one accepted photo for the key and advances its
// session according to the configured policy. count is the authoritative
// ledger count after acceptance.
func (m *Manager) NoteAccepted(ctx context.Context, key Key, displayName string, count int) {
	now := m.now()

	m.mu.Lock()
	sess := m.sessions[key]

	// An edit session whose window elapsed is closed and replaced rather
	// than extended.
	if sess != nil && m.cfg.Policy == PolicyEdit && now.Sub(sess.lastActivity) > m.cfg.EditWindow {
		m.closeLocked(key, sess)
		sess = nil
	}
	if sess == nil {
		sess = &session{open: true, lastActivity: now}
		m.sessions[key] = sess
	}

	sess.displayName = displayName
	sess.count = count
	sess.lastActivity = now
	sess.lines = append(sess.lines, fmt.Sprintf("✅ Ảnh %d/%d", count, m.cfg.Required))
	done := count >= m.cfg.Required
	if done {
		sess.lines = append(sess.lines, fmt.Sprintf("🎉 %s đã đủ %d ảnh 5S hôm nay!", displayName, m.cfg.Required))
	}

	if m.cfg.Policy == PolicyAggregate {
		if done {
			text := m.blockTextLocked(key, sess)
			m.closeLocked(key, sess)
			m.mu.Unlock()
			m.deliver(ctx, key, text)
			return
		}
		m.armTimerLocked(key, sess, m.cfg.FlushDelay)
		m.mu.Unlock()
		return
	}

	// Edit policy: render now, keep the session open until the window
	// expires or the quota is reached.
	text := m.blockTextLocked(key, sess)
	handle := sess.handle
	if done {
		m.closeLocked(key, sess)
	} else {
		m.armTimerLocked(key, sess, m.cfg.EditWindow)
	}
	m.mu.Unlock()

	if handle == "" {
		newHandle, err := m.renderer.Send(ctx, key.ChannelID, text)
		if err != nil {
			m.warn("send progress", key, err)
			return
		}
		m.mu.Lock()
		if cur := m.sessions[key]; cur == sess {
			sess.handle = newHandle
		}
		m.mu.Unlock()
		return
	}
	if err := m.renderer.Edit(ctx, key.ChannelID, handle, text); err != nil {
		m.warn("edit progress", key, err)
	}
}

// Handle returns the rendered message handle of the key's open session,
// empty when none exists.
func (m *Manager) Handle(key Key) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess := m.sessions[key]; sess != nil {
		return sess.handle
	}
	return ""
}

// Open reports whether the key currently has a live session.
func (m *Manager) Open(key Key) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[key] != nil
}

// armTimerLocked schedules the key's single pending timer; a previously
// armed timer for the same key is superseded. Caller holds m.mu.
func (m *Manager) armTimerLocked(key Key, sess *session, d time.Duration) {
	if sess.timer != nil {
		sess.timer.Stop()
	}
	sess.timer = time.AfterFunc(d, func() {
		m.expire(key, sess)
	})
}

// expire fires when a session went quiet past its window.
func (m *Manager) expire(key Key, sess *session) {
	m.mu.Lock()
	if m.sessions[key] != sess || !sess.open {
		m.mu.Unlock()
		return // superseded by a close or a fresh session
	}

	switch m.cfg.Policy {
	case PolicyAggregate:
		text := m.blockTextLocked(key, sess)
		m.closeLocked(key, sess)
		m.mu.Unlock()
		m.deliver(context.Background(), key, text)
	default:
		if m.now().Sub(sess.lastActivity) <= m.cfg.EditWindow {
			m.mu.Unlock()
			return // a later submission re-armed the window
		}
		m.closeLocked(key, sess)
		m.mu.Unlock()
	}
}

// closeLocked finishes Open -> Closed and removes the session. Caller holds
// m.mu.
func (m *Manager) closeLocked(key Key, sess *session) {
	sess.open = false
	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}
	if m.sessions[key] == sess {
		delete(m.sessions, key)
	}
}

func (m *Manager) deliver(ctx context.Context, key Key, text string) {
	if _, err := m.renderer.Send(ctx, key.ChannelID, text); err != nil {
		m.warn("send summary", key, err)
	}
}

func (m *Manager) blockTextLocked(key Key, sess *session) string {
	header := fmt.Sprintf("📸 %s - %s", key.EntityID, sess.displayName)
	return header + "\n" + strings.Join(sess.lines, "\n")
}

func (m *Manager) warn(msg string, key Key, err error) {
	if m.logger != nil {
		m.logger.Warn(msg, "channel", key.ChannelID, "entity", key.EntityID, "error", err)
	}
}
