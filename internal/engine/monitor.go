package engine

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mindcraft/mindcraft-backend/internal/model"
)

// DefaultViolationLimit is the count at which a forced submission is triggered.
const DefaultViolationLimit = 4

// Monitor classifies proctoring events and keeps the session's violation log.
type Monitor struct {
	mu         sync.Mutex
	limit      int
	violations []model.Violation
	fullscreen bool

	active       func() bool
	codingActive func() bool
	now          func() time.Time
}

// NewMonitor builds a monitor. active reports whether violations count right now;
// codingActive reports whether the displayed question is a coding question.
func NewMonitor(limit int, active, codingActive func() bool, now func() time.Time) *Monitor {
	if limit <= 0 {
		limit = DefaultViolationLimit
	}
	if now == nil {
		now = time.Now
	}
	return &Monitor{
		limit:        limit,
		active:       active,
		codingActive: codingActive,
		now:          now,
	}
}

// Attach subscribes the monitor to every event kind on bus.
// Closing subs detaches all of them.
func (m *Monitor) Attach(bus *Bus, subs *Subscriptions) {
	for _, kind := range EventKinds {
		subs.Add(bus.Subscribe(kind, m.Handle))
	}
}

// Handle classifies one event.
func (m *Monitor) Handle(ev Event) Verdict {
	switch ev.Kind {
	case EventVisibilityHidden:
		return m.record(model.ViolationTabSwitch, false)

	case EventCopy, EventCut, EventPaste:
		if ev.InCodeEditor && m.codingActive() {
			return m.record(model.ViolationCopyPaste, true)
		}

	case EventKeyDown:
		if isClipboardShortcut(ev) && ev.InCodeEditor && m.codingActive() {
			return m.record(model.ViolationKeyShortcut, true)
		}

	case EventFullscreenChange:
		m.mu.Lock()
		m.fullscreen = ev.Fullscreen
		m.mu.Unlock()
		fs := ev.Fullscreen
		return Verdict{Fullscreen: &fs}

	case EventContextMenu:
		return Verdict{Suppress: true}
	}
	return Verdict{}
}

// Violations returns a copy of the violation log.
func (m *Monitor) Violations() []model.Violation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.violations) == 0 {
		return nil
	}
	out := make([]model.Violation, len(m.violations))
	copy(out, m.violations)
	return out
}

// Count returns the running violation total.
func (m *Monitor) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.violations)
}

// Fullscreen returns the last reported fullscreen state.
func (m *Monitor) Fullscreen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fullscreen
}

// LimitReached reports whether the violation count has hit the limit.
func (m *Monitor) LimitReached() bool {
	return m.Count() >= m.limit
}

// Restore seeds the log, used when resuming a session.
func (m *Monitor) Restore(vs []model.Violation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.violations = append([]model.Violation(nil), vs...)
}

func (m *Monitor) record(typ model.ViolationType, suppress bool) Verdict {
	m.mu.Lock()
	if !m.active() {
		m.mu.Unlock()
		return Verdict{Suppress: suppress}
	}
	v := model.Violation{
		Type:      typ,
		Timestamp: m.now().UTC(),
		Count:     len(m.violations) + 1,
	}
	m.violations = append(m.violations, v)
	m.mu.Unlock()

	verdict := Verdict{Suppress: suppress, Violation: &v}
	if v.Count < m.limit {
		verdict.Warning = WarningText(v.Count, m.limit)
	} else {
		verdict.ForceSubmit = true
	}
	return verdict
}

// WarningText renders the warning shown after a violation below the limit.
// The advertised budget is one less than the enforced limit ("Warning 1/3" with a limit of 4).
func WarningText(count, limit int) string {
	return fmt.Sprintf("Warning %d/%d", count, limit-1)
}

func isClipboardShortcut(ev Event) bool {
	if !ev.Ctrl && !ev.Meta {
		return false
	}
	switch strings.ToLower(ev.Key) {
	case "c", "v", "x", "a":
		return true
	}
	return false
}
