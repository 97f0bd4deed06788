package engine

import (
	"testing"
	"time"

	"github.com/mindcraft/mindcraft-backend/internal/model"
	"github.com/stretchr/testify/require"
)

func newTestMonitor(active, coding *bool) *Monitor {
	fixed := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return NewMonitor(4,
		func() bool { return *active },
		func() bool { return *coding },
		func() time.Time { return fixed },
	)
}

func TestMonitorTabSwitchWarnings(t *testing.T) {
	active, coding := true, false
	m := newTestMonitor(&active, &coding)

	for i := 1; i <= 3; i++ {
		v := m.Handle(Event{Kind: EventVisibilityHidden})
		require.NotNil(t, v.Violation)
		require.Equal(t, model.ViolationTabSwitch, v.Violation.Type)
		require.Equal(t, i, v.Violation.Count)
		require.False(t, v.Suppress)
		require.False(t, v.ForceSubmit)
		require.Equal(t, WarningText(i, 4), v.Warning)
	}
	require.Equal(t, "Warning 3/3", WarningText(3, 4))

	v := m.Handle(Event{Kind: EventVisibilityHidden})
	require.True(t, v.ForceSubmit)
	require.Empty(t, v.Warning)
	require.Equal(t, 4, v.Violation.Count)
	require.True(t, m.LimitReached())
}

func TestMonitorClipboardOnlyInCodingEditor(t *testing.T) {
	active, coding := true, false
	m := newTestMonitor(&active, &coding)

	v := m.Handle(Event{Kind: EventPaste, InCodeEditor: true})
	require.Nil(t, v.Violation, "mcq question displayed")
	require.False(t, v.Suppress)

	coding = true
	v = m.Handle(Event{Kind: EventPaste, InCodeEditor: false})
	require.Nil(t, v.Violation, "focus outside the editor")

	for _, kind := range []EventKind{EventCopy, EventCut, EventPaste} {
		v = m.Handle(Event{Kind: kind, InCodeEditor: true})
		require.NotNil(t, v.Violation)
		require.Equal(t, model.ViolationCopyPaste, v.Violation.Type)
		require.True(t, v.Suppress)
	}
	require.Equal(t, 3, m.Count())
}

func TestMonitorKeyShortcuts(t *testing.T) {
	active, coding := true, true
	m := newTestMonitor(&active, &coding)

	cases := []struct {
		name  string
		ev    Event
		count bool
	}{
		{"ctrl+c", Event{Kind: EventKeyDown, Key: "c", Ctrl: true, InCodeEditor: true}, true},
		{"cmd+V", Event{Kind: EventKeyDown, Key: "V", Meta: true, InCodeEditor: true}, true},
		{"plain a", Event{Kind: EventKeyDown, Key: "a", InCodeEditor: true}, false},
		{"ctrl+s", Event{Kind: EventKeyDown, Key: "s", Ctrl: true, InCodeEditor: true}, false},
		{"ctrl+x outside editor", Event{Kind: EventKeyDown, Key: "x", Ctrl: true}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			before := m.Count()
			v := m.Handle(tc.ev)
			if tc.count {
				require.NotNil(t, v.Violation)
				require.Equal(t, model.ViolationKeyShortcut, v.Violation.Type)
				require.True(t, v.Suppress)
				require.Equal(t, before+1, m.Count())
			} else {
				require.Nil(t, v.Violation)
				require.Equal(t, before, m.Count())
			}
		})
	}
}

func TestMonitorFullscreenAndContextMenuNeverCount(t *testing.T) {
	active, coding := true, true
	m := newTestMonitor(&active, &coding)

	v := m.Handle(Event{Kind: EventFullscreenChange, Fullscreen: false})
	require.NotNil(t, v.Fullscreen)
	require.False(t, *v.Fullscreen)
	require.Nil(t, v.Violation)

	v = m.Handle(Event{Kind: EventFullscreenChange, Fullscreen: true})
	require.True(t, *v.Fullscreen)
	require.True(t, m.Fullscreen())

	v = m.Handle(Event{Kind: EventContextMenu})
	require.True(t, v.Suppress)
	require.Nil(t, v.Violation)

	v = m.Handle(Event{Kind: EventVisibilityVisible})
	require.Equal(t, Verdict{}, v)
	require.Zero(t, m.Count())
}

func TestMonitorIgnoresEventsWhenInactive(t *testing.T) {
	active, coding := false, true
	m := newTestMonitor(&active, &coding)

	v := m.Handle(Event{Kind: EventCopy, InCodeEditor: true})
	require.Nil(t, v.Violation)
	require.True(t, v.Suppress)
	require.Nil(t, m.Violations())
}

func TestBusSubscriptionsRelease(t *testing.T) {
	active, coding := true, false
	m := newTestMonitor(&active, &coding)
	bus := NewBus()
	subs := &Subscriptions{}
	m.Attach(bus, subs)
	require.Equal(t, len(EventKinds), bus.Len())

	v := bus.Dispatch(Event{Kind: EventVisibilityHidden})
	require.NotNil(t, v.Violation)

	subs.Close()
	subs.Close()
	require.Zero(t, bus.Len())
	require.Equal(t, Verdict{}, bus.Dispatch(Event{Kind: EventVisibilityHidden}))
	require.Equal(t, 1, m.Count())

	ran := false
	subs.Add(func() { ran = true })
	require.True(t, ran, "adding to a closed set releases immediately")
}

func TestBusStaleUnsubscribeKeepsReplacement(t *testing.T) {
	bus := NewBus()
	first := bus.Subscribe(EventCopy, func(Event) Verdict { return Verdict{Warning: "first"} })
	bus.Subscribe(EventCopy, func(Event) Verdict { return Verdict{Warning: "second"} })
	first()
	require.Equal(t, "second", bus.Dispatch(Event{Kind: EventCopy}).Warning)
}
