package tokenmanager

import (
	"time"
)

type EventType string

const (
	EventTokenRefreshed EventType = "token_refreshed"
	EventTokenExpired   EventType = "token_expired"
	EventRefreshFailed  EventType = "refresh_failed"
	EventTokenRotated   EventType = "token_rotated"
)

// Reasons carried in the "reason" field of token_expired and refresh_failed.
const (
	ReasonCorrupted      = "corrupted"
	ReasonExpired        = "expired"
	ReasonDeviceRisk     = "device_risk"
	ReasonRefreshFailed  = "refresh_failed"
	ReasonNoRefreshToken = "no_refresh_token"
	ReasonDeviceRiskHigh = "device_risk_high"

	// ReasonSignedOut is used when another tab cleared the shared tokens.
	ReasonSignedOut = "signed_out"
)

// Sources carried in the "source" field of token_rotated.
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// Event is dispatched synchronously to listeners of its Type.
type Event struct {
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Reason returns Data["reason"] or "".
func (e Event) Reason() string {
	r, _ := e.Data["reason"].(string)
	return r
}

type Listener func(Event)

// ListenerID identifies a registration for RemoveEventListener.
type ListenerID uint64

type listenerEntry struct {
	id ListenerID
	fn Listener
}

// AddEventListener registers fn for events of type t. Listeners run on the
// goroutine that produced the event, in registration order.
func (m *Manager) AddEventListener(t EventType, fn Listener) ListenerID {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	m.nextListener++
	id := m.nextListener
	m.listeners[t] = append(m.listeners[t], listenerEntry{id: id, fn: fn})
	return id
}

// RemoveEventListener reports whether a registration was removed.
func (m *Manager) RemoveEventListener(t EventType, id ListenerID) bool {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()

	entries := m.listeners[t]
	for i, e := range entries {
		if e.id == id {
			m.listeners[t] = append(entries[:i:i], entries[i+1:]...)
			return true
		}
	}
	return false
}

func (m *Manager) emit(t EventType, data map[string]any) {
	m.listenersMu.RLock()
	entries := append([]listenerEntry(nil), m.listeners[t]...)
	m.listenersMu.RUnlock()

	ev := Event{Type: t, Timestamp: m.clock.Now(), Data: data}
	m.logger.Debug("token event", "type", t, "data", data)

	for _, e := range entries {
		m.dispatch(e.fn, ev)
	}
}

func (m *Manager) dispatch(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("event listener panicked", "type", ev.Type, "panic", r)
		}
	}()
	fn(ev)
}
