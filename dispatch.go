package rosterly

import (
	"encoding/json"
	"reflect"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// Event Kinds
// ============================================================================

// Reserved event kinds consumed internally by the transport. These form a
// closed set; the read loop handles them with an exhaustive switch before
// fan-out.
const (
	EventConnected  = "connected"
	EventPong       = "pong"
	EventRoomJoined = "room_joined"
	EventRoomLeft   = "room_left"
	EventError      = "error"

	// EventMessage is the catch-all kind. Every inbound envelope is re-emitted
	// under this kind with the full envelope as payload.
	EventMessage = "message"
)

// Feature event kinds pushed by the backend and re-emitted verbatim.
const (
	EventShiftCreated       = "shift_created"
	EventShiftUpdated       = "shift_updated"
	EventShiftDeleted       = "shift_deleted"
	EventSchedulePublished  = "schedule_published"
	EventNotificationNew    = "notification_new"
	EventUserOnline         = "user_online"
	EventUserOffline        = "user_offline"
	EventUserTyping         = "user_typing"
	EventUserStoppedTyping  = "user_stopped_typing"
	EventUserEditing        = "user_editing"
	EventUserStoppedEditing = "user_stopped_editing"
)

// ============================================================================
// Envelope
// ============================================================================

// Envelope is the wire format for all real-time messages, in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func newEnvelope(eventType string, data any) (*Envelope, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return &Envelope{
		Type:      eventType,
		Data:      raw,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

// ============================================================================
// Event Dispatcher
// ============================================================================

// EventHandler is the generic event callback type.
type EventHandler func(eventType string, data json.RawMessage)

type listenerEntry struct {
	key uintptr
	fn  EventHandler
}

type eventDispatcher struct {
	mu        sync.RWMutex
	listeners map[string][]listenerEntry
	logger    *zap.Logger

	onConnected    []func(connectionID string)
	onDisconnected []func(code int, reason string)
	onReconnecting []func(attempt int, delay time.Duration)
}

func newEventDispatcher(logger *zap.Logger) *eventDispatcher {
	return &eventDispatcher{
		listeners: make(map[string][]listenerEntry),
		logger:    logger,
	}
}

// handlerKey identifies a handler function for set-semantics registration.
func handlerKey(h EventHandler) uintptr {
	return reflect.ValueOf(h).Pointer()
}

// addListener registers a handler for an event kind. Registering the same
// function twice for the same kind is a no-op.
func (d *eventDispatcher) addListener(eventType string, h EventHandler) {
	key := handlerKey(h)
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, entry := range d.listeners[eventType] {
		if entry.key == key {
			return
		}
	}
	d.listeners[eventType] = append(d.listeners[eventType], listenerEntry{key: key, fn: h})
}

// removeListener unregisters a previously added handler.
func (d *eventDispatcher) removeListener(eventType string, h EventHandler) {
	key := handlerKey(h)
	d.mu.Lock()
	defer d.mu.Unlock()
	entries := d.listeners[eventType]
	for i, entry := range entries {
		if entry.key == key {
			d.listeners[eventType] = append(entries[:i], entries[i+1:]...)
			return
		}
	}
}

// emit invokes every handler registered for the kind. A panic inside one
// handler is recovered and logged so the remaining handlers still run.
func (d *eventDispatcher) emit(eventType string, data json.RawMessage) {
	d.mu.RLock()
	handlers := make([]EventHandler, 0, len(d.listeners[eventType]))
	for _, entry := range d.listeners[eventType] {
		handlers = append(handlers, entry.fn)
	}
	d.mu.RUnlock()

	for _, h := range handlers {
		d.invoke(eventType, data, h)
	}
}

func (d *eventDispatcher) invoke(eventType string, data json.RawMessage, h EventHandler) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Warn("event listener panicked",
				zap.String("event", eventType),
				zap.Any("panic", r))
		}
	}()
	h(eventType, data)
}

// dispatch fans an inbound envelope out to its typed listeners and to the
// catch-all "message" listeners, which receive the full envelope.
func (d *eventDispatcher) dispatch(env *Envelope) {
	d.emit(env.Type, env.Data)

	full, err := json.Marshal(env)
	if err != nil {
		return
	}
	d.emit(EventMessage, full)
}

// ── Meta events ──────────────────────────────────────────

func (d *eventDispatcher) emitConnected(connectionID string) {
	d.mu.RLock()
	handlers := append([]func(string){}, d.onConnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(connectionID)
	}
}

func (d *eventDispatcher) emitDisconnected(code int, reason string) {
	d.mu.RLock()
	handlers := append([]func(int, string){}, d.onDisconnected...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(code, reason)
	}
}

func (d *eventDispatcher) emitReconnecting(attempt int, delay time.Duration) {
	d.mu.RLock()
	handlers := append([]func(int, time.Duration){}, d.onReconnecting...)
	d.mu.RUnlock()
	for _, h := range handlers {
		h(attempt, delay)
	}
}
