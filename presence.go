package rosterly

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ============================================================================
// Presence Tracker
// ============================================================================

// ActivityKind tags a transient activity marker.
type ActivityKind string

const (
	ActivityTyping  ActivityKind = "typing"
	ActivityEditing ActivityKind = "editing"
)

// DefaultActivityTimeout clears a marker that is not renewed.
const DefaultActivityTimeout = 2 * time.Second

// Activity is a live typing/editing marker. Nothing here is persisted.
type Activity struct {
	UserID   string
	Location string
	Kind     ActivityKind
}

type activityMarker struct {
	activity Activity
	timer    *time.Timer
}

// PresenceTracker tracks which users are online per room and which transient
// activity markers are live. Markers expire after an inactivity timeout
// unless renewed, or are cleared by an explicit stop event.
type PresenceTracker struct {
	mu      sync.Mutex
	logger  *zap.Logger
	timeout time.Duration
	online  map[string]map[string]struct{} // room -> user ids
	markers map[string]*activityMarker     // user + "\x00" + location
}

// NewPresenceTracker creates a tracker. timeout <= 0 selects the default.
func NewPresenceTracker(logger *zap.Logger, timeout time.Duration) *PresenceTracker {
	if timeout <= 0 {
		timeout = DefaultActivityTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresenceTracker{
		logger:  logger,
		timeout: timeout,
		online:  make(map[string]map[string]struct{}),
		markers: make(map[string]*activityMarker),
	}
}

func markerKey(userID, location string) string {
	return userID + "\x00" + location
}

// ── Online membership ────────────────────────────────────

// SetOnline records a user as present in a room.
func (p *PresenceTracker) SetOnline(room, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	users, ok := p.online[room]
	if !ok {
		users = make(map[string]struct{})
		p.online[room] = users
	}
	users[userID] = struct{}{}
}

// SetOffline removes a user from a room and clears their activity markers.
func (p *PresenceTracker) SetOffline(room, userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if users, ok := p.online[room]; ok {
		delete(users, userID)
		if len(users) == 0 {
			delete(p.online, room)
		}
	}
	for key, m := range p.markers {
		if m.activity.UserID == userID {
			m.timer.Stop()
			delete(p.markers, key)
		}
	}
}

// OnlineInRoom returns the users currently present in a room, sorted.
func (p *PresenceTracker) OnlineInRoom(room string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	users := make([]string, 0, len(p.online[room]))
	for u := range p.online[room] {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}

// ── Activity markers ─────────────────────────────────────

// MarkActive records (or renews) a transient activity marker. The marker is
// cleared automatically after the inactivity timeout unless renewed.
func (p *PresenceTracker) MarkActive(userID, location string, kind ActivityKind) {
	key := markerKey(userID, location)
	p.mu.Lock()
	defer p.mu.Unlock()

	if m, ok := p.markers[key]; ok {
		m.activity.Kind = kind
		m.timer.Reset(p.timeout)
		return
	}

	m := &activityMarker{activity: Activity{UserID: userID, Location: location, Kind: kind}}
	m.timer = time.AfterFunc(p.timeout, func() {
		p.expire(key)
	})
	p.markers[key] = m
}

// MarkInactive clears a marker explicitly.
func (p *PresenceTracker) MarkInactive(userID, location string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if m, ok := p.markers[markerKey(userID, location)]; ok {
		m.timer.Stop()
		delete(p.markers, markerKey(userID, location))
	}
}

func (p *PresenceTracker) expire(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.markers, key)
}

// ActiveAt returns the live activity markers for a location.
func (p *PresenceTracker) ActiveAt(location string) []Activity {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Activity
	for _, m := range p.markers {
		if m.activity.Location == location {
			out = append(out, m.activity)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// ActiveCount returns the number of live markers across all locations.
func (p *PresenceTracker) ActiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.markers)
}

// Stop cancels all timers. The tracker must not be reused afterwards.
func (p *PresenceTracker) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for key, m := range p.markers {
		m.timer.Stop()
		delete(p.markers, key)
	}
}

// ── Realtime wiring ──────────────────────────────────────

type presencePayload struct {
	UserID   string `json:"user_id"`
	Room     string `json:"room,omitempty"`
	Location string `json:"location,omitempty"`
}

// Attach subscribes the tracker to a realtime client's presence and activity
// events.
func (p *PresenceTracker) Attach(rt *RealtimeClient) {
	rt.On(EventUserOnline, p.handleOnline)
	rt.On(EventUserOffline, p.handleOffline)
	rt.On(EventUserTyping, p.handleActivityStart)
	rt.On(EventUserEditing, p.handleActivityStart)
	rt.On(EventUserStoppedTyping, p.handleActivityStop)
	rt.On(EventUserStoppedEditing, p.handleActivityStop)
}

// Detach removes the tracker's subscriptions.
func (p *PresenceTracker) Detach(rt *RealtimeClient) {
	rt.Off(EventUserOnline, p.handleOnline)
	rt.Off(EventUserOffline, p.handleOffline)
	rt.Off(EventUserTyping, p.handleActivityStart)
	rt.Off(EventUserEditing, p.handleActivityStart)
	rt.Off(EventUserStoppedTyping, p.handleActivityStop)
	rt.Off(EventUserStoppedEditing, p.handleActivityStop)
}

func (p *PresenceTracker) handleOnline(_ string, data json.RawMessage) {
	var payload presencePayload
	if json.Unmarshal(data, &payload) != nil || payload.UserID == "" {
		return
	}
	p.SetOnline(payload.Room, payload.UserID)
}

func (p *PresenceTracker) handleOffline(_ string, data json.RawMessage) {
	var payload presencePayload
	if json.Unmarshal(data, &payload) != nil || payload.UserID == "" {
		return
	}
	p.SetOffline(payload.Room, payload.UserID)
}

func (p *PresenceTracker) handleActivityStart(eventType string, data json.RawMessage) {
	var payload presencePayload
	if json.Unmarshal(data, &payload) != nil || payload.UserID == "" {
		return
	}
	kind := ActivityTyping
	if eventType == EventUserEditing {
		kind = ActivityEditing
	}
	p.MarkActive(payload.UserID, payload.Location, kind)
}

func (p *PresenceTracker) handleActivityStop(_ string, data json.RawMessage) {
	var payload presencePayload
	if json.Unmarshal(data, &payload) != nil || payload.UserID == "" {
		return
	}
	p.MarkInactive(payload.UserID, payload.Location)
}
