package rosterly

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// ============================================================================
// Configuration
// ============================================================================

// RealtimeConfig configures the real-time client.
type RealtimeConfig struct {
	Token                string
	AutoReconnect        bool
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	HeartbeatInterval    time.Duration
	PongTimeout          time.Duration
	DialTimeout          time.Duration
	// MaxQueuedMessages bounds the outbound queue used while disconnected.
	// The oldest message is dropped when the queue is full.
	MaxQueuedMessages int
}

func (c *RealtimeConfig) defaults() {
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = 1 * time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 10
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = 10 * time.Second
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.MaxQueuedMessages == 0 {
		c.MaxQueuedMessages = 100
	}
}

// ConnState represents the connection state.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
)

// ============================================================================
// Reconnector
// ============================================================================

// reconnector tracks backoff state. Dial resets it from the caller's
// goroutine while a reconnect cycle may be advancing it, so every access
// goes through the mutex.
type reconnector struct {
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int

	mu      sync.Mutex
	attempt int
}

func newReconnector(config *RealtimeConfig) *reconnector {
	return &reconnector{
		baseDelay:   config.ReconnectBaseDelay,
		maxDelay:    config.ReconnectMaxDelay,
		maxAttempts: config.MaxReconnectAttempts,
	}
}

func (r *reconnector) shouldReconnect() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxAttempts == 0 || r.attempt < r.maxAttempts
}

// nextDelay returns min(base * 2^attempt, maxDelay) and advances the counter.
func (r *reconnector) nextDelay() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	delay := time.Duration(math.Min(
		float64(r.baseDelay)*math.Pow(2, float64(r.attempt)),
		float64(r.maxDelay),
	))
	r.attempt++
	return delay
}

func (r *reconnector) attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempt
}

func (r *reconnector) reset() {
	r.mu.Lock()
	r.attempt = 0
	r.mu.Unlock()
}

// ============================================================================
// RealtimeClient
// ============================================================================

// RealtimeClient owns one logical WebSocket connection to the Rosterly
// backend, with heartbeat, bounded send queueing while disconnected, and
// exponential-backoff auto-reconnect.
type RealtimeClient struct {
	baseURL string
	config  *RealtimeConfig
	logger  *zap.Logger

	mu               sync.Mutex
	conn             *websocket.Conn
	state            ConnState
	intentionalClose bool
	connectionID     string
	cancelFn         context.CancelFunc
	pendingOutbound  []*Envelope
	rooms            map[string]struct{}

	dispatcher *eventDispatcher
	recon      *reconnector
	pongCh     chan struct{}
}

func newRealtimeClient(baseURL string, config *RealtimeConfig, logger *zap.Logger) *RealtimeClient {
	return &RealtimeClient{
		baseURL:    baseURL,
		config:     config,
		logger:     logger,
		state:      StateDisconnected,
		rooms:      make(map[string]struct{}),
		dispatcher: newEventDispatcher(logger),
		recon:      newReconnector(config),
		pongCh:     make(chan struct{}, 1),
	}
}

// ── Listener registration ────────────────────────────────

// On registers a handler for an event kind. Duplicate registrations of the
// same function are ignored.
func (rt *RealtimeClient) On(eventType string, h EventHandler) {
	rt.dispatcher.addListener(eventType, h)
}

// Off unregisters a previously registered handler.
func (rt *RealtimeClient) Off(eventType string, h EventHandler) {
	rt.dispatcher.removeListener(eventType, h)
}

// OnConnected registers a handler for the connected meta-event. The handler
// receives the server-assigned connection id.
func (rt *RealtimeClient) OnConnected(h func(connectionID string)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onConnected = append(rt.dispatcher.onConnected, h)
	rt.dispatcher.mu.Unlock()
}

// OnDisconnected registers a handler for the disconnected meta-event.
func (rt *RealtimeClient) OnDisconnected(h func(code int, reason string)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onDisconnected = append(rt.dispatcher.onDisconnected, h)
	rt.dispatcher.mu.Unlock()
}

// OnReconnecting registers a handler for the reconnecting meta-event.
func (rt *RealtimeClient) OnReconnecting(h func(attempt int, delay time.Duration)) {
	rt.dispatcher.mu.Lock()
	rt.dispatcher.onReconnecting = append(rt.dispatcher.onReconnecting, h)
	rt.dispatcher.mu.Unlock()
}

// ── Accessors ────────────────────────────────────────────

// State returns the current connection state.
func (rt *RealtimeClient) State() ConnState {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.state
}

// ConnectionID returns the server-assigned connection id, if connected.
func (rt *RealtimeClient) ConnectionID() string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.connectionID
}

// Rooms returns the rooms the client currently believes it has joined.
func (rt *RealtimeClient) Rooms() []string {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	out := make([]string, 0, len(rt.rooms))
	for room := range rt.rooms {
		out = append(out, room)
	}
	return out
}

// QueuedOutbound returns the number of messages waiting for reconnect.
func (rt *RealtimeClient) QueuedOutbound() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return len(rt.pendingOutbound)
}

// ── Connect / Disconnect ─────────────────────────────────

// Dial establishes the WebSocket connection. It is a no-op while already
// connected or connecting, and fails if no open event arrives within the
// configured dial timeout.
func (rt *RealtimeClient) Dial(ctx context.Context) error {
	rt.mu.Lock()
	if rt.state == StateConnected || rt.state == StateConnecting {
		rt.mu.Unlock()
		rt.logger.Warn("dial ignored: already connected or connecting")
		return nil
	}
	rt.state = StateConnecting
	rt.intentionalClose = false
	rt.mu.Unlock()

	wsURL := strings.Replace(rt.baseURL, "https://", "wss://", 1)
	wsURL = strings.Replace(wsURL, "http://", "ws://", 1)
	wsURL += "/ws?token=" + url.QueryEscape(rt.config.Token)

	dialCtx, cancelDial := context.WithTimeout(ctx, rt.config.DialTimeout)
	defer cancelDial()

	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	if err != nil {
		rt.mu.Lock()
		rt.state = StateDisconnected
		rt.mu.Unlock()
		return fmt.Errorf("websocket dial: %w", err)
	}

	connCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	rt.mu.Lock()
	rt.conn = conn
	rt.state = StateConnected
	rt.cancelFn = cancel
	rt.mu.Unlock()

	rt.recon.reset()

	go rt.readLoop(connCtx, conn)
	go rt.heartbeatLoop(connCtx)

	rt.flushPending(conn)
	rt.rejoinRooms(conn)

	return nil
}

// Disconnect gracefully closes the connection and disables reconnecting.
func (rt *RealtimeClient) Disconnect() error {
	rt.mu.Lock()
	rt.intentionalClose = true
	if rt.cancelFn != nil {
		rt.cancelFn()
		rt.cancelFn = nil
	}
	conn := rt.conn
	rt.conn = nil
	rt.state = StateDisconnected
	rt.connectionID = ""
	rt.mu.Unlock()

	if conn != nil {
		err := conn.Close(websocket.StatusNormalClosure, "client disconnect")
		rt.dispatcher.emitDisconnected(int(websocket.StatusNormalClosure), "client disconnect")
		return err
	}
	rt.dispatcher.emitDisconnected(int(websocket.StatusNormalClosure), "client disconnect")
	return nil
}

// ── Sending ──────────────────────────────────────────────

// Send serializes {type, data, timestamp} and transmits it. While
// disconnected, or when the write fails, the message is appended to the
// bounded outbound queue and false is returned. Send never panics.
func (rt *RealtimeClient) Send(eventType string, data any) bool {
	env, err := newEnvelope(eventType, data)
	if err != nil {
		rt.logger.Warn("dropping unserializable message",
			zap.String("type", eventType), zap.Error(err))
		return false
	}

	rt.mu.Lock()
	conn := rt.conn
	connected := rt.state == StateConnected
	rt.mu.Unlock()

	if !connected || conn == nil {
		rt.enqueueOutbound(env)
		return false
	}

	if err := rt.writeEnvelope(conn, env); err != nil {
		rt.logger.Warn("send failed, queueing message",
			zap.String("type", eventType), zap.Error(err))
		rt.enqueueOutbound(env)
		return false
	}
	return true
}

func (rt *RealtimeClient) writeEnvelope(conn *websocket.Conn, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// enqueueOutbound appends to the pending queue, dropping the oldest entry
// when the queue is at capacity.
func (rt *RealtimeClient) enqueueOutbound(env *Envelope) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if len(rt.pendingOutbound) >= rt.config.MaxQueuedMessages {
		dropped := rt.pendingOutbound[0]
		rt.pendingOutbound = rt.pendingOutbound[1:]
		rt.logger.Warn("outbound queue full, dropping oldest message",
			zap.String("dropped_type", dropped.Type))
	}
	rt.pendingOutbound = append(rt.pendingOutbound, env)
}

// flushPending drains the outbound queue in FIFO order.
func (rt *RealtimeClient) flushPending(conn *websocket.Conn) {
	rt.mu.Lock()
	pending := rt.pendingOutbound
	rt.pendingOutbound = nil
	rt.mu.Unlock()

	for i, env := range pending {
		if err := rt.writeEnvelope(conn, env); err != nil {
			// Put the unsent tail back at the head of the queue.
			rt.mu.Lock()
			rt.pendingOutbound = append(append([]*Envelope{}, pending[i:]...), rt.pendingOutbound...)
			rt.mu.Unlock()
			rt.logger.Warn("flush interrupted", zap.Error(err))
			return
		}
	}
}

// rejoinRooms re-sends join_room for every tracked room. The server treats a
// duplicate join as an idempotent no-op.
func (rt *RealtimeClient) rejoinRooms(conn *websocket.Conn) {
	rt.mu.Lock()
	rooms := make([]string, 0, len(rt.rooms))
	for room := range rt.rooms {
		rooms = append(rooms, room)
	}
	rt.mu.Unlock()

	for _, room := range rooms {
		env, err := newEnvelope("join_room", map[string]string{"room": room})
		if err != nil {
			continue
		}
		if err := rt.writeEnvelope(conn, env); err != nil {
			rt.logger.Warn("room rejoin failed", zap.String("room", room), zap.Error(err))
			return
		}
	}
}

// ── Rooms ────────────────────────────────────────────────

// JoinRoom subscribes the client to a room's events. Joining an
// already-joined room is a no-op.
func (rt *RealtimeClient) JoinRoom(room string) {
	rt.mu.Lock()
	if _, ok := rt.rooms[room]; ok {
		rt.mu.Unlock()
		rt.logger.Warn("join ignored: already in room", zap.String("room", room))
		return
	}
	rt.rooms[room] = struct{}{}
	rt.mu.Unlock()

	rt.Send("join_room", map[string]string{"room": room})
}

// LeaveRoom unsubscribes the client from a room. Leaving a room the client
// is not in is a no-op.
func (rt *RealtimeClient) LeaveRoom(room string) {
	rt.mu.Lock()
	if _, ok := rt.rooms[room]; !ok {
		rt.mu.Unlock()
		rt.logger.Warn("leave ignored: not in room", zap.String("room", room))
		return
	}
	delete(rt.rooms, room)
	rt.mu.Unlock()

	rt.Send("leave_room", map[string]string{"room": room})
}

// ── Activity signals ─────────────────────────────────────

// StartTyping announces transient typing activity at a location
// (e.g. "schedule:2026-09-01").
func (rt *RealtimeClient) StartTyping(location string) {
	rt.Send(EventUserTyping, map[string]string{"location": location})
}

// StopTyping clears a previously announced typing indicator.
func (rt *RealtimeClient) StopTyping(location string) {
	rt.Send(EventUserStoppedTyping, map[string]string{"location": location})
}

// MarkNotificationRead acknowledges one notification over the socket.
func (rt *RealtimeClient) MarkNotificationRead(notificationID string) {
	rt.Send("mark_notification_read", map[string]string{"notification_id": notificationID})
}

// MarkAllNotificationsRead acknowledges every notification over the socket.
func (rt *RealtimeClient) MarkAllNotificationsRead() {
	rt.Send("mark_all_notifications_read", nil)
}

// ── Read loop ────────────────────────────────────────────

func (rt *RealtimeClient) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			rt.mu.Lock()
			intentional := rt.intentionalClose
			stale := rt.conn != conn
			if !stale {
				rt.state = StateDisconnected
				rt.conn = nil
				rt.connectionID = ""
			}
			rt.mu.Unlock()
			if intentional || stale {
				return
			}

			rt.dispatcher.emitDisconnected(int(websocket.CloseStatus(err)), err.Error())

			if rt.config.AutoReconnect && rt.recon.shouldReconnect() {
				go rt.scheduleReconnect()
			}
			return
		}

		var env Envelope
		if json.Unmarshal(data, &env) != nil {
			rt.logger.Warn("discarding malformed envelope")
			continue
		}

		rt.handleReserved(&env)
		rt.dispatcher.dispatch(&env)
	}
}

// handleReserved consumes the closed set of transport-internal event kinds.
func (rt *RealtimeClient) handleReserved(env *Envelope) {
	switch env.Type {
	case EventConnected:
		var p struct {
			ConnectionID string `json:"connection_id"`
		}
		if json.Unmarshal(env.Data, &p) == nil {
			rt.mu.Lock()
			rt.connectionID = p.ConnectionID
			rt.mu.Unlock()
			rt.dispatcher.emitConnected(p.ConnectionID)
		}
	case EventPong:
		select {
		case rt.pongCh <- struct{}{}:
		default:
		}
	case EventRoomJoined:
		var p struct {
			Room string `json:"room"`
		}
		if json.Unmarshal(env.Data, &p) == nil && p.Room != "" {
			rt.mu.Lock()
			rt.rooms[p.Room] = struct{}{}
			rt.mu.Unlock()
		}
	case EventRoomLeft:
		var p struct {
			Room string `json:"room"`
		}
		if json.Unmarshal(env.Data, &p) == nil && p.Room != "" {
			rt.mu.Lock()
			delete(rt.rooms, p.Room)
			rt.mu.Unlock()
		}
	case EventError:
		rt.logger.Warn("server error event", zap.ByteString("data", env.Data))
	}
}

// ── Heartbeat ────────────────────────────────────────────

func (rt *RealtimeClient) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(rt.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.mu.Lock()
			conn := rt.conn
			connected := rt.state == StateConnected
			rt.mu.Unlock()
			if !connected || conn == nil {
				return
			}

			// Drain any stale pong before probing.
			select {
			case <-rt.pongCh:
			default:
			}

			if !rt.Send("ping", nil) {
				continue
			}

			select {
			case <-rt.pongCh:
			case <-time.After(rt.config.PongTimeout):
				rt.logger.Warn("heartbeat timeout, closing stale connection")
				conn.Close(websocket.StatusGoingAway, "heartbeat timeout")
				return
			case <-ctx.Done():
				return
			}
		}
	}
}

// ── Reconnect ────────────────────────────────────────────

func (rt *RealtimeClient) scheduleReconnect() {
	for {
		rt.mu.Lock()
		if rt.intentionalClose {
			rt.mu.Unlock()
			return
		}
		rt.state = StateReconnecting
		rt.mu.Unlock()

		delay := rt.recon.nextDelay()
		rt.dispatcher.emitReconnecting(rt.recon.attempts(), delay)
		time.Sleep(delay)

		rt.mu.Lock()
		if rt.intentionalClose {
			rt.mu.Unlock()
			return
		}
		rt.state = StateDisconnected
		rt.mu.Unlock()

		if err := rt.Dial(context.Background()); err == nil {
			return
		}

		if !rt.config.AutoReconnect || !rt.recon.shouldReconnect() {
			rt.mu.Lock()
			rt.state = StateDisconnected
			rt.mu.Unlock()
			rt.logger.Warn("giving up on reconnect",
				zap.Int("attempts", rt.recon.attempts()))
			return
		}
	}
}
