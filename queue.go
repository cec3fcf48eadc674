package rosterly

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ============================================================================
// Optimistic Update
// ============================================================================

// Op tags the kind of mutation an OptimisticUpdate performs.
type Op string

const (
	OpAdd    Op = "add"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpBatch  Op = "batch_update"
)

// UpdateStatus is the lifecycle state of an OptimisticUpdate.
type UpdateStatus string

const (
	UpdatePending      UpdateStatus = "pending"
	UpdateRetryPending UpdateStatus = "retry_pending"
	UpdateConfirmed    UpdateStatus = "confirmed"
	UpdateFailed       UpdateStatus = "failed"
)

// ClientIDPrefix distinguishes client-generated optimistic ids from
// server-assigned ids.
const ClientIDPrefix = "local-"

// NewClientID returns a fresh optimistic id.
func NewClientID() string {
	return ClientIDPrefix + uuid.NewString()
}

// IsClientID reports whether id was generated client-side.
func IsClientID(id string) bool {
	return strings.HasPrefix(id, ClientIDPrefix)
}

// Rollback captures enough prior state to reverse an optimistic application.
// It is an explicit snapshot value, not a closure: Previous holds the entity
// bytes before the update, and Existed records whether the entity existed at
// all (false for an Add, whose reversal is a delete).
type Rollback struct {
	Previous json.RawMessage `json:"previous,omitempty"`
	Existed  bool            `json:"existed"`
}

// SubOp is one step of a batch update. ClientID and Rollback are filled by
// the queue when the batch is enqueued.
type SubOp struct {
	Op       Op              `json:"op"`
	TargetID string          `json:"target_id,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	ClientID string          `json:"client_id,omitempty"`
	Rollback Rollback        `json:"rollback"`
}

// OptimisticUpdate is a client-initiated mutation applied locally before the
// authoritative write completes.
type OptimisticUpdate struct {
	ID         string          `json:"id"`
	Op         Op              `json:"op"`
	Resource   string          `json:"resource"`
	TargetID   string          `json:"target_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	SubOps     []SubOp         `json:"sub_ops,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
	Status     UpdateStatus    `json:"status"`
	LastError  string          `json:"last_error,omitempty"`
	Rollback   Rollback        `json:"rollback"`
}

// ============================================================================
// Queue Configuration
// ============================================================================

// QueueConfig configures the MutationQueue.
type QueueConfig struct {
	BatchSize  int           // concurrent updates per batch, default 3
	MaxRetries int           // retries after the initial attempt, default 3
	RetryDelay time.Duration // linear backoff unit, default 1s
	OpTimeout  time.Duration // per-operation network timeout, default 15s
}

func (c *QueueConfig) defaults() {
	if c.BatchSize == 0 {
		c.BatchSize = 3
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Second
	}
	if c.OpTimeout == 0 {
		c.OpTimeout = 15 * time.Second
	}
}

// ============================================================================
// Mutation Queue
// ============================================================================

// MutationQueue applies CRUD mutations optimistically to the local store,
// submits them to the server in bounded concurrent batches, and confirms or
// rolls them back based on the server response, with bounded linear-backoff
// retry.
type MutationQueue struct {
	client *Client
	store  Store
	config QueueConfig
	logger *zap.Logger

	mu          sync.Mutex
	queue       []*OptimisticUpdate
	processing  bool
	terminal    map[string]UpdateStatus
	terminalLog []string
	closed      bool

	cbMu        sync.RWMutex
	onConfirmed []func(update *OptimisticUpdate, serverEntity json.RawMessage)
	onFailed    []func(update *OptimisticUpdate, err error)
	onRetry     []func(update *OptimisticUpdate, delay time.Duration)
}

// NewMutationQueue creates a queue backed by the given API client and store.
func NewMutationQueue(client *Client, store Store, config *QueueConfig) *MutationQueue {
	var cfg QueueConfig
	if config != nil {
		cfg = *config
	}
	cfg.defaults()
	return &MutationQueue{
		client:   client,
		store:    store,
		config:   cfg,
		logger:   client.logger,
		terminal: make(map[string]UpdateStatus),
	}
}

// OnConfirmed registers a callback fired once per confirmed update, carrying
// the server's authoritative entity.
func (q *MutationQueue) OnConfirmed(h func(update *OptimisticUpdate, serverEntity json.RawMessage)) {
	q.cbMu.Lock()
	q.onConfirmed = append(q.onConfirmed, h)
	q.cbMu.Unlock()
}

// OnFailed registers a callback fired once per terminally failed update. The
// update carries its Rollback so the caller can restore UI state.
func (q *MutationQueue) OnFailed(h func(update *OptimisticUpdate, err error)) {
	q.cbMu.Lock()
	q.onFailed = append(q.onFailed, h)
	q.cbMu.Unlock()
}

// OnRetry registers a callback fired each time an update is scheduled for a
// retry.
func (q *MutationQueue) OnRetry(h func(update *OptimisticUpdate, delay time.Duration)) {
	q.cbMu.Lock()
	q.onRetry = append(q.onRetry, h)
	q.cbMu.Unlock()
}

// Len returns the number of updates waiting in the in-memory queue.
func (q *MutationQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

// Close stops processing. In-flight network calls are not aborted; their
// results are ignored.
func (q *MutationQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.queue = nil
	q.mu.Unlock()
}

// ── Enqueue builders ─────────────────────────────────────

// EnqueueAdd optimistically creates an entity. The returned update's ID is
// the entity's temporary client id until the server confirms.
func (q *MutationQueue) EnqueueAdd(resource string, payload any) (*OptimisticUpdate, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal add payload: %w", err)
	}
	update := q.newUpdate(OpAdd, resource, "", raw, nil, Rollback{Existed: false})

	// Apply optimistically: a pending entity under the client id.
	if err := q.store.PutEntities([]*StoredEntity{{
		Resource: resource,
		ID:       update.ID,
		ClientID: update.ID,
		Data:     withClientID(raw, update.ID),
		Status:   "pending",
	}}); err != nil {
		return nil, err
	}
	return update, q.submit(update)
}

// EnqueueUpdate optimistically modifies an existing entity.
func (q *MutationQueue) EnqueueUpdate(resource, targetID string, payload any) (*OptimisticUpdate, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal update payload: %w", err)
	}

	rollback := Rollback{Existed: false}
	if prev, err := q.store.GetEntity(resource, targetID); err == nil && prev != nil {
		rollback = Rollback{Previous: prev.Data, Existed: true}
	}
	update := q.newUpdate(OpUpdate, resource, targetID, raw, nil, rollback)

	if err := q.store.PutEntities([]*StoredEntity{{
		Resource: resource,
		ID:       targetID,
		Data:     raw,
		Status:   "pending",
	}}); err != nil {
		return nil, err
	}
	return update, q.submit(update)
}

// EnqueueDelete optimistically removes an entity.
func (q *MutationQueue) EnqueueDelete(resource, targetID string) (*OptimisticUpdate, error) {
	rollback := Rollback{Existed: false}
	if prev, err := q.store.GetEntity(resource, targetID); err == nil && prev != nil {
		rollback = Rollback{Previous: prev.Data, Existed: true}
	}
	update := q.newUpdate(OpDelete, resource, targetID, nil, nil, rollback)

	if err := q.store.DeleteEntity(resource, targetID); err != nil {
		return nil, err
	}
	return update, q.submit(update)
}

// EnqueueBatch submits several sub-operations as one queued update. Each
// sub-op is applied to the local store immediately, like the single-op
// builders, and carries its own rollback snapshot. Sub-ops run sequentially
// within the update's batch slot.
func (q *MutationQueue) EnqueueBatch(resource string, subOps []SubOp) (*OptimisticUpdate, error) {
	if len(subOps) == 0 {
		return nil, fmt.Errorf("batch update requires at least one sub-operation")
	}
	for _, sub := range subOps {
		switch sub.Op {
		case OpAdd, OpUpdate, OpDelete:
		default:
			return nil, fmt.Errorf("unsupported sub-operation %q", sub.Op)
		}
	}

	ops := make([]SubOp, len(subOps))
	copy(ops, subOps)
	for i := range ops {
		sub := &ops[i]
		switch sub.Op {
		case OpAdd:
			sub.ClientID = NewClientID()
			sub.Rollback = Rollback{Existed: false}
			if err := q.store.PutEntities([]*StoredEntity{{
				Resource: resource,
				ID:       sub.ClientID,
				ClientID: sub.ClientID,
				Data:     withClientID(sub.Payload, sub.ClientID),
				Status:   "pending",
			}}); err != nil {
				return nil, err
			}
		case OpUpdate:
			sub.Rollback = Rollback{Existed: false}
			if prev, err := q.store.GetEntity(resource, sub.TargetID); err == nil && prev != nil {
				sub.Rollback = Rollback{Previous: prev.Data, Existed: true}
			}
			if err := q.store.PutEntities([]*StoredEntity{{
				Resource: resource,
				ID:       sub.TargetID,
				Data:     sub.Payload,
				Status:   "pending",
			}}); err != nil {
				return nil, err
			}
		case OpDelete:
			sub.Rollback = Rollback{Existed: false}
			if prev, err := q.store.GetEntity(resource, sub.TargetID); err == nil && prev != nil {
				sub.Rollback = Rollback{Previous: prev.Data, Existed: true}
			}
			if err := q.store.DeleteEntity(resource, sub.TargetID); err != nil {
				return nil, err
			}
		}
	}

	update := q.newUpdate(OpBatch, resource, "", nil, ops, Rollback{Existed: false})
	return update, q.submit(update)
}

func (q *MutationQueue) newUpdate(op Op, resource, targetID string, payload json.RawMessage, subOps []SubOp, rollback Rollback) *OptimisticUpdate {
	return &OptimisticUpdate{
		ID:         NewClientID(),
		Op:         op,
		Resource:   resource,
		TargetID:   targetID,
		Payload:    payload,
		SubOps:     subOps,
		CreatedAt:  time.Now().UTC(),
		MaxRetries: q.config.MaxRetries,
		Status:     UpdatePending,
		Rollback:   rollback,
	}
}

func (q *MutationQueue) submit(update *OptimisticUpdate) error {
	if err := q.store.Enqueue(update); err != nil {
		return fmt.Errorf("persist update: %w", err)
	}
	q.enqueue(update)
	return nil
}

func (q *MutationQueue) enqueue(update *OptimisticUpdate) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	update.Status = UpdatePending
	q.queue = append(q.queue, update)
	start := !q.processing
	if start {
		q.processing = true
	}
	q.mu.Unlock()

	if start {
		go q.processQueue()
	}
}

// Restore reloads persisted pending updates (e.g. after a restart) into the
// in-memory queue, in creation order.
func (q *MutationQueue) Restore() error {
	pending, err := q.store.PendingUpdates()
	if err != nil {
		return fmt.Errorf("load pending updates: %w", err)
	}
	for _, u := range pending {
		q.enqueue(u)
	}
	return nil
}

// ── Processing ───────────────────────────────────────────

// processQueue drains the queue in batches of up to BatchSize concurrent
// updates, waiting for each batch to settle before drawing the next. Batch
// membership is spliced from the head, so an in-flight update cannot appear
// in a later batch until it is explicitly re-enqueued.
func (q *MutationQueue) processQueue() {
	for {
		q.mu.Lock()
		if q.closed || len(q.queue) == 0 {
			q.processing = false
			q.mu.Unlock()
			return
		}
		n := q.config.BatchSize
		if n > len(q.queue) {
			n = len(q.queue)
		}
		batch := make([]*OptimisticUpdate, n)
		copy(batch, q.queue[:n])
		q.queue = q.queue[n:]
		q.mu.Unlock()

		var wg sync.WaitGroup
		for _, update := range batch {
			wg.Add(1)
			go func(u *OptimisticUpdate) {
				defer wg.Done()
				q.process(u)
			}(update)
		}
		wg.Wait()
	}
}

func (q *MutationQueue) process(update *OptimisticUpdate) {
	ctx, cancel := context.WithTimeout(context.Background(), q.config.OpTimeout)
	defer cancel()

	serverEntity, err := q.execute(ctx, update)
	if err == nil {
		q.confirm(update, serverEntity)
		return
	}

	update.RetryCount++
	update.LastError = err.Error()

	if update.RetryCount <= update.MaxRetries {
		update.Status = UpdateRetryPending
		if nackErr := q.store.Nack(update.ID, err.Error(), update.RetryCount); nackErr != nil {
			q.logger.Warn("nack failed", zap.String("update", update.ID), zap.Error(nackErr))
		}
		delay := q.config.RetryDelay * time.Duration(update.RetryCount)
		q.emitRetry(update, delay)
		time.AfterFunc(delay, func() {
			q.enqueue(update)
		})
		return
	}

	q.fail(update, err)
}

// execute performs the update's network call and returns the authoritative
// server entity.
func (q *MutationQueue) execute(ctx context.Context, update *OptimisticUpdate) (json.RawMessage, error) {
	switch update.Op {
	case OpAdd:
		body := withClientID(update.Payload, update.ID)
		return q.call(ctx, "POST", "/api/"+update.Resource, body)
	case OpUpdate:
		return q.call(ctx, "PUT", "/api/"+update.Resource+"/"+update.TargetID, update.Payload)
	case OpDelete:
		return q.call(ctx, "DELETE", "/api/"+update.Resource+"/"+update.TargetID, nil)
	case OpBatch:
		results := make([]json.RawMessage, 0, len(update.SubOps))
		for _, sub := range update.SubOps {
			var data json.RawMessage
			var err error
			switch sub.Op {
			case OpAdd:
				data, err = q.call(ctx, "POST", "/api/"+update.Resource, withClientID(sub.Payload, sub.ClientID))
			case OpUpdate:
				data, err = q.call(ctx, "PUT", "/api/"+update.Resource+"/"+sub.TargetID, sub.Payload)
			case OpDelete:
				data, err = q.call(ctx, "DELETE", "/api/"+update.Resource+"/"+sub.TargetID, nil)
			default:
				err = fmt.Errorf("unsupported sub-operation %q", sub.Op)
			}
			if err != nil {
				return nil, fmt.Errorf("sub-operation %s: %w", sub.Op, err)
			}
			results = append(results, data)
		}
		return json.Marshal(results)
	default:
		return nil, fmt.Errorf("unsupported operation %q", update.Op)
	}
}

func (q *MutationQueue) call(ctx context.Context, method, path string, body json.RawMessage) (json.RawMessage, error) {
	var payload any
	if body != nil {
		payload = body
	}
	result, err := q.client.do(ctx, method, path, payload, nil)
	if err != nil {
		return nil, err
	}
	if !result.OK {
		if result.Error != nil {
			return nil, result.Error
		}
		return nil, fmt.Errorf("request rejected")
	}
	return result.Data, nil
}

// ── Terminal transitions ─────────────────────────────────

// terminalHistoryLimit bounds the duplicate-delivery guard. Entries older
// than the newest terminalHistoryLimit transitions are forgotten.
const terminalHistoryLimit = 1024

// markTerminal records an update's terminal transition and reports whether
// this call was the first. Duplicate confirm or fail deliveries lose the
// race and are dropped by the caller.
func (q *MutationQueue) markTerminal(id string, status UpdateStatus) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, done := q.terminal[id]; done {
		return false
	}
	q.terminal[id] = status
	q.terminalLog = append(q.terminalLog, id)
	if len(q.terminalLog) > terminalHistoryLimit {
		delete(q.terminal, q.terminalLog[0])
		q.terminalLog = q.terminalLog[1:]
	}
	return true
}

// confirm marks an update confirmed exactly once. A duplicate confirm is
// ignored, and a confirmed update can never be rolled back afterwards.
func (q *MutationQueue) confirm(update *OptimisticUpdate, serverEntity json.RawMessage) {
	if !q.markTerminal(update.ID, UpdateConfirmed) {
		return
	}

	update.Status = UpdateConfirmed
	if err := q.store.Ack(update.ID); err != nil {
		q.logger.Warn("ack failed", zap.String("update", update.ID), zap.Error(err))
	}

	q.reconcileStore(update, serverEntity)
	q.emitConfirmed(update, serverEntity)
}

// fail marks an update terminally failed exactly once and reverses its
// optimistic application in the store. An update that was already confirmed
// is never rolled back.
func (q *MutationQueue) fail(update *OptimisticUpdate, err error) {
	if !q.markTerminal(update.ID, UpdateFailed) {
		return
	}

	update.Status = UpdateFailed
	if nackErr := q.store.Nack(update.ID, err.Error(), update.RetryCount); nackErr != nil {
		q.logger.Warn("nack failed", zap.String("update", update.ID), zap.Error(nackErr))
	}

	q.applyRollback(update)
	q.emitFailed(update, err)
}

// reconcileStore replaces the optimistic entity with the server's
// authoritative copy.
func (q *MutationQueue) reconcileStore(update *OptimisticUpdate, serverEntity json.RawMessage) {
	switch update.Op {
	case OpAdd:
		if delErr := q.store.DeleteEntity(update.Resource, update.ID); delErr != nil {
			q.logger.Warn("optimistic entity cleanup failed", zap.Error(delErr))
		}
		fallthrough
	case OpUpdate:
		var head struct {
			ID string `json:"id"`
		}
		if serverEntity == nil || json.Unmarshal(serverEntity, &head) != nil || head.ID == "" {
			return
		}
		if putErr := q.store.PutEntities([]*StoredEntity{{
			Resource: update.Resource,
			ID:       head.ID,
			ClientID: update.ID,
			Data:     serverEntity,
			Status:   "confirmed",
		}}); putErr != nil {
			q.logger.Warn("store reconcile failed", zap.Error(putErr))
		}
	case OpDelete:
		// Optimistic delete already removed the entity.
	case OpBatch:
		q.reconcileSubOps(update, serverEntity)
	}
}

// reconcileSubOps pairs the server's per-sub-op results with the batch's
// sub-ops by position and replaces each optimistic entity with the
// authoritative copy.
func (q *MutationQueue) reconcileSubOps(update *OptimisticUpdate, serverEntity json.RawMessage) {
	var results []json.RawMessage
	if serverEntity == nil || json.Unmarshal(serverEntity, &results) != nil {
		return
	}
	for i, sub := range update.SubOps {
		if sub.Op == OpDelete {
			continue
		}
		if sub.Op == OpAdd {
			if delErr := q.store.DeleteEntity(update.Resource, sub.ClientID); delErr != nil {
				q.logger.Warn("optimistic entity cleanup failed", zap.Error(delErr))
			}
		}
		if i >= len(results) {
			continue
		}
		var head struct {
			ID string `json:"id"`
		}
		if results[i] == nil || json.Unmarshal(results[i], &head) != nil || head.ID == "" {
			continue
		}
		if putErr := q.store.PutEntities([]*StoredEntity{{
			Resource: update.Resource,
			ID:       head.ID,
			ClientID: sub.ClientID,
			Data:     results[i],
			Status:   "confirmed",
		}}); putErr != nil {
			q.logger.Warn("store reconcile failed", zap.Error(putErr))
		}
	}
}

// applyRollback restores the store to its pre-update shape.
func (q *MutationQueue) applyRollback(update *OptimisticUpdate) {
	switch update.Op {
	case OpAdd:
		if err := q.store.DeleteEntity(update.Resource, update.ID); err != nil {
			q.logger.Warn("rollback delete failed", zap.Error(err))
		}
	case OpUpdate:
		// An update against an entity the store had never seen still wrote a
		// pending copy. Its pre-update shape is absence, so remove it.
		if !update.Rollback.Existed {
			if err := q.store.DeleteEntity(update.Resource, update.TargetID); err != nil {
				q.logger.Warn("rollback delete failed", zap.Error(err))
			}
			return
		}
		q.restoreEntity(update.Resource, update.TargetID, update.Rollback.Previous)
	case OpDelete:
		if update.Rollback.Existed {
			q.restoreEntity(update.Resource, update.TargetID, update.Rollback.Previous)
		}
	case OpBatch:
		q.rollbackSubOps(update)
	}
}

// rollbackSubOps reverses each sub-operation's optimistic application, newest
// first.
func (q *MutationQueue) rollbackSubOps(update *OptimisticUpdate) {
	for i := len(update.SubOps) - 1; i >= 0; i-- {
		sub := update.SubOps[i]
		switch sub.Op {
		case OpAdd:
			if err := q.store.DeleteEntity(update.Resource, sub.ClientID); err != nil {
				q.logger.Warn("rollback delete failed", zap.Error(err))
			}
		case OpUpdate:
			if !sub.Rollback.Existed {
				if err := q.store.DeleteEntity(update.Resource, sub.TargetID); err != nil {
					q.logger.Warn("rollback delete failed", zap.Error(err))
				}
				continue
			}
			q.restoreEntity(update.Resource, sub.TargetID, sub.Rollback.Previous)
		case OpDelete:
			if sub.Rollback.Existed {
				q.restoreEntity(update.Resource, sub.TargetID, sub.Rollback.Previous)
			}
		}
	}
}

func (q *MutationQueue) restoreEntity(resource, id string, previous json.RawMessage) {
	if err := q.store.PutEntities([]*StoredEntity{{
		Resource: resource,
		ID:       id,
		Data:     previous,
		Status:   "confirmed",
	}}); err != nil {
		q.logger.Warn("rollback restore failed", zap.Error(err))
	}
}

// ── Callback emission ────────────────────────────────────

func (q *MutationQueue) emitConfirmed(update *OptimisticUpdate, serverEntity json.RawMessage) {
	q.cbMu.RLock()
	handlers := append([]func(*OptimisticUpdate, json.RawMessage){}, q.onConfirmed...)
	q.cbMu.RUnlock()
	for _, h := range handlers {
		q.safely(func() { h(update, serverEntity) })
	}
}

func (q *MutationQueue) emitFailed(update *OptimisticUpdate, err error) {
	q.cbMu.RLock()
	handlers := append([]func(*OptimisticUpdate, error){}, q.onFailed...)
	q.cbMu.RUnlock()
	for _, h := range handlers {
		q.safely(func() { h(update, err) })
	}
}

func (q *MutationQueue) emitRetry(update *OptimisticUpdate, delay time.Duration) {
	q.cbMu.RLock()
	handlers := append([]func(*OptimisticUpdate, time.Duration){}, q.onRetry...)
	q.cbMu.RUnlock()
	for _, h := range handlers {
		q.safely(func() { h(update, delay) })
	}
}

func (q *MutationQueue) safely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Warn("queue callback panicked", zap.Any("panic", r))
		}
	}()
	fn()
}

// ============================================================================
// Helpers
// ============================================================================

// withClientID injects the correlation id into an object payload so the
// server can echo it back as client_id. Non-object payloads pass through
// unchanged.
func withClientID(payload json.RawMessage, clientID string) json.RawMessage {
	var obj map[string]any
	if payload == nil || json.Unmarshal(payload, &obj) != nil {
		return payload
	}
	obj["client_id"] = clientID
	out, err := json.Marshal(obj)
	if err != nil {
		return payload
	}
	return out
}
