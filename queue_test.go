package rosterly

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ============================================================================
// Test Helpers
// ============================================================================

// queueTestServer counts requests per path and lets tests script failures.
type queueTestServer struct {
	mu       sync.Mutex
	requests []string
	// failuresByPath maps "METHOD path" to the number of 500s to serve
	// before succeeding.
	failuresByPath map[string]int
	// respond builds the success body; nil means echo an entity with a
	// server id.
	respond func(r *http.Request, body []byte) any
}

func newQueueTestServer() *queueTestServer {
	return &queueTestServer{failuresByPath: make(map[string]int)}
}

func (s *queueTestServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path

		s.mu.Lock()
		s.requests = append(s.requests, key)
		remaining := s.failuresByPath[key]
		if remaining > 0 {
			s.failuresByPath[key] = remaining - 1
		}
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if remaining > 0 {
			json.NewEncoder(w).Encode(Result{
				OK:    false,
				Error: &APIError{Code: "internal", Message: "scripted failure"},
			})
			return
		}

		body, _ := io.ReadAll(r.Body)

		var data any
		if s.respond != nil {
			data = s.respond(r, body)
		} else {
			entity := map[string]any{"id": "srv-1"}
			var in map[string]any
			if json.Unmarshal(body, &in) == nil {
				for k, v := range in {
					entity[k] = v
				}
				entity["id"] = "srv-1"
			}
			data = entity
		}
		raw, _ := json.Marshal(data)
		json.NewEncoder(w).Encode(Result{OK: true, Data: raw})
	})
}

func (s *queueTestServer) count(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.requests {
		if r == key {
			n++
		}
	}
	return n
}

func newTestQueue(t *testing.T, srv *httptest.Server, config *QueueConfig) (*MutationQueue, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	client := NewClient("test-token", WithBaseURL(srv.URL))
	q := NewMutationQueue(client, store, config)
	t.Cleanup(q.Close)
	return q, store
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// ============================================================================
// Client ID
// ============================================================================

func TestClientID(t *testing.T) {
	id := NewClientID()
	if !IsClientID(id) {
		t.Errorf("NewClientID produced %q, which IsClientID rejects", id)
	}
	if IsClientID("srv-42") {
		t.Error("server id misclassified as client id")
	}
	if NewClientID() == NewClientID() {
		t.Error("expected unique client ids")
	}
}

// ============================================================================
// Enqueue + Confirm
// ============================================================================

func TestQueue_AddConfirmsAndReconcilesStore(t *testing.T) {
	srv := newQueueTestServer()
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	q, store := newTestQueue(t, ts, nil)

	var confirmed atomic.Int32
	var serverData json.RawMessage
	var mu sync.Mutex
	q.OnConfirmed(func(u *OptimisticUpdate, entity json.RawMessage) {
		confirmed.Add(1)
		mu.Lock()
		serverData = entity
		mu.Unlock()
	})

	update, err := q.EnqueueAdd("shifts", map[string]string{"employee_id": "e-1"})
	if err != nil {
		t.Fatalf("EnqueueAdd: %v", err)
	}
	if !IsClientID(update.ID) {
		t.Errorf("update id %q is not a client id", update.ID)
	}

	// Optimistic entity appears immediately under the client id.
	if ent, err := store.GetEntity("shifts", update.ID); err != nil || ent == nil {
		t.Fatalf("optimistic entity missing: %v", err)
	} else if ent.Status != "pending" {
		t.Errorf("optimistic status = %q, want pending", ent.Status)
	}

	waitFor(t, 2*time.Second, func() bool { return confirmed.Load() == 1 })

	mu.Lock()
	defer mu.Unlock()
	var entity map[string]any
	if err := json.Unmarshal(serverData, &entity); err != nil {
		t.Fatalf("server entity: %v", err)
	}
	if entity["id"] != "srv-1" {
		t.Errorf("server entity id = %v", entity["id"])
	}
	if entity["client_id"] != update.ID {
		t.Errorf("server did not receive client_id echo, got %v", entity["client_id"])
	}

	// Store swapped the optimistic entity for the authoritative one.
	if ent, _ := store.GetEntity("shifts", update.ID); ent != nil {
		t.Error("optimistic entity not removed after confirm")
	}
	ent, err := store.GetEntity("shifts", "srv-1")
	if err != nil || ent == nil {
		t.Fatal("confirmed entity missing from store")
	}
	if ent.Status != "confirmed" {
		t.Errorf("confirmed entity status = %q", ent.Status)
	}
	if ent.ClientID != update.ID {
		t.Errorf("confirmed entity client id = %q, want %q", ent.ClientID, update.ID)
	}
}

func TestQueue_UpdateSnapshotsRollback(t *testing.T) {
	srv := newQueueTestServer()
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	q, store := newTestQueue(t, ts, nil)

	prev := json.RawMessage(`{"id":"srv-7","notes":"original"}`)
	store.PutEntities([]*StoredEntity{{
		Resource: "shifts", ID: "srv-7", Data: prev, Status: "confirmed",
	}})

	update, err := q.EnqueueUpdate("shifts", "srv-7", map[string]string{"notes": "edited"})
	if err != nil {
		t.Fatalf("EnqueueUpdate: %v", err)
	}
	if !update.Rollback.Existed {
		t.Error("rollback should record that the entity existed")
	}
	if string(update.Rollback.Previous) != string(prev) {
		t.Errorf("rollback snapshot = %s", update.Rollback.Previous)
	}
}

// ============================================================================
// Retry + Failure
// ============================================================================

func TestQueue_RetryCountIsBounded(t *testing.T) {
	srv := newQueueTestServer()
	srv.failuresByPath["POST /api/shifts"] = 100 // always fail
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	q, _ := newTestQueue(t, ts, &QueueConfig{
		MaxRetries: 2,
		RetryDelay: 10 * time.Millisecond,
	})

	var failed atomic.Int32
	var retries atomic.Int32
	q.OnFailed(func(u *OptimisticUpdate, err error) { failed.Add(1) })
	q.OnRetry(func(u *OptimisticUpdate, delay time.Duration) { retries.Add(1) })

	if _, err := q.EnqueueAdd("shifts", map[string]string{"employee_id": "e-1"}); err != nil {
		t.Fatalf("EnqueueAdd: %v", err)
	}

	waitFor(t, 3*time.Second, func() bool { return failed.Load() == 1 })

	// One initial attempt plus MaxRetries retries.
	if got := srv.count("POST /api/shifts"); got != 3 {
		t.Errorf("total attempts = %d, want 3", got)
	}
	if retries.Load() != 2 {
		t.Errorf("retry notifications = %d, want 2", retries.Load())
	}

	// Failure is terminal: give the queue a moment and confirm no extra
	// attempts or callbacks arrive.
	time.Sleep(100 * time.Millisecond)
	if failed.Load() != 1 {
		t.Errorf("failure callback fired %d times", failed.Load())
	}
}

func TestQueue_RetryDelayIsLinear(t *testing.T) {
	srv := newQueueTestServer()
	srv.failuresByPath["POST /api/shifts"] = 100
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	q, _ := newTestQueue(t, ts, &QueueConfig{
		MaxRetries: 3,
		RetryDelay: 10 * time.Millisecond,
	})

	var mu sync.Mutex
	var delays []time.Duration
	done := make(chan struct{})
	q.OnRetry(func(u *OptimisticUpdate, delay time.Duration) {
		mu.Lock()
		delays = append(delays, delay)
		mu.Unlock()
	})
	q.OnFailed(func(u *OptimisticUpdate, err error) { close(done) })

	if _, err := q.EnqueueAdd("shifts", map[string]string{}); err != nil {
		t.Fatalf("EnqueueAdd: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("update never failed")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 30 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("retry delays = %v", delays)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestQueue_FailedAddRollsBackOptimisticEntity(t *testing.T) {
	srv := newQueueTestServer()
	srv.failuresByPath["POST /api/shifts"] = 100
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	q, store := newTestQueue(t, ts, &QueueConfig{
		MaxRetries: 1,
		RetryDelay: 5 * time.Millisecond,
	})

	done := make(chan struct{})
	q.OnFailed(func(u *OptimisticUpdate, err error) { close(done) })

	update, err := q.EnqueueAdd("shifts", map[string]string{"employee_id": "e-1"})
	if err != nil {
		t.Fatalf("EnqueueAdd: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("update never failed")
	}

	if ent, _ := store.GetEntity("shifts", update.ID); ent != nil {
		t.Error("optimistic entity survived rollback of a failed add")
	}
}

func TestQueue_FailedUpdateRestoresPreviousValue(t *testing.T) {
	srv := newQueueTestServer()
	srv.failuresByPath["PUT /api/shifts/srv-3"] = 100
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	q, store := newTestQueue(t, ts, &QueueConfig{
		MaxRetries: 1,
		RetryDelay: 5 * time.Millisecond,
	})

	prev := json.RawMessage(`{"id":"srv-3","notes":"before"}`)
	store.PutEntities([]*StoredEntity{{
		Resource: "shifts", ID: "srv-3", Data: prev, Status: "confirmed",
	}})

	done := make(chan struct{})
	q.OnFailed(func(u *OptimisticUpdate, err error) { close(done) })

	if _, err := q.EnqueueUpdate("shifts", "srv-3", map[string]string{"notes": "after"}); err != nil {
		t.Fatalf("EnqueueUpdate: %v", err)
	}

	// Optimistic value is visible while pending.
	if ent, _ := store.GetEntity("shifts", "srv-3"); ent == nil || ent.Status != "pending" {
		t.Fatal("optimistic update not applied")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("update never failed")
	}

	ent, _ := store.GetEntity("shifts", "srv-3")
	if ent == nil {
		t.Fatal("entity vanished after rollback")
	}
	if string(ent.Data) != string(prev) {
		t.Errorf("entity after rollback = %s, want %s", ent.Data, prev)
	}
}

func TestQueue_FailedUpdateOnUnknownEntityRemovesOptimisticCopy(t *testing.T) {
	srv := newQueueTestServer()
	srv.failuresByPath["PUT /api/shifts/srv-9"] = 100
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	q, store := newTestQueue(t, ts, &QueueConfig{
		MaxRetries: 1,
		RetryDelay: 5 * time.Millisecond,
	})

	done := make(chan struct{})
	q.OnFailed(func(u *OptimisticUpdate, err error) { close(done) })

	// The store has never seen srv-9; its pre-update shape is absence.
	update, err := q.EnqueueUpdate("shifts", "srv-9", map[string]string{"notes": "edited"})
	if err != nil {
		t.Fatalf("EnqueueUpdate: %v", err)
	}
	if update.Rollback.Existed {
		t.Error("rollback should record that the entity did not exist")
	}

	if ent, _ := store.GetEntity("shifts", "srv-9"); ent == nil || ent.Status != "pending" {
		t.Fatal("optimistic update not applied")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("update never failed")
	}

	if ent, _ := store.GetEntity("shifts", "srv-9"); ent != nil {
		t.Errorf("rollback left optimistic entity behind: %s", ent.Data)
	}
}

func TestQueue_FailedDeleteRestoresEntity(t *testing.T) {
	srv := newQueueTestServer()
	srv.failuresByPath["DELETE /api/shifts/srv-5"] = 100
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	q, store := newTestQueue(t, ts, &QueueConfig{
		MaxRetries: 1,
		RetryDelay: 5 * time.Millisecond,
	})

	prev := json.RawMessage(`{"id":"srv-5"}`)
	store.PutEntities([]*StoredEntity{{
		Resource: "shifts", ID: "srv-5", Data: prev, Status: "confirmed",
	}})

	done := make(chan struct{})
	q.OnFailed(func(u *OptimisticUpdate, err error) { close(done) })

	if _, err := q.EnqueueDelete("shifts", "srv-5"); err != nil {
		t.Fatalf("EnqueueDelete: %v", err)
	}

	// Optimistic delete removes the entity immediately.
	if ent, _ := store.GetEntity("shifts", "srv-5"); ent != nil {
		t.Fatal("optimistic delete did not remove the entity")
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("delete never failed")
	}

	if ent, _ := store.GetEntity("shifts", "srv-5"); ent == nil {
		t.Error("entity not restored after failed delete")
	}
}

// ============================================================================
// Terminal Transitions
// ============================================================================

func TestQueue_ConfirmedUpdateIsNeverRolledBack(t *testing.T) {
	ts := httptest.NewServer(newQueueTestServer().handler())
	defer ts.Close()

	q, store := newTestQueue(t, ts, nil)

	var confirmed atomic.Int32
	var failed atomic.Int32
	q.OnConfirmed(func(u *OptimisticUpdate, entity json.RawMessage) { confirmed.Add(1) })
	q.OnFailed(func(u *OptimisticUpdate, err error) { failed.Add(1) })

	prev := json.RawMessage(`{"id":"srv-8","notes":"original"}`)
	update := q.newUpdate(OpUpdate, "shifts", "srv-8",
		json.RawMessage(`{"notes":"edited"}`), nil,
		Rollback{Previous: prev, Existed: true})

	serverEntity := json.RawMessage(`{"id":"srv-8","notes":"server"}`)
	q.confirm(update, serverEntity)
	q.confirm(update, serverEntity)

	if confirmed.Load() != 1 {
		t.Errorf("confirm callback fired %d times, want 1", confirmed.Load())
	}
	ent, _ := store.GetEntity("shifts", "srv-8")
	if ent == nil || string(ent.Data) != string(serverEntity) {
		t.Fatal("server entity not installed on confirm")
	}

	// A late failure for the same update must not touch store or callbacks.
	q.fail(update, fmt.Errorf("stale failure"))

	if failed.Load() != 0 {
		t.Errorf("failure callback fired %d times after confirm", failed.Load())
	}
	ent, _ = store.GetEntity("shifts", "srv-8")
	if ent == nil || string(ent.Data) != string(serverEntity) {
		t.Errorf("entity after late failure = %s, want server copy", ent.Data)
	}
	if update.Status != UpdateConfirmed {
		t.Errorf("update status = %q, want %q", update.Status, UpdateConfirmed)
	}
}

func TestQueue_TerminalHistoryIsBounded(t *testing.T) {
	ts := httptest.NewServer(newQueueTestServer().handler())
	defer ts.Close()

	q, _ := newTestQueue(t, ts, nil)

	for i := 0; i < terminalHistoryLimit+10; i++ {
		if !q.markTerminal(fmt.Sprintf("u-%d", i), UpdateConfirmed) {
			t.Fatalf("first transition for u-%d rejected", i)
		}
	}

	q.mu.Lock()
	size := len(q.terminal)
	q.mu.Unlock()
	if size != terminalHistoryLimit {
		t.Errorf("terminal guard size = %d, want %d", size, terminalHistoryLimit)
	}

	// Recent entries still reject duplicate transitions.
	if q.markTerminal(fmt.Sprintf("u-%d", terminalHistoryLimit+9), UpdateFailed) {
		t.Error("duplicate transition accepted for a recent update")
	}
}

// ============================================================================
// Batching
// ============================================================================

func TestQueue_ProcessesInBoundedConcurrentBatches(t *testing.T) {
	var inFlight atomic.Int32
	var peak atomic.Int32

	srv := newQueueTestServer()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		srv.handler().ServeHTTP(w, r)
	})
	ts := httptest.NewServer(handler)
	defer ts.Close()

	q, _ := newTestQueue(t, ts, &QueueConfig{BatchSize: 3})

	var confirmed atomic.Int32
	q.OnConfirmed(func(u *OptimisticUpdate, entity json.RawMessage) { confirmed.Add(1) })

	for i := 0; i < 8; i++ {
		if _, err := q.EnqueueAdd("shifts", map[string]string{"n": fmt.Sprint(i)}); err != nil {
			t.Fatalf("EnqueueAdd %d: %v", i, err)
		}
	}

	waitFor(t, 5*time.Second, func() bool { return confirmed.Load() == 8 })

	if p := peak.Load(); p > 3 {
		t.Errorf("peak concurrency = %d, want <= 3", p)
	}
}

func TestQueue_BatchUpdateRunsSubOpsSequentially(t *testing.T) {
	srv := newQueueTestServer()
	srv.respond = func(r *http.Request, body []byte) any {
		return map[string]any{"id": "srv-" + r.Method}
	}
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	q, store := newTestQueue(t, ts, nil)

	var confirmed atomic.Int32
	var mu sync.Mutex
	var results json.RawMessage
	q.OnConfirmed(func(u *OptimisticUpdate, entity json.RawMessage) {
		confirmed.Add(1)
		mu.Lock()
		results = entity
		mu.Unlock()
	})

	update, err := q.EnqueueBatch("shifts", []SubOp{
		{Op: OpAdd, Payload: json.RawMessage(`{"employee_id":"e-1"}`)},
		{Op: OpUpdate, TargetID: "srv-2", Payload: json.RawMessage(`{"notes":"x"}`)},
		{Op: OpDelete, TargetID: "srv-3"},
	})
	if err != nil {
		t.Fatalf("EnqueueBatch: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return confirmed.Load() == 1 })

	mu.Lock()
	defer mu.Unlock()
	var list []json.RawMessage
	if err := json.Unmarshal(results, &list); err != nil {
		t.Fatalf("batch result: %v", err)
	}
	if len(list) != 3 {
		t.Errorf("batch result count = %d, want 3", len(list))
	}

	srv.mu.Lock()
	got := append([]string{}, srv.requests...)
	srv.mu.Unlock()
	if len(got) != 3 ||
		got[0] != "POST /api/shifts" ||
		got[1] != "PUT /api/shifts/srv-2" ||
		got[2] != "DELETE /api/shifts/srv-3" {
		t.Errorf("sub-op request order = %v", got)
	}

	// The sub-add's optimistic entity was swapped for the server's copy.
	if ent, _ := store.GetEntity("shifts", update.SubOps[0].ClientID); ent != nil {
		t.Error("optimistic sub-add entity survived confirm")
	}
	if ent, _ := store.GetEntity("shifts", "srv-POST"); ent == nil || ent.Status != "confirmed" {
		t.Error("confirmed sub-add entity missing from store")
	}
	if ent, _ := store.GetEntity("shifts", "srv-PUT"); ent == nil || ent.Status != "confirmed" {
		t.Error("confirmed sub-update entity missing from store")
	}
}

func TestQueue_BatchAppliesOptimisticallyAndRollsBackOnFailure(t *testing.T) {
	srv := newQueueTestServer()
	srv.failuresByPath["POST /api/shifts"] = 100
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	q, store := newTestQueue(t, ts, &QueueConfig{
		MaxRetries: 1,
		RetryDelay: 5 * time.Millisecond,
	})

	prevUpdate := json.RawMessage(`{"id":"srv-2","notes":"before"}`)
	prevDelete := json.RawMessage(`{"id":"srv-3"}`)
	store.PutEntities([]*StoredEntity{
		{Resource: "shifts", ID: "srv-2", Data: prevUpdate, Status: "confirmed"},
		{Resource: "shifts", ID: "srv-3", Data: prevDelete, Status: "confirmed"},
	})

	done := make(chan struct{})
	q.OnFailed(func(u *OptimisticUpdate, err error) { close(done) })

	update, err := q.EnqueueBatch("shifts", []SubOp{
		{Op: OpAdd, Payload: json.RawMessage(`{"employee_id":"e-1"}`)},
		{Op: OpUpdate, TargetID: "srv-2", Payload: json.RawMessage(`{"notes":"after"}`)},
		{Op: OpDelete, TargetID: "srv-3"},
	})
	if err != nil {
		t.Fatalf("EnqueueBatch: %v", err)
	}

	// Every sub-op is visible locally before the server answers.
	addID := update.SubOps[0].ClientID
	if !IsClientID(addID) {
		t.Fatalf("sub-add client id = %q", addID)
	}
	if ent, _ := store.GetEntity("shifts", addID); ent == nil || ent.Status != "pending" {
		t.Fatal("sub-add not applied optimistically")
	}
	if ent, _ := store.GetEntity("shifts", "srv-2"); ent == nil || ent.Status != "pending" {
		t.Fatal("sub-update not applied optimistically")
	}
	if ent, _ := store.GetEntity("shifts", "srv-3"); ent != nil {
		t.Fatal("sub-delete not applied optimistically")
	}
	if sub := update.SubOps[1]; !sub.Rollback.Existed || string(sub.Rollback.Previous) != string(prevUpdate) {
		t.Errorf("sub-update rollback snapshot = %+v", sub.Rollback)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("batch never failed")
	}

	// Rollback reverses all three sub-ops.
	if ent, _ := store.GetEntity("shifts", addID); ent != nil {
		t.Error("sub-add entity survived rollback")
	}
	ent, _ := store.GetEntity("shifts", "srv-2")
	if ent == nil || string(ent.Data) != string(prevUpdate) {
		t.Error("sub-update not restored to previous value")
	}
	if ent, _ := store.GetEntity("shifts", "srv-3"); ent == nil {
		t.Error("sub-delete not restored")
	}
}

func TestQueue_EmptyBatchRejected(t *testing.T) {
	ts := httptest.NewServer(newQueueTestServer().handler())
	defer ts.Close()
	q, _ := newTestQueue(t, ts, nil)

	if _, err := q.EnqueueBatch("shifts", nil); err == nil {
		t.Error("expected error for empty batch")
	}
}

// ============================================================================
// Persistence
// ============================================================================

func TestQueue_PersistsAndRestoresPendingUpdates(t *testing.T) {
	srv := newQueueTestServer()
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	store := NewMemoryStore()
	client := NewClient("test-token", WithBaseURL(ts.URL))

	// First queue never gets to process: close immediately after persist.
	q1 := NewMutationQueue(client, store, nil)
	q1.Close()
	update := q1.newUpdate(OpAdd, "shifts", "", json.RawMessage(`{"employee_id":"e-1"}`), nil, Rollback{})
	if err := store.Enqueue(update); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	// A fresh queue picks the persisted update back up and completes it.
	q2 := NewMutationQueue(client, store, nil)
	defer q2.Close()

	var confirmed atomic.Int32
	q2.OnConfirmed(func(u *OptimisticUpdate, entity json.RawMessage) { confirmed.Add(1) })

	if err := q2.Restore(); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	waitFor(t, 2*time.Second, func() bool { return confirmed.Load() == 1 })

	n, err := store.PendingCount()
	if err != nil {
		t.Fatalf("PendingCount: %v", err)
	}
	if n != 0 {
		t.Errorf("pending count after restore+confirm = %d", n)
	}
}

func TestQueue_CallbackPanicDoesNotKillProcessing(t *testing.T) {
	srv := newQueueTestServer()
	ts := httptest.NewServer(srv.handler())
	defer ts.Close()

	q, _ := newTestQueue(t, ts, nil)

	var confirmed atomic.Int32
	q.OnConfirmed(func(u *OptimisticUpdate, entity json.RawMessage) {
		confirmed.Add(1)
		panic("callback exploded")
	})

	for i := 0; i < 2; i++ {
		if _, err := q.EnqueueAdd("shifts", map[string]string{}); err != nil {
			t.Fatalf("EnqueueAdd: %v", err)
		}
	}

	waitFor(t, 2*time.Second, func() bool { return confirmed.Load() == 2 })
}
