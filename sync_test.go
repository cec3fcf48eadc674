package rosterly

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

// syncTestServer serves /api/sync from a scripted event log.
func syncTestServer(t *testing.T, events []SyncEvent, pageSize int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/sync" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		since, _ := strconv.Atoi(r.URL.Query().Get("since"))

		var page SyncPage
		for _, ev := range events {
			if ev.Seq <= since {
				continue
			}
			page.Events = append(page.Events, ev)
			page.Cursor = ev.Seq
			if len(page.Events) == pageSize {
				break
			}
		}
		if page.Cursor == 0 {
			page.Cursor = since
		}
		page.HasMore = len(events) > 0 && page.Cursor < events[len(events)-1].Seq

		data, _ := json.Marshal(page)
		json.NewEncoder(w).Encode(Result{OK: true, Data: data})
	}))
}

func TestSync_AppliesEventsAndAdvancesCursor(t *testing.T) {
	events := []SyncEvent{
		{Seq: 1, Type: "shift_created", Resource: "shifts", Data: json.RawMessage(`{"id":"s-1","notes":"a"}`), At: "2026-09-01T08:00:00Z"},
		{Seq: 2, Type: "shift_updated", Resource: "shifts", Data: json.RawMessage(`{"id":"s-1","notes":"b"}`), At: "2026-09-01T08:05:00Z"},
		{Seq: 3, Type: "shift_created", Resource: "shifts", Data: json.RawMessage(`{"id":"s-2","client_id":"local-x"}`), At: "2026-09-01T08:10:00Z"},
		{Seq: 4, Type: "shift_deleted", Resource: "shifts", Data: json.RawMessage(`{"id":"s-1"}`), At: "2026-09-01T08:15:00Z"},
	}
	ts := syncTestServer(t, events, 100)
	defer ts.Close()

	store := NewMemoryStore()
	client := NewClient("test-token", WithBaseURL(ts.URL))
	mgr := NewSyncManager(client, store)

	applied, err := mgr.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if applied != 4 {
		t.Errorf("applied = %d, want 4", applied)
	}

	if ent, _ := store.GetEntity("shifts", "s-1"); ent != nil {
		t.Error("deleted shift still in store")
	}
	ent, _ := store.GetEntity("shifts", "s-2")
	if ent == nil {
		t.Fatal("created shift missing")
	}
	if ent.ClientID != "local-x" {
		t.Errorf("client id not carried: %+v", ent)
	}
	if ent.SyncSeq != 3 {
		t.Errorf("sync seq = %d", ent.SyncSeq)
	}

	if cursor, _ := store.GetCursor("global_sync"); cursor != 4 {
		t.Errorf("cursor = %d, want 4", cursor)
	}
}

func TestSync_PagesUntilExhausted(t *testing.T) {
	var events []SyncEvent
	for i := 1; i <= 5; i++ {
		events = append(events, SyncEvent{
			Seq: i, Type: "shift_created", Resource: "shifts",
			Data: json.RawMessage(`{"id":"s-` + strconv.Itoa(i) + `"}`),
		})
	}
	ts := syncTestServer(t, events, 2)
	defer ts.Close()

	store := NewMemoryStore()
	client := NewClient("test-token", WithBaseURL(ts.URL))
	mgr := NewSyncManager(client, store)

	applied, err := mgr.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if applied != 5 {
		t.Errorf("applied = %d, want 5", applied)
	}
	shifts, _ := store.ListEntities("shifts")
	if len(shifts) != 5 {
		t.Errorf("stored shifts = %d", len(shifts))
	}
}

func TestSync_ResumesFromStoredCursor(t *testing.T) {
	events := []SyncEvent{
		{Seq: 1, Type: "shift_created", Resource: "shifts", Data: json.RawMessage(`{"id":"s-1"}`)},
		{Seq: 2, Type: "shift_created", Resource: "shifts", Data: json.RawMessage(`{"id":"s-2"}`)},
	}
	ts := syncTestServer(t, events, 100)
	defer ts.Close()

	store := NewMemoryStore()
	store.SetCursor("global_sync", 1)
	client := NewClient("test-token", WithBaseURL(ts.URL))
	mgr := NewSyncManager(client, store)

	applied, err := mgr.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if applied != 1 {
		t.Errorf("applied = %d, want 1 (only the event after the cursor)", applied)
	}
	if ent, _ := store.GetEntity("shifts", "s-1"); ent != nil {
		t.Error("event before cursor was applied")
	}
}

func TestSync_SkipsUnknownEventTypes(t *testing.T) {
	events := []SyncEvent{
		{Seq: 1, Type: "audit_logged", Resource: "audit", Data: json.RawMessage(`{"id":"a-1"}`)},
		{Seq: 2, Type: "shift_created", Resource: "shifts", Data: json.RawMessage(`{"id":"s-1"}`)},
	}
	ts := syncTestServer(t, events, 100)
	defer ts.Close()

	store := NewMemoryStore()
	client := NewClient("test-token", WithBaseURL(ts.URL))
	mgr := NewSyncManager(client, store)

	applied, err := mgr.Sync(context.Background())
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	// The unknown event is counted as applied (skipped, not failed).
	if applied != 2 {
		t.Errorf("applied = %d", applied)
	}
	if ent, _ := store.GetEntity("shifts", "s-1"); ent == nil {
		t.Error("event after unknown type was not applied")
	}
}

func TestSync_RealtimeAttachKeepsCacheFresh(t *testing.T) {
	s := newWSTestServer(t)
	rt := newTestRealtime(t, s, nil)

	store := NewMemoryStore()
	client := NewClient("test-token", WithBaseURL("http://unused.invalid"))
	mgr := NewSyncManager(client, store)
	mgr.Attach(rt)

	dialAndWait(t, rt)

	s.push(t, EventShiftCreated, map[string]string{"id": "s-1", "client_id": "local-x"})
	waitFor(t, 2*time.Second, func() bool {
		ent, _ := store.GetEntity("shifts", "s-1")
		return ent != nil
	})

	s.push(t, EventShiftUpdated, map[string]string{"id": "s-1", "notes": "edited"})
	waitFor(t, 2*time.Second, func() bool {
		ent, _ := store.GetEntity("shifts", "s-1")
		if ent == nil {
			return false
		}
		var shift Shift
		return json.Unmarshal(ent.Data, &shift) == nil && shift.Notes == "edited"
	})

	s.push(t, EventShiftDeleted, map[string]string{"id": "s-1"})
	waitFor(t, 2*time.Second, func() bool {
		ent, _ := store.GetEntity("shifts", "s-1")
		return ent == nil
	})
}
