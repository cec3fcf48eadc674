package rosterly

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// ============================================================================
// Delta Sync
// ============================================================================

// syncCursorKey is the store cursor under which sync progress is kept.
const syncCursorKey = "global_sync"

// SyncManager pulls change events from the server and applies them to the
// local store, so reads stay warm across offline windows.
type SyncManager struct {
	client *Client
	store  Store
	logger *zap.Logger

	mu      sync.Mutex
	syncing bool
}

// NewSyncManager creates a sync manager over the given client and store.
func NewSyncManager(client *Client, store Store) *SyncManager {
	return &SyncManager{
		client: client,
		store:  store,
		logger: client.logger,
	}
}

// Sync pulls all pages of change events after the stored cursor and applies
// them. Concurrent calls coalesce: while one sync runs, others return
// immediately.
func (s *SyncManager) Sync(ctx context.Context) (int, error) {
	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return 0, nil
	}
	s.syncing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	cursor, err := s.store.GetCursor(syncCursorKey)
	if err != nil {
		return 0, fmt.Errorf("load sync cursor: %w", err)
	}

	applied := 0
	hasMore := true
	for hasMore {
		result, err := s.client.SyncSince(ctx, cursor, 100)
		if err != nil {
			return applied, fmt.Errorf("sync request: %w", err)
		}
		if !result.OK {
			if result.Error != nil {
				return applied, result.Error
			}
			return applied, fmt.Errorf("sync rejected")
		}

		var page SyncPage
		if err := result.Decode(&page); err != nil {
			return applied, fmt.Errorf("decode sync page: %w", err)
		}

		for i := range page.Events {
			if err := s.apply(&page.Events[i]); err != nil {
				s.logger.Warn("sync event apply failed",
					zap.Int("seq", page.Events[i].Seq), zap.Error(err))
				continue
			}
			applied++
		}

		cursor = page.Cursor
		if err := s.store.SetCursor(syncCursorKey, cursor); err != nil {
			return applied, fmt.Errorf("save sync cursor: %w", err)
		}
		hasMore = page.HasMore
	}

	return applied, nil
}

func (s *SyncManager) apply(ev *SyncEvent) error {
	switch {
	case strings.HasSuffix(ev.Type, "_deleted"):
		var head struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(ev.Data, &head) != nil || head.ID == "" {
			return fmt.Errorf("delete event without id")
		}
		return s.store.DeleteEntity(ev.Resource, head.ID)

	case strings.HasSuffix(ev.Type, "_created"), strings.HasSuffix(ev.Type, "_updated"):
		return s.putEvent(ev.Resource, ev.Data, ev.Seq, ev.At)

	default:
		// Unknown event types are skipped, not fatal.
		s.logger.Debug("skipping unknown sync event", zap.String("type", ev.Type))
		return nil
	}
}

func (s *SyncManager) putEvent(resource string, data json.RawMessage, seq int, at string) error {
	var head struct {
		ID       string `json:"id"`
		ClientID string `json:"client_id"`
	}
	if json.Unmarshal(data, &head) != nil || head.ID == "" {
		return fmt.Errorf("event without id")
	}
	return s.store.PutEntities([]*StoredEntity{{
		Resource:  resource,
		ID:        head.ID,
		ClientID:  head.ClientID,
		Data:      data,
		Status:    "confirmed",
		UpdatedAt: at,
		SyncSeq:   seq,
	}})
}

// ── Realtime wiring ──────────────────────────────────────

var realtimeResourceEvents = map[string]string{
	EventShiftCreated: "shifts",
	EventShiftUpdated: "shifts",
	EventShiftDeleted: "shifts",
}

// Attach stores server-pushed shift events so the cache stays fresh while
// connected.
func (s *SyncManager) Attach(rt *RealtimeClient) {
	rt.On(EventShiftCreated, s.handleRealtime)
	rt.On(EventShiftUpdated, s.handleRealtime)
	rt.On(EventShiftDeleted, s.handleRealtime)
}

func (s *SyncManager) handleRealtime(eventType string, data json.RawMessage) {
	resource, ok := realtimeResourceEvents[eventType]
	if !ok {
		return
	}
	if strings.HasSuffix(eventType, "_deleted") {
		var head struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(data, &head) == nil && head.ID != "" {
			if err := s.store.DeleteEntity(resource, head.ID); err != nil {
				s.logger.Warn("realtime delete apply failed", zap.Error(err))
			}
		}
		return
	}
	if err := s.putEvent(resource, data, 0, ""); err != nil {
		s.logger.Warn("realtime event apply failed", zap.Error(err))
	}
}
