package rosterly

// ============================================================================
// Reconciliation
// ============================================================================

// Reconcilable is any entity that can be merged between an optimistic local
// list and an authoritative server list.
//
// Correlation contract: when a create request carries a client_id, the server
// stores and echoes it on the created entity. An optimistic local entity (one
// whose id has the client-id prefix) correlates to the server entity whose
// client_id equals the local id.
type Reconcilable interface {
	EntityID() string
	CorrelationID() string
}

func (d Department) EntityID() string      { return d.ID }
func (d Department) CorrelationID() string { return d.ClientID }

func (r Role) EntityID() string      { return r.ID }
func (r Role) CorrelationID() string { return r.ClientID }

func (e Employee) EntityID() string      { return e.ID }
func (e Employee) CorrelationID() string { return e.ClientID }

func (s Shift) EntityID() string      { return s.ID }
func (s Shift) CorrelationID() string { return s.ClientID }

// MergeEntities merges a server list (source of truth) with a local list that
// may contain optimistic, unconfirmed entries.
//
// Every server entity is kept as-is. A local entity with an optimistic id is
// appended only if no server entity correlates to it; once the server echoes
// the client id, the server entity wins and the optimistic entry is dropped.
// Local entities with server ids are dropped in favor of the server copies,
// so merging an already-reconciled list against the equal server list returns
// the server list unchanged.
func MergeEntities[T Reconcilable](server, local []T) []T {
	merged := make([]T, 0, len(server)+len(local))
	merged = append(merged, server...)

	confirmed := make(map[string]struct{}, len(server))
	for _, e := range server {
		if cid := e.CorrelationID(); cid != "" {
			confirmed[cid] = struct{}{}
		}
		confirmed[e.EntityID()] = struct{}{}
	}

	for _, e := range local {
		id := e.EntityID()
		if !IsClientID(id) {
			continue
		}
		if _, ok := confirmed[id]; ok {
			continue
		}
		merged = append(merged, e)
	}
	return merged
}

// MergeStored is MergeEntities over raw store records.
func MergeStored(server, local []*StoredEntity) []*StoredEntity {
	merged := make([]*StoredEntity, 0, len(server)+len(local))
	merged = append(merged, server...)

	confirmed := make(map[string]struct{}, len(server))
	for _, e := range server {
		if e.ClientID != "" {
			confirmed[e.ClientID] = struct{}{}
		}
		confirmed[e.ID] = struct{}{}
	}

	for _, e := range local {
		if !IsClientID(e.ID) {
			continue
		}
		if _, ok := confirmed[e.ID]; ok {
			continue
		}
		merged = append(merged, e)
	}
	return merged
}
