package collab

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/casewire/collab-server-go/internal/model"
)

// colorPalette is the fixed set of presence colors. A color is assigned at
// join time by hashing the identity, so two tabs of the same user share one
// color.
var colorPalette = []string{
	"#2563eb", "#dc2626", "#059669", "#d97706",
	"#7c3aed", "#db2777", "#0891b2", "#65a30d",
}

func colorFor(identityID string) string {
	h := fnv.New32a()
	h.Write([]byte(identityID))
	return colorPalette[h.Sum32()%uint32(len(colorPalette))]
}

// Registry is the bidirectional mapping between live connections and their
// presence records, with a secondary index from case to present identities.
// It exclusively owns presence records; all mutation goes through it.
type Registry struct {
	mu    sync.RWMutex
	conns map[*connection]*model.Presence
	cases map[int64]map[string]map[*connection]struct{}

	now func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[*connection]*model.Presence),
		cases: make(map[int64]map[string]map[*connection]struct{}),
		now:   time.Now,
	}
}

// Join registers c as present in caseID. A connection already registered is
// moved: the previous record is replaced and the old index entry removed.
func (r *Registry) Join(c *connection, caseID int64, identityID, displayName string, authenticated bool) model.Presence {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(c)

	now := r.now()
	p := &model.Presence{
		IdentityID:     identityID,
		DisplayName:    displayName,
		Color:          colorFor(identityID),
		CaseID:         caseID,
		JoinedAt:       now,
		LastActivityAt: now,
		Authenticated:  authenticated,
	}

	r.conns[c] = p
	if r.cases[caseID] == nil {
		r.cases[caseID] = make(map[string]map[*connection]struct{})
	}
	if r.cases[caseID][identityID] == nil {
		r.cases[caseID][identityID] = make(map[*connection]struct{})
	}
	r.cases[caseID][identityID][c] = struct{}{}

	return *p
}

// Leave deregisters c and reports the presence it held. Leaving an
// unregistered connection is a no-op.
func (r *Registry) Leave(c *connection) (model.Presence, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.conns[c]
	if !ok {
		return model.Presence{}, false
	}
	r.removeLocked(c)
	return *p, true
}

func (r *Registry) removeLocked(c *connection) {
	p, ok := r.conns[c]
	if !ok {
		return
	}
	delete(r.conns, c)

	identities := r.cases[p.CaseID]
	if identities == nil {
		return
	}
	if set := identities[p.IdentityID]; set != nil {
		delete(set, c)
		if len(set) == 0 {
			delete(identities, p.IdentityID)
		}
	}
	if len(identities) == 0 {
		delete(r.cases, p.CaseID)
	}
}

// PresenceFor returns the case's member list deduplicated by identity: a
// user with two tabs open appears once. Order is stable (by display name,
// then identity).
func (r *Registry) PresenceFor(caseID int64) []model.Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	identities := r.cases[caseID]
	members := make([]model.Member, 0, len(identities))
	for _, set := range identities {
		for c := range set {
			p := r.conns[c]
			members = append(members, model.Member{
				ID:    p.IdentityID,
				Name:  p.DisplayName,
				Color: p.Color,
			})
			break
		}
	}

	sort.Slice(members, func(i, j int) bool {
		if members[i].Name != members[j].Name {
			return members[i].Name < members[j].Name
		}
		return members[i].ID < members[j].ID
	})
	return members
}

// Touch updates the connection's last-activity timestamp.
func (r *Registry) Touch(c *connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.conns[c]; ok {
		p.LastActivityAt = r.now()
	}
}

// Snapshot returns the connections currently subscribed to caseID. Fan-out
// iterates this copy so concurrent joins and leaves cannot invalidate the
// broadcast.
func (r *Registry) Snapshot(caseID int64) []*connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []*connection
	for _, set := range r.cases[caseID] {
		for c := range set {
			conns = append(conns, c)
		}
	}
	return conns
}

// Stale returns connections whose last activity is older than the cutoff.
func (r *Registry) Stale(olderThan time.Duration) []*connection {
	cutoff := r.now().Add(-olderThan)

	r.mu.RLock()
	defer r.mu.RUnlock()

	var stale []*connection
	for c, p := range r.conns {
		if p.LastActivityAt.Before(cutoff) {
			stale = append(stale, c)
		}
	}
	return stale
}

// ConnCount returns the number of live connections in caseID.
func (r *Registry) ConnCount(caseID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, set := range r.cases[caseID] {
		total += len(set)
	}
	return total
}

// AllConns returns every registered connection. Used at shutdown.
func (r *Registry) AllConns() []*connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conns := make([]*connection, 0, len(r.conns))
	for c := range r.conns {
		conns = append(conns, c)
	}
	return conns
}

func (r *Registry) TotalConns() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
