package gateway

import "sync"

// Counts is the result of one registry mutation. The crossed flags are computed
// under the same lock as the mutation.
type Counts struct {
	UserConns      int
	SessionConns   int
	UserCrossed    bool // 0->1 on register, 1->0 on unregister
	SessionCrossed bool // same for the login session; never set when SessionID is 0
}

// Registry indexes this process's live connections. All access goes through its methods.
type Registry struct {
	mu        sync.RWMutex
	byID      map[string]*Conn
	byUser    map[int64]map[string]*Conn
	bySession map[int64]map[string]*Conn
	byGroup   map[string]map[string]*Conn
}

func NewRegistry() *Registry {
	return &Registry{
		byID:      make(map[string]*Conn),
		byUser:    make(map[int64]map[string]*Conn),
		bySession: make(map[int64]map[string]*Conn),
		byGroup:   make(map[string]map[string]*Conn),
	}
}

func addIndex[K comparable](idx map[K]map[string]*Conn, k K, c *Conn) int {
	m := idx[k]
	if m == nil {
		m = make(map[string]*Conn)
		idx[k] = m
	}
	m[c.ID] = c
	return len(m)
}

func dropIndex[K comparable](idx map[K]map[string]*Conn, k K, id string) int {
	m := idx[k]
	if m == nil {
		return 0
	}
	delete(m, id)
	n := len(m)
	if n == 0 {
		delete(idx, k)
	}
	return n
}

// Register adds c with its Groups. Registering an ID twice is a no-op returning ok=false.
func (r *Registry) Register(c *Conn) (Counts, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.byID[c.ID]; dup {
		return Counts{}, false
	}
	r.byID[c.ID] = c
	var out Counts
	out.UserConns = addIndex(r.byUser, c.UserID, c)
	out.UserCrossed = out.UserConns == 1
	if c.SessionID != 0 {
		out.SessionConns = addIndex(r.bySession, c.SessionID, c)
		out.SessionCrossed = out.SessionConns == 1
	}
	for _, g := range c.Groups {
		addIndex(r.byGroup, g, c)
	}
	return out, true
}

// Unregister removes the connection; ok is false when it was not registered.
func (r *Registry) Unregister(id string) (*Conn, Counts, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byID[id]
	if !ok {
		return nil, Counts{}, false
	}
	delete(r.byID, id)
	var out Counts
	out.UserConns = dropIndex(r.byUser, c.UserID, id)
	out.UserCrossed = out.UserConns == 0
	if c.SessionID != 0 {
		out.SessionConns = dropIndex(r.bySession, c.SessionID, id)
		out.SessionCrossed = out.SessionConns == 0
	}
	for _, g := range c.Groups {
		dropIndex(r.byGroup, g, id)
	}
	return c, out, true
}

func (r *Registry) Get(id string) *Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

func snapshot[K comparable](r *Registry, idx map[K]map[string]*Conn, k K) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := idx[k]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Conn, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

func (r *Registry) ByUser(userID int64) []*Conn { return snapshot(r, r.byUser, userID) }

func (r *Registry) BySession(sessionID int64) []*Conn { return snapshot(r, r.bySession, sessionID) }

func (r *Registry) ByGroup(group string) []*Conn { return snapshot(r, r.byGroup, group) }

func (r *Registry) ByTenant(tenantID int64) []*Conn { return r.ByGroup(TenantGroup(tenantID)) }

// InGroups returns each connection joined to any of groups once.
func (r *Registry) InGroups(groups ...string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []*Conn
	for _, g := range groups {
		for id, c := range r.byGroup[g] {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) UserConnCount(userID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

func (r *Registry) SessionConnCount(sessionID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySession[sessionID])
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

func (r *Registry) All() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Conn, 0, len(r.byID))
	for _, c := range r.byID {
		out = append(out, c)
	}
	return out
}
