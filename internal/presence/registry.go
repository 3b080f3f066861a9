// Package presence tracks which live connections belong to which user.
//
// The registry stores connection identities only. Transports own the
// connection handles and report connect/disconnect events here.
package presence

import (
	"sort"
	"sync"
)

// ConnID identifies one live connection (a WebSocket session, a linked chat).
type ConnID string

// UserConnections is a per-user line in Stats.
type UserConnections struct {
	UserID          string `json:"user_id"`
	ConnectionCount int    `json:"connection_count"`
}

// Stats is an observability snapshot of the registry.
type Stats struct {
	OnlineUserCount      int               `json:"online_user_count"`
	TotalConnectionCount int               `json:"total_connection_count"`
	Users                []UserConnections `json:"users"`
}

// Registry maps users to their live connections. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byUser map[string]map[ConnID]struct{}
	byConn map[ConnID]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byUser: make(map[string]map[ConnID]struct{}),
		byConn: make(map[ConnID]string),
	}
}

// Register binds conn to userID. Registering the same pair again is a no-op.
// A connection bound to another user is moved. It reports whether the
// registry changed.
func (r *Registry) Register(userID string, conn ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byConn[conn]; ok {
		if prev == userID {
			return false
		}
		r.removeLocked(prev, conn)
	}

	set, ok := r.byUser[userID]
	if !ok {
		set = make(map[ConnID]struct{})
		r.byUser[userID] = set
	}
	set[conn] = struct{}{}
	r.byConn[conn] = userID
	return true
}

// Unregister removes conn and returns the user it belonged to.
func (r *Registry) Unregister(conn ConnID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byConn[conn]
	if !ok {
		return "", false
	}
	r.removeLocked(userID, conn)
	return userID, true
}

// removeLocked drops conn from both indexes and deletes an emptied user entry.
func (r *Registry) removeLocked(userID string, conn ConnID) {
	delete(r.byConn, conn)
	set := r.byUser[userID]
	delete(set, conn)
	if len(set) == 0 {
		delete(r.byUser, userID)
	}
}

// IsOnline reports whether userID has at least one registered connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byUser[userID]
	return ok
}

// ConnectionCount returns the number of connections registered for userID.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// UserOf returns the user conn is registered to.
func (r *Registry) UserOf(conn ConnID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byConn[conn]
	return u, ok
}

// Connections returns a sorted copy of userID's connection set.
func (r *Registry) Connections(userID string) []ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := r.byUser[userID]
	if len(set) == 0 {
		return nil
	}
	out := make([]ConnID, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// OnlineUsers returns the ids of every user with a connection, sorted.
func (r *Registry) OnlineUsers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byUser))
	for u := range r.byUser {
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}

// Stats returns user and connection counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := Stats{
		OnlineUserCount:      len(r.byUser),
		TotalConnectionCount: len(r.byConn),
		Users:                make([]UserConnections, 0, len(r.byUser)),
	}
	for u, set := range r.byUser {
		st.Users = append(st.Users, UserConnections{UserID: u, ConnectionCount: len(set)})
	}
	sort.Slice(st.Users, func(i, j int) bool { return st.Users[i].UserID < st.Users[j].UserID })
	return st
}
