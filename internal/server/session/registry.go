// Package session tracks which connection belongs to which logged-in
// user. The registry is owned by the router goroutine and therefore
// needs no locking.
package session

import "oltchat/internal/shared"

type Session struct {
	ConnID   uint64
	UserID   string
	Nickname string
	LoggedIn bool
}

type Registry struct {
	sessions map[uint64]*Session
	byUser   map[string]uint64
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[uint64]*Session),
		byUser:   make(map[string]uint64),
	}
}

// AddConnection registers a freshly accepted connection.
func (r *Registry) AddConnection(connID uint64) {
	r.sessions[connID] = &Session{ConnID: connID}
}

// Login upgrades the connection's session. A second connection for the
// same user is refused with shared.ErrorUserAlreadyOnline.
func (r *Registry) Login(connID uint64, userID, nickname string) error {
	s, ok := r.sessions[connID]
	if !ok {
		return shared.ErrorNotFound
	}

	if other, ok := r.byUser[userID]; ok && other != connID {
		return shared.ErrorUserAlreadyOnline
	}

	s.UserID = userID
	s.Nickname = nickname
	s.LoggedIn = true
	r.byUser[userID] = connID

	return nil
}

// RemoveConnection drops the session and, if logged in, the inverse
// user mapping.
func (r *Registry) RemoveConnection(connID uint64) {
	s, ok := r.sessions[connID]
	if !ok {
		return
	}
	if s.LoggedIn {
		delete(r.byUser, s.UserID)
	}
	delete(r.sessions, connID)
}

// Get returns the session for a connection.
func (r *Registry) Get(connID uint64) (*Session, bool) {
	s, ok := r.sessions[connID]
	return s, ok
}

// IsLoggedIn reports whether the connection has authenticated.
func (r *Registry) IsLoggedIn(connID uint64) bool {
	s, ok := r.sessions[connID]
	return ok && s.LoggedIn
}

// LookupConn returns the connection currently owned by the user.
func (r *Registry) LookupConn(userID string) (uint64, bool) {
	id, ok := r.byUser[userID]
	return id, ok
}

// OnlineUsers snapshots every logged-in session.
func (r *Registry) OnlineUsers() []Session {
	out := make([]Session, 0, len(r.byUser))
	for _, connID := range r.byUser {
		if s, ok := r.sessions[connID]; ok {
			out = append(out, *s)
		}
	}
	return out
}
