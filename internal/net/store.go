package net

// SessionStore tracks the sessions the game loop knows about.
// Game loop only, no locking.
type SessionStore struct {
	sessions map[uint64]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[uint64]*Session)}
}

func (st *SessionStore) Add(s *Session) {
	st.sessions[s.ID] = s
}

func (st *SessionStore) Remove(id uint64) {
	delete(st.sessions, id)
}

func (st *SessionStore) Get(id uint64) *Session {
	return st.sessions[id]
}

func (st *SessionStore) Count() int {
	return len(st.sessions)
}

// ForEach visits every session. fn must not add or remove sessions.
func (st *SessionStore) ForEach(fn func(*Session)) {
	for _, s := range st.sessions {
		fn(s)
	}
}

// Raw exposes the map for loops that remove while iterating.
func (st *SessionStore) Raw() map[uint64]*Session {
	return st.sessions
}
