package net

// SessionStore indexes live sessions by ID.
// Accessed only from the simulation goroutine, so no locks.
type SessionStore struct {
	sessions map[uint64]*Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[uint64]*Session, 64),
	}
}

func (st *SessionStore) Add(sess *Session) {
	st.sessions[sess.ID] = sess
}

func (st *SessionStore) Remove(id uint64) {
	delete(st.sessions, id)
}

func (st *SessionStore) Get(id uint64) *Session {
	return st.sessions[id]
}

func (st *SessionStore) Len() int {
	return len(st.sessions)
}

func (st *SessionStore) ForEach(fn func(*Session)) {
	for _, sess := range st.sessions {
		fn(sess)
	}
}
