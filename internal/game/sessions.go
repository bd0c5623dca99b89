package game

// The session directory maps long-lived session tokens (issued once per
// browser, resent on every connect) to the currently live socket connection.
// Room membership is keyed by connection id, so a reconnect is a fresh join
// that restores identity through the session.

// BindSession associates a session token with a live connection. A second
// connection presenting the same session takes the binding over; the old
// connection keeps its room membership until it disconnects.
func (s *Store) BindSession(session, connID string) {
    if session == "" || connID == "" {
        return
    }
    s.mu.Lock()
    defer s.mu.Unlock()
    if old, ok := s.sessions[session]; ok && old != connID {
        delete(s.conns, old)
    }
    s.sessions[session] = connID
    s.conns[connID] = session
}

// ReleaseConn drops the binding for a disconnecting connection and reports
// which session it carried. Remembered nicknames survive the release.
func (s *Store) ReleaseConn(connID string) (string, bool) {
    s.mu.Lock()
    defer s.mu.Unlock()
    session, ok := s.conns[connID]
    if !ok {
        return "", false
    }
    delete(s.conns, connID)
    if s.sessions[session] == connID {
        delete(s.sessions, session)
    }
    return session, true
}

// SessionFor returns the session token bound to a connection.
func (s *Store) SessionFor(connID string) (string, bool) {
    s.mu.Lock()
    defer s.mu.Unlock()
    session, ok := s.conns[connID]
    return session, ok
}

// ConnFor returns the live connection bound to a session, if any.
func (s *Store) ConnFor(session string) (string, bool) {
    s.mu.Lock()
    defer s.mu.Unlock()
    connID, ok := s.sessions[session]
    return connID, ok
}
