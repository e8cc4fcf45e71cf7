package terminal

import (
	"slices"
	"sync"
	"time"
)

// Service groups the terminals of one controller context under a service id.
// Sessions outlive controller connections when the service is persistent.
type Service struct {
	id      string
	created time.Time
	now     func() time.Time

	mu            sync.Mutex
	sessions      map[int32]*Session
	lastActivity  time.Time
	persistent    bool
	needsSync     bool
	specifiedUser bool
}

// TerminalMetadata describes one terminal of a service.
type TerminalMetadata struct {
	TerminalID int32
	Title      string
	Pid        int
	Created    time.Time
	Running    bool
}

// TerminalInfo is what a controller needs to restore a terminal view.
type TerminalInfo struct {
	Rows   uint16
	Cols   uint16
	Recent []byte
}

// ServiceMetadata summarizes a registered service.
type ServiceMetadata struct {
	ServiceID     string
	Created       time.Time
	LastActivity  time.Time
	TerminalCount int
	Persistent    bool
	SpecifiedUser bool
}

type sessionEntry struct {
	id      int32
	session *Session
}

func newService(id string, persistent, specifiedUser bool, now func() time.Time) *Service {
	t := now()
	return &Service{
		id:            id,
		created:       t,
		now:           now,
		sessions:      make(map[int32]*Session),
		lastActivity:  t,
		persistent:    persistent,
		specifiedUser: specifiedUser,
	}
}

// ID returns the service id.
func (s *Service) ID() string { return s.id }

// Persistent reports whether terminals survive controller disconnects.
func (s *Service) Persistent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistent
}

// SpecifiedUser reports whether shells run under an explicit user identity.
func (s *Service) SpecifiedUser() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.specifiedUser
}

// NeedsSessionSync reports whether the next open response will carry the
// list of live terminal ids.
func (s *Service) NeedsSessionSync() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needsSync
}

// Session returns the terminal with the given id, or nil.
func (s *Service) Session(terminalID int32) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[terminalID]
}

// ListTerminals returns metadata for every terminal, ordered by id.
func (s *Service) ListTerminals() []TerminalMetadata {
	entries := s.snapshot()
	out := make([]TerminalMetadata, 0, len(entries))
	for _, e := range entries {
		out = append(out, TerminalMetadata{
			TerminalID: e.id,
			Title:      e.session.Title(),
			Pid:        e.session.Pid(),
			Created:    e.session.created,
			Running:    e.session.Running(),
		})
	}
	return out
}

// TerminalBuffer returns up to maxBytes of recent output of a terminal.
func (s *Service) TerminalBuffer(terminalID int32, maxBytes int) ([]byte, bool) {
	sess := s.Session(terminalID)
	if sess == nil {
		return nil, false
	}
	return sess.Recent(maxBytes), true
}

// TerminalInfo returns the size and recent output of a terminal.
func (s *Service) TerminalInfo(terminalID int32) (TerminalInfo, bool) {
	sess := s.Session(terminalID)
	if sess == nil {
		return TerminalInfo{}, false
	}
	rows, cols, recent := sess.Info()
	return TerminalInfo{Rows: rows, Cols: cols, Recent: recent}, true
}

// HasActiveTerminals reports whether the service holds any terminal.
func (s *Service) HasActiveTerminals() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions) > 0
}

func (s *Service) touch() {
	s.mu.Lock()
	s.lastActivity = s.now()
	s.mu.Unlock()
}

// resetStatus applies a controller's latest request to an existing service.
// Every terminal is detached until the controller opens it again.
func (s *Service) resetStatus(persistent, specifiedUser bool) {
	s.mu.Lock()
	s.persistent = persistent
	s.specifiedUser = specifiedUser
	s.needsSync = true
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()
	for _, sess := range sessions {
		sess.detach()
	}
}

func (s *Service) setPersistent(persistent bool) {
	s.mu.Lock()
	if s.persistent != persistent {
		s.needsSync = true
	}
	s.persistent = persistent
	s.mu.Unlock()
}

// snapshot copies the session map so callers can lock sessions without
// holding the service lock.
func (s *Service) snapshot() []sessionEntry {
	s.mu.Lock()
	entries := make([]sessionEntry, 0, len(s.sessions))
	for id, sess := range s.sessions {
		entries = append(entries, sessionEntry{id: id, session: sess})
	}
	s.mu.Unlock()
	slices.SortFunc(entries, func(a, b sessionEntry) int {
		switch {
		case a.id < b.id:
			return -1
		case a.id > b.id:
			return 1
		}
		return 0
	})
	return entries
}

// takeAll empties the session map and returns what it held.
func (s *Service) takeAll() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	clear(s.sessions)
	return out
}

// removeIf deletes terminalID when it still maps to sess.
func (s *Service) removeIf(terminalID int32, sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[terminalID] != sess {
		return false
	}
	delete(s.sessions, terminalID)
	return true
}

func (s *Service) metadata() ServiceMetadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ServiceMetadata{
		ServiceID:     s.id,
		Created:       s.created,
		LastActivity:  s.lastActivity,
		TerminalCount: len(s.sessions),
		Persistent:    s.persistent,
		SpecifiedUser: s.specifiedUser,
	}
}

// idleFor reports how long the service has been idle and whether it is empty.
func (s *Service) idleFor(now time.Time) (idle time.Duration, persistent, empty bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity), s.persistent, len(s.sessions) == 0
}
