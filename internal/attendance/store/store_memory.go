// Package store provides attendance session stores. Every store enforces the
// one-open-session-per-employee-per-day rule with a conditional write rather
// than a read-then-write in the caller:
//   - PutIfAbsent fails with sentinel.ErrConflict when an open session exists
//   - UpdateIfOpen and DeleteIfOpen fail with sentinel.ErrConflict when the
//     stored session is already closed, and sentinel.ErrNotFound when it is gone
package store

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"presence/internal/attendance/models"
	id "presence/pkg/domain"
	"presence/pkg/platform/sentinel"
)

type employeeDay struct {
	employee id.EmployeeID
	day      id.DayKey
}

// InMemory is a mutex-guarded session store.
type InMemory struct {
	mu       sync.RWMutex
	sessions map[id.SessionID]*models.Session
	byDay    map[employeeDay][]id.SessionID
}

func NewInMemory() *InMemory {
	return &InMemory{
		sessions: make(map[id.SessionID]*models.Session),
		byDay:    make(map[employeeDay][]id.SessionID),
	}
}

func (s *InMemory) PutIfAbsent(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sessions[session.ID]; exists {
		return sentinel.ErrConflict
	}
	key := employeeDay{session.EmployeeID, session.DayKey}
	if session.IsOpen() {
		for _, sid := range s.byDay[key] {
			if s.sessions[sid].IsOpen() {
				return sentinel.ErrConflict
			}
		}
	}
	s.insert(key, session)
	return nil
}

// Import inserts sessions without the open-session check. It exists to load
// legacy data that may already violate the rule.
func (s *InMemory) Import(_ context.Context, sessions ...*models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, session := range sessions {
		if _, exists := s.sessions[session.ID]; exists {
			return sentinel.ErrConflict
		}
		s.insert(employeeDay{session.EmployeeID, session.DayKey}, session)
	}
	return nil
}

func (s *InMemory) insert(key employeeDay, session *models.Session) {
	s.sessions[session.ID] = session.Clone()
	s.byDay[key] = append(s.byDay[key], session.ID)
}

func (s *InMemory) UpdateIfOpen(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[session.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !stored.IsOpen() {
		return sentinel.ErrConflict
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

// QueryByEmployeeAndDay returns the employee's sessions for day ordered by
// check-in time.
func (s *InMemory) QueryByEmployeeAndDay(_ context.Context, employeeID id.EmployeeID, day id.DayKey) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byDay[employeeDay{employeeID, day}]
	out := make([]*models.Session, 0, len(ids))
	for _, sid := range ids {
		out = append(out, s.sessions[sid].Clone())
	}
	sortSessions(out)
	return out, nil
}

// ListOpenByDay returns every open session of day ordered by employee, then
// check-in time.
func (s *InMemory) ListOpenByDay(_ context.Context, day id.DayKey) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Session
	for key, ids := range s.byDay {
		if key.day != day {
			continue
		}
		for _, sid := range ids {
			if session := s.sessions[sid]; session.IsOpen() {
				out = append(out, session.Clone())
			}
		}
	}
	sortSessions(out)
	return out, nil
}

func (s *InMemory) DeleteIfOpen(_ context.Context, sessionID id.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.sessions[sessionID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !stored.IsOpen() {
		return sentinel.ErrConflict
	}
	key := employeeDay{stored.EmployeeID, stored.DayKey}
	s.byDay[key] = slices.DeleteFunc(s.byDay[key], func(sid id.SessionID) bool { return sid == sessionID })
	if len(s.byDay[key]) == 0 {
		delete(s.byDay, key)
	}
	delete(s.sessions, sessionID)
	return nil
}

func sortSessions(sessions []*models.Session) {
	slices.SortFunc(sessions, func(a, b *models.Session) int {
		if c := cmp.Compare(a.EmployeeID, b.EmployeeID); c != 0 {
			return c
		}
		if c := a.CheckInTime.Compare(b.CheckInTime); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})
}
