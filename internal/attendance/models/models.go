// Package models defines attendance sessions and the requests that drive them.
package models

import (
	"math"
	"time"

	"presence/internal/identity/models"
	id "presence/pkg/domain"
	dErrors "presence/pkg/domain-errors"
)

// VerificationMethod records how the employee proved presence.
type VerificationMethod string

const VerificationFace VerificationMethod = "face"

// Location is an optional GPS fix reported by the kiosk.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate rejects coordinates outside WGS84 bounds.
func (l *Location) Validate() error {
	if l == nil {
		return nil
	}
	if math.IsNaN(l.Latitude) || math.IsNaN(l.Longitude) ||
		l.Latitude < -90 || l.Latitude > 90 || l.Longitude < -180 || l.Longitude > 180 {
		return dErrors.New(dErrors.CodeBadRequest, "location out of range")
	}
	return nil
}

// Session is one check-in/check-out pair for an employee on a day. A session
// with a nil CheckOutTime is open. Closed sessions are never modified.
type Session struct {
	ID                 id.SessionID       `json:"session_id"`
	EmployeeID         id.EmployeeID      `json:"employee_id"`
	DayKey             id.DayKey          `json:"day_key"`
	CheckInTime        time.Time          `json:"check_in_time"`
	CheckOutTime       *time.Time         `json:"check_out_time,omitempty"`
	CheckInLocation    *Location          `json:"check_in_location,omitempty"`
	CheckOutLocation   *Location          `json:"check_out_location,omitempty"`
	VerificationMethod VerificationMethod `json:"verification_method"`
	Late               bool               `json:"late"`
	Device             string             `json:"device,omitempty"`
}

func (s *Session) IsOpen() bool {
	return s.CheckOutTime == nil
}

// WorkDuration is CheckOutTime - CheckInTime; ok is false for open sessions.
func (s *Session) WorkDuration() (time.Duration, bool) {
	if s.CheckOutTime == nil {
		return 0, false
	}
	return s.CheckOutTime.Sub(s.CheckInTime), true
}

// Close stamps the checkout. The session must be open and at must be after the
// check-in.
func (s *Session) Close(at time.Time, loc *Location) error {
	if !s.IsOpen() {
		return dErrors.New(dErrors.CodeNoOpenSession, "session already closed")
	}
	if !at.After(s.CheckInTime) {
		return dErrors.New(dErrors.CodeValidation, "check-out must be after check-in")
	}
	s.CheckOutTime = &at
	s.CheckOutLocation = loc
	return nil
}

// Clone returns a deep copy so stores never share pointers with callers.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.CheckOutTime != nil {
		t := *s.CheckOutTime
		c.CheckOutTime = &t
	}
	if s.CheckInLocation != nil {
		l := *s.CheckInLocation
		c.CheckInLocation = &l
	}
	if s.CheckOutLocation != nil {
		l := *s.CheckOutLocation
		c.CheckOutLocation = &l
	}
	return &c
}

// Latest returns the session with the greatest CheckInTime, or nil.
func Latest(sessions []*Session) *Session {
	var latest *Session
	for _, s := range sessions {
		if latest == nil || s.CheckInTime.After(latest.CheckInTime) {
			latest = s
		}
	}
	return latest
}

// LatestOpen returns the open session with the greatest CheckInTime, or nil.
func LatestOpen(sessions []*Session) *Session {
	var latest *Session
	for _, s := range sessions {
		if !s.IsOpen() {
			continue
		}
		if latest == nil || s.CheckInTime.After(latest.CheckInTime) {
			latest = s
		}
	}
	return latest
}

type CheckInRequest struct {
	EmployeeID id.EmployeeID
	Sample     models.Sample
	Location   *Location
	// UserAgent is parsed into Session.Device.
	UserAgent string
}

type CheckOutRequest struct {
	EmployeeID id.EmployeeID
	Sample     models.Sample
	Location   *Location
}

// Status is an employee's attendance state for today.
type Status struct {
	EmployeeID   id.EmployeeID  `json:"employee_id"`
	DayKey       id.DayKey      `json:"day_key"`
	IsCheckedIn  bool           `json:"is_checked_in"`
	SessionID    *id.SessionID  `json:"session_id,omitempty"`
	CheckInTime  *time.Time     `json:"check_in_time,omitempty"`
	CheckOutTime *time.Time     `json:"check_out_time,omitempty"`
	WorkDuration *time.Duration `json:"work_duration,omitempty"`
	Late         bool           `json:"late"`
}

// StatusOf summarizes the latest session of the day. A nil session yields a
// not-checked-in status.
func StatusOf(employeeID id.EmployeeID, day id.DayKey, latest *Session) *Status {
	st := &Status{EmployeeID: employeeID, DayKey: day}
	if latest == nil {
		return st
	}
	sessionID := latest.ID
	checkIn := latest.CheckInTime
	st.SessionID = &sessionID
	st.CheckInTime = &checkIn
	st.Late = latest.Late
	st.IsCheckedIn = latest.IsOpen()
	if d, ok := latest.WorkDuration(); ok {
		out := *latest.CheckOutTime
		st.CheckOutTime = &out
		st.WorkDuration = &d
	}
	return st
}
