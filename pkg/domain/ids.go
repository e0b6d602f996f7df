package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "presence/pkg/domain-errors"
)

// EmployeeID identifies an employee in the directory. It doubles as the
// externalId under which biometric bindings are enrolled, so it must survive a
// round-trip through the identity index unchanged.
type EmployeeID string

const maxEmployeeIDLength = 64

// ParseEmployeeID validates an employee identifier at a trust boundary.
// Accepted characters: ASCII letters, digits, '_', '-', '.'.
func ParseEmployeeID(s string) (EmployeeID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "employee ID required")
	}
	if len(s) > maxEmployeeIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "employee ID too long")
	}
	for i := 0; i < len(s); i++ {
		if !isEmployeeIDByte(s[i]) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "employee ID contains invalid characters")
		}
	}
	return EmployeeID(s), nil
}

func isEmployeeIDByte(c byte) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return true
	case c == '_' || c == '-' || c == '.':
		return true
	}
	return false
}

func (id EmployeeID) String() string { return string(id) }

func (id EmployeeID) IsNil() bool { return id == "" }

// SessionID identifies an attendance session.
type SessionID uuid.UUID

// NewSessionID returns a random session ID.
func NewSessionID() SessionID {
	return SessionID(uuid.New())
}

// ParseSessionID parses a non-nil UUID.
func ParseSessionID(s string) (SessionID, error) {
	if s == "" {
		return SessionID{}, dErrors.New(dErrors.CodeInvalidInput, "session ID required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return SessionID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid session ID")
	}
	if parsed == uuid.Nil {
		return SessionID{}, dErrors.New(dErrors.CodeInvalidInput, "session ID cannot be nil")
	}
	return SessionID(parsed), nil
}

func (id SessionID) String() string { return uuid.UUID(id).String() }

func (id SessionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

func (id SessionID) MarshalText() ([]byte, error) {
	return uuid.UUID(id).MarshalText()
}

func (id *SessionID) UnmarshalText(b []byte) error {
	var u uuid.UUID
	if err := u.UnmarshalText(b); err != nil {
		return err
	}
	*id = SessionID(u)
	return nil
}

// BindingID is the identity index's opaque handle for one enrolled template.
type BindingID string

func (id BindingID) String() string { return string(id) }

func (id BindingID) IsNil() bool { return id == "" }

// DayKey is the calendar date an attendance session belongs to, formatted
// YYYY-MM-DD in the attendance time zone.
type DayKey string

const dayKeyLayout = "2006-01-02"

// DayKeyFor returns the day key of t in loc.
func DayKeyFor(t time.Time, loc *time.Location) DayKey {
	if loc == nil {
		loc = time.UTC
	}
	return DayKey(t.In(loc).Format(dayKeyLayout))
}

// ParseDayKey validates a YYYY-MM-DD day key.
func ParseDayKey(s string) (DayKey, error) {
	s = strings.TrimSpace(s)
	if _, err := time.Parse(dayKeyLayout, s); err != nil {
		return "", dErrors.New(dErrors.CodeInvalidInput, "day must be formatted YYYY-MM-DD")
	}
	return DayKey(s), nil
}

// Start returns midnight of the day in loc.
func (d DayKey) Start(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(dayKeyLayout, string(d), loc)
}

// Previous returns the day before d. Invalid keys are returned unchanged.
func (d DayKey) Previous() DayKey {
	t, err := time.Parse(dayKeyLayout, string(d))
	if err != nil {
		return d
	}
	return DayKey(t.AddDate(0, 0, -1).Format(dayKeyLayout))
}

func (d DayKey) String() string { return string(d) }
