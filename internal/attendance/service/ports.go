package service

import (
	"context"

	"presence/internal/attendance/models"
	dirmodels "presence/internal/directory/models"
	idmodels "presence/internal/identity/models"
	id "presence/pkg/domain"
	audit "presence/pkg/platform/audit"
)

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Verifier,SessionStore

// Directory reads employee records.
type Directory interface {
	GetEmployee(ctx context.Context, employeeID id.EmployeeID) (*dirmodels.Employee, error)
}

// Verifier performs 1:1 face verification. A well-formed non-matching sample
// is a result with Matched=false, not an error.
type Verifier interface {
	Verify(ctx context.Context, sample idmodels.Sample, employeeID id.EmployeeID) (*idmodels.VerifyResult, error)
}

// SessionStore persists attendance sessions with conditional writes.
type SessionStore interface {
	PutIfAbsent(ctx context.Context, session *models.Session) error
	UpdateIfOpen(ctx context.Context, session *models.Session) error
	QueryByEmployeeAndDay(ctx context.Context, employeeID id.EmployeeID, day id.DayKey) ([]*models.Session, error)
}

// AuditPublisher records attendance events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
