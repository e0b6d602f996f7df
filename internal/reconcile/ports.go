package reconcile

import (
	"context"

	"presence/internal/attendance/models"
	dirmodels "presence/internal/directory/models"
	"presence/internal/identity/index"
	id "presence/pkg/domain"
	audit "presence/pkg/platform/audit"
)

// Index is the part of the identity index reconciliation reads and deletes
// from. It never enrolls.
type Index interface {
	index.Lister
	index.BatchDeleter
}

// Directory is the employee directory as seen by reconciliation.
type Directory interface {
	ListActiveEmployeeIDs(ctx context.Context) ([]id.EmployeeID, error)
	// ListEmployees returns the employees among ids that exist.
	ListEmployees(ctx context.Context, ids []id.EmployeeID) ([]dirmodels.Employee, error)
	ClearIdentityBinding(ctx context.Context, employeeID id.EmployeeID) error
}

// SessionStore lists and removes open sessions.
type SessionStore interface {
	ListOpenByDay(ctx context.Context, day id.DayKey) ([]*models.Session, error)
	DeleteIfOpen(ctx context.Context, sessionID id.SessionID) error
}

// AuditPublisher records corrective actions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
