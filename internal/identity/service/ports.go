package service

import (
	"context"

	"presence/internal/directory/models"
	"presence/internal/identity/index"
	id "presence/pkg/domain"
	audit "presence/pkg/platform/audit"
)

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks Directory,AuditPublisher

// Directory is the slice of the employee directory used by identity binding.
type Directory interface {
	GetEmployee(ctx context.Context, employeeID id.EmployeeID) (*models.Employee, error)
	SetIdentityBindingIfEmpty(ctx context.Context, employeeID id.EmployeeID, bindingID id.BindingID) error
	ClearIdentityBinding(ctx context.Context, employeeID id.EmployeeID) error
}

// Index is the identity index contract.
type Index interface {
	index.Index
}

// AuditPublisher records identity changes.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}
