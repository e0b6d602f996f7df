// Package models holds the employee record as seen by the attendance core.
// The directory owns employees; this service only reads them and maintains the
// identityBindingId mirror.
package models

import (
	"time"

	id "presence/pkg/domain"
)

// Status is the employment status in the directory.
type Status string

const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"
)

func (s Status) IsValid() bool {
	return s == StatusActive || s == StatusInactive
}

// Employee is one directory record.
type Employee struct {
	ID     id.EmployeeID `json:"employee_id"`
	Status Status        `json:"status"`
	// IdentityBindingID mirrors the binding enrolled for this employee. Empty
	// when the employee has not registered or was reset.
	IdentityBindingID id.BindingID `json:"identity_binding_id,omitempty"`
	UpdatedAt         time.Time    `json:"updated_at"`
}

func (e *Employee) IsActive() bool {
	return e.Status == StatusActive
}

func (e *Employee) HasBinding() bool {
	return !e.IdentityBindingID.IsNil()
}
