// Package store provides directory adapters: an in-memory store for tests and
// single-node deployments, and a Postgres store over the employees table.
package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"presence/internal/directory/models"
	id "presence/pkg/domain"
	"presence/pkg/platform/sentinel"
)

// InMemory is a mutex-guarded directory.
type InMemory struct {
	mu        sync.RWMutex
	employees map[id.EmployeeID]models.Employee
	now       func() time.Time
}

func NewInMemory() *InMemory {
	return &InMemory{
		employees: make(map[id.EmployeeID]models.Employee),
		now:       time.Now,
	}
}

// Upsert creates or replaces an employee. The directory owner calls this;
// tests use it for seeding.
func (s *InMemory) Upsert(_ context.Context, employee models.Employee) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if employee.UpdatedAt.IsZero() {
		employee.UpdatedAt = s.now()
	}
	s.employees[employee.ID] = employee
	return nil
}

// Remove deletes an employee record.
func (s *InMemory) Remove(_ context.Context, employeeID id.EmployeeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.employees[employeeID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.employees, employeeID)
	return nil
}

func (s *InMemory) GetEmployee(_ context.Context, employeeID id.EmployeeID) (*models.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	employee, ok := s.employees[employeeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &employee, nil
}

// ListActiveEmployeeIDs returns every active employee ID in ascending order.
func (s *InMemory) ListActiveEmployeeIDs(_ context.Context) ([]id.EmployeeID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]id.EmployeeID, 0, len(s.employees))
	for employeeID, employee := range s.employees {
		if employee.IsActive() {
			ids = append(ids, employeeID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// ListEmployees returns the employees among ids that exist, ordered by ID.
// Unknown IDs are skipped.
func (s *InMemory) ListEmployees(_ context.Context, ids []id.EmployeeID) ([]models.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Employee, 0, len(ids))
	for _, employeeID := range ids {
		if employee, ok := s.employees[employeeID]; ok {
			out = append(out, employee)
		}
	}
	slices.SortFunc(out, func(a, b models.Employee) int { return strings.Compare(a.ID.String(), b.ID.String()) })
	return slices.CompactFunc(out, func(a, b models.Employee) bool { return a.ID == b.ID }), nil
}

// SetIdentityBindingIfEmpty records bindingID unless a different binding is
// already mirrored (sentinel.ErrConflict). Setting the same binding twice is a
// no-op.
func (s *InMemory) SetIdentityBindingIfEmpty(_ context.Context, employeeID id.EmployeeID, bindingID id.BindingID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	employee, ok := s.employees[employeeID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if employee.IdentityBindingID == bindingID {
		return nil
	}
	if employee.HasBinding() {
		return sentinel.ErrConflict
	}
	employee.IdentityBindingID = bindingID
	employee.UpdatedAt = s.now()
	s.employees[employeeID] = employee
	return nil
}

// ClearIdentityBinding empties the mirror. Clearing an empty mirror is a no-op.
func (s *InMemory) ClearIdentityBinding(_ context.Context, employeeID id.EmployeeID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	employee, ok := s.employees[employeeID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !employee.HasBinding() {
		return nil
	}
	employee.IdentityBindingID = ""
	employee.UpdatedAt = s.now()
	s.employees[employeeID] = employee
	return nil
}
