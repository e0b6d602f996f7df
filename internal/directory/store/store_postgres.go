package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"presence/internal/directory/models"
	id "presence/pkg/domain"
	"presence/pkg/platform/sentinel"
)

// PostgresStore reads the employees table shared with the directory owner.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Upsert creates or replaces an employee's status. The binding mirror is kept.
func (s *PostgresStore) Upsert(ctx context.Context, employee models.Employee) error {
	var bindingID sql.NullString
	if employee.HasBinding() {
		bindingID = sql.NullString{String: employee.IdentityBindingID.String(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (employee_id, status, identity_binding_id, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (employee_id) DO UPDATE SET
			status = EXCLUDED.status,
			identity_binding_id = COALESCE(EXCLUDED.identity_binding_id, employees.identity_binding_id),
			updated_at = now()
	`, employee.ID.String(), string(employee.Status), bindingID)
	if err != nil {
		return fmt.Errorf("upsert employee: %w", err)
	}
	return nil
}

// Remove deletes an employee record.
func (s *PostgresStore) Remove(ctx context.Context, employeeID id.EmployeeID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM employees WHERE employee_id = $1`, employeeID.String())
	if err != nil {
		return fmt.Errorf("delete employee: %w", err)
	}
	return expectOneRow(res, sentinel.ErrNotFound)
}

func (s *PostgresStore) GetEmployee(ctx context.Context, employeeID id.EmployeeID) (*models.Employee, error) {
	var (
		employee  models.Employee
		rawID     string
		status    string
		bindingID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT employee_id, status, identity_binding_id, updated_at
		FROM employees
		WHERE employee_id = $1
	`, employeeID.String()).Scan(&rawID, &status, &bindingID, &employee.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get employee: %w", err)
	}
	employee.ID = id.EmployeeID(rawID)
	employee.Status = models.Status(status)
	if bindingID.Valid {
		employee.IdentityBindingID = id.BindingID(bindingID.String)
	}
	return &employee, nil
}

// ListActiveEmployeeIDs returns every active employee ID in ascending order.
func (s *PostgresStore) ListActiveEmployeeIDs(ctx context.Context) ([]id.EmployeeID, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT employee_id FROM employees WHERE status = 'active' ORDER BY employee_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list active employees: %w", err)
	}
	defer rows.Close()

	var ids []id.EmployeeID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan employee id: %w", err)
		}
		ids = append(ids, id.EmployeeID(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate employees: %w", err)
	}
	return ids, nil
}

// ListEmployees returns the employees among ids that exist, ordered by ID.
func (s *PostgresStore) ListEmployees(ctx context.Context, ids []id.EmployeeID) ([]models.Employee, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, len(ids))
	for i, employeeID := range ids {
		raw[i] = employeeID.String()
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT employee_id, status, identity_binding_id, updated_at
		FROM employees
		WHERE employee_id = ANY($1)
		ORDER BY employee_id
	`, pq.Array(raw))
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	defer rows.Close()

	var out []models.Employee
	for rows.Next() {
		var (
			employee  models.Employee
			rawID     string
			status    string
			bindingID sql.NullString
		)
		if err := rows.Scan(&rawID, &status, &bindingID, &employee.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		employee.ID = id.EmployeeID(rawID)
		employee.Status = models.Status(status)
		if bindingID.Valid {
			employee.IdentityBindingID = id.BindingID(bindingID.String)
		}
		out = append(out, employee)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate employees: %w", err)
	}
	return out, nil
}

// SetIdentityBindingIfEmpty records bindingID only when the mirror is empty or
// already holds bindingID.
func (s *PostgresStore) SetIdentityBindingIfEmpty(ctx context.Context, employeeID id.EmployeeID, bindingID id.BindingID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE employees
		SET identity_binding_id = $2, updated_at = now()
		WHERE employee_id = $1
		  AND (identity_binding_id IS NULL OR identity_binding_id = $2)
	`, employeeID.String(), bindingID.String())
	if err != nil {
		return fmt.Errorf("set identity binding: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("set identity binding: %w", err)
	}
	if rows == 1 {
		return nil
	}
	if _, err := s.GetEmployee(ctx, employeeID); err != nil {
		return err
	}
	return sentinel.ErrConflict
}

// ClearIdentityBinding empties the mirror. Clearing an empty mirror is a no-op.
func (s *PostgresStore) ClearIdentityBinding(ctx context.Context, employeeID id.EmployeeID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE employees
		SET identity_binding_id = NULL, updated_at = now()
		WHERE employee_id = $1
	`, employeeID.String())
	if err != nil {
		return fmt.Errorf("clear identity binding: %w", err)
	}
	return expectOneRow(res, sentinel.ErrNotFound)
}

func expectOneRow(res sql.Result, otherwise error) error {
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return otherwise
	}
	return nil
}
