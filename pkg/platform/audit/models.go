package audit

import (
	"context"
	"time"

	id "presence/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// apply different retention.
type EventCategory string

const (
	// CategoryCompliance covers changes to biometric bindings and corrective
	// reconciliation actions. Long retention.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers rejected identity checks.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine attendance activity.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category   EventCategory
	Timestamp  time.Time
	Action     string
	EmployeeID id.EmployeeID
	// Subject is the record acted on: a session ID, binding ID or report ID.
	Subject   string
	Decision  string
	Reason    string
	RequestID string
	// ActorID is the authenticated caller (kiosk, admin, or "scheduler").
	ActorID string
}

type AuditEvent string

const (
	// Attendance events
	EventCheckedIn            AuditEvent = "attendance_checked_in"
	EventCheckedOut           AuditEvent = "attendance_checked_out"
	EventDuplicateCheckIn     AuditEvent = "attendance_duplicate_rejected"
	EventVerificationRejected AuditEvent = "attendance_verification_rejected"

	// Identity events
	EventIdentityRegistered  AuditEvent = "identity_registered"
	EventIdentityCompensated AuditEvent = "identity_enrollment_compensated"
	EventIdentityReset       AuditEvent = "identity_reset"

	// Reconciliation events
	EventGhostBindingsPurged       AuditEvent = "reconcile_ghost_bindings_purged"
	EventGhostBindingsReported     AuditEvent = "reconcile_ghost_bindings_reported"
	EventDuplicateSessionsResolved AuditEvent = "reconcile_duplicate_sessions_resolved"
	EventDuplicateSessionsReported AuditEvent = "reconcile_duplicate_sessions_reported"
	EventReconciliationConflict    AuditEvent = "reconcile_conflict"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventIdentityRegistered:        CategoryCompliance,
	EventIdentityCompensated:       CategoryCompliance,
	EventIdentityReset:             CategoryCompliance,
	EventGhostBindingsPurged:       CategoryCompliance,
	EventDuplicateSessionsResolved: CategoryCompliance,

	EventVerificationRejected:   CategorySecurity,
	EventReconciliationConflict: CategorySecurity,

	EventCheckedIn:                 CategoryOperations,
	EventCheckedOut:                CategoryOperations,
	EventDuplicateCheckIn:          CategoryOperations,
	EventGhostBindingsReported:     CategoryOperations,
	EventDuplicateSessionsReported: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}

// Reader lists persisted events. The Kafka sink is write-only and does not
// implement it.
type Reader interface {
	ListByEmployee(ctx context.Context, employeeID id.EmployeeID) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

// Emitter is what services depend on.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}
