package reconcile

import (
	"time"

	"presence/internal/identity/index"
	id "presence/pkg/domain"
	dErrors "presence/pkg/domain-errors"
)

// Mode selects whether a run only reports or also corrects.
type Mode string

const (
	ModeAudit   Mode = "audit"
	ModeEnforce Mode = "enforce"
)

// ParseMode accepts "audit" and "enforce"; empty means audit.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeAudit:
		return ModeAudit, nil
	case ModeEnforce:
		return ModeEnforce, nil
	}
	return "", dErrors.New(dErrors.CodeBadRequest, "mode must be audit or enforce")
}

func (m Mode) String() string { return string(m) }

// Conflict is an entry left for manual review instead of being corrected.
type Conflict struct {
	Subject    string         `json:"subject"`
	BindingIDs []id.BindingID `json:"binding_ids,omitempty"`
	SessionIDs []id.SessionID `json:"session_ids,omitempty"`
	Reason     string         `json:"reason"`
}

// Ghost groups the bindings enrolled under an externalId that is not an
// active employee.
type Ghost struct {
	ExternalID id.EmployeeID  `json:"external_id"`
	BindingIDs []id.BindingID `json:"binding_ids"`
	// EmployeeStatus is "inactive" when the employee still exists in the
	// directory and "removed" otherwise.
	EmployeeStatus string `json:"employee_status"`
	// Purged is true once every binding of the group was deleted.
	Purged        bool `json:"purged"`
	MirrorCleared bool `json:"mirror_cleared"`
}

// GhostReport describes one ghost binding scan.
type GhostReport struct {
	Mode            Mode                `json:"mode"`
	StartedAt       time.Time           `json:"started_at"`
	FinishedAt      time.Time           `json:"finished_at"`
	ScannedBindings int                 `json:"scanned_bindings"`
	ActiveEmployees int                 `json:"active_employees"`
	Ghosts          []Ghost             `json:"ghosts"`
	Conflicts       []Conflict          `json:"conflicts,omitempty"`
	Deleted         int                 `json:"deleted"`
	Batches         []index.BatchResult `json:"batches,omitempty"`
}

// GhostBindingCount is the number of bindings across all ghost groups.
func (r *GhostReport) GhostBindingCount() int {
	n := 0
	for _, g := range r.Ghosts {
		n += len(g.BindingIDs)
	}
	return n
}

// FailedBatches counts batches that did not succeed.
func (r *GhostReport) FailedBatches() int {
	n := 0
	for _, b := range r.Batches {
		if b.Err != nil {
			n++
		}
	}
	return n
}

// Resolution describes how one employee's duplicate open sessions were (or
// would be) resolved. The latest check-in is kept.
type Resolution struct {
	EmployeeID  id.EmployeeID  `json:"employee_id"`
	Kept        id.SessionID   `json:"kept_session_id"`
	KeptCheckIn time.Time      `json:"kept_check_in_time"`
	Removed     []id.SessionID `json:"removed_session_ids"`
	// Skipped sessions were closed or deleted by someone else mid-run.
	Skipped []id.SessionID `json:"skipped_session_ids,omitempty"`
	Failed  []id.SessionID `json:"failed_session_ids,omitempty"`
}

// DuplicateReport describes one duplicate open session scan.
type DuplicateReport struct {
	Mode         Mode         `json:"mode"`
	Day          id.DayKey    `json:"day"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
	OpenSessions int          `json:"open_sessions"`
	Resolutions  []Resolution `json:"resolutions"`
	Conflicts    []Conflict   `json:"conflicts,omitempty"`
	Deleted      int          `json:"deleted"`
	Failed       int          `json:"failed"`
}
