// Package models holds identity binding types shared by the index adapters,
// the binding service and the reconciliation engine.
package models

import (
	id "presence/pkg/domain"
)

// Sample is an opaque biometric capture (a face image as sent by the kiosk).
// It is forwarded to the identity index untouched and never persisted here.
type Sample []byte

func (s Sample) IsEmpty() bool { return len(s) == 0 }

// MaxSampleBytes bounds samples accepted at the edge.
const MaxSampleBytes = 4 << 20

// Entry is one binding record as listed by the index. ExternalID is the raw
// string stored in the index and may not be a valid employee ID.
type Entry struct {
	BindingID  id.BindingID `json:"binding_id"`
	ExternalID string       `json:"external_id"`
}

// Page is one page of a ListPage call. An empty NextCursor ends iteration.
type Page struct {
	Entries    []Entry
	NextCursor string
}

// Match is the index's answer to a 1:1 comparison.
type Match struct {
	Matched    bool
	Confidence float64
}

// VerifyResult is returned by a successful Verify. Matched=false is a normal
// outcome, not an error.
type VerifyResult struct {
	Matched    bool         `json:"matched"`
	Confidence float64      `json:"confidence"`
	BindingID  id.BindingID `json:"binding_id,omitempty"`
}
