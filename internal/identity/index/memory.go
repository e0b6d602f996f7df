package index

import (
	"context"
	"crypto/subtle"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"presence/internal/identity/models"
	id "presence/pkg/domain"
	"presence/pkg/platform/sentinel"
)

const (
	defaultPageSize     = 100
	defaultMaxBatchSize = 100
)

type memoryRecord struct {
	externalID string
	digest     [blake2b.Size256]byte
}

// InMemory is a deterministic stand-in for the external index. A sample
// matches a binding when its BLAKE2b-256 digest equals the enrolled one; the
// confidence is then 1, otherwise 0. Pages are keyed by binding ID.
type InMemory struct {
	mu           sync.RWMutex
	records      map[id.BindingID]memoryRecord
	pageSize     int
	maxBatchSize int
	newID        func() id.BindingID
}

// MemoryOption configures an InMemory index.
type MemoryOption func(*InMemory)

// WithPageSize sets the ListPage size.
func WithPageSize(n int) MemoryOption {
	return func(m *InMemory) {
		if n > 0 {
			m.pageSize = n
		}
	}
}

// WithMaxBatchSize sets the BatchDelete limit.
func WithMaxBatchSize(n int) MemoryOption {
	return func(m *InMemory) {
		if n > 0 {
			m.maxBatchSize = n
		}
	}
}

// WithIDGenerator overrides binding ID generation (tests use sequential IDs
// to control page order).
func WithIDGenerator(gen func() id.BindingID) MemoryOption {
	return func(m *InMemory) {
		if gen != nil {
			m.newID = gen
		}
	}
}

func NewInMemory(opts ...MemoryOption) *InMemory {
	m := &InMemory{
		records:      make(map[id.BindingID]memoryRecord),
		pageSize:     defaultPageSize,
		maxBatchSize: defaultMaxBatchSize,
		newID:        func() id.BindingID { return id.BindingID(uuid.NewString()) },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enroll stores a template. The index itself allows several bindings per
// externalId; uniqueness is enforced by the binding service.
func (m *InMemory) Enroll(_ context.Context, sample models.Sample, externalID id.EmployeeID) (id.BindingID, error) {
	if sample.IsEmpty() || externalID.IsNil() {
		return "", fmt.Errorf("enroll: sample and external id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	bindingID := m.newID()
	m.records[bindingID] = memoryRecord{externalID: externalID.String(), digest: blake2b.Sum256(sample)}
	return bindingID, nil
}

// Seed inserts raw records, including malformed externalIds, the way legacy
// data may exist in a real index.
func (m *InMemory) Seed(sample models.Sample, entries ...models.Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	digest := blake2b.Sum256(sample)
	for _, e := range entries {
		m.records[e.BindingID] = memoryRecord{externalID: e.ExternalID, digest: digest}
	}
}

func (m *InMemory) Verify1to1(_ context.Context, sample models.Sample, bindingID id.BindingID) (models.Match, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.records[bindingID]
	if !ok {
		return models.Match{}, sentinel.ErrNotFound
	}
	digest := blake2b.Sum256(sample)
	if subtle.ConstantTimeCompare(digest[:], record.digest[:]) == 1 {
		return models.Match{Matched: true, Confidence: 1}, nil
	}
	return models.Match{Matched: false, Confidence: 0}, nil
}

func (m *InMemory) ListPage(_ context.Context, cursor string) (*models.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]id.BindingID, 0, len(m.records))
	for bindingID := range m.records {
		if strings.Compare(bindingID.String(), cursor) > 0 {
			ids = append(ids, bindingID)
		}
	}
	slices.Sort(ids)

	page := &models.Page{}
	for i, bindingID := range ids {
		if i == m.pageSize {
			page.NextCursor = ids[i-1].String()
			break
		}
		page.Entries = append(page.Entries, models.Entry{
			BindingID:  bindingID,
			ExternalID: m.records[bindingID].externalID,
		})
	}
	return page, nil
}

func (m *InMemory) BatchDelete(_ context.Context, ids []id.BindingID) (int, error) {
	if len(ids) > m.maxBatchSize {
		return 0, fmt.Errorf("batch of %d exceeds max %d: %w", len(ids), m.maxBatchSize, sentinel.ErrInvalidState)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for _, bindingID := range ids {
		if _, ok := m.records[bindingID]; ok {
			delete(m.records, bindingID)
			deleted++
		}
	}
	return deleted, nil
}

func (m *InMemory) MaxBatchSize() int { return m.maxBatchSize }

// Len returns the number of stored bindings.
func (m *InMemory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}
