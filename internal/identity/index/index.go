// Package index talks to the biometric identity index: an external matcher
// that enrolls templates, compares a sample against one binding, lists
// bindings page by page and deletes them in bounded batches.
//
// Adapters return pkg/platform/sentinel errors:
//   - ErrNotFound: the binding does not exist
//   - ErrConflict: the index refused a write because of existing state
//   - ErrThrottled: rate limited; retry with backoff
//   - ErrUnavailable: network failure, 5xx, or open circuit
package index

import (
	"context"
	"iter"

	"presence/internal/identity/models"
	id "presence/pkg/domain"
)

// Index is the identity index contract.
type Index interface {
	Enroll(ctx context.Context, sample models.Sample, externalID id.EmployeeID) (id.BindingID, error)
	Verify1to1(ctx context.Context, sample models.Sample, bindingID id.BindingID) (models.Match, error)
	// ListPage returns the page after cursor; "" starts from the beginning.
	ListPage(ctx context.Context, cursor string) (*models.Page, error)
	// BatchDelete deletes up to MaxBatchSize bindings and reports how many
	// existed. Missing IDs are not an error.
	BatchDelete(ctx context.Context, ids []id.BindingID) (int, error)
	MaxBatchSize() int
}

// Lister is the read side of Index.
type Lister interface {
	ListPage(ctx context.Context, cursor string) (*models.Page, error)
}

// Scan lazily walks every page of the index. Iteration stops after the first
// error, which is yielded with a zero Entry. Each call restarts from the first
// page.
func Scan(ctx context.Context, lister Lister) iter.Seq2[models.Entry, error] {
	return func(yield func(models.Entry, error) bool) {
		cursor := ""
		for {
			if err := ctx.Err(); err != nil {
				yield(models.Entry{}, err)
				return
			}
			page, err := lister.ListPage(ctx, cursor)
			if err != nil {
				yield(models.Entry{}, err)
				return
			}
			for _, entry := range page.Entries {
				if !yield(entry, nil) {
					return
				}
			}
			if page.NextCursor == "" || page.NextCursor == cursor {
				return
			}
			cursor = page.NextCursor
		}
	}
}

// BindingsOf collects every binding whose externalId is employeeID.
func BindingsOf(ctx context.Context, lister Lister, employeeID id.EmployeeID) ([]id.BindingID, error) {
	var out []id.BindingID
	for entry, err := range Scan(ctx, lister) {
		if err != nil {
			return nil, err
		}
		if entry.ExternalID == employeeID.String() {
			out = append(out, entry.BindingID)
		}
	}
	return out, nil
}
