package index

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	id "presence/pkg/domain"
	"presence/pkg/platform/sentinel"
)

// BatchDeleter is the delete side of Index.
type BatchDeleter interface {
	BatchDelete(ctx context.Context, ids []id.BindingID) (int, error)
	MaxBatchSize() int
}

// BatchResult is the outcome of one delete batch.
type BatchResult struct {
	Batch      int            `json:"batch"`
	BindingIDs []id.BindingID `json:"binding_ids"`
	Deleted    int            `json:"deleted"`
	Attempts   int            `json:"attempts"`
	Err        error          `json:"-"`
	Error      string         `json:"error,omitempty"`
}

// PurgeResult aggregates every batch of one Purge call.
type PurgeResult struct {
	Batches []BatchResult `json:"batches"`
	Deleted int           `json:"deleted"`
	// Failed counts binding IDs in batches that never succeeded.
	Failed int `json:"failed"`
}

// FailedBatches returns the batches whose final attempt errored.
func (r PurgeResult) FailedBatches() []BatchResult {
	var out []BatchResult
	for _, b := range r.Batches {
		if b.Err != nil {
			out = append(out, b)
		}
	}
	return out
}

// Purger deletes bindings in batches no larger than the index allows, using a
// bounded worker pool. Throttled or unavailable batches are retried with
// exponential backoff. A failing batch never cancels its siblings.
type Purger struct {
	index      BatchDeleter
	workers    int
	maxRetries uint64
	newBackOff func() backoff.BackOff
	logger     *slog.Logger
}

// PurgerOption configures a Purger.
type PurgerOption func(*Purger)

func WithWorkers(n int) PurgerOption {
	return func(p *Purger) {
		if n > 0 {
			p.workers = n
		}
	}
}

func WithMaxRetries(n uint64) PurgerOption {
	return func(p *Purger) { p.maxRetries = n }
}

// WithBackOff overrides the retry schedule (tests use backoff.ZeroBackOff).
func WithBackOff(newBackOff func() backoff.BackOff) PurgerOption {
	return func(p *Purger) {
		if newBackOff != nil {
			p.newBackOff = newBackOff
		}
	}
}

func WithPurgeLogger(logger *slog.Logger) PurgerOption {
	return func(p *Purger) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func NewPurger(index BatchDeleter, opts ...PurgerOption) *Purger {
	p := &Purger{
		index:      index,
		workers:    4,
		maxRetries: 5,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			b.MaxElapsedTime = time.Minute
			return b
		},
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Purge deletes ids. Duplicate IDs are removed first. The result lists batches
// in submission order.
func (p *Purger) Purge(ctx context.Context, ids []id.BindingID) PurgeResult {
	unique := slices.Clone(ids)
	slices.Sort(unique)
	unique = slices.Compact(unique)
	if len(unique) == 0 {
		return PurgeResult{}
	}

	size := max(p.index.MaxBatchSize(), 1)
	var batches [][]id.BindingID
	for chunk := range slices.Chunk(unique, size) {
		batches = append(batches, chunk)
	}

	results := make([]BatchResult, len(batches))
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, batch := range batches {
		g.Go(func() error {
			results[i] = p.deleteBatch(ctx, i, batch)
			return nil
		})
	}
	_ = g.Wait()

	out := PurgeResult{Batches: results}
	for _, r := range results {
		out.Deleted += r.Deleted
		if r.Err != nil {
			out.Failed += len(r.BindingIDs)
		}
	}
	return out
}

func (p *Purger) deleteBatch(ctx context.Context, n int, batch []id.BindingID) BatchResult {
	res := BatchResult{Batch: n, BindingIDs: batch}
	op := func() error {
		res.Attempts++
		deleted, err := p.index.BatchDelete(ctx, batch)
		if err == nil {
			res.Deleted = deleted
			return nil
		}
		if sentinel.IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		p.logger.WarnContext(ctx, "identity index batch delete retrying",
			"batch", n,
			"size", len(batch),
			"attempt", res.Attempts,
			"wait_ms", wait.Milliseconds(),
			"error", err,
		)
	}
	b := backoff.WithContext(backoff.WithMaxRetries(p.newBackOff(), p.maxRetries), ctx)
	if err := backoff.RetryNotify(op, b, notify); err != nil {
		res.Err = err
		res.Error = err.Error()
		p.logger.ErrorContext(ctx, "identity index batch delete failed",
			"batch", n,
			"size", len(batch),
			"attempts", res.Attempts,
			"error", err,
		)
	}
	return res
}
