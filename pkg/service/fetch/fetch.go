// Package fetch implements a one-shot iterator over paginated listing
// endpoints that detects and recovers from silently truncated listings.
package fetch

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
	"github.com/secmon-lab/switchboard/pkg/utils/logging"
	"github.com/secmon-lab/switchboard/pkg/utils/retry"
)

// ErrAlreadyConsumed is yielded when a Fetcher is iterated a second time
var ErrAlreadyConsumed = goerr.New("fetcher already consumed")

const (
	defaultMaxPages       = 10000
	defaultRecoveryMargin = 2
	defaultPageTimeout    = 30 * time.Second
)

// ListFunc requests one page from a provider
type ListFunc[T any] func(ctx context.Context, req model.PageRequest) (*model.Page[T], error)

// Stats describes the progress of a fetch
type Stats struct {
	// Requests counts logical page requests, not retry attempts
	Requests  int
	ItemsSeen int

	// LastPage and LastCursor identify the last page fetched successfully;
	// LastCursor is the cursor sent to request it
	LastPage   int
	LastCursor string

	Total    int
	HasTotal bool

	// RecoveredPages counts pages requested by truncation recovery
	RecoveredPages int

	// LowConfidence is set when the provider never reported a total, so a
	// truncated listing cannot be detected
	LowConfidence bool
}

// Fetcher iterates all pages of one listing. It is not restartable.
type Fetcher[T any] struct {
	list ListFunc[T]

	pageSize       int
	maxPages       int
	recoveryMargin int
	pageTimeout    time.Duration
	modifiedSince  time.Time
	policy         retry.Policy
	retryOpts      []retry.Option
	key            func(T) string

	consumed atomic.Bool
	mu       sync.Mutex
	stats    Stats
}

// Option configures a Fetcher
type Option[T any] func(*Fetcher[T])

// WithPageSize sets the requested page size. Zero leaves it to the provider.
func WithPageSize[T any](n int) Option[T] {
	return func(f *Fetcher[T]) {
		f.pageSize = n
	}
}

// WithMaxPages caps the number of page requests regardless of total
func WithMaxPages[T any](n int) Option[T] {
	return func(f *Fetcher[T]) {
		f.maxPages = n
	}
}

// WithRecoveryMargin sets how many requests beyond ceil(total/pageSize) are
// allowed for truncation recovery
func WithRecoveryMargin[T any](n int) Option[T] {
	return func(f *Fetcher[T]) {
		f.recoveryMargin = n
	}
}

// WithPageTimeout bounds each page request attempt
func WithPageTimeout[T any](d time.Duration) Option[T] {
	return func(f *Fetcher[T]) {
		f.pageTimeout = d
	}
}

// WithModifiedSince requests only records modified after t
func WithModifiedSince[T any](t time.Time) Option[T] {
	return func(f *Fetcher[T]) {
		f.modifiedSince = t
	}
}

// WithRetryPolicy sets the per-page retry policy
func WithRetryPolicy[T any](p retry.Policy, opts ...retry.Option) Option[T] {
	return func(f *Fetcher[T]) {
		f.policy = p
		f.retryOpts = opts
	}
}

// WithKey lets the fetcher tell new records from repeated ones. A recovery
// page that yields no new key ends the fetch with ErrPaginationExhausted.
func WithKey[T any](key func(T) string) Option[T] {
	return func(f *Fetcher[T]) {
		f.key = key
	}
}

// New creates a Fetcher over list
func New[T any](list ListFunc[T], opts ...Option[T]) *Fetcher[T] {
	f := &Fetcher[T]{
		list:           list,
		maxPages:       defaultMaxPages,
		recoveryMargin: defaultRecoveryMargin,
		pageTimeout:    defaultPageTimeout,
		policy:         retry.DefaultPolicy(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Stats returns a snapshot of the fetch progress
func (f *Fetcher[T]) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// Items yields every record of every page
func (f *Fetcher[T]) Items(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for items, err := range f.Pages(ctx) {
			if err != nil {
				var zero T
				yield(zero, err)
				return
			}
			for _, item := range items {
				if !yield(item, nil) {
					return
				}
			}
		}
	}
}

// Pages yields one batch per page. Iteration ends after the first error;
// pages yielded before it are complete and may be applied.
func (f *Fetcher[T]) Pages(ctx context.Context) iter.Seq2[[]T, error] {
	return func(yield func([]T, error) bool) {
		if !f.consumed.CompareAndSwap(false, true) {
			yield(nil, ErrAlreadyConsumed)
			return
		}
		if err := f.run(ctx, yield); err != nil {
			yield(nil, err)
		}
	}
}

// run returns nil when iteration ended normally or the consumer stopped
func (f *Fetcher[T]) run(ctx context.Context, yield func([]T, error) bool) error {
	logger := logging.From(ctx)

	req := model.PageRequest{
		Page:          1,
		PageSize:      f.pageSize,
		ModifiedSince: f.modifiedSince,
	}
	bound := f.maxPages
	recovering := false

	// largest page the provider has actually returned; providers may cap
	// the page size below what was requested
	observed := 0

	var seenKeys map[string]struct{}
	if f.key != nil {
		seenKeys = make(map[string]struct{})
	}

	for {
		if err := ctx.Err(); err != nil {
			return goerr.Wrap(context.Cause(ctx), "fetch cancelled", goerr.V(model.PageKey, req.Page))
		}

		stats := f.Stats()
		if bound > 0 && stats.Requests >= bound {
			return goerr.Wrap(model.ErrPaginationExhausted, "page request bound reached",
				goerr.V("requests", stats.Requests),
				goerr.V("seen", stats.ItemsSeen),
				goerr.V("total", stats.Total))
		}

		page, err := f.fetchPage(ctx, req)
		if err != nil {
			return goerr.Wrap(err, "failed to fetch page",
				goerr.V(model.PageKey, req.Page),
				goerr.V("cursor", req.Cursor))
		}

		current := req.Page
		if page.CurrentPage > 0 {
			current = page.CurrentPage
		}

		newItems := len(page.Items)
		if seenKeys != nil {
			newItems = 0
			for _, item := range page.Items {
				k := f.key(item)
				if _, ok := seenKeys[k]; !ok {
					seenKeys[k] = struct{}{}
					newItems++
				}
			}
		}

		observed = max(observed, len(page.Items))

		f.mu.Lock()
		f.stats.Requests++
		if page.HasTotal {
			f.stats.Total = page.Total
			f.stats.HasTotal = true
			bound = f.requestBound(page.Total, observed)
		}
		if !f.stats.HasTotal {
			f.stats.LowConfidence = true
		}
		f.stats.ItemsSeen += newItems
		f.stats.LastPage = current
		f.stats.LastCursor = req.Cursor
		stats = f.stats
		f.mu.Unlock()

		if recovering && newItems == 0 {
			return goerr.Wrap(model.ErrPaginationExhausted, "recovery page returned no new records",
				goerr.V(model.PageKey, current),
				goerr.V("seen", stats.ItemsSeen),
				goerr.V("total", stats.Total))
		}

		if len(page.Items) > 0 && !yield(page.Items, nil) {
			return nil
		}

		if stats.HasTotal && stats.ItemsSeen >= stats.Total {
			return nil
		}

		switch {
		case page.NextCursor != "" && page.NextCursor != req.Cursor:
			req.Cursor = page.NextCursor
			req.Page = current + 1
			recovering = false

		case page.NextPage > current:
			req.Cursor = ""
			req.Page = page.NextPage
			recovering = false

		case stats.HasTotal:
			// The provider claims more records than it handed out but gave
			// no way forward. Step to the next page number explicitly.
			logger.Warn("suspected truncated listing, requesting next page explicitly",
				"page", current,
				"seen", stats.ItemsSeen,
				"total", stats.Total)
			req.Cursor = ""
			req.Page = current + 1
			recovering = true
			f.mu.Lock()
			f.stats.RecoveredPages++
			f.mu.Unlock()

		default:
			return nil
		}
	}
}

// requestBound derives the request budget from the effective page size:
// the requested size, lowered to the largest page actually returned
func (f *Fetcher[T]) requestBound(total, observed int) int {
	size := f.pageSize
	if observed > 0 && (size <= 0 || observed < size) {
		size = observed
	}
	if size <= 0 {
		return f.maxPages
	}

	expected := (total + size - 1) / size
	bound := expected + f.recoveryMargin
	if bound < 1 {
		bound = 1
	}
	if f.maxPages > 0 && f.maxPages < bound {
		return f.maxPages
	}
	return bound
}

func (f *Fetcher[T]) fetchPage(ctx context.Context, req model.PageRequest) (*model.Page[T], error) {
	var page *model.Page[T]

	_, err := retry.Do(ctx, f.policy, func(ctx context.Context, attempt int) error {
		pageCtx := ctx
		if f.pageTimeout > 0 {
			var cancel context.CancelFunc
			pageCtx, cancel = context.WithTimeout(ctx, f.pageTimeout)
			defer cancel()
		}

		p, err := f.list(pageCtx, req)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
				return goerr.Wrap(model.ErrTransientNetwork, "page request timed out",
					goerr.V(model.PageKey, req.Page),
					goerr.V("attempt", attempt),
					goerr.V("timeout", f.pageTimeout.String()))
			}
			return err
		}
		page = p
		return nil
	}, f.retryOpts...)
	if err != nil {
		return nil, err
	}

	if page == nil {
		page = &model.Page[T]{}
	}
	return page, nil
}
