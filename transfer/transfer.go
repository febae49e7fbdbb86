// Package transfer aggregates the outcomes of many independent, concurrently
// executing blob transfers into a single result.
//
// Failures come in two classes. Transfer-class failures (I/O against a blob
// store) are expected, per-item, and retryable: they are collected, none
// dropped, into one [*BulkError] per batch so a caller can inspect and retry
// selectively. Any other failure indicates a broken precondition; it is
// surfaced immediately and alone, never merged into an aggregate.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Op is one fallible transfer operation. Ops must respect ctx cancellation:
// when a sibling fails with a non-transfer error, the remaining ops are
// canceled.
type Op func(ctx context.Context) error

// Error marks a failure as transfer-class. Blob-store implementations wrap
// their retryable I/O failures in an Error; everything unwrapped is treated
// as a protocol or programmer error.
type Error struct {
	// Op names the operation that failed, e.g. "read" or "write".
	Op string
	// Err is the underlying failure.
	Err error
}

// NewError wraps err as a transfer-class failure.
func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("transfer: %v", e.Err)
	}
	return fmt.Sprintf("transfer %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// BulkError is the composite outcome of a batch in which one or more
// transfers failed with transfer-class errors. It contains every individual
// transfer error from the batch; collection order is not significant.
type BulkError struct {
	errs []error
}

// Errors returns the collected transfer errors.
func (e *BulkError) Errors() []error { return e.errs }

// Unwrap supports errors.Is and errors.As over the collected errors.
func (e *BulkError) Unwrap() []error { return e.errs }

func (e *BulkError) Error() string {
	if len(e.errs) == 1 {
		return e.errs[0].Error()
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d transfer errors:", len(e.errs))
	for _, err := range e.errs {
		b.WriteString("\n\t")
		b.WriteString(err.Error())
	}
	return b.String()
}

// Result is the outcome of a single transfer, as produced by a layer that
// has already classified its failures. Err is nil on success and a
// transfer-class error otherwise.
type Result struct {
	Err error
}

// OK returns a successful result.
func OK() Result { return Result{} }

// Failed returns a failed result carrying a transfer-class error.
func Failed(err error) Result { return Result{Err: err} }

// IsTransferError reports whether err belongs to the expected, retryable
// transfer failure domain: it is or wraps an [*Error] or [*BulkError].
func IsTransferError(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return true
	}
	var be *BulkError
	return errors.As(err, &be)
}

// Aggregator runs batches of transfer operations. The zero value is not
// usable; construct with [NewAggregator].
type Aggregator struct {
	limit int
}

// AggregatorOption configures an Aggregator.
type AggregatorOption func(*Aggregator)

// WithLimit caps the number of concurrently running ops per batch. Zero or
// negative means no cap.
func WithLimit(n int) AggregatorOption {
	return func(a *Aggregator) {
		a.limit = n
	}
}

// NewAggregator creates an Aggregator.
func NewAggregator(opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(a)
	}
	return a
}

// Merge runs all ops concurrently and reduces their outcomes:
//
//   - all ops succeed: returns nil, only after every op has reported success;
//   - one or more ops fail with transfer-class errors: returns one
//     [*BulkError] containing every such error;
//   - any op fails outside the transfer class: the remaining ops are
//     canceled and, once all have returned, that error is returned raw,
//     bypassing aggregation entirely.
//
// A [*BulkError] returned by an op (a nested batch) is flattened into the
// enclosing batch rather than nested.
func (a *Aggregator) Merge(ctx context.Context, ops ...Op) error {
	if len(ops) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	if a.limit > 0 {
		g.SetLimit(a.limit)
	}
	collected := make(chan error, len(ops))
	for _, op := range ops {
		g.Go(func() error {
			err := op(ctx)
			if err == nil {
				return nil
			}
			if IsTransferError(err) {
				collected <- err
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	close(collected)

	var errs []error
	for err := range collected {
		errs = appendFlattened(errs, err)
	}
	if len(errs) == 0 {
		return nil
	}
	return &BulkError{errs: errs}
}

// Collect folds already-classified results into a single outcome: nil when
// every result is ok, otherwise one [*BulkError] over the failures.
func (a *Aggregator) Collect(results ...Result) error {
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			errs = appendFlattened(errs, r.Err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return &BulkError{errs: errs}
}

func appendFlattened(errs []error, err error) []error {
	var be *BulkError
	if errors.As(err, &be) {
		return append(errs, be.errs...)
	}
	return append(errs, err)
}

var defaultAggregator = NewAggregator()

// Merge runs ops through a default unbounded [Aggregator].
func Merge(ctx context.Context, ops ...Op) error {
	return defaultAggregator.Merge(ctx, ops...)
}

// Collect folds results through a default [Aggregator].
func Collect(results ...Result) error {
	return defaultAggregator.Collect(results...)
}
