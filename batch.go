package polyvec

import (
	"fmt"
	"strings"
)

// ItemResult is the outcome of processing one item in a batch mutation.
type ItemResult struct {
	ID  string
	Err error
}

// OK reports whether the item succeeded.
func (r ItemResult) OK() bool { return r.Err == nil }

// BatchError reports per-item outcomes of a batch mutation on adapters
// without all-or-nothing semantics. The operation's other return values
// describe the items that did succeed.
type BatchError struct {
	Op      string
	Results []ItemResult
}

// Failed returns the results of items that failed.
func (e *BatchError) Failed() []ItemResult {
	var out []ItemResult
	for _, r := range e.Results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

func (e *BatchError) Error() string {
	failed := e.Failed()
	parts := make([]string, 0, len(failed))
	for _, r := range failed {
		parts = append(parts, fmt.Sprintf("%s: %v", r.ID, r.Err))
	}
	return fmt.Sprintf("polyvec: %s: %d of %d items failed: %s",
		e.Op, len(failed), len(e.Results), strings.Join(parts, "; "))
}

// Unwrap exposes the first item error so errors.Is works on uniform
// failures.
func (e *BatchError) Unwrap() error {
	for _, r := range e.Results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}
