package sync

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingCatalogMapping signals a vendor SKU with no catalog item.
var ErrMissingCatalogMapping = errors.New("sync: no catalog item for vendor sku")

// ItemOutcome is the result of one sub-operation in a batch.
type ItemOutcome struct {
	ID  string
	Err error
}

// BatchResult aggregates per-item outcomes of a tolerant batch stage. A
// failed item is recorded and the batch moves on; the caller decides whether
// the aggregate fails the pass.
type BatchResult struct {
	outcomes []ItemOutcome
}

func (b *BatchResult) Record(id string, err error) {
	b.outcomes = append(b.outcomes, ItemOutcome{ID: id, Err: err})
}

// Failed returns the outcomes that carry an error.
func (b *BatchResult) Failed() []ItemOutcome {
	var failed []ItemOutcome
	for _, outcome := range b.outcomes {
		if outcome.Err != nil {
			failed = append(failed, outcome)
		}
	}
	return failed
}

// Err collapses the batch into a single error, nil when every item
// succeeded.
func (b *BatchResult) Err() error {
	failed := b.Failed()
	if len(failed) == 0 {
		return nil
	}
	parts := make([]string, 0, len(failed))
	for _, outcome := range failed {
		parts = append(parts, fmt.Sprintf("%s: %v", outcome.ID, outcome.Err))
	}
	return fmt.Errorf("sync: %d of %d items failed: %s", len(failed), len(b.outcomes), strings.Join(parts, "; "))
}
