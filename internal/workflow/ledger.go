package workflow

import (
	"context"
	"fmt"

	"doc-approval/backend/internal/repository"
	"doc-approval/backend/pkg/models"
)

// Ledger is the read side of the history ledger. Entries are only appended
// inside a Manager unit of work and are never updated or removed.
type Ledger struct {
	store repository.HistoryReader
}

// NewLedger wraps a history reader.
func NewLedger(store repository.HistoryReader) *Ledger {
	return &Ledger{store: store}
}

// Entries returns every entry for the document in append order, across
// lifecycles. An unknown document has an empty history.
func (l *Ledger) Entries(ctx context.Context, documentID string) ([]models.HistoryEntry, error) {
	if documentID == "" {
		return nil, ValidationError("documentId is required")
	}
	entries, err := l.store.History(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("read history for %s: %w", documentID, err)
	}
	if entries == nil {
		entries = []models.HistoryEntry{}
	}
	return entries, nil
}

// Lifecycle returns the entries of one start-to-end run of the document.
func (l *Ledger) Lifecycle(ctx context.Context, documentID string, lifecycle int) ([]models.HistoryEntry, error) {
	entries, err := l.Entries(ctx, documentID)
	if err != nil {
		return nil, err
	}
	out := make([]models.HistoryEntry, 0, len(entries))
	for _, e := range entries {
		if e.Lifecycle == lifecycle {
			out = append(out, e)
		}
	}
	return out, nil
}

// Each calls fn for every entry in order until fn returns false.
func (l *Ledger) Each(ctx context.Context, documentID string, fn func(models.HistoryEntry) bool) error {
	entries, err := l.Entries(ctx, documentID)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !fn(e) {
			return nil
		}
	}
	return nil
}
