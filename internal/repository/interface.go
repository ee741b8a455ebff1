package repository

import (
	"context"
	"errors"

	"doc-approval/backend/pkg/models"
)

var (
	// ErrNotFound is returned when an instance or definition does not exist.
	ErrNotFound = errors.New("repository: not found")
	// ErrVersionConflict is returned when an instance was modified since it
	// was read.
	ErrVersionConflict = errors.New("repository: version conflict")
	// ErrDefinitionExists is returned when a definition id/version is
	// published twice. Published graphs are immutable.
	ErrDefinitionExists = errors.New("repository: definition version already published")
)

// InstanceTx is one unit of work on a single document. Writes made through
// it commit together or not at all.
type InstanceTx interface {
	// Instance returns the document's instance record or ErrNotFound.
	Instance(ctx context.Context) (*models.Instance, error)
	// SaveInstance inserts the record when Version is 0, otherwise updates it
	// if the stored version still matches. Version is bumped on success.
	SaveInstance(ctx context.Context, inst *models.Instance) error
	// AppendHistory appends a ledger entry and assigns its Sequence.
	AppendHistory(ctx context.Context, entry *models.HistoryEntry) error
}

// HistoryReader is the read side of the ledger. There is deliberately no
// update or delete.
type HistoryReader interface {
	// History returns every entry for the document in append order.
	History(ctx context.Context, documentID string) ([]models.HistoryEntry, error)
}

// InstanceStore persists workflow instances and their history.
type InstanceStore interface {
	HistoryReader

	// WithinDocument runs fn serialized against every other unit of work on
	// the same document. fn's writes are committed only if it returns nil.
	WithinDocument(ctx context.Context, documentID string, fn func(ctx context.Context, tx InstanceTx) error) error
	// GetInstance returns the document's instance or ErrNotFound.
	GetInstance(ctx context.Context, documentID string) (*models.Instance, error)
	// ListInstances returns one page of instances and the total match count.
	ListInstances(ctx context.Context, filter models.InstanceFilter) ([]*models.Instance, int, error)
	// Ping checks connectivity.
	Ping(ctx context.Context) error
}

// DefinitionStore persists published stage graphs.
type DefinitionStore interface {
	// SaveDefinition publishes a graph, or returns ErrDefinitionExists.
	SaveDefinition(ctx context.Context, graph *models.StageGraph) error
	// ListDefinitions returns every published graph.
	ListDefinitions(ctx context.Context) ([]*models.StageGraph, error)
}
