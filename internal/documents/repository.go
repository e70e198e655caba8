package documents

import (
	"context"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/docflow"
)

// ListFilter narrows document listings.
type ListFilter struct {
	Kind    docflow.Kind
	Status  docflow.State
	PartyID int64
	Limit   int
	Offset  int
}

// RepositoryPort defines data access used by the documents service and
// the read-side projector.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (*Document, error)
	List(ctx context.Context, filter ListFilter) ([]Document, error)
	// ListChildren returns documents whose SourceID references parent,
	// optionally restricted to one kind, lines included.
	ListChildren(ctx context.Context, parentID int64, kind docflow.Kind) ([]Document, error)
}

// TxRepository exposes the write operations that must share one
// transaction so a transition applies atomically or not at all.
type TxRepository interface {
	Get(ctx context.Context, id int64) (*Document, error)
	Insert(ctx context.Context, doc *Document) (int64, error)
	ReplaceLines(ctx context.Context, docID int64, lines []Line) error
	// Save writes header fields (status, totals, amount paid) guarded
	// by the version read earlier; a stale version yields
	// shared.ErrConcurrentModification.
	Save(ctx context.Context, doc *Document, expectedVersion int64) error
	CountActiveChildren(ctx context.Context, parentID int64, kind docflow.Kind) (int, error)
	NextNumber(ctx context.Context, kind docflow.Kind, at time.Time) (string, error)
}
