// Package persistence defines the data-store contract the report engine runs
// plans against. A DataStore hands out lazy, immutable QuerySets; every
// chained call returns a new QuerySet and nothing touches the database until
// Count or Materialize is called.
package persistence

import (
	"context"

	"github.com/asaidimu/go-interrogator/core/query"
	"github.com/asaidimu/go-interrogator/core/schema"
)

// DataStore opens query sets over entities.
type DataStore interface {
	// All returns a query set over every record of entity.
	All(entity *schema.Entity) QuerySet
}

// QuerySet is a lazy description of a query.
//
// Filter semantics follow the order of calls: predicates of the first Filter
// call share joins with projections and annotations, so they restrict what
// aggregates see. Predicates of later Filter calls, and of Exclude, select
// root records through a subquery of their own. A predicate whose path names
// an annotation or an aliased projection is applied to that value instead,
// after grouping when the value is an aggregate.
type QuerySet interface {
	// Project selects field paths. Without projections the root entity's own
	// columns are selected.
	Project(projections ...query.Projection) QuerySet
	Filter(predicates ...query.FilterSpec) QuerySet
	// Exclude drops root records matching all predicates.
	Exclude(predicates ...query.FilterSpec) QuerySet
	// Annotate adds computed values. Aggregates group the result by every
	// other selected value.
	Annotate(annotations ...query.Annotation) QuerySet
	OrderBy(keys ...query.OrderKey) QuerySet
	Distinct() QuerySet
	// Slice skips offset rows and keeps at most limit rows; a nil limit keeps
	// everything after offset.
	Slice(offset int, limit *int) QuerySet

	Count(ctx context.Context) (int, error)
	Materialize(ctx context.Context) ([]schema.Document, error)
}

// DatabaseInteractor is a DataStore that can also manage the tables backing
// its entities.
type DatabaseInteractor interface {
	DataStore

	// CreateEntity creates the table for entity.
	CreateEntity(ctx context.Context, entity *schema.Entity) error
	// DropEntity drops the table for entity if it exists.
	DropEntity(ctx context.Context, entity *schema.Entity) error
	// EntityExists reports whether the table for entity exists.
	EntityExists(ctx context.Context, entity *schema.Entity) (bool, error)
	// Insert stores records, keyed by field name, and returns them as stored.
	Insert(ctx context.Context, entity *schema.Entity, records []map[string]any) ([]schema.Document, error)
}

// InteractorOptions configures how entities map to tables.
type InteractorOptions struct {
	// TablePrefix is prepended to every table name.
	TablePrefix string `yaml:"tablePrefix" json:"tablePrefix"`

	// IfNotExists adds IF NOT EXISTS to CREATE TABLE statements.
	IfNotExists bool `yaml:"ifNotExists" json:"ifNotExists"`
}
