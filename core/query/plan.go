package query

import (
	"github.com/asaidimu/go-interrogator/core/policy"
	"github.com/asaidimu/go-interrogator/core/schema"
)

// ColumnKind describes how a requested column is produced.
type ColumnKind string

const (
	ColumnField      ColumnKind = "field"      // A plain field path
	ColumnAliased    ColumnKind = "aliased"    // A field path under another name
	ColumnExpression ColumnKind = "expression" // A computed expression
)

// ColumnSpec is one requested output column.
type ColumnSpec struct {
	Alias      string     `json:"alias"`
	Kind       ColumnKind `json:"kind"`
	Path       string     `json:"path,omitempty"`
	Expression Expression `json:"-"`
}

// Projection selects a field path under an alias.
type Projection struct {
	Alias string `json:"alias"`
	Path  string `json:"path"`
}

// OrderKey orders results by a path or alias.
type OrderKey struct {
	Path       string `json:"path"`
	Descending bool   `json:"descending,omitempty"`
}

// Plan is the compiled form of a report request. It is built fresh for every
// request and never shared.
type Plan struct {
	Entity *schema.Entity      `json:"-"`
	Model  *policy.ReportModel `json:"-"`
	Root   string              `json:"root"`

	Columns           []ColumnSpec `json:"columns"`
	Projections       []Projection `json:"projections"`
	Annotations       []Annotation `json:"annotations"`
	Filters           []FilterSpec `json:"filters"`
	Excludes          []FilterSpec `json:"excludes"`
	AllFilters        []AllFilter  `json:"allFilters"`
	AnnotationFilters []FilterSpec `json:"annotationFilters"`
	Ordering          []OrderKey   `json:"ordering"`
	Limit             *int         `json:"limit,omitempty"`
	Offset            int          `json:"offset"`

	Diagnostics []Diagnostic `json:"diagnostics"`
}

// OutputColumns returns the aliases of the requested columns in order.
func (p *Plan) OutputColumns() []string {
	out := make([]string, len(p.Columns))
	for i, c := range p.Columns {
		out[i] = c.Alias
	}
	return out
}

// Annotation returns the expression bound to alias.
func (p *Plan) Annotation(alias string) (Expression, bool) {
	for _, a := range p.Annotations {
		if a.Alias == alias {
			return a.Expression, true
		}
	}
	return nil, false
}

// Metadata returns the report model metadata of the plan's root entity.
func (p *Plan) Metadata() map[string]any {
	if p.Model == nil {
		return nil
	}
	return p.Model.Metadata
}

// PivotPlan is a Plan reshaped into a grid: X values become column heads and
// Y values become rows.
type PivotPlan struct {
	*Plan
	X string `json:"x"`
	Y string `json:"y"`
}

// CellAlias is the row count annotation added to every pivot plan.
const CellAlias = "cell"
