// Package query compiles report requests written in the column, filter and
// ordering mini-language into query plans: it normalizes field paths, builds
// expression trees for aggregates and arithmetic, compiles filters into typed
// predicates and assembles everything into a Plan for a data store to run.
package query

import (
	"fmt"
	"strings"
)

// Request is a report request as raw strings.
type Request struct {
	Root        string   `json:"root" yaml:"root"`
	Columns     []string `json:"columns,omitempty" yaml:"columns,omitempty"`
	Filters     []string `json:"filters,omitempty" yaml:"filters,omitempty"`
	OrderBy     []string `json:"orderBy,omitempty" yaml:"orderBy,omitempty"`
	Limit       *int     `json:"limit,omitempty" yaml:"limit,omitempty"`
	Offset      int      `json:"offset,omitempty" yaml:"offset,omitempty"`
	Aggregators []string `json:"aggregators,omitempty" yaml:"aggregators,omitempty"` // Pivot only
}

// RequestBuilder provides a fluent API for building requests.
type RequestBuilder struct {
	request Request
}

// NewRequest starts a request against the "namespace:Name" root entity.
func NewRequest(root string) *RequestBuilder {
	return &RequestBuilder{request: Request{Root: root}}
}

// Build returns the constructed request.
func (rb *RequestBuilder) Build() *Request {
	r := rb.request
	return &r
}

// Clone creates an independent copy of the builder.
func (rb *RequestBuilder) Clone() *RequestBuilder {
	r := rb.request
	r.Columns = append([]string(nil), rb.request.Columns...)
	r.Filters = append([]string(nil), rb.request.Filters...)
	r.OrderBy = append([]string(nil), rb.request.OrderBy...)
	r.Aggregators = append([]string(nil), rb.request.Aggregators...)
	if rb.request.Limit != nil {
		r.Limit = IntPtr(*rb.request.Limit)
	}
	return &RequestBuilder{request: r}
}

// Columns appends raw column expressions.
func (rb *RequestBuilder) Columns(columns ...string) *RequestBuilder {
	rb.request.Columns = append(rb.request.Columns, columns...)
	return rb
}

// Column appends expression under alias.
func (rb *RequestBuilder) Column(alias, expression string) *RequestBuilder {
	return rb.Columns(alias + assignMarker + expression)
}

// Filter appends raw filter expressions.
func (rb *RequestBuilder) Filter(filters ...string) *RequestBuilder {
	rb.request.Filters = append(rb.request.Filters, filters...)
	return rb
}

// OrderBy appends ascending order keys.
func (rb *RequestBuilder) OrderBy(keys ...string) *RequestBuilder {
	rb.request.OrderBy = append(rb.request.OrderBy, keys...)
	return rb
}

// OrderByDesc appends a descending order key.
func (rb *RequestBuilder) OrderByDesc(key string) *RequestBuilder {
	return rb.OrderBy("-" + key)
}

// Limit sets the maximum number of rows.
func (rb *RequestBuilder) Limit(n int) *RequestBuilder {
	rb.request.Limit = IntPtr(n)
	return rb
}

// Offset sets the number of rows to skip.
func (rb *RequestBuilder) Offset(n int) *RequestBuilder {
	rb.request.Offset = n
	return rb
}

// Aggregate appends pivot aggregators.
func (rb *RequestBuilder) Aggregate(expressions ...string) *RequestBuilder {
	rb.request.Aggregators = append(rb.request.Aggregators, expressions...)
	return rb
}

// Where begins a filter on path.
func (rb *RequestBuilder) Where(path string) *ConditionBuilder {
	return &ConditionBuilder{parent: rb, path: path}
}

// ConditionBuilder writes a single filter expression.
type ConditionBuilder struct {
	parent *RequestBuilder
	path   string
	negate bool
}

// Not routes the filter to the exclude set.
func (cb *ConditionBuilder) Not() *ConditionBuilder {
	cb.negate = !cb.negate
	return cb
}

func (cb *ConditionBuilder) add(suffix, symbol string, value any) *RequestBuilder {
	var sb strings.Builder
	sb.WriteString(cb.path)
	sb.WriteString(suffix)
	if cb.negate {
		sb.WriteString(negationMarker)
	}
	sb.WriteString(symbol)
	sb.WriteString(fmt.Sprint(value))
	return cb.parent.Filter(sb.String())
}

func (cb *ConditionBuilder) lookup(l Lookup, value any) *RequestBuilder {
	return cb.add("."+string(l), "=", value)
}

// Eq adds an equality filter.
func (cb *ConditionBuilder) Eq(value any) *RequestBuilder { return cb.add("", "=", value) }

// Ne adds a not-equal filter.
func (cb *ConditionBuilder) Ne(value any) *RequestBuilder { return cb.add("", "<>", value) }

// Lt adds a less-than filter.
func (cb *ConditionBuilder) Lt(value any) *RequestBuilder { return cb.add("", "<", value) }

// Lte adds a less-than-or-equal filter.
func (cb *ConditionBuilder) Lte(value any) *RequestBuilder { return cb.add("", "<=", value) }

// Gt adds a greater-than filter.
func (cb *ConditionBuilder) Gt(value any) *RequestBuilder { return cb.add("", ">", value) }

// Gte adds a greater-than-or-equal filter.
func (cb *ConditionBuilder) Gte(value any) *RequestBuilder { return cb.add("", ">=", value) }

// IExact adds a case-insensitive equality filter.
func (cb *ConditionBuilder) IExact(value string) *RequestBuilder {
	return cb.lookup(LookupIExact, value)
}

// Contains adds a substring filter.
func (cb *ConditionBuilder) Contains(value string) *RequestBuilder {
	return cb.lookup(LookupContains, value)
}

// IContains adds a case-insensitive substring filter.
func (cb *ConditionBuilder) IContains(value string) *RequestBuilder {
	return cb.lookup(LookupIContains, value)
}

// StartsWith adds a prefix filter.
func (cb *ConditionBuilder) StartsWith(value string) *RequestBuilder {
	return cb.lookup(LookupStartsWith, value)
}

// EndsWith adds a suffix filter.
func (cb *ConditionBuilder) EndsWith(value string) *RequestBuilder {
	return cb.lookup(LookupEndsWith, value)
}

// IsNull adds a null check.
func (cb *ConditionBuilder) IsNull(null bool) *RequestBuilder {
	v := "False"
	if null {
		v = "True"
	}
	return cb.lookup(LookupIsNull, v)
}

// In adds a membership filter.
func (cb *ConditionBuilder) In(values ...any) *RequestBuilder {
	return cb.lookup(LookupIn, joinValues(values))
}

// All requires every value to match separately.
func (cb *ConditionBuilder) All(values ...any) *RequestBuilder {
	return cb.add(".all", "=", joinValues(values))
}

// EqField compares against another field instead of a literal.
func (cb *ConditionBuilder) EqField(path string) *RequestBuilder {
	return cb.add("", "=", referenceMarker+path)
}

func joinValues(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ",")
}
