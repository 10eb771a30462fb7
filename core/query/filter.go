package query

import (
	"strings"

	"github.com/asaidimu/go-interrogator/core/policy"
)

// Lookup is the comparison applied by a filter or a conditional aggregate.
type Lookup string

const (
	LookupExact       Lookup = "exact"
	LookupIExact      Lookup = "iexact"
	LookupContains    Lookup = "contains"
	LookupIContains   Lookup = "icontains"
	LookupStartsWith  Lookup = "startswith"
	LookupIStartsWith Lookup = "istartswith"
	LookupEndsWith    Lookup = "endswith"
	LookupIEndsWith   Lookup = "iendswith"
	LookupIn          Lookup = "in"
	LookupIsNull      Lookup = "isnull"
	LookupLt          Lookup = "lt"
	LookupLte         Lookup = "lte"
	LookupGt          Lookup = "gt"
	LookupGte         Lookup = "gte"
	LookupNe          Lookup = "ne"
)

var lookups = map[Lookup]bool{
	LookupExact: true, LookupIExact: true,
	LookupContains: true, LookupIContains: true,
	LookupStartsWith: true, LookupIStartsWith: true,
	LookupEndsWith: true, LookupIEndsWith: true,
	LookupIn: true, LookupIsNull: true,
	LookupLt: true, LookupLte: true, LookupGt: true, LookupGte: true, LookupNe: true,
}

// IsValid reports whether l is a known lookup.
func (l Lookup) IsValid() bool {
	return lookups[l]
}

// IsComparison reports whether l compares a value by equality or order.
func (l Lookup) IsComparison() bool {
	switch l {
	case LookupExact, LookupNe, LookupLt, LookupLte, LookupGt, LookupGte:
		return true
	}
	return false
}

// splitLookup removes a trailing lookup hop from path. The lookup is empty
// when the path has none.
func splitLookup(path string) (string, Lookup) {
	i := strings.LastIndex(path, policy.PathSeparator)
	if i < 0 {
		return path, ""
	}
	if l := Lookup(path[i+len(policy.PathSeparator):]); l.IsValid() {
		return path[:i], l
	}
	return path, ""
}

// FilterSpec is a single compiled predicate. Value may be a *FieldRef for a
// cross-field comparison, a time.Duration for date arithmetic, a []any for
// LookupIn or a bool for LookupIsNull.
type FilterSpec struct {
	Path              string `json:"path"`
	Operator          Lookup `json:"operator"`
	Value             any    `json:"value"`
	TargetsAnnotation bool   `json:"targetsAnnotation,omitempty"`
}

// AllFilter requires every value to match independently.
type AllFilter struct {
	Path     string `json:"path"`
	Operator Lookup `json:"operator"`
	Values   []any  `json:"values"`
}

// Specs expands the filter into one predicate per value.
func (f AllFilter) Specs() []FilterSpec {
	specs := make([]FilterSpec, len(f.Values))
	for i, v := range f.Values {
		specs[i] = FilterSpec{Path: f.Path, Operator: f.Operator, Value: v}
	}
	return specs
}

// isDateName reports whether the final hop of path names a date.
func isDateName(path string) bool {
	return strings.HasSuffix(strings.ToLower(lastHop(path)), "date")
}

// coerceDate pads a partial date such as "2019" or "2019-06" to a full date.
func coerceDate(value string) string {
	v := value + "-01-01"
	if len(v) > 10 {
		v = v[:10]
	}
	return v
}

// coerceNull reads the value of an isnull filter.
func coerceNull(value string) bool {
	if value == "False" || value == "0" {
		return false
	}
	return value != ""
}
