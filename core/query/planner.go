package query

import (
	"errors"
	"fmt"
	"strings"

	"github.com/asaidimu/go-interrogator/core/policy"
	"github.com/asaidimu/go-interrogator/core/schema"
	"go.uber.org/zap"
)

// Options configures plan construction.
type Options struct {
	// DistinctAggregates applies DISTINCT to every plain aggregate and group
	// concatenation.
	DistinctAggregates bool `yaml:"distinctAggregates" json:"distinctAggregates"`
}

// DefaultOptions returns the default planning options.
func DefaultOptions() *Options {
	return &Options{DistinctAggregates: true}
}

// Builder compiles requests into plans. A Builder holds only read-only state
// and may be shared by concurrent requests.
type Builder struct {
	resolver schema.Resolver
	policy   *policy.AccessPolicy
	guard    *policy.Guard
	logger   *zap.Logger
	options  *Options
}

// NewBuilder creates a plan builder.
func NewBuilder(resolver schema.Resolver, accessPolicy *policy.AccessPolicy, logger *zap.Logger, options *Options) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if options == nil {
		options = DefaultOptions()
	}
	return &Builder{
		resolver: resolver,
		policy:   accessPolicy,
		guard:    policy.NewGuard(resolver, accessPolicy),
		logger:   logger,
		options:  options,
	}
}

// Guard returns the join guard used by the builder.
func (b *Builder) Guard() *policy.Guard {
	return b.guard
}

// planContext carries everything that belongs to a single request.
type planContext struct {
	*Builder
	plan      *Plan
	annotator annotationResolver
	// annotations maps every alias a filter may target to its expression.
	annotations map[string]Expression
	// derived holds the aliases of arithmetic columns.
	derived map[string]Expression
}

// Build compiles req into a plan. Model and annotation problems are returned
// as errors; everything else is recorded on Plan.Diagnostics.
func (b *Builder) Build(req *Request) (*Plan, error) {
	pc, err := b.newContext(req)
	if err != nil {
		return nil, err
	}
	if err := pc.addColumns(req.Columns); err != nil {
		return nil, err
	}
	if err := pc.finish(req); err != nil {
		return nil, err
	}
	return pc.plan, nil
}

// BuildPivot compiles req into a pivot plan. The first two columns that pass
// the join guard become the X and Y dimensions; aggregators and a row count
// are added as base annotations.
func (b *Builder) BuildPivot(req *Request) (*PivotPlan, error) {
	pc, err := b.newContext(req)
	if err != nil {
		return nil, err
	}

	var dims []string
	for _, raw := range req.Columns {
		column := Normalize(raw)
		if column == "" {
			continue
		}
		if b.guard.IsForbiddenJoin(column, pc.plan.Entity) {
			pc.diagnose(forbiddenColumn(column))
			continue
		}
		dims = append(dims, column)
		if len(dims) == 2 {
			break
		}
	}
	if len(dims) < 2 {
		return nil, fmt.Errorf("pivot requires two permitted columns, got %d", len(dims))
	}

	for _, raw := range req.Aggregators {
		if err := pc.addAggregator(raw); err != nil {
			return nil, err
		}
	}
	pc.addAnnotation(CellAlias, &AggregateCall{Fn: AggregateCount, Arg: &Literal{Value: 1}})

	if err := pc.addColumns(dims); err != nil {
		return nil, err
	}
	if err := pc.finish(req); err != nil {
		return nil, err
	}
	return &PivotPlan{Plan: pc.plan, X: dims[0], Y: dims[1]}, nil
}

func (b *Builder) newContext(req *Request) (*planContext, error) {
	if req == nil {
		return nil, errors.New("request cannot be nil")
	}
	entity, err := b.resolver.Entity(req.Root)
	if err != nil {
		return nil, &ModelNotAllowedError{Entity: req.Root, Reason: err.Error()}
	}
	model, ok := b.policy.ReportModel(entity)
	if !ok {
		return nil, &ModelNotAllowedError{Entity: entity.Ref(), Reason: "not permitted as a report root"}
	}

	pc := &planContext{
		Builder: b,
		plan: &Plan{
			Entity: entity,
			Model:  model,
			Root:   entity.Ref(),
		},
		annotations: make(map[string]Expression),
		derived:     make(map[string]Expression),
	}
	pc.annotator = annotationResolver{
		distinct:   b.options.DistinctAggregates,
		isDateLike: pc.isDateLike,
	}
	return pc, nil
}

func (pc *planContext) finish(req *Request) error {
	for i, raw := range req.Filters {
		if err := pc.addFilter(i, raw); err != nil {
			return err
		}
	}
	pc.addOrdering(req.OrderBy)
	pc.plan.Limit = req.Limit
	pc.plan.Offset = req.Offset
	return nil
}

func (pc *planContext) diagnose(d Diagnostic) {
	pc.logger.Debug("Request degraded",
		zap.String("entity", pc.plan.Root),
		zap.String("code", string(d.Code)),
		zap.String("subject", d.Subject),
	)
	pc.plan.Diagnostics = append(pc.plan.Diagnostics, d)
}

func (pc *planContext) forbidden(path string) bool {
	return pc.guard.IsForbiddenJoin(path, pc.plan.Entity)
}

// forbiddenPath returns the first path of expr that the guard rejects.
func (pc *planContext) forbiddenPath(expr Expression) (string, bool) {
	for _, p := range expr.Paths() {
		if pc.forbidden(p) {
			return p, true
		}
	}
	return "", false
}

// isDateLike reports whether path names a date, by name or by schema type.
func (pc *planContext) isDateLike(path string) bool {
	if isDateName(path) {
		return true
	}
	current := pc.plan.Entity
	hops := strings.Split(path, policy.PathSeparator)
	for i, hop := range hops {
		field, err := pc.resolver.ResolveField(current, hop)
		if err != nil {
			return false
		}
		if i == len(hops)-1 {
			return field.Type.IsTemporal()
		}
		if !field.IsRelation() {
			return false
		}
		if current, err = pc.resolver.Target(field); err != nil {
			return false
		}
	}
	return false
}

func (pc *planContext) addAnnotation(alias string, expr Expression) {
	pc.annotations[alias] = expr
	for i := range pc.plan.Annotations {
		if pc.plan.Annotations[i].Alias == alias {
			pc.plan.Annotations[i].Expression = expr
			return
		}
	}
	pc.plan.Annotations = append(pc.plan.Annotations, Annotation{Alias: alias, Expression: expr})
}

func (pc *planContext) addColumns(columns []string) error {
	for _, raw := range columns {
		if err := pc.addColumn(raw, true); err != nil {
			return err
		}
	}
	return nil
}

// addColumn classifies a column as a function call, an arithmetic expression
// or a field path, in that order. Sheets are only expanded one level deep.
func (pc *planContext) addColumn(raw string, expandSheets bool) error {
	alias, text := SplitAssignment(raw)
	column := Normalize(text)
	if column == "" {
		return nil
	}
	if alias == "" {
		alias = column
	}

	switch {
	case isCall(column):
		expr, err := pc.annotator.resolveCall(column)
		if err != nil {
			return err
		}
		if _, bad := pc.forbiddenPath(expr); bad {
			pc.diagnose(forbiddenAggregate(column))
			return nil
		}
		pc.addAnnotation(alias, expr)
		pc.plan.Columns = append(pc.plan.Columns, ColumnSpec{Alias: alias, Kind: ColumnExpression, Expression: expr})

	case containsArithmetic(column):
		expr, err := pc.annotator.arithmetic(column, column)
		if err != nil {
			return err
		}
		if _, bad := pc.forbiddenPath(expr); bad {
			pc.diagnose(forbiddenColumn(column))
			return nil
		}
		pc.addAnnotation(alias, expr)
		pc.derived[alias] = expr
		pc.plan.Columns = append(pc.plan.Columns, ColumnSpec{Alias: alias, Kind: ColumnExpression, Expression: expr})

	default:
		if pc.forbidden(column) {
			pc.diagnose(forbiddenColumn(column))
			return nil
		}
		if sheet, ok := pc.sheet(column); ok && expandSheets && alias == column {
			for _, c := range sheet {
				if err := pc.addColumn(c, false); err != nil {
					return err
				}
			}
			return nil
		}
		pc.plan.Projections = append(pc.plan.Projections, Projection{Alias: alias, Path: column})
		kind := ColumnField
		if alias != column {
			kind = ColumnAliased
			pc.annotations[alias] = &FieldRef{Path: column}
		}
		pc.plan.Columns = append(pc.plan.Columns, ColumnSpec{Alias: alias, Kind: kind, Path: column})
	}
	return nil
}

func (pc *planContext) sheet(name string) ([]string, bool) {
	if pc.plan.Model == nil || pc.plan.Model.Sheets == nil {
		return nil, false
	}
	columns, ok := pc.plan.Model.Sheets[name]
	return columns, ok
}

// addAggregator registers a pivot aggregator as a base annotation.
func (pc *planContext) addAggregator(raw string) error {
	alias, text := SplitAssignment(raw)
	column := Normalize(text)
	if column == "" {
		return nil
	}
	if alias == "" {
		alias = column
	}

	var expr Expression
	var err error
	switch {
	case isCall(column):
		expr, err = pc.annotator.resolveCall(column)
	case containsArithmetic(column):
		expr, err = pc.annotator.arithmetic(column, column)
	default:
		expr = &FieldRef{Path: column}
	}
	if err != nil {
		return err
	}
	if _, bad := pc.forbiddenPath(expr); bad {
		pc.diagnose(forbiddenAggregate(column))
		return nil
	}
	pc.addAnnotation(alias, expr)
	return nil
}

// addFilter compiles one filter expression and routes it to the plan.
func (pc *planContext) addFilter(index int, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	text, op, value, ok := SplitComparison(raw)
	if !ok {
		pc.diagnose(invalidFilter(raw, errors.New("no comparison operator found")))
		return nil
	}

	path := Normalize(text)
	value = strings.TrimSpace(value)

	negate := strings.HasSuffix(path, negationMarker)
	if negate {
		path = strings.TrimSpace(strings.TrimSuffix(path, negationMarker))
	}
	all := strings.HasSuffix(path, allSuffix)
	if all {
		path = strings.TrimSuffix(path, allSuffix)
	}
	path, lookup := splitLookup(path)
	switch {
	case lookup == "":
		lookup = op
	case op != LookupExact:
		pc.diagnose(invalidFilter(raw, fmt.Errorf("lookup %q cannot be combined with a comparison symbol", lookup)))
		return nil
	}
	if path == "" {
		pc.diagnose(invalidFilter(raw, errors.New("missing field")))
		return nil
	}

	if !isCall(path) && pc.forbidden(path) {
		pc.diagnose(forbiddenFilter(path))
		return nil
	}

	var val any = value
	switch {
	case strings.HasPrefix(value, referenceMarker):
		ref := Normalize(value[len(referenceMarker):])
		if pc.forbidden(ref) {
			pc.diagnose(forbiddenFilter(ref))
			return nil
		}
		val = &FieldRef{Path: ref}
	case lookup == LookupIsNull:
		val = coerceNull(value)
	case lookup.IsComparison() && isDateName(path):
		val = coerceDate(value)
	}

	// A filter on a function call builds its own annotation, suffixed with the
	// filter position so two filters on the same call do not collide.
	if isCall(path) {
		expr, err := pc.annotator.resolveCall(path)
		if err != nil {
			return err
		}
		if p, bad := pc.forbiddenPath(expr); bad {
			pc.diagnose(forbiddenFilter(p))
			return nil
		}
		alias := fmt.Sprintf("%s#%d", path, index)
		pc.addAnnotation(alias, expr)
		pc.plan.AnnotationFilters = append(pc.plan.AnnotationFilters, FilterSpec{Path: alias, Operator: lookup, Value: val, TargetsAnnotation: true})
		return nil
	}

	if expr, ok := pc.derived[rootOf(path)]; ok {
		if _, isDate := expr.(*DateDifference); isDate {
			if s, ok := val.(string); ok {
				d, err := ParseDuration(s)
				if err != nil {
					pc.diagnose(invalidFilter(raw, err))
					return nil
				}
				val = d
			}
		}
		pc.plan.AnnotationFilters = append(pc.plan.AnnotationFilters, FilterSpec{Path: rootOf(path), Operator: lookup, Value: val, TargetsAnnotation: true})
		return nil
	}

	if _, ok := pc.annotations[path]; ok {
		pc.plan.AnnotationFilters = append(pc.plan.AnnotationFilters, FilterSpec{Path: path, Operator: lookup, Value: val, TargetsAnnotation: true})
		return nil
	}

	if all {
		if negate {
			pc.diagnose(invalidFilter(raw, errors.New("an all filter cannot be negated")))
			return nil
		}
		values := splitList(value)
		if lookup.IsComparison() && isDateName(path) {
			for i, v := range values {
				values[i] = coerceDate(v.(string))
			}
		}
		pc.plan.AllFilters = append(pc.plan.AllFilters, AllFilter{Path: path, Operator: lookup, Values: values})
		return nil
	}

	if s, ok := val.(string); ok && lookup == LookupIn {
		val = splitList(s)
	}
	spec := FilterSpec{Path: path, Operator: lookup, Value: val}
	if negate {
		pc.plan.Excludes = append(pc.plan.Excludes, spec)
	} else {
		pc.plan.Filters = append(pc.plan.Filters, spec)
	}
	return nil
}

func (pc *planContext) addOrdering(keys []string) {
	for _, raw := range keys {
		raw = strings.TrimSpace(raw)
		descending := strings.HasPrefix(raw, "-")
		path := Normalize(strings.TrimPrefix(raw, "-"))
		if path == "" {
			continue
		}
		if _, isAlias := pc.annotations[path]; !isAlias && pc.forbidden(path) {
			pc.diagnose(forbiddenOrdering(path))
			continue
		}
		pc.plan.Ordering = append(pc.plan.Ordering, OrderKey{Path: path, Descending: descending})
	}
}
