package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/asaidimu/go-interrogator/core/persistence"
	"github.com/asaidimu/go-interrogator/core/query"
	"github.com/asaidimu/go-interrogator/core/schema"
	"go.uber.org/zap"
)

// querySet is an immutable, lazily compiled query. Every chained call copies
// the receiver.
type querySet struct {
	store  *SQLiteInteractor
	entity *schema.Entity

	projections []query.Projection
	filters     [][]query.FilterSpec // One entry per Filter call
	excludes    [][]query.FilterSpec // One entry per Exclude call
	annotations []query.Annotation
	ordering    []query.OrderKey
	distinct    bool
	offset      int
	limit       *int
}

var _ persistence.QuerySet = (*querySet)(nil)

func (qs *querySet) clone() *querySet {
	c := *qs
	c.projections = append([]query.Projection(nil), qs.projections...)
	c.filters = append([][]query.FilterSpec(nil), qs.filters...)
	c.excludes = append([][]query.FilterSpec(nil), qs.excludes...)
	c.annotations = append([]query.Annotation(nil), qs.annotations...)
	c.ordering = append([]query.OrderKey(nil), qs.ordering...)
	return &c
}

func (qs *querySet) Project(projections ...query.Projection) persistence.QuerySet {
	c := qs.clone()
	c.projections = append(c.projections, projections...)
	return c
}

func (qs *querySet) Filter(predicates ...query.FilterSpec) persistence.QuerySet {
	c := qs.clone()
	c.filters = append(c.filters, append([]query.FilterSpec(nil), predicates...))
	return c
}

func (qs *querySet) Exclude(predicates ...query.FilterSpec) persistence.QuerySet {
	c := qs.clone()
	if len(predicates) > 0 {
		c.excludes = append(c.excludes, append([]query.FilterSpec(nil), predicates...))
	}
	return c
}

func (qs *querySet) Annotate(annotations ...query.Annotation) persistence.QuerySet {
	c := qs.clone()
	c.annotations = append(c.annotations, annotations...)
	return c
}

func (qs *querySet) OrderBy(keys ...query.OrderKey) persistence.QuerySet {
	c := qs.clone()
	c.ordering = append(c.ordering, keys...)
	return c
}

func (qs *querySet) Distinct() persistence.QuerySet {
	c := qs.clone()
	c.distinct = true
	return c
}

func (qs *querySet) Slice(offset int, limit *int) persistence.QuerySet {
	c := qs.clone()
	c.offset = offset
	if limit != nil {
		c.limit = query.IntPtr(*limit)
	} else {
		c.limit = nil
	}
	return c
}

// Count returns the number of rows the query set yields.
func (qs *querySet) Count(ctx context.Context) (int, error) {
	compiled, err := qs.compile()
	if err != nil {
		return 0, err
	}
	stmt := "SELECT COUNT(*) FROM (" + compiled.sql + ")"
	qs.store.logger.Debug("Executing SQL COUNT", zap.String("sql", stmt), zap.Any("params", compiled.args))

	var count int
	if err := qs.store.db.QueryRowContext(ctx, stmt, compiled.args...).Scan(&count); err != nil {
		qs.store.logger.Error("Failed to execute COUNT query", zap.Error(err), zap.String("sql", stmt))
		return 0, fmt.Errorf("failed to execute COUNT query: %w", err)
	}
	return count, nil
}

// Materialize runs the query and returns its rows.
func (qs *querySet) Materialize(ctx context.Context) ([]schema.Document, error) {
	compiled, err := qs.compile()
	if err != nil {
		return nil, err
	}
	qs.store.logger.Debug("Executing SQL SELECT", zap.String("sql", compiled.sql), zap.Any("params", compiled.args))

	rows, err := qs.store.db.QueryContext(ctx, compiled.sql, compiled.args...)
	if err != nil {
		qs.store.logger.Error("Failed to execute SELECT query", zap.Error(err), zap.String("sql", compiled.sql))
		return nil, fmt.Errorf("failed to execute SELECT query: %w", err)
	}
	defer rows.Close()

	kinds := make(map[string]schema.FieldType, len(compiled.columns))
	for _, c := range compiled.columns {
		kinds[c.alias] = c.kind
	}
	return readRows(qs.store.logger, kinds, rows)
}

// SQL returns the statement and parameters the query set runs.
func (qs *querySet) SQL() (string, []any, error) {
	compiled, err := qs.compile()
	if err != nil {
		return "", nil, err
	}
	return compiled.sql, compiled.args, nil
}

type compiledQuery struct {
	sql     string
	args    []any
	columns []resultColumn
}

type selected struct {
	resultColumn
	fragment
	aggregate bool
}

// compile builds the SELECT statement. Parameters are collected per clause and
// concatenated in clause order, since joins discovered late are written
// before the clauses that caused them.
func (qs *querySet) compile() (*compiledQuery, error) {
	c := &compiler{store: qs.store}
	root := c.newScope(qs.entity)

	named := qs.namedExpressions()

	// SELECT
	var columns []selected
	if len(qs.projections) == 0 {
		columns = root.defaultColumns()
	}
	for _, p := range qs.projections {
		sql, kind, err := root.column(p.Path)
		if err != nil {
			return nil, err
		}
		columns = append(columns, selected{resultColumn: resultColumn{alias: p.Alias, kind: kind}, fragment: fragment{sql: sql}})
	}
	for _, a := range qs.uniqueAnnotations() {
		frag, kind, err := root.expression(a.Expression)
		if err != nil {
			return nil, err
		}
		columns = append(columns, selected{
			resultColumn: resultColumn{alias: a.Alias, kind: kind},
			fragment:     frag,
			aggregate:    a.Expression.IsAggregate(),
		})
	}

	// WHERE and HAVING
	var where, having []fragment
	addNamed := func(spec query.FilterSpec, expr query.Expression, negate bool) error {
		lhs, kind, err := root.expression(expr)
		if err != nil {
			return err
		}
		pred, err := root.predicate(lhs, kind, spec.Operator, spec.Value)
		if err != nil {
			return err
		}
		if negate {
			pred = pred.wrap("NOT (", ")")
		}
		if expr.IsAggregate() {
			having = append(having, pred)
		} else {
			where = append(where, pred)
		}
		return nil
	}

	for i, call := range qs.filters {
		var plain []query.FilterSpec
		for _, spec := range call {
			if expr, ok := named[spec.Path]; ok {
				if err := addNamed(spec, expr, false); err != nil {
					return nil, err
				}
				continue
			}
			if spec.TargetsAnnotation {
				return nil, &persistence.UnknownFieldError{Name: spec.Path, Entity: qs.entity.Ref()}
			}
			plain = append(plain, spec)
		}
		if len(plain) == 0 {
			continue
		}
		if i == 0 {
			for _, spec := range plain {
				pred, err := root.filter(spec)
				if err != nil {
					return nil, err
				}
				where = append(where, pred)
			}
			continue
		}
		sub, err := root.subquery(qs.entity, plain, false)
		if err != nil {
			return nil, err
		}
		where = append(where, sub)
	}

	for _, call := range qs.excludes {
		var plain []query.FilterSpec
		for _, spec := range call {
			if expr, ok := named[spec.Path]; ok {
				if err := addNamed(spec, expr, true); err != nil {
					return nil, err
				}
				continue
			}
			plain = append(plain, spec)
		}
		if len(plain) == 0 {
			continue
		}
		sub, err := root.subquery(qs.entity, plain, true)
		if err != nil {
			return nil, err
		}
		where = append(where, sub)
	}

	// ORDER BY
	aliases := make(map[string]bool, len(columns))
	for _, col := range columns {
		aliases[col.alias] = true
	}
	var order []string
	for _, key := range qs.ordering {
		var term string
		if aliases[key.Path] {
			term = quoteIdentifier(key.Path)
		} else {
			sql, _, err := root.column(key.Path)
			if err != nil {
				return nil, err
			}
			term = sql
		}
		if key.Descending {
			term += " DESC"
		}
		order = append(order, term)
	}

	// Assemble
	var sb strings.Builder
	var args []any
	sb.WriteString("SELECT ")
	if qs.distinct {
		sb.WriteString("DISTINCT ")
	}
	grouped := len(having) > 0
	var groupBy []string
	selectTerms := make([]string, len(columns))
	result := make([]resultColumn, len(columns))
	for i, col := range columns {
		selectTerms[i] = col.sql + " AS " + quoteIdentifier(col.alias)
		args = append(args, col.args...)
		result[i] = col.resultColumn
		if col.aggregate {
			grouped = true
		} else {
			groupBy = append(groupBy, fmt.Sprint(i+1))
		}
	}
	sb.WriteString(strings.Join(selectTerms, ", "))
	sb.WriteString(" FROM ")
	sb.WriteString(root.from())

	if len(where) > 0 {
		clause, whereArgs := joinFragments(where, " AND ")
		sb.WriteString(" WHERE " + clause)
		args = append(args, whereArgs...)
	}
	if grouped && len(groupBy) > 0 {
		sb.WriteString(" GROUP BY " + strings.Join(groupBy, ", "))
	}
	if len(having) > 0 {
		clause, havingArgs := joinFragments(having, " AND ")
		sb.WriteString(" HAVING " + clause)
		args = append(args, havingArgs...)
	}
	if len(order) > 0 {
		sb.WriteString(" ORDER BY " + strings.Join(order, ", "))
	}
	if qs.limit != nil || qs.offset > 0 {
		limit := -1
		if qs.limit != nil {
			limit = *qs.limit
		}
		sb.WriteString(" LIMIT ? OFFSET ?")
		args = append(args, limit, qs.offset)
	}

	return &compiledQuery{sql: sb.String(), args: args, columns: result}, nil
}

// namedExpressions maps every name a predicate may target instead of a field
// path: annotation aliases and aliased projections.
func (qs *querySet) namedExpressions() map[string]query.Expression {
	named := make(map[string]query.Expression)
	for _, p := range qs.projections {
		if p.Alias != p.Path {
			named[p.Alias] = &query.FieldRef{Path: p.Path}
		}
	}
	for _, a := range qs.annotations {
		named[a.Alias] = a.Expression
	}
	return named
}

// uniqueAnnotations keeps the last annotation for every alias, in first-seen
// order.
func (qs *querySet) uniqueAnnotations() []query.Annotation {
	index := make(map[string]int)
	var out []query.Annotation
	for _, a := range qs.annotations {
		if i, ok := index[a.Alias]; ok {
			out[i] = a
			continue
		}
		index[a.Alias] = len(out)
		out = append(out, a)
	}
	return out
}
