package sqlite

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/asaidimu/go-interrogator/core/persistence"
	"github.com/asaidimu/go-interrogator/core/policy"
	"github.com/asaidimu/go-interrogator/core/query"
	"github.com/asaidimu/go-interrogator/core/schema"
	"github.com/shopspring/decimal"
)

// fragment is a piece of SQL with its positional parameters.
type fragment struct {
	sql  string
	args []any
}

func (f fragment) wrap(prefix, suffix string) fragment {
	return fragment{sql: prefix + f.sql + suffix, args: f.args}
}

func joinFragments(parts []fragment, sep string) (string, []any) {
	sqls := make([]string, len(parts))
	var args []any
	for i, p := range parts {
		sqls[i] = p.sql
		args = append(args, p.args...)
	}
	return strings.Join(sqls, sep), args
}

// compiler hands out table aliases that are unique across a statement and all
// of its subqueries.
type compiler struct {
	store   *SQLiteInteractor
	aliases int
}

func (c *compiler) nextAlias() string {
	alias := "t" + strconv.Itoa(c.aliases)
	c.aliases++
	return alias
}

// scope is one FROM clause: a root table and the joins its paths need.
// Joins are shared by every path with the same prefix.
type scope struct {
	c      *compiler
	entity *schema.Entity
	alias  string
	joins  map[string]*join
	order  []*join
}

type join struct {
	alias  string
	entity *schema.Entity
	sql    string
}

func (c *compiler) newScope(entity *schema.Entity) *scope {
	return &scope{
		c:      c,
		entity: entity,
		alias:  c.nextAlias(),
		joins:  make(map[string]*join),
	}
}

func (s *scope) from() string {
	var sb strings.Builder
	sb.WriteString(s.c.store.tableName(s.entity) + " " + s.alias)
	for _, j := range s.order {
		sb.WriteString(" " + j.sql)
	}
	return sb.String()
}

func (s *scope) qualified(alias, column string) string {
	return alias + "." + quoteIdentifier(column)
}

// join returns the join for relation field reached through key, creating it
// on first use.
func (s *scope) join(key, parentAlias string, parent *schema.Entity, field *schema.FieldDefinition) (*join, error) {
	if j, ok := s.joins[key]; ok {
		return j, nil
	}
	resolver := s.c.store.resolver
	target, err := resolver.Target(field)
	if err != nil {
		return nil, err
	}

	alias := s.c.nextAlias()
	var on string
	if field.IsMany() {
		via, err := resolver.ResolveField(target, *field.Relation.Via)
		if err != nil {
			return nil, &persistence.UnknownFieldError{Name: *field.Relation.Via, Entity: target.Ref()}
		}
		on = s.qualified(alias, via.ColumnName()) + " = " + s.qualified(parentAlias, parent.PrimaryKeyName())
	} else {
		on = s.qualified(alias, target.PrimaryKeyName()) + " = " + s.qualified(parentAlias, field.ColumnName())
	}

	j := &join{
		alias:  alias,
		entity: target,
		sql:    fmt.Sprintf("LEFT JOIN %s %s ON %s", s.c.store.tableName(target), alias, on),
	}
	s.joins[key] = j
	s.order = append(s.order, j)
	return j, nil
}

// column resolves a field path to a qualified column, joining every relation
// hop. A path ending on a relation resolves to the target's primary key.
func (s *scope) column(path string) (string, schema.FieldType, error) {
	resolver := s.c.store.resolver
	hops := strings.Split(path, policy.PathSeparator)
	current, alias := s.entity, s.alias

	for i, hop := range hops {
		field, err := resolver.ResolveField(current, hop)
		if err != nil {
			return "", "", &persistence.UnknownFieldError{Name: hop, Entity: current.Ref()}
		}
		last := i == len(hops)-1
		if !field.IsRelation() {
			if !last {
				return "", "", &persistence.UnknownFieldError{Name: hops[i+1], Entity: current.Ref()}
			}
			return s.qualified(alias, field.ColumnName()), field.Type, nil
		}

		j, err := s.join(strings.Join(hops[:i+1], policy.PathSeparator), alias, current, field)
		if err != nil {
			return "", "", err
		}
		current, alias = j.entity, j.alias
	}
	return s.qualified(alias, current.PrimaryKeyName()), schema.FieldTypeInteger, nil
}

// defaultColumns selects the root's primary key, scalar fields and forward
// relation keys.
func (s *scope) defaultColumns() []selected {
	pk := s.entity.PrimaryKeyName()
	columns := []selected{{
		resultColumn: resultColumn{alias: pk, kind: schema.FieldTypeInteger},
		fragment:     fragment{sql: s.qualified(s.alias, pk)},
	}}
	for _, field := range s.entity.Fields {
		if field.Name == pk || field.IsMany() {
			continue
		}
		columns = append(columns, selected{
			resultColumn: resultColumn{alias: field.Name, kind: field.Type},
			fragment:     fragment{sql: s.qualified(s.alias, field.ColumnName())},
		})
	}
	return columns
}

var aggregateSQL = map[query.AggregateFunction]string{
	query.AggregateMin:   "MIN",
	query.AggregateMax:   "MAX",
	query.AggregateSum:   "SUM",
	query.AggregateAvg:   "AVG",
	query.AggregateCount: "COUNT",
}

// expression compiles expr and reports the kind of value it yields.
func (s *scope) expression(expr query.Expression) (fragment, schema.FieldType, error) {
	switch e := expr.(type) {
	case *query.FieldRef:
		sql, kind, err := s.column(e.Path)
		return fragment{sql: sql}, kind, err

	case *query.Literal:
		return literal(e.Value)

	case *query.BinaryArithmetic:
		left, lk, err := s.expression(e.Left)
		if err != nil {
			return fragment{}, "", err
		}
		right, rk, err := s.expression(e.Right)
		if err != nil {
			return fragment{}, "", err
		}
		lhs := left.sql
		kind := arithmeticKind(lk, rk)
		if e.Op == query.OpDivide {
			lhs = "CAST(" + lhs + " AS REAL)"
			kind = schema.FieldTypeNumber
		}
		return fragment{
			sql:  "(" + lhs + " " + string(e.Op) + " " + right.sql + ")",
			args: append(append([]any(nil), left.args...), right.args...),
		}, kind, nil

	case *query.DateDifference:
		// Days, as julianday differences.
		left, _, err := s.expression(e.Left)
		if err != nil {
			return fragment{}, "", err
		}
		right, _, err := s.expression(e.Right)
		if err != nil {
			return fragment{}, "", err
		}
		return fragment{
			sql:  "(julianday(" + left.sql + ") - julianday(" + right.sql + "))",
			args: append(append([]any(nil), left.args...), right.args...),
		}, schema.FieldTypeNumber, nil

	case *query.AggregateCall:
		fn, ok := aggregateSQL[e.Fn]
		if !ok {
			return fragment{}, "", fmt.Errorf("unsupported aggregate function %q", e.Fn)
		}
		arg, kind, err := s.expression(e.Arg)
		if err != nil {
			return fragment{}, "", err
		}
		switch e.Fn {
		case query.AggregateCount:
			kind = schema.FieldTypeInteger
		case query.AggregateAvg:
			kind = schema.FieldTypeNumber
		}
		distinct := ""
		if e.Distinct {
			distinct = "DISTINCT "
		}
		return fragment{sql: fn + "(" + distinct + arg.sql + ")", args: arg.args}, kind, nil

	case *query.ConditionalAggregate:
		value, kind, err := s.expression(e.Value)
		if err != nil {
			return fragment{}, "", err
		}
		conds := make([]fragment, 0, len(e.Conditions))
		for _, cond := range e.Conditions {
			pred, err := s.filter(query.FilterSpec{Path: cond.Path, Operator: cond.Lookup, Value: cond.Value})
			if err != nil {
				return fragment{}, "", err
			}
			conds = append(conds, pred)
		}
		when, whenArgs := joinFragments(conds, " AND ")
		return fragment{
			sql:  "SUM(CASE WHEN " + when + " THEN " + value.sql + " END)",
			args: append(whenArgs, value.args...),
		}, kind, nil

	case *query.StringJoin:
		parts := make([]fragment, len(e.Parts))
		for i, p := range e.Parts {
			frag, _, err := s.expression(p)
			if err != nil {
				return fragment{}, "", err
			}
			parts[i] = frag.wrap("COALESCE(CAST(", " AS TEXT), '')")
		}
		sql, args := joinFragments(parts, " || ")
		return fragment{sql: "(" + sql + ")", args: args}, schema.FieldTypeString, nil

	case *query.Substring:
		field, _, err := s.expression(e.Field)
		if err != nil {
			return fragment{}, "", err
		}
		start := 1
		if e.Start != nil {
			start = *e.Start
		}
		sql := "SUBSTR(" + field.sql + ", " + strconv.Itoa(start)
		if e.Length != nil {
			sql += ", " + strconv.Itoa(*e.Length)
		}
		return fragment{sql: sql + ")", args: field.args}, schema.FieldTypeString, nil

	case *query.GroupConcat:
		field, _, err := s.expression(e.Field)
		if err != nil {
			return fragment{}, "", err
		}
		distinct := ""
		if e.Distinct {
			distinct = "DISTINCT "
		}
		return fragment{sql: "GROUP_CONCAT(" + distinct + field.sql + ")", args: field.args}, schema.FieldTypeString, nil
	}
	return fragment{}, "", fmt.Errorf("unsupported expression %T", expr)
}

func literal(value any) (fragment, schema.FieldType, error) {
	switch v := value.(type) {
	case int:
		return fragment{sql: strconv.Itoa(v)}, schema.FieldTypeInteger, nil
	case int64:
		return fragment{sql: strconv.FormatInt(v, 10)}, schema.FieldTypeInteger, nil
	case float64:
		return fragment{sql: strconv.FormatFloat(v, 'f', -1, 64)}, schema.FieldTypeNumber, nil
	case bool:
		return fragment{sql: "?", args: []any{prepareValue(schema.FieldTypeBoolean, v)}}, schema.FieldTypeBoolean, nil
	case string:
		return fragment{sql: "?", args: []any{v}}, schema.FieldTypeString, nil
	case nil:
		return fragment{sql: "NULL"}, "", nil
	}
	return fragment{}, "", fmt.Errorf("unsupported literal %T", value)
}

func arithmeticKind(left, right schema.FieldType) schema.FieldType {
	switch {
	case left == schema.FieldTypeNumber || right == schema.FieldTypeNumber:
		return schema.FieldTypeNumber
	case left == schema.FieldTypeDecimal || right == schema.FieldTypeDecimal:
		return schema.FieldTypeDecimal
	case left == schema.FieldTypeInteger && right == schema.FieldTypeInteger:
		return schema.FieldTypeInteger
	}
	return schema.FieldTypeNumber
}

// filter compiles a predicate on a field path.
func (s *scope) filter(spec query.FilterSpec) (fragment, error) {
	sql, kind, err := s.column(spec.Path)
	if err != nil {
		return fragment{}, err
	}
	return s.predicate(fragment{sql: sql}, kind, spec.Operator, spec.Value)
}

// subquery selects root records matching every predicate in a scope of their
// own: "pk IN (SELECT pk ...)", or NOT IN when negate is set.
func (s *scope) subquery(entity *schema.Entity, predicates []query.FilterSpec, negate bool) (fragment, error) {
	sub := s.c.newScope(entity)
	conds := make([]fragment, 0, len(predicates))
	for _, spec := range predicates {
		pred, err := sub.filter(spec)
		if err != nil {
			return fragment{}, err
		}
		conds = append(conds, pred)
	}
	where, args := joinFragments(conds, " AND ")

	pk := entity.PrimaryKeyName()
	op := " IN "
	if negate {
		op = " NOT IN "
	}
	sql := s.qualified(s.alias, pk) + op + "(SELECT " + s.qualified(sub.alias, pk) + " FROM " + sub.from() + " WHERE " + where + ")"
	return fragment{sql: sql, args: args}, nil
}

// predicate compiles "lhs <lookup> value". A *query.FieldRef value compares
// against another column; anything else is bound as a parameter coerced to
// the kind of lhs.
func (s *scope) predicate(lhs fragment, kind schema.FieldType, lookup query.Lookup, value any) (fragment, error) {
	var rhs fragment
	if ref, ok := value.(*query.FieldRef); ok {
		sql, _, err := s.column(ref.Path)
		if err != nil {
			return fragment{}, err
		}
		rhs = fragment{sql: sql}
	} else {
		rhs = fragment{sql: "?", args: []any{coerce(kind, value)}}
	}

	args := func(parts ...fragment) []any {
		var out []any
		for _, p := range parts {
			out = append(out, p.args...)
		}
		return out
	}
	binary := func(format string, parts ...fragment) fragment {
		sqls := make([]any, len(parts))
		for i, p := range parts {
			sqls[i] = p.sql
		}
		return fragment{sql: fmt.Sprintf(format, sqls...), args: args(parts...)}
	}

	switch lookup {
	case query.LookupExact, "":
		if value == nil {
			return lhs.wrap("", " IS NULL"), nil
		}
		return binary("%s = %s", lhs, rhs), nil
	case query.LookupNe:
		return binary("%s <> %s", lhs, rhs), nil
	case query.LookupLt:
		return binary("%s < %s", lhs, rhs), nil
	case query.LookupLte:
		return binary("%s <= %s", lhs, rhs), nil
	case query.LookupGt:
		return binary("%s > %s", lhs, rhs), nil
	case query.LookupGte:
		return binary("%s >= %s", lhs, rhs), nil
	case query.LookupIExact:
		return binary("LOWER(%s) = LOWER(%s)", lhs, rhs), nil
	case query.LookupContains:
		return binary("INSTR(%s, %s) > 0", lhs, rhs), nil
	case query.LookupStartsWith:
		return binary("SUBSTR(%s, 1, LENGTH(%s)) = %s", lhs, rhs, rhs), nil
	case query.LookupEndsWith:
		return binary("SUBSTR(%s, -LENGTH(%s)) = %s", lhs, rhs, rhs), nil
	case query.LookupIContains, query.LookupIStartsWith, query.LookupIEndsWith:
		if _, isRef := value.(*query.FieldRef); isRef {
			return fragment{}, fmt.Errorf("lookup %q does not accept a field reference", lookup)
		}
		pattern := escapeLike(fmt.Sprint(value))
		switch lookup {
		case query.LookupIContains:
			pattern = "%" + pattern + "%"
		case query.LookupIStartsWith:
			pattern += "%"
		default:
			pattern = "%" + pattern
		}
		return fragment{sql: lhs.sql + ` LIKE ? ESCAPE '\'`, args: append(append([]any(nil), lhs.args...), pattern)}, nil
	case query.LookupIn:
		values, ok := value.([]any)
		if !ok {
			values = []any{value}
		}
		if len(values) == 0 {
			return fragment{sql: "1 = 0"}, nil
		}
		placeholders := make([]string, len(values))
		inArgs := append([]any(nil), lhs.args...)
		for i, v := range values {
			placeholders[i] = "?"
			inArgs = append(inArgs, coerce(kind, v))
		}
		return fragment{sql: lhs.sql + " IN (" + strings.Join(placeholders, ", ") + ")", args: inArgs}, nil
	case query.LookupIsNull:
		if truthy(value) {
			return lhs.wrap("", " IS NULL"), nil
		}
		return lhs.wrap("", " IS NOT NULL"), nil
	}
	return fragment{}, fmt.Errorf("unsupported lookup %q", lookup)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func truthy(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "", "false", "0", "no":
			return false
		}
		return true
	case nil:
		return false
	}
	n, ok := query.ToFloat64(value)
	return !ok || n != 0
}

// coerce converts a filter value to the representation comparable with a
// value of kind. Text values compared against numbers are parsed, since SQLite
// orders every number before every text value.
func coerce(kind schema.FieldType, value any) any {
	switch v := value.(type) {
	case time.Duration:
		return v.Hours() / 24
	case decimal.Decimal:
		return v.InexactFloat64()
	case string:
		if kind.IsNumeric() || kind == schema.FieldTypeRelation {
			if n, ok := query.ToInt64(v); ok {
				return n
			}
			if f, ok := query.ToFloat64(v); ok {
				return f
			}
		}
	}
	return prepareValue(kind, value)
}
