package query

import (
	"strconv"
	"strings"
)

// Function names accepted in column syntax.
type Function string

const (
	FuncMin    Function = "min"
	FuncMax    Function = "max"
	FuncSum    Function = "sum"
	FuncAvg    Function = "avg"
	FuncCount  Function = "count"
	FuncSubstr Function = "substr"
	FuncGroup  Function = "group"
	FuncConcat Function = "concat"
	FuncJoin   Function = "join"
	FuncSumIf  Function = "sumif"
)

var functions = map[Function]bool{
	FuncMin: true, FuncMax: true, FuncSum: true, FuncAvg: true, FuncCount: true,
	FuncSubstr: true, FuncGroup: true, FuncConcat: true, FuncJoin: true, FuncSumIf: true,
}

// ParseFunction looks up a function by name, ignoring case.
func ParseFunction(name string) (Function, bool) {
	fn := Function(strings.ToLower(strings.TrimSpace(name)))
	return fn, functions[fn]
}

// annotationResolver turns normalized column text into expression trees.
type annotationResolver struct {
	distinct   bool
	isDateLike func(path string) bool
}

// resolveCall builds the expression for "func::args".
func (r *annotationResolver) resolveCall(column string) (Expression, error) {
	name, args := splitCall(column)
	fn, ok := ParseFunction(name)
	if !ok {
		return nil, invalidAnnotation(column, "unknown function %q", name)
	}
	if args == "" {
		return nil, invalidAnnotation(column, "%s requires an argument", fn)
	}

	switch fn {
	case FuncSumIf:
		return r.conditional(column, args)
	case FuncJoin, FuncConcat:
		return r.join(column, args)
	case FuncSubstr:
		return r.substring(column, args)
	case FuncGroup:
		arg, err := r.operand(column, args)
		if err != nil {
			return nil, err
		}
		return &GroupConcat{Field: arg, Distinct: r.distinct}, nil
	case FuncMin, FuncMax, FuncSum, FuncAvg, FuncCount:
		arg, err := r.operand(column, args)
		if err != nil {
			return nil, err
		}
		return &AggregateCall{Fn: AggregateFunction(fn), Arg: arg, Distinct: r.distinct}, nil
	}
	return nil, invalidAnnotation(column, "unsupported function %q", fn)
}

// operand is a field reference or a single arithmetic expression.
func (r *annotationResolver) operand(column, text string) (Expression, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, invalidAnnotation(column, "missing operand")
	}
	if containsArithmetic(text) {
		return r.arithmetic(column, text)
	}
	return &FieldRef{Path: text}, nil
}

// arithmetic splits text at its first operator. Subtracting one date-like
// field from another yields a DateDifference.
func (r *annotationResolver) arithmetic(column, text string) (Expression, error) {
	left, op, right, ok := splitArithmetic(text)
	if !ok {
		return nil, invalidAnnotation(column, "arithmetic requires two operands")
	}
	l, rt := &FieldRef{Path: left}, &FieldRef{Path: right}
	if op == OpSubtract && r.isDateLike(left) && r.isDateLike(right) {
		return &DateDifference{Left: l, Right: rt}, nil
	}
	return &BinaryArithmetic{Op: op, Left: l, Right: rt}, nil
}

// conditional parses "value, path=value[, path=value...]".
func (r *annotationResolver) conditional(column, args string) (Expression, error) {
	field, clause, ok := strings.Cut(args, ",")
	if !ok || strings.TrimSpace(clause) == "" {
		return nil, invalidAnnotation(column, "conditional aggregate requires a condition clause")
	}
	value, err := r.operand(column, field)
	if err != nil {
		return nil, err
	}

	var conditions []Condition
	for _, part := range strings.Split(clause, ",") {
		key, raw, ok := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, invalidAnnotation(column, "condition %q must be path=value", strings.TrimSpace(part))
		}
		path, lookup := splitLookup(Normalize(key))
		if lookup == "" {
			lookup = LookupExact
		}
		raw = strings.TrimSpace(raw)
		var v any = raw
		switch {
		case strings.HasPrefix(raw, referenceMarker):
			v = &FieldRef{Path: Normalize(raw[len(referenceMarker):])}
		case lookup == LookupIn:
			v = splitList(raw)
		case lookup == LookupIsNull:
			v = coerceNull(raw)
		}
		conditions = append(conditions, Condition{Path: path, Lookup: lookup, Value: v})
	}
	return &ConditionalAggregate{Value: value, Conditions: conditions}, nil
}

// join concatenates fields and quoted literals.
func (r *annotationResolver) join(column, args string) (Expression, error) {
	var parts []Expression
	for _, arg := range strings.Split(args, ",") {
		arg = strings.TrimSpace(arg)
		if arg == "" {
			continue
		}
		if strings.HasPrefix(arg, `"`) || strings.HasPrefix(arg, "'") {
			parts = append(parts, &Literal{Value: strings.Trim(arg, `"'`)})
			continue
		}
		parts = append(parts, &FieldRef{Path: arg})
	}
	if len(parts) == 0 {
		return nil, invalidAnnotation(column, "join requires at least one argument")
	}
	return &StringJoin{Parts: parts}, nil
}

// substring parses "field[, start[, length]]".
func (r *annotationResolver) substring(column, args string) (Expression, error) {
	parts := strings.Split(args, ",")
	if len(parts) > 3 {
		return nil, invalidAnnotation(column, "substr takes at most three arguments")
	}
	field := strings.TrimSpace(parts[0])
	if field == "" {
		return nil, invalidAnnotation(column, "substr requires a field")
	}
	expr := &Substring{Field: &FieldRef{Path: field}}

	bounds := make([]*int, 2)
	for i, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, invalidAnnotation(column, "substr bound %q is not an integer", p)
		}
		bounds[i] = &n
	}
	expr.Start, expr.Length = bounds[0], bounds[1]
	return expr, nil
}
