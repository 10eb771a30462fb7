package query

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Expression is a node of a computed column. The set of node types is closed;
// data stores switch over them exhaustively.
type Expression interface {
	// IsAggregate reports whether evaluating the node groups rows.
	IsAggregate() bool
	// Paths returns every field path the node reads.
	Paths() []string
	String() string

	expressionNode()
}

// FieldRef reads a field path, or an alias defined earlier in the plan.
type FieldRef struct {
	Path string
}

// Literal is a constant value.
type Literal struct {
	Value any
}

// ArithmeticOperator is one of + - * /.
type ArithmeticOperator string

const (
	OpAdd      ArithmeticOperator = "+"
	OpSubtract ArithmeticOperator = "-"
	OpMultiply ArithmeticOperator = "*"
	OpDivide   ArithmeticOperator = "/"
)

// BinaryArithmetic combines two operands with a numeric result.
type BinaryArithmetic struct {
	Op    ArithmeticOperator
	Left  Expression
	Right Expression
}

// DateDifference subtracts two dates. Stores report the result as a number of
// days, fractional when either side carries a time; time.Duration filter
// values are compared in days.
type DateDifference struct {
	Left  Expression
	Right Expression
}

// AggregateFunction enumerates the plain aggregate functions.
type AggregateFunction string

const (
	AggregateMin   AggregateFunction = "min"
	AggregateMax   AggregateFunction = "max"
	AggregateSum   AggregateFunction = "sum"
	AggregateAvg   AggregateFunction = "avg"
	AggregateCount AggregateFunction = "count"
)

// AggregateCall applies an aggregate function to its argument.
type AggregateCall struct {
	Fn       AggregateFunction
	Arg      Expression
	Distinct bool
}

// Condition restricts a ConditionalAggregate to matching rows.
type Condition struct {
	Path   string
	Lookup Lookup
	Value  any
}

// ConditionalAggregate sums Value over the rows matching every condition.
type ConditionalAggregate struct {
	Value      Expression
	Conditions []Condition
}

// StringJoin concatenates its parts as text.
type StringJoin struct {
	Parts []Expression
}

// Substring extracts part of a text value. Start is one based.
type Substring struct {
	Field  Expression
	Start  *int
	Length *int
}

// GroupConcat concatenates the values of a field across grouped rows.
type GroupConcat struct {
	Field    Expression
	Distinct bool
}

func (*FieldRef) expressionNode()             {}
func (*Literal) expressionNode()              {}
func (*BinaryArithmetic) expressionNode()     {}
func (*DateDifference) expressionNode()       {}
func (*AggregateCall) expressionNode()        {}
func (*ConditionalAggregate) expressionNode() {}
func (*StringJoin) expressionNode()           {}
func (*Substring) expressionNode()            {}
func (*GroupConcat) expressionNode()          {}

func (*FieldRef) IsAggregate() bool             { return false }
func (*Literal) IsAggregate() bool              { return false }
func (*AggregateCall) IsAggregate() bool        { return true }
func (*ConditionalAggregate) IsAggregate() bool { return true }
func (*GroupConcat) IsAggregate() bool          { return true }

func (e *BinaryArithmetic) IsAggregate() bool {
	return e.Left.IsAggregate() || e.Right.IsAggregate()
}

func (e *DateDifference) IsAggregate() bool {
	return e.Left.IsAggregate() || e.Right.IsAggregate()
}

func (e *StringJoin) IsAggregate() bool {
	for _, p := range e.Parts {
		if p.IsAggregate() {
			return true
		}
	}
	return false
}

func (e *Substring) IsAggregate() bool { return e.Field.IsAggregate() }

func (e *FieldRef) Paths() []string { return []string{e.Path} }
func (e *Literal) Paths() []string  { return nil }

func (e *BinaryArithmetic) Paths() []string {
	return append(e.Left.Paths(), e.Right.Paths()...)
}

func (e *DateDifference) Paths() []string {
	return append(e.Left.Paths(), e.Right.Paths()...)
}

func (e *AggregateCall) Paths() []string { return e.Arg.Paths() }

func (e *ConditionalAggregate) Paths() []string {
	paths := e.Value.Paths()
	for _, c := range e.Conditions {
		paths = append(paths, c.Path)
		if ref, ok := c.Value.(*FieldRef); ok {
			paths = append(paths, ref.Path)
		}
	}
	return paths
}

func (e *StringJoin) Paths() []string {
	var paths []string
	for _, p := range e.Parts {
		paths = append(paths, p.Paths()...)
	}
	return paths
}

func (e *Substring) Paths() []string   { return e.Field.Paths() }
func (e *GroupConcat) Paths() []string { return e.Field.Paths() }

func (e *FieldRef) String() string { return e.Path }

func (e *Literal) String() string {
	if s, ok := e.Value.(string); ok {
		return fmt.Sprintf("%q", s)
	}
	return fmt.Sprint(e.Value)
}

func (e *BinaryArithmetic) String() string {
	return fmt.Sprintf("%s %s %s", e.Left, e.Op, e.Right)
}

func (e *DateDifference) String() string {
	return fmt.Sprintf("datediff(%s, %s)", e.Left, e.Right)
}

func (e *AggregateCall) String() string {
	if e.Distinct {
		return fmt.Sprintf("%s(distinct %s)", e.Fn, e.Arg)
	}
	return fmt.Sprintf("%s(%s)", e.Fn, e.Arg)
}

func (e *ConditionalAggregate) String() string {
	conds := make([]string, len(e.Conditions))
	for i, c := range e.Conditions {
		conds[i] = fmt.Sprintf("%s__%s=%v", c.Path, c.Lookup, c.Value)
	}
	return fmt.Sprintf("sumif(%s, %s)", e.Value, strings.Join(conds, ", "))
}

func (e *StringJoin) String() string {
	parts := make([]string, len(e.Parts))
	for i, p := range e.Parts {
		parts[i] = p.String()
	}
	return fmt.Sprintf("join(%s)", strings.Join(parts, ", "))
}

func (e *Substring) String() string {
	args := []string{e.Field.String()}
	if e.Start != nil {
		args = append(args, fmt.Sprint(*e.Start))
		if e.Length != nil {
			args = append(args, fmt.Sprint(*e.Length))
		}
	}
	return fmt.Sprintf("substr(%s)", strings.Join(args, ", "))
}

func (e *GroupConcat) String() string {
	if e.Distinct {
		return fmt.Sprintf("group(distinct %s)", e.Field)
	}
	return fmt.Sprintf("group(%s)", e.Field)
}

// Annotation binds a computed expression to an output alias.
type Annotation struct {
	Alias      string
	Expression Expression
}

func (a Annotation) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Alias      string `json:"alias"`
		Expression string `json:"expression"`
		Aggregate  bool   `json:"aggregate"`
	}{a.Alias, a.Expression.String(), a.Expression.IsAggregate()})
}
