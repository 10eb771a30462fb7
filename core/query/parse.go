package query

import (
	"strings"

	"github.com/asaidimu/go-interrogator/core/policy"
)

const (
	callMarker      = "::"
	assignMarker    = ":="
	referenceMarker = "~"
	negationMarker  = "!"
	allSuffix       = policy.PathSeparator + "all"

	arithmeticSymbols = "-+/*"
)

// comparisonSymbols are tried in order; longer symbols come before their
// single character prefixes.
var comparisonSymbols = []struct {
	symbol string
	lookup Lookup
}{
	{"<=", LookupLte},
	{"<>", LookupNe},
	{"<", LookupLt},
	{">=", LookupGte},
	{">", LookupGt},
	{"=", LookupExact},
}

// Normalize converts user facing column text into a canonical path:
// surrounding space is trimmed, "func(args)" becomes "func::args" and dotted
// hops become "__" separated. A dot followed by a digit is kept so numeric
// literals survive. Normalize is idempotent.
func Normalize(text string) string {
	text = strings.TrimSpace(text)
	text = strings.ReplaceAll(text, "(", callMarker)
	text = strings.ReplaceAll(text, ")", "")

	var sb strings.Builder
	sb.Grow(len(text))
	for i := 0; i < len(text); i++ {
		if text[i] == '.' && i+1 < len(text) && isPathStart(text[i+1]) {
			sb.WriteString(policy.PathSeparator)
			continue
		}
		sb.WriteByte(text[i])
	}
	return sb.String()
}

func isPathStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// SplitAssignment splits "alias := expression". The alias is empty when the
// column has no assignment.
func SplitAssignment(column string) (alias, expression string) {
	if i := strings.Index(column, assignMarker); i >= 0 {
		return strings.TrimSpace(column[:i]), column[i+len(assignMarker):]
	}
	return "", column
}

// SplitComparison splits a filter at the first comparison symbol, in priority
// order, that divides it into exactly two parts.
func SplitComparison(text string) (path string, op Lookup, value string, ok bool) {
	for _, s := range comparisonSymbols {
		parts := strings.Split(text, s.symbol)
		if len(parts) == 2 {
			return parts[0], s.lookup, parts[1], true
		}
	}
	return "", "", "", false
}

// isCall reports whether a normalized column is a function call.
func isCall(column string) bool {
	return strings.Contains(column, callMarker)
}

func splitCall(column string) (fn, args string) {
	fn, args, _ = strings.Cut(column, callMarker)
	return strings.TrimSpace(fn), strings.TrimSpace(args)
}

func containsArithmetic(s string) bool {
	return strings.ContainsAny(s, arithmeticSymbols)
}

// splitArithmetic splits at the first arithmetic symbol. Operands may not
// carry their own sign or operators.
func splitArithmetic(s string) (left string, op ArithmeticOperator, right string, ok bool) {
	i := strings.IndexAny(s, arithmeticSymbols)
	if i < 0 {
		return "", "", "", false
	}
	left = strings.TrimSpace(s[:i])
	right = strings.TrimSpace(s[i+1:])
	if left == "" || right == "" {
		return "", "", "", false
	}
	return left, ArithmeticOperator(s[i : i+1]), right, true
}

// rootOf returns the first hop of a path.
func rootOf(path string) string {
	root, _, _ := strings.Cut(path, policy.PathSeparator)
	return root
}

// lastHop returns the final hop of a path.
func lastHop(path string) string {
	if i := strings.LastIndex(path, policy.PathSeparator); i >= 0 {
		return path[i+len(policy.PathSeparator):]
	}
	return path
}

func splitList(value string) []any {
	parts := strings.Split(value, ",")
	out := make([]any, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}
