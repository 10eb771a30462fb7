package query

import "fmt"

// DiagnosticCode classifies a non-fatal problem found while planning or
// executing a report.
type DiagnosticCode string

const (
	DiagnosticForbiddenJoin   DiagnosticCode = "FORBIDDEN_JOIN"
	DiagnosticInvalidFilter   DiagnosticCode = "INVALID_FILTER"
	DiagnosticInvalidLimit    DiagnosticCode = "INVALID_LIMIT"
	DiagnosticUnknownField    DiagnosticCode = "UNKNOWN_FIELD"
	DiagnosticExecutionFailed DiagnosticCode = "EXECUTION_FAILED"
	DiagnosticNoRows          DiagnosticCode = "NO_ROWS"
)

// Diagnostic is a user-facing message describing a dropped or degraded part
// of a request.
type Diagnostic struct {
	Code    DiagnosticCode `json:"code"`
	Message string         `json:"message"`
	Subject string         `json:"subject,omitempty"` // The column, filter or field concerned
}

func (d Diagnostic) String() string {
	return d.Message
}

func forbiddenColumn(column string) Diagnostic {
	return Diagnostic{
		Code:    DiagnosticForbiddenJoin,
		Message: fmt.Sprintf("Joining tables with the column [%s] is forbidden, this column is removed from the output.", column),
		Subject: column,
	}
}

func forbiddenAggregate(column string) Diagnostic {
	return Diagnostic{
		Code:    DiagnosticForbiddenJoin,
		Message: fmt.Sprintf("Aggregating tables using the column [%s] is forbidden, this column is removed from the output.", column),
		Subject: column,
	}
}

func forbiddenFilter(path string) Diagnostic {
	return Diagnostic{
		Code:    DiagnosticForbiddenJoin,
		Message: fmt.Sprintf("Filtering with the column [%s] is forbidden, this filter is removed from the output.", path),
		Subject: path,
	}
}

func forbiddenOrdering(path string) Diagnostic {
	return Diagnostic{
		Code:    DiagnosticForbiddenJoin,
		Message: fmt.Sprintf("Ordering by the column [%s] is forbidden, this ordering is removed.", path),
		Subject: path,
	}
}

func invalidFilter(expression string, err error) Diagnostic {
	return Diagnostic{
		Code:    DiagnosticInvalidFilter,
		Message: fmt.Sprintf("The filter [%s] could not be understood and was removed: %v", expression, err),
		Subject: expression,
	}
}

// InvalidLimit reports a limit below one.
func InvalidLimit() Diagnostic {
	return Diagnostic{Code: DiagnosticInvalidLimit, Message: "Limit must be a number greater than zero"}
}

// UnknownField reports a field the data store could not resolve.
func UnknownField(name string) Diagnostic {
	return Diagnostic{
		Code:    DiagnosticUnknownField,
		Message: fmt.Sprintf("The requested field '%s' was not found in the database.", name),
		Subject: name,
	}
}

// ExecutionFailed wraps any other data store failure.
func ExecutionFailed(err error) Diagnostic {
	return Diagnostic{Code: DiagnosticExecutionFailed, Message: fmt.Sprintf("Something went wrong - %v", err)}
}

// NoRows reports an empty result.
func NoRows() Diagnostic {
	return Diagnostic{Code: DiagnosticNoRows, Message: "No rows returned for your query, try broadening your search."}
}
