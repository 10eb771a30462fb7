// Package sqlite provides a concrete implementation of the
// persistence.DatabaseInteractor interface for SQLite databases. It maps
// entities to tables, compiles lazy query sets into SQL and decodes rows back
// into documents.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/asaidimu/go-interrogator/core/persistence"
	"github.com/asaidimu/go-interrogator/core/query"
	"github.com/asaidimu/go-interrogator/core/schema"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SQLiteInteractor is the SQLite implementation of persistence.DatabaseInteractor.
// It holds no per-query state and may be shared by concurrent requests.
type SQLiteInteractor struct {
	db       *sql.DB
	resolver schema.Resolver
	logger   *zap.Logger
	options  *persistence.InteractorOptions
}

// Ensure SQLiteInteractor implements the persistence.DatabaseInteractor interface.
var _ persistence.DatabaseInteractor = (*SQLiteInteractor)(nil)

// NewSQLiteInteractor creates an interactor over db. Entities are resolved
// through resolver.
func NewSQLiteInteractor(db *sql.DB, resolver schema.Resolver, logger *zap.Logger, options *persistence.InteractorOptions) *SQLiteInteractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if options == nil {
		options = DefaultInteractorOptions()
	}
	return &SQLiteInteractor{
		db:       db,
		resolver: resolver,
		logger:   logger,
		options:  options,
	}
}

// All returns a lazy query set over every record of entity.
func (s *SQLiteInteractor) All(entity *schema.Entity) persistence.QuerySet {
	return &querySet{store: s, entity: entity}
}

// resultColumn names a selected value and the type used to decode it.
type resultColumn struct {
	alias string
	kind  schema.FieldType
}

// readRows reads all rows and converts them into documents, decoding each
// value according to the kind of its column. Columns missing from kinds are
// returned as scanned.
func readRows(logger *zap.Logger, kinds map[string]schema.FieldType, rows *sql.Rows) ([]schema.Document, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	results := []schema.Document{}
	for rows.Next() {
		row := make(schema.Document, len(columns))
		values := make([]any, len(columns))
		scanArgs := make([]any, len(columns))
		for i := range values {
			scanArgs[i] = &values[i]
		}

		if err := rows.Scan(scanArgs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		for i, col := range columns {
			kind, ok := kinds[col]
			if !ok {
				logger.Warn("Column kind unknown, using raw value", zap.String("column", col))
			}
			row[col] = decodeValue(kind, values[i])
		}
		results = append(results, row)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error after scanning rows: %w", err)
	}
	return results, nil
}

func decodeValue(kind schema.FieldType, val any) any {
	if val == nil {
		return nil
	}
	if b, isByte := val.([]byte); isByte {
		val = string(b)
	}

	switch kind {
	case schema.FieldTypeBoolean:
		if intVal, isInt := val.(int64); isInt {
			return intVal != 0
		}
	case schema.FieldTypeInteger, schema.FieldTypeRelation:
		if floatVal, isFloat := val.(float64); isFloat && floatVal == float64(int64(floatVal)) {
			return int64(floatVal)
		}
	case schema.FieldTypeNumber:
		if intVal, isInt := val.(int64); isInt {
			return float64(intVal)
		}
	case schema.FieldTypeDecimal:
		switch v := val.(type) {
		case float64:
			return decimal.NewFromFloat(v)
		case int64:
			return decimal.NewFromInt(v)
		case string:
			if d, err := decimal.NewFromString(v); err == nil {
				return d
			}
		}
	case schema.FieldTypeString, schema.FieldTypeDate, schema.FieldTypeDateTime:
		if t, isTime := val.(time.Time); isTime {
			if kind == schema.FieldTypeDate {
				return t.Format(time.DateOnly)
			}
			return t.Format(time.RFC3339)
		}
	}
	return val
}

// Insert executes a single INSERT ... RETURNING statement for records. Keys
// are field names; forward relations take the target's primary key.
func (s *SQLiteInteractor) Insert(ctx context.Context, entity *schema.Entity, records []map[string]any) ([]schema.Document, error) {
	if len(records) == 0 {
		return []schema.Document{}, nil
	}

	stmt, params, kinds, err := s.GenerateInsertSQL(entity, records)
	if err != nil {
		return nil, fmt.Errorf("failed to generate INSERT SQL: %w", err)
	}

	s.logger.Debug("Executing SQL INSERT with RETURNING clause", zap.String("sql", stmt), zap.Int("params", len(params)))

	rows, err := s.db.QueryContext(ctx, stmt, params...)
	if err != nil {
		s.logger.Error("Failed to execute INSERT ... RETURNING query", zap.Error(err), zap.String("sql", stmt))
		return nil, fmt.Errorf("failed to execute INSERT ... RETURNING query: %w", err)
	}
	defer rows.Close()
	return readRows(s.logger, kinds, rows)
}

// GenerateInsertSQL creates a multi-row INSERT statement with a RETURNING
// clause. The column set is the union of the records' keys; missing keys are
// inserted as NULL.
func (s *SQLiteInteractor) GenerateInsertSQL(entity *schema.Entity, records []map[string]any) (string, []any, map[string]schema.FieldType, error) {
	fieldSet := make(map[string]*schema.FieldDefinition)
	for _, record := range records {
		for name := range record {
			if _, seen := fieldSet[name]; seen {
				continue
			}
			field, err := s.resolver.ResolveField(entity, name)
			if err != nil {
				return "", nil, nil, &persistence.UnknownFieldError{Name: name, Entity: entity.Ref()}
			}
			if field.IsMany() {
				return "", nil, nil, fmt.Errorf("field '%s' is a reverse relation and cannot be written", name)
			}
			fieldSet[name] = field
		}
	}

	names := make([]string, 0, len(fieldSet))
	for name := range fieldSet {
		names = append(names, name)
	}
	sort.Strings(names)

	kinds := map[string]schema.FieldType{entity.PrimaryKeyName(): schema.FieldTypeInteger}
	for _, field := range entity.Fields {
		if !field.IsMany() {
			kinds[field.ColumnName()] = field.Type
		}
	}

	quotedFields := make([]string, len(names))
	for i, name := range names {
		quotedFields[i] = quoteIdentifier(fieldSet[name].ColumnName())
	}

	var valuesClauses []string
	var params []any
	for _, record := range records {
		placeholders := make([]string, len(names))
		for i, name := range names {
			placeholders[i] = "?"
			params = append(params, prepareValue(fieldSet[name].Type, record[name]))
		}
		valuesClauses = append(valuesClauses, "("+strings.Join(placeholders, ", ")+")")
	}

	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s RETURNING *;",
		s.tableName(entity), strings.Join(quotedFields, ", "), strings.Join(valuesClauses, ", "))
	return stmt, params, kinds, nil
}

// prepareValue converts a Go value into the representation stored in a column
// of the given kind.
func prepareValue(kind schema.FieldType, value any) any {
	switch v := value.(type) {
	case nil:
		return nil
	case bool:
		if v {
			return 1
		}
		return 0
	case decimal.Decimal:
		return v.InexactFloat64()
	case time.Time:
		if kind == schema.FieldTypeDate {
			return v.Format(time.DateOnly)
		}
		return v.Format(time.RFC3339)
	case time.Duration:
		return v.Hours() / 24
	case string:
		switch {
		case kind == schema.FieldTypeBoolean:
			switch strings.ToLower(v) {
			case "true", "1", "yes":
				return 1
			case "false", "0", "no", "":
				return 0
			}
		case kind == schema.FieldTypeInteger || kind == schema.FieldTypeRelation:
			if n, ok := query.ToInt64(v); ok {
				return n
			}
			if f, ok := query.ToFloat64(v); ok {
				return f
			}
		case kind.IsNumeric():
			if f, ok := query.ToFloat64(v); ok {
				return f
			}
		}
	}
	return value
}
