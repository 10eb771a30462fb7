package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/asaidimu/go-interrogator/core/persistence"
	"github.com/asaidimu/go-interrogator/core/schema"
	"go.uber.org/zap"
)

// DefaultInteractorOptions returns the default table mapping options.
func DefaultInteractorOptions() *persistence.InteractorOptions {
	return &persistence.InteractorOptions{
		IfNotExists: true, // Prevent errors if a table already exists.
	}
}

// quoteIdentifier quotes a table or column name.
func quoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// tableName returns the quoted, prefixed table name of entity.
func (s *SQLiteInteractor) tableName(entity *schema.Entity) string {
	return quoteIdentifier(s.options.TablePrefix + entity.TableName())
}

// CreateSchema creates a table for every entity in order.
func (s *SQLiteInteractor) CreateSchema(ctx context.Context, entities ...*schema.Entity) error {
	for _, entity := range entities {
		if err := s.CreateEntity(ctx, entity); err != nil {
			return err
		}
	}
	return nil
}

// CreateEntity creates the table backing entity.
func (s *SQLiteInteractor) CreateEntity(ctx context.Context, entity *schema.Entity) error {
	stmt, err := s.CreateTableSQL(entity)
	if err != nil {
		return fmt.Errorf("failed to generate SQL for %s: %w", entity.Ref(), err)
	}
	s.logger.Debug("Creating table", zap.String("entity", entity.Ref()), zap.String("sql", stmt))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to execute SQL statement '%s': %w", stmt, err)
	}
	return nil
}

// CreateTableSQL generates the CREATE TABLE statement for entity. The primary
// key is an INTEGER PRIMARY KEY, forward relations become integer columns
// referencing the target table and reverse relations have no column.
func (s *SQLiteInteractor) CreateTableSQL(entity *schema.Entity) (string, error) {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	if s.options.IfNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(s.tableName(entity) + " (\n")

	pk := entity.PrimaryKeyName()
	columns := []string{"    " + quoteIdentifier(pk) + " INTEGER PRIMARY KEY"}
	for _, field := range entity.Fields {
		if field.Name == pk || field.IsMany() {
			continue
		}
		columnDef, err := s.buildColumnDefinition(field)
		if err != nil {
			return "", fmt.Errorf("error on field '%s': %w", field.Name, err)
		}
		columns = append(columns, "    "+columnDef)
	}
	sb.WriteString(strings.Join(columns, ",\n"))
	sb.WriteString("\n);")
	return sb.String(), nil
}

// buildColumnDefinition constructs the DDL string for a single column.
func (s *SQLiteInteractor) buildColumnDefinition(field *schema.FieldDefinition) (string, error) {
	parts := []string{quoteIdentifier(field.ColumnName()), s.GetColumnType(field.Type)}
	if field.IsRelation() {
		target, err := s.resolver.Target(field)
		if err != nil {
			return "", err
		}
		parts = append(parts, fmt.Sprintf("REFERENCES %s(%s)", s.tableName(target), quoteIdentifier(target.PrimaryKeyName())))
	}
	return strings.Join(parts, " "), nil
}

// GetColumnType maps a schema.FieldType to its SQLite column type. Dates are
// stored as ISO-8601 text so that they compare lexically.
func (s *SQLiteInteractor) GetColumnType(fieldType schema.FieldType) string {
	switch fieldType {
	case schema.FieldTypeString, schema.FieldTypeDate, schema.FieldTypeDateTime:
		return "TEXT"
	case schema.FieldTypeNumber, schema.FieldTypeDecimal:
		return "REAL"
	case schema.FieldTypeInteger, schema.FieldTypeBoolean, schema.FieldTypeRelation:
		return "INTEGER"
	default:
		return "BLOB"
	}
}

// DropEntity drops the table backing entity.
func (s *SQLiteInteractor) DropEntity(ctx context.Context, entity *schema.Entity) error {
	stmt := fmt.Sprintf("DROP TABLE IF EXISTS %s;", s.tableName(entity))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to drop table for %s: %w", entity.Ref(), err)
	}
	return nil
}

// EntityExists checks if the table backing entity exists.
func (s *SQLiteInteractor) EntityExists(ctx context.Context, entity *schema.Entity) (bool, error) {
	stmt := "SELECT name FROM sqlite_master WHERE type='table' AND name = ?;"

	var name string
	err := s.db.QueryRowContext(ctx, stmt, s.options.TablePrefix+entity.TableName()).Scan(&name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
