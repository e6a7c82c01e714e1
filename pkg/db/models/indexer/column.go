package indexer

import (
	"fmt"
	"strings"
)

// ColumnDef defines a single column for a series.
// It is the single source of truth for column order, used by:
// - CSV headers (pkg/db/csv)
// - ClickHouse tables (pkg/db/clickhouse)
// - Postgres tables (pkg/db/postgres)
type ColumnDef struct {
	// Name is the column name, identical across every backend
	Name string

	// Type is the ClickHouse data type (e.g., "UInt64", "String", "Decimal128(18)")
	Type string

	// Codec is the optional ClickHouse compression codec (e.g., "ZSTD(1)", "Delta, ZSTD(3)")
	Codec string

	// PGType is the Postgres data type.
	PGType string
}

// SQL returns the full column definition for ClickHouse CREATE TABLE statements.
// Example: "block UInt64 CODEC(Delta, ZSTD(3))"
func (c ColumnDef) SQL() string {
	if c.Codec != "" {
		return fmt.Sprintf("%s %s CODEC(%s)", c.Name, c.Type, c.Codec)
	}
	return fmt.Sprintf("%s %s", c.Name, c.Type)
}

// ColumnsToSchemaSQL renders the column list of a ClickHouse CREATE TABLE.
func ColumnsToSchemaSQL(columns []ColumnDef) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = c.SQL()
	}
	return strings.Join(parts, ",\n\t\t")
}

// ColumnsToPostgresSQL renders the column list of a Postgres CREATE TABLE.
func ColumnsToPostgresSQL(columns []ColumnDef) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = fmt.Sprintf("%s %s NOT NULL", c.Name, c.PGType)
	}
	return strings.Join(parts, ",\n\t\t")
}

// ColumnNames returns the names in declaration order.
func ColumnNames(columns []ColumnDef) []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	return names
}

const (
	decimalCH = "Decimal128(18)"
	decimalPG = "NUMERIC"
)

func heightCol(name string) ColumnDef {
	return ColumnDef{Name: name, Type: "UInt64", Codec: "Delta, ZSTD(3)", PGType: "BIGINT"}
}

func decimalCol(name string) ColumnDef {
	return ColumnDef{Name: name, Type: decimalCH, Codec: "ZSTD(1)", PGType: decimalPG}
}

func stringCol(name string) ColumnDef {
	return ColumnDef{Name: name, Type: "LowCardinality(String)", PGType: "TEXT"}
}
