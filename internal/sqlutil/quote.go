// Package sqlutil provides SQL identifier helpers shared by the planners.
package sqlutil

import "strings"

// QuoteIdentifier quotes a SQL identifier (table name, column name, etc.)
// with backticks and escapes any backticks within the identifier.
func QuoteIdentifier(name string) string {
	escaped := strings.ReplaceAll(name, "`", "``")
	return "`" + escaped + "`"
}

// QualifiedColumn returns `table`.`column`.
func QualifiedColumn(table, column string) string {
	return QuoteIdentifier(table) + "." + QuoteIdentifier(column)
}

// AllColumns returns `table`.* for star projections over a single table or alias.
func AllColumns(table string) string {
	return QuoteIdentifier(table) + ".*"
}

// As renders "expr AS `alias`".
func As(expr, alias string) string {
	return expr + " AS " + QuoteIdentifier(alias)
}

// ValidIdentifier reports whether name is usable as a quoted MySQL identifier.
// Backticks are escaped by QuoteIdentifier; NUL bytes and trailing spaces are
// rejected by the server, so they are rejected here as well.
func ValidIdentifier(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	if strings.ContainsRune(name, 0) {
		return false
	}
	return !strings.HasSuffix(name, " ")
}
