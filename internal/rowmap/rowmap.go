// Package rowmap folds lookup-table cursors into the value shapes used by
// select attributes: full rows, owner-keyed row maps, option lists and scalars.
package rowmap

import (
	"fmt"
	"strconv"

	"selectattr/internal/dbexec"
)

// CountColumn is the aggregate column emitted by option listing queries.
const CountColumn = "mm_count"

// Row is one lookup row keyed by column name.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// ScanRows reads every remaining row of the cursor and closes it.
func ScanRows(rows dbexec.Rows) ([]Row, error) {
	defer func() {
		_ = rows.Close()
	}()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []Row
	for rows.Next() {
		row, err := scanCurrent(rows, columns)
		if err != nil {
			return nil, err
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// ScanRow returns the first row of the cursor, or nil when the cursor is empty.
// The remainder of the cursor is discarded.
func ScanRow(rows dbexec.Rows) (Row, error) {
	defer func() {
		_ = rows.Close()
	}()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanCurrent(rows, columns)
}

// ScanIDs reads a single integer column from every row and closes the cursor.
func ScanIDs(rows dbexec.Rows) ([]int64, error) {
	defer func() {
		_ = rows.Close()
	}()

	var ids []int64
	for rows.Next() {
		var raw any
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		id, ok := Int64(normalize(raw))
		if !ok {
			return nil, fmt.Errorf("unexpected id value %v (%T)", raw, raw)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func scanCurrent(rows dbexec.Rows, columns []string) (Row, error) {
	values := make([]any, len(columns))
	dest := make([]any, len(columns))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}
	row := make(Row, len(columns))
	for i, col := range columns {
		row[col] = normalize(values[i])
	}
	return row, nil
}

// normalize converts driver byte slices to strings so rows compare and print naturally.
func normalize(val any) any {
	if b, ok := val.([]byte); ok {
		return string(b)
	}
	return val
}

// KeyBy indexes rows by the integer value found in keyField. Rows keep the key
// field; rows whose key is missing or non-numeric are skipped.
func KeyBy(rows []Row, keyField string) map[int64]Row {
	out := make(map[int64]Row, len(rows))
	for _, row := range rows {
		id, ok := Int64(row[keyField])
		if !ok {
			continue
		}
		out[id] = row
	}
	return out
}

// Int64 coerces common driver representations of integers.
func Int64(val any) (int64, bool) {
	switch v := val.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case uint8:
		return int64(v), true
	case int16:
		return int64(v), true
	case uint16:
		return int64(v), true
	case int32:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint:
		return int64(v), true
	case uint64:
		return int64(v), true
	case float32:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	case []byte:
		n, err := strconv.ParseInt(string(v), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// Key renders a column value as an option key.
func Key(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprint(v)
	}
}
