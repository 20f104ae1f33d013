// Package planner builds the parameterized MySQL statements behind select
// attributes: batch lookups, option listings, id ordering and value updates.
// Identifiers are always quoted; values are always bound.
package planner

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"selectattr/internal/attribute"
	"selectattr/internal/rowmap"
	"selectattr/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// ErrEmptyRestriction is returned when a listing is restricted to an empty id set.
// Callers short-circuit to an empty result instead of emitting IN ().
var ErrEmptyRestriction = errors.New("empty id restriction")

// ErrInvalidDirection indicates a sort direction other than ASC or DESC.
var ErrInvalidDirection = errors.New("invalid sort direction")

// ErrDisabled indicates the attribute has no lookup configured.
var ErrDisabled = errors.New("attribute lookup not configured")

// ErrUnsupportedValue is returned when a widget value cannot be bound as a
// single placeholder.
var ErrUnsupportedValue = errors.New("unsupported widget value")

// sourceAlias is the alias the lookup table gets in batch lookups so that
// self-referencing attributes do not produce a duplicate table name.
const sourceAlias = "sourceTable"

// uncached keeps option listings out of the query cache; usage counts change with every write.
const uncached = "SQL_NO_CACHE"

// SQLQuery represents a planned SQL statement with bound args.
type SQLQuery struct {
	SQL  string
	Args []interface{}
}

// ParseDirection normalizes a sort direction. Empty input means ASC.
func ParseDirection(direction string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(direction)) {
	case "", attribute.DirectionAsc:
		return attribute.DirectionAsc, nil
	case attribute.DirectionDesc:
		return attribute.DirectionDesc, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, direction)
	}
}

// OwnerKeyAlias is the column under which batch lookups return the owning id.
// It is projected after the lookup columns, so a lookup column of the same
// name is shadowed by the owning id in the scanned row.
func OwnerKeyAlias(def attribute.Definition) string {
	return def.OwnerTable + "_id"
}

func ownerID(def attribute.Definition) string {
	return sqlutil.QualifiedColumn(def.OwnerTable, attribute.OwnerIDColumn)
}

func joinCondition(sourceName string, def attribute.Definition) string {
	return fmt.Sprintf("%s ON %s = %s",
		sqlutil.QuoteIdentifier(def.OwnerTable),
		sqlutil.QualifiedColumn(sourceName, def.IDColumn),
		sqlutil.QualifiedColumn(def.OwnerTable, def.Column),
	)
}

func int64Args(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func toSQL(builder sq.Sqlizer) (SQLQuery, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return SQLQuery{}, err
	}
	return SQLQuery{SQL: query, Args: args}, nil
}

// PlanSortIDs orders owning ids by the lookup's sort column. Owning rows without
// a matching lookup row fall out of the inner join and are not returned.
func PlanSortIDs(def attribute.Definition, ids []int64, direction string) (SQLQuery, error) {
	if !def.Enabled() {
		return SQLQuery{}, ErrDisabled
	}
	if len(ids) == 0 {
		return SQLQuery{}, ErrEmptyRestriction
	}
	dir, err := ParseDirection(direction)
	if err != nil {
		return SQLQuery{}, err
	}

	builder := sq.Select(ownerID(def)).
		From(sqlutil.QuoteIdentifier(def.OwnerTable)).
		Join(fmt.Sprintf("%s ON %s = %s",
			sqlutil.QuoteIdentifier(def.SourceTable),
			sqlutil.QualifiedColumn(def.SourceTable, def.IDColumn),
			sqlutil.QualifiedColumn(def.OwnerTable, def.Column),
		)).
		Where(sq.Eq{ownerID(def): int64Args(ids)}).
		OrderBy(
			sqlutil.QualifiedColumn(def.SourceTable, def.EffectiveSortColumn())+" "+dir,
			ownerID(def)+" "+attribute.DirectionAsc,
		).
		PlaceholderFormat(sq.Question)
	return toSQL(builder)
}

func optionsBase(def attribute.Definition, countExpr string) sq.SelectBuilder {
	return sq.Select(
		sqlutil.As("COUNT("+countExpr+")", rowmap.CountColumn),
		sqlutil.AllColumns(def.SourceTable),
	).
		Options(uncached).
		From(sqlutil.QuoteIdentifier(def.SourceTable))
}

func optionsTail(builder sq.SelectBuilder, def attribute.Definition) sq.SelectBuilder {
	return builder.
		GroupBy(sqlutil.QualifiedColumn(def.SourceTable, def.IDColumn)).
		OrderBy(sqlutil.QualifiedColumn(def.SourceTable, def.EffectiveSortColumn()) + " " + def.EffectiveSortDirection()).
		PlaceholderFormat(sq.Question)
}

// PlanUsedOptions lists lookup rows with their usage count in mm_count.
// usedOnly keeps only lookup rows referenced by at least one owning row;
// otherwise every lookup row is listed and unused ones count zero.
func PlanUsedOptions(def attribute.Definition, usedOnly bool) (SQLQuery, error) {
	if !def.Enabled() {
		return SQLQuery{}, ErrDisabled
	}

	var builder sq.SelectBuilder
	if usedOnly {
		builder = optionsBase(def, sqlutil.QualifiedColumn(def.SourceTable, def.IDColumn)).
			RightJoin(joinCondition(def.SourceTable, def))
	} else {
		builder = optionsBase(def, sqlutil.QualifiedColumn(def.OwnerTable, def.Column)).
			LeftJoin(joinCondition(def.SourceTable, def))
	}
	if extra := def.AdditionalWhere(); extra != "" {
		builder = builder.Where(sq.Expr("(" + extra + ")"))
	}
	return toSQL(optionsTail(builder, def))
}

// PlanFilteredOptions lists the lookup rows used by the given owning ids.
// A nil slice is not a restriction and belongs to PlanUsedOptions; an empty
// slice yields ErrEmptyRestriction.
func PlanFilteredOptions(def attribute.Definition, ids []int64) (SQLQuery, error) {
	if !def.Enabled() {
		return SQLQuery{}, ErrDisabled
	}
	if len(ids) == 0 {
		return SQLQuery{}, ErrEmptyRestriction
	}

	restriction := sq.Eq{ownerID(def): int64Args(ids)}
	var where sq.Sqlizer = restriction
	if extra := def.AdditionalWhere(); extra != "" {
		where = sq.And{restriction, sq.Expr("(" + extra + ")")}
	}

	builder := optionsBase(def, sqlutil.QualifiedColumn(def.SourceTable, def.IDColumn)).
		RightJoin(joinCondition(def.SourceTable, def)).
		Where(where)
	return toSQL(optionsTail(builder, def))
}

// PlanBatchLookup loads the lookup row of every owning id in one query. Each
// row carries the owning id under OwnerKeyAlias.
func PlanBatchLookup(def attribute.Definition, ids []int64) (SQLQuery, error) {
	if !def.Enabled() {
		return SQLQuery{}, ErrDisabled
	}
	if len(ids) == 0 {
		return SQLQuery{}, ErrEmptyRestriction
	}

	builder := sq.Select(
		sqlutil.AllColumns(sourceAlias),
		sqlutil.As(ownerID(def), OwnerKeyAlias(def)),
	).
		From(sqlutil.QuoteIdentifier(def.SourceTable) + " AS " + sqlutil.QuoteIdentifier(sourceAlias)).
		LeftJoin(joinCondition(sourceAlias, def)).
		Where(sq.Eq{ownerID(def): int64Args(ids)}).
		PlaceholderFormat(sq.Question)
	return toSQL(builder)
}

// PlanAliasLookup finds lookup rows whose widget alias equals value.
func PlanAliasLookup(def attribute.Definition, value interface{}) (SQLQuery, error) {
	if !def.Enabled() {
		return SQLQuery{}, ErrDisabled
	}
	// sq.Eq expands slices into IN lists.
	switch v := value.(type) {
	case []byte:
		value = string(v)
	default:
		if k := reflect.ValueOf(value).Kind(); k == reflect.Slice || k == reflect.Array {
			return SQLQuery{}, fmt.Errorf("%w: %T", ErrUnsupportedValue, value)
		}
	}

	builder := sq.Select(sqlutil.AllColumns(def.SourceTable)).
		From(sqlutil.QuoteIdentifier(def.SourceTable)).
		Where(sq.Eq{sqlutil.QualifiedColumn(def.SourceTable, def.EffectiveAliasColumn()): value}).
		PlaceholderFormat(sq.Question)
	return toSQL(builder)
}

// PlanValueUpdate stores a lookup id on one owning row. A nil idValue clears it.
func PlanValueUpdate(def attribute.Definition, owner int64, idValue interface{}) (SQLQuery, error) {
	if !def.Enabled() {
		return SQLQuery{}, ErrDisabled
	}

	builder := sq.Update(sqlutil.QuoteIdentifier(def.OwnerTable)).
		Set(sqlutil.QuoteIdentifier(def.Column), idValue).
		Where(sq.Eq{ownerID(def): owner}).
		PlaceholderFormat(sq.Question)
	return toSQL(builder)
}
