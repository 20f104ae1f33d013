// Package selectattr resolves select attribute values against their lookup
// tables: batch reads and writes, option listings with usage counts, id
// sorting and widget conversion.
//
// An Attribute is request-scoped and single-threaded. Every cursor it opens is
// fully consumed and closed before the next query is issued.
package selectattr

import (
	"context"
	"fmt"
	"net/url"
	"slices"

	"go.opentelemetry.io/otel/attribute"

	attr "selectattr/internal/attribute"
	"selectattr/internal/dbexec"
	"selectattr/internal/logging"
	"selectattr/internal/planner"
	"selectattr/internal/rowmap"
)

// DefaultBatchSize bounds the number of owning ids bound into one IN list.
const DefaultBatchSize = 1000

// Attribute is a lookup-backed select attribute.
type Attribute struct {
	def       attr.Definition
	executor  dbexec.QueryExecutor
	batchSize int
}

var _ attr.IDResolvable = (*Attribute)(nil)

// Option configures an Attribute.
type Option func(*Attribute)

// WithBatchSize overrides DefaultBatchSize. Non-positive values are ignored.
func WithBatchSize(size int) Option {
	return func(a *Attribute) {
		if size > 0 {
			a.batchSize = size
		}
	}
}

// New binds a definition to the executor queries run on.
func New(def attr.Definition, executor dbexec.QueryExecutor, opts ...Option) *Attribute {
	a := &Attribute{def: def, executor: executor, batchSize: DefaultBatchSize}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Definition returns the attribute configuration.
func (a *Attribute) Definition() attr.Definition {
	return a.def
}

func (a *Attribute) spanAttrs(extra ...attribute.KeyValue) []attribute.KeyValue {
	return append([]attribute.KeyValue{
		attribute.String("selectattr.name", a.def.Name()),
		attribute.String("selectattr.source_table", a.def.SourceTable),
	}, extra...)
}

func (a *Attribute) logger(ctx context.Context) *logging.Logger {
	return logging.FromContext(ctx).WithAttribute(a.def.Name())
}

// GetDataFor returns the lookup row of every owning id that references one,
// keyed by owning id. Ids without a match are absent from the result.
func (a *Attribute) GetDataFor(ctx context.Context, ids []int64) (result map[int64]rowmap.Row, err error) {
	result = make(map[int64]rowmap.Row, len(ids))
	if !a.def.Enabled() || len(ids) == 0 {
		return result, nil
	}

	ctx, span := startSpan(ctx, "selectattr.get_data_for", a.spanAttrs(attribute.Int("selectattr.ids", len(ids)))...)
	defer func() { finishSpan(span, err) }()

	keyAlias := planner.OwnerKeyAlias(a.def)
	for chunk := range slices.Chunk(ids, a.batchSize) {
		planned, err := planner.PlanBatchLookup(a.def, chunk)
		if err != nil {
			return nil, err
		}
		rows, err := a.executor.QueryContext(ctx, planned.SQL, planned.Args...)
		if err != nil {
			return nil, fmt.Errorf("load %s values: %w", a.def.Name(), err)
		}
		scanned, err := rowmap.ScanRows(rows)
		if err != nil {
			return nil, fmt.Errorf("load %s values: %w", a.def.Name(), err)
		}
		for owner, row := range rowmap.KeyBy(scanned, keyAlias) {
			result[owner] = row
		}
	}

	a.logger(ctx).Debug("loaded attribute values", "requested", len(ids), "found", len(result))
	return result, nil
}

// SetDataFor stores the lookup id of each row on its owning record, one update
// per owning id in ascending order. A nil row clears the column. Updates are
// not atomic: the first failure is returned and earlier updates stay applied.
func (a *Attribute) SetDataFor(ctx context.Context, values map[int64]rowmap.Row) (err error) {
	if !a.def.Enabled() || len(values) == 0 {
		return nil
	}

	ctx, span := startSpan(ctx, "selectattr.set_data_for", a.spanAttrs(attribute.Int("selectattr.ids", len(values)))...)
	defer func() { finishSpan(span, err) }()

	owners := make([]int64, 0, len(values))
	for owner := range values {
		owners = append(owners, owner)
	}
	slices.Sort(owners)

	for _, owner := range owners {
		var idValue any
		if row := values[owner]; row != nil {
			idValue = row[a.def.IDColumn]
		}
		planned, err := planner.PlanValueUpdate(a.def, owner, idValue)
		if err != nil {
			return err
		}
		if _, err := a.executor.ExecContext(ctx, planned.SQL, planned.Args...); err != nil {
			return fmt.Errorf("store %s value for id %d: %w", a.def.Name(), owner, err)
		}
	}

	a.logger(ctx).Debug("stored attribute values", "count", len(owners))
	return nil
}

// GetFilterOptions lists alias -> label options in lookup sort order. A nil ids
// slice lists all options (or only used ones when usedOnly is set); a non-nil
// slice restricts to options used by those owning ids and always implies
// used-only. When counts is non-nil it receives alias -> usage count.
func (a *Attribute) GetFilterOptions(ctx context.Context, ids []int64, usedOnly bool, counts map[string]int64) (options *rowmap.Options, err error) {
	if ids != nil && len(ids) == 0 {
		return rowmap.NewOptions(), nil
	}
	if !a.def.Enabled() {
		return rowmap.NewOptions(), nil
	}

	ctx, span := startSpan(ctx, "selectattr.get_filter_options", a.spanAttrs(
		attribute.Bool("selectattr.used_only", usedOnly),
		attribute.Bool("selectattr.restricted", ids != nil),
	)...)
	defer func() { finishSpan(span, err) }()

	var planned planner.SQLQuery
	if ids != nil {
		planned, err = planner.PlanFilteredOptions(a.def, ids)
	} else {
		planned, err = planner.PlanUsedOptions(a.def, usedOnly)
	}
	if err != nil {
		return nil, err
	}

	rows, err := a.executor.QueryContext(ctx, planned.SQL, planned.Args...)
	if err != nil {
		return nil, fmt.Errorf("list %s options: %w", a.def.Name(), err)
	}
	options, err = rowmap.ToOptions(rows, a.def.FilterAliasColumn(), a.def.EffectiveValueColumn(), counts)
	if err != nil {
		return nil, fmt.Errorf("list %s options: %w", a.def.Name(), err)
	}

	a.logger(ctx).Debug("listed attribute options", "options", options.Len(), "used_only", usedOnly)
	return options, nil
}

// SortIDs reorders owning ids by the lookup's sort column. Ids whose value has
// no lookup row are dropped, so the result may be shorter than ids. Without a
// lookup configured no id has a lookup row and the result is empty.
func (a *Attribute) SortIDs(ctx context.Context, ids []int64, direction string) (sorted []int64, err error) {
	if len(ids) == 0 {
		return []int64{}, nil
	}
	if _, err := planner.ParseDirection(direction); err != nil {
		return nil, err
	}
	if !a.def.Enabled() {
		return []int64{}, nil
	}

	ctx, span := startSpan(ctx, "selectattr.sort_ids", a.spanAttrs(
		attribute.Int("selectattr.ids", len(ids)),
		attribute.String("selectattr.direction", direction),
	)...)
	defer func() { finishSpan(span, err) }()

	planned, err := planner.PlanSortIDs(a.def, ids, direction)
	if err != nil {
		return nil, err
	}
	rows, err := a.executor.QueryContext(ctx, planned.SQL, planned.Args...)
	if err != nil {
		return nil, fmt.Errorf("sort %s ids: %w", a.def.Name(), err)
	}
	sorted, err = rowmap.ScanIDs(rows)
	if err != nil {
		return nil, fmt.Errorf("sort %s ids: %w", a.def.Name(), err)
	}

	if dropped := len(ids) - len(sorted); dropped > 0 {
		a.logger(ctx).Debug("ids without lookup value dropped from ordering", "dropped", dropped)
	}
	return sorted, nil
}

// ValueToWidget projects the widget value out of a stored row.
func (a *Attribute) ValueToWidget(row rowmap.Row) any {
	return rowmap.ToWidget(row, a.def.EffectiveAliasColumn())
}

// WidgetToValue resolves a widget value back to its lookup row. An empty value
// or an unknown alias yields a nil row. When the alias is not unique the first
// row returned wins.
func (a *Attribute) WidgetToValue(ctx context.Context, value any, ownerID int64) (row rowmap.Row, err error) {
	if raw, ok := value.([]byte); ok {
		value = string(raw)
	}
	if !a.def.Enabled() || value == nil || value == "" {
		return nil, nil
	}

	ctx, span := startSpan(ctx, "selectattr.widget_to_value", a.spanAttrs(attribute.Int64("selectattr.owner_id", ownerID))...)
	defer func() { finishSpan(span, err) }()

	planned, err := planner.PlanAliasLookup(a.def, value)
	if err != nil {
		return nil, err
	}
	rows, err := a.executor.QueryContext(ctx, planned.SQL, planned.Args...)
	if err != nil {
		return nil, fmt.Errorf("resolve %s widget value: %w", a.def.Name(), err)
	}
	row, err = rowmap.FromWidget(rows)
	if err != nil {
		return nil, fmt.Errorf("resolve %s widget value: %w", a.def.Name(), err)
	}
	return row, nil
}

// FilterURLValue renders the row's alias for use in a filter URL query string.
func (a *Attribute) FilterURLValue(row rowmap.Row) string {
	if row == nil {
		return ""
	}
	value := row[a.def.FilterAliasColumn()]
	if value == nil {
		return ""
	}
	return url.QueryEscape(rowmap.Key(value))
}

