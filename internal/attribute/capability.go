package attribute

import (
	"context"

	"selectattr/internal/rowmap"
)

// ValueStore reads and writes attribute values for many owning records at once.
type ValueStore interface {
	GetDataFor(ctx context.Context, ids []int64) (map[int64]rowmap.Row, error)
	SetDataFor(ctx context.Context, values map[int64]rowmap.Row) error
}

// OptionLister lists legal or used values. A nil ids slice means no restriction;
// an empty non-nil slice restricts to nothing.
type OptionLister interface {
	GetFilterOptions(ctx context.Context, ids []int64, usedOnly bool, counts map[string]int64) (*rowmap.Options, error)
}

// Sorter reorders owning record ids.
type Sorter interface {
	SortIDs(ctx context.Context, ids []int64, direction string) ([]int64, error)
}

// WidgetConverter converts between stored rows and scalar widget values.
type WidgetConverter interface {
	ValueToWidget(row rowmap.Row) any
	WidgetToValue(ctx context.Context, value any, ownerID int64) (rowmap.Row, error)
}

// IDResolvable is the full capability set of a lookup-backed attribute.
type IDResolvable interface {
	ValueStore
	OptionLister
	Sorter
	WidgetConverter
	Definition() Definition
}
