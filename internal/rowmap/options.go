package rowmap

import (
	"selectattr/internal/dbexec"
)

// Option is one entry of a filter option listing.
type Option struct {
	Alias string `json:"alias"`
	Label any    `json:"label"`
	Count int64  `json:"count,omitempty"`
}

// Options preserves the order in which the listing query returned its entries.
type Options struct {
	order  []string
	labels map[string]any
}

// NewOptions returns an empty option list.
func NewOptions() *Options {
	return &Options{labels: make(map[string]any)}
}

// Set records alias -> label. A repeated alias keeps its first position and takes the new label.
func (o *Options) Set(alias string, label any) {
	if _, ok := o.labels[alias]; !ok {
		o.order = append(o.order, alias)
	}
	o.labels[alias] = label
}

// Get returns the label for alias.
func (o *Options) Get(alias string) (any, bool) {
	if o == nil {
		return nil, false
	}
	label, ok := o.labels[alias]
	return label, ok
}

// Len returns the number of distinct aliases.
func (o *Options) Len() int {
	if o == nil {
		return 0
	}
	return len(o.order)
}

// Keys returns the aliases in listing order.
func (o *Options) Keys() []string {
	if o == nil {
		return nil
	}
	return append([]string(nil), o.order...)
}

// Map returns the alias -> label mapping without ordering.
func (o *Options) Map() map[string]any {
	out := make(map[string]any, o.Len())
	if o == nil {
		return out
	}
	for k, v := range o.labels {
		out[k] = v
	}
	return out
}

// Entries joins labels with the counts collected by ToOptions.
func (o *Options) Entries(counts map[string]int64) []Option {
	entries := make([]Option, 0, o.Len())
	if o == nil {
		return entries
	}
	for _, alias := range o.order {
		entries = append(entries, Option{Alias: alias, Label: o.labels[alias], Count: counts[alias]})
	}
	return entries
}

// ToOptions folds an option listing cursor into alias -> label entries. When
// counts is non-nil it also receives alias -> usage count from the mm_count column.
// Each row is visited exactly once and the cursor is closed.
func ToOptions(rows dbexec.Rows, aliasColumn, valueColumn string, counts map[string]int64) (*Options, error) {
	scanned, err := ScanRows(rows)
	if err != nil {
		return nil, err
	}
	return FoldOptions(scanned, aliasColumn, valueColumn, counts), nil
}

// FoldOptions is ToOptions over already scanned rows.
func FoldOptions(rows []Row, aliasColumn, valueColumn string, counts map[string]int64) *Options {
	options := NewOptions()
	for _, row := range rows {
		// Owning rows without a lookup match surface as one NULL group under RIGHT JOIN.
		if row[aliasColumn] == nil {
			continue
		}
		alias := Key(row[aliasColumn])
		if counts != nil {
			count, _ := Int64(row[CountColumn])
			counts[alias] = count
		}
		options.Set(alias, row[valueColumn])
	}
	return options
}

// ToWidget projects the alias column out of a stored value.
func ToWidget(row Row, aliasColumn string) any {
	if row == nil {
		return nil
	}
	return row[aliasColumn]
}

// FromWidget resolves a widget lookup cursor to the first matching row; nil when
// nothing matched.
func FromWidget(rows dbexec.Rows) (Row, error) {
	return ScanRow(rows)
}
