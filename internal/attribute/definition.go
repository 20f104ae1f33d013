// Package attribute holds the configuration side of select attributes: the
// immutable Definition loaded from the catalog, the capability interfaces an
// attribute implementation exposes, and the source table policy.
package attribute

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"selectattr/internal/sqlutil"
)

// OwnerIDColumn is the primary key column of every owning table.
const OwnerIDColumn = "id"

// Sort directions accepted for listings and id sorting.
const (
	DirectionAsc  = "ASC"
	DirectionDesc = "DESC"
)

// ErrNotFound is returned when a named attribute is not registered.
var ErrNotFound = errors.New("attribute not found")

// Definition is the per-attribute configuration. It is loaded once and never mutated.
type Definition struct {
	// Column is the attribute's column on the owning table.
	Column string `yaml:"column" mapstructure:"column"`
	// OwnerTable is the owning model's table.
	OwnerTable string `yaml:"-" mapstructure:"owner_table"`
	// SourceTable is the lookup table values are drawn from.
	SourceTable string `yaml:"source_table" mapstructure:"source_table"`
	// IDColumn is the lookup primary key stored in the owning column.
	IDColumn string `yaml:"id_column" mapstructure:"id_column"`
	// AliasColumn is the human-facing value column. Optional.
	AliasColumn string `yaml:"alias_column" mapstructure:"alias_column"`
	// ValueColumn is the display column used for option labels. Optional.
	ValueColumn string `yaml:"value_column" mapstructure:"value_column"`
	// ExtraWhere is an HTML-entity-encoded SQL predicate written by an administrator.
	// It is inserted verbatim after decoding; sanitizing it is the job of whoever
	// edits the catalog.
	ExtraWhere    string `yaml:"extra_where" mapstructure:"extra_where"`
	SortColumn    string `yaml:"sort_column" mapstructure:"sort_column"`
	SortDirection string `yaml:"sort_direction" mapstructure:"sort_direction"`
	TreePicker    bool   `yaml:"tree_picker" mapstructure:"tree_picker"`
}

// Name returns the registry key "<owner_table>.<column>".
func (d Definition) Name() string {
	return d.OwnerTable + "." + d.Column
}

// Enabled reports whether lookups are possible. Without a source table or id
// column the attribute reads empty and writes nothing.
func (d Definition) Enabled() bool {
	return d.SourceTable != "" && d.IDColumn != ""
}

// EffectiveAliasColumn is the column used for widget values. Tree pickers and
// attributes without an alias column work on raw ids.
func (d Definition) EffectiveAliasColumn() string {
	if d.TreePicker || d.AliasColumn == "" {
		return d.IDColumn
	}
	return d.AliasColumn
}

// FilterAliasColumn is the column used for option keys and filter URL values.
func (d Definition) FilterAliasColumn() string {
	if d.AliasColumn != "" {
		return d.AliasColumn
	}
	return d.IDColumn
}

// EffectiveValueColumn is the column used for option labels.
func (d Definition) EffectiveValueColumn() string {
	if d.ValueColumn != "" {
		return d.ValueColumn
	}
	return d.FilterAliasColumn()
}

// EffectiveSortColumn is the lookup column listings and id sorting order by.
func (d Definition) EffectiveSortColumn() string {
	if d.SortColumn != "" {
		return d.SortColumn
	}
	return d.IDColumn
}

// EffectiveSortDirection is the direction used for option listings.
func (d Definition) EffectiveSortDirection() string {
	if strings.EqualFold(strings.TrimSpace(d.SortDirection), DirectionDesc) {
		return DirectionDesc
	}
	return DirectionAsc
}

// AdditionalWhere returns the decoded extra predicate, or "" when unset.
func (d Definition) AdditionalWhere() string {
	if strings.TrimSpace(d.ExtraWhere) == "" {
		return ""
	}
	return html.UnescapeString(d.ExtraWhere)
}

// SettingNames lists the configuration keys a select attribute reads.
func SettingNames() []string {
	return []string{
		"column",
		"source_table",
		"id_column",
		"alias_column",
		"value_column",
		"extra_where",
		"sort_column",
		"sort_direction",
		"tree_picker",
	}
}

// Validate checks the identifiers of a definition. Incomplete lookup settings
// are not an error; they disable the attribute.
func (d Definition) Validate() error {
	if !sqlutil.ValidIdentifier(d.OwnerTable) {
		return fmt.Errorf("attribute %q: invalid owner table %q", d.Name(), d.OwnerTable)
	}
	if !sqlutil.ValidIdentifier(d.Column) {
		return fmt.Errorf("attribute %q: invalid column %q", d.Name(), d.Column)
	}

	optional := []struct {
		field string
		value string
	}{
		{"source_table", d.SourceTable},
		{"id_column", d.IDColumn},
		{"alias_column", d.AliasColumn},
		{"value_column", d.ValueColumn},
		{"sort_column", d.SortColumn},
	}
	for _, o := range optional {
		if o.value != "" && !sqlutil.ValidIdentifier(o.value) {
			return fmt.Errorf("attribute %q: invalid %s %q", d.Name(), o.field, o.value)
		}
	}

	if dir := strings.TrimSpace(d.SortDirection); dir != "" &&
		!strings.EqualFold(dir, DirectionAsc) && !strings.EqualFold(dir, DirectionDesc) {
		return fmt.Errorf("attribute %q: sort_direction must be ASC or DESC, got %q", d.Name(), d.SortDirection)
	}
	return nil
}
