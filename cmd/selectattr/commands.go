package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"selectattr/internal/attribute"
	"selectattr/internal/rowmap"
	"selectattr/internal/selectattr"
)

const commandUsage = `Commands:
  list                              List catalog attributes
  get <attribute> --ids 1,2         Resolve the stored value of each owner
  set <attribute> <id>=<alias>...   Store values by widget alias; "<id>=" clears
  options <attribute>               List filter options [--ids] [--used-only] [--counts]
  sort <attribute> --ids 3,1,2      Order owners by the lookup sort column [--direction]
`

var errUsage = errors.New("invalid usage")

// attributeSource is satisfied by *app.App.
type attributeSource interface {
	Catalog() *attribute.Catalog
	Attribute(name string) (*selectattr.Attribute, error)
}

type command struct {
	name      string
	attribute string
	args      []string

	ids       []int64
	idsSet    bool
	usedOnly  bool
	counts    bool
	direction string
}

func parseCommand(flags *pflag.FlagSet) (*command, error) {
	positional := flags.Args()
	if len(positional) == 0 {
		return nil, fmt.Errorf("%w: missing command", errUsage)
	}

	cmd := &command{name: positional[0]}
	cmd.ids, _ = flags.GetInt64Slice("ids")
	cmd.idsSet = flags.Changed("ids")
	cmd.usedOnly, _ = flags.GetBool("used-only")
	cmd.counts, _ = flags.GetBool("counts")
	cmd.direction, _ = flags.GetString("direction")
	cmd.direction = strings.ToUpper(strings.TrimSpace(cmd.direction))

	switch cmd.name {
	case "list":
		return cmd, nil
	case "get", "set", "options", "sort":
	default:
		return nil, fmt.Errorf("%w: unknown command %q", errUsage, cmd.name)
	}

	if len(positional) < 2 {
		return nil, fmt.Errorf("%w: %s needs an attribute name", errUsage, cmd.name)
	}
	cmd.attribute = positional[1]
	cmd.args = positional[2:]

	switch {
	case (cmd.name == "get" || cmd.name == "sort") && !cmd.idsSet:
		return nil, fmt.Errorf("%w: %s needs --ids", errUsage, cmd.name)
	case cmd.name == "set" && len(cmd.args) == 0:
		return nil, fmt.Errorf("%w: set needs at least one <id>=<alias> pair", errUsage)
	}
	return cmd, nil
}

func (c *command) execute(ctx context.Context, src attributeSource, out io.Writer) error {
	if c.name == "list" {
		return writeJSON(out, listAttributes(src.Catalog()))
	}

	a, err := src.Attribute(c.attribute)
	if err != nil {
		return err
	}

	switch c.name {
	case "get":
		return c.get(ctx, a, out)
	case "set":
		return c.set(ctx, a, out)
	case "options":
		return c.options(ctx, a, out)
	case "sort":
		sorted, err := a.SortIDs(ctx, c.ids, c.direction)
		if err != nil {
			return err
		}
		return writeJSON(out, sorted)
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, c.name)
}

type attributeSummary struct {
	Name          string `json:"name"`
	SourceTable   string `json:"source_table,omitempty"`
	AliasColumn   string `json:"alias_column"`
	ValueColumn   string `json:"value_column"`
	SortColumn    string `json:"sort_column"`
	SortDirection string `json:"sort_direction"`
	TreePicker    bool   `json:"tree_picker,omitempty"`
	Enabled       bool   `json:"enabled"`
}

func listAttributes(catalog *attribute.Catalog) []attributeSummary {
	defs := catalog.Definitions()
	out := make([]attributeSummary, 0, len(defs))
	for _, def := range defs {
		out = append(out, attributeSummary{
			Name:          def.Name(),
			SourceTable:   def.SourceTable,
			AliasColumn:   def.EffectiveAliasColumn(),
			ValueColumn:   def.EffectiveValueColumn(),
			SortColumn:    def.EffectiveSortColumn(),
			SortDirection: def.EffectiveSortDirection(),
			TreePicker:    def.TreePicker,
			Enabled:       def.Enabled(),
		})
	}
	return out
}

type resolvedValue struct {
	Value       rowmap.Row `json:"value"`
	Widget      any        `json:"widget"`
	FilterValue string     `json:"filter_value"`
}

func (c *command) get(ctx context.Context, a *selectattr.Attribute, out io.Writer) error {
	rows, err := a.GetDataFor(ctx, c.ids)
	if err != nil {
		return err
	}
	resolved := make(map[int64]resolvedValue, len(rows))
	for id, row := range rows {
		resolved[id] = resolvedValue{
			Value:       row,
			Widget:      a.ValueToWidget(row),
			FilterValue: a.FilterURLValue(row),
		}
	}
	return writeJSON(out, resolved)
}

// set resolves every pair before writing, so a malformed pair or an unknown
// alias leaves the owning table untouched. Only an empty alias clears a value.
func (c *command) set(ctx context.Context, a *selectattr.Attribute, out io.Writer) error {
	values := make(map[int64]rowmap.Row, len(c.args))
	for _, pair := range c.args {
		rawID, alias, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("%w: %q is not <id>=<alias>", errUsage, pair)
		}
		ownerID, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
		if err != nil {
			return fmt.Errorf("%w: invalid owner id %q", errUsage, rawID)
		}
		alias = strings.TrimSpace(alias)
		row, err := a.WidgetToValue(ctx, alias, ownerID)
		if err != nil {
			return err
		}
		if alias != "" && row == nil {
			return fmt.Errorf("%w: unknown value %q for %s", errUsage, alias, a.Definition().Name())
		}
		values[ownerID] = row
	}

	if err := a.SetDataFor(ctx, values); err != nil {
		return err
	}
	return writeJSON(out, map[string]int{"updated": len(values)})
}

func (c *command) options(ctx context.Context, a *selectattr.Attribute, out io.Writer) error {
	var ids []int64
	if c.idsSet {
		ids = c.ids
		if ids == nil {
			ids = []int64{}
		}
	}
	var counts map[string]int64
	if c.counts {
		counts = make(map[string]int64)
	}

	options, err := a.GetFilterOptions(ctx, ids, c.usedOnly, counts)
	if err != nil {
		return err
	}
	return writeJSON(out, options.Entries(counts))
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
