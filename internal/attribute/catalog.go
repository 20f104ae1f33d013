package attribute

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Policy controls which lookup tables attributes may draw values from.
// Missing allow lists default to allow-all; deny rules always win.
type Policy struct {
	AllowTables []string `mapstructure:"allow_tables"`
	DenyTables  []string `mapstructure:"deny_tables"`
}

// SourceAllowed reports whether table may be used as a lookup table.
func (p Policy) SourceAllowed(table string) bool {
	if matchesAny(table, p.DenyTables) {
		return false
	}
	if len(p.AllowTables) == 0 {
		return true
	}
	return matchesAny(table, p.AllowTables)
}

func matchesAny(value string, patterns []string) bool {
	value = strings.ToLower(value)
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		ok, err := path.Match(strings.ToLower(pattern), value)
		if err != nil {
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// modelFile is the on-disk shape of one catalog file.
type modelFile struct {
	Table      string       `yaml:"table"`
	Attributes []Definition `yaml:"attributes"`
}

// Catalog is the set of attribute definitions keyed by "<table>.<column>".
type Catalog struct {
	defs  map[string]Definition
	names []string
}

// NewCatalog builds a catalog from definitions that were already validated.
func NewCatalog(defs ...Definition) *Catalog {
	c := &Catalog{defs: make(map[string]Definition, len(defs))}
	for _, def := range defs {
		c.add(def)
	}
	return c
}

func (c *Catalog) add(def Definition) {
	name := def.Name()
	if _, ok := c.defs[name]; !ok {
		c.names = append(c.names, name)
		sort.Strings(c.names)
	}
	c.defs[name] = def
}

// Lookup returns the definition registered under name.
func (c *Catalog) Lookup(name string) (Definition, error) {
	if c != nil {
		if def, ok := c.defs[name]; ok {
			return def, nil
		}
	}
	return Definition{}, fmt.Errorf("%w: %s", ErrNotFound, name)
}

// Names returns the registered attribute names in lexical order.
func (c *Catalog) Names() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.names...)
}

// Definitions returns all registered definitions in name order.
func (c *Catalog) Definitions() []Definition {
	if c == nil {
		return nil
	}
	out := make([]Definition, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, c.defs[name])
	}
	return out
}

// Len returns the number of registered attributes.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.defs)
}

// LoadCatalog reads every *.yaml / *.yml file in dir. The owning table comes
// from the file's table key, or from the file name when the key is absent.
// Attributes whose source table the policy rejects are skipped and reported.
func LoadCatalog(dir string, policy Policy) (*Catalog, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("read catalog dir: %w", err)
	}

	catalog := NewCatalog()
	var skipped []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		file := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, nil, fmt.Errorf("read catalog file %s: %w", file, err)
		}
		var model modelFile
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&model); err != nil && !errors.Is(err, io.EOF) {
			return nil, nil, fmt.Errorf("parse catalog file %s: %w", file, err)
		}
		table := model.Table
		if table == "" {
			table = strings.TrimSuffix(entry.Name(), ext)
		}

		for _, def := range model.Attributes {
			def.OwnerTable = table
			if err := def.Validate(); err != nil {
				return nil, nil, fmt.Errorf("%s: %w", file, err)
			}
			if def.SourceTable != "" && !policy.SourceAllowed(def.SourceTable) {
				skipped = append(skipped, def.Name())
				continue
			}
			catalog.add(def)
		}
	}
	return catalog, skipped, nil
}
