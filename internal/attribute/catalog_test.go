package attribute

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCatalogFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func TestLoadCatalog(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "products.yaml", `
table: products
attributes:
  - column: color
    source_table: colors
    id_column: id
    alias_column: alias
    value_column: name
    sort_column: sort
    sort_direction: DESC
    extra_where: "colors.active = 1"
  - column: size
    source_table: sizes
    id_column: id
    tree_picker: true
`)
	writeCatalogFile(t, dir, "categories.yml", `
attributes:
  - column: parent
    source_table: categories
    id_column: id
    alias_column: slug
`)
	writeCatalogFile(t, dir, "README.md", "not a catalog")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested"), 0o755))

	catalog, skipped, err := LoadCatalog(dir, Policy{})
	require.NoError(t, err)
	assert.Empty(t, skipped)
	assert.Equal(t, []string{"categories.parent", "products.color", "products.size"}, catalog.Names())

	color, err := catalog.Lookup("products.color")
	require.NoError(t, err)
	assert.Equal(t, Definition{
		Column:        "color",
		OwnerTable:    "products",
		SourceTable:   "colors",
		IDColumn:      "id",
		AliasColumn:   "alias",
		ValueColumn:   "name",
		ExtraWhere:    "colors.active = 1",
		SortColumn:    "sort",
		SortDirection: "DESC",
	}, color)

	parent, err := catalog.Lookup("categories.parent")
	require.NoError(t, err)
	assert.Equal(t, "categories", parent.OwnerTable, "owner table falls back to the file name")
	assert.Equal(t, parent.OwnerTable, parent.SourceTable)

	size, err := catalog.Lookup("products.size")
	require.NoError(t, err)
	assert.True(t, size.TreePicker)
}

func TestLoadCatalog_PolicySkipsSources(t *testing.T) {
	dir := t.TempDir()
	writeCatalogFile(t, dir, "products.yaml", `
table: products
attributes:
  - column: color
    source_table: colors
    id_column: id
  - column: owner
    source_table: secret_users
    id_column: id
  - column: draft
`)

	catalog, skipped, err := LoadCatalog(dir, Policy{DenyTables: []string{"secret_*"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"products.owner"}, skipped)
	assert.Equal(t, []string{"products.color", "products.draft"}, catalog.Names())

	draft, err := catalog.Lookup("products.draft")
	require.NoError(t, err)
	assert.False(t, draft.Enabled())
}

func TestLoadCatalog_Errors(t *testing.T) {
	t.Run("missing dir", func(t *testing.T) {
		_, _, err := LoadCatalog(filepath.Join(t.TempDir(), "missing"), Policy{})
		assert.ErrorContains(t, err, "read catalog dir")
	})

	t.Run("malformed yaml", func(t *testing.T) {
		dir := t.TempDir()
		writeCatalogFile(t, dir, "bad.yaml", "attributes: [")
		_, _, err := LoadCatalog(dir, Policy{})
		assert.ErrorContains(t, err, "parse catalog file")
	})

	t.Run("unknown key", func(t *testing.T) {
		dir := t.TempDir()
		writeCatalogFile(t, dir, "products.yaml",
			"attributes:\n  - column: color\n    source_table: colors\n    id_column: id\n    alias_colum: slug\n")
		_, _, err := LoadCatalog(dir, Policy{})
		assert.ErrorContains(t, err, "parse catalog file")
		assert.ErrorContains(t, err, "alias_colum")
	})

	t.Run("empty file", func(t *testing.T) {
		dir := t.TempDir()
		writeCatalogFile(t, dir, "products.yaml", "")
		catalog, _, err := LoadCatalog(dir, Policy{})
		require.NoError(t, err)
		assert.Equal(t, 0, catalog.Len())
	})

	t.Run("invalid definition", func(t *testing.T) {
		dir := t.TempDir()
		writeCatalogFile(t, dir, "products.yaml", "attributes:\n  - column: color\n    sort_direction: up\n")
		_, _, err := LoadCatalog(dir, Policy{})
		assert.ErrorContains(t, err, "sort_direction")
	})
}

func TestCatalog_LookupMissing(t *testing.T) {
	catalog := NewCatalog(colorDefinition())
	_, err := catalog.Lookup("products.size")
	assert.ErrorIs(t, err, ErrNotFound)

	var empty *Catalog
	_, err = empty.Lookup("products.color")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, empty.Len())
	assert.Nil(t, empty.Names())
}

func TestPolicy_SourceAllowed(t *testing.T) {
	tests := []struct {
		name   string
		policy Policy
		table  string
		want   bool
	}{
		{"empty policy allows all", Policy{}, "colors", true},
		{"allow list match", Policy{AllowTables: []string{"col*"}}, "colors", true},
		{"allow list miss", Policy{AllowTables: []string{"sizes"}}, "colors", false},
		{"deny wins", Policy{AllowTables: []string{"*"}, DenyTables: []string{"colors"}}, "colors", false},
		{"case insensitive", Policy{DenyTables: []string{"COLORS"}}, "colors", false},
		{"bad pattern ignored", Policy{AllowTables: []string{"[", "colors"}}, "colors", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.policy.SourceAllowed(tt.table))
		})
	}
}
