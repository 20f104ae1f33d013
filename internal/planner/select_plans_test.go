package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"selectattr/internal/attribute"
)

func colorDefinition() attribute.Definition {
	return attribute.Definition{
		Column:      "color",
		OwnerTable:  "products",
		SourceTable: "colors",
		IDColumn:    "id",
		AliasColumn: "alias",
		ValueColumn: "name",
		SortColumn:  "sort",
	}
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "ASC", false},
		{"asc", "ASC", false},
		{" DESC ", "DESC", false},
		{"Desc", "DESC", false},
		{"DESC; DROP TABLE x", "", true},
		{"up", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDirection(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDirection)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlanSortIDs(t *testing.T) {
	planned, err := PlanSortIDs(colorDefinition(), []int64{5, 2, 9}, "desc")
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT `products`.`id` FROM `products` JOIN `colors` ON `colors`.`id` = `products`.`color` "+
			"WHERE `products`.`id` IN (?,?,?) ORDER BY `colors`.`sort` DESC, `products`.`id` ASC",
		planned.SQL)
	assert.Equal(t, []interface{}{int64(5), int64(2), int64(9)}, planned.Args)
}

func TestPlanSortIDs_Errors(t *testing.T) {
	_, err := PlanSortIDs(colorDefinition(), nil, "ASC")
	assert.ErrorIs(t, err, ErrEmptyRestriction)

	_, err = PlanSortIDs(colorDefinition(), []int64{1}, "random")
	assert.ErrorIs(t, err, ErrInvalidDirection)

	_, err = PlanSortIDs(attribute.Definition{OwnerTable: "products", Column: "color"}, []int64{1}, "ASC")
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestPlanSortIDs_FallsBackToIDColumn(t *testing.T) {
	def := colorDefinition()
	def.SortColumn = ""
	planned, err := PlanSortIDs(def, []int64{1}, "")
	require.NoError(t, err)
	assert.Contains(t, planned.SQL, "ORDER BY `colors`.`id` ASC")
}

func TestPlanUsedOptions(t *testing.T) {
	t.Run("used only", func(t *testing.T) {
		planned, err := PlanUsedOptions(colorDefinition(), true)
		require.NoError(t, err)
		assert.Equal(t,
			"SELECT SQL_NO_CACHE COUNT(`colors`.`id`) AS `mm_count`, `colors`.* FROM `colors` "+
				"RIGHT JOIN `products` ON `colors`.`id` = `products`.`color` "+
				"GROUP BY `colors`.`id` ORDER BY `colors`.`sort` ASC",
			planned.SQL)
		assert.Empty(t, planned.Args)
	})

	t.Run("all options", func(t *testing.T) {
		planned, err := PlanUsedOptions(colorDefinition(), false)
		require.NoError(t, err)
		assert.Equal(t,
			"SELECT SQL_NO_CACHE COUNT(`products`.`color`) AS `mm_count`, `colors`.* FROM `colors` "+
				"LEFT JOIN `products` ON `colors`.`id` = `products`.`color` "+
				"GROUP BY `colors`.`id` ORDER BY `colors`.`sort` ASC",
			planned.SQL)
	})

	t.Run("extra where and direction", func(t *testing.T) {
		def := colorDefinition()
		def.ExtraWhere = "colors.code &lt;&gt; &#39;x&#39;"
		def.SortDirection = "DESC"
		planned, err := PlanUsedOptions(def, false)
		require.NoError(t, err)
		assert.Equal(t,
			"SELECT SQL_NO_CACHE COUNT(`products`.`color`) AS `mm_count`, `colors`.* FROM `colors` "+
				"LEFT JOIN `products` ON `colors`.`id` = `products`.`color` "+
				"WHERE (colors.code <> 'x') GROUP BY `colors`.`id` ORDER BY `colors`.`sort` DESC",
			planned.SQL)
	})
}

func TestPlanFilteredOptions(t *testing.T) {
	def := colorDefinition()
	planned, err := PlanFilteredOptions(def, []int64{10, 11})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT SQL_NO_CACHE COUNT(`colors`.`id`) AS `mm_count`, `colors`.* FROM `colors` "+
			"RIGHT JOIN `products` ON `colors`.`id` = `products`.`color` "+
			"WHERE `products`.`id` IN (?,?) GROUP BY `colors`.`id` ORDER BY `colors`.`sort` ASC",
		planned.SQL)
	assert.Equal(t, []interface{}{int64(10), int64(11)}, planned.Args)

	def.ExtraWhere = "colors.active = 1"
	planned, err = PlanFilteredOptions(def, []int64{10})
	require.NoError(t, err)
	assert.Contains(t, planned.SQL, "WHERE (`products`.`id` IN (?) AND (colors.active = 1))")
	assert.Equal(t, []interface{}{int64(10)}, planned.Args)
}

func TestPlanFilteredOptions_EmptyRestriction(t *testing.T) {
	_, err := PlanFilteredOptions(colorDefinition(), []int64{})
	assert.ErrorIs(t, err, ErrEmptyRestriction)
}

func TestPlanBatchLookup(t *testing.T) {
	planned, err := PlanBatchLookup(colorDefinition(), []int64{10, 11})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT `sourceTable`.*, `products`.`id` AS `products_id` FROM `colors` AS `sourceTable` "+
			"LEFT JOIN `products` ON `sourceTable`.`id` = `products`.`color` WHERE `products`.`id` IN (?,?)",
		planned.SQL)
	assert.Equal(t, []interface{}{int64(10), int64(11)}, planned.Args)
	assert.Equal(t, "products_id", OwnerKeyAlias(colorDefinition()))
}

func TestPlanBatchLookup_SelfReference(t *testing.T) {
	def := attribute.Definition{
		Column:      "parent",
		OwnerTable:  "categories",
		SourceTable: "categories",
		IDColumn:    "id",
	}
	planned, err := PlanBatchLookup(def, []int64{3})
	require.NoError(t, err)
	assert.Equal(t,
		"SELECT `sourceTable`.*, `categories`.`id` AS `categories_id` FROM `categories` AS `sourceTable` "+
			"LEFT JOIN `categories` ON `sourceTable`.`id` = `categories`.`parent` WHERE `categories`.`id` IN (?)",
		planned.SQL)
}

func TestPlanAliasLookup(t *testing.T) {
	planned, err := PlanAliasLookup(colorDefinition(), "red")
	require.NoError(t, err)
	assert.Equal(t, "SELECT `colors`.* FROM `colors` WHERE `colors`.`alias` = ?", planned.SQL)
	assert.Equal(t, []interface{}{"red"}, planned.Args)

	def := colorDefinition()
	def.TreePicker = true
	planned, err = PlanAliasLookup(def, int64(4))
	require.NoError(t, err)
	assert.Equal(t, "SELECT `colors`.* FROM `colors` WHERE `colors`.`id` = ?", planned.SQL)
}

func TestPlanAliasLookup_ByteAndSliceValues(t *testing.T) {
	planned, err := PlanAliasLookup(colorDefinition(), []byte("red"))
	require.NoError(t, err)
	assert.Equal(t, "SELECT `colors`.* FROM `colors` WHERE `colors`.`alias` = ?", planned.SQL)
	assert.Equal(t, []interface{}{"red"}, planned.Args)

	_, err = PlanAliasLookup(colorDefinition(), []string{"red", "blue"})
	assert.ErrorIs(t, err, ErrUnsupportedValue)
}

func TestPlanValueUpdate(t *testing.T) {
	planned, err := PlanValueUpdate(colorDefinition(), 10, int64(2))
	require.NoError(t, err)
	assert.Equal(t, "UPDATE `products` SET `color` = ? WHERE `products`.`id` = ?", planned.SQL)
	assert.Equal(t, []interface{}{int64(2), int64(10)}, planned.Args)
}

func TestPlans_QuoteIdentifiers(t *testing.T) {
	def := colorDefinition()
	def.SourceTable = "col`ors"
	planned, err := PlanAliasLookup(def, "red")
	require.NoError(t, err)
	assert.Equal(t, "SELECT `col``ors`.* FROM `col``ors` WHERE `col``ors`.`alias` = ?", planned.SQL)
}
