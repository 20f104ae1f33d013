package selectattr

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	attr "selectattr/internal/attribute"
	"selectattr/internal/dbexec"
	"selectattr/internal/planner"
	"selectattr/internal/rowmap"
)

const (
	batchSQL = "SELECT `sourceTable`.*, `products`.`id` AS `products_id` FROM `colors` AS `sourceTable` " +
		"LEFT JOIN `products` ON `sourceTable`.`id` = `products`.`color` WHERE `products`.`id` IN (?,?)"
	usedOnlySQL = "SELECT SQL_NO_CACHE COUNT(`colors`.`id`) AS `mm_count`, `colors`.* FROM `colors` " +
		"RIGHT JOIN `products` ON `colors`.`id` = `products`.`color` " +
		"GROUP BY `colors`.`id` ORDER BY `colors`.`sort` ASC"
	allOptionsSQL = "SELECT SQL_NO_CACHE COUNT(`products`.`color`) AS `mm_count`, `colors`.* FROM `colors` " +
		"LEFT JOIN `products` ON `colors`.`id` = `products`.`color` " +
		"GROUP BY `colors`.`id` ORDER BY `colors`.`sort` ASC"
	restrictedSQL = "SELECT SQL_NO_CACHE COUNT(`colors`.`id`) AS `mm_count`, `colors`.* FROM `colors` " +
		"RIGHT JOIN `products` ON `colors`.`id` = `products`.`color` " +
		"WHERE `products`.`id` IN (?,?) GROUP BY `colors`.`id` ORDER BY `colors`.`sort` ASC"
	sortSQL = "SELECT `products`.`id` FROM `products` JOIN `colors` ON `colors`.`id` = `products`.`color` " +
		"WHERE `products`.`id` IN (?,?,?) ORDER BY `colors`.`sort` ASC, `products`.`id` ASC"
	aliasSQL  = "SELECT `colors`.* FROM `colors` WHERE `colors`.`alias` = ?"
	idSQL     = "SELECT `colors`.* FROM `colors` WHERE `colors`.`id` = ?"
	updateSQL = "UPDATE `products` SET `color` = ? WHERE `products`.`id` = ?"
)

var lookupColumns = []string{"id", "alias", "name", "sort"}

func colorDefinition() attr.Definition {
	return attr.Definition{
		Column:      "color",
		OwnerTable:  "products",
		SourceTable: "colors",
		IDColumn:    "id",
		AliasColumn: "alias",
		ValueColumn: "name",
		SortColumn:  "sort",
	}
}

func newMockAttribute(t *testing.T, def attr.Definition, opts ...Option) (*Attribute, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return New(def, dbexec.NewStandardExecutor(db), opts...), mock
}

func TestGetDataFor_KeysByOwnerID(t *testing.T) {
	a, mock := newMockAttribute(t, colorDefinition())

	mock.ExpectQuery(batchSQL).
		WithArgs(int64(10), int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "alias", "name", "sort", "products_id"}).
			AddRow(int64(1), "red", "Red", int64(20), int64(10)))

	got, err := a.GetDataFor(context.Background(), []int64{10, 11})
	require.NoError(t, err)
	assert.Equal(t, map[int64]rowmap.Row{
		10: {"id": int64(1), "alias": "red", "name": "Red", "sort": int64(20), "products_id": int64(10)},
	}, got)
}

func TestGetDataFor_OwnerKeyShadowsLookupColumn(t *testing.T) {
	a, mock := newMockAttribute(t, colorDefinition())

	mock.ExpectQuery(batchSQL).
		WithArgs(int64(10), int64(11)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "products_id", "alias", "products_id"}).
			AddRow(int64(1), int64(99), "red", int64(10)))

	got, err := a.GetDataFor(context.Background(), []int64{10, 11})
	require.NoError(t, err)
	require.Contains(t, got, int64(10))
	assert.Equal(t, int64(10), got[10]["products_id"])
}

func TestGetDataFor_ChunksIDs(t *testing.T) {
	a, mock := newMockAttribute(t, colorDefinition(), WithBatchSize(2))

	columns := []string{"id", "alias", "products_id"}
	mock.ExpectQuery(batchSQL).
		WithArgs(int64(1), int64(2)).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(int64(7), "red", int64(1)).AddRow(int64(8), "blue", int64(2)))
	mock.ExpectQuery("SELECT `sourceTable`.*, `products`.`id` AS `products_id` FROM `colors` AS `sourceTable` "+
		"LEFT JOIN `products` ON `sourceTable`.`id` = `products`.`color` WHERE `products`.`id` IN (?)").
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(columns).AddRow(int64(7), "red", int64(3)))

	got, err := a.GetDataFor(context.Background(), []int64{1, 2, 3})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "blue", got[2]["alias"])
	assert.Equal(t, "red", got[3]["alias"])
}

func TestGetDataFor_EmptyIDs(t *testing.T) {
	a, _ := newMockAttribute(t, colorDefinition())
	got, err := a.GetDataFor(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetDataFor_PropagatesError(t *testing.T) {
	a, mock := newMockAttribute(t, colorDefinition())
	boom := errors.New("table colors doesn't exist")
	mock.ExpectQuery(batchSQL).WithArgs(int64(10), int64(11)).WillReturnError(boom)

	_, err := a.GetDataFor(context.Background(), []int64{10, 11})
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "products.color")
}

func TestGetFilterOptions_UsedOnly(t *testing.T) {
	a, mock := newMockAttribute(t, colorDefinition())
	mock.ExpectQuery(usedOnlySQL).
		WillReturnRows(sqlmock.NewRows(append([]string{"mm_count"}, lookupColumns...)).
			AddRow(int64(2), int64(1), "a", "A", int64(1)).
			AddRow(int64(1), int64(2), "b", "B", int64(2)))

	counts := map[string]int64{}
	options, err := a.GetFilterOptions(context.Background(), nil, true, counts)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, options.Keys())
	assert.Equal(t, map[string]any{"a": "A", "b": "B"}, options.Map())
	assert.Equal(t, map[string]int64{"a": 2, "b": 1}, counts)
}

func TestGetFilterOptions_UsedOnlyIgnoresUnmatchedOwners(t *testing.T) {
	a, mock := newMockAttribute(t, colorDefinition())
	mock.ExpectQuery(usedOnlySQL).
		WillReturnRows(sqlmock.NewRows(append([]string{"mm_count"}, lookupColumns...)).
			AddRow(int64(0), nil, nil, nil, nil).
			AddRow(int64(3), int64(1), "a", "A", int64(1)))

	counts := map[string]int64{}
	options, err := a.GetFilterOptions(context.Background(), nil, true, counts)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, options.Keys())
	assert.Equal(t, map[string]int64{"a": 3}, counts)
}

func TestGetFilterOptions_AllOptionsCountUnused(t *testing.T) {
	a, mock := newMockAttribute(t, colorDefinition())
	mock.ExpectQuery(allOptionsSQL).
		WillReturnRows(sqlmock.NewRows(append([]string{"mm_count"}, lookupColumns...)).
			AddRow(int64(2), int64(1), "a", "A", int64(1)).
			AddRow(int64(1), int64(2), "b", "B", int64(2)).
			AddRow(int64(0), int64(3), "c", "C", int64(3)))

	counts := map[string]int64{}
	options, err := a.GetFilterOptions(context.Background(), nil, false, counts)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, options.Keys())
	assert.Equal(t, int64(0), counts["c"])
}

func TestGetFilterOptions_Restricted(t *testing.T) {
	a, mock := newMockAttribute(t, colorDefinition())
	mock.ExpectQuery(restrictedSQL).
		WithArgs(int64(10), int64(11)).
		WillReturnRows(sqlmock.NewRows(append([]string{"mm_count"}, lookupColumns...)).
			AddRow(int64(2), int64(1), "a", "A", int64(1)))

	options, err := a.GetFilterOptions(context.Background(), []int64{10, 11}, false, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, options.Keys())
}

func TestGetFilterOptions_EmptyIDsIssueNoQuery(t *testing.T) {
	a, _ := newMockAttribute(t, colorDefinition())
	counts := map[string]int64{}
	options, err := a.GetFilterOptions(context.Background(), []int64{}, true, counts)
	require.NoError(t, err)
	assert.Equal(t, 0, options.Len())
	assert.Empty(t, counts)
}

func TestGetFilterOptions_FallsBackToIDColumn(t *testing.T) {
	def := colorDefinition()
	def.AliasColumn = ""
	def.ValueColumn = ""
	a, mock := newMockAttribute(t, def)
	mock.ExpectQuery(usedOnlySQL).
		WillReturnRows(sqlmock.NewRows([]string{"mm_count", "id", "sort"}).
			AddRow(int64(1), int64(4), int64(1)))

	options, err := a.GetFilterOptions(context.Background(), nil, true, nil)
	require.NoError(t, err)
	label, ok := options.Get("4")
	require.True(t, ok)
	assert.Equal(t, int64(4), label)
}

func TestSortIDs_DropsUnmatched(t *testing.T) {
	a, mock := newMockAttribute(t, colorDefinition())
	mock.ExpectQuery(sortSQL).
		WithArgs(int64(5), int64(2), int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)).AddRow(int64(5)))

	sorted, err := a.SortIDs(context.Background(), []int64{5, 2, 9}, "ASC")
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 5}, sorted)
}

func TestSortIDs_InvalidDirection(t *testing.T) {
	a, _ := newMockAttribute(t, colorDefinition())
	_, err := a.SortIDs(context.Background(), []int64{1}, "ASC, (SELECT 1)")
	require.Error(t, err)
}

func TestSortIDs_Empty(t *testing.T) {
	a, _ := newMockAttribute(t, colorDefinition())
	sorted, err := a.SortIDs(context.Background(), nil, "DESC")
	require.NoError(t, err)
	assert.Empty(t, sorted)
}

func TestWidgetRoundTrip(t *testing.T) {
	a, mock := newMockAttribute(t, colorDefinition())
	stored := rowmap.Row{"id": int64(1), "alias": "red", "name": "Red", "sort": int64(20)}

	widget := a.ValueToWidget(stored)
	assert.Equal(t, "red", widget)

	mock.ExpectQuery(aliasSQL).
		WithArgs("red").
		WillReturnRows(sqlmock.NewRows(lookupColumns).AddRow(int64(1), "red", "Red", int64(20)))

	row, err := a.WidgetToValue(context.Background(), widget, 10)
	require.NoError(t, err)
	assert.Equal(t, stored["id"], row["id"])
}

func TestWidgetToValue_AliasFallback(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*attr.Definition)
	}{
		{"empty alias", func(d *attr.Definition) { d.AliasColumn = "" }},
		{"tree picker", func(d *attr.Definition) { d.TreePicker = true }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := colorDefinition()
			tt.mutate(&def)
			a, mock := newMockAttribute(t, def)

			stored := rowmap.Row{"id": int64(3), "alias": "green"}
			assert.Equal(t, int64(3), a.ValueToWidget(stored))

			mock.ExpectQuery(idSQL).
				WithArgs(int64(3)).
				WillReturnRows(sqlmock.NewRows([]string{"id", "alias"}).AddRow(int64(3), "green"))
			row, err := a.WidgetToValue(context.Background(), int64(3), 1)
			require.NoError(t, err)
			assert.Equal(t, stored, row)
		})
	}
}

func TestWidgetToValue_UnknownAlias(t *testing.T) {
	a, mock := newMockAttribute(t, colorDefinition())
	mock.ExpectQuery(aliasSQL).WithArgs("purple").WillReturnRows(sqlmock.NewRows(lookupColumns))

	row, err := a.WidgetToValue(context.Background(), "purple", 1)
	require.NoError(t, err)
	assert.Nil(t, row)

	row, err = a.WidgetToValue(context.Background(), "", 1)
	require.NoError(t, err)
	assert.Nil(t, row)
}

func TestWidgetToValue_ByteValue(t *testing.T) {
	a, mock := newMockAttribute(t, colorDefinition())
	mock.ExpectQuery(aliasSQL).WithArgs("red").
		WillReturnRows(sqlmock.NewRows(lookupColumns).AddRow(int64(2), "red", "Red", int64(20)))

	row, err := a.WidgetToValue(context.Background(), []byte("red"), 1)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, "red", rowmap.Key(row["alias"]))

	row, err = a.WidgetToValue(context.Background(), []byte{}, 1)
	require.NoError(t, err)
	assert.Nil(t, row)

	_, err = a.WidgetToValue(context.Background(), []int64{1, 2}, 1)
	assert.ErrorIs(t, err, planner.ErrUnsupportedValue)
}

func TestSetDataFor_UpdatesInOwnerOrder(t *testing.T) {
	a, mock := newMockAttribute(t, colorDefinition())
	mock.ExpectExec(updateSQL).WithArgs(int64(2), int64(10)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(updateSQL).WithArgs(nil, int64(11)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(updateSQL).WithArgs(int64(1), int64(12)).WillReturnResult(sqlmock.NewResult(0, 1))

	err := a.SetDataFor(context.Background(), map[int64]rowmap.Row{
		12: {"id": int64(1), "alias": "red"},
		10: {"id": int64(2), "alias": "blue"},
		11: nil,
	})
	require.NoError(t, err)
}

func TestSetDataFor_StopsAtFirstFailure(t *testing.T) {
	a, mock := newMockAttribute(t, colorDefinition())
	boom := errors.New("lock wait timeout")
	mock.ExpectExec(updateSQL).WithArgs(int64(2), int64(10)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(updateSQL).WithArgs(int64(1), int64(11)).WillReturnError(boom)

	err := a.SetDataFor(context.Background(), map[int64]rowmap.Row{
		10: {"id": int64(2)},
		11: {"id": int64(1)},
		12: {"id": int64(3)},
	})
	assert.ErrorIs(t, err, boom)
	assert.ErrorContains(t, err, "id 11")
}

func TestDisabledConfiguration(t *testing.T) {
	tests := []struct {
		name string
		def  attr.Definition
	}{
		{"missing source table", attr.Definition{OwnerTable: "products", Column: "color", IDColumn: "id"}},
		{"missing id column", attr.Definition{OwnerTable: "products", Column: "color", SourceTable: "colors"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, _ := newMockAttribute(t, tt.def)
			ctx := context.Background()

			data, err := a.GetDataFor(ctx, []int64{1, 2})
			require.NoError(t, err)
			assert.Empty(t, data)

			require.NoError(t, a.SetDataFor(ctx, map[int64]rowmap.Row{1: {"id": int64(1)}}))

			options, err := a.GetFilterOptions(ctx, nil, true, map[string]int64{})
			require.NoError(t, err)
			assert.Equal(t, 0, options.Len())

			row, err := a.WidgetToValue(ctx, "red", 1)
			require.NoError(t, err)
			assert.Nil(t, row)

			sorted, err := a.SortIDs(ctx, []int64{3, 1}, "ASC")
			require.NoError(t, err)
			assert.NotNil(t, sorted)
			assert.Empty(t, sorted)
		})
	}
}

func TestFilterURLValue(t *testing.T) {
	a := New(colorDefinition(), nil)
	assert.Equal(t, "dark+red%2Fbrown", a.FilterURLValue(rowmap.Row{"id": int64(1), "alias": "dark red/brown"}))
	assert.Equal(t, "", a.FilterURLValue(nil))

	def := colorDefinition()
	def.AliasColumn = ""
	def.TreePicker = true
	a = New(def, nil)
	assert.Equal(t, "7", a.FilterURLValue(rowmap.Row{"id": int64(7)}))
}

func TestWithBatchSize(t *testing.T) {
	assert.Equal(t, DefaultBatchSize, New(colorDefinition(), nil, WithBatchSize(0)).batchSize)
	assert.Equal(t, 50, New(colorDefinition(), nil, WithBatchSize(50)).batchSize)
}
