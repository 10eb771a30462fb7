package interrogator

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/asaidimu/go-interrogator/core/policy"
	"github.com/asaidimu/go-interrogator/core/query"
	"github.com/asaidimu/go-interrogator/internal/fixtures"
	"github.com/asaidimu/go-interrogator/sqlite"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newShopInterrogator(t *testing.T) *Interrogator {
	t.Helper()
	registry, err := fixtures.ShopRegistry()
	require.NoError(t, err)

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := sqlite.NewSQLiteInteractor(db, registry, nil, nil)
	require.NoError(t, fixtures.Seed(context.Background(), store, registry))

	access := policy.AllowAll(nil, []policy.Exclusion{{Namespace: "auth", Name: "User"}})
	i, err := New(registry, access, store, nil, nil)
	require.NoError(t, err)
	return i
}

func number(t *testing.T, v any) float64 {
	t.Helper()
	f, ok := query.ToFloat64(v)
	require.True(t, ok, "expected a number, got %T", v)
	return f
}

func TestProfitPerSeller(t *testing.T) {
	i := newShopInterrogator(t)

	result, err := i.Interrogate(context.Background(), query.NewRequest("shop:SalesPerson").
		Columns("name", "sum(sale.sale_price - sale.product.cost_price)", "count(sale)").
		OrderBy("name").
		Build())
	require.NoError(t, err)
	require.Equal(t, 3, result.Count)
	assert.Empty(t, result.Diagnostics)

	jody := result.Values(0)
	assert.Equal(t, "Jody Wiffle", jody[0])
	assert.Equal(t, 1289.0, number(t, jody[1]))
	assert.Equal(t, int64(136), jody[2])
}

func TestConditionalSums(t *testing.T) {
	i := newShopInterrogator(t)

	result, err := i.Interrogate(context.Background(), query.NewRequest("shop:Product").
		Columns(
			"name",
			"sale.seller.name",
			"sumif(sale.sale_price, sale.state.iexact=NSW)",
			"sumif(sale.sale_price, sale.state.iexact=VIC)",
		).
		Filter("name=Winter Coat").
		Build())
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)

	row := result.Values(0)
	assert.Equal(t, "Winter Coat", row[0])
	assert.Equal(t, "Morty Smith", row[1])
	assert.Equal(t, 1605.0, number(t, row[2]))
	assert.Equal(t, 1782.0, number(t, row[3]))
}

func TestFilterRestrictsAggregate(t *testing.T) {
	i := newShopInterrogator(t)

	for state, want := range map[string]float64{"VIC": 1782, "NSW": 1605} {
		t.Run(state, func(t *testing.T) {
			result, err := i.Interrogate(context.Background(), query.NewRequest("shop:Product").
				Columns("sum(sale.sale_price)").
				Filter("name=Winter Coat", "sale.state.iexact="+state).
				Build())
			require.NoError(t, err)
			require.Len(t, result.Rows, 1)
			assert.Equal(t, want, number(t, result.Values(0)[0]))
		})
	}
}

func TestAllFilterIntersects(t *testing.T) {
	i := newShopInterrogator(t)

	names := func(filter string) []any {
		result, err := i.Interrogate(context.Background(), query.NewRequest("shop:SalesPerson").
			Columns("name").
			Filter(filter).
			OrderBy("name").
			Build())
		require.NoError(t, err)
		out := make([]any, len(result.Rows))
		for n := range result.Rows {
			out[n] = result.Values(n)[0]
		}
		return out
	}

	// Jody sold in NSW, VIC and NT; Rick never sold in NT.
	assert.Equal(t, []any{"Jody Wiffle"}, names("sale.state.all=NSW,NT"))
	assert.Equal(t, []any{"Jody Wiffle", "Morty Smith", "Rick Sanchez"}, names("sale.state.all=NSW,VIC"))
}

func TestAnnotationFilterAndLimit(t *testing.T) {
	i := newShopInterrogator(t)

	result, err := i.Interrogate(context.Background(), query.NewRequest("shop:SalesPerson").
		Columns("name", "sales:=count(sale)").
		Filter("sales>=7").
		OrderBy("-sales").
		Limit(1).
		Build())
	require.NoError(t, err)
	require.Len(t, result.Rows, 1)
	assert.Equal(t, []any{"Jody Wiffle", int64(136)}, result.Values(0))
}

func TestUnknownFieldDiagnostic(t *testing.T) {
	i := newShopInterrogator(t)

	result, err := i.Interrogate(context.Background(), query.NewRequest("shop:SalesPerson").
		Columns("name", "nickname").
		Build())
	require.NoError(t, err)
	require.Len(t, result.Diagnostics, 1)
	assert.Equal(t, query.DiagnosticUnknownField, result.Diagnostics[0].Code)
	assert.Equal(t, "nickname", result.Diagnostics[0].Subject)
	assert.Empty(t, result.Rows)
}

func TestBeaniePivot(t *testing.T) {
	i := newShopInterrogator(t)

	result, err := i.Pivot(context.Background(), &query.Request{
		Root:        "shop:Product",
		Columns:     []string{"sale.state", "name"},
		Aggregators: []string{"profit:=sum(sale.sale_price - cost_price)"},
	})
	require.NoError(t, err)

	assert.Equal(t, []any{"NSW", "NT", "QLD", "SA", "TAS", "VIC", "WA"}, result.ColumnHeads)
	require.Len(t, result.Rows, 4)
	assert.Equal(t, "Beanie", result.Rows[0].Head)
	for _, row := range result.Rows {
		assert.Len(t, row.Cells, len(result.ColumnHeads))
	}

	// Aggregates are distinct by default, so two sales at 15.00 profit 5.
	want := map[string]struct {
		count  int64
		profit float64
	}{
		"NSW": {2, 5},
		"VIC": {1, 4},
		"QLD": {1, 6},
		"SA":  {1, 3},
		"WA":  {1, 8},
		"TAS": {1, 2},
	}
	for state, w := range want {
		cell, ok := result.Cell("Beanie", state)
		require.True(t, ok, state)
		assert.Equal(t, w.count, cell.Count, state)
		assert.Equal(t, w.profit, number(t, cell.Aggregates["profit"]), state)
	}

	nt, ok := result.Cell("Beanie", "NT")
	require.True(t, ok)
	assert.Zero(t, nt.Count)
	assert.Nil(t, nt.Aggregates)
}

func TestPivotHeadsIgnoreFilters(t *testing.T) {
	i := newShopInterrogator(t)

	result, err := i.Pivot(context.Background(), &query.Request{
		Root:    "shop:Product",
		Columns: []string{"sale.state", "name"},
		Filters: []string{"name=Winter Coat"},
	})
	require.NoError(t, err)

	assert.Len(t, result.ColumnHeads, 7)
	require.Len(t, result.Rows, 1)
	cell, ok := result.Cell("Winter Coat", "VIC")
	require.True(t, ok)
	assert.Equal(t, int64(2), cell.Count)
	assert.Nil(t, cell.Aggregates)
}

func TestExplain(t *testing.T) {
	i := newShopInterrogator(t)

	explained, err := i.Explain(query.NewRequest("shop:Product").
		Columns("name", "total:=sum(sale.sale_price)").
		Filter("sale.state.iexact=VIC").
		Limit(5).
		Build())
	require.NoError(t, err)

	assert.Contains(t, explained.Statement, "LEFT JOIN")
	assert.Contains(t, explained.Statement, "GROUP BY 1")
	assert.Contains(t, explained.Statement, "LIMIT ? OFFSET ?")
	assert.Equal(t, []any{"VIC", 5, 0}, explained.Params)
	assert.Equal(t, []string{"name", "total"}, explained.Plan.OutputColumns())

	_, err = i.Explain(query.NewRequest("auth:User").Build())
	assert.ErrorIs(t, err, query.ErrModelNotAllowed)
}

func TestConcurrentReports(t *testing.T) {
	i := newShopInterrogator(t)

	requests := []struct {
		req     *query.Request
		columns []string
	}{
		{query.NewRequest("shop:SalesPerson").Columns("name", "sales:=count(sale)").Build(), []string{"name", "sales"}},
		{query.NewRequest("shop:Product").Columns("name", "total:=sum(sale.sale_price)").Build(), []string{"name", "total"}},
	}

	var wg sync.WaitGroup
	results := make([]*QueryResult, 20)
	errs := make([]error, len(results))
	for n := range results {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			results[n], errs[n] = i.Interrogate(context.Background(), requests[n%2].req)
		}(n)
	}
	wg.Wait()

	for n, result := range results {
		require.NoError(t, errs[n])
		assert.Equal(t, requests[n%2].columns, result.Columns)
		assert.Empty(t, result.Diagnostics)
		assert.NotEmpty(t, result.Rows)
	}
}
