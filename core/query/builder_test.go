package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestBuilder(t *testing.T) {
	rb := NewRequest("shop:SalesPerson").
		Columns("name", "count(sale)").
		Column("profit", "sum(sale.sale_price - sale.product.cost_price)").
		OrderByDesc("profit").
		OrderBy("name").
		Limit(10).
		Offset(5)

	rb.Where("sale.state").Eq("NSW")
	rb.Where("name").Not().Eq("Jody Wiffle")
	rb.Where("age").Gte(18)
	rb.Where("sale.state").IExact("nsw")
	rb.Where("name").In("Rick Sanchez", "Morty Smith")
	rb.Where("sale.state").All("NSW", "VIC")
	rb.Where("user").IsNull(false)
	rb.Where("name").Not().Contains("Smith")
	rb.Where("name").EqField("user.username")
	rb.Where("age").Ne(14)

	req := rb.Build()
	assert.Equal(t, "shop:SalesPerson", req.Root)
	assert.Equal(t, []string{
		"name",
		"count(sale)",
		"profit:=sum(sale.sale_price - sale.product.cost_price)",
	}, req.Columns)
	assert.Equal(t, []string{
		"sale.state=NSW",
		"name!=Jody Wiffle",
		"age>=18",
		"sale.state.iexact=nsw",
		"name.in=Rick Sanchez,Morty Smith",
		"sale.state.all=NSW,VIC",
		"user.isnull=False",
		"name.contains!=Smith",
		"name=~user.username",
		"age<>14",
	}, req.Filters)
	assert.Equal(t, []string{"-profit", "name"}, req.OrderBy)
	require.NotNil(t, req.Limit)
	assert.Equal(t, 10, *req.Limit)
	assert.Equal(t, 5, req.Offset)
}

func TestRequestBuilderClone(t *testing.T) {
	base := NewRequest("shop:Sale").Columns("state").Limit(3)
	clone := base.Clone().Columns("sale_price").Aggregate("sum(sale_price)")
	clone.Where("state").Eq("NSW")

	assert.Equal(t, []string{"state"}, base.Build().Columns)
	assert.Empty(t, base.Build().Filters)
	assert.Empty(t, base.Build().Aggregators)

	req := clone.Build()
	assert.Equal(t, []string{"state", "sale_price"}, req.Columns)
	assert.Equal(t, []string{"sum(sale_price)"}, req.Aggregators)
	assert.Equal(t, 3, *req.Limit)

	*req.Limit = 7
	assert.Equal(t, 3, *base.Build().Limit)
}

// Filters written by the builder compile back to the predicates they describe.
func TestRequestBuilderRoundTrip(t *testing.T) {
	b := newShopBuilder(t, nil, nil)

	rb := NewRequest("shop:SalesPerson").Columns("name")
	rb.Where("name").Not().Contains("Smith")
	rb.Where("sale.state").In("NSW", "VIC")
	rb.Where("age").Lt(40)

	plan, err := b.Build(rb.Build())
	require.NoError(t, err)
	assert.Empty(t, plan.Diagnostics)
	assert.Equal(t, []FilterSpec{{Path: "name", Operator: LookupContains, Value: "Smith"}}, plan.Excludes)
	assert.Equal(t, []FilterSpec{
		{Path: "sale__state", Operator: LookupIn, Value: []any{"NSW", "VIC"}},
		{Path: "age", Operator: LookupLt, Value: "40"},
	}, plan.Filters)
}
