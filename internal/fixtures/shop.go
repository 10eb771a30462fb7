// Package fixtures provides the shop data model and a small, deterministic
// data set used by tests and the bundled examples.
package fixtures

import (
	"context"
	"fmt"

	"github.com/asaidimu/go-interrogator/core/schema"
	"github.com/shopspring/decimal"
)

// Batch is a set of rows for one entity. Batches are returned in insert order.
type Batch struct {
	Entity string
	Rows   []map[string]any
}

// ShopEntities returns the auth and shop entities.
//
//	auth:User
//	shop:SalesPerson -> auth:User (user), <- shop:Sale (sale)
//	shop:Product     <- shop:Sale (sale)
//	shop:Sale        -> shop:Product (product), -> shop:SalesPerson (seller)
func ShopEntities() []*schema.Entity {
	return []*schema.Entity{
		{
			Namespace: "auth",
			Name:      "User",
			Fields: []*schema.FieldDefinition{
				{Name: "username", Type: schema.FieldTypeString},
				{Name: "is_staff", Type: schema.FieldTypeBoolean},
			},
		},
		{
			Namespace:   "shop",
			Name:        "SalesPerson",
			Description: schema.StringPtr("Staff selling products"),
			Fields: []*schema.FieldDefinition{
				{Name: "name", Type: schema.FieldTypeString},
				{Name: "age", Type: schema.FieldTypeInteger},
				{Name: "start_date", Type: schema.FieldTypeDate},
				{Name: "user", Type: schema.FieldTypeRelation, Relation: &schema.RelationDefinition{Target: "auth:User"}},
				{Name: "sale", Type: schema.FieldTypeRelation, Relation: &schema.RelationDefinition{Target: "shop:Sale", Via: schema.StringPtr("seller")}},
			},
		},
		{
			Namespace: "shop",
			Name:      "Product",
			Fields: []*schema.FieldDefinition{
				{Name: "name", Type: schema.FieldTypeString},
				{Name: "cost_price", Type: schema.FieldTypeDecimal},
				{Name: "sale", Type: schema.FieldTypeRelation, Relation: &schema.RelationDefinition{Target: "shop:Sale", Via: schema.StringPtr("product")}},
			},
		},
		{
			Namespace: "shop",
			Name:      "Sale",
			Fields: []*schema.FieldDefinition{
				{Name: "product", Type: schema.FieldTypeRelation, Relation: &schema.RelationDefinition{Target: "shop:Product"}},
				{Name: "seller", Type: schema.FieldTypeRelation, Relation: &schema.RelationDefinition{Target: "shop:SalesPerson"}},
				{Name: "sale_price", Type: schema.FieldTypeDecimal},
				{Name: "state", Type: schema.FieldTypeString},
				{Name: "sale_date", Type: schema.FieldTypeDate},
			},
		},
	}
}

// ShopRegistry builds a registry over ShopEntities.
func ShopRegistry() (*schema.Registry, error) {
	return schema.NewRegistry(ShopEntities()...)
}

// Seller and product identifiers used by ShopData.
const (
	JodyWiffle  = 1
	MortySmith  = 2
	RickSanchez = 3

	WinterCoat = 1
	Beanie     = 2
	FillerItem = 3
	GoldWatch  = 4
)

// BeanieSales lists the beanie sales per state. The beanie costs 10.00.
var BeanieSales = map[string][]string{
	"NSW": {"15.00", "15.00"},
	"VIC": {"14.00"},
	"QLD": {"16.00"},
	"SA":  {"13.00"},
	"WA":  {"18.00"},
	"TAS": {"12.00"},
}

// ShopData returns the shop data set:
//
//   - Jody Wiffle made 135 break-even sales of the filler item and one gold
//     watch sale with a profit of 1289.00.
//   - Morty Smith is the only seller of the winter coat: 800.00 and 805.00 in
//     NSW, 890.00 and 892.00 in VIC.
//   - Rick Sanchez sold beanies in six states, see BeanieSales.
func ShopData() []Batch {
	users := Batch{Entity: "auth:User", Rows: []map[string]any{
		{"id": 1, "username": "jody", "is_staff": false},
		{"id": 2, "username": "morty", "is_staff": false},
		{"id": 3, "username": "rick", "is_staff": true},
	}}

	people := Batch{Entity: "shop:SalesPerson", Rows: []map[string]any{
		{"id": JodyWiffle, "name": "Jody Wiffle", "age": 34, "start_date": "2015-03-01", "user": 1},
		{"id": MortySmith, "name": "Morty Smith", "age": 14, "start_date": "2019-05-20", "user": 2},
		{"id": RickSanchez, "name": "Rick Sanchez", "age": 70, "start_date": "2017-01-10", "user": 3},
	}}

	products := Batch{Entity: "shop:Product", Rows: []map[string]any{
		{"id": WinterCoat, "name": "Winter Coat", "cost_price": money("700.00")},
		{"id": Beanie, "name": "Beanie", "cost_price": money("10.00")},
		{"id": FillerItem, "name": "Filler Item", "cost_price": money("50.00")},
		{"id": GoldWatch, "name": "Gold Watch", "cost_price": money("211.00")},
	}}

	sales := Batch{Entity: "shop:Sale"}
	add := func(product, seller int, price, state, date string) {
		sales.Rows = append(sales.Rows, map[string]any{
			"id":         len(sales.Rows) + 1,
			"product":    product,
			"seller":     seller,
			"sale_price": money(price),
			"state":      state,
			"sale_date":  date,
		})
	}

	for i := 0; i < 135; i++ {
		state := "NSW"
		if i%2 == 1 {
			state = "VIC"
		}
		add(FillerItem, JodyWiffle, "50.00", state, fmt.Sprintf("2019-%02d-%02d", 1+i%12, 1+i%28))
	}
	add(GoldWatch, JodyWiffle, "1500.00", "NT", "2019-12-24")

	add(WinterCoat, MortySmith, "800.00", "NSW", "2019-06-01")
	add(WinterCoat, MortySmith, "805.00", "NSW", "2019-06-15")
	add(WinterCoat, MortySmith, "890.00", "VIC", "2019-07-01")
	add(WinterCoat, MortySmith, "892.00", "VIC", "2019-07-20")

	for _, state := range []string{"NSW", "VIC", "QLD", "SA", "WA", "TAS"} {
		for _, price := range BeanieSales[state] {
			add(Beanie, RickSanchez, price, state, "2019-05-04")
		}
	}

	return []Batch{users, people, products, sales}
}

func money(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Writer creates tables and stores rows.
type Writer interface {
	CreateEntity(ctx context.Context, entity *schema.Entity) error
	Insert(ctx context.Context, entity *schema.Entity, records []map[string]any) ([]schema.Document, error)
}

// Seed creates the shop tables through w and loads ShopData into them.
func Seed(ctx context.Context, w Writer, registry *schema.Registry) error {
	for _, entity := range registry.Entities() {
		if err := w.CreateEntity(ctx, entity); err != nil {
			return err
		}
	}
	for _, batch := range ShopData() {
		entity, err := registry.Entity(batch.Entity)
		if err != nil {
			return err
		}
		if _, err := w.Insert(ctx, entity, batch.Rows); err != nil {
			return fmt.Errorf("seeding %s: %w", batch.Entity, err)
		}
	}
	return nil
}
