package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shopEntities() []*Entity {
	return []*Entity{
		{
			Namespace: "auth",
			Name:      "User",
			Fields: []*FieldDefinition{
				{Name: "username", Type: FieldTypeString},
			},
		},
		{
			Namespace: "shop",
			Name:      "SalesPerson",
			Fields: []*FieldDefinition{
				{Name: "name", Type: FieldTypeString},
				{Name: "user", Type: FieldTypeRelation, Relation: &RelationDefinition{Target: "auth:User"}},
				{Name: "sale", Type: FieldTypeRelation, Relation: &RelationDefinition{Target: "shop:Sale", Via: StringPtr("seller")}},
			},
		},
		{
			Namespace: "shop",
			Name:      "Sale",
			Fields: []*FieldDefinition{
				{Name: "sale_price", Type: FieldTypeDecimal},
				{Name: "seller", Type: FieldTypeRelation, Relation: &RelationDefinition{Target: "shop:SalesPerson"}},
			},
		},
	}
}

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry(shopEntities()...)
	require.NoError(t, err)
	assert.Len(t, r.Entities(), 3)

	t.Run("lookup ignores case", func(t *testing.T) {
		e, err := r.Entity("SHOP:salesperson")
		require.NoError(t, err)
		assert.Equal(t, "shop:SalesPerson", e.Ref())
	})

	t.Run("unknown entity", func(t *testing.T) {
		_, err := r.Entity("shop:Nope")
		assert.True(t, errors.Is(err, ErrEntityNotFound))
	})

	t.Run("malformed specifier", func(t *testing.T) {
		_, err := r.Entity("SalesPerson")
		assert.Error(t, err)
	})
}

func TestNewRegistryRejectsBrokenRelations(t *testing.T) {
	tests := []struct {
		name     string
		entities []*Entity
	}{
		{
			name: "missing target",
			entities: []*Entity{{
				Namespace: "a", Name: "B",
				Fields: []*FieldDefinition{{Name: "c", Type: FieldTypeRelation, Relation: &RelationDefinition{Target: "a:C"}}},
			}},
		},
		{
			name: "relation without target",
			entities: []*Entity{{
				Namespace: "a", Name: "B",
				Fields: []*FieldDefinition{{Name: "c", Type: FieldTypeRelation}},
			}},
		},
		{
			name: "reverse relation without back reference",
			entities: []*Entity{
				{Namespace: "a", Name: "B", Fields: []*FieldDefinition{
					{Name: "c", Type: FieldTypeRelation, Relation: &RelationDefinition{Target: "a:C", Via: StringPtr("b")}},
				}},
				{Namespace: "a", Name: "C"},
			},
		},
		{
			name: "duplicate entity",
			entities: []*Entity{
				{Namespace: "a", Name: "B"},
				{Namespace: "A", Name: "b"},
			},
		},
		{
			name: "duplicate field",
			entities: []*Entity{
				{Namespace: "a", Name: "B", Fields: []*FieldDefinition{
					{Name: "x", Type: FieldTypeString},
					{Name: "x", Type: FieldTypeInteger},
				}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(tt.entities...)
			assert.Error(t, err)
		})
	}
}

func TestResolveField(t *testing.T) {
	r, err := NewRegistry(shopEntities()...)
	require.NoError(t, err)
	person, err := r.Entity("shop:SalesPerson")
	require.NoError(t, err)

	f, err := r.ResolveField(person, "sale")
	require.NoError(t, err)
	assert.True(t, f.IsMany())
	assert.Equal(t, "", f.ColumnName())

	target, err := r.Target(f)
	require.NoError(t, err)
	assert.Equal(t, "shop:Sale", target.Ref())

	f, err = r.ResolveField(person, "user")
	require.NoError(t, err)
	assert.Equal(t, "user_id", f.ColumnName())

	pk, err := r.ResolveField(person, "id")
	require.NoError(t, err)
	assert.Equal(t, FieldTypeInteger, pk.Type)

	_, err = r.ResolveField(person, "nickname")
	assert.True(t, errors.Is(err, ErrFieldNotFound))

	names := []string{}
	for _, f := range r.FieldsOf(person) {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"name", "user", "sale"}, names)
}

func TestLoadRegistry(t *testing.T) {
	doc := []byte(`{
		"entities": [
			{"namespace": "shop", "name": "Product", "table": "products", "fields": [
				{"name": "name", "type": "string"},
				{"name": "cost_price", "type": "decimal"}
			]}
		]
	}`)

	r, err := LoadRegistry(doc)
	require.NoError(t, err)
	e, err := r.Entity("shop:Product")
	require.NoError(t, err)
	assert.Equal(t, "products", e.TableName())
	assert.Equal(t, "id", e.PrimaryKeyName())
	assert.Equal(t, FieldTypeDecimal, e.FindField("cost_price").Type)

	_, err = LoadRegistry([]byte(`{"entities": [`))
	assert.Error(t, err)
}

func TestParseEntityRef(t *testing.T) {
	ref, err := ParseEntityRef(" shop:Sale ")
	require.NoError(t, err)
	assert.Equal(t, EntityRef{Namespace: "shop", Name: "Sale"}, ref)
	assert.Equal(t, "shop:Sale", ref.String())
	assert.True(t, ref.Matches(&Entity{Namespace: "SHOP", Name: "sale"}))

	for _, bad := range []string{"", "shop", ":Sale", "shop:"} {
		_, err := ParseEntityRef(bad)
		assert.Error(t, err, bad)
	}
}

func TestEntityDefaults(t *testing.T) {
	e := &Entity{Namespace: "Shop", Name: "SalesPerson"}
	assert.Equal(t, "shop_salesperson", e.TableName())
	assert.Equal(t, DefaultPrimaryKey, e.PrimaryKeyName())
	assert.True(t, FieldTypeDate.IsTemporal())
	assert.True(t, FieldTypeDecimal.IsNumeric())
	assert.False(t, FieldTypeString.IsNumeric())
}
