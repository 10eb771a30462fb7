package policy

import (
	"testing"

	"github.com/asaidimu/go-interrogator/core/schema"
	"github.com/asaidimu/go-interrogator/internal/fixtures"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entity(t *testing.T, r *schema.Registry, ref string) *schema.Entity {
	t.Helper()
	e, err := r.Entity(ref)
	require.NoError(t, err)
	return e
}

func TestAccessPolicyReportModel(t *testing.T) {
	registry, err := fixtures.ShopRegistry()
	require.NoError(t, err)
	product := entity(t, registry, "shop:Product")
	person := entity(t, registry, "shop:SalesPerson")
	user := entity(t, registry, "auth:User")

	t.Run("listed models only", func(t *testing.T) {
		p := NewAccessPolicy([]ReportModel{
			{Entity: "shop:Product", Metadata: map[string]any{"title": "Products"}},
		}, nil)

		model, ok := p.ReportModel(product)
		require.True(t, ok)
		assert.Equal(t, "Products", model.Metadata["title"])

		_, ok = p.ReportModel(person)
		assert.False(t, ok)
		assert.False(t, p.AllowsAllModels())
	})

	t.Run("all models", func(t *testing.T) {
		p := AllowAll(nil, nil)
		model, ok := p.ReportModel(person)
		require.True(t, ok)
		assert.Equal(t, "shop:SalesPerson", model.Entity)
	})

	t.Run("deny wins over allow", func(t *testing.T) {
		p := AllowAll([]ReportModel{{Entity: "auth:User"}}, nil)
		_, ok := p.ReportModel(user)
		assert.False(t, ok)
	})
}

func TestExclusion(t *testing.T) {
	tests := []struct {
		in      string
		want    Exclusion
		wantErr bool
	}{
		{in: "auth", want: Exclusion{Namespace: "auth"}},
		{in: "auth:User", want: Exclusion{Namespace: "auth", Name: "User"}},
		{in: " shop:Sale ", want: Exclusion{Namespace: "shop", Name: "Sale"}},
		{in: "", wantErr: true},
		{in: ":User", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseExclusion(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	ns := Exclusion{Namespace: "AUTH"}
	assert.True(t, ns.Matches(&schema.Entity{Namespace: "auth", Name: "Group"}))
	assert.False(t, Exclusion{Namespace: "auth", Name: "Group"}.Matches(&schema.Entity{Namespace: "auth", Name: "User"}))
	assert.Equal(t, "auth:User", Exclusion{Namespace: "auth", Name: "User"}.String())
}

func TestGuardIsForbiddenJoin(t *testing.T) {
	registry, err := fixtures.ShopRegistry()
	require.NoError(t, err)
	person := entity(t, registry, "shop:SalesPerson")
	product := entity(t, registry, "shop:Product")

	guard := NewGuard(registry, AllowAll(nil, []Exclusion{{Namespace: "auth", Name: "User"}}))

	tests := []struct {
		name      string
		path      string
		root      *schema.Entity
		forbidden bool
	}{
		{"scalar", "name", person, false},
		{"direct join", "user", person, true},
		{"through denied entity", "user__username", person, true},
		{"deep alias", "sale__product__sale__seller__user__is_staff", product, true},
		{"reverse relation", "sale__seller__name", product, false},
		{"lookup passes through", "sale__state__iexact", product, false},
		{"unknown hop skipped", "nothing__user", person, true},
		{"scalar ends walk", "name__user", person, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.forbidden, guard.IsForbiddenJoin(tt.path, tt.root))
		})
	}

	t.Run("namespace exclusion", func(t *testing.T) {
		g := NewGuard(registry, AllowAll(nil, []Exclusion{{Namespace: "auth"}}))
		assert.True(t, g.IsForbiddenJoin("sale__seller__user", product))
		assert.False(t, g.IsForbiddenJoin("sale__seller", product))
	})

	t.Run("no exclusions", func(t *testing.T) {
		g := NewGuard(registry, AllowAll(nil, []Exclusion{}))
		assert.False(t, g.IsForbiddenJoin("user__username", person))
	})
}
