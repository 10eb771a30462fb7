package policy

import (
	"strings"

	"github.com/asaidimu/go-interrogator/core/schema"
)

// PathSeparator separates the hops of a normalized field path.
const PathSeparator = "__"

// Guard checks field paths against an AccessPolicy.
type Guard struct {
	resolver schema.Resolver
	policy   *AccessPolicy
}

// NewGuard creates a guard walking the model supplied by resolver.
func NewGuard(resolver schema.Resolver, policy *AccessPolicy) *Guard {
	return &Guard{resolver: resolver, policy: policy}
}

// IsForbiddenJoin walks path from root and reports whether any hop lands on an
// excluded entity.
//
// Hops that do not resolve to a field are skipped and the walk continues from
// the same entity, so lookups such as "iexact" and annotation aliases pass
// through unchecked. A scalar hop ends the walk.
func (g *Guard) IsForbiddenJoin(path string, root *schema.Entity) bool {
	current := root
	for _, hop := range strings.Split(path, PathSeparator) {
		if current == nil {
			break
		}
		field, err := g.resolver.ResolveField(current, hop)
		if err != nil {
			continue
		}
		if !field.IsRelation() {
			current = nil
			continue
		}
		target, err := g.resolver.Target(field)
		if err != nil {
			current = nil
			continue
		}
		if g.policy.IsExcluded(target) {
			return true
		}
		current = target
	}
	return false
}
