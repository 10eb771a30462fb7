// Package policy holds the access rules that govern reports: which entities may
// be used as a report root, and which entities may never be reached through a
// join.
package policy

import (
	"fmt"
	"strings"

	"github.com/asaidimu/go-interrogator/core/schema"
)

// ReportModel is an entity that may be used as the root of a report, along
// with presentation data returned alongside its results.
type ReportModel struct {
	Entity   string              `yaml:"entity" json:"entity"`                         // "namespace:Name"
	Metadata map[string]any      `yaml:"metadata,omitempty" json:"metadata,omitempty"` // Returned with every result
	Sheets   map[string][]string `yaml:"sheets,omitempty" json:"sheets,omitempty"`     // Column name expanded to a list of columns
}

// Exclusion denies a whole namespace (Name empty) or a single entity.
type Exclusion struct {
	Namespace string `yaml:"namespace" json:"namespace"`
	Name      string `yaml:"name,omitempty" json:"name,omitempty"`
}

func (e Exclusion) String() string {
	if e.Name == "" {
		return e.Namespace
	}
	return e.Namespace + ":" + e.Name
}

// Matches reports whether the exclusion covers entity.
func (e Exclusion) Matches(entity *schema.Entity) bool {
	if !strings.EqualFold(e.Namespace, entity.Namespace) {
		return false
	}
	return e.Name == "" || strings.EqualFold(e.Name, entity.Name)
}

// ParseExclusion parses "namespace" or "namespace:Name".
func ParseExclusion(s string) (Exclusion, error) {
	s = strings.TrimSpace(s)
	namespace, name, _ := strings.Cut(s, ":")
	if namespace == "" {
		return Exclusion{}, fmt.Errorf("invalid exclusion %q", s)
	}
	return Exclusion{Namespace: namespace, Name: name}, nil
}

// DefaultExclusions keeps user accounts and audit history out of reports
// when no exclusions are configured.
func DefaultExclusions() []Exclusion {
	return []Exclusion{
		{Namespace: "auth", Name: "User"},
		{Namespace: "reversion"},
	}
}

// AccessPolicy is immutable after construction and safe to share between
// concurrent requests.
type AccessPolicy struct {
	allowAll bool
	models   []ReportModel
	excluded []Exclusion
}

// NewAccessPolicy creates a policy that only allows the listed report models.
// A nil excluded slice applies DefaultExclusions.
func NewAccessPolicy(models []ReportModel, excluded []Exclusion) *AccessPolicy {
	if excluded == nil {
		excluded = DefaultExclusions()
	}
	return &AccessPolicy{
		models:   append([]ReportModel(nil), models...),
		excluded: append([]Exclusion(nil), excluded...),
	}
}

// AllowAll creates a policy where every entity not excluded may be a report
// root. Report models may still be supplied to attach metadata and sheets.
func AllowAll(models []ReportModel, excluded []Exclusion) *AccessPolicy {
	p := NewAccessPolicy(models, excluded)
	p.allowAll = true
	return p
}

// AllowsAllModels reports whether the policy uses the "all models" sentinel.
func (p *AccessPolicy) AllowsAllModels() bool {
	return p.allowAll
}

// Exclusions returns a copy of the deny-list.
func (p *AccessPolicy) Exclusions() []Exclusion {
	return append([]Exclusion(nil), p.excluded...)
}

// IsExcluded reports whether entity is on the deny-list.
func (p *AccessPolicy) IsExcluded(entity *schema.Entity) bool {
	for _, e := range p.excluded {
		if e.Matches(entity) {
			return true
		}
	}
	return false
}

// ReportModel returns the report model for entity. The deny-list takes
// precedence over the allow-list.
func (p *AccessPolicy) ReportModel(entity *schema.Entity) (*ReportModel, bool) {
	if p.IsExcluded(entity) {
		return nil, false
	}
	for i := range p.models {
		ref, err := schema.ParseEntityRef(p.models[i].Entity)
		if err != nil {
			continue
		}
		if ref.Matches(entity) {
			return &p.models[i], true
		}
	}
	if p.allowAll {
		return &ReportModel{Entity: entity.Ref()}, true
	}
	return nil, false
}
