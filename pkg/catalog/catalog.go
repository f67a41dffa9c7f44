// Package catalog exposes the virtual schema query authors see: entity
// types and their fields, decoupled from physical storage. Physical table
// names are never part of resolution errors or suggestions.
package catalog

import (
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/dbower44022/CRMExtender-sub005/pkg/apperrors"
	"github.com/dbower44022/CRMExtender-sub005/pkg/models"
)

// maxSuggestionDistance bounds "did you mean" fuzzy matches.
const maxSuggestionDistance = 3

// Catalog is a read-only projection of a workspace's entity types.
type Catalog struct {
	byName map[string]models.EntityType
	names  []string
}

// New builds a catalog over the given entity types, indexed by
// case-insensitive logical name.
func New(types []models.EntityType) *Catalog {
	c := &Catalog{byName: make(map[string]models.EntityType, len(types))}
	for _, et := range types {
		key := strings.ToLower(et.Name)
		c.byName[key] = et
		c.names = append(c.names, et.Name)
	}
	return c
}

// ResolveTable resolves a logical entity name. On failure the returned
// ValidationError names the identifier and suggests the nearest known name.
func (c *Catalog) ResolveTable(name string) (models.EntityType, error) {
	if et, ok := c.byName[strings.ToLower(name)]; ok {
		return et, nil
	}
	ve := apperrors.NewValidationError(name, "unknown entity")
	ve.Suggestion = nearest(name, c.names)
	return models.EntityType{}, ve
}

// ResolveField resolves a field on an entity type, with a fuzzy suggestion
// against that type's field names on failure.
func (c *Catalog) ResolveField(entity models.EntityType, name string) (models.FieldSpec, error) {
	for _, f := range entity.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, nil
		}
	}
	fieldNames := make([]string, 0, len(entity.Fields))
	for _, f := range entity.Fields {
		fieldNames = append(fieldNames, f.Name)
	}
	ve := apperrors.NewValidationError(name, "unknown field on "+entity.Name)
	ve.Suggestion = nearest(name, fieldNames)
	return models.FieldSpec{}, ve
}

// Types returns all entity types in the catalog.
func (c *Catalog) Types() []models.EntityType {
	out := make([]models.EntityType, 0, len(c.byName))
	for _, et := range c.byName {
		out = append(out, et)
	}
	return out
}

// nearest returns the candidate with the smallest edit distance to name,
// or "" when nothing is close enough to be a plausible typo.
func nearest(name string, candidates []string) string {
	best := ""
	bestDist := maxSuggestionDistance + 1
	lower := strings.ToLower(name)
	for _, cand := range candidates {
		d := levenshtein.ComputeDistance(lower, strings.ToLower(cand))
		if d < bestDist {
			bestDist = d
			best = cand
		}
	}
	return best
}
