package identity

import (
	"regexp"

	"github.com/dbower44022/CRMExtender-sub005/pkg/models"
)

// idPattern matches prefixed identifiers embedded anywhere in a string.
var idPattern = regexp.MustCompile(`([a-z]{3,4})_([0-9a-v]{26})`)

// Detection confidence levels. An exact match (the whole value is one
// identifier) is certain; an identifier embedded in a longer string is
// strong evidence but the column may be free text that merely mentions a
// record.
const (
	ConfidenceExact    = 1.0
	ConfidenceEmbedded = 0.85
)

// Detect scans a string for a known type prefix pattern and returns the
// matching entity type. Used opportunistically by the column registry
// generator and the preview resolver to classify reference columns from
// sample values.
func (r *Registry) Detect(value string) (models.EntityType, float64, bool) {
	if prefix, _, ok := SplitID(value); ok {
		if et, known := r.Lookup(prefix); known {
			return et, ConfidenceExact, true
		}
		return models.EntityType{}, 0, false
	}

	for _, m := range idPattern.FindAllStringSubmatch(value, -1) {
		if et, known := r.Lookup(m[1]); known {
			return et, ConfidenceEmbedded, true
		}
	}
	return models.EntityType{}, 0, false
}
