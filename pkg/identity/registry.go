// Package identity manages entity type prefixes and prefixed identifiers.
//
// Every entity identifier has the form {type_prefix}_{suffix}. The prefix is
// assigned once per type, is unique workspace-wide, and never changes or gets
// reused, so the prefix alone permanently determines the entity type of any
// identifier string.
package identity

import (
	"strings"
	"sync"
	"unicode"

	"github.com/dbower44022/CRMExtender-sub005/pkg/apperrors"
	"github.com/dbower44022/CRMExtender-sub005/pkg/models"
)

// Registry is the workspace-wide prefix namespace. It is process-wide mutable
// state, mutated only through RegisterType; other components read it through
// Lookup and Detect.
type Registry struct {
	mu       sync.RWMutex
	byPrefix map[string]models.EntityType
	byName   map[string]string // type name -> prefix
}

// NewRegistry creates an empty prefix registry.
func NewRegistry() *Registry {
	return &Registry{
		byPrefix: make(map[string]models.EntityType),
		byName:   make(map[string]string),
	}
}

// Load records an already-registered entity type (e.g. from storage at
// startup) without re-deriving its prefix.
func (r *Registry) Load(et models.EntityType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byPrefix[et.TypePrefix] = et
	r.byName[et.Name] = et.TypePrefix
}

// RegisterType derives a unique prefix for the candidate type name and
// reserves it. If the name was already registered, its existing prefix is
// returned: a prefix is immutable for the lifetime of the type.
func (r *Registry) RegisterType(candidateName string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prefix, ok := r.byName[candidateName]; ok {
		return prefix, nil
	}

	base := prefixLetters(candidateName)
	if len(base) < 3 {
		return "", &apperrors.RegistrationError{
			TypeName: candidateName,
			Reason:   "name has fewer than three usable letters",
		}
	}

	for _, candidate := range prefixCandidates(base) {
		if _, taken := r.byPrefix[candidate]; taken {
			continue
		}
		r.byPrefix[candidate] = models.EntityType{Name: candidateName, TypePrefix: candidate}
		r.byName[candidateName] = candidate
		return candidate, nil
	}

	return "", &apperrors.RegistrationError{
		TypeName: candidateName,
		Reason:   apperrors.ErrPrefixNamespaceFull.Error(),
	}
}

// Attach replaces the placeholder entry for a registered prefix with the full
// entity type definition.
func (r *Registry) Attach(et models.EntityType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byPrefix[et.TypePrefix]; ok {
		r.byPrefix[et.TypePrefix] = et
		r.byName[et.Name] = et.TypePrefix
	}
}

// Lookup returns the entity type registered under a prefix.
func (r *Registry) Lookup(prefix string) (models.EntityType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	et, ok := r.byPrefix[prefix]
	return et, ok
}

// PrefixFor returns the prefix assigned to a type name.
func (r *Registry) PrefixFor(typeName string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[typeName]
	return p, ok
}

// Types returns all registered entity types.
func (r *Registry) Types() []models.EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.EntityType, 0, len(r.byPrefix))
	for _, et := range r.byPrefix {
		out = append(out, et)
	}
	return out
}

// prefixLetters lowercases the name and keeps only its letters.
func prefixLetters(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// prefixCandidates yields the derivation sequence for a name: the first
// three letters, then four, then the three-letter base with a digit suffix.
// Prefixes stay within the 3-4 character bound.
func prefixCandidates(base string) []string {
	candidates := []string{base[:3]}
	if len(base) >= 4 {
		candidates = append(candidates, base[:4])
	}
	for d := '2'; d <= '9'; d++ {
		candidates = append(candidates, base[:3]+string(d))
	}
	return candidates
}
