package identity

import (
	"encoding/base32"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// suffixEncoding is base32hex (digits before letters), lowercase, unpadded.
// Unlike standard base32, base32hex preserves byte order under string
// comparison, so encoded UUIDv7 suffixes sort lexicographically by creation
// time.
var suffixEncoding = base32.NewEncoding("0123456789abcdefghijklmnopqrstuv").WithPadding(base32.NoPadding)

// SuffixLength is the encoded length of the 128-bit identifier suffix.
const SuffixLength = 26

// GenerateID returns a new identifier {prefix}_{suffix} for a registered
// prefix. The suffix encodes a UUIDv7, so identifiers of one type sort by
// creation order.
func (r *Registry) GenerateID(prefix string) (string, error) {
	if _, ok := r.Lookup(prefix); !ok {
		return "", fmt.Errorf("unknown type prefix %q", prefix)
	}

	u, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate identifier suffix: %w", err)
	}

	return prefix + "_" + suffixEncoding.EncodeToString(u[:]), nil
}

// SplitID splits an identifier into prefix and suffix. ok is false when the
// value is not shaped like a prefixed identifier.
func SplitID(value string) (prefix, suffix string, ok bool) {
	idx := strings.IndexByte(value, '_')
	if idx < 3 || idx > 4 {
		return "", "", false
	}
	prefix, suffix = value[:idx], value[idx+1:]
	if len(suffix) != SuffixLength {
		return "", "", false
	}
	for _, c := range suffix {
		if !strings.ContainsRune("0123456789abcdefghijklmnopqrstuv", c) {
			return "", "", false
		}
	}
	return prefix, suffix, true
}
