package index

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

const maxCollectionStem = 48

// CollectionName derives a stable collection name from a filename: the
// lowercased stem with every rune outside [a-z0-9] replaced by '_',
// truncated, then suffixed with 8 hex chars of the filename's SHA-256 so
// names differing only past the cut stay distinct.
func CollectionName(filename string) string {
	stem := strings.TrimSuffix(filename, filepath.Ext(filename))

	var b strings.Builder
	n := 0
	for _, r := range strings.ToLower(stem) {
		if n == maxCollectionStem {
			break
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
		n++
	}

	name := b.String()
	if name == "" || name[0] < 'a' || name[0] > 'z' {
		name = "f_" + name
	}
	sum := sha256.Sum256([]byte(filename))
	return name + "_" + hex.EncodeToString(sum[:])[:8]
}
