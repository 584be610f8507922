package metadata

import "strings"

// CanonicalKey normalizes a metadata filename to the storage-prefixed form
// used as the join key across the object store and the vector index.
//
// The metadata store holds either the bare filename ("foo.jpg") or the
// already-prefixed form ("totenbilder/foo.jpg"); normalization is idempotent
// so the prefix is never applied twice.
func CanonicalKey(prefix, filename string) string {
	if prefix == "" || strings.HasPrefix(filename, prefix) {
		return filename
	}
	return prefix + filename
}
