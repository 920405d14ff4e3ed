package specifier

import "golang.org/x/text/unicode/norm"

// normalizePathNFC applies Unicode NFC normalization to a specifier's path
// component before canonicalization, so that two visually identical paths
// that differ only in combining-character decomposition compare equal.
func normalizePathNFC(p string) string {
	if p == "" {
		return p
	}
	return norm.NFC.String(p)
}
