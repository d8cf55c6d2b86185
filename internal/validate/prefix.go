package validate

import (
	"fmt"
	"strings"
)

// reservedPrefixes are object-key segment names that would shadow credential
// files in some bucket layouts. A prefix beginning with one of these is
// rejected, not stripped.
var reservedPrefixes = []string{".aws", ".credentials"}

const prefixCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789._-/"

// SanitizePrefix cleans a user-supplied object-key prefix and returns the
// safe form, or an error when the value cannot be made safe.
//
// Traversal removal works on path segments rather than substring
// replacement: the value is split on "/", segments equal to "." or ".." are
// dropped, and the rest rejoined. Substring-based stripping of "../" can be
// defeated by overlapping sequences like "....//"; segment decomposition
// cannot.
func SanitizePrefix(raw string) (string, error) {
	cleaned := stripControlChars(raw)

	segments := strings.Split(cleaned, "/")
	kept := segments[:0]
	for _, seg := range segments {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		kept = append(kept, seg)
	}
	cleaned = strings.Join(kept, "/")

	if cleaned == "" {
		return "", nil
	}

	for _, reserved := range reservedPrefixes {
		if strings.HasPrefix(cleaned, reserved) {
			return "", fmt.Errorf("prefix %q uses reserved segment %q", cleaned, reserved)
		}
	}

	for _, r := range cleaned {
		if !strings.ContainsRune(prefixCharset, r) {
			return "", fmt.Errorf("prefix %q contains disallowed character %q", cleaned, r)
		}
	}

	return cleaned, nil
}

func stripControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7F {
			return -1
		}
		return r
	}, s)
}
