package mapper

import (
	"strings"

	"go.lsp.dev/uri"
)

const _fileScheme = "file://"

// FilePath interprets a document location as a filesystem path.
// Well-formed file URIs are decoded; malformed encodings and bare paths are
// returned as-is so callers can resolve them against the execution root.
// The second return is false only when nothing usable remains.
func FilePath(location string) (string, bool) {
	if location == "" {
		return "", false
	}

	if strings.HasPrefix(location, _fileScheme) {
		rest := strings.TrimPrefix(location, _fileScheme)
		if rest == "" {
			return "", false
		}
		if parsed, err := uri.Parse(location); err == nil {
			if fn := parsed.Filename(); fn != "" {
				return fn, true
			}
		}
		// Malformed encoding: treat the remainder as a plain path.
		return rest, true
	}

	return location, true
}

// IsFileURI reports whether the location is already encoded as a file URI.
func IsFileURI(location string) bool {
	return strings.HasPrefix(location, _fileScheme)
}
