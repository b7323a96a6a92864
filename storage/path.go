package storage

import (
	"fmt"
	"strings"
)

// splitPath validates a store path and returns its segments. Paths must
// have at least one segment and no empty segments; a blank child key is
// rejected here instead of hitting the backend with an undefined address.
func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	segs := strings.Split(path, "/")
	for _, s := range segs {
		if s == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return segs, nil
}

// splitRecordPath splits a path addressing a single record into its
// collection and child key.
func splitRecordPath(path string) (collection string, key string, err error) {
	segs, err := splitPath(path)
	if err != nil {
		return "", "", err
	}
	if len(segs) < 2 {
		return "", "", fmt.Errorf("%w: %q does not address a record", ErrInvalidPath, path)
	}
	return strings.Join(segs[:len(segs)-1], "/"), segs[len(segs)-1], nil
}

// joinPath builds a child path from a collection path and a key.
func joinPath(collection, key string) string {
	return collection + "/" + key
}
