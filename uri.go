package esdm

import (
	"fmt"
	"strings"
)

// URIScheme prefixes dataset URIs.
const URIScheme = "esdm://"

// ParseURI returns the dataset id of an "esdm://" URI. A bare id is
// returned unchanged.
func ParseURI(uri string) (string, error) {
	id := uri
	if strings.HasPrefix(uri, URIScheme) {
		id = strings.TrimPrefix(uri, URIScheme)
	} else if i := strings.Index(uri, "://"); i >= 0 {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidArgument, uri[:i])
	}
	id = strings.Trim(id, "/")
	if id == "" {
		return "", fmt.Errorf("%w: empty dataset id in %q", ErrInvalidArgument, uri)
	}
	return id, nil
}
