package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every key written by the Manager.
const KeyPrefix = "hn"

// Key identifies a cached API response.
type Key struct {
	// Endpoint is the API path, e.g. "/v0/item/8863.json".
	Endpoint string

	// Query are the query parameters, if any.
	Query url.Values
}

// String generates a deterministic key string.
//
// Example:
//
//	hn:v0/item/8863.json:print=pretty
func (k Key) String() string {
	parts := []string{KeyPrefix}

	if endpoint := strings.Trim(k.Endpoint, "/"); endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.Query) > 0 {
		names := make([]string, 0, len(k.Query))
		for name := range k.Query {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, strings.Join(k.Query[name], ",")))
		}
	}

	return strings.Join(parts, ":")
}
