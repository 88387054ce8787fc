// Package names is the single normalization point for channel names.
// Every comparison, storage write, and upstream request funnels through
// Normalize so the same input always maps to the same cache key.
package names

import "strings"

// Normalize trims surrounding whitespace and lower-cases a channel name.
func Normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
