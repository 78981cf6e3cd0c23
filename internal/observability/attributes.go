package observability

import "strings"

// pathPrefixes collapses parameterized routes so metric cardinality
// stays bounded regardless of config names and schedule IDs.
var pathPrefixes = map[string]string{
	"/download/load-config/":     "/download/load-config/{name}",
	"/download/delete-config/":   "/download/delete-config/{name}",
	"/download/cancel-schedule/": "/download/cancel-schedule/{jobId}",
}

// normalizePath replaces path parameters with placeholders.
func normalizePath(path string) string {
	for prefix, normalized := range pathPrefixes {
		if strings.HasPrefix(path, prefix) {
			return normalized
		}
	}
	return path
}
