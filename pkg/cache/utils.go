package cache

import (
	"fmt"
	"strings"
)

// GenerateKey joins a purpose prefix and ordered parts with ":".
// Distinct (prefix, parts) tuples never collide as long as parts contain no ":".
func GenerateKey(prefix string, parts ...interface{}) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, part := range parts {
		b.WriteByte(':')
		b.WriteString(fmt.Sprint(part))
	}
	return b.String()
}

// BuildPattern creates a glob pattern matching every key under prefix.
func BuildPattern(prefix string) string {
	if prefix == "" {
		return "*"
	}
	return prefix + ":*"
}
