package util

import (
	"strconv"
	"strings"
	"time"
)

// ParseIntDefault parses string to int or returns default if empty/invalid.
func ParseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

// ParseDurationDefault accepts Go durations ("30s") or bare milliseconds ("1500").
func ParseDurationDefault(s string, def time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil && ms > 0 {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

// SplitSymbols splits a comma separated list, trims and upper-cases each entry
// and drops empties and duplicates while keeping first-seen order.
func SplitSymbols(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, p := range parts {
		p = strings.ToUpper(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// SplitPair splits "SYM:chain" into its parts; the chain is lower-cased and
// may be empty.
func SplitPair(s string) (symbol, chain string) {
	symbol, chain, _ = strings.Cut(strings.TrimSpace(s), ":")
	return strings.ToUpper(strings.TrimSpace(symbol)), strings.ToLower(strings.TrimSpace(chain))
}
