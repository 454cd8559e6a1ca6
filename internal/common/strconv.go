package common

import "strconv"

// AtoiDefault parses value as an int, returning def for empty or unparseable
// input. Used for query params and URL segments where a bad value should fall
// back rather than error.
func AtoiDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}
