// Package utils provides shared utilities for text, math, and logging.
package utils

import "fmt"

// Truncate returns s cut to maxLen characters, with "..." appended if it was cut.
// Lengths are counted in runes so multi-byte text is never split mid-character.
// If maxLen is 0 or negative, returns s unchanged.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

// FormatMegabytes renders a byte count as megabytes with two decimals, e.g. "1.50MB".
func FormatMegabytes(n int64) string {
	return fmt.Sprintf("%.2fMB", float64(n)/(1024*1024))
}
