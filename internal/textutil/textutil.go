// Package textutil provides Unicode-aware helpers for rendering user text in
// logs and listings, where byte- or rune-based truncation would split
// grapheme clusters.
package textutil

import (
	"strings"

	"github.com/rivo/uniseg"
)

// Width returns the monospace display width of s.
func Width(s string) int {
	return uniseg.StringWidth(s)
}

// Truncate shortens s so its display width does not exceed maxWidth,
// appending tail when truncation occurs. Grapheme clusters are never split.
// If tail alone is wider than maxWidth, tail is returned as-is.
func Truncate(s string, maxWidth int, tail string) string {
	if uniseg.StringWidth(s) <= maxWidth {
		return s
	}
	tailWidth := uniseg.StringWidth(tail)
	if tailWidth > maxWidth {
		return tail
	}
	targetWidth := maxWidth - tailWidth

	var sb strings.Builder
	var currentWidth int
	state := -1
	remaining := s
	for len(remaining) > 0 {
		var cluster string
		var width int
		cluster, remaining, width, state = uniseg.FirstGraphemeClusterInString(remaining, state)
		if currentWidth+width > targetWidth {
			break
		}
		currentWidth += width
		sb.WriteString(cluster)
	}
	sb.WriteString(tail)
	return sb.String()
}

// Preview flattens s to a single line (whitespace runs collapsed to single
// spaces) and truncates it to maxWidth. Intended for diagnostic log lines
// that quote user text.
func Preview(s string, maxWidth int) string {
	return Truncate(strings.Join(strings.Fields(s), " "), maxWidth, "...")
}
