package history

import "strings"

// systemPrefixes marks host-injected context blocks that are not
// user-authored prompts. Entries beginning with one of these are dropped
// when system-text filtering is enabled.
var systemPrefixes = []string{
	"<user_instructions>",
	"<environment_context>",
	"<turn_context>",
	"<permissions_context>",
}

// Clean normalizes a candidate history entry: CRLF line endings become LF
// and surrounding whitespace is trimmed. An empty result means the entry
// should be discarded. When filterSystem is set, host-injected context
// blocks are discarded entirely.
func Clean(text string, filterSystem bool) string {
	t := strings.ReplaceAll(text, "\r\n", "\n")
	t = strings.TrimSpace(t)
	if t == "" {
		return ""
	}
	if filterSystem {
		for _, p := range systemPrefixes {
			if strings.HasPrefix(t, p) {
				return ""
			}
		}
	}
	return t
}

// NormalKey reduces text to its comparison form: trimmed, with internal
// whitespace runs collapsed to single spaces. Two entries are duplicates
// when their keys match.
func NormalKey(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// dedupConsecutive removes runs of entries sharing a normalized key,
// keeping the first of each run. Non-adjacent repeats are preserved.
func dedupConsecutive(entries []string) []string {
	var out []string
	var lastKey string
	for _, e := range entries {
		k := NormalKey(e)
		if len(out) > 0 && k == lastKey {
			continue
		}
		out = append(out, e)
		lastKey = k
	}
	return out
}
