// Package argv tokenizes command lines found in configuration values (such
// as interpreter overrides) using POSIX-like shell rules, without any
// expansion.
package argv

// ParseSlice splits s into arguments.
// Rules:
//   - Unquoted spaces, tabs, and newlines separate arguments.
//   - Single quotes preserve contents literally until the closing quote.
//   - Double quotes preserve contents; backslash escapes only $, `, ", \\,
//     or a newline.
//   - Outside quotes, backslash escapes the following rune; backslash-newline
//     is a line continuation.
//   - No environment expansion, globbing, or comment handling.
func ParseSlice(s string) []string {
	var (
		args     []string
		buf      []rune
		started  bool
		inSingle bool
		inDouble bool
		esc      bool
	)
	flush := func() {
		if started {
			args = append(args, string(buf))
			buf = buf[:0]
			started = false
		}
	}
	for _, r := range s {
		switch {
		case esc:
			esc = false
			if r == '\n' {
				// Line continuation, inside double quotes or out.
				continue
			}
			if inDouble {
				switch r {
				case '$', '`', '"', '\\':
					// escaped literal
				default:
					// Backslash is literal before other runes in double
					// quotes.
					buf = append(buf, '\\')
				}
			}
			buf = append(buf, r)
			started = true
		case r == '\\' && !inSingle:
			esc = true
		case r == '\'' && !inDouble:
			inSingle = !inSingle
			started = true
		case r == '"' && !inSingle:
			inDouble = !inDouble
			started = true
		case (r == ' ' || r == '\t' || r == '\n') && !inSingle && !inDouble:
			flush()
		default:
			buf = append(buf, r)
			started = true
		}
	}
	if esc {
		buf = append(buf, '\\')
		started = true
	}
	flush()
	return args
}
