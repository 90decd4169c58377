package strategies

import (
	"regexp"
	"strings"
)

var (
	textFieldOpen = regexp.MustCompile(`"text"\s*:\s*"`)
	// valueEnd matches what may legally follow the closing quote of a
	// "text" value: the end of its object or array, or the next key.
	valueEnd = regexp.MustCompile(`^\s*(?:[}\]]|,\s*"[A-Za-z_]+"\s*:|$)`)
)

// repairTextFields escapes stray double quotes and raw control characters
// inside "text" string values, the usual way model-written dialogue JSON
// breaks. Everything outside those values is left untouched.
func repairTextFields(raw string) string {
	var b strings.Builder
	b.Grow(len(raw) + 64)

	pos := 0
	for {
		loc := textFieldOpen.FindStringIndex(raw[pos:])
		if loc == nil {
			b.WriteString(raw[pos:])
			return b.String()
		}
		valueStart := pos + loc[1]
		b.WriteString(raw[pos:valueStart])
		pos = escapeValue(&b, raw, valueStart)
	}
}

// escapeValue copies the string value starting at i, escaping as it goes,
// and returns the index just past its closing quote.
func escapeValue(b *strings.Builder, raw string, i int) int {
	for ; i < len(raw); i++ {
		ch := raw[i]
		switch ch {
		case '\\':
			b.WriteByte(ch)
			if i+1 < len(raw) {
				i++
				b.WriteByte(raw[i])
			}
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '"':
			if valueEnd.MatchString(raw[i+1:]) {
				b.WriteByte('"')
				return i + 1
			}
			b.WriteString(`\"`)
		default:
			b.WriteByte(ch)
		}
	}
	return i
}
