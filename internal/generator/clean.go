package generator

import "strings"

// wrappingQuotes maps an opening quote to its closing quote.
var wrappingQuotes = map[string]string{
	`"`: `"`,
	`'`: `'`,
	"“": "”",
	"«": "»",
}

var entities = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#34;", `"`,
	"&#39;", "'",
	"&apos;", "'",
	"&nbsp;", " ",
)

// Clean trims s, removes one layer of quotes wrapping the whole answer and
// decodes the HTML entities models commonly emit.
func Clean(s string) string {
	s = strings.TrimSpace(s)
	for open, closing := range wrappingQuotes {
		if len(s) < len(open)+len(closing) || !strings.HasPrefix(s, open) || !strings.HasSuffix(s, closing) {
			continue
		}
		inner := s[len(open) : len(s)-len(closing)]
		if strings.Contains(inner, closing) {
			continue
		}
		s = strings.TrimSpace(inner)
		break
	}
	return entities.Replace(s)
}
