package llm

import (
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/Lllllllleong/docversions/internal/apperr"
)

// SchemaFor derives the JSON schema that structured calls constrain to.
func SchemaFor(out any) (*jsonschema.Definition, error) {
	def, err := jsonschema.GenerateSchemaForType(out)
	if err != nil {
		return nil, fmt.Errorf("derive schema: %w", err)
	}
	return def, nil
}

// DecodeStructured validates raw against schema and decodes it into out.
func DecodeStructured(schema *jsonschema.Definition, raw string, out any) error {
	cleaned := StripCodeFences(raw)
	if cleaned == "" {
		return fmt.Errorf("empty structured response: %w", apperr.ErrMalformedStructuredOutput)
	}
	if err := schema.Unmarshal(cleaned, out); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrMalformedStructuredOutput, err)
	}
	return nil
}

// StripCodeFences removes a markdown code fence some models wrap JSON in.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop the info string (json, markdown, ...) on the opening line.
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "{[") {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

var refusalPhrases = []string{
	"i am unable to",
	"i'm unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"i can't help with",
	"as a large language model",
	"as an ai language model",
}

// IsRefusal reports whether a completion reads as the model declining the task.
func IsRefusal(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
