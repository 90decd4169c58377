package strategies

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

const defaultLanguage = "en"

// baseLanguage returns the ISO 639 base of a tag such as "pt-BR", or the
// lower-cased input when it does not parse.
func baseLanguage(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	tag, err := language.Parse(code)
	if err != nil {
		return strings.ToLower(code)
	}
	base, _ := tag.Base()
	return base.String()
}

// SameLanguage reports whether target needs no translation from source. An
// empty target always matches.
func SameLanguage(source, target string) bool {
	if strings.TrimSpace(target) == "" {
		return true
	}
	return baseLanguage(source) == baseLanguage(target)
}

// languageName is the English display name used in prompts.
func languageName(code string) string {
	if code == "" {
		code = defaultLanguage
	}
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return code
}

// sectionLabels are the localized titles of a lecture's opening and closing sections.
type sectionLabels struct {
	Introduction string
	Conclusion   string
}

var lectureLabels = map[string]sectionLabels{
	"en": {Introduction: "Introduction", Conclusion: "Conclusion"},
	"fr": {Introduction: "Introduction", Conclusion: "Conclusion"},
	"es": {Introduction: "Introducción", Conclusion: "Conclusión"},
	"de": {Introduction: "Einleitung", Conclusion: "Fazit"},
	"it": {Introduction: "Introduzione", Conclusion: "Conclusione"},
	"pt": {Introduction: "Introdução", Conclusion: "Conclusão"},
	"nl": {Introduction: "Inleiding", Conclusion: "Conclusie"},
}

func labelsFor(code string) sectionLabels {
	if l, ok := lectureLabels[baseLanguage(code)]; ok {
		return l
	}
	return lectureLabels[defaultLanguage]
}
