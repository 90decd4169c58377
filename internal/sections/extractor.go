package sections

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/Lllllllleong/docversions/internal/apperr"
	"github.com/Lllllllleong/docversions/internal/models"
)

// minMarkerWords is the shortest marker the fallback search will try.
const minMarkerWords = 2

// Locate finds marker in text. An exact match is tried first, then a match
// tolerant of whitespace differences, dropping the marker's last word after
// each miss until fewer than minMarkerWords remain. It returns the byte
// offset of the match.
func Locate(text, marker string) (int, bool) {
	marker = strings.TrimSpace(marker)
	if marker == "" {
		return 0, false
	}
	if i := strings.Index(text, marker); i >= 0 {
		return i, true
	}

	words := strings.Fields(marker)
	for n := len(words); n >= minMarkerWords; n-- {
		if i, ok := findWords(text, words[:n]); ok {
			return i, true
		}
	}
	return 0, false
}

// findWords matches words separated by any run of whitespace.
func findWords(text string, words []string) (int, bool) {
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	re, err := regexp.Compile(strings.Join(quoted, `\s+`))
	if err != nil {
		return 0, false
	}
	loc := re.FindStringIndex(text)
	if loc == nil {
		return 0, false
	}
	return loc[0], true
}

// Extract returns the body of current: from its start marker up to the
// start of next's marker, or to the end of text when next is nil, cannot be
// found, or does not lie after current. A repeated title at the head of the
// body is removed, as is next's heading line at its tail.
func Extract(fullText string, current models.IdentifiedSection, next *models.IdentifiedSection) (string, error) {
	start, ok := Locate(fullText, current.StartMarker)
	if !ok {
		return "", fmt.Errorf("%w: section %q (marker %q)", apperr.ErrMarkerNotFound, current.Title, current.StartMarker)
	}

	end := len(fullText)
	if next != nil {
		if rel, ok := Locate(fullText[start+1:], next.StartMarker); ok {
			end = start + 1 + rel
		}
	}

	content := fullText[start:end]
	content = stripLeadingTitle(content, current.Title)
	if next != nil && end < len(fullText) {
		content = stripTrailingHeading(content, next.Title)
	}
	return content, nil
}

// ExtractAll extracts every section in order. sections must already be
// sorted by order.
func ExtractAll(fullText string, sections []models.IdentifiedSection) ([]string, error) {
	bodies := make([]string, 0, len(sections))
	for i, s := range sections {
		var next *models.IdentifiedSection
		if i+1 < len(sections) {
			next = &sections[i+1]
		}
		body, err := Extract(fullText, s, next)
		if err != nil {
			return nil, err
		}
		bodies = append(bodies, body)
	}
	return bodies, nil
}

// headingNumber matches a heading's leading numbering: "#", "2.", "3.1", "IV.".
var headingNumber = regexp.MustCompile(`(?i)^\s*(?:#+\s*)?(?:(?:\d+(?:\.\d+)*[.):]?|[ivxlc]+[.):])\s+)?`)

// bareNumbering matches a line holding nothing but numbering.
var bareNumbering = regexp.MustCompile(`(?i)^\s*(?:#+|\d+(?:\.\d+)*[.):]?|[ivxlc]+[.):])\s*$`)

const titleTrailers = " \t\r\n.,:;-–—)]#*0123456789"

func normalizeTitle(s string) string {
	s = headingNumber.ReplaceAllString(s, "")
	return strings.ToLower(strings.Trim(s, " \t\r\n.:*#"))
}

// stripLeadingTitle removes title, with any numbering before it and
// punctuation or numbering after it, from the head of content.
func stripLeadingTitle(content, title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return content
	}
	body := headingNumber.ReplaceAllString(content, "")
	if len(body) < len(title) || !strings.EqualFold(body[:len(title)], title) {
		return content
	}
	return strings.TrimLeft(body[len(title):], titleTrailers)
}

// stripTrailingHeading removes the heading line of the following section,
// and a bare numbering line above it, from the tail of content.
func stripTrailingHeading(content, nextTitle string) string {
	trimmed := strings.TrimRight(content, " \t\r\n")
	i := strings.LastIndexByte(trimmed, '\n')
	if i < 0 || normalizeTitle(trimmed[i+1:]) != normalizeTitle(nextTitle) {
		return content
	}
	trimmed = strings.TrimRight(trimmed[:i], " \t\r\n")
	if j := strings.LastIndexByte(trimmed, '\n'); j >= 0 && bareNumbering.MatchString(trimmed[j+1:]) {
		trimmed = strings.TrimRight(trimmed[:j], " \t\r\n")
	}
	return trimmed + "\n\n"
}
