// Package chunker splits long text into pieces small enough for a single
// completion call, breaking only at paragraph or sentence boundaries.
package chunker

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Defaults used by the strategies.
const (
	// DefaultThreshold is the size above which a section is chunked at all.
	DefaultThreshold = 6000
	// DefaultMaxChunkSize is the target size of each chunk.
	DefaultMaxChunkSize = 4000
)

const (
	paragraphSep = "\n\n"
	sentenceSep  = " "
)

var (
	paragraphBreak = regexp.MustCompile(`\n\s*\n`)
	// sentenceEnd matches terminal punctuation, any closing quotes or
	// brackets after it, and the whitespace that follows.
	sentenceEnd = regexp.MustCompile(`[.!?]+["'”’»)\]]*\s+`)
)

// Size is the length of s in characters.
func Size(s string) int { return utf8.RuneCountInString(s) }

// Split divides text into chunks of at most maxChunkSize characters.
// Paragraphs are accumulated until the next one would not fit; a paragraph
// that is too large on its own is split into sentences accumulated the same
// way. A single sentence longer than maxChunkSize becomes its own chunk.
// Paragraphs are rejoined with a blank line and sentences with a space.
func Split(text string, maxChunkSize int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxChunkSize <= 0 || Size(text) <= maxChunkSize {
		return []string{text}
	}

	out := accumulator{max: maxChunkSize, sep: paragraphSep}
	for _, para := range paragraphs(text) {
		if Size(para) <= maxChunkSize {
			out.add(para)
			continue
		}
		out.flush()
		inner := accumulator{max: maxChunkSize, sep: sentenceSep}
		for _, s := range sentences(para) {
			inner.add(s)
		}
		inner.flush()
		out.chunks = append(out.chunks, inner.chunks...)
	}
	out.flush()
	return out.chunks
}

type accumulator struct {
	max     int
	sep     string
	current strings.Builder
	size    int
	chunks  []string
}

func (a *accumulator) add(piece string) {
	n := Size(piece)
	if a.size > 0 && a.size+len(a.sep)+n > a.max {
		a.flush()
	}
	if a.size > 0 {
		a.current.WriteString(a.sep)
		a.size += len(a.sep)
	}
	a.current.WriteString(piece)
	a.size += n
}

func (a *accumulator) flush() {
	if a.size == 0 {
		return
	}
	a.chunks = append(a.chunks, a.current.String())
	a.current.Reset()
	a.size = 0
}

func paragraphs(text string) []string {
	var out []string
	for _, p := range paragraphBreak.Split(text, -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func sentences(para string) []string {
	var out []string
	last := 0
	for _, loc := range sentenceEnd.FindAllStringIndex(para, -1) {
		if s := strings.TrimSpace(para[last:loc[1]]); s != "" {
			out = append(out, s)
		}
		last = loc[1]
	}
	if s := strings.TrimSpace(para[last:]); s != "" {
		out = append(out, s)
	}
	return out
}
