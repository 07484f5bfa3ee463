package stt

import (
	"regexp"
	"strings"
	"sync"
)

// DefaultFillerWords are hesitation sounds removed from transcripts.
// Words that carry meaning in a symptom description ("like", "right",
// "well") are deliberately absent.
var DefaultFillerWords = []string{
	"um", "uh", "uhh", "umm",
	"er", "ah", "hmm", "mm",
}

var (
	spacePattern = regexp.MustCompile(`\s+`)
	punctPattern = regexp.MustCompile(`^[.,!?;:\s]+$`)
)

// Filter strips filler words and noise from transcripts.
type Filter struct {
	mu          sync.RWMutex
	fillerWords map[string]struct{}
	pattern     *regexp.Regexp
}

// NewFilter creates a filter for fillerWords. nil selects DefaultFillerWords.
func NewFilter(fillerWords []string) *Filter {
	if fillerWords == nil {
		fillerWords = DefaultFillerWords
	}
	f := &Filter{}
	f.SetFillerWords(fillerWords)
	return f
}

// SetFillerWords replaces the filler word list.
func (f *Filter) SetFillerWords(words []string) {
	set := make(map[string]struct{}, len(words))
	patterns := make([]string, 0, len(words))
	for _, word := range words {
		w := strings.ToLower(word)
		if _, dup := set[w]; dup {
			continue
		}
		set[w] = struct{}{}
		patterns = append(patterns, `\b`+regexp.QuoteMeta(w)+`\b`)
	}

	var pattern *regexp.Regexp
	if len(patterns) > 0 {
		pattern = regexp.MustCompile(`(?i)(` + strings.Join(patterns, `|`) + `)`)
	}

	f.mu.Lock()
	f.fillerWords = set
	f.pattern = pattern
	f.mu.Unlock()
}

// FillerWords returns a copy of the current filler word list.
func (f *Filter) FillerWords() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	words := make([]string, 0, len(f.fillerWords))
	for word := range f.fillerWords {
		words = append(words, word)
	}
	return words
}

// Clean removes filler words and normalizes whitespace. ok is false when
// nothing meaningful remains.
func (f *Filter) Clean(text string) (cleaned string, ok bool) {
	if text == "" {
		return "", false
	}

	f.mu.RLock()
	pattern := f.pattern
	f.mu.RUnlock()

	cleaned = text
	if pattern != nil {
		cleaned = pattern.ReplaceAllString(cleaned, "")
	}
	cleaned = strings.TrimSpace(spacePattern.ReplaceAllString(cleaned, " "))
	cleaned = strings.TrimLeft(cleaned, ",;: ")

	if punctPattern.MatchString(cleaned) {
		cleaned = ""
	}
	return cleaned, cleaned != ""
}

// IsFillerOnly reports whether text has no meaningful content.
func (f *Filter) IsFillerOnly(text string) bool {
	_, ok := f.Clean(text)
	return !ok
}
