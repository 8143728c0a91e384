// Package textnorm cleans completed sentences for speech synthesis.
//
// A [Normalizer] applies an ordered list of regex replacement rules, extracts
// the leading emotion marker (a bracketed annotation such as "[happy]"), and
// collapses whitespace. Rules are data, not code: they are loaded from a YAML
// file so the cleanup vocabulary can be tuned without a rebuild. A compiled-in
// default set covers stage directions, filler sounds, and runaway whitespace.
//
// Normalizer is stateless and safe for concurrent use.
package textnorm

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// emotionRE matches the first bracketed emotion annotation in a sentence.
// The tag itself is captured without the brackets.
var emotionRE = regexp.MustCompile(`\[([a-zA-Z][a-zA-Z0-9 _-]*)\]`)

// whitespaceRE collapses any run of whitespace into a single space.
var whitespaceRE = regexp.MustCompile(`\s+`)

// Chunk is a normalized sentence ready for synthesis.
type Chunk struct {
	// Text is the cleaned sentence.
	Text string

	// Emotion is the extracted emotion tag, or empty when the sentence
	// carried none.
	Emotion string
}

// Rule is one ordered replacement applied to every sentence.
type Rule struct {
	// Pattern is the regular expression to match.
	Pattern string `yaml:"pattern"`

	// Replacement substitutes every match. Empty deletes the match.
	Replacement string `yaml:"replacement"`
}

// DefaultRules returns the compiled-in rule set: stage directions in
// asterisks, parenthesised laughter markers, filler sounds, and whitespace
// runs.
func DefaultRules() []Rule {
	return []Rule{
		{Pattern: `\*[^*]*\*`, Replacement: ""},
		{Pattern: `\((?:웃음|giggle|laughs?)\)`, Replacement: ""},
		{Pattern: `\b(?:음+|uh|um)\b[.…]*`, Replacement: ""},
		{Pattern: `\s{2,}`, Replacement: " "},
	}
}

type compiledRule struct {
	re          *regexp.Regexp
	replacement string
}

// Normalizer applies the configured rules to completed sentences.
type Normalizer struct {
	rules []compiledRule
}

// New compiles the given rules in order. An invalid pattern fails
// construction; configuration validation should surface this at startup
// rather than at streaming time.
func New(rules []Rule) (*Normalizer, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for i, r := range rules {
		if r.Pattern == "" {
			continue
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("textnorm: rule %d: invalid pattern %q: %w", i, r.Pattern, err)
		}
		compiled = append(compiled, compiledRule{re: re, replacement: r.Replacement})
	}
	return &Normalizer{rules: compiled}, nil
}

// Default returns a Normalizer with the compiled-in rule set.
func Default() *Normalizer {
	n, err := New(DefaultRules())
	if err != nil {
		panic("textnorm: default rules failed to compile: " + err.Error())
	}
	return n
}

// Process cleans one sentence. The second return value is false when nothing
// speakable remains and the caller must skip the emission entirely.
//
// The emotion marker is extracted before the replacement rules run so that a
// rule stripping bracketed text cannot swallow it.
func (n *Normalizer) Process(sentence string) (Chunk, bool) {
	if strings.TrimSpace(sentence) == "" {
		return Chunk{}, false
	}

	text := sentence
	var emotion string
	if m := emotionRE.FindStringSubmatchIndex(text); m != nil {
		emotion = text[m[2]:m[3]]
		text = text[:m[0]] + text[m[1]:]
	}

	for _, r := range n.rules {
		text = r.re.ReplaceAllString(text, r.replacement)
	}

	text = strings.TrimSpace(whitespaceRE.ReplaceAllString(text, " "))
	if !speakable(text) {
		return Chunk{}, false
	}
	return Chunk{Text: text, Emotion: emotion}, true
}

// speakable reports whether text contains at least one letter or digit.
// Punctuation-only residue (e.g. "..." left over after rule cleanup) is not
// worth a synthesis round-trip.
func speakable(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
