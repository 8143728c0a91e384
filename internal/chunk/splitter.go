// Package chunk accumulates streamed token fragments and emits whole
// sentences sized for speech synthesis.
//
// A [Splitter] is stateful and single-use: create one per agent text stream
// and destroy it after [Splitter.Finalize]. Reusing an instance across
// distinct upstream text sources would join unrelated fragments.
package chunk

import "strings"

// DefaultMinChunkLen is the minimum encoded length of an emitted sentence.
// Fragments shorter than this merge forward until the threshold is reached,
// which prevents microscopic TTS utterances ("Hi!").
const DefaultMinChunkLen = 10

// Default reasoning delimiters. Text between them is model chain-of-thought
// and never reaches synthesis.
const (
	defaultReasoningStart = "<think>"
	defaultReasoningEnd   = "</think>"
)

// terminators end a sentence. Latin and CJK punctuation plus newline are
// treated uniformly.
const terminators = ".!?。！？\n"

// Splitter buffers token fragments and returns completed sentences.
//
// Splitter is not safe for concurrent use: it is owned by exactly one
// consumer goroutine per turn.
type Splitter struct {
	minChunkLen     int
	reasoningStart  string
	reasoningEnd    string
	buf             strings.Builder
	insideReasoning bool
}

// Option is a functional option for configuring a Splitter during construction.
type Option func(*Splitter)

// WithMinChunkLen overrides the minimum emitted sentence length, measured in
// encoded bytes. Values below 1 are ignored.
func WithMinChunkLen(n int) Option {
	return func(s *Splitter) {
		if n >= 1 {
			s.minChunkLen = n
		}
	}
}

// WithReasoningTags overrides the delimiters that mark model reasoning to be
// stripped from the stream. Passing two empty strings disables stripping.
func WithReasoningTags(start, end string) Option {
	return func(s *Splitter) {
		s.reasoningStart = start
		s.reasoningEnd = end
	}
}

// New constructs a Splitter with the default minimum chunk length.
func New(opts ...Option) *Splitter {
	s := &Splitter{
		minChunkLen:    DefaultMinChunkLen,
		reasoningStart: defaultReasoningStart,
		reasoningEnd:   defaultReasoningEnd,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Feed appends a token fragment to the internal buffer and returns any
// completed sentences, in order.
//
// The buffer is scanned for the latest terminator; if the prefix ending
// there meets the minimum length it is emitted as a single sentence, so
// multi-sentence fragments collapse into one emission where safe. Shorter
// prefixes keep accumulating and emit nothing.
func (s *Splitter) Feed(fragment string) []string {
	if fragment == "" {
		return nil
	}
	filtered := s.filterReasoning(fragment)
	if filtered == "" {
		return nil
	}
	s.buf.WriteString(filtered)

	text := s.buf.String()
	idx := lastTerminator(text)
	if idx < 0 {
		return nil
	}
	prefix := text[:idx+1]
	if len(prefix) < s.minChunkLen {
		return nil
	}

	rest := strings.TrimLeft(text[idx+1:], " \t\n\r")
	s.buf.Reset()
	s.buf.WriteString(rest)

	sentence := strings.TrimSpace(prefix)
	if sentence == "" {
		return nil
	}
	return []string{sentence}
}

// Finalize returns any non-empty remaining buffer as a final sentence and
// clears all state. The Splitter must not be fed again afterwards.
func (s *Splitter) Finalize() []string {
	remaining := strings.TrimSpace(s.buf.String())
	s.buf.Reset()
	s.insideReasoning = false
	if remaining == "" {
		return nil
	}
	return []string{remaining}
}

// filterReasoning removes text between the reasoning delimiters. The flag
// persists across fragments so a reasoning block may span many tokens, but
// each delimiter itself must arrive within a single fragment.
func (s *Splitter) filterReasoning(fragment string) string {
	if s.reasoningStart == "" || s.reasoningEnd == "" {
		return fragment
	}

	var out strings.Builder
	rest := fragment
	for rest != "" {
		if s.insideReasoning {
			idx := strings.Index(rest, s.reasoningEnd)
			if idx < 0 {
				return out.String()
			}
			s.insideReasoning = false
			rest = rest[idx+len(s.reasoningEnd):]
			continue
		}
		idx := strings.Index(rest, s.reasoningStart)
		if idx < 0 {
			out.WriteString(rest)
			return out.String()
		}
		out.WriteString(rest[:idx])
		s.insideReasoning = true
		rest = rest[idx+len(s.reasoningStart):]
	}
	return out.String()
}

// lastTerminator returns the byte index of the final rune position of the
// last sentence terminator in s, or -1 if none is present.
func lastTerminator(s string) int {
	idx := -1
	for i, r := range s {
		if strings.ContainsRune(terminators, r) {
			idx = i + runeLen(r) - 1
		}
	}
	return idx
}

// runeLen returns the UTF-8 encoded length of r.
func runeLen(r rune) int {
	return len(string(r))
}
