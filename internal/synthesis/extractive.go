package synthesis

import (
	"context"
	"math"
	"regexp"
	"sort"
	"strings"
)

var (
	sentencePattern = regexp.MustCompile(`(?s)[^.!?。！？]+[.!?。！？]*`)
	termPattern     = regexp.MustCompile(`[\p{L}\p{N}]+`)
)

// ExtractiveSynthesizer answers by selecting the context sentences that share
// the most terms with the question. It needs no model and never fails on input.
type ExtractiveSynthesizer struct {
	maxSentences int
	stopwords    map[string]struct{}
}

// NewExtractiveSynthesizer creates an extractive synthesizer returning up to
// maxSentences sentences (3 when maxSentences <= 0).
func NewExtractiveSynthesizer(maxSentences int) *ExtractiveSynthesizer {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	return &ExtractiveSynthesizer{maxSentences: maxSentences, stopwords: defaultStopwords()}
}

type sentence struct {
	text  string
	order int
	score float64
}

// Synthesize ranks sentences by question-term overlap, discounted by the rank
// of the context they came from, and returns the best ones in reading order.
func (s *ExtractiveSynthesizer) Synthesize(ctx context.Context, question string, contexts []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	qterms := map[string]struct{}{}
	for _, t := range s.terms(question) {
		qterms[t] = struct{}{}
	}

	var sentences []sentence
	for ci, c := range contexts {
		weight := 1 / float64(ci+1)
		for _, raw := range sentencePattern.FindAllString(c, -1) {
			text := strings.Join(strings.Fields(raw), " ")
			if text == "" {
				continue
			}
			terms := s.terms(text)
			hits := 0
			for _, t := range terms {
				if _, ok := qterms[t]; ok {
					hits++
				}
			}
			score := 0.0
			if len(terms) > 0 {
				score = weight * float64(hits) / math.Sqrt(float64(len(terms)))
			}
			sentences = append(sentences, sentence{text: text, order: len(sentences), score: score})
		}
	}
	if len(sentences) == 0 {
		return "", nil
	}

	ranked := make([]sentence, len(sentences))
	copy(ranked, sentences)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	n := s.maxSentences
	if n > len(ranked) {
		n = len(ranked)
	}
	picked := ranked[:n]
	if picked[0].score == 0 {
		// Nothing overlaps; fall back to the opening of the best context.
		picked = []sentence{sentences[0]}
	} else {
		kept := picked[:0]
		for _, p := range picked {
			if p.score > 0 {
				kept = append(kept, p)
			}
		}
		picked = kept
	}
	sort.Slice(picked, func(i, j int) bool { return picked[i].order < picked[j].order })

	out := make([]string, len(picked))
	for i, p := range picked {
		out[i] = p.text
	}
	return strings.Join(out, " "), nil
}

// Name identifies the synthesizer.
func (s *ExtractiveSynthesizer) Name() string {
	return ProviderExtractive
}

func (s *ExtractiveSynthesizer) terms(text string) []string {
	all := termPattern.FindAllString(strings.ToLower(text), -1)
	out := all[:0]
	for _, t := range all {
		if _, stop := s.stopwords[t]; !stop {
			out = append(out, t)
		}
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "for", "to", "of", "in", "on", "at", "by",
		"with", "as", "is", "are", "was", "were", "be", "been", "it", "this", "that", "these", "those",
		"from", "what", "which", "who", "how", "when", "where", "why", "do", "does", "did", "can", "about",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
