// Package synthesis produces a natural-language answer from retrieved text.
package synthesis

import (
	"context"
	"time"

	"github.com/hyperjump/docqa/internal/apperr"
)

// Provider names accepted by the configuration.
const (
	ProviderOpenAI     = "openai"
	ProviderExtractive = "extractive"
)

// Synthesizer answers question using only contexts, which are ordered from
// most to least relevant.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, contexts []string) (string, error)
	Name() string
}

type timeoutSynthesizer struct {
	next    Synthesizer
	timeout time.Duration
}

// WithTimeout bounds each Synthesize call and classifies failures by apperr
// kind. A zero timeout only classifies.
func WithTimeout(next Synthesizer, timeout time.Duration) Synthesizer {
	return &timeoutSynthesizer{next: next, timeout: timeout}
}

func (s *timeoutSynthesizer) Synthesize(ctx context.Context, question string, contexts []string) (string, error) {
	cctx, cancel := ctx, context.CancelFunc(func() {})
	if s.timeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, s.timeout)
	}
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := s.next.Synthesize(cctx, question, contexts)
		done <- result{text, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if cctx.Err() != nil {
				r.err = cctx.Err()
			}
			return "", apperr.FromProvider("answer synthesis", r.err)
		}
		return r.text, nil
	case <-cctx.Done():
		return "", apperr.FromProvider("answer synthesis", cctx.Err())
	}
}

func (s *timeoutSynthesizer) Name() string {
	return s.next.Name()
}
