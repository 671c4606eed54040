// Package summarizer produces a per-slide explanation for a Deck via
// two-stage text generation: an explain pass over the slide's raw text,
// then a clean pass that normalizes the formatting of the first output.
package summarizer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"pptxplainer/internal/domain"
	"pptxplainer/internal/llm"

	"golang.org/x/sync/errgroup"
)

const (
	explainSystemPrompt = `You are an instructor explaining lecture slides to a student.
Explain the content of the slide below in clear, complete sentences, as if
teaching the material to someone seeing it for the first time. Cover every
point on the slide. Organize the explanation into short paragraphs separated
by blank lines.`

	cleanSystemPrompt = `You are a text formatter. Normalize the formatting of the explanation
below without changing its meaning: fix spacing, remove bullet markers and
other artifacts, and keep paragraphs separated by exactly one blank line.
Return only the cleaned text.`
)

// Backoff bounds the retry policy for a single generation call.
type Backoff struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{
		Attempts:  5,
		BaseDelay: time.Second,
		MaxDelay:  10 * time.Second,
	}
}

type Summarizer struct {
	client  llm.Client
	workers int
	backoff Backoff
	log     *slog.Logger
}

// New builds a summarizer. workers caps the number of concurrent slides per
// deck so a large deck cannot exhaust the generation service's rate limit.
func New(client llm.Client, workers int, backoff Backoff, log *slog.Logger) *Summarizer {
	if workers <= 0 {
		workers = 1
	}
	if backoff.Attempts <= 0 {
		backoff = DefaultBackoff()
	}

	return &Summarizer{
		client:  client,
		workers: workers,
		backoff: backoff,
		log:     log,
	}
}

// Summarize explains every slide of the deck. Results are indexed by the
// slide's position, not by completion order, so deck order is preserved.
// A single slide failing after retries fails the whole call.
func (s *Summarizer) Summarize(
	ctx context.Context,
	deck domain.Deck,
) ([]domain.SlideSummary, error) {
	summaries := make([]domain.SlideSummary, len(deck))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for i, slide := range deck {
		g.Go(func() error {
			explanation, err := s.explainSlide(ctx, slide)
			if err != nil {
				return fmt.Errorf("slide %d (%s): %w", i+1, slide.Title, err)
			}

			summaries[i] = domain.SlideSummary{
				Title:       slide.Title,
				Explanation: explanation,
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return summaries, nil
}

func (s *Summarizer) explainSlide(ctx context.Context, slide domain.Slide) (string, error) {
	explained, err := s.generateWithRetry(ctx, explainSystemPrompt, slideText(slide))
	if err != nil {
		return "", fmt.Errorf("explain: %w", err)
	}

	cleaned, err := s.generateWithRetry(ctx, cleanSystemPrompt, explained)
	if err != nil {
		return "", fmt.Errorf("clean: %w", err)
	}

	return cleaned, nil
}

// generateWithRetry issues one generation call with exponential backoff on
// transient failures: up to Attempts calls total, delays doubling from
// BaseDelay and capped at MaxDelay. Non-transient failures surface at once.
func (s *Summarizer) generateWithRetry(
	ctx context.Context,
	system string,
	content string,
) (string, error) {
	delay := s.backoff.BaseDelay

	var lastErr error
	for attempt := 1; attempt <= s.backoff.Attempts; attempt++ {
		text, err := s.client.Generate(ctx, system, []llm.Message{
			{Role: llm.RoleUser, Content: content},
		})
		if err == nil {
			return text, nil
		}

		if !llm.Retryable(err) {
			return "", err
		}

		lastErr = err
		if attempt == s.backoff.Attempts {
			break
		}

		s.log.WarnContext(ctx, "Transient generation failure",
			"error", err,
			"attempt", attempt,
			"delay", delay)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > s.backoff.MaxDelay {
			delay = s.backoff.MaxDelay
		}
	}

	return "", fmt.Errorf("generation failed after %d attempts: %w",
		s.backoff.Attempts, lastErr)
}

func slideText(slide domain.Slide) string {
	parts := make([]string, 0, len(slide.Sections)+1)
	parts = append(parts, slide.Title)
	parts = append(parts, slide.Sections...)

	return strings.Join(parts, "\n")
}
