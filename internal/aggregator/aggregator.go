// Package aggregator reassembles per-slide explanations into one structured
// document. It is pure and deterministic: slide order equals input order and
// numbering is dense and 1-based on both levels.
package aggregator

import (
	"fmt"
	"strings"

	"pptxplainer/internal/domain"
)

// Aggregate builds the final document. Explanation text is split on blank
// lines into sections; a section's text is its lines rejoined with newlines.
func Aggregate(topic string, summaries []domain.SlideSummary) domain.ExplanationDocument {
	doc := domain.ExplanationDocument{
		Topic:  topic,
		Slides: make([]domain.SlideExplanation, 0, len(summaries)),
	}

	for i, summary := range summaries {
		doc.Slides = append(doc.Slides, domain.SlideExplanation{
			Number:  i + 1,
			Title:   summary.Title,
			Content: sectionContent(summary.Explanation),
		})
	}

	return doc
}

func sectionContent(explanation string) map[string]string {
	explanation = strings.ReplaceAll(explanation, "\r\n", "\n")

	content := make(map[string]string)

	n := 0
	for _, paragraph := range strings.Split(explanation, "\n\n") {
		var lines []string
		for _, line := range strings.Split(paragraph, "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}

			lines = append(lines, line)
		}

		if len(lines) == 0 {
			continue
		}

		n++
		content[fmt.Sprintf("section %d", n)] = strings.Join(lines, "\n")
	}

	return content
}
