// Package synth turns assembled context into a grounded answer. The
// generator is stateless; everything the model may rely on is carried in the
// prompt, and the answer's confidence is a pure function of retrieval
// similarity rather than model self-reporting.
package synth

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"docrag/internal/model"
)

// ConfidenceFloor is the lowest confidence any answer reports, including
// the refusal produced when nothing grounds the question.
const ConfidenceFloor = 0.1

const noGroundingAnswer = "I don't have enough information in the ingested documents to answer that."

// ContextItem is one record admitted into the prompt, with its normalized
// retrieval score.
type ContextItem struct {
	Record model.KnowledgeRecord
	Score  float64
}

type Synthesizer struct {
	gen    model.Generator
	logger *zap.Logger
}

func New(gen model.Generator, logger *zap.Logger) *Synthesizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{gen: gen, logger: logger}
}

// Synthesize produces the answer text, citations, and confidence for one
// question. With empty context it refuses without calling the generator.
// A generator failure is surfaced, never papered over with invented text.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, items []ContextItem) (model.Answer, error) {
	if len(items) == 0 {
		s.logger.Info("refusing ungrounded question", zap.Int("question_len", len(question)))
		return model.Answer{
			Question:   question,
			Text:       noGroundingAnswer,
			Confidence: ConfidenceFloor,
			Grounded:   false,
		}, nil
	}

	prompt := BuildPrompt(question, items)
	s.logger.Debug("generating answer",
		zap.Int("context_items", len(items)),
		zap.Int("prompt_len", len(prompt)))
	text, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		return model.Answer{}, err
	}

	sources := make([]model.Source, 0, len(items))
	for _, item := range items {
		sources = append(sources, model.Source{
			Fingerprint: item.Record.Fingerprint,
			Page:        item.Record.Page,
			Region:      item.Record.Region,
			Score:       item.Score,
		})
	}

	return model.Answer{
		Question:   question,
		Text:       text,
		Sources:    sources,
		Confidence: Confidence(items),
		Grounded:   true,
	}, nil
}

// BuildPrompt renders the grounded prompt: numbered context items with
// provenance labels and an instruction to answer only from them.
func BuildPrompt(question string, items []ContextItem) string {
	var b strings.Builder
	b.WriteString("You answer questions using ONLY the numbered context items below.\n")
	b.WriteString("If the context does not contain the answer, say you don't have enough information.\n")
	b.WriteString("Cite the item labels, like [1] or [2], next to every claim you make.\n\n")
	b.WriteString("Context:\n")
	for i, item := range items {
		r := item.Record
		label := fmt.Sprintf("[%d] doc=%s page=%d", i+1, shortFingerprint(r.Fingerprint), r.Page)
		if r.Modality == model.ModalityImage {
			b.WriteString(label)
			b.WriteString(fmt.Sprintf(" (image %dx%d, no textual rendering)\n", r.Region.Width, r.Region.Height))
			continue
		}
		b.WriteString(label)
		b.WriteString("\n")
		b.WriteString(r.Preview)
		b.WriteString("\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	b.WriteString("\n")
	return b.String()
}

// Confidence is the maximum normalized score among included items, clamped
// to [ConfidenceFloor, 1].
func Confidence(items []ContextItem) float64 {
	c := 0.0
	for _, item := range items {
		if item.Score > c {
			c = item.Score
		}
	}
	if c < ConfidenceFloor {
		c = ConfidenceFloor
	}
	if c > 1 {
		c = 1
	}
	return c
}

func shortFingerprint(fp string) string {
	if len(fp) > 8 {
		return fp[:8]
	}
	return fp
}
