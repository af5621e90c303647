// Package chunk splits normalized blocks into retrievable units: bounded,
// overlapping text windows and one chunk per image. Chunk IDs are a
// deterministic function of the document fingerprint, modality, sequential
// index and payload digest, so re-chunking identical input reproduces
// identical IDs.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode/utf8"

	"docrag/internal/model"
)

// Config bounds text windows. OverlapTokens is carried between consecutive
// windows to preserve cross-boundary context and must be smaller than
// MaxChunkTokens.
type Config struct {
	MaxChunkTokens int
	OverlapTokens  int
}

type Chunker struct {
	cfg Config
}

func New(cfg Config) (*Chunker, error) {
	if cfg.MaxChunkTokens <= 0 {
		return nil, fmt.Errorf("max_chunk_tokens must be positive, got %d", cfg.MaxChunkTokens)
	}
	if cfg.OverlapTokens < 0 || cfg.OverlapTokens >= cfg.MaxChunkTokens {
		return nil, fmt.Errorf("overlap_tokens must be in [0, max_chunk_tokens), got %d", cfg.OverlapTokens)
	}
	return &Chunker{cfg: cfg}, nil
}

// EstimateTokens approximates the token count of a text payload. The usual
// four-characters-per-token heuristic is good enough for budget enforcement.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// Split derives the chunk sequence for one document. Blocks must be in
// document order; the sequential index feeding each chunk ID follows that
// order.
func (c *Chunker) Split(fingerprint string, blocks []model.Block) []model.Chunk {
	var chunks []model.Chunk
	index := 0
	for _, block := range blocks {
		switch block.Modality {
		case model.ModalityText:
			for _, window := range c.windows(block.Text) {
				text := window.text
				chunks = append(chunks, model.Chunk{
					ID:          ID(fingerprint, model.ModalityText, index, []byte(text)),
					Fingerprint: fingerprint,
					Modality:    model.ModalityText,
					Text:        text,
					Page:        block.Page,
					Region: model.Region{
						Kind:  model.RegionChars,
						Start: block.Region.Start + window.start,
						End:   block.Region.Start + window.end,
					},
					TokensEst: EstimateTokens(text),
				})
				index++
			}
		case model.ModalityImage:
			chunks = append(chunks, model.Chunk{
				ID:          ID(fingerprint, model.ModalityImage, index, block.Image),
				Fingerprint: fingerprint,
				Modality:    model.ModalityImage,
				Image:       block.Image,
				Page:        block.Page,
				Region:      block.Region,
				// images occupy a fixed slice of any token budget
				TokensEst: imageTokensEst,
			})
			index++
		}
	}
	return chunks
}

// imageTokensEst is the budget cost charged for including one image chunk in
// assembled context.
const imageTokensEst = 32

// ID computes the deterministic chunk identifier. The payload digest guards
// against index collisions when content shifts between ingestions.
func ID(fingerprint string, modality model.Modality, index int, payload []byte) string {
	digest := sha256.Sum256(payload)
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d|%x", fingerprint, modality, index, digest))
	return hex.EncodeToString(sum[:16])
}

// window is a text span with rune offsets relative to the block text.
type window struct {
	text  string
	start int
	end   int
}

// spanTokens estimates tokens over the full span, whitespace included, so
// accumulated window estimates never undercount the final window text.
func spanTokens(w window) int {
	n := w.end - w.start
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}

// windows splits text on sentence boundaries into spans of at most
// MaxChunkTokens, sharing OverlapTokens of trailing sentences between
// consecutive spans. Oversized single sentences are hard-split.
func (c *Chunker) windows(text string) []window {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var out []window
	var current []window // sentences accumulated into the open window
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		start := current[0].start
		end := current[len(current)-1].end
		out = append(out, window{
			text:  strings.TrimSpace(textBetween(text, start, end)),
			start: start,
			end:   end,
		})

		// seed the next window with trailing sentences worth up to
		// OverlapTokens
		var carry []window
		carryTokens := 0
		for i := len(current) - 1; i > 0; i-- {
			t := spanTokens(current[i])
			if carryTokens+t > c.cfg.OverlapTokens {
				break
			}
			carry = append([]window{current[i]}, carry...)
			carryTokens += t
		}
		current = carry
		currentTokens = carryTokens
	}

	for _, sentence := range sentences {
		tokens := spanTokens(sentence)
		if tokens > c.cfg.MaxChunkTokens {
			flush()
			current = nil
			currentTokens = 0
			out = append(out, c.hardSplit(text, sentence)...)
			continue
		}
		if currentTokens+tokens > c.cfg.MaxChunkTokens {
			flush()
			// shrink the carried overlap if it would push the new window
			// past the budget
			for len(current) > 0 && currentTokens+tokens > c.cfg.MaxChunkTokens {
				currentTokens -= spanTokens(current[0])
				current = current[1:]
			}
		}
		current = append(current, sentence)
		currentTokens += tokens
	}
	flush()
	return out
}

// hardSplit cuts a single oversized sentence into MaxChunkTokens-sized rune
// windows with no overlap.
func (c *Chunker) hardSplit(text string, s window) []window {
	maxRunes := c.cfg.MaxChunkTokens * 4
	var out []window
	for start := s.start; start < s.end; start += maxRunes {
		end := start + maxRunes
		if end > s.end {
			end = s.end
		}
		out = append(out, window{
			text:  strings.TrimSpace(textBetween(text, start, end)),
			start: start,
			end:   end,
		})
	}
	return out
}

// splitSentences returns sentence spans with rune offsets. Paragraph breaks
// always end a sentence; otherwise a terminator (. ! ?) followed by
// whitespace does.
func splitSentences(text string) []window {
	runes := []rune(text)
	var out []window
	start := 0

	emit := func(end int) {
		segment := strings.TrimSpace(string(runes[start:end]))
		if segment != "" {
			out = append(out, window{text: segment, start: start, end: end})
		}
		start = end
	}

	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				emit(i + 1)
			}
		case '\n':
			// blank line = paragraph break
			if i+1 < len(runes) && runes[i+1] == '\n' {
				emit(i + 1)
			}
		}
	}
	if start < len(runes) {
		emit(len(runes))
	}
	return out
}

func textBetween(text string, startRune, endRune int) string {
	runes := []rune(text)
	if startRune < 0 {
		startRune = 0
	}
	if endRune > len(runes) {
		endRune = len(runes)
	}
	return string(runes[startRune:endRune])
}
