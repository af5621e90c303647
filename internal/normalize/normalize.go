// Package normalize converts raw document bytes into ordered blocks with
// page/position provenance. PDF documents yield per-page text runs plus
// embedded images; valid UTF-8 byte streams are treated as one-page plain
// text. Anything else is unreadable.
package normalize

import (
	"bytes"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"docrag/internal/model"
)

// minImageEdge filters out decorative images; anything narrower or shorter
// is dropped during extraction.
const minImageEdge = 64

var pdfMagic = []byte("%PDF-")

// PageError records one page that failed extraction and was skipped.
type PageError struct {
	Page int
	Err  error
}

func (e PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e PageError) Unwrap() error { return model.ErrCorruptPage }

// Result is the outcome of normalizing one document. SkippedPages lists
// recoverable per-page failures; blocks from healthy pages are still
// returned.
type Result struct {
	Blocks       []model.Block
	PageCount    int
	SkippedPages []PageError
}

type Normalizer struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{logger: logger}
}

// Normalize extracts an ordered block sequence from raw bytes. It fails with
// model.ErrUnreadableDocument when the stream cannot be parsed as a known
// format; individual corrupt pages are skipped and reported in the result.
func (n *Normalizer) Normalize(data []byte) (Result, error) {
	if len(data) == 0 {
		return Result{}, fmt.Errorf("%w: empty input", model.ErrUnreadableDocument)
	}
	if bytes.HasPrefix(data, pdfMagic) {
		return n.normalizePDF(data)
	}
	if utf8.Valid(data) {
		return n.normalizePlainText(data), nil
	}
	return Result{}, fmt.Errorf("%w: not a PDF and not valid UTF-8 text", model.ErrUnreadableDocument)
}

// normalizePlainText maps a UTF-8 byte stream to a single text block on
// page 1 spanning the whole content.
func (n *Normalizer) normalizePlainText(data []byte) Result {
	text := string(data)
	return Result{
		Blocks: []model.Block{{
			Page:     1,
			Modality: model.ModalityText,
			Text:     text,
			Region: model.Region{
				Kind: model.RegionChars,
				End:  utf8.RuneCountInString(text),
			},
		}},
		PageCount: 1,
	}
}
