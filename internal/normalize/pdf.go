package normalize

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"docrag/internal/model"
)

// normalizePDF extracts per-page text runs and embedded image XObjects.
// The pdf library panics on malformed structures, so parsing is fenced with
// recover: a panic while opening means the whole document is unreadable, a
// panic inside one page marks only that page corrupt.
func (n *Normalizer) normalizePDF(data []byte) (Result, error) {
	reader, err := openPDF(data)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", model.ErrUnreadableDocument, err)
	}

	res := Result{PageCount: reader.NumPage()}
	for pageNo := 1; pageNo <= res.PageCount; pageNo++ {
		blocks, err := n.extractPage(reader, pageNo)
		if err != nil {
			n.logger.Warn("skipping corrupt page",
				zap.Int("page", pageNo),
				zap.Error(err))
			res.SkippedPages = append(res.SkippedPages, PageError{Page: pageNo, Err: err})
			continue
		}
		res.Blocks = append(res.Blocks, blocks...)
	}
	return res, nil
}

func openPDF(data []byte) (reader *pdf.Reader, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf open panic: %v", r)
		}
	}()
	return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

// extractPage returns the text block followed by image blocks for one page.
func (n *Normalizer) extractPage(reader *pdf.Reader, pageNo int) (blocks []model.Block, err error) {
	defer func() {
		if r := recover(); r != nil {
			blocks = nil
			err = fmt.Errorf("page extraction panic: %v", r)
		}
	}()

	page := reader.Page(pageNo)
	if page.V.IsNull() {
		return nil, fmt.Errorf("missing page object")
	}

	text, err := page.GetPlainText(nil)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	if strings.TrimSpace(text) != "" {
		blocks = append(blocks, model.Block{
			Page:     pageNo,
			Modality: model.ModalityText,
			Text:     text,
			Region: model.Region{
				Kind: model.RegionChars,
				End:  utf8.RuneCountInString(text),
			},
		})
	}

	blocks = append(blocks, n.extractPageImages(page, pageNo)...)
	return blocks, nil
}

// extractPageImages walks the page's XObject resources and returns image
// blocks for decodable streams at least minImageEdge pixels on both sides.
// Streams the pdf library cannot decode (e.g. DCT-compressed) are skipped
// individually rather than failing the page.
func (n *Normalizer) extractPageImages(page pdf.Page, pageNo int) []model.Block {
	resources := page.V.Key("Resources")
	xobjects := resources.Key("XObject")
	if xobjects.Kind() != pdf.Dict {
		return nil
	}

	var blocks []model.Block
	ordinal := 0
	for _, name := range xobjects.Keys() {
		obj := xobjects.Key(name)
		if obj.Kind() != pdf.Stream || obj.Key("Subtype").Name() != "Image" {
			continue
		}
		width := int(obj.Key("Width").Int64())
		height := int(obj.Key("Height").Int64())
		if width < minImageEdge || height < minImageEdge {
			continue
		}

		buf, err := readImageStream(obj)
		if err != nil {
			n.logger.Debug("skipping undecodable image",
				zap.Int("page", pageNo),
				zap.String("xobject", name),
				zap.Error(err))
			continue
		}

		blocks = append(blocks, model.Block{
			Page:     pageNo,
			Modality: model.ModalityImage,
			Image:    buf,
			MIME:     "application/octet-stream",
			Region: model.Region{
				Kind:   model.RegionImage,
				Start:  ordinal,
				End:    ordinal + 1,
				Width:  width,
				Height: height,
			},
		})
		ordinal++
	}
	return blocks
}

func readImageStream(obj pdf.Value) (buf []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			buf = nil
			err = fmt.Errorf("decode stream panic: %v", r)
		}
	}()
	rc := obj.Reader()
	defer rc.Close()
	return io.ReadAll(rc)
}
