// Package encoding projects every modality into one shared embedding space.
// Backend encoders are free to emit vectors of any width; the fuser pads or
// truncates them to the configured dimension and L2-normalizes, so cosine
// scores stay comparable across text and image records.
package encoding

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"docrag/internal/model"
)

const DefaultDim = 1024

type Fuser struct {
	text   model.TextEncoder
	image  model.ImageEncoder
	dim    int
	logger *zap.Logger
}

func NewFuser(text model.TextEncoder, image model.ImageEncoder, dim int, logger *zap.Logger) (*Fuser, error) {
	if text == nil {
		return nil, errors.New("text encoder is required")
	}
	if dim <= 0 {
		dim = DefaultDim
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fuser{text: text, image: image, dim: dim, logger: logger}, nil
}

// Dim is the width of the shared embedding space.
func (f *Fuser) Dim() int { return f.dim }

// EncodeChunk produces the shared-space vector for a chunk, dispatching on
// its modality.
func (f *Fuser) EncodeChunk(ctx context.Context, c model.Chunk) ([]float32, error) {
	switch c.Modality {
	case model.ModalityText:
		raw, err := f.text.EncodeText(ctx, c.Text)
		if err != nil {
			return nil, err
		}
		return f.project(raw, c.ID)
	case model.ModalityImage:
		if f.image == nil {
			return nil, &model.BackendError{
				Stage:     "encode",
				Message:   "no image encoder configured",
				Retryable: false,
				Cause:     model.ErrEncodingUnavailable,
			}
		}
		raw, err := f.image.EncodeImage(ctx, c.Image)
		if err != nil {
			return nil, err
		}
		return f.project(raw, c.ID)
	default:
		return nil, fmt.Errorf("unknown modality %q", c.Modality)
	}
}

// EncodeQuestion embeds a query through the text encoder into the shared
// space. Cross-modal hits rely on the encoder pair being trained for a
// joint space; the fuser only guarantees dimensional compatibility.
func (f *Fuser) EncodeQuestion(ctx context.Context, question string) ([]float32, error) {
	raw, err := f.text.EncodeText(ctx, question)
	if err != nil {
		return nil, err
	}
	return f.project(raw, "question")
}

// project pads or truncates to the shared dimension, then L2-normalizes.
// A zero vector cannot be normalized and is rejected rather than stored.
func (f *Fuser) project(raw []float32, label string) ([]float32, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty embedding for %s", label)
	}
	if len(raw) != f.dim {
		f.logger.Debug("reshaping embedding",
			zap.String("for", label),
			zap.Int("from", len(raw)),
			zap.Int("to", f.dim))
	}

	out := make([]float32, f.dim)
	copy(out, raw)

	var sum float64
	for _, v := range out {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return nil, fmt.Errorf("zero-norm embedding for %s", label)
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / norm)
	}
	return out, nil
}
