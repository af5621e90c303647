package retrieval

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"docrag/internal/chunk"
	"docrag/internal/encoding"
	"docrag/internal/ingest"
	"docrag/internal/model"
	"docrag/internal/normalize"
	"docrag/internal/objstore"
	"docrag/internal/store"
	"docrag/internal/synth"
	"docrag/internal/util"
)

// constEncoder maps every input to the same direction, so any stored chunk
// is a perfect match for any question.
type constEncoder struct{}

func (constEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

type cannedGenerator struct {
	text string
}

func (g cannedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return g.text, nil
}

func newEngine(t *testing.T, gen model.Generator) (*ingest.Pipeline, *Service, *store.SQLiteStore) {
	t.Helper()
	st := store.NewSQLiteStore(filepath.Join(t.TempDir(), "knowledge.db"), nil)
	if err := st.Init(context.Background()); err != nil {
		t.Fatalf("store init: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	fuser, err := encoding.NewFuser(constEncoder{}, nil, 4, nil)
	if err != nil {
		t.Fatalf("NewFuser: %v", err)
	}
	chunker, err := chunk.New(chunk.Config{MaxChunkTokens: 400, OverlapTokens: 60})
	if err != nil {
		t.Fatalf("chunk.New: %v", err)
	}
	pipeline := ingest.New(ingest.Options{
		Store:      st,
		Objects:    objstore.NewFSStore(t.TempDir()),
		Normalizer: normalize.New(nil),
		Chunker:    chunker,
		Fuser:      fuser,
	})
	svc := NewService(st, fuser, synth.New(gen, nil), Config{K: 10, Threshold: 0.2, TokenBudget: 1000}, util.RetryPolicy{MaxAttempts: 1}, nil)
	return pipeline, svc, st
}

func TestIngestThenAsk(t *testing.T) {
	pipeline, svc, _ := newEngine(t, cannedGenerator{text: "The sky is blue [1]."})
	ctx := context.Background()

	raw := []byte("The sky is blue.")
	res, err := pipeline.Ingest(ctx, raw)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Status != model.StatusIngested || res.ChunksIngested != 1 {
		t.Fatalf("unexpected ingest result %+v", res)
	}

	again, err := pipeline.Ingest(ctx, raw)
	if err != nil {
		t.Fatalf("re-Ingest: %v", err)
	}
	if again.Status != model.StatusAlreadyPresent || again.ChunksIngested != 0 {
		t.Fatalf("unexpected repeat result %+v", again)
	}

	ans, err := svc.Answer(ctx, "What color is the sky?")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if !strings.Contains(ans.Text, "blue") {
		t.Fatalf("answer %q does not mention blue", ans.Text)
	}
	if len(ans.Sources) != 1 {
		t.Fatalf("got %d sources, want 1", len(ans.Sources))
	}
	if ans.Sources[0].Page != 1 || ans.Sources[0].Fingerprint != res.Fingerprint {
		t.Fatalf("unexpected source %+v", ans.Sources[0])
	}
	if ans.Confidence <= synth.ConfidenceFloor {
		t.Fatalf("confidence %f not above floor", ans.Confidence)
	}
	if !ans.Grounded {
		t.Fatal("expected grounded answer")
	}
}

func TestAskEmptyCorpus(t *testing.T) {
	_, svc, _ := newEngine(t, cannedGenerator{text: "should not run"})

	ans, err := svc.Answer(context.Background(), "What color is the sky?")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if len(ans.Sources) != 0 {
		t.Fatalf("expected no sources, got %d", len(ans.Sources))
	}
	if ans.Confidence != synth.ConfidenceFloor {
		t.Fatalf("confidence %f, want floor", ans.Confidence)
	}
	if ans.Grounded || !strings.Contains(ans.Text, "enough information") {
		t.Fatalf("expected explicit no-grounding answer, got %+v", ans)
	}
}
