package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"docrag/internal/encoding"
	"docrag/internal/model"
	"docrag/internal/synth"
	"docrag/internal/util"
)

type searchStore struct {
	neighbors []model.RetrievedNeighbor
	err       error
	gotK      int
	gotMod    model.Modality
}

func (s *searchStore) Upsert(ctx context.Context, records []model.KnowledgeRecord) (model.UpsertResult, error) {
	return model.UpsertResult{}, nil
}

func (s *searchStore) Search(ctx context.Context, vector []float32, k int, modality model.Modality) ([]model.RetrievedNeighbor, error) {
	s.gotK = k
	s.gotMod = modality
	return s.neighbors, s.err
}

func (s *searchStore) Exists(ctx context.Context, fingerprint string) (bool, error) {
	return false, nil
}
func (s *searchStore) PutDocument(ctx context.Context, doc model.Document) error    { return nil }
func (s *searchStore) DeleteDocument(ctx context.Context, fingerprint string) error { return nil }
func (s *searchStore) Stats(ctx context.Context) (model.CorpusStats, error) {
	return model.CorpusStats{}, nil
}
func (s *searchStore) Close() error { return nil }

type countingEncoder struct {
	failFirst int
	calls     int
}

func (e *countingEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.calls <= e.failFirst {
		return nil, &model.BackendError{
			Stage:     "encode",
			Message:   "transient",
			Retryable: true,
			Cause:     model.ErrEncodingUnavailable,
		}
	}
	return []float32{1, 0}, nil
}

type echoGenerator struct{}

func (echoGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return "answer [1]", nil
}

func newTestService(t *testing.T, store model.KnowledgeStore, enc model.TextEncoder) *Service {
	t.Helper()
	fuser, err := encoding.NewFuser(enc, nil, 4, nil)
	if err != nil {
		t.Fatalf("NewFuser: %v", err)
	}
	retry := util.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}
	return NewService(store, fuser, synth.New(echoGenerator{}, nil), Config{K: 5, Threshold: 0.2, TokenBudget: 100}, retry, nil)
}

func TestAnswerGrounded(t *testing.T) {
	store := &searchStore{neighbors: []model.RetrievedNeighbor{
		neighbor("c1", "doc1", 1, 0, 50, 0.9, 10),
		neighbor("c2", "doc2", 2, 0, 50, 0.6, 10),
	}}
	svc := newTestService(t, store, &countingEncoder{})

	ans, err := svc.Answer(context.Background(), "what happened?")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ans.RequestID == "" {
		t.Fatal("expected request ID")
	}
	if ans.Question != "what happened?" {
		t.Fatalf("question not carried: %q", ans.Question)
	}
	if !ans.Grounded || ans.Text == "" {
		t.Fatalf("expected grounded answer, got %+v", ans)
	}
	if store.gotK != 5 {
		t.Fatalf("search used k=%d, want 5", store.gotK)
	}
	if ans.Confidence != 1 {
		t.Fatalf("confidence = %f, want 1 (top normalized score)", ans.Confidence)
	}
}

func TestAnswerNoNeighbors(t *testing.T) {
	svc := newTestService(t, &searchStore{}, &countingEncoder{})

	ans, err := svc.Answer(context.Background(), "anything?")
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if ans.Grounded {
		t.Fatal("expected ungrounded refusal")
	}
	if ans.Confidence != synth.ConfidenceFloor {
		t.Fatalf("confidence = %f, want floor", ans.Confidence)
	}
}

func TestAnswerRetriesTransientEncodeFailure(t *testing.T) {
	enc := &countingEncoder{failFirst: 2}
	svc := newTestService(t, &searchStore{}, enc)

	if _, err := svc.Answer(context.Background(), "q"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if enc.calls != 3 {
		t.Fatalf("encoder called %d times, want 3", enc.calls)
	}
}

func TestAnswerEncodeFailureExhaustsRetries(t *testing.T) {
	enc := &countingEncoder{failFirst: 100}
	svc := newTestService(t, &searchStore{}, enc)

	_, err := svc.Answer(context.Background(), "q")
	if !errors.Is(err, model.ErrEncodingUnavailable) {
		t.Fatalf("expected ErrEncodingUnavailable, got %v", err)
	}
	if enc.calls != 3 {
		t.Fatalf("encoder called %d times, want 3", enc.calls)
	}
}

func TestAnswerStoreFailureSurfaces(t *testing.T) {
	store := &searchStore{err: &model.BackendError{Stage: "store", Message: "down", Retryable: true, Cause: model.ErrStoreUnavailable}}
	svc := newTestService(t, store, &countingEncoder{})

	_, err := svc.Answer(context.Background(), "q")
	if !errors.Is(err, model.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestAnswerEmptyQuestion(t *testing.T) {
	svc := newTestService(t, &searchStore{}, &countingEncoder{})
	if _, err := svc.Answer(context.Background(), "   "); err == nil {
		t.Fatal("expected error for empty question")
	}
}
