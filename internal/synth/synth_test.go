package synth

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"docrag/internal/model"
)

type fakeGenerator struct {
	prompt string
	text   string
	err    error
	calls  int
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	f.calls++
	f.prompt = prompt
	return f.text, f.err
}

func textItem(fp string, page int, score float64, preview string) ContextItem {
	return ContextItem{
		Record: model.KnowledgeRecord{
			ChunkID:     fp + "-c",
			Fingerprint: fp,
			Modality:    model.ModalityText,
			Page:        page,
			Region:      model.Region{Kind: model.RegionChars, Start: 0, End: len(preview)},
			Preview:     preview,
		},
		Score: score,
	}
}

func TestSynthesizeGrounded(t *testing.T) {
	gen := &fakeGenerator{text: "The limit is 10 MB [1]."}
	s := New(gen, nil)

	items := []ContextItem{
		textItem("aaaa1111bbbb2222", 3, 0.9, "The upload limit is 10 MB."),
		textItem("cccc3333dddd4444", 1, 0.4, "Limits apply per account."),
	}
	ans, err := s.Synthesize(context.Background(), "what is the upload limit?", items)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if !ans.Grounded {
		t.Fatal("expected grounded answer")
	}
	if ans.Text != "The limit is 10 MB [1]." {
		t.Fatalf("unexpected text %q", ans.Text)
	}
	if len(ans.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(ans.Sources))
	}
	if ans.Sources[0].Fingerprint != "aaaa1111bbbb2222" || ans.Sources[0].Page != 3 {
		t.Fatalf("unexpected first source %+v", ans.Sources[0])
	}
	if ans.Confidence != 0.9 {
		t.Fatalf("confidence = %f, want 0.9", ans.Confidence)
	}
}

func TestSynthesizeEmptyContextRefusesWithoutGenerator(t *testing.T) {
	gen := &fakeGenerator{text: "should not be used"}
	s := New(gen, nil)

	ans, err := s.Synthesize(context.Background(), "anything?", nil)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gen.calls != 0 {
		t.Fatalf("generator called %d times, want 0", gen.calls)
	}
	if ans.Grounded {
		t.Fatal("expected ungrounded answer")
	}
	if ans.Confidence != ConfidenceFloor {
		t.Fatalf("confidence = %f, want floor %f", ans.Confidence, ConfidenceFloor)
	}
	if len(ans.Sources) != 0 {
		t.Fatalf("expected no sources, got %d", len(ans.Sources))
	}
	if !strings.Contains(ans.Text, "enough information") {
		t.Fatalf("unexpected refusal text %q", ans.Text)
	}
}

func TestSynthesizeLogsDecisions(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := New(&fakeGenerator{text: "ok"}, zap.New(core))

	if _, err := s.Synthesize(context.Background(), "anything?", nil); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if n := logs.FilterMessage("refusing ungrounded question").Len(); n != 1 {
		t.Fatalf("refusal logged %d times, want 1", n)
	}

	items := []ContextItem{textItem("aaaa1111", 1, 0.8, "some context")}
	if _, err := s.Synthesize(context.Background(), "anything?", items); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	entries := logs.FilterMessage("generating answer").All()
	if len(entries) != 1 {
		t.Fatalf("generation logged %d times, want 1", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["context_items"] != int64(1) {
		t.Fatalf("unexpected context_items field: %v", fields["context_items"])
	}
}

func TestSynthesizeGeneratorFailureSurfaces(t *testing.T) {
	wantErr := &model.BackendError{Stage: "generate", Message: "down", Cause: model.ErrGenerationUnavailable}
	s := New(&fakeGenerator{err: wantErr}, nil)

	_, err := s.Synthesize(context.Background(), "q", []ContextItem{textItem("ffff", 1, 0.5, "x")})
	if !errors.Is(err, model.ErrGenerationUnavailable) {
		t.Fatalf("expected ErrGenerationUnavailable, got %v", err)
	}
}

func TestBuildPromptLabelsAndInstruction(t *testing.T) {
	items := []ContextItem{
		textItem("aaaa1111bbbb2222", 2, 0.8, "Widgets ship on Fridays."),
		{
			Record: model.KnowledgeRecord{
				Fingerprint: "eeee5555ffff6666",
				Modality:    model.ModalityImage,
				Page:        4,
				Region:      model.Region{Kind: model.RegionImage, Start: 0, End: 1, Width: 640, Height: 480},
			},
			Score: 0.7,
		},
	}
	prompt := BuildPrompt("when do widgets ship?", items)

	for _, want := range []string{
		"ONLY the numbered context items",
		"[1] doc=aaaa1111 page=2",
		"Widgets ship on Fridays.",
		"[2] doc=eeee5555 page=4",
		"image 640x480",
		"Question: when do widgets ship?",
	} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q\nprompt:\n%s", want, prompt)
		}
	}
}

func TestConfidenceClamping(t *testing.T) {
	cases := []struct {
		name  string
		items []ContextItem
		want  float64
	}{
		{"empty", nil, ConfidenceFloor},
		{"below floor", []ContextItem{{Score: 0.02}}, ConfidenceFloor},
		{"max of several", []ContextItem{{Score: 0.3}, {Score: 0.75}, {Score: 0.5}}, 0.75},
		{"above one", []ContextItem{{Score: 1.4}}, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Confidence(tc.items); got != tc.want {
				t.Fatalf("Confidence = %f, want %f", got, tc.want)
			}
		})
	}
}
