package retrieval

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"docrag/internal/encoding"
	"docrag/internal/model"
	"docrag/internal/synth"
	"docrag/internal/util"
)

type Service struct {
	store  model.KnowledgeStore
	fuser  *encoding.Fuser
	synth  *synth.Synthesizer
	cfg    Config
	retry  util.RetryPolicy
	logger *zap.Logger
}

type Config struct {
	K           int
	Threshold   float64
	TokenBudget int

	// Modality restricts search to one modality; empty searches both.
	Modality model.Modality
}

func NewService(store model.KnowledgeStore, fuser *encoding.Fuser, syn *synth.Synthesizer, cfg Config, retry util.RetryPolicy, logger *zap.Logger) *Service {
	if cfg.K <= 0 {
		cfg.K = DefaultK
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = DefaultTokenBudget
	}
	if retry.MaxAttempts <= 0 {
		retry = util.RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, fuser: fuser, synth: syn, cfg: cfg, retry: retry, logger: logger}
}

// Answer runs the full query pipeline for one question. Every answer gets
// a request ID for correlating logs with output.
func (s *Service) Answer(ctx context.Context, question string) (model.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return model.Answer{}, errors.New("question is empty")
	}
	requestID := uuid.NewString()
	logger := s.logger.With(zap.String("request_id", requestID))

	var queryVec []float32
	err := util.Do(ctx, s.retry, func(ctx context.Context) error {
		var encErr error
		queryVec, encErr = s.fuser.EncodeQuestion(ctx, question)
		return encErr
	})
	if err != nil {
		return model.Answer{}, err
	}

	neighbors, err := s.store.Search(ctx, queryVec, s.cfg.K, s.cfg.Modality)
	if err != nil {
		return model.Answer{}, err
	}

	items := Assemble(neighbors, AssembleConfig{
		Threshold:   s.cfg.Threshold,
		TokenBudget: s.cfg.TokenBudget,
	})
	logger.Debug("context assembled",
		zap.Int("neighbors", len(neighbors)),
		zap.Int("included", len(items)))

	answer, err := s.synth.Synthesize(ctx, question, items)
	if err != nil {
		return model.Answer{}, err
	}
	answer.RequestID = requestID
	logger.Info("question answered",
		zap.Bool("grounded", answer.Grounded),
		zap.Float64("confidence", answer.Confidence),
		zap.Int("sources", len(answer.Sources)))
	return answer, nil
}
