// Package ingest runs the document ingestion pipeline: fingerprint,
// normalize, chunk, embed, and persist. Ingestion is idempotent per
// fingerprint and degrades per page and per chunk rather than all-or-nothing.
package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"docrag/internal/chunk"
	"docrag/internal/encoding"
	"docrag/internal/model"
	"docrag/internal/normalize"
	"docrag/internal/util"
)

const defaultEmbedConcurrency = 4

// Normalizer converts raw document bytes into ordered blocks with page
// provenance. *normalize.Normalizer is the production implementation.
type Normalizer interface {
	Normalize(data []byte) (normalize.Result, error)
}

type Pipeline struct {
	store       model.KnowledgeStore
	objects     model.ObjectStore
	normalizer  Normalizer
	chunker     *chunk.Chunker
	fuser       *encoding.Fuser
	limiter     *rate.Limiter
	retry       util.RetryPolicy
	concurrency int
	logger      *zap.Logger

	mu       sync.Mutex
	inflight map[string]chan struct{}
}

type Options struct {
	Store      model.KnowledgeStore
	Objects    model.ObjectStore
	Normalizer Normalizer
	Chunker    *chunk.Chunker
	Fuser      *encoding.Fuser

	// Limiter throttles embedding calls across all workers. Nil means no
	// throttle.
	Limiter *rate.Limiter

	Retry            util.RetryPolicy
	EmbedConcurrency int
	Logger           *zap.Logger
}

func New(opts Options) *Pipeline {
	concurrency := opts.EmbedConcurrency
	if concurrency <= 0 {
		concurrency = defaultEmbedConcurrency
	}
	retry := opts.Retry
	if retry.MaxAttempts <= 0 {
		retry = util.RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:       opts.Store,
		objects:     opts.Objects,
		normalizer:  opts.Normalizer,
		chunker:     opts.Chunker,
		fuser:       opts.Fuser,
		limiter:     opts.Limiter,
		retry:       retry,
		concurrency: concurrency,
		logger:      logger,
		inflight:    make(map[string]chan struct{}),
	}
}

// Ingest processes one raw document. Re-submitting bytes that were already
// ingested short-circuits with StatusAlreadyPresent. Concurrent submissions
// of the same bytes are serialized so only one pipeline run does the work.
func (p *Pipeline) Ingest(ctx context.Context, raw []byte) (model.IngestResult, error) {
	fingerprint := Fingerprint(raw)
	logger := p.logger.With(zap.String("fingerprint", fingerprint[:8]))

	release, err := p.acquire(ctx, fingerprint)
	if err != nil {
		return model.IngestResult{}, err
	}
	defer release()

	exists, err := p.store.Exists(ctx, fingerprint)
	if err != nil {
		return model.IngestResult{}, err
	}
	if exists {
		logger.Debug("document already present")
		return model.IngestResult{Fingerprint: fingerprint, Status: model.StatusAlreadyPresent}, nil
	}

	norm, err := p.normalizer.Normalize(raw)
	if err != nil {
		return model.IngestResult{}, err
	}
	for _, skipped := range norm.SkippedPages {
		logger.Warn("skipped corrupt page", zap.Int("page", skipped.Page), zap.Error(skipped.Err))
	}

	chunks := p.chunker.Split(fingerprint, norm.Blocks)

	storageKey, err := p.objects.Put(ctx, fingerprint, raw)
	if err != nil {
		return model.IngestResult{}, err
	}

	records, encodeFailures := p.encodeAll(ctx, chunks)
	if err := ctx.Err(); err != nil {
		return model.IngestResult{}, err
	}

	result := model.IngestResult{
		Fingerprint:  fingerprint,
		PagesSkipped: len(norm.SkippedPages),
		Failures:     encodeFailures,
	}

	if len(records) > 0 {
		upserted, err := p.store.Upsert(ctx, records)
		if err != nil {
			return model.IngestResult{}, err
		}
		result.ChunksIngested = upserted.Upserted
		for _, failed := range upserted.Failed {
			reason := "rejected by store"
			if failed.Err != nil {
				reason = failed.Err.Error()
			}
			result.Failures = append(result.Failures, model.ChunkFailure{
				ChunkID: failed.ChunkID,
				Stage:   "upsert",
				Reason:  reason,
			})
		}
	}
	result.ChunksFailed = len(result.Failures)

	// The document row is what makes Exists short-circuit future runs. Chunk
	// failures are transient (encoder outage, store rejection), so a run that
	// lost chunks must stay re-runnable: identical bytes re-derive identical
	// chunk ids and the upsert overwrites. Skipped pages are corrupt in the
	// bytes themselves and no retry recovers them, so they do not block the row.
	if result.ChunksFailed == 0 {
		doc := model.Document{
			Fingerprint:  fingerprint,
			ByteLen:      int64(len(raw)),
			PageCount:    norm.PageCount,
			IngestedUnix: time.Now().Unix(),
			StorageKey:   storageKey,
		}
		if err := p.store.PutDocument(ctx, doc); err != nil {
			return model.IngestResult{}, err
		}
	}

	if result.ChunksFailed > 0 || result.PagesSkipped > 0 {
		result.Status = model.StatusPartial
	} else {
		result.Status = model.StatusIngested
	}
	logger.Info("document ingested",
		zap.String("status", result.Status),
		zap.Int("chunks", result.ChunksIngested),
		zap.Int("failed", result.ChunksFailed),
		zap.Int("pages_skipped", result.PagesSkipped))
	return result, nil
}

// Delete removes a document's records and metadata.
func (p *Pipeline) Delete(ctx context.Context, fingerprint string) error {
	return p.store.DeleteDocument(ctx, fingerprint)
}

// encodeAll embeds chunks with a bounded worker pool. A chunk whose
// embedding fails after retries is dropped with a recorded failure; the
// rest of the batch proceeds.
func (p *Pipeline) encodeAll(ctx context.Context, chunks []model.Chunk) ([]model.KnowledgeRecord, []model.ChunkFailure) {
	if len(chunks) == 0 {
		return nil, nil
	}

	type slot struct {
		record model.KnowledgeRecord
		fail   *model.ChunkFailure
	}
	slots := make([]slot, len(chunks))
	jobs := make(chan int)

	var wg sync.WaitGroup
	workers := min(p.concurrency, len(chunks))
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				record, fail := p.encodeOne(ctx, chunks[i])
				slots[i] = slot{record: record, fail: fail}
			}
		}()
	}

feed:
	for i := range chunks {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	records := make([]model.KnowledgeRecord, 0, len(chunks))
	var failures []model.ChunkFailure
	for _, s := range slots {
		if s.fail != nil {
			failures = append(failures, *s.fail)
			continue
		}
		if s.record.ChunkID != "" {
			records = append(records, s.record)
		}
	}
	return records, failures
}

func (p *Pipeline) encodeOne(ctx context.Context, c model.Chunk) (model.KnowledgeRecord, *model.ChunkFailure) {
	var vector []float32
	err := util.Do(ctx, p.retry, func(ctx context.Context) error {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		var encErr error
		vector, encErr = p.fuser.EncodeChunk(ctx, c)
		return encErr
	})
	if err != nil {
		p.logger.Warn("chunk embedding failed",
			zap.String("chunk_id", c.ID),
			zap.Error(err))
		return model.KnowledgeRecord{}, &model.ChunkFailure{ChunkID: c.ID, Stage: "encode", Reason: err.Error()}
	}

	return model.KnowledgeRecord{
		ChunkID:     c.ID,
		Fingerprint: c.Fingerprint,
		Modality:    c.Modality,
		Vector:      vector,
		Page:        c.Page,
		Region:      c.Region,
		TokensEst:   c.TokensEst,
		Preview:     c.Text,
	}, nil
}

// acquire serializes pipeline runs per fingerprint.
func (p *Pipeline) acquire(ctx context.Context, fingerprint string) (func(), error) {
	for {
		p.mu.Lock()
		ch, busy := p.inflight[fingerprint]
		if !busy {
			done := make(chan struct{})
			p.inflight[fingerprint] = done
			p.mu.Unlock()
			return func() {
				p.mu.Lock()
				delete(p.inflight, fingerprint)
				p.mu.Unlock()
				close(done)
			}, nil
		}
		p.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
