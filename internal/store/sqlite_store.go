// Package store implements the knowledge store adapter over SQLite plus an
// in-process vector index. Records and document fingerprints persist in
// SQLite; vectors are mirrored into the index, which is rebuilt from the
// records table on open. The adapter satisfies model.KnowledgeStore, so any
// k-NN-capable backend could replace it without touching the pipelines.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"docrag/internal/index"
	"docrag/internal/model"
)

type SQLiteStore struct {
	path   string
	logger *zap.Logger

	mu  sync.Mutex
	db  *sql.DB
	idx *index.MemoryIndex
}

func NewSQLiteStore(path string, logger *zap.Logger) *SQLiteStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SQLiteStore{
		path:   path,
		logger: logger,
		idx:    index.NewMemoryIndex(logger),
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS documents (
  fingerprint TEXT PRIMARY KEY,
  byte_len INTEGER NOT NULL DEFAULT 0,
  page_count INTEGER NOT NULL DEFAULT 0,
  ingested_unix INTEGER NOT NULL DEFAULT 0,
  storage_key TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS records (
  chunk_id TEXT PRIMARY KEY,
  fingerprint TEXT NOT NULL,
  modality TEXT NOT NULL,
  page INTEGER NOT NULL DEFAULT 0,
  region_kind TEXT NOT NULL DEFAULT '',
  region_start INTEGER NOT NULL DEFAULT 0,
  region_end INTEGER NOT NULL DEFAULT 0,
  region_width INTEGER NOT NULL DEFAULT 0,
  region_height INTEGER NOT NULL DEFAULT 0,
  tokens_est INTEGER NOT NULL DEFAULT 0,
  preview TEXT NOT NULL DEFAULT '',
  vector BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_fingerprint ON records(fingerprint);
CREATE INDEX IF NOT EXISTS idx_records_modality ON records(modality);
`

// Init opens the database, applies the schema, and rebuilds the vector
// index from persisted records.
func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return storeErr("open database", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		_ = db.Close()
		return storeErr("set journal mode", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return storeErr("apply schema", err)
	}
	s.db = db

	loaded, err := s.rebuildIndex(ctx)
	if err != nil {
		_ = db.Close()
		s.db = nil
		return err
	}
	s.logger.Info("knowledge store opened",
		zap.String("path", s.path),
		zap.Int("records_loaded", loaded))
	return nil
}

func (s *SQLiteStore) rebuildIndex(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id, modality, vector FROM records`)
	if err != nil {
		return 0, storeErr("load records", err)
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var chunkID, modality string
		var blob []byte
		if err := rows.Scan(&chunkID, &modality, &blob); err != nil {
			return loaded, storeErr("scan record", err)
		}
		vector, err := decodeVector(blob)
		if err != nil {
			s.logger.Warn("skipping record with corrupt vector blob",
				zap.String("chunk_id", chunkID), zap.Error(err))
			continue
		}
		if err := s.idx.Add(chunkID, model.Modality(modality), vector); err != nil {
			return loaded, storeErr("index record", err)
		}
		loaded++
	}
	if err := rows.Err(); err != nil {
		return loaded, storeErr("iterate records", err)
	}
	return loaded, nil
}

// Upsert persists records idempotently by chunk ID. Per-record failures are
// reported in the result; only a storewide failure returns an error.
func (s *SQLiteStore) Upsert(ctx context.Context, records []model.KnowledgeRecord) (model.UpsertResult, error) {
	db, err := s.handle()
	if err != nil {
		return model.UpsertResult{}, err
	}

	result := model.UpsertResult{}
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if rec.ChunkID == "" || len(rec.Vector) == 0 {
			result.Failed = append(result.Failed, model.RecordStatus{
				ChunkID: rec.ChunkID,
				Err:     fmt.Errorf("record missing chunk id or vector"),
			})
			continue
		}

		_, execErr := db.ExecContext(ctx, `
INSERT OR REPLACE INTO records
  (chunk_id, fingerprint, modality, page, region_kind, region_start, region_end,
   region_width, region_height, tokens_est, preview, vector)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.ChunkID, rec.Fingerprint, string(rec.Modality), rec.Page,
			rec.Region.Kind, rec.Region.Start, rec.Region.End,
			rec.Region.Width, rec.Region.Height,
			rec.TokensEst, rec.Preview, encodeVector(rec.Vector))
		if execErr != nil {
			result.Failed = append(result.Failed, model.RecordStatus{ChunkID: rec.ChunkID, Err: execErr})
			continue
		}
		if idxErr := s.idx.Add(rec.ChunkID, rec.Modality, rec.Vector); idxErr != nil {
			result.Failed = append(result.Failed, model.RecordStatus{ChunkID: rec.ChunkID, Err: idxErr})
			continue
		}
		result.Upserted++
	}
	return result, nil
}

// Search returns up to k nearest neighbors, hydrated with their provenance
// metadata, ordered by descending similarity with ties broken by ascending
// chunk ID.
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, k int, modality model.Modality) ([]model.RetrievedNeighbor, error) {
	db, err := s.handle()
	if err != nil {
		return nil, err
	}

	ids, scores, err := s.idx.Search(vector, k, modality)
	if err != nil {
		return nil, storeErr("search index", err)
	}

	neighbors := make([]model.RetrievedNeighbor, 0, len(ids))
	for i, id := range ids {
		rec, err := s.getRecord(ctx, db, id)
		if err != nil {
			// index is a mirror of the table; a missing row means the record
			// was deleted between the two reads
			s.logger.Warn("index entry without record row", zap.String("chunk_id", id), zap.Error(err))
			continue
		}
		neighbors = append(neighbors, model.RetrievedNeighbor{Record: rec, Score: scores[i]})
	}
	return neighbors, nil
}

func (s *SQLiteStore) getRecord(ctx context.Context, db *sql.DB, chunkID string) (model.KnowledgeRecord, error) {
	row := db.QueryRowContext(ctx, `
SELECT chunk_id, fingerprint, modality, page, region_kind, region_start, region_end,
       region_width, region_height, tokens_est, preview, vector
FROM records WHERE chunk_id = ?`, chunkID)

	var rec model.KnowledgeRecord
	var modality string
	var blob []byte
	if err := row.Scan(&rec.ChunkID, &rec.Fingerprint, &modality, &rec.Page,
		&rec.Region.Kind, &rec.Region.Start, &rec.Region.End,
		&rec.Region.Width, &rec.Region.Height,
		&rec.TokensEst, &rec.Preview, &blob); err != nil {
		return model.KnowledgeRecord{}, err
	}
	rec.Modality = model.Modality(modality)
	vector, err := decodeVector(blob)
	if err != nil {
		return model.KnowledgeRecord{}, err
	}
	rec.Vector = vector
	return rec, nil
}

// Exists reports whether a document fingerprint has been ingested.
func (s *SQLiteStore) Exists(ctx context.Context, fingerprint string) (bool, error) {
	db, err := s.handle()
	if err != nil {
		return false, err
	}
	var one int
	err = db.QueryRowContext(ctx, `SELECT 1 FROM documents WHERE fingerprint = ?`, fingerprint).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, storeErr("query document", err)
	}
	return true, nil
}

func (s *SQLiteStore) PutDocument(ctx context.Context, doc model.Document) error {
	db, err := s.handle()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
INSERT OR REPLACE INTO documents (fingerprint, byte_len, page_count, ingested_unix, storage_key)
VALUES (?, ?, ?, ?, ?)`,
		doc.Fingerprint, doc.ByteLen, doc.PageCount, doc.IngestedUnix, doc.StorageKey)
	if err != nil {
		return storeErr("upsert document", err)
	}
	return nil
}

// DeleteDocument removes a document and all of its knowledge records.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, fingerprint string) error {
	db, err := s.handle()
	if err != nil {
		return err
	}

	rows, err := db.QueryContext(ctx, `SELECT chunk_id FROM records WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return storeErr("list document records", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return storeErr("scan record id", err)
		}
		ids = append(ids, id)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return storeErr("iterate record ids", err)
	}

	if _, err := db.ExecContext(ctx, `DELETE FROM records WHERE fingerprint = ?`, fingerprint); err != nil {
		return storeErr("delete records", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM documents WHERE fingerprint = ?`, fingerprint); err != nil {
		return storeErr("delete document", err)
	}
	for _, id := range ids {
		s.idx.Remove(id)
	}
	return nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (model.CorpusStats, error) {
	db, err := s.handle()
	if err != nil {
		return model.CorpusStats{}, err
	}

	var stats model.CorpusStats
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&stats.Documents); err != nil {
		return stats, storeErr("count documents", err)
	}
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE modality = ?`, string(model.ModalityText)).Scan(&stats.TextRecords); err != nil {
		return stats, storeErr("count text records", err)
	}
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE modality = ?`, string(model.ModalityImage)).Scan(&stats.ImageRecords); err != nil {
		return stats, storeErr("count image records", err)
	}
	return stats, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) handle() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, storeErr("store not initialized", nil)
	}
	return s.db, nil
}

// storeErr wraps backend failures so callers can match ErrStoreUnavailable
// and the retry policy can see the store stage.
func storeErr(msg string, cause error) error {
	return &model.BackendError{
		Stage:     "store",
		Message:   msg,
		Retryable: true,
		Cause:     wrapStoreCause(cause),
	}
}

func wrapStoreCause(cause error) error {
	if cause == nil {
		return model.ErrStoreUnavailable
	}
	return fmt.Errorf("%w: %w", model.ErrStoreUnavailable, cause)
}

// Vectors persist as little-endian float32 blobs.

func encodeVector(vector []float32) []byte {
	buf := make([]byte, 4*len(vector))
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d not a multiple of 4", len(blob))
	}
	vector := make([]float32, len(blob)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector, nil
}
