package model

// Modality tags the data type of a chunk or knowledge record.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
)

// Region kinds.
const (
	RegionChars = "chars"
	RegionImage = "image"
)

// Region locates extracted content within a page so that citations can point
// back at it. Text regions use rune offsets into the page text ("chars");
// image regions use the per-page image ordinal ("image") plus pixel
// dimensions.
type Region struct {
	Kind   string `json:"kind"`             // "chars" or "image"
	Start  int    `json:"start"`            // rune offset, or image ordinal
	End    int    `json:"end"`              // rune end offset (exclusive), or ordinal+1
	Width  int    `json:"width,omitempty"`  // pixels, image regions only
	Height int    `json:"height,omitempty"` // pixels, image regions only
}

// Overlaps reports whether two regions on the same page cover shared ground.
// Regions of different kinds never overlap.
func (r Region) Overlaps(other Region) bool {
	if r.Kind != other.Kind {
		return false
	}
	return r.Start < other.End && other.Start < r.End
}

// Document is an ingested source identified by the fingerprint of its raw
// bytes. Immutable once ingested; re-uploading identical bytes is a no-op.
type Document struct {
	Fingerprint  string
	ByteLen      int64
	PageCount    int
	IngestedUnix int64
	StorageKey   string // opaque handle into the object store
}

// Block is a normalized unit extracted from a document: either a text run or
// an embedded image, with page/position provenance.
type Block struct {
	Page     int // 1-based
	Region   Region
	Modality Modality
	Text     string // text blocks
	Image    []byte // image blocks, raw encoded bytes
	MIME     string // image blocks, e.g. image/jpeg
}

// Chunk is a retrievable unit derived from one or more blocks. The ID is a
// deterministic function of (document fingerprint, modality, index, payload
// digest), so re-chunking identical input yields identical IDs.
type Chunk struct {
	ID          string
	Fingerprint string
	Modality    Modality
	Text        string
	Image       []byte
	Page        int
	Region      Region
	TokensEst   int
}

// KnowledgeRecord is the persisted unit: chunk ID, its embedding, and the
// provenance metadata needed for citations and prompt assembly. Never
// mutated; re-upserting the same chunk ID replaces it wholesale.
type KnowledgeRecord struct {
	ChunkID     string
	Fingerprint string
	Modality    Modality
	Vector      []float32
	Page        int
	Region      Region
	TokensEst   int
	Preview     string // text payload for prompt building; empty for images
}

// RetrievedNeighbor pairs a knowledge record with its similarity score for
// one query. Ephemeral.
type RetrievedNeighbor struct {
	Record KnowledgeRecord
	Score  float64
}

// RecordStatus reports the per-record outcome of an upsert batch.
type RecordStatus struct {
	ChunkID string
	Err     error
}

// UpsertResult summarizes a batch upsert. Partial failure surfaces here
// rather than aborting the whole batch.
type UpsertResult struct {
	Upserted int
	Failed   []RecordStatus
}

// Ingestion statuses reported by IngestResult.
const (
	StatusIngested       = "ingested"
	StatusAlreadyPresent = "already_present"
	StatusPartial        = "partial"
)

// ChunkFailure records one chunk that could not be ingested and the stage
// that rejected it.
type ChunkFailure struct {
	ChunkID string `json:"chunk_id"`
	Stage   string `json:"stage"` // "encode" or "upsert"
	Reason  string `json:"reason"`
}

// IngestResult is the outcome of one ingestion request.
type IngestResult struct {
	Fingerprint    string         `json:"fingerprint"`
	Status         string         `json:"status"` // ingested | already_present | partial
	ChunksIngested int            `json:"chunks_ingested"`
	ChunksFailed   int            `json:"chunks_failed"`
	PagesSkipped   int            `json:"pages_skipped"`
	Failures       []ChunkFailure `json:"failures,omitempty"`
}

// Source cites the provenance of one context item used by an answer.
type Source struct {
	Fingerprint string  `json:"fingerprint"`
	Page        int     `json:"page"`
	Region      Region  `json:"region"`
	Score       float64 `json:"score"`
}

// Answer is the result of one query: generated text, ordered citations, and
// a confidence score derived deterministically from retrieval similarity.
type Answer struct {
	RequestID  string   `json:"request_id"`
	Question   string   `json:"question"`
	Text       string   `json:"text"`
	Sources    []Source `json:"sources,omitempty"`
	Confidence float64  `json:"confidence"`
	Grounded   bool     `json:"grounded"` // false when no neighbor cleared the threshold
}

// CorpusStats reports persisted corpus counts.
type CorpusStats struct {
	Documents    int64 `json:"documents"`
	TextRecords  int64 `json:"text_records"`
	ImageRecords int64 `json:"image_records"`
}
