package model

import "errors"

// Error taxonomy. Page- and chunk-local conditions never abort a whole
// batch; backend conditions abort the current operation and surface to the
// caller with the failing stage attached.
var (
	// ErrUnreadableDocument: the byte stream cannot be parsed at all. Fatal
	// to the whole ingestion.
	ErrUnreadableDocument = errors.New("unreadable document")

	// ErrCorruptPage: one page failed extraction. Recoverable; the page is
	// skipped and counted.
	ErrCorruptPage = errors.New("corrupt page")

	// ErrEncodingUnavailable: the encoder backend cannot be reached.
	// Recoverable per chunk; the chunk is skipped and counted.
	ErrEncodingUnavailable = errors.New("encoding unavailable")

	// ErrStoreUnavailable: vector store connectivity loss. Fatal to the
	// current operation, never swallowed.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrGenerationUnavailable: generative backend error. Fatal to the
	// current query; no fabricated answer.
	ErrGenerationUnavailable = errors.New("generation unavailable")
)

// BackendError carries the failing stage and retryability of an external
// call so pipeline-boundary retry policy can decide without string matching.
type BackendError struct {
	Stage     string // "normalize", "encode", "store", "generate"
	Message   string
	Retryable bool
	Cause     error
}

func (e *BackendError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message == "" && e.Cause != nil {
		return e.Stage + ": " + e.Cause.Error()
	}
	return e.Stage + ": " + e.Message
}

func (e *BackendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsRetryable reports whether err (or anything it wraps) is a transient
// backend condition worth retrying with backoff.
func IsRetryable(err error) bool {
	var be *BackendError
	if errors.As(err, &be) {
		return be.Retryable
	}
	return false
}
