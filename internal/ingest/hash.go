package ingest

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint is the identity of a document: the hex sha256 of its raw
// bytes. Identical bytes always map to the same fingerprint, which is what
// makes repeated ingestion a no-op.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
