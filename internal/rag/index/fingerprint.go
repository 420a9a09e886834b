package index

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// FingerprintParams are the build inputs besides the source bytes that
// change the contents of an index.
type FingerprintParams struct {
	ChunkStrategy     string
	ChunkSize         int
	ChunkOverlap      int
	EmbeddingProvider string
	EmbeddingModel    string
}

// Fingerprint returns the hex SHA-256 of the source document and the
// parameters used to chunk and embed it. An index whose stored fingerprint
// differs from the recomputed one is stale.
func Fingerprint(source []byte, p FingerprintParams) string {
	h := sha256.New()
	h.Write(source)
	for _, field := range []string{
		p.ChunkStrategy,
		strconv.Itoa(p.ChunkSize),
		strconv.Itoa(p.ChunkOverlap),
		p.EmbeddingProvider,
		p.EmbeddingModel,
	} {
		h.Write([]byte{0})
		h.Write([]byte(field))
	}
	return hex.EncodeToString(h.Sum(nil))
}
