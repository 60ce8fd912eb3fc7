package index

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"strconv"

	"github.com/geodex-cloud/geodex/internal/domain"
)

// FormatVersion is baked into every fingerprint and manifest. Bumping it
// invalidates all persisted artifacts at once.
const FormatVersion = 1

// Fingerprint computes the deterministic identity of one (catalog, weights,
// model) combination: sha256 over the format version, the embedding model
// spec, the normalized field weights, the ordered dataset ids, and the field
// texts actually embedded. Any change to any input yields a new fingerprint,
// so a stale artifact can never validate.
//
// Weights enter in normalized form: scaled weight sets rank identically and
// therefore share one artifact.
func Fingerprint(records []domain.Record, weights domain.Weights, spec domain.ModelSpec) string {
	h := sha256.New()

	writeString(h, "geodex-index")
	writeUint32(h, FormatVersion)
	writeString(h, spec.ModelID)
	writeString(h, string(spec.Tier))
	writeUint32(h, uint32(spec.Dimensions))

	norm := weights.Normalized()
	active := norm.Active()
	writeUint32(h, uint32(len(active)))
	for _, f := range active {
		writeString(h, string(f))
		writeString(h, strconv.FormatFloat(norm.Get(f), 'g', -1, 64))
	}

	writeUint32(h, uint32(len(records)))
	for _, r := range records {
		writeString(h, r.ID())
	}
	for _, f := range active {
		writeString(h, string(f))
		for _, r := range records {
			writeString(h, r.FieldText(f))
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

// writeString writes a length-prefixed string so adjacent values can never
// alias under concatenation.
func writeString(h hash.Hash, s string) {
	writeUint32(h, uint32(len(s)))
	_, _ = h.Write([]byte(s))
}

func writeUint32(h hash.Hash, v uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	_, _ = h.Write(buf[:])
}
