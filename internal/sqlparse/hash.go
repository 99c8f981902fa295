package sqlparse

import (
	"encoding/binary"

	"github.com/OneOfOne/xxhash"
)

// QueryHash is the structural fingerprint of a query: a hash of the token
// kind stream that ignores string, number, and hex literal values, plus the
// token count to reduce collision false-positives. Two queries that differ
// only in literal values hash equal.
type QueryHash struct {
	Hash       uint64
	TokenCount int
}

// hashTokens computes the structural hash over a token stream.
func hashTokens(toks []Token) QueryHash {
	h := xxhash.New64()
	var kindBuf [4]byte
	for _, t := range toks {
		binary.LittleEndian.PutUint32(kindBuf[:], uint32(t.Kind))
		h.Write(kindBuf[:])
		if !literalValueKind(t.Kind) {
			h.WriteString(t.Text)
		}
	}
	return QueryHash{Hash: h.Sum64(), TokenCount: len(toks)}
}
