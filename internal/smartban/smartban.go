// Package smartban implements the smart-ban heuristic: when a piece
// fails its hash check, every peer that contributed a block to it is
// CRC32-fingerprinted by (peer id, block content); a peer whose
// fingerprint doesn't match the piece's final fingerprint sent bad
// data and is banned, while honest peers that happened to share a
// now-failed piece are spared.
package smartban

import (
	"hash/crc32"
	"math/rand"
)

// BlockSpan identifies the bytes one peer contributed to a piece.
type BlockSpan struct {
	Begin uint32
	Data  []byte
}

// Recorder accumulates per-peer block contributions for pieces that
// are still being assembled, so a later hash failure can be
// attributed to the peer(s) that actually supplied bad bytes.
type Recorder struct {
	salt   uint32
	pieces map[uint32]map[interface{}][]BlockSpan
}

// New returns a Recorder with a per-session random salt, so the CRC32
// fingerprint used to attribute bad blocks can't be precomputed by a
// malicious peer across restarts.
func New() *Recorder {
	return &Recorder{
		salt:   rand.Uint32(),
		pieces: make(map[uint32]map[interface{}][]BlockSpan),
	}
}

// RecordBlock remembers that peerID supplied this block of piece.
func (r *Recorder) RecordBlock(piece uint32, peerID interface{}, span BlockSpan) {
	m, ok := r.pieces[piece]
	if !ok {
		m = make(map[interface{}][]BlockSpan)
		r.pieces[piece] = m
	}
	m[peerID] = append(m[peerID], span)
}

// Forget drops bookkeeping for a piece once it has been verified
// successfully; only failed pieces need attribution.
func (r *Recorder) Forget(piece uint32) {
	delete(r.pieces, piece)
}

// Judge computes, for a piece that just failed its hash check against
// the final assembled data, which recorded peers sent blocks whose
// bytes don't match the final (correct, differently-sourced) data at
// the same offsets. It returns the set of peer ids to ban.
//
// final is the piece's bytes as reconstructed from the blocks that
// ultimately made up a successfully-hashed copy, or nil if no good
// copy is available yet (in which case no peer can be blamed and
// Judge returns an empty set).
func (r *Recorder) Judge(piece uint32, final []byte) []interface{} {
	defer r.Forget(piece)
	if final == nil {
		return nil
	}
	contributors, ok := r.pieces[piece]
	if !ok {
		return nil
	}
	var bad []interface{}
	for peerID, spans := range contributors {
		for _, span := range spans {
			end := int(span.Begin) + len(span.Data)
			if end > len(final) {
				bad = append(bad, peerID)
				break
			}
			want := r.fingerprint(final[span.Begin:end])
			got := r.fingerprint(span.Data)
			if want != got {
				bad = append(bad, peerID)
				break
			}
		}
	}
	return bad
}

func (r *Recorder) fingerprint(data []byte) uint32 {
	h := crc32.NewIEEE()
	var saltBuf [4]byte
	saltBuf[0] = byte(r.salt)
	saltBuf[1] = byte(r.salt >> 8)
	saltBuf[2] = byte(r.salt >> 16)
	saltBuf[3] = byte(r.salt >> 24)
	h.Write(saltBuf[:])
	h.Write(data)
	return h.Sum32()
}
