// Package piece describes the wire-level view of a torrent piece: its
// block layout and which blocks are done, used by piecedownloader and
// piecepicker. The disk-side view (dirty/clean/in-flight block state,
// hashing cursor, flush cursor) lives in internal/diskcache; this
// package only knows about block boundaries and requests in flight.
package piece

import "github.com/dragwire/torrentcore/internal/metainfo"

// Block is one 16 KiB (or shorter, for the last block of the last
// piece) request unit within a piece.
type Block struct {
	Index  uint32 // block index within the piece
	Begin  uint32 // byte offset within the piece
	Length uint32
}

// Piece is the per-piece bookkeeping the downloader and picker share.
type Piece struct {
	Index  uint32
	Length uint32
	Blocks []Block

	// Writing is true while the assembled piece is queued for disk
	// write and hashing; no second download of the same piece may be
	// started while true, except under end-game duplication.
	Writing bool
	// Done is true once the piece has been verified and written.
	Done bool
}

// NewPieces builds the Piece slice for a torrent's info dictionary,
// splitting every piece into DefaultBlockSize blocks (the last block
// of the last piece may be shorter per spec.md §3).
func NewPieces(info *metainfo.Info) []Piece {
	pieces := make([]Piece, info.NumPieces)
	for i := range pieces {
		length := info.PieceLengthFor(uint32(i))
		pieces[i] = Piece{
			Index:  uint32(i),
			Length: length,
			Blocks: newBlocks(length),
		}
	}
	return pieces
}

func newBlocks(pieceLength uint32) []Block {
	const blockSize = metainfo.DefaultBlockSize
	n := pieceLength / blockSize
	mod := pieceLength % blockSize
	if mod != 0 {
		n++
	}
	blocks := make([]Block, n)
	for i := range blocks {
		blocks[i] = Block{
			Index:  uint32(i),
			Begin:  uint32(i) * blockSize,
			Length: blockSize,
		}
	}
	if mod != 0 {
		blocks[len(blocks)-1].Length = mod
	}
	return blocks
}

// GetBlock returns the block containing byte offset `begin`, or nil.
func (p *Piece) GetBlock(begin uint32) *Block {
	for i := range p.Blocks {
		if p.Blocks[i].Begin == begin {
			return &p.Blocks[i]
		}
	}
	return nil
}
