package metainfo

import (
	"bytes"
	"crypto/sha1"
	"crypto/sha256"
	"errors"

	"github.com/zeebo/bencode"
)

const (
	// DefaultBlockSize is the canonical block size a piece is split
	// into for wire-level requests.
	DefaultBlockSize = 16 * 1024
	// MinPieceLength is the smallest piece length this implementation
	// accepts; piece length must be a power of two at least this big.
	MinPieceLength = 16 * 1024
	// MaxPieceLength bounds a single piece so it always fits in one
	// disk-cache allocation.
	MaxPieceLength = 64 * 1024 * 1024
)

// File describes one file inside a (possibly multi-file) torrent.
type File struct {
	Path   []string
	Length int64
	// PadFile marks an alignment file whose bytes are ignored.
	PadFile bool
	// Sha256 is the optional per-file hash carried by v2 torrents.
	Sha256 []byte
}

type rawFile struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
	Attr   string   `bencode:"attr"`
	Sha256 string   `bencode:"sha256"`
}

type rawInfo struct {
	Name        string    `bencode:"name"`
	PieceLength int64     `bencode:"piece length"`
	Pieces      string    `bencode:"pieces"`
	Private     int       `bencode:"private"`
	Length      int64     `bencode:"length"`
	Files       []rawFile `bencode:"files"`
	MetaVersion int       `bencode:"meta version"`
}

// Info is the parsed `info` dictionary: the immutable, per-torrent
// data that, once known, is hashed to produce the info-hash and never
// changes for the life of the torrent (spec.md §3 Invariants).
type Info struct {
	Name        string
	PieceLength uint32
	NumPieces   uint32
	TotalLength int64
	Private     int
	Files       []File
	Hash        [20]byte // v1 info-hash (SHA-1 over the bencoded info dict)
	HashV2      [32]byte // v2 info-hash (SHA-256), zero if torrent is v1-only
	HasV2       bool
	Bytes       []byte // raw bencoded info dict, used for ut_metadata and resume

	pieceHashes []byte // concatenated 20-byte SHA-1 piece hashes
}

// NewInfo parses and validates a raw bencoded info dictionary.
func NewInfo(b []byte) (*Info, error) {
	var ri rawInfo
	if err := bencode.DecodeBytes(b, &ri); err != nil {
		return nil, err
	}
	if ri.PieceLength <= 0 || ri.PieceLength&(ri.PieceLength-1) != 0 {
		return nil, errors.New("metainfo: piece length must be a power of two")
	}
	if ri.PieceLength < MinPieceLength || ri.PieceLength > MaxPieceLength {
		return nil, errors.New("metainfo: piece length out of bounds")
	}
	if len(ri.Pieces)%20 != 0 {
		return nil, errors.New("metainfo: invalid pieces length")
	}

	info := &Info{
		Name:        ri.Name,
		PieceLength: uint32(ri.PieceLength),
		Private:     ri.Private,
		Bytes:       append([]byte(nil), b...),
		pieceHashes: []byte(ri.Pieces),
		HasV2:       ri.MetaVersion == 2,
	}
	info.NumPieces = uint32(len(ri.Pieces) / 20)

	if len(ri.Files) == 0 {
		if ri.Length <= 0 {
			return nil, errors.New("metainfo: torrent has no files")
		}
		info.Files = []File{{Path: []string{ri.Name}, Length: ri.Length}}
		info.TotalLength = ri.Length
	} else {
		for _, rf := range ri.Files {
			if len(rf.Path) == 0 {
				return nil, errors.New("metainfo: file with empty path")
			}
			f := File{Path: rf.Path, Length: rf.Length, PadFile: rf.Attr != "" && bytes.ContainsRune([]byte(rf.Attr), 'p')}
			if rf.Sha256 != "" {
				f.Sha256 = []byte(rf.Sha256)
			}
			info.Files = append(info.Files, f)
			info.TotalLength += rf.Length
		}
	}

	pieceCount := int64(info.NumPieces)
	pieceLen := int64(info.PieceLength)
	if pieceCount*pieceLen < info.TotalLength {
		return nil, errors.New("metainfo: piece count too small for total size")
	}
	if pieceCount > 0 && (pieceCount-1)*pieceLen >= info.TotalLength {
		return nil, errors.New("metainfo: piece count too large for total size")
	}

	info.Hash = sha1.Sum(b)
	if info.HasV2 {
		info.HashV2 = sha256.Sum256(b)
	}
	return info, nil
}

// PieceHash returns the expected SHA-1 hash of piece i.
func (i *Info) PieceHash(index uint32) []byte {
	return i.pieceHashes[index*20 : index*20+20]
}

// PieceLengthFor returns the length of piece index, accounting for a
// shorter final piece.
func (i *Info) PieceLengthFor(index uint32) uint32 {
	if index == i.NumPieces-1 {
		rem := i.TotalLength - int64(index)*int64(i.PieceLength)
		return uint32(rem)
	}
	return i.PieceLength
}
