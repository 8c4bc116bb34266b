// Package verifier hash-checks a torrent's existing on-disk data
// against the expected piece hashes, producing the initial bitfield
// for a torrent that is resuming rather than starting fresh
// (spec.md's checking_files state).
package verifier

import (
	"crypto/sha1"

	"github.com/dragwire/torrentcore/internal/bitfield"
	"github.com/dragwire/torrentcore/internal/metainfo"
	"github.com/dragwire/torrentcore/internal/storage"
)

// Progress reports how many pieces have been checked so far.
type Progress struct {
	Checked uint32
}

// Verifier runs Run in its own goroutine.
type Verifier struct {
	storage   storage.Storage
	info      *metainfo.Info
	progressC chan Progress
	resultC   chan *Verifier

	Bitfield *bitfield.Bitfield
	Error    error
}

// New returns a Verifier for info backed by sto.
func New(sto storage.Storage, info *metainfo.Info, progressC chan Progress, resultC chan *Verifier) *Verifier {
	return &Verifier{storage: sto, info: info, progressC: progressC, resultC: resultC}
}

// Run hashes every piece of the torrent's backing storage and sets
// the corresponding bit in Bitfield when it matches.
func (v *Verifier) Run() {
	bf := bitfield.New(v.info.NumPieces)
	buf := make([]byte, metainfo.DefaultBlockSize)
	for index := uint32(0); index < v.info.NumPieces; index++ {
		length := v.info.PieceLengthFor(index)
		data := make([]byte, 0, length)
		var offset int64
		for offset < int64(length) {
			n := len(buf)
			if int64(n) > int64(length)-offset {
				n = int(int64(length) - offset)
			}
			read, err := v.storage.Readv([][]byte{buf[:n]}, index, offset)
			if err != nil {
				v.Error = err
				v.resultC <- v
				return
			}
			data = append(data, buf[:read]...)
			offset += int64(read)
			if read == 0 {
				break
			}
		}
		sum := sha1.Sum(data)
		want := v.info.PieceHash(index)
		if len(want) == len(sum) && string(want) == string(sum[:]) {
			bf.Set(index)
		}
		select {
		case v.progressC <- Progress{Checked: index + 1}:
		default:
		}
	}
	v.Bitfield = bf
	v.resultC <- v
}
