// Package allocator pre-touches a torrent's backing files on disk
// before downloading starts, so later random-offset writes never hit
// a sparse-file growth surprise mid-transfer.
package allocator

import (
	"github.com/dragwire/torrentcore/internal/storage"
)

// Progress reports how many bytes have been allocated so far.
type Progress struct {
	AllocatedSize int64
}

// Allocator runs Run in its own goroutine and reports progress and a
// final result on the channels given to New.
type Allocator struct {
	storage     storage.Storage
	files       []storage.File
	progressC   chan Progress
	resultC     chan *Allocator
	Error       error
	AllocatedSize int64
}

// New returns an Allocator for files backed by sto. progressC and
// resultC must be read by the caller while Run executes.
func New(sto storage.Storage, files []storage.File, progressC chan Progress, resultC chan *Allocator) *Allocator {
	return &Allocator{storage: sto, files: files, progressC: progressC, resultC: resultC}
}

// Run touches every file's last byte so the filesystem allocates the
// full extent up front, skipping priority-0 files per spec.md §8.6.
func (a *Allocator) Run() {
	var allocated int64
	var pieceOffset int64
	zero := make([]byte, 1)
	for _, f := range a.files {
		if f.Priority == 0 || f.Length == 0 {
			pieceOffset += f.Length
			continue
		}
		if _, err := a.storage.Writev([][]byte{zero}, 0, pieceOffset+f.Length-1); err != nil {
			a.Error = err
			select {
			case a.resultC <- a:
			default:
			}
			return
		}
		allocated += f.Length
		a.AllocatedSize = allocated
		pieceOffset += f.Length
		select {
		case a.progressC <- Progress{AllocatedSize: allocated}:
		default:
		}
	}
	a.resultC <- a
}
