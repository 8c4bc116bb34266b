// Package storage defines the contract the disk cache uses to read
// and write torrent data to durable media (spec.md §6 "Storage
// contract (external)"), and a file-backed implementation of it.
package storage

// MovePolicy controls what async_move_storage does when the
// destination already contains files.
type MovePolicy int

const (
	// MoveAlwaysReplace overwrites existing files at the destination.
	MoveAlwaysReplace MovePolicy = iota
	// MoveFailIfExist aborts the move if the destination path already
	// exists; individual destination files are not checked.
	MoveFailIfExist
	// MoveDontReplace keeps the existing destination file and drops
	// the incoming one.
	MoveDontReplace
)

// MoveStatus reports the outcome of a move_storage call.
type MoveStatus int

const (
	MoveStatusSuccess MoveStatus = iota
	MoveStatusFailed
	MoveStatusNoBeginToMove
)

// DeleteOptions controls delete_files behavior.
type DeleteOptions struct {
	// DeletePartfileOnly leaves every backing file in place. FileStorage
	// keeps no separate part file, so with this set it removes nothing.
	DeletePartfileOnly bool
}

// File describes one on-disk file backing a torrent, mirroring
// metainfo.File but carrying the runtime priority (spec.md §4.2).
type File struct {
	Path     []string
	Length   int64
	Priority int // 0..7, 0 = do not download
}

// Storage is the contract the disk cache (component D) calls into.
// Methods are called from disk cache workers, the verifier and the
// allocator, and also directly from the torrent's run goroutine (for
// example HasAnyFile, and cache reads and flushes it waits on).
// Implementations may block.
type Storage interface {
	// Readv reads len(buffers) worth of bytes starting at the given
	// piece/offset, scattering across buffers.
	Readv(buffers [][]byte, piece uint32, offset int64) (int, error)
	// Writev writes len(buffers) worth of bytes starting at the given
	// piece/offset, gathering from buffers.
	Writev(buffers [][]byte, piece uint32, offset int64) (int, error)
	// MoveStorage relocates all files to newPath.
	MoveStorage(newPath string, policy MovePolicy) (MoveStatus, string, error)
	// HasAnyFile reports whether any backing file already exists, used
	// to decide whether a fresh torrent needs `checking_files`.
	HasAnyFile() (bool, error)
	// RenameFile renames the file at index to newName.
	RenameFile(index int, newName string) error
	// ReleaseFiles closes any pooled file handles.
	ReleaseFiles() error
	// DeleteFiles removes backing files.
	DeleteFiles(opts DeleteOptions) error
	// SetFilePriority updates per-file download priority. A file at
	// priority 0 must receive no further writes (spec.md §8.6).
	SetFilePriority(priorities []int) error
	// Dest returns the storage's root path, used for resume data.
	Dest() string
}

// pieceOffset returns the absolute byte offset of (piece, offset)
// within the logical concatenation of all files, shared by Storage
// implementations that lay files out contiguously.
func pieceOffset(pieceLength uint32, piece uint32, offset int64) int64 {
	return int64(piece)*int64(pieceLength) + offset
}
