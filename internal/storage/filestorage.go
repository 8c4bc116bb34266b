package storage

import (
	"container/list"
	"os"
	"path/filepath"
	"sync"

	"github.com/dragwire/torrentcore/internal/metainfo"
)

// region is the byte span of one file within the logical
// concatenation of all files.
type region struct {
	path       string
	start, end int64 // [start, end)
}

// FileStorage lays a torrent's files out as regular files under a
// root directory, mirroring the torrent's own file tree. Open file
// handles are kept in an LRU pool bounded by poolSize (spec.md §5
// "File handles are pooled (file_pool_size); LRU-closed when the pool
// is full").
type FileStorage struct {
	root        string
	pieceLength uint32
	regions     []region
	priorities  []int

	mu       sync.Mutex
	poolSize int
	handles  map[string]*os.File
	lru      *list.List
	lruElems map[string]*list.Element
}

// New creates a FileStorage rooted at dest for the given info
// dictionary. Files are not created until first write.
func New(dest string, info *metainfo.Info, poolSize int) (*FileStorage, error) {
	if poolSize <= 0 {
		poolSize = 16
	}
	fs := &FileStorage{
		root:        dest,
		pieceLength: info.PieceLength,
		poolSize:    poolSize,
		handles:     make(map[string]*os.File),
		lru:         list.New(),
		lruElems:    make(map[string]*list.Element),
		priorities:  make([]int, len(info.Files)),
	}
	var offset int64
	for i := range info.Files {
		f := info.Files[i]
		fs.priorities[i] = 4 // default_priority
		fs.regions = append(fs.regions, region{
			path:  filepath.Join(append([]string{dest}, f.Path...)...),
			start: offset,
			end:   offset + f.Length,
		})
		offset += f.Length
	}
	return fs, nil
}

func (fs *FileStorage) Dest() string { return fs.root }

// overlap returns the regions intersecting [start, end).
func (fs *FileStorage) overlap(start, end int64) []region {
	var out []region
	for _, r := range fs.regions {
		if r.start < end && r.end > start {
			out = append(out, r)
		}
	}
	return out
}

func (fs *FileStorage) fileIndexForPriority(path string) int {
	for i, r := range fs.regions {
		if r.path == path {
			return i
		}
	}
	return -1
}

func (fs *FileStorage) open(path string, create bool) (*os.File, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if f, ok := fs.handles[path]; ok {
		fs.lru.MoveToFront(fs.lruElems[path])
		return f, nil
	}

	if create {
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			return nil, err
		}
	}
	flag := os.O_RDWR
	if create {
		flag |= os.O_CREATE
	}
	f, err := os.OpenFile(path, flag, 0640)
	if err != nil {
		return nil, err
	}

	if fs.lru.Len() >= fs.poolSize {
		back := fs.lru.Back()
		if back != nil {
			oldPath := back.Value.(string)
			if old, ok := fs.handles[oldPath]; ok {
				old.Close()
				delete(fs.handles, oldPath)
			}
			fs.lru.Remove(back)
			delete(fs.lruElems, oldPath)
		}
	}

	fs.handles[path] = f
	fs.lruElems[path] = fs.lru.PushFront(path)
	return f, nil
}

// Readv reads across one or more files that the [piece,offset) range
// spans.
func (fs *FileStorage) Readv(buffers [][]byte, piece uint32, offset int64) (int, error) {
	abs := pieceOffset(fs.pieceLength, piece, offset)
	var total int
	for _, buf := range buffers {
		n, err := fs.readAt(buf, abs)
		total += n
		abs += int64(len(buf))
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (fs *FileStorage) readAt(buf []byte, abs int64) (int, error) {
	var read int
	for _, r := range fs.overlap(abs, abs+int64(len(buf))) {
		lo := max64(abs, r.start)
		hi := min64(abs+int64(len(buf)), r.end)
		if hi <= lo {
			continue
		}
		f, err := fs.open(r.path, false)
		if os.IsNotExist(err) {
			// Unwritten region reads as zeros.
			continue
		}
		if err != nil {
			return read, err
		}
		n, err := f.ReadAt(buf[lo-abs:hi-abs], lo-r.start)
		read += n
		if err != nil {
			return read, err
		}
	}
	return read, nil
}

// Writev writes across one or more files that the [piece,offset) range
// spans, skipping any region whose file priority is 0 (spec.md §8.6:
// no bytes of a priority-0 file are ever written).
func (fs *FileStorage) Writev(buffers [][]byte, piece uint32, offset int64) (int, error) {
	abs := pieceOffset(fs.pieceLength, piece, offset)
	var total int
	for _, buf := range buffers {
		n, err := fs.writeAt(buf, abs)
		total += n
		abs += int64(len(buf))
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (fs *FileStorage) writeAt(buf []byte, abs int64) (int, error) {
	var written int
	for _, r := range fs.overlap(abs, abs+int64(len(buf))) {
		idx := fs.fileIndexForPriority(r.path)
		if idx >= 0 && fs.priorities[idx] == 0 {
			continue
		}
		lo := max64(abs, r.start)
		hi := min64(abs+int64(len(buf)), r.end)
		if hi <= lo {
			continue
		}
		f, err := fs.open(r.path, true)
		if err != nil {
			return written, err
		}
		n, err := f.WriteAt(buf[lo-abs:hi-abs], lo-r.start)
		written += n
		if err != nil {
			return written, err
		}
	}
	return written, nil
}

func (fs *FileStorage) MoveStorage(newPath string, policy MovePolicy) (MoveStatus, string, error) {
	fs.mu.Lock()
	for path, f := range fs.handles {
		f.Close()
		delete(fs.handles, path)
	}
	fs.lru.Init()
	fs.lruElems = make(map[string]*list.Element)
	fs.mu.Unlock()

	if _, err := os.Stat(newPath); err == nil && policy == MoveFailIfExist {
		return MoveStatusFailed, fs.root, nil
	}
	if err := os.MkdirAll(newPath, 0750); err != nil {
		return MoveStatusFailed, fs.root, err
	}
	oldRoot := fs.root
	for i := range fs.regions {
		rel, err := filepath.Rel(oldRoot, fs.regions[i].path)
		if err != nil {
			return MoveStatusFailed, oldRoot, err
		}
		newFilePath := filepath.Join(newPath, rel)
		if _, err := os.Stat(fs.regions[i].path); err == nil {
			if err := os.MkdirAll(filepath.Dir(newFilePath), 0750); err != nil {
				return MoveStatusFailed, oldRoot, err
			}
			if _, err := os.Stat(newFilePath); err == nil && policy == MoveDontReplace {
				continue
			}
			if err := os.Rename(fs.regions[i].path, newFilePath); err != nil {
				return MoveStatusFailed, oldRoot, err
			}
		}
		fs.regions[i].path = newFilePath
	}
	fs.root = newPath
	return MoveStatusSuccess, newPath, nil
}

func (fs *FileStorage) HasAnyFile() (bool, error) {
	for _, r := range fs.regions {
		if _, err := os.Stat(r.path); err == nil {
			return true, nil
		}
	}
	return false, nil
}

func (fs *FileStorage) RenameFile(index int, newName string) error {
	if index < 0 || index >= len(fs.regions) {
		return os.ErrInvalid
	}
	dir := filepath.Dir(fs.regions[index].path)
	newPath := filepath.Join(dir, newName)
	if _, err := os.Stat(fs.regions[index].path); err == nil {
		if err := os.Rename(fs.regions[index].path, newPath); err != nil {
			return err
		}
	}
	fs.mu.Lock()
	if f, ok := fs.handles[fs.regions[index].path]; ok {
		f.Close()
		delete(fs.handles, fs.regions[index].path)
		if el, ok := fs.lruElems[fs.regions[index].path]; ok {
			fs.lru.Remove(el)
			delete(fs.lruElems, fs.regions[index].path)
		}
	}
	fs.mu.Unlock()
	fs.regions[index].path = newPath
	return nil
}

func (fs *FileStorage) ReleaseFiles() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var firstErr error
	for path, f := range fs.handles {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(fs.handles, path)
	}
	fs.lru.Init()
	fs.lruElems = make(map[string]*list.Element)
	return firstErr
}

func (fs *FileStorage) DeleteFiles(opts DeleteOptions) error {
	if err := fs.ReleaseFiles(); err != nil {
		return err
	}
	if opts.DeletePartfileOnly {
		return nil
	}
	for _, r := range fs.regions {
		if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}

func (fs *FileStorage) SetFilePriority(priorities []int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	for i := range fs.priorities {
		if i < len(priorities) {
			fs.priorities[i] = priorities[i]
		} else {
			fs.priorities[i] = 4
		}
	}
	return nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
