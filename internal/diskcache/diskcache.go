// Package diskcache is the write-back/read-through cache sitting
// between in-flight pieces and durable storage: blocks accumulate in
// memory until a piece is complete, get hashed, then flushed to disk
// in the background by a worker pool, with LRU eviction under memory
// pressure.
package diskcache

import (
	"container/list"
	"crypto/sha1"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/dragwire/torrentcore/internal/metainfo"
	"github.com/dragwire/torrentcore/internal/storage"
)

// blockState is the lifecycle of one block slot within a CachedPiece.
type blockState int

const (
	blockEmpty blockState = iota
	blockDirty
	blockInFlightWrite
	blockClean
)

// CachedPiece is the disk cache's view of one piece: its block
// buffer, per-block state, and the hashing/flush cursors that track
// how much of the piece's prefix is verified and durable.
type CachedPiece struct {
	Index  uint32
	Length uint32
	Blocks [][]byte
	states []blockState

	// hasherCursor is how many contiguous bytes from the start of the
	// piece have been folded into the running hash. Kept for future
	// incremental hashing; HashPiece currently rehashes the full
	// assembled buffer each call.
	hasherCursor uint32

	// flushCursor is how many contiguous bytes from the start of the
	// piece have been written to durable storage.
	flushCursor uint32

	refCount int

	hashingInProgress bool
	flushInProgress   bool
	hashReturned      bool
	forceFlush        bool

	lruElem *list.Element
}

// Cache manages CachedPiece instances for one torrent, backed by a
// Storage implementation and a bounded worker pool.
type Cache struct {
	info    *metainfo.Info
	backing storage.Storage

	mu     sync.Mutex
	pieces map[uint32]*CachedPiece
	lru    *list.List

	maxBytes   int64
	usedBytes  int64

	group   *errgroup.Group
	workers int
}

// New returns a Cache bounded by maxBytes of in-memory block data,
// backed by sto, using workers goroutines for async disk operations
// (aio_threads).
func New(info *metainfo.Info, sto storage.Storage, maxBytes int64, workers int) *Cache {
	if workers <= 0 {
		workers = 4
	}
	return &Cache{
		info:     info,
		backing:  sto,
		pieces:   make(map[uint32]*CachedPiece),
		lru:      list.New(),
		maxBytes: maxBytes,
		workers:  workers,
	}
}

func (c *Cache) getOrCreate(index uint32) *CachedPiece {
	if cp, ok := c.pieces[index]; ok {
		return cp
	}
	length := c.info.PieceLengthFor(index)
	numBlocks := (length + metainfo.DefaultBlockSize - 1) / metainfo.DefaultBlockSize
	cp := &CachedPiece{
		Index:  index,
		Length: length,
		Blocks: make([][]byte, numBlocks),
		states: make([]blockState, numBlocks),
	}
	c.pieces[index] = cp
	cp.lruElem = c.lru.PushFront(index)
	return cp
}

// Write buffers one block of piece `index` at `begin`, marking it
// dirty. The caller retains ownership of data; the cache copies it.
func (c *Cache) Write(index, begin uint32, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := c.getOrCreate(index)
	blockIdx := begin / metainfo.DefaultBlockSize
	if int(blockIdx) >= len(cp.Blocks) {
		return
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	if cp.Blocks[blockIdx] == nil {
		c.usedBytes += int64(len(buf))
	} else {
		c.usedBytes += int64(len(buf) - len(cp.Blocks[blockIdx]))
	}
	cp.Blocks[blockIdx] = buf
	cp.states[blockIdx] = blockDirty
	c.lru.MoveToFront(cp.lruElem)
	c.evictIfNeeded()
}

// Read returns the bytes for [offset, offset+len(buf)) of piece
// index, reading from cached dirty/clean blocks first and falling
// back to backing storage for bytes already flushed and evicted.
func (c *Cache) Read(index uint32, offset int64, buf []byte) (int, error) {
	c.mu.Lock()
	cp, ok := c.pieces[index]
	if ok {
		c.lru.MoveToFront(cp.lruElem)
	}
	c.mu.Unlock()

	if ok {
		blockIdx := int(offset) / metainfo.DefaultBlockSize
		if blockIdx < len(cp.Blocks) && cp.Blocks[blockIdx] != nil {
			blockOffset := int(offset) % metainfo.DefaultBlockSize
			n := copy(buf, cp.Blocks[blockIdx][blockOffset:])
			return n, nil
		}
	}
	return c.backing.Readv([][]byte{buf}, index, offset)
}

// Complete reports whether every block of piece index has arrived.
func (c *Cache) Complete(index uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp, ok := c.pieces[index]
	if !ok {
		return false
	}
	for _, s := range cp.states {
		if s == blockEmpty {
			return false
		}
	}
	return true
}

// HashPiece computes the SHA-1 of the full piece and reports whether
// it matches the expected hash from the info dictionary. It also
// returns the assembled bytes, for smart-ban attribution of a failed
// piece.
//
// v2 torrents additionally need a per-block SHA-256 list for their
// Merkle piece layers; this cache doesn't track piece layers at all
// yet, so that path isn't implemented here.
func (c *Cache) HashPiece(index uint32) (ok bool, data []byte, err error) {
	c.mu.Lock()
	cp, exists := c.pieces[index]
	c.mu.Unlock()
	if !exists {
		return false, nil, nil
	}

	data = make([]byte, 0, cp.Length)
	for _, b := range cp.Blocks {
		data = append(data, b...)
	}
	sum := sha1.Sum(data)
	want := c.info.PieceHash(index)
	ok = len(want) == len(sum) && string(want) == string(sum[:])
	return ok, data, nil
}

// MarkClean transitions every block of piece index from dirty to
// clean after a successful flush to storage, and advances the flush
// cursor to the end of the piece.
func (c *Cache) MarkClean(index uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp, ok := c.pieces[index]
	if !ok {
		return
	}
	for i := range cp.states {
		cp.states[i] = blockClean
	}
	cp.flushCursor = cp.Length
}

// Flush writes every buffered block of piece index to backing storage,
// up to c.workers blocks at a time, so the order of the writes is not
// defined. It returns once every write completes (or one fails).
func (c *Cache) Flush(index uint32) error {
	c.mu.Lock()
	cp, ok := c.pieces[index]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	group := new(errgroup.Group)
	group.SetLimit(c.workers)
	for i, b := range cp.Blocks {
		i, b := i, b
		if b == nil {
			continue
		}
		group.Go(func() error {
			begin := int64(i * metainfo.DefaultBlockSize)
			_, err := c.backing.Writev([][]byte{b}, index, begin)
			return err
		})
	}
	if err := group.Wait(); err != nil {
		return err
	}
	c.MarkClean(index)
	return nil
}

// Evict drops piece index from memory without flushing; used once a
// piece has already been durably written.
func (c *Cache) Evict(index uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp, ok := c.pieces[index]
	if !ok {
		return
	}
	for _, b := range cp.Blocks {
		c.usedBytes -= int64(len(b))
	}
	c.lru.Remove(cp.lruElem)
	delete(c.pieces, index)
}

// evictIfNeeded drops clean, not-in-flight pieces from the back of the
// LRU list until usedBytes is within maxBytes. Pieces with dirty
// blocks are neither flushed nor evicted here, so usedBytes can stay
// above maxBytes when too few clean pieces are cached.
func (c *Cache) evictIfNeeded() {
	if c.maxBytes <= 0 || c.usedBytes <= c.maxBytes {
		return
	}
	for e := c.lru.Back(); e != nil && c.usedBytes > c.maxBytes; {
		prev := e.Prev()
		index := e.Value.(uint32)
		cp := c.pieces[index]
		if cp.refCount == 0 && allClean(cp.states) {
			for _, b := range cp.Blocks {
				c.usedBytes -= int64(len(b))
			}
			c.lru.Remove(e)
			delete(c.pieces, index)
		}
		e = prev
	}
}

func allClean(states []blockState) bool {
	for _, s := range states {
		if s != blockClean {
			return false
		}
	}
	return len(states) > 0
}
