package storage

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// PhysicalPageID identifies a single on-disk page by table, column, and
// position within that column's file.
type PhysicalPageID struct {
	TableID     int
	ColumnIndex int
	PageIndex   int
}

func (id PhysicalPageID) columnKey() columnKey {
	return columnKey{TableID: id.TableID, ColumnIndex: id.ColumnIndex}
}

type columnKey struct {
	TableID     int
	ColumnIndex int
}

// frame is one buffer-pool slot: a cached page plus its pin/dirty state.
type frame struct {
	id    PhysicalPageID
	page  *Page
	dirty bool
	pins  int
	valid bool
}

// BufferPool caches fixed-size pages in memory, backed by one file per
// (table, column). Eviction prefers an unpinned frame (tracked via an LRU
// hint list) and falls back to a random spin-wait when every frame is
// pinned, matching spec.md §4.2.
type BufferPool struct {
	mu      sync.RWMutex
	cfg     Config
	dir     string
	log     *zap.Logger
	frames  []*frame
	pageMap map[PhysicalPageID]int
	evict   *evictList
	files   map[columnKey]StorageFile
	nextIdx map[columnKey]int
	rng     *rand.Rand
}

// NewBufferPool creates a buffer pool with cfg.NumFrames frames. If dir is
// empty, column data lives purely in memory (MemFile), suitable for tests.
func NewBufferPool(cfg Config, dir string, log *zap.Logger) *BufferPool {
	if log == nil {
		log = zap.NewNop()
	}
	return &BufferPool{
		cfg:     cfg,
		dir:     dir,
		log:     log,
		frames:  make([]*frame, cfg.NumFrames),
		pageMap: make(map[PhysicalPageID]int),
		evict:   newEvictList(cfg.NumFrames),
		files:   make(map[columnKey]StorageFile),
		nextIdx: make(map[columnKey]int),
		rng:     rand.New(rand.NewSource(1)),
	}
}

func (bp *BufferPool) columnFile(key columnKey) (StorageFile, error) {
	if f, ok := bp.files[key]; ok {
		return f, nil
	}
	if bp.dir == "" {
		f := NewMemFile()
		bp.files[key] = f
		return f, nil
	}
	tableDir := filepath.Join(bp.dir, fmt.Sprintf("%d", key.TableID))
	if err := os.MkdirAll(tableDir, 0o755); err != nil {
		return nil, fmt.Errorf("bufferpool: create table dir: %w", err)
	}
	path := filepath.Join(tableDir, fmt.Sprintf("%d.dat", key.ColumnIndex))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("bufferpool: open %s: %w", path, err)
	}
	bp.files[key] = f
	return f, nil
}

// AllocatePage reserves the next page index for (tableID, columnIndex) and
// returns its PhysicalPageID, without loading it into a frame.
func (bp *BufferPool) AllocatePage(tableID, columnIndex int) PhysicalPageID {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	key := columnKey{TableID: tableID, ColumnIndex: columnIndex}
	idx := bp.nextIdx[key]
	bp.nextIdx[key] = idx + 1
	return PhysicalPageID{TableID: tableID, ColumnIndex: columnIndex, PageIndex: idx}
}

// NextPageIndex reports the next page index that AllocatePage would hand out
// for (tableID, columnIndex), for persistence snapshots.
func (bp *BufferPool) NextPageIndex(tableID, columnIndex int) int {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	return bp.nextIdx[columnKey{TableID: tableID, ColumnIndex: columnIndex}]
}

// SetNextPageIndex restores the allocation cursor for a column, used when
// reopening a database.
func (bp *BufferPool) SetNextPageIndex(tableID, columnIndex, next int) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	bp.nextIdx[columnKey{TableID: tableID, ColumnIndex: columnIndex}] = next
}

// pageOffset returns the byte offset of a page within its column file.
func (bp *BufferPool) pageOffset(pageIndex int) int64 {
	return int64(pageIndex) * int64(bp.cfg.CellsPerPage) * 8
}

// RequestPage pins and returns the page at id, loading it from disk (or
// creating a fresh one) if it isn't already cached.
func (bp *BufferPool) RequestPage(id PhysicalPageID) (*Page, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if fi, ok := bp.pageMap[id]; ok {
		fr := bp.frames[fi]
		fr.pins++
		bp.evict.touch(fi)
		return fr.page, nil
	}

	fi, err := bp.acquireFrame()
	if err != nil {
		return nil, err
	}

	page, err := bp.loadOrCreate(id)
	if err != nil {
		return nil, err
	}

	bp.frames[fi] = &frame{id: id, page: page, pins: 1, valid: true}
	bp.pageMap[id] = fi
	bp.evict.touch(fi)
	return page, nil
}

func (bp *BufferPool) loadOrCreate(id PhysicalPageID) (*Page, error) {
	f, err := bp.columnFile(id.columnKey())
	if err != nil {
		return nil, err
	}
	buf := make([]byte, bp.cfg.CellsPerPage*8)
	n, err := f.ReadAt(buf, bp.pageOffset(id.PageIndex))
	if n == len(buf) {
		return PageFromBytes(buf), nil
	}
	if err != nil && n == 0 {
		return NewPage(bp.cfg), nil
	}
	return NewPage(bp.cfg), nil
}

// acquireFrame finds a free slot, evicting if necessary. Caller holds bp.mu.
func (bp *BufferPool) acquireFrame() (int, error) {
	for i, fr := range bp.frames {
		if fr == nil || !fr.valid {
			return i, nil
		}
	}

	for _, fi := range bp.evict.candidates() {
		if bp.frames[fi].pins == 0 {
			return bp.evictFrame(fi)
		}
	}

	for {
		fi := bp.rng.Intn(len(bp.frames))
		if bp.frames[fi].pins == 0 {
			return bp.evictFrame(fi)
		}
	}
}

func (bp *BufferPool) evictFrame(fi int) (int, error) {
	fr := bp.frames[fi]
	if fr.dirty {
		if err := bp.flushFrame(fr); err != nil {
			return 0, err
		}
	}
	delete(bp.pageMap, fr.id)
	bp.evict.remove(fi)
	return fi, nil
}

func (bp *BufferPool) flushFrame(fr *frame) error {
	f, err := bp.columnFile(fr.id.columnKey())
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(fr.page.Bytes(), bp.pageOffset(fr.id.PageIndex)); err != nil {
		return fmt.Errorf("bufferpool: flush %+v: %w", fr.id, err)
	}
	fr.dirty = false
	return nil
}

// UnpinPage releases one pin on id, optionally marking it dirty.
func (bp *BufferPool) UnpinPage(id PhysicalPageID, dirty bool) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	fi, ok := bp.pageMap[id]
	if !ok {
		return
	}
	fr := bp.frames[fi]
	if fr.pins > 0 {
		fr.pins--
	}
	if dirty {
		fr.dirty = true
	}
}

// WriteValue writes value at offset within the page identified by id. The
// page must already be pinned via RequestPage.
func (bp *BufferPool) WriteValue(id PhysicalPageID, offset int, value *int64) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	fi, ok := bp.pageMap[id]
	if !ok {
		return newError(PhysicalPageOutOfBounds, "write_value: page not pinned")
	}
	fr := bp.frames[fi]
	if err := fr.page.Write(offset, value); err != nil {
		return err
	}
	fr.dirty = true
	return nil
}

// WriteNextValue appends value at the page's write cursor.
func (bp *BufferPool) WriteNextValue(id PhysicalPageID, value *int64) (int, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	fi, ok := bp.pageMap[id]
	if !ok {
		return 0, newError(PhysicalPageOutOfBounds, "write_next_value: page not pinned")
	}
	fr := bp.frames[fi]
	offset, err := fr.page.WriteNext(value)
	if err != nil {
		return 0, err
	}
	fr.dirty = true
	return offset, nil
}

// Read reads the value at offset within the page identified by id.
func (bp *BufferPool) Read(id PhysicalPageID, offset int) (*int64, error) {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	fi, ok := bp.pageMap[id]
	if !ok {
		return nil, newError(PhysicalPageOutOfBounds, "read: page not pinned")
	}
	return bp.frames[fi].page.Read(offset)
}

// WriteMasked overwrites every cell in id for which mask[i] is true with
// value[i], leaving the rest (notably the cursor cell and untouched
// payload) intact. Used by the merger to fold tail updates into base pages.
func (bp *BufferPool) WriteMasked(id PhysicalPageID, values []int64, mask []bool) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	fi, ok := bp.pageMap[id]
	if !ok {
		return newError(PhysicalPageOutOfBounds, "write_masked: page not pinned")
	}
	fr := bp.frames[fi]
	cells := fr.page.Cells()
	for i, keep := range mask {
		if keep && i < len(cells)-1 {
			cells[i] = values[i]
		}
	}
	fr.dirty = true
	return nil
}

// Full reports whether the page identified by id has no remaining capacity.
// The page must already be pinned via RequestPage.
func (bp *BufferPool) Full(id PhysicalPageID) (bool, error) {
	bp.mu.RLock()
	defer bp.mu.RUnlock()
	fi, ok := bp.pageMap[id]
	if !ok {
		return false, newError(PhysicalPageOutOfBounds, "full: page not pinned")
	}
	return bp.frames[fi].page.Full(), nil
}

// Persist flushes every dirty frame to disk and syncs open column files.
func (bp *BufferPool) Persist() error {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for _, fr := range bp.frames {
		if fr != nil && fr.valid && fr.dirty {
			if err := bp.flushFrame(fr); err != nil {
				return err
			}
		}
	}
	for _, f := range bp.files {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("bufferpool: sync: %w", err)
		}
	}
	return nil
}

// Close persists outstanding data and closes column files.
func (bp *BufferPool) Close() error {
	if err := bp.Persist(); err != nil {
		return err
	}
	bp.mu.Lock()
	defer bp.mu.Unlock()
	for _, f := range bp.files {
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}
