package storage

import (
	"sync"
	"sync/atomic"
)

// Address locates a row within a table: which page range, which logical
// page within that range, and which cell offset within that page.
type Address struct {
	PageRangeIndex   int
	LogicalPageIndex int
	CellOffset       int
}

// PageRange owns a bounded run of base logical pages plus an unbounded,
// growing run of tail logical pages for the same table. It tracks the tail
// page sequence (TPS) watermark the merger advances, and an update counter
// that trips a merge request once it crosses the configured threshold.
type PageRange struct {
	mu         sync.Mutex
	Index      int
	tableID    int
	numColumns int
	cfg        Config
	bp         *BufferPool

	BasePages []*LogicalPage
	TailPages []*LogicalPage

	tps         int64 // atomic
	updateCount int32 // atomic
}

// NewPageRange creates an empty page range. Base pages are allocated lazily
// as rows are inserted, up to cfg.BasePagesPerRange.
func NewPageRange(index, tableID, numColumns int, cfg Config, bp *BufferPool) *PageRange {
	return &PageRange{
		Index:      index,
		tableID:    tableID,
		numColumns: numColumns,
		cfg:        cfg,
		bp:         bp,
		tps:        -1,
	}
}

// TPS returns the current tail page sequence watermark: the largest tail
// rid already folded into this range's base pages. Reads may skip the
// indirection-chain walk for a row whose latest tail rid is at or below
// this value, since its base page already holds that value. -1 means
// nothing has been merged yet.
func (pr *PageRange) TPS() int64 {
	return atomic.LoadInt64(&pr.tps)
}

// SetTPS atomically advances the watermark. Called by the merge pass, and
// when a range is restored from its header.
func (pr *PageRange) SetTPS(v int64) {
	atomic.StoreInt64(&pr.tps, v)
}

// UpdateCount returns the number of tail inserts recorded since the last
// merge pass reset it.
func (pr *PageRange) UpdateCount() int32 {
	return atomic.LoadInt32(&pr.updateCount)
}

// ResetUpdateCount zeroes the counter, called by the merger after a pass.
func (pr *PageRange) ResetUpdateCount() {
	atomic.StoreInt32(&pr.updateCount, 0)
}

// NeedsMerge reports whether the accumulated updates have crossed the
// configured merge threshold.
func (pr *PageRange) NeedsMerge() bool {
	return pr.UpdateCount() >= int32(pr.cfg.MergeThreshold)
}

func (pr *PageRange) newLogicalPage(kind LogicalPageKind) *LogicalPage {
	columns := make([]PhysicalPageID, pr.numColumns)
	for c := 0; c < pr.numColumns; c++ {
		columns[c] = pr.bp.AllocatePage(pr.tableID, c)
	}
	indirection := pr.bp.AllocatePage(pr.tableID, pr.numColumns)
	return NewLogicalPage(kind, columns, indirection)
}

// BaseFull reports whether this range has exhausted its bounded base-page
// budget, meaning new inserts must go to a different range.
func (pr *PageRange) BaseFull() bool {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if len(pr.BasePages) < pr.cfg.BasePagesPerRange {
		return false
	}
	last := pr.BasePages[len(pr.BasePages)-1]
	full, err := last.Full(pr.bp)
	if err != nil {
		return true
	}
	return full
}

// InsertBase appends a row to the base region, allocating a new base
// logical page when the current one fills and the range has room, or
// failing with PageRangeFilled when it does not.
func (pr *PageRange) InsertBase(values []int64, indirectionValue int64) (Address, error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if len(pr.BasePages) == 0 {
		pr.BasePages = append(pr.BasePages, pr.newLogicalPage(BasePage))
	} else {
		last := pr.BasePages[len(pr.BasePages)-1]
		full, err := last.Full(pr.bp)
		if err != nil {
			return Address{}, err
		}
		if full {
			if len(pr.BasePages) >= pr.cfg.BasePagesPerRange {
				return Address{}, newError(PageRangeFilled, "insert_base")
			}
			pr.BasePages = append(pr.BasePages, pr.newLogicalPage(BasePage))
		}
	}

	lpIdx := len(pr.BasePages) - 1
	lp := pr.BasePages[lpIdx]
	offset, err := lp.Insert(pr.bp, values, indirectionValue)
	if err != nil {
		return Address{}, err
	}
	return Address{PageRangeIndex: pr.Index, LogicalPageIndex: lpIdx, CellOffset: offset}, nil
}

// InsertTail appends a row (normally an update record) to the tail region,
// growing it with a new logical page as needed. Tail regions are
// unbounded: InsertTail never fails with PageRangeFilled.
func (pr *PageRange) InsertTail(values []int64, indirectionValue int64) (Address, error) {
	pr.mu.Lock()
	defer pr.mu.Unlock()

	if len(pr.TailPages) == 0 {
		pr.TailPages = append(pr.TailPages, pr.newLogicalPage(TailPage))
	} else {
		last := pr.TailPages[len(pr.TailPages)-1]
		full, err := last.Full(pr.bp)
		if err != nil {
			return Address{}, err
		}
		if full {
			pr.TailPages = append(pr.TailPages, pr.newLogicalPage(TailPage))
		}
	}

	lpIdx := len(pr.TailPages) - 1
	lp := pr.TailPages[lpIdx]
	offset, err := lp.Insert(pr.bp, values, indirectionValue)
	if err != nil {
		return Address{}, err
	}
	atomic.AddInt32(&pr.updateCount, 1)
	// Tail addresses are distinguished from base addresses by the caller,
	// which tracks base-page count separately; here the logical page index
	// is offset by the number of base pages so addresses stay unique within
	// the range.
	return Address{PageRangeIndex: pr.Index, LogicalPageIndex: pr.cfg.BasePagesPerRange + lpIdx, CellOffset: offset}, nil
}

// Snapshot captures this page range's bookkeeping for persistence: the
// shared page index of every logical page (every column of a logical page,
// including its indirection column, was allocated at the same index), plus
// the merge watermark and update counter.
func (pr *PageRange) Snapshot() PageRangeHeader {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	baseIndices := make([]int, len(pr.BasePages))
	for i, lp := range pr.BasePages {
		baseIndices[i] = lp.Indirection.PageIndex
	}
	tailIndices := make([]int, len(pr.TailPages))
	for i, lp := range pr.TailPages {
		tailIndices[i] = lp.Indirection.PageIndex
	}
	return PageRangeHeader{
		BasePageIndices: baseIndices,
		TailPageIndices: tailIndices,
		TPS:             pr.TPS(),
		UpdateCount:     pr.UpdateCount(),
	}
}

// logicalPageFromIndex rebuilds a LogicalPage's physical page ids directly
// from a previously-recorded shared page index, bypassing the allocator
// entirely (the allocator's cursor is advanced separately, once, after every
// page range has been restored).
func logicalPageFromIndex(kind LogicalPageKind, tableID, numColumns, pageIndex int) *LogicalPage {
	columns := make([]PhysicalPageID, numColumns)
	for c := 0; c < numColumns; c++ {
		columns[c] = PhysicalPageID{TableID: tableID, ColumnIndex: c, PageIndex: pageIndex}
	}
	indirection := PhysicalPageID{TableID: tableID, ColumnIndex: numColumns, PageIndex: pageIndex}
	return NewLogicalPage(kind, columns, indirection)
}

// RestorePageRange recreates a page range from its header, placing each
// logical page back at its originally-recorded physical page index rather
// than replaying allocation order (which base/tail interleaving across
// multiple page ranges would not otherwise reproduce correctly).
func RestorePageRange(index, tableID, numColumns int, cfg Config, bp *BufferPool, h PageRangeHeader) *PageRange {
	pr := NewPageRange(index, tableID, numColumns, cfg, bp)
	for _, pageIndex := range h.BasePageIndices {
		pr.BasePages = append(pr.BasePages, logicalPageFromIndex(BasePage, tableID, numColumns, pageIndex))
	}
	for _, pageIndex := range h.TailPageIndices {
		pr.TailPages = append(pr.TailPages, logicalPageFromIndex(TailPage, tableID, numColumns, pageIndex))
	}
	pr.SetTPS(h.TPS)
	atomic.StoreInt32(&pr.updateCount, h.UpdateCount)
	return pr
}

// LogicalPageAt resolves an address's logical-page component to the actual
// LogicalPage, whether it falls in the base or tail region.
func (pr *PageRange) LogicalPageAt(logicalPageIndex int) *LogicalPage {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if logicalPageIndex < pr.cfg.BasePagesPerRange {
		if logicalPageIndex < len(pr.BasePages) {
			return pr.BasePages[logicalPageIndex]
		}
		return nil
	}
	tailIdx := logicalPageIndex - pr.cfg.BasePagesPerRange
	if tailIdx < len(pr.TailPages) {
		return pr.TailPages[tailIdx]
	}
	return nil
}
