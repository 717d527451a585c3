// Package table implements the columnar, multi-version table: row
// insertion, cumulative updates via an indirection chain, versioned reads,
// aggregation, and logical deletion.
package table

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/Felmond13/coldb/index"
	"github.com/Felmond13/coldb/storage"
)

// Table is one columnar, append-only, multi-version table: a primary key
// column, zero or more data columns, backed by a sequence of PageRanges and
// indexed by RID through a page directory.
type Table struct {
	mu sync.RWMutex

	TableID    int
	Name       string
	NumColumns int
	KeyColumn  int

	cfg Config
	bp  *storage.BufferPool
	log *zap.Logger

	idx *index.Indexer

	pageRanges    []*storage.PageRange
	pageDirectory map[int64]storage.Address
	deadRIDs      map[int64]struct{}

	nextRID int64 // atomic
}

// Config mirrors storage.Config for the page-range sizing parameters a
// table needs when creating new page ranges.
type Config = storage.Config

// New creates an empty table. numColumns counts only data columns; the
// indirection metadata column is implicit.
func New(tableID int, name string, numColumns, keyColumn int, cfg Config, bp *storage.BufferPool, log *zap.Logger) *Table {
	if log == nil {
		log = zap.NewNop()
	}
	return &Table{
		TableID:       tableID,
		Name:          name,
		NumColumns:    numColumns,
		KeyColumn:     keyColumn,
		cfg:           cfg,
		bp:            bp,
		log:           log,
		idx:           index.NewIndexer(keyColumn),
		pageDirectory: make(map[int64]storage.Address),
		deadRIDs:      make(map[int64]struct{}),
	}
}

// Indexer exposes the table's column indexer, e.g. so the scheduler can
// check primary-key existence without locking the table itself.
func (t *Table) Indexer() *index.Indexer { return t.idx }

// PrimaryKeyExists reports whether a live row currently holds key as its
// primary-key value.
func (t *Table) PrimaryKeyExists(key int64) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.primaryKeyExistsLocked(key)
}

// PrimaryKeyColumn returns the index of the column this table's primary-key
// index is built over, e.g. so the transaction layer can tell an update's
// new primary-key value apart from an ordinary data column.
func (t *Table) PrimaryKeyColumn() int { return t.KeyColumn }

// primaryKeyExistsLocked is PrimaryKeyExists assuming the caller already
// holds t.mu (read or write) — used by Insert, which cannot re-acquire its
// own write lock to call the exported, locking form.
func (t *Table) primaryKeyExistsLocked(key int64) bool {
	for _, rid := range t.idx.LocatePrimaryKey(key) {
		if _, dead := t.deadRIDs[rid]; !dead {
			return true
		}
	}
	return false
}

// LocatePrimaryKey returns the (base) rid of the live row whose primary key
// equals key. A well-formed table has at most one such row.
func (t *Table) LocatePrimaryKey(key int64) (int64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rids := t.idx.LocatePrimaryKey(key)
	for _, rid := range rids {
		if _, dead := t.deadRIDs[rid]; !dead {
			return rid, nil
		}
	}
	return 0, fmt.Errorf("table: no live row with primary key %d", key)
}

func (t *Table) allocRID() int64 {
	return atomic.AddInt64(&t.nextRID, 1) - 1
}

// activeRangeForInsert returns the page range new base rows should land in,
// creating one if the table is empty or the last range's base region is
// full.
func (t *Table) activeRangeForInsert() *storage.PageRange {
	if len(t.pageRanges) == 0 {
		return t.newPageRange()
	}
	last := t.pageRanges[len(t.pageRanges)-1]
	if last.BaseFull() {
		return t.newPageRange()
	}
	return last
}

func (t *Table) newPageRange() *storage.PageRange {
	pr := storage.NewPageRange(len(t.pageRanges), t.TableID, t.NumColumns, t.cfg, t.bp)
	t.pageRanges = append(t.pageRanges, pr)
	return pr
}

func (t *Table) pageRangeAt(i int) *storage.PageRange {
	return t.pageRanges[i]
}

// Insert adds a new row with the given column values, returning its
// primary-key RID. It is rejected if the row's primary-key value already
// belongs to a live row. A chain-head tail row — a copy of the base, with
// the base's indirection repointed to it — is generated immediately, so
// every base row's indirection is a real tail rid from the moment it exists
// rather than self-pointing.
func (t *Table) Insert(values []int64) (int64, error) {
	if len(values) != t.NumColumns {
		return 0, fmt.Errorf("table: insert: expected %d columns, got %d", t.NumColumns, len(values))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	key := values[t.KeyColumn]
	if t.primaryKeyExistsLocked(key) {
		return 0, fmt.Errorf("table: insert: primary key %d already exists", key)
	}

	rid := t.allocRID()
	pr := t.activeRangeForInsert()
	addr, err := pr.InsertBase(values, rid)
	if err != nil {
		return 0, fmt.Errorf("table: insert: %w", err)
	}
	t.pageDirectory[rid] = addr

	headRid := t.allocRID()
	headAddr, err := pr.InsertTail(values, rid)
	if err != nil {
		return 0, fmt.Errorf("table: insert: %w", err)
	}
	t.pageDirectory[headRid] = headAddr

	baseLp := pr.LogicalPageAt(addr.LogicalPageIndex)
	if err := baseLp.WriteIndirection(t.bp, addr.CellOffset, headRid); err != nil {
		return 0, fmt.Errorf("table: insert: %w", err)
	}

	t.idx.InsertRow(values, rid)
	return rid, nil
}

func (t *Table) readFullRow(rid int64) ([]int64, error) {
	addr, ok := t.pageDirectory[rid]
	if !ok {
		return nil, fmt.Errorf("table: rid %d has no page directory entry", rid)
	}
	lp := t.pageRangeAt(addr.PageRangeIndex).LogicalPageAt(addr.LogicalPageIndex)
	if lp == nil {
		return nil, fmt.Errorf("table: rid %d resolves to a missing logical page", rid)
	}
	columnIndices := make([]int, t.NumColumns)
	for i := range columnIndices {
		columnIndices[i] = i
	}
	ptrs, err := lp.Read(t.bp, addr.CellOffset, columnIndices)
	if err != nil {
		return nil, err
	}
	out := make([]int64, t.NumColumns)
	for i, p := range ptrs {
		if p != nil {
			out[i] = *p
		} else {
			out[i] = storage.NullValue
		}
	}
	return out, nil
}

func (t *Table) readSparseRow(rid int64) ([]*int64, error) {
	addr, ok := t.pageDirectory[rid]
	if !ok {
		return nil, fmt.Errorf("table: rid %d has no page directory entry", rid)
	}
	lp := t.pageRangeAt(addr.PageRangeIndex).LogicalPageAt(addr.LogicalPageIndex)
	if lp == nil {
		return nil, fmt.Errorf("table: rid %d resolves to a missing logical page", rid)
	}
	columnIndices := make([]int, t.NumColumns)
	for i := range columnIndices {
		columnIndices[i] = i
	}
	return lp.Read(t.bp, addr.CellOffset, columnIndices)
}

func (t *Table) indirectionAt(rid int64) (int64, error) {
	addr, ok := t.pageDirectory[rid]
	if !ok {
		return 0, fmt.Errorf("table: rid %d has no page directory entry", rid)
	}
	lp := t.pageRangeAt(addr.PageRangeIndex).LogicalPageAt(addr.LogicalPageIndex)
	if lp == nil {
		return 0, fmt.Errorf("table: rid %d resolves to a missing logical page", rid)
	}
	v, err := lp.ReadIndirection(t.bp, addr.CellOffset)
	if err != nil {
		return 0, err
	}
	if v == nil {
		return rid, nil
	}
	return *v, nil
}

// chainNewestFirst walks the indirection chain starting from rid's base
// row, returning version rids ordered from latest to oldest, with the base
// rid always last.
func (t *Table) chainNewestFirst(rid int64) ([]int64, error) {
	latest, err := t.indirectionAt(rid)
	if err != nil {
		return nil, err
	}
	chain := []int64{}
	cur := latest
	for cur != rid {
		chain = append(chain, cur)
		prev, err := t.indirectionAt(cur)
		if err != nil {
			return nil, err
		}
		cur = prev
	}
	chain = append(chain, rid)
	return chain, nil
}

// readLatestLocked returns rid's current merged values. When the merger has
// already folded rid's latest tail rid into its base page (tracked by the
// range's TPS watermark), it reads the base page directly instead of
// walking the indirection chain — the read-path use of TPS spec.md §3
// describes.
func (t *Table) readLatestLocked(rid int64) ([]int64, error) {
	addr, ok := t.pageDirectory[rid]
	if !ok {
		return nil, fmt.Errorf("table: rid %d has no page directory entry", rid)
	}
	latestRid, err := t.indirectionAt(rid)
	if err != nil {
		return nil, err
	}
	if pr := t.pageRangeAt(addr.PageRangeIndex); latestRid <= pr.TPS() {
		return t.readFullRow(rid)
	}
	return t.readFullRowLocked(rid)
}

// SelectVersion returns the column values of rid as of `version` updates
// before the latest: 0 is the current (latest) version, -1 is one update
// prior, and so on back to the original insert. Values beyond the oldest
// available version clamp to the base row.
func (t *Table) SelectVersion(rid int64, version int) ([]int64, error) {
	if version > 0 {
		return nil, fmt.Errorf("table: select_version: version must be <= 0, got %d", version)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	if _, dead := t.deadRIDs[rid]; dead {
		return nil, fmt.Errorf("table: rid %d is deleted", rid)
	}

	if version == 0 {
		return t.readLatestLocked(rid)
	}

	chain, err := t.chainNewestFirst(rid)
	if err != nil {
		return nil, err
	}

	targetIdx := -version
	if targetIdx >= len(chain) {
		targetIdx = len(chain) - 1
	}
	if targetIdx < 0 {
		targetIdx = 0
	}

	baseIdx := len(chain) - 1
	values, err := t.readFullRow(chain[baseIdx])
	if err != nil {
		return nil, err
	}
	for i := baseIdx - 1; i >= targetIdx; i-- {
		sparse, err := t.readSparseRow(chain[i])
		if err != nil {
			return nil, err
		}
		for c, v := range sparse {
			if v != nil {
				values[c] = *v
			}
		}
	}
	return values, nil
}

// Select returns the current (latest) column values for rid.
func (t *Table) Select(rid int64) ([]int64, error) {
	return t.SelectVersion(rid, 0)
}

// Update applies a partial column update to rid: newValues[i] == nil means
// "leave column i unchanged". A new tail record is appended recording only
// the changed columns, and the row's indirection is repointed to it.
func (t *Table) Update(rid int64, newValues []*int64) error {
	if len(newValues) != t.NumColumns {
		return fmt.Errorf("table: update: expected %d columns, got %d", t.NumColumns, len(newValues))
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, dead := t.deadRIDs[rid]; dead {
		return fmt.Errorf("table: update: rid %d is deleted", rid)
	}

	baseAddr, ok := t.pageDirectory[rid]
	if !ok {
		return fmt.Errorf("table: update: rid %d has no page directory entry", rid)
	}

	oldValues, err := t.readLatestLocked(rid)
	if err != nil {
		return err
	}

	latestRid, err := t.indirectionAt(rid)
	if err != nil {
		return err
	}

	tailValues := make([]int64, t.NumColumns)
	for i, v := range newValues {
		if v != nil {
			tailValues[i] = *v
		} else {
			tailValues[i] = storage.NullValue
		}
	}

	tailRid := t.allocRID()
	pr := t.pageRangeAt(baseAddr.PageRangeIndex)
	addr, err := pr.InsertTail(tailValues, latestRid)
	if err != nil {
		return fmt.Errorf("table: update: %w", err)
	}
	t.pageDirectory[tailRid] = addr

	baseLp := pr.LogicalPageAt(baseAddr.LogicalPageIndex)
	if err := baseLp.WriteIndirection(t.bp, baseAddr.CellOffset, tailRid); err != nil {
		return fmt.Errorf("table: update: %w", err)
	}

	for c, v := range newValues {
		if v != nil {
			t.idx.UpdateColumn(c, oldValues[c], *v, rid)
		}
	}
	return nil
}

// readFullRowLocked reads rid's current merged values; caller already holds
// t.mu (via SelectVersion's own locking would deadlock, so this duplicates
// the merge walk without re-acquiring the lock).
func (t *Table) readFullRowLocked(rid int64) ([]int64, error) {
	chain, err := t.chainNewestFirst(rid)
	if err != nil {
		return nil, err
	}
	baseIdx := len(chain) - 1
	values, err := t.readFullRow(chain[baseIdx])
	if err != nil {
		return nil, err
	}
	for i := baseIdx - 1; i >= 0; i-- {
		sparse, err := t.readSparseRow(chain[i])
		if err != nil {
			return nil, err
		}
		for c, v := range sparse {
			if v != nil {
				values[c] = *v
			}
		}
	}
	return values, nil
}

// Delete logically removes rid: it is dropped from every column index and
// recorded in the dead-RID list, after which Select/Update/Sum treat it as
// absent. Physical pages are never reclaimed (no crash recovery, no
// vacuum): this matches the engine's append-only, close-to-persist model.
func (t *Table) Delete(rid int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, dead := t.deadRIDs[rid]; dead {
		return fmt.Errorf("table: delete: rid %d is already deleted", rid)
	}
	values, err := t.readLatestLocked(rid)
	if err != nil {
		return err
	}
	t.idx.RemoveRow(values, rid)
	t.deadRIDs[rid] = struct{}{}
	return nil
}

// Sum returns the sum of column colIndex over every live row whose primary
// key falls within [keyLow, keyHigh], inclusive.
func (t *Table) Sum(keyLow, keyHigh int64, colIndex int) (int64, error) {
	return t.SumVersion(keyLow, keyHigh, colIndex, 0)
}

// SumVersion is Sum, but reading each row as of `version` updates before
// its latest (see SelectVersion).
func (t *Table) SumVersion(keyLow, keyHigh int64, colIndex, version int) (int64, error) {
	t.mu.RLock()
	rids := t.idx.Column(t.KeyColumn).LocateRange(keyLow, keyHigh)
	t.mu.RUnlock()

	var sum int64
	for _, rid := range rids {
		t.mu.RLock()
		_, dead := t.deadRIDs[rid]
		t.mu.RUnlock()
		if dead {
			continue
		}
		values, err := t.SelectVersion(rid, version)
		if err != nil {
			return 0, err
		}
		sum += values[colIndex]
	}
	return sum, nil
}

// Snapshot captures this table's full bookkeeping (schema, RID allocation,
// page ranges, page directory, dead-RID list) for persistence to table.hdr.
func (t *Table) Snapshot() storage.TableHeader {
	t.mu.RLock()
	defer t.mu.RUnlock()

	pageRanges := make([]storage.PageRangeHeader, len(t.pageRanges))
	for i, pr := range t.pageRanges {
		pageRanges[i] = pr.Snapshot()
	}

	dir := make(map[int64]storage.AddressHeader, len(t.pageDirectory))
	for rid, addr := range t.pageDirectory {
		dir[rid] = storage.AddressHeader{
			PageRangeIndex:   addr.PageRangeIndex,
			LogicalPageIndex: addr.LogicalPageIndex,
			CellOffset:       addr.CellOffset,
		}
	}

	deadRIDs := make([]int64, 0, len(t.deadRIDs))
	for rid := range t.deadRIDs {
		deadRIDs = append(deadRIDs, rid)
	}

	return storage.TableHeader{
		Name:          t.Name,
		TableID:       t.TableID,
		NumColumns:    t.NumColumns,
		KeyColumn:     t.KeyColumn,
		NextRID:       atomic.LoadInt64(&t.nextRID),
		PageRanges:    pageRanges,
		PageDirectory: dir,
		DeadRIDs:      deadRIDs,
	}
}

// Restore rebuilds a table from a previously-captured TableHeader, replaying
// page-range and page-directory state and rebuilding the in-memory index
// from every live row's current values.
func Restore(h storage.TableHeader, cfg Config, bp *storage.BufferPool, log *zap.Logger) *Table {
	t := New(h.TableID, h.Name, h.NumColumns, h.KeyColumn, cfg, bp, log)

	maxPageIndex := -1
	for i, prh := range h.PageRanges {
		pr := storage.RestorePageRange(i, t.TableID, t.NumColumns, cfg, bp, prh)
		t.pageRanges = append(t.pageRanges, pr)
		for _, idx := range prh.BasePageIndices {
			if idx > maxPageIndex {
				maxPageIndex = idx
			}
		}
		for _, idx := range prh.TailPageIndices {
			if idx > maxPageIndex {
				maxPageIndex = idx
			}
		}
	}
	// Every column (plus the indirection column) advanced its allocation
	// cursor once per logical page created, in lock-step; restoring the
	// page ranges bypassed the allocator, so the cursor must be fast-
	// forwarded here or the next Insert/Update would hand out an
	// already-used physical page.
	for c := 0; c <= t.NumColumns; c++ {
		bp.SetNextPageIndex(h.TableID, c, maxPageIndex+1)
	}

	for rid, ah := range h.PageDirectory {
		t.pageDirectory[rid] = storage.Address{
			PageRangeIndex:   ah.PageRangeIndex,
			LogicalPageIndex: ah.LogicalPageIndex,
			CellOffset:       ah.CellOffset,
		}
	}
	for _, rid := range h.DeadRIDs {
		t.deadRIDs[rid] = struct{}{}
	}
	atomic.StoreInt64(&t.nextRID, h.NextRID)

	for rid, addr := range t.pageDirectory {
		// Only base rows (those below the base-page-count boundary) carry a
		// row identity worth indexing; tail rows are addressed only via the
		// indirection chain.
		if addr.LogicalPageIndex >= cfg.BasePagesPerRange {
			continue
		}
		if _, dead := t.deadRIDs[rid]; dead {
			continue
		}
		values, err := t.readFullRowLocked(rid)
		if err != nil {
			continue
		}
		t.idx.InsertRow(values, rid)
	}

	return t
}

// PageRanges exposes the table's page ranges, e.g. so the merger can poll
// for ranges crossing the merge threshold.
func (t *Table) PageRanges() []*storage.PageRange {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*storage.PageRange, len(t.pageRanges))
	copy(out, t.pageRanges)
	return out
}

// MergeOnce folds every live row's latest merged values into its base page
// within pr, then advances pr's TPS watermark to the largest tail rid just
// consolidated and resets its update counter. Tail pages are left
// untouched, so select_version keeps working for versions older than the
// merge point: this is a read-path speedup, not a compaction.
func (t *Table) MergeOnce(pr *storage.PageRange) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	merged := 0
	maxTailRid := pr.TPS()
	for rid, addr := range t.pageDirectory {
		if addr.PageRangeIndex != pr.Index || addr.LogicalPageIndex >= t.cfg.BasePagesPerRange {
			continue
		}
		if _, dead := t.deadRIDs[rid]; dead {
			continue
		}
		latestRid, err := t.indirectionAt(rid)
		if err != nil {
			return merged, err
		}
		values, err := t.readFullRowLocked(rid)
		if err != nil {
			return merged, err
		}
		lp := pr.LogicalPageAt(addr.LogicalPageIndex)
		if lp == nil {
			continue
		}
		for c := 0; c < t.NumColumns; c++ {
			col := lp.Columns[c]
			if _, err := t.bp.RequestPage(col); err != nil {
				return merged, err
			}
			mask := make([]bool, t.cfg.CellsPerPage)
			vals := make([]int64, t.cfg.CellsPerPage)
			mask[addr.CellOffset] = true
			vals[addr.CellOffset] = values[c]
			err := t.bp.WriteMasked(col, vals, mask)
			t.bp.UnpinPage(col, true)
			if err != nil {
				return merged, err
			}
		}
		if latestRid > maxTailRid {
			maxTailRid = latestRid
		}
		merged++
	}
	pr.SetTPS(maxTailRid)
	pr.ResetUpdateCount()
	return merged, nil
}
