// Package index provides the in-memory, per-column ordered index used to
// answer primary-key and secondary-column range queries without scanning
// every page range.
package index

import (
	"sync"

	"github.com/google/btree"
)

// entry is the btree item type: an ordered key with the set of row ids
// currently holding that value in the indexed column.
type entry struct {
	key  int64
	rids map[int64]struct{}
}

func (e *entry) Less(other btree.Item) bool {
	return e.key < other.(*entry).key
}

// ColumnIndex is an ordered value -> set-of-RIDs map for one column,
// supporting point lookup and inclusive range scans.
type ColumnIndex struct {
	mu   sync.RWMutex
	tree *btree.BTree
}

// NewColumnIndex creates an empty column index.
func NewColumnIndex() *ColumnIndex {
	return &ColumnIndex{tree: btree.New(32)}
}

// Insert records that rid currently holds value in the indexed column.
func (ci *ColumnIndex) Insert(value int64, rid int64) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	item := ci.tree.Get(&entry{key: value})
	if item == nil {
		e := &entry{key: value, rids: map[int64]struct{}{rid: {}}}
		ci.tree.ReplaceOrInsert(e)
		return
	}
	item.(*entry).rids[rid] = struct{}{}
}

// Remove drops rid from the set recorded under value. If that leaves the
// value with no rids, the entry is removed entirely.
func (ci *ColumnIndex) Remove(value int64, rid int64) {
	ci.mu.Lock()
	defer ci.mu.Unlock()
	item := ci.tree.Get(&entry{key: value})
	if item == nil {
		return
	}
	e := item.(*entry)
	delete(e.rids, rid)
	if len(e.rids) == 0 {
		ci.tree.Delete(e)
	}
}

// Update moves rid's indexed entry from oldValue to newValue, used when a
// column update changes an indexed column's latest value.
func (ci *ColumnIndex) Update(oldValue, newValue int64, rid int64) {
	if oldValue == newValue {
		return
	}
	ci.Remove(oldValue, rid)
	ci.Insert(newValue, rid)
}

// Locate returns the rids currently recorded under value, in no particular
// order.
func (ci *ColumnIndex) Locate(value int64) []int64 {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	item := ci.tree.Get(&entry{key: value})
	if item == nil {
		return nil
	}
	e := item.(*entry)
	out := make([]int64, 0, len(e.rids))
	for rid := range e.rids {
		out = append(out, rid)
	}
	return out
}

// LocateRange returns the rids recorded under any value in [low, high],
// inclusive on both ends, ordered by increasing key.
func (ci *ColumnIndex) LocateRange(low, high int64) []int64 {
	ci.mu.RLock()
	defer ci.mu.RUnlock()
	var out []int64
	ci.tree.AscendGreaterOrEqual(&entry{key: low}, func(item btree.Item) bool {
		e := item.(*entry)
		if e.key > high {
			return false
		}
		for rid := range e.rids {
			out = append(out, rid)
		}
		return true
	})
	return out
}

// Indexer owns one ColumnIndex per indexed column of a table. The
// primary-key column is always indexed; other columns are indexed on demand.
type Indexer struct {
	mu        sync.RWMutex
	keyColumn int
	columns   map[int]*ColumnIndex
}

// NewIndexer creates an indexer with the primary-key column already
// indexed, per spec: the primary-key index is mandatory, others optional.
func NewIndexer(keyColumn int) *Indexer {
	idx := &Indexer{
		keyColumn: keyColumn,
		columns:   make(map[int]*ColumnIndex),
	}
	idx.columns[keyColumn] = NewColumnIndex()
	return idx
}

// CreateColumnIndex adds a secondary index over columnIndex if one doesn't
// already exist, returning it either way.
func (idx *Indexer) CreateColumnIndex(columnIndex int) *ColumnIndex {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if ci, ok := idx.columns[columnIndex]; ok {
		return ci
	}
	ci := NewColumnIndex()
	idx.columns[columnIndex] = ci
	return ci
}

// Column returns the index for columnIndex, or nil if that column isn't
// indexed.
func (idx *Indexer) Column(columnIndex int) *ColumnIndex {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.columns[columnIndex]
}

// KeyColumn returns the table's primary-key column index.
func (idx *Indexer) KeyColumn() int {
	return idx.keyColumn
}

// InsertRow records rid's value in every currently-indexed column, given
// the row's full column values.
func (idx *Indexer) InsertRow(values []int64, rid int64) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for col, ci := range idx.columns {
		if col < len(values) {
			ci.Insert(values[col], rid)
		}
	}
}

// RemoveRow drops rid from every currently-indexed column's entry for the
// given values, used on delete.
func (idx *Indexer) RemoveRow(values []int64, rid int64) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	for col, ci := range idx.columns {
		if col < len(values) {
			ci.Remove(values[col], rid)
		}
	}
}

// UpdateColumn moves rid's entry in columnIndex's index from oldValue to
// newValue. A no-op if columnIndex isn't indexed.
func (idx *Indexer) UpdateColumn(columnIndex int, oldValue, newValue int64, rid int64) {
	idx.mu.RLock()
	ci, ok := idx.columns[columnIndex]
	idx.mu.RUnlock()
	if !ok {
		return
	}
	ci.Update(oldValue, newValue, rid)
}

// LocatePrimaryKey returns the rid(s) currently holding the given primary
// key value. In a well-formed table this is at most one rid.
func (idx *Indexer) LocatePrimaryKey(value int64) []int64 {
	return idx.Column(idx.keyColumn).Locate(value)
}
