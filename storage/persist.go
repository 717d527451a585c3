package storage

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/klauspost/compress/snappy"
)

// BufferPoolHeader is the serialized form of buffer-pool-wide bookkeeping,
// written to bp.hdr at the root of the database directory.
type BufferPoolHeader struct {
	TableIdentifiers map[string]int `json:"table_identifiers"`
	NextTableID      int            `json:"next_table_id"`
}

// ColumnHeader tracks the allocation cursor for one column's page file.
// Small and already text, so it is written uncompressed.
type ColumnHeader struct {
	NextPageIndex int `json:"next_page_index"`
}

// AddressHeader is the serialized form of a page-directory entry.
type AddressHeader struct {
	PageRangeIndex   int `json:"page_range_index"`
	LogicalPageIndex int `json:"logical_page_index"`
	CellOffset       int `json:"cell_offset"`
}

// PageRangeHeader is the serialized form of one PageRange's bookkeeping.
// Every column of a logical page (including its indirection column) shares
// one physical page index, assigned in the global order logical pages were
// created across the whole table; storing that one index per logical page
// is enough to reconstruct every column's PhysicalPageID on reopen, without
// needing to replay allocation calls in their original temporal order
// (which base/tail interleaving across page ranges would otherwise require).
type PageRangeHeader struct {
	BasePageIndices []int `json:"base_page_indices"`
	TailPageIndices []int `json:"tail_page_indices"`
	TPS             int64 `json:"tps"`
	UpdateCount     int32 `json:"update_count"`
}

// TableHeader is the serialized form of a Table's full bookkeeping:
// schema, RID allocation, page ranges, and the page directory. Written to
// <table_id>/table.hdr, compressed.
type TableHeader struct {
	Name          string                  `json:"name"`
	TableID       int                     `json:"table_id"`
	NumColumns    int                     `json:"num_columns"`
	KeyColumn     int                     `json:"key_column"`
	NextRID       int64                   `json:"next_rid"`
	PageRanges    []PageRangeHeader       `json:"page_ranges"`
	PageDirectory map[int64]AddressHeader `json:"page_directory"`
	DeadRIDs      []int64                 `json:"dead_rids"`
}

// WriteCompressedHeader JSON-encodes v, snappy-compresses it, and writes it
// to path. Used for bp.hdr and table.hdr, whose format spec.md §6 leaves
// unpinned beyond "serialized".
func WriteCompressedHeader(path string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("persist: marshal %s: %w", path, err)
	}
	compressed := snappy.Encode(nil, raw)
	if err := os.WriteFile(path, compressed, 0o644); err != nil {
		return fmt.Errorf("persist: write %s: %w", path, err)
	}
	return nil
}

// ReadCompressedHeader reverses WriteCompressedHeader.
func ReadCompressedHeader(path string, v interface{}) error {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("persist: read %s: %w", path, err)
	}
	raw, err := snappy.Decode(nil, compressed)
	if err != nil {
		return fmt.Errorf("persist: decompress %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("persist: unmarshal %s: %w", path, err)
	}
	return nil
}

// WriteColumnHeader writes a column header as plain, uncompressed JSON.
func WriteColumnHeader(path string, h ColumnHeader) error {
	raw, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("persist: marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("persist: write %s: %w", path, err)
	}
	return nil
}

// ReadColumnHeader reverses WriteColumnHeader.
func ReadColumnHeader(path string) (ColumnHeader, error) {
	var h ColumnHeader
	raw, err := os.ReadFile(path)
	if err != nil {
		return h, fmt.Errorf("persist: read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &h); err != nil {
		return h, fmt.Errorf("persist: unmarshal %s: %w", path, err)
	}
	return h, nil
}
