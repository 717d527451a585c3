package storage

import "encoding/binary"

// Cell is a single 64-bit slot. A value of NullValue means "absent" and is
// surfaced to callers as a missing value rather than as NullValue itself.
type Cell = int64

// Page is a fixed-size slab of cells. The final cell is reserved as the
// write cursor: it stores the index of the next unused cell, so usable
// capacity is len(cells)-1 cells. Embedding the cursor in the page lets disk
// I/O move it together with the payload without separate bookkeeping.
type Page struct {
	cells []Cell
}

// NewPage creates an empty page sized according to cfg. All data cells
// start out null; the cursor starts at zero.
func NewPage(cfg Config) *Page {
	cells := make([]Cell, cfg.CellsPerPage)
	for i := range cells {
		cells[i] = NullValue
	}
	cells[cfg.CellsPerPage-1] = 0
	return &Page{cells: cells}
}

// PageFromCells wraps an existing cell slice as a page (used when loading a
// page back from disk). The caller owns cells and must not mutate it
// afterwards through another reference.
func PageFromCells(cells []Cell) *Page {
	return &Page{cells: cells}
}

// Cells returns the page's raw cell slice, primarily for disk I/O.
func (p *Page) Cells() []Cell {
	return p.cells
}

func (p *Page) lastOffset() int {
	return len(p.cells) - 1
}

// write stores value at offset without moving the cursor. Fails with
// OffsetOutOfBounds if offset addresses the cursor cell or beyond.
func (p *Page) write(offset int, value int64) error {
	if offset < 0 || offset >= p.lastOffset() {
		return newError(OffsetOutOfBounds, "write")
	}
	p.cells[offset] = value
	return nil
}

// Write is the public, null-aware form of write: a nil value writes the
// null sentinel.
func (p *Page) Write(offset int, value *int64) error {
	if value == nil {
		return p.write(offset, NullValue)
	}
	return p.write(offset, *value)
}

func (p *Page) cursor() int {
	return int(p.cells[p.lastOffset()])
}

func (p *Page) incrementCursor() {
	p.cells[p.lastOffset()]++
}

// Full reports whether the cursor has reached the cursor cell itself, i.e.
// no usable cell remains.
func (p *Page) Full() bool {
	return p.cursor() >= p.lastOffset()
}

// WriteNext stores value at the cursor position, then advances the cursor.
// Returns the offset written to. Fails with OffsetOutOfBounds if the page
// is Full.
func (p *Page) WriteNext(value *int64) (int, error) {
	if p.Full() {
		return 0, newError(OffsetOutOfBounds, "write_next: page full")
	}
	offset := p.cursor()
	var v int64 = NullValue
	if value != nil {
		v = *value
	}
	if err := p.write(offset, v); err != nil {
		return 0, err
	}
	p.incrementCursor()
	return offset, nil
}

// Read returns the value at offset, or nil if the cell holds the null
// sentinel. Fails with OffsetOutOfBounds for offset >= the cursor cell.
func (p *Page) Read(offset int) (*int64, error) {
	if offset < 0 || offset >= p.lastOffset() {
		return nil, newError(OffsetOutOfBounds, "read")
	}
	v := p.cells[offset]
	if v == NullValue {
		return nil, nil
	}
	return &v, nil
}

// Bytes encodes the page as little-endian int64 values, the on-disk layout
// mandated by spec.md §6.
func (p *Page) Bytes() []byte {
	buf := make([]byte, len(p.cells)*8)
	for i, c := range p.cells {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(c))
	}
	return buf
}

// PageFromBytes decodes a page previously encoded with Bytes.
func PageFromBytes(b []byte) *Page {
	cells := make([]Cell, len(b)/8)
	for i := range cells {
		cells[i] = int64(binary.LittleEndian.Uint64(b[i*8:]))
	}
	return &Page{cells: cells}
}
