package storage

// LogicalPageKind distinguishes base pages (the initial, ordered copy of a
// record's columns) from tail pages (append-only update records).
type LogicalPageKind int

const (
	BasePage LogicalPageKind = iota
	TailPage
)

// LogicalPage is an ordered tuple of physical pages: one per data column
// plus one metadata (indirection) column, all advanced in lock-step so that
// cell offset N in every column belongs to the same logical row.
type LogicalPage struct {
	Kind        LogicalPageKind
	Columns     []PhysicalPageID
	Indirection PhysicalPageID
}

// NewLogicalPage wraps already-chosen physical page ids (one per data column
// plus the indirection column) as a logical page. It allocates nothing:
// callers obtain the ids via bp.AllocatePage beforehand.
func NewLogicalPage(kind LogicalPageKind, columns []PhysicalPageID, indirection PhysicalPageID) *LogicalPage {
	return &LogicalPage{Kind: kind, Columns: columns, Indirection: indirection}
}

// Full reports whether the page has run out of cell capacity. Because every
// column advances in lock-step, checking the indirection column is
// sufficient.
func (lp *LogicalPage) Full(bp *BufferPool) (bool, error) {
	if _, err := bp.RequestPage(lp.Indirection); err != nil {
		return false, err
	}
	defer bp.UnpinPage(lp.Indirection, false)
	return bp.Full(lp.Indirection)
}

// Insert appends one row to the page: values[i] lands in Columns[i], and
// indirectionValue lands in the metadata column, all at the same cell
// offset. Returns that offset.
func (lp *LogicalPage) Insert(bp *BufferPool, values []int64, indirectionValue int64) (int, error) {
	offset := -1
	for i, col := range lp.Columns {
		if _, err := bp.RequestPage(col); err != nil {
			return 0, err
		}
		o, err := bp.WriteNextValue(col, &values[i])
		bp.UnpinPage(col, true)
		if err != nil {
			return 0, err
		}
		offset = o
	}
	if _, err := bp.RequestPage(lp.Indirection); err != nil {
		return 0, err
	}
	iOffset, err := bp.WriteNextValue(lp.Indirection, &indirectionValue)
	bp.UnpinPage(lp.Indirection, true)
	if err != nil {
		return 0, err
	}
	if offset == -1 {
		offset = iOffset
	}
	return offset, nil
}

// Read projects the row at offset across the requested column indices (into
// lp.Columns), returning one value per requested column (nil for null
// cells).
func (lp *LogicalPage) Read(bp *BufferPool, offset int, columnIndices []int) ([]*int64, error) {
	out := make([]*int64, len(columnIndices))
	for i, ci := range columnIndices {
		col := lp.Columns[ci]
		if _, err := bp.RequestPage(col); err != nil {
			return nil, err
		}
		v, err := bp.Read(col, offset)
		bp.UnpinPage(col, false)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// ReadIndirection returns the metadata-column value at offset.
func (lp *LogicalPage) ReadIndirection(bp *BufferPool, offset int) (*int64, error) {
	if _, err := bp.RequestPage(lp.Indirection); err != nil {
		return nil, err
	}
	defer bp.UnpinPage(lp.Indirection, false)
	return bp.Read(lp.Indirection, offset)
}

// WriteIndirection overwrites the metadata-column value at offset, used
// when a new tail record supersedes a row's latest version pointer.
func (lp *LogicalPage) WriteIndirection(bp *BufferPool, offset int, value int64) error {
	if _, err := bp.RequestPage(lp.Indirection); err != nil {
		return err
	}
	err := bp.WriteValue(lp.Indirection, offset, &value)
	bp.UnpinPage(lp.Indirection, true)
	return err
}
