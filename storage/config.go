package storage

// Config holds the compile-time/initialization parameters of the storage
// layer. All fields have defaults matching spec.md §6; callers may override
// any of them when opening a database for testing or tuning.
type Config struct {
	// CellsPerPage is the number of 8-byte cells per physical page,
	// including the reserved cursor cell. Must be >= 2.
	CellsPerPage int

	// BasePagesPerRange bounds how many base logical pages a single page
	// range may hold before a new range is created.
	BasePagesPerRange int

	// NumFrames is the number of frames in the buffer pool.
	NumFrames int

	// MergeThreshold is the number of tail inserts a page range accumulates
	// before a merge request is emitted.
	MergeThreshold int
}

// DefaultConfig returns the spec.md §6 defaults.
func DefaultConfig() Config {
	return Config{
		CellsPerPage:      512,
		BasePagesPerRange: 16,
		NumFrames:         32,
		MergeThreshold:    50,
	}
}

// NumMetadataColumns is the number of metadata columns appended after user
// columns in every logical page. Fixed at 1 (indirection) per spec.md §3/§6.
const NumMetadataColumns = 1

// NullValue is the reserved sentinel representing an absent cell. It is the
// minimum representable int64, matching the teacher's underlying ancestor's
// choice of i64::MIN as the null marker.
const NullValue = int64(-1 << 63)
