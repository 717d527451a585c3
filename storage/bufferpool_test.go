package storage

import "testing"

func TestBufferPoolWriteReadRoundTrip(t *testing.T) {
	cfg := testConfig()
	cfg.NumFrames = 4
	bp := NewBufferPool(cfg, "", nil)

	id := bp.AllocatePage(1, 0)
	if _, err := bp.RequestPage(id); err != nil {
		t.Fatalf("request_page: %v", err)
	}
	v := int64(123)
	if _, err := bp.WriteNextValue(id, &v); err != nil {
		t.Fatalf("write_next_value: %v", err)
	}
	got, err := bp.Read(id, 0)
	if err != nil || got == nil || *got != 123 {
		t.Fatalf("read: got %v, err %v", got, err)
	}
	bp.UnpinPage(id, true)
}

func TestBufferPoolEvictsUnpinnedFrame(t *testing.T) {
	cfg := testConfig()
	cfg.NumFrames = 1
	bp := NewBufferPool(cfg, "", nil)

	a := bp.AllocatePage(1, 0)
	if _, err := bp.RequestPage(a); err != nil {
		t.Fatalf("request a: %v", err)
	}
	bp.UnpinPage(a, false)

	b := bp.AllocatePage(1, 1)
	if _, err := bp.RequestPage(b); err != nil {
		t.Fatalf("request b should evict unpinned a: %v", err)
	}
	bp.UnpinPage(b, false)
}

func TestBufferPoolPersistAndReload(t *testing.T) {
	cfg := testConfig()
	dir := t.TempDir()
	bp := NewBufferPool(cfg, dir, nil)

	id := bp.AllocatePage(2, 0)
	if _, err := bp.RequestPage(id); err != nil {
		t.Fatalf("request: %v", err)
	}
	v := int64(7)
	if _, err := bp.WriteNextValue(id, &v); err != nil {
		t.Fatalf("write_next_value: %v", err)
	}
	bp.UnpinPage(id, true)
	if err := bp.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	bp2 := NewBufferPool(cfg, dir, nil)
	if _, err := bp2.RequestPage(id); err != nil {
		t.Fatalf("reopen request: %v", err)
	}
	got, err := bp2.Read(id, 0)
	if err != nil || got == nil || *got != 7 {
		t.Fatalf("reopened value mismatch: got %v, err %v", got, err)
	}
}

func TestBufferPoolWriteMaskedPreservesUntouchedCells(t *testing.T) {
	cfg := testConfig()
	bp := NewBufferPool(cfg, "", nil)

	id := bp.AllocatePage(1, 0)
	if _, err := bp.RequestPage(id); err != nil {
		t.Fatalf("request: %v", err)
	}
	for i := int64(0); i < 3; i++ {
		v := i
		if _, err := bp.WriteNextValue(id, &v); err != nil {
			t.Fatalf("write_next_value %d: %v", i, err)
		}
	}
	mask := make([]bool, cfg.CellsPerPage)
	vals := make([]int64, cfg.CellsPerPage)
	mask[1] = true
	vals[1] = 99
	if err := bp.WriteMasked(id, vals, mask); err != nil {
		t.Fatalf("write_masked: %v", err)
	}
	v0, _ := bp.Read(id, 0)
	v1, _ := bp.Read(id, 1)
	v2, _ := bp.Read(id, 2)
	if v0 == nil || *v0 != 0 || v1 == nil || *v1 != 99 || v2 == nil || *v2 != 2 {
		t.Fatalf("masked write changed untouched cells: %v %v %v", v0, v1, v2)
	}
	bp.UnpinPage(id, true)
}
