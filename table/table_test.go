package table

import (
	"reflect"
	"testing"

	"github.com/Felmond13/coldb/storage"
)

func newTestTable(t *testing.T) *Table {
	t.Helper()
	cfg := storage.DefaultConfig()
	cfg.CellsPerPage = 8
	cfg.BasePagesPerRange = 2
	bp := storage.NewBufferPool(cfg, "", nil)
	return New(1, "people", 3, 0, cfg, bp, nil)
}

func ptr(v int64) *int64 { return &v }

func TestInsertAndSelect(t *testing.T) {
	tbl := newTestTable(t)
	rid, err := tbl.Insert([]int64{1, 30, 100})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	values, err := tbl.Select(rid)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !reflect.DeepEqual(values, []int64{1, 30, 100}) {
		t.Fatalf("select = %v", values)
	}
}

func TestUpdateThenSelectVersion(t *testing.T) {
	tbl := newTestTable(t)
	rid, err := tbl.Insert([]int64{1, 30, 100})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tbl.Update(rid, []*int64{nil, ptr(31), nil}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := tbl.Update(rid, []*int64{nil, ptr(32), nil}); err != nil {
		t.Fatalf("update 2: %v", err)
	}

	latest, err := tbl.Select(rid)
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if !reflect.DeepEqual(latest, []int64{1, 32, 100}) {
		t.Fatalf("latest select = %v", latest)
	}

	prev, err := tbl.SelectVersion(rid, -1)
	if err != nil {
		t.Fatalf("select_version -1: %v", err)
	}
	if !reflect.DeepEqual(prev, []int64{1, 31, 100}) {
		t.Fatalf("select_version(-1) = %v", prev)
	}

	original, err := tbl.SelectVersion(rid, -2)
	if err != nil {
		t.Fatalf("select_version -2: %v", err)
	}
	if !reflect.DeepEqual(original, []int64{1, 30, 100}) {
		t.Fatalf("select_version(-2) = %v", original)
	}
}

func TestSumAcrossMultipleUpdates(t *testing.T) {
	tbl := newTestTable(t)
	r1, _ := tbl.Insert([]int64{1, 10, 0})
	r2, _ := tbl.Insert([]int64{2, 20, 0})
	_ = r1
	if err := tbl.Update(r2, []*int64{nil, ptr(25), nil}); err != nil {
		t.Fatalf("update: %v", err)
	}

	sum, err := tbl.Sum(1, 2, 1)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if sum != 35 {
		t.Fatalf("sum = %d, want 35", sum)
	}

	sumPrev, err := tbl.SumVersion(1, 2, 1, -1)
	if err != nil {
		t.Fatalf("sum_version: %v", err)
	}
	if sumPrev != 30 {
		t.Fatalf("sum_version(-1) = %d, want 30", sumPrev)
	}
}

func TestDeleteExcludesFromSumAndSelect(t *testing.T) {
	tbl := newTestTable(t)
	r1, _ := tbl.Insert([]int64{1, 10, 0})
	r2, _ := tbl.Insert([]int64{2, 20, 0})
	_ = r2

	if err := tbl.Delete(r1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := tbl.Select(r1); err == nil {
		t.Fatal("expected error selecting deleted row")
	}
	sum, err := tbl.Sum(1, 2, 1)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	if sum != 20 {
		t.Fatalf("sum after delete = %d, want 20", sum)
	}
}

func TestInsertAcrossMultiplePageRanges(t *testing.T) {
	tbl := newTestTable(t)
	// cfg: 8 cells/page -> 7 usable per page, 2 base pages per range -> 14
	// rows fill one range. Insert enough to roll into a second range.
	for i := int64(0); i < 20; i++ {
		if _, err := tbl.Insert([]int64{i, i * 10, 0}); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if len(tbl.PageRanges()) < 2 {
		t.Fatalf("expected rollover to a second page range, got %d ranges", len(tbl.PageRanges()))
	}
	sum, err := tbl.Sum(0, 19, 1)
	if err != nil {
		t.Fatalf("sum: %v", err)
	}
	var want int64
	for i := int64(0); i < 20; i++ {
		want += i * 10
	}
	if sum != want {
		t.Fatalf("sum = %d, want %d", sum, want)
	}
}
