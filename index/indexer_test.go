package index

import (
	"reflect"
	"sort"
	"testing"
)

func TestColumnIndexInsertAndLocate(t *testing.T) {
	ci := NewColumnIndex()
	ci.Insert(10, 1)
	ci.Insert(10, 2)
	ci.Insert(20, 3)

	got := ci.Locate(10)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if !reflect.DeepEqual(got, []int64{1, 2}) {
		t.Fatalf("locate(10) = %v", got)
	}
}

func TestColumnIndexRemoveDropsEmptyEntry(t *testing.T) {
	ci := NewColumnIndex()
	ci.Insert(5, 1)
	ci.Remove(5, 1)
	if got := ci.Locate(5); len(got) != 0 {
		t.Fatalf("expected empty after remove, got %v", got)
	}
}

func TestColumnIndexLocateRangeInclusive(t *testing.T) {
	ci := NewColumnIndex()
	ci.Insert(1, 100)
	ci.Insert(5, 101)
	ci.Insert(10, 102)
	ci.Insert(15, 103)

	got := ci.LocateRange(5, 10)
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	if !reflect.DeepEqual(got, []int64{101, 102}) {
		t.Fatalf("locate_range(5,10) = %v", got)
	}
}

func TestIndexerPrimaryKeyAlwaysIndexed(t *testing.T) {
	idx := NewIndexer(0)
	idx.InsertRow([]int64{42, 7}, 1)
	if got := idx.LocatePrimaryKey(42); !reflect.DeepEqual(got, []int64{1}) {
		t.Fatalf("locate_primary_key(42) = %v", got)
	}
}

func TestIndexerUpdateColumnMovesEntry(t *testing.T) {
	idx := NewIndexer(0)
	idx.InsertRow([]int64{1, 100}, 1)
	ci := idx.CreateColumnIndex(1)
	idx.UpdateColumn(1, 100, 200, 1)
	if got := ci.Locate(100); len(got) != 0 {
		t.Fatalf("expected old value to be cleared, got %v", got)
	}
	if got := ci.Locate(200); !reflect.DeepEqual(got, []int64{1}) {
		t.Fatalf("expected new value indexed, got %v", got)
	}
}
