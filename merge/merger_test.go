package merge_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Felmond13/coldb/merge"
	"github.com/Felmond13/coldb/storage"
	"github.com/Felmond13/coldb/table"
)

func ptr(v int64) *int64 { return &v }

func TestMergerFoldsTailUpdatesIntoBase(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.CellsPerPage = 16
	cfg.MergeThreshold = 3
	bp := storage.NewBufferPool(cfg, "", nil)
	tbl := table.New(1, "widgets", 2, 0, cfg, bp, nil)

	rid, err := tbl.Insert([]int64{1, 0})
	require.NoError(t, err)

	for i := int64(1); i <= 5; i++ {
		require.NoError(t, tbl.Update(rid, []*int64{nil, ptr(i)}))
	}

	m := merge.New(10*time.Millisecond, nil)
	m.Register(tbl)
	m.Start()
	defer m.Stop()

	require.Eventually(t, func() bool {
		for _, pr := range tbl.PageRanges() {
			if pr.UpdateCount() == 0 && pr.TPS() >= 0 {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "merger should fold due page ranges and reset their update counter")

	values, err := tbl.Select(rid)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 5}, values, "merge must not change the logical value of a live row")
}

func TestMergerLeavesUntouchedRangesAlone(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.CellsPerPage = 16
	cfg.MergeThreshold = 100
	bp := storage.NewBufferPool(cfg, "", nil)
	tbl := table.New(1, "widgets", 2, 0, cfg, bp, nil)

	rid, err := tbl.Insert([]int64{1, 0})
	require.NoError(t, err)
	require.NoError(t, tbl.Update(rid, []*int64{nil, ptr(9)}))

	m := merge.New(5*time.Millisecond, nil)
	m.Register(tbl)
	m.Start()
	time.Sleep(30 * time.Millisecond)
	m.Stop()

	for _, pr := range tbl.PageRanges() {
		// 1 chain-head tail row from the insert, plus 1 from the update.
		require.Equal(t, int32(2), pr.UpdateCount(), "below-threshold ranges should be left for a later pass")
	}
	values, err := tbl.Select(rid)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 9}, values)
}
