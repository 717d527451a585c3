package txn_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Felmond13/coldb/storage"
	"github.com/Felmond13/coldb/table"
	"github.com/Felmond13/coldb/txn"
)

type tableSet struct {
	mu     sync.RWMutex
	tables map[string]*table.Table
}

func (s *tableSet) GetTable(name string) (txn.TableHandle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	return t, ok
}

func newTableSet(t *testing.T) *tableSet {
	cfg := storage.DefaultConfig()
	cfg.CellsPerPage = 16
	bp := storage.NewBufferPool(cfg, "", nil)
	accounts := table.New(1, "accounts", 2, 0, cfg, bp, nil)
	return &tableSet{tables: map[string]*table.Table{"accounts": accounts}}
}

func TestSchedulerInsertThenSelect(t *testing.T) {
	set := newTableSet(t)
	sched := txn.NewScheduler(set, nil)

	tx := txn.NewTransaction(sched.NewTransactionID())
	tx.AddInsert("accounts", []int64{1, 100})
	done := sched.SubmitAndWait(tx)
	require.NoError(t, done.Results[0].Err)

	tx2 := txn.NewTransaction(sched.NewTransactionID())
	tx2.AddSelect("accounts", 1)
	done2 := sched.SubmitAndWait(tx2)
	require.NoError(t, done2.Results[0].Err)
	require.Equal(t, []int64{1, 100}, done2.Results[0].Values)
}

func TestSchedulerSerializesConflictingUpdatesOnSameKey(t *testing.T) {
	set := newTableSet(t)
	sched := txn.NewScheduler(set, nil)

	seed := txn.NewTransaction(sched.NewTransactionID())
	seed.AddInsert("accounts", []int64{1, 0})
	require.NoError(t, sched.SubmitAndWait(seed).Results[0].Err)

	var wg sync.WaitGroup
	const n = 5
	results := make([]*txn.Transaction, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := int64(1)
			tx := txn.NewTransaction(sched.NewTransactionID())
			tx.AddUpdate("accounts", 1, []*int64{nil, &v})
			results[i] = sched.SubmitAndWait(tx)
		}()
	}
	wg.Wait()

	for _, r := range results {
		require.NotNil(t, r)
		require.NoError(t, r.Results[0].Err, "concurrent updates on the same key should all eventually admit, never deadlock")
	}

	final := txn.NewTransaction(sched.NewTransactionID())
	final.AddSelect("accounts", 1)
	out := sched.SubmitAndWait(final)
	require.NoError(t, out.Results[0].Err)
	require.Equal(t, int64(1), out.Results[0].Values[1])
}

func TestSchedulerPermanentlyAbortsDuplicateInsert(t *testing.T) {
	set := newTableSet(t)
	sched := txn.NewScheduler(set, nil)

	first := txn.NewTransaction(sched.NewTransactionID())
	first.AddInsert("accounts", []int64{5, 50})
	require.NoError(t, sched.SubmitAndWait(first).Results[0].Err)

	dup := txn.NewTransaction(sched.NewTransactionID())
	dup.AddInsert("accounts", []int64{5, 99})
	out := sched.SubmitAndWait(dup)
	require.Error(t, out.Results[0].Err, "inserting an already-live primary key must abort, even after retries")
}

func TestSchedulerPermanentlyAbortsUpdateOfMissingKey(t *testing.T) {
	set := newTableSet(t)
	sched := txn.NewScheduler(set, nil)

	tx := txn.NewTransaction(sched.NewTransactionID())
	v := int64(1)
	tx.AddUpdate("accounts", 999, []*int64{nil, &v})
	out := sched.SubmitAndWait(tx)
	require.Error(t, out.Results[0].Err)
}
