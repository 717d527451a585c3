package coldb_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Felmond13/coldb/coldb"
)

func ptr(v int64) *int64 { return &v }

func openTestDB(t *testing.T) *coldb.Database {
	t.Helper()
	db, err := coldb.Open("", coldb.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBasicInsertAndSelect(t *testing.T) {
	db := openTestDB(t)
	_, err := db.CreateTable("grades", 2, 0)
	require.NoError(t, err)

	tx := db.NewTransaction()
	tx.AddInsert("grades", []int64{1, 90})
	require.NoError(t, db.SubmitAndWait(tx).Results[0].Err)

	read := db.NewTransaction()
	read.AddSelect("grades", 1)
	out := db.SubmitAndWait(read)
	require.NoError(t, out.Results[0].Err)
	require.Equal(t, []int64{1, 90}, out.Results[0].Values)
}

func TestUpdateAndSelectVersion(t *testing.T) {
	db := openTestDB(t)
	_, err := db.CreateTable("grades", 2, 0)
	require.NoError(t, err)

	insert := db.NewTransaction()
	insert.AddInsert("grades", []int64{1, 90})
	require.NoError(t, db.SubmitAndWait(insert).Results[0].Err)

	update := db.NewTransaction()
	update.AddUpdate("grades", 1, []*int64{nil, ptr(95)})
	require.NoError(t, db.SubmitAndWait(update).Results[0].Err)

	latest := db.NewTransaction()
	latest.AddSelect("grades", 1)
	require.Equal(t, []int64{1, 95}, db.SubmitAndWait(latest).Results[0].Values)

	previous := db.NewTransaction()
	previous.AddSelectVersion("grades", 1, -1)
	require.Equal(t, []int64{1, 90}, db.SubmitAndWait(previous).Results[0].Values)
}

func TestSumAndSumVersionAcrossMultipleUpdates(t *testing.T) {
	db := openTestDB(t)
	_, err := db.CreateTable("ledger", 2, 0)
	require.NoError(t, err)

	for i := int64(1); i <= 3; i++ {
		tx := db.NewTransaction()
		tx.AddInsert("ledger", []int64{i, i * 10})
		require.NoError(t, db.SubmitAndWait(tx).Results[0].Err)
	}
	for i := int64(1); i <= 3; i++ {
		tx := db.NewTransaction()
		tx.AddUpdate("ledger", i, []*int64{nil, ptr(i * 100)})
		require.NoError(t, db.SubmitAndWait(tx).Results[0].Err)
	}

	sumTx := db.NewTransaction()
	sumTx.AddSum("ledger", 1, 3, 1)
	sumOut := db.SubmitAndWait(sumTx)
	require.NoError(t, sumOut.Results[0].Err)
	require.Equal(t, int64(100+200+300), sumOut.Results[0].Sum)

	sumPrevTx := db.NewTransaction()
	sumPrevTx.AddSumVersion("ledger", 1, 3, 1, -1)
	sumPrevOut := db.SubmitAndWait(sumPrevTx)
	require.NoError(t, sumPrevOut.Results[0].Err)
	require.Equal(t, int64(10+20+30), sumPrevOut.Results[0].Sum)
}

func TestDeleteThenSumExcludesRow(t *testing.T) {
	db := openTestDB(t)
	_, err := db.CreateTable("ledger", 2, 0)
	require.NoError(t, err)

	for i := int64(1); i <= 2; i++ {
		tx := db.NewTransaction()
		tx.AddInsert("ledger", []int64{i, i * 10})
		require.NoError(t, db.SubmitAndWait(tx).Results[0].Err)
	}

	del := db.NewTransaction()
	del.AddDelete("ledger", 1)
	require.NoError(t, db.SubmitAndWait(del).Results[0].Err)

	sumTx := db.NewTransaction()
	sumTx.AddSum("ledger", 1, 2, 1)
	out := db.SubmitAndWait(sumTx)
	require.NoError(t, out.Results[0].Err)
	require.Equal(t, int64(20), out.Results[0].Sum)
}

func TestCloseAndReopenPersistsData(t *testing.T) {
	dir := t.TempDir()
	db, err := coldb.Open(dir, coldb.Options{})
	require.NoError(t, err)

	_, err = db.CreateTable("grades", 2, 0)
	require.NoError(t, err)
	tx := db.NewTransaction()
	tx.AddInsert("grades", []int64{1, 90})
	require.NoError(t, db.SubmitAndWait(tx).Results[0].Err)
	require.NoError(t, db.Close())

	reopened, err := coldb.Open(dir, coldb.Options{})
	require.NoError(t, err)
	defer reopened.Close()

	read := reopened.NewTransaction()
	read.AddSelect("grades", 1)
	out := reopened.SubmitAndWait(read)
	require.NoError(t, out.Results[0].Err)
	require.Equal(t, []int64{1, 90}, out.Results[0].Values)
}
