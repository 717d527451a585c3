package txn

import "fmt"

// QueryKind identifies which table operation a Query performs.
type QueryKind int

const (
	QueryInsert QueryKind = iota
	QueryUpdate
	QuerySelect
	QuerySelectVersion
	QuerySum
	QuerySumVersion
	QueryDelete
)

// Query is one statement within a Transaction.
type Query struct {
	Kind    QueryKind
	Table   string
	Key     int64    // primary key (update/select/select_version/delete), or sum range low
	KeyHigh int64    // sum/sum_version range high
	Values  []*int64 // insert (all non-nil) / update (nil = unchanged)
	Column  int      // sum/sum_version target column
	Version int      // select_version/sum_version: <= 0, 0 = latest
}

// Result holds the outcome of one Query.
type Result struct {
	RID    int64
	Values []int64
	Sum    int64
	Err    error
}

// Transaction is an ordered list of queries admitted and executed as a
// unit: either every write query's primary key is free to claim, or none
// of the transaction runs.
type Transaction struct {
	ID      int64
	queries []Query
	Results []Result
}

// NewTransaction creates an empty transaction with the given id.
func NewTransaction(id int64) *Transaction {
	return &Transaction{ID: id}
}

func (tx *Transaction) AddInsert(table string, values []int64) {
	v := make([]*int64, len(values))
	for i := range values {
		val := values[i]
		v[i] = &val
	}
	tx.queries = append(tx.queries, Query{Kind: QueryInsert, Table: table, Values: v})
}

func (tx *Transaction) AddUpdate(table string, key int64, values []*int64) {
	tx.queries = append(tx.queries, Query{Kind: QueryUpdate, Table: table, Key: key, Values: values})
}

func (tx *Transaction) AddSelect(table string, key int64) {
	tx.queries = append(tx.queries, Query{Kind: QuerySelect, Table: table, Key: key})
}

func (tx *Transaction) AddSelectVersion(table string, key int64, version int) {
	tx.queries = append(tx.queries, Query{Kind: QuerySelectVersion, Table: table, Key: key, Version: version})
}

func (tx *Transaction) AddSum(table string, keyLow, keyHigh int64, column int) {
	tx.queries = append(tx.queries, Query{Kind: QuerySum, Table: table, Key: keyLow, KeyHigh: keyHigh, Column: column})
}

func (tx *Transaction) AddSumVersion(table string, keyLow, keyHigh int64, column, version int) {
	tx.queries = append(tx.queries, Query{Kind: QuerySumVersion, Table: table, Key: keyLow, KeyHigh: keyHigh, Column: column, Version: version})
}

func (tx *Transaction) AddDelete(table string, key int64) {
	tx.queries = append(tx.queries, Query{Kind: QueryDelete, Table: table, Key: key})
}

// writeKey identifies one primary key a transaction's write queries touch,
// and whether that query is an insert (which requires the key be absent)
// or an update/delete (which requires it be present).
type writeKey struct {
	table    string
	key      int64
	isInsert bool
}

// writeKeys lists every key an admission pass must validate and lock.
// Readers (select/select_version/sum/sum_version) never appear here: per
// the concurrency model, reads take no locks. An update that targets a new
// primary-key value (Values[keyColumn] set to something other than Key)
// contributes two entries: a Modify-style claim on the old key and a
// Create-style claim on the new one, so a concurrent transaction can't
// claim the new key out from under it.
func (tx *Transaction) writeKeys(provider TableProvider) []writeKey {
	var keys []writeKey
	for _, q := range tx.queries {
		switch q.Kind {
		case QueryInsert:
			col := primaryKeyColumnOf(provider, q.Table)
			if col >= 0 && col < len(q.Values) && q.Values[col] != nil {
				keys = append(keys, writeKey{table: q.Table, key: *q.Values[col], isInsert: true})
			}
		case QueryUpdate:
			keys = append(keys, writeKey{table: q.Table, key: q.Key, isInsert: false})
			col := primaryKeyColumnOf(provider, q.Table)
			if col >= 0 && col < len(q.Values) && q.Values[col] != nil && *q.Values[col] != q.Key {
				keys = append(keys, writeKey{table: q.Table, key: *q.Values[col], isInsert: true})
			}
		case QueryDelete:
			keys = append(keys, writeKey{table: q.Table, key: q.Key, isInsert: false})
		}
	}
	return keys
}

// primaryKeyColumnOf looks up table's primary-key column index, or -1 if
// the table doesn't exist (admission will reject the query on its own).
func primaryKeyColumnOf(provider TableProvider, table string) int {
	tbl, ok := provider.GetTable(table)
	if !ok {
		return -1
	}
	return tbl.PrimaryKeyColumn()
}

// run executes every query against provider's tables in order, recording
// one Result per query. It stops at the first error; every remaining
// query's Result records that it was skipped because a prior query failed.
func (tx *Transaction) run(provider TableProvider) {
	tx.Results = make([]Result, len(tx.queries))
	for i, q := range tx.queries {
		tx.Results[i] = runQuery(provider, q)
		if tx.Results[i].Err != nil {
			for j := i + 1; j < len(tx.queries); j++ {
				tx.Results[j] = Result{Err: fmt.Errorf("txn: skipped after prior query failed")}
			}
			return
		}
	}
}

func runQuery(provider TableProvider, q Query) Result {
	tbl, ok := provider.GetTable(q.Table)
	if !ok {
		return Result{Err: fmt.Errorf("txn: unknown table %q", q.Table)}
	}
	switch q.Kind {
	case QueryInsert:
		values := make([]int64, len(q.Values))
		for i, v := range q.Values {
			if v != nil {
				values[i] = *v
			}
		}
		rid, err := tbl.Insert(values)
		return Result{RID: rid, Err: err}
	case QueryUpdate:
		rid, err := tbl.LocatePrimaryKey(q.Key)
		if err != nil {
			return Result{Err: err}
		}
		err = tbl.Update(rid, q.Values)
		return Result{Err: err}
	case QuerySelect:
		rid, err := tbl.LocatePrimaryKey(q.Key)
		if err != nil {
			return Result{Err: err}
		}
		values, err := tbl.Select(rid)
		return Result{Values: values, Err: err}
	case QuerySelectVersion:
		rid, err := tbl.LocatePrimaryKey(q.Key)
		if err != nil {
			return Result{Err: err}
		}
		values, err := tbl.SelectVersion(rid, q.Version)
		return Result{Values: values, Err: err}
	case QuerySum:
		sum, err := tbl.Sum(q.Key, q.KeyHigh, q.Column)
		return Result{Sum: sum, Err: err}
	case QuerySumVersion:
		sum, err := tbl.SumVersion(q.Key, q.KeyHigh, q.Column, q.Version)
		return Result{Sum: sum, Err: err}
	case QueryDelete:
		rid, err := tbl.LocatePrimaryKey(q.Key)
		if err != nil {
			return Result{Err: err}
		}
		err = tbl.Delete(rid)
		return Result{Err: err}
	default:
		return Result{Err: fmt.Errorf("txn: unknown query kind %v", q.Kind)}
	}
}
