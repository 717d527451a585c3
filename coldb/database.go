// Package coldb is the embedding facade for the storage engine: open a
// directory, create or fetch tables, and submit transactions against them.
package coldb

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Felmond13/coldb/merge"
	"github.com/Felmond13/coldb/storage"
	"github.com/Felmond13/coldb/table"
	"github.com/Felmond13/coldb/txn"
)

// Database is a directory of tables sharing one buffer pool, one merger,
// and one transaction scheduler.
type Database struct {
	mu  sync.RWMutex
	dir string
	cfg storage.Config
	log *zap.Logger

	bp        *storage.BufferPool
	tables    map[string]*table.Table
	nextTable int

	merger    *merge.Merger
	scheduler *txn.TransactionScheduler
	lock      *storage.DirLock
}

// Options configures Open. A zero value uses storage.DefaultConfig() and a
// no-op logger.
type Options struct {
	Config        storage.Config
	Logger        *zap.Logger
	MergeInterval time.Duration
}

// Open opens (creating if necessary) a database rooted at dir. An empty dir
// runs entirely in memory, useful for tests. Close is the only persistence
// point: there is no crash recovery or write-ahead log.
func Open(dir string, opts Options) (*Database, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	cfg := opts.Config
	if cfg.CellsPerPage == 0 {
		cfg = storage.DefaultConfig()
	}

	var lock *storage.DirLock
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("coldb: open %s: %w", dir, err)
		}
		l, err := storage.LockDirectory(filepath.Join(dir, "bp.hdr"))
		if err != nil {
			return nil, fmt.Errorf("coldb: open %s: %w", dir, err)
		}
		lock = l
	}

	bp := storage.NewBufferPool(cfg, dir, opts.Logger)

	db := &Database{
		dir:    dir,
		cfg:    cfg,
		log:    opts.Logger,
		bp:     bp,
		tables: make(map[string]*table.Table),
		lock:   lock,
	}
	db.scheduler = txn.NewScheduler(db, opts.Logger)
	db.merger = merge.New(opts.MergeInterval, opts.Logger)

	if dir != "" {
		if err := db.loadExisting(); err != nil {
			lock.Unlock()
			return nil, err
		}
	}

	db.merger.Start()
	return db, nil
}

func (db *Database) headerPath() string {
	return filepath.Join(db.dir, "bp.hdr")
}

func (db *Database) tableDir(tableID int) string {
	return filepath.Join(db.dir, fmt.Sprintf("%d", tableID))
}

func (db *Database) tableHeaderPath(tableID int) string {
	return filepath.Join(db.tableDir(tableID), "table.hdr")
}

// loadExisting reads bp.hdr and every referenced table.hdr back into memory.
// A missing bp.hdr means this is a fresh directory, not an error.
func (db *Database) loadExisting() error {
	if _, err := os.Stat(db.headerPath()); err != nil {
		return nil
	}

	var hdr storage.BufferPoolHeader
	if err := storage.ReadCompressedHeader(db.headerPath(), &hdr); err != nil {
		return err
	}
	db.nextTable = hdr.NextTableID
	for name, tableID := range hdr.TableIdentifiers {
		var th storage.TableHeader
		if err := storage.ReadCompressedHeader(db.tableHeaderPath(tableID), &th); err != nil {
			return err
		}
		t := table.Restore(th, db.cfg, db.bp, db.log)
		db.tables[name] = t
		db.merger.Register(t)
	}
	return nil
}

// CreateTable creates and registers a new table with numColumns data
// columns and the given primary-key column index.
func (db *Database) CreateTable(name string, numColumns, keyColumn int) (*table.Table, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if _, exists := db.tables[name]; exists {
		return nil, fmt.Errorf("coldb: table %q already exists", name)
	}
	tableID := db.nextTable
	db.nextTable++

	t := table.New(tableID, name, numColumns, keyColumn, db.cfg, db.bp, db.log)
	db.tables[name] = t
	db.merger.Register(t)
	return t, nil
}

// GetTable returns the named table, if it exists. It satisfies
// txn.TableProvider, wrapping *table.Table as a txn.TableHandle.
func (db *Database) GetTable(name string) (txn.TableHandle, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	t, ok := db.tables[name]
	return t, ok
}

// Table returns the named table's concrete type, for callers that need the
// full table.Table API (e.g. direct page-range inspection in tests).
func (db *Database) Table(name string) (*table.Table, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	t, ok := db.tables[name]
	return t, ok
}

// DropTable removes a table from the in-memory registry. Non-goal: actually
// reclaiming its on-disk pages (no vacuum/crash-recovery story in scope).
func (db *Database) DropTable(name string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.tables, name)
	db.merger.Unregister(name)
}

// NewTransaction allocates a fresh transaction id for the caller to build a
// txn.Transaction around.
func (db *Database) NewTransaction() *txn.Transaction {
	return txn.NewTransaction(db.scheduler.NewTransactionID())
}

// Submit runs tx on its own goroutine; the returned channel yields tx (with
// Results populated) once it finishes or is dropped.
func (db *Database) Submit(tx *txn.Transaction) <-chan *txn.Transaction {
	return db.scheduler.Submit(tx)
}

// SubmitAndWait submits tx and blocks for its outcome.
func (db *Database) SubmitAndWait(tx *txn.Transaction) *txn.Transaction {
	return db.scheduler.SubmitAndWait(tx)
}

// RunWorker hands transactions to a dedicated FIFO worker goroutine: within
// one worker, transactions are admitted and executed strictly in
// submission order, and an admission retry is requeued to the back of that
// same FIFO rather than retried in place. Returns a worker id for
// JoinWorker.
func (db *Database) RunWorker(transactions []*txn.Transaction) int64 {
	return db.scheduler.RunWorker(transactions)
}

// JoinWorker blocks until workerID's queue has fully drained, then returns
// its transactions (with Results populated) in submission order.
func (db *Database) JoinWorker(workerID int64) []*txn.Transaction {
	return db.scheduler.JoinWorker(workerID)
}

// Close stops the merger, then persists the buffer pool's dirty pages and
// every table's header. This is the engine's only durability point.
func (db *Database) Close() error {
	db.merger.Stop()

	db.mu.Lock()
	defer db.mu.Unlock()
	defer db.lock.Unlock()

	if err := db.bp.Persist(); err != nil {
		return fmt.Errorf("coldb: close: %w", err)
	}

	if db.dir != "" {
		tableIdentifiers := make(map[string]int, len(db.tables))
		for name, t := range db.tables {
			tableIdentifiers[name] = t.TableID
			if err := os.MkdirAll(db.tableDir(t.TableID), 0o755); err != nil {
				return fmt.Errorf("coldb: close: %w", err)
			}
			th := t.Snapshot()
			if err := storage.WriteCompressedHeader(db.tableHeaderPath(t.TableID), th); err != nil {
				return fmt.Errorf("coldb: close: %w", err)
			}
		}
		hdr := storage.BufferPoolHeader{TableIdentifiers: tableIdentifiers, NextTableID: db.nextTable}
		if err := storage.WriteCompressedHeader(db.headerPath(), hdr); err != nil {
			return fmt.Errorf("coldb: close: %w", err)
		}
	}

	return db.bp.Close()
}
