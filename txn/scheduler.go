package txn

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// MaxAdmissionRetries bounds how many admission attempts a transaction gets
// (the first attempt included) before the worker running it gives up on
// temporary aborts and drops it.
const MaxAdmissionRetries = 10

// TransactionScheduler admits and runs transactions. There is no shared
// worker pool: each call to RunWorker spawns one goroutine that owns a FIFO
// queue of transactions and processes it strictly in order — an admission
// conflict requeues the transaction to the back of that same FIFO rather
// than retrying it in place, so other queued transactions in the worker get
// a turn first.
type TransactionScheduler struct {
	manager  *TransactionManager
	provider TableProvider
	log      *zap.Logger

	nextID       int64 // atomic
	nextWorkerID int64 // atomic

	mu      sync.Mutex
	workers map[int64]*workerHandle
}

// workerHandle tracks one RunWorker call: the transactions it was given (in
// submission order, mutated in place as each one's Results are filled in)
// and a channel closed once every one of them has been admitted-and-run,
// permanently aborted, or dropped after exhausting retries.
type workerHandle struct {
	transactions []*Transaction
	done         chan struct{}
}

// NewScheduler creates a scheduler over provider's tables.
func NewScheduler(provider TableProvider, log *zap.Logger) *TransactionScheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &TransactionScheduler{
		manager:  NewTransactionManager(),
		provider: provider,
		log:      log,
		workers:  make(map[int64]*workerHandle),
	}
}

// NewTransactionID allocates a monotonic transaction id.
func (s *TransactionScheduler) NewTransactionID() int64 {
	return atomic.AddInt64(&s.nextID, 1) - 1
}

// queuedTx is one worker-queue entry: a transaction plus how many admission
// attempts it has already used.
type queuedTx struct {
	tx      *Transaction
	attempt int
}

// RunWorker hands transactions to a single new goroutine that processes
// them as a FIFO queue, one at a time: pop the front, ask the manager to
// admit it, and either run it, fail it permanently, or — on a temporary
// abort — push it to the back of the same queue with an incremented retry
// count. Returns a worker id for JoinWorker to wait on.
func (s *TransactionScheduler) RunWorker(transactions []*Transaction) int64 {
	workerID := atomic.AddInt64(&s.nextWorkerID, 1) - 1
	h := &workerHandle{transactions: transactions, done: make(chan struct{})}

	s.mu.Lock()
	s.workers[workerID] = h
	s.mu.Unlock()

	go s.runWorker(workerID, h)
	return workerID
}

// JoinWorker blocks until workerID's queue has fully drained, then returns
// its transactions (with Results populated) in the order they were
// submitted to the worker. Returns nil for an unknown or already-joined
// worker id.
func (s *TransactionScheduler) JoinWorker(workerID int64) []*Transaction {
	s.mu.Lock()
	h, ok := s.workers[workerID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	<-h.done
	s.mu.Lock()
	delete(s.workers, workerID)
	s.mu.Unlock()
	return h.transactions
}

// Submit runs tx on a dedicated one-transaction worker and returns a
// channel that receives the transaction once it either completes or is
// dropped after admission failure. The channel is closed after the single
// send. A thin convenience wrapper over RunWorker/JoinWorker.
func (s *TransactionScheduler) Submit(tx *Transaction) <-chan *Transaction {
	done := make(chan *Transaction, 1)
	workerID := s.RunWorker([]*Transaction{tx})
	go func() {
		defer close(done)
		done <- s.JoinWorker(workerID)[0]
	}()
	return done
}

// SubmitAndWait submits tx and blocks until it finishes.
func (s *TransactionScheduler) SubmitAndWait(tx *Transaction) *Transaction {
	return <-s.Submit(tx)
}

func (s *TransactionScheduler) runWorker(workerID int64, h *workerHandle) {
	defer close(h.done)

	queue := make([]queuedTx, len(h.transactions))
	for i, tx := range h.transactions {
		queue[i] = queuedTx{tx: tx}
	}

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		switch s.manager.Admit(item.tx, s.provider) {
		case AbortNone:
			item.tx.run(s.provider)
			s.manager.Release(item.tx, s.provider)
		case AbortPermanent:
			s.log.Info("transaction permanently aborted",
				zap.Int64("worker_id", workerID),
				zap.Int64("txn_id", item.tx.ID))
			s.fail(item.tx, fmt.Errorf("txn: permanently aborted at admission"))
		case AbortTemporary:
			item.attempt++
			if item.attempt >= MaxAdmissionRetries {
				s.log.Warn("transaction dropped after exhausting retries",
					zap.Int64("worker_id", workerID),
					zap.Int64("txn_id", item.tx.ID),
					zap.Int("retries", MaxAdmissionRetries))
				s.fail(item.tx, fmt.Errorf("txn: dropped after %d admission attempts", MaxAdmissionRetries))
				continue
			}
			s.log.Debug("transaction admission conflict, requeued to back of worker",
				zap.Int64("worker_id", workerID),
				zap.Int64("txn_id", item.tx.ID),
				zap.Int("attempt", item.attempt))
			if len(queue) == 0 {
				// Nothing else in this worker to make progress on while
				// the conflicting key is held elsewhere; back off briefly
				// instead of spinning the goroutine.
				time.Sleep(backoff(item.attempt))
			}
			queue = append(queue, item)
		}
	}
}

func (s *TransactionScheduler) fail(tx *Transaction, err error) {
	tx.Results = make([]Result, len(tx.queries))
	for i := range tx.Results {
		tx.Results[i] = Result{Err: err}
	}
}

// backoff returns a small jittered delay that grows with attempt, so a
// worker stalled on a single conflicting transaction doesn't hammer the
// lock table in lockstep.
func backoff(attempt int) time.Duration {
	base := time.Duration(attempt+1) * time.Millisecond
	jitter := time.Duration(rand.Intn(500)) * time.Microsecond
	return base + jitter
}
