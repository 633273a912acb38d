package builder

import (
	"fmt"
	"sync"
	"time"

	"github.com/colorfulnotion/pegrollup/common"
	log "github.com/colorfulnotion/pegrollup/log"
	"github.com/colorfulnotion/pegrollup/rollerrors"
	"github.com/colorfulnotion/pegrollup/types"
)

// DefaultMaxQueueDepth bounds the number of soft transactions waiting for a
// block.
const DefaultMaxQueueDepth = 4096

// SoftResult is delivered once on the channel returned by Enqueue: the
// intermediate root and block of an included transaction, or the reason it
// was left out.
type SoftResult struct {
	BlockNumber uint32
	Root        common.Hash
	Err         error
}

type queuedTx struct {
	tx      types.Transaction
	result  chan SoftResult
	addedAt time.Time
}

func (q *queuedTx) resolve(r SoftResult) {
	// buffered with capacity 1 and resolved exactly once
	q.result <- r
	close(q.result)
}

// TxQueueStats holds statistics about the soft transaction queue.
type TxQueueStats struct {
	Queued   int `json:"queued"`
	Received int `json:"received"`
	Included int `json:"included"`
	Rejected int `json:"rejected"`
	Dropped  int `json:"dropped"`
}

// TxQueue is the bounded FIFO of soft transactions owned by a Builder.
type TxQueue struct {
	mu       sync.Mutex
	items    []*queuedTx
	maxDepth int
	closed   bool
	stats    TxQueueStats
}

func NewTxQueue(maxDepth int) *TxQueue {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxQueueDepth
	}
	return &TxQueue{maxDepth: maxDepth}
}

// Enqueue adds a copy of a soft transaction and returns the channel its
// result will be delivered on. Later changes to tx do not reach the queue.
func (q *TxQueue) Enqueue(tx types.Transaction) (<-chan SoftResult, error) {
	if tx == nil || !tx.Kind().IsSoft() {
		return nil, rollerrors.ErrBNotSoft
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, rollerrors.ErrBQueueClosed
	}
	if len(q.items) >= q.maxDepth {
		q.stats.Dropped++
		return nil, fmt.Errorf("%w depth %d", rollerrors.ErrBQueueFull, q.maxDepth)
	}
	item := &queuedTx{tx: types.CopyTransaction(tx), result: make(chan SoftResult, 1), addedAt: time.Now()}
	q.items = append(q.items, item)
	q.stats.Received++
	log.Debug(log.TxQueue, "TxQueue: added soft transaction", "kind", tx.Kind(), "from", types.AccountIndex(tx), "depth", len(q.items))
	return item.result, nil
}

// drain removes up to limit items (all when limit <= 0) in FIFO order.
func (q *TxQueue) drain(limit int) []*queuedTx {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	if limit > 0 && limit < n {
		n = limit
	}
	out := q.items[:n:n]
	q.items = append([]*queuedTx(nil), q.items[n:]...)
	return out
}

// requeue puts items back at the head of the queue after a failed build.
// Items are never dropped here even if that exceeds the depth bound.
func (q *TxQueue) requeue(items []*queuedTx) {
	if len(items) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(append([]*queuedTx(nil), items...), q.items...)
	log.Debug(log.TxQueue, "TxQueue: requeued after failed build", "count", len(items))
}

func (q *TxQueue) markIncluded(n, rejected int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stats.Included += n
	q.stats.Rejected += rejected
}

func (q *TxQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects every queued transaction and refuses new ones.
func (q *TxQueue) Close() {
	q.mu.Lock()
	items := q.items
	q.items = nil
	q.closed = true
	q.mu.Unlock()
	for _, it := range items {
		it.resolve(SoftResult{Err: rollerrors.ErrBQueueClosed})
	}
}

// GetStats returns current queue statistics
func (q *TxQueue) GetStats() TxQueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	s := q.stats
	s.Queued = len(q.items)
	return s
}
