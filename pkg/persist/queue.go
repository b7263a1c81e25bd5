// Package persist decouples durable writes from the mutation path. Every
// mutation batch enqueues a snapshot here and returns immediately; a
// single background worker applies them to the store. A full queue drops
// the new item (the next successful sweep supersedes it) and a failed
// write is logged, never surfaced to the mutation path.
package persist

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"

	"chainbot/pkg/logger"
	"chainbot/pkg/models"
	"chainbot/pkg/store"
	"chainbot/pkg/telemetry"
)

const defaultCapacity = 1024

// Op is one pending durable write. ID is empty for a full working-set
// snapshot, in which case Payload holds a marshaled snapshot list;
// otherwise Payload holds one marshaled chain snapshot.
type Op struct {
	ID      string
	Payload []byte
}

type item struct {
	op  *Op
	buf *bytebufferpool.ByteBuffer
}

// Queue is a bounded, threadsafe queue of pending writes with a single
// background worker.
type Queue struct {
	ch         chan item
	capacity   int
	maxPayload int

	enqueued uint64
	dropped  uint64
	applied  uint64
	failed   uint64

	closed    int32
	closeOnce sync.Once
	enqWg     sync.WaitGroup
	done      chan struct{}
}

// NewQueue creates a bounded queue of the given capacity (>0).
// maxPayload caps the marshaled size of a single write; 0 means no cap.
func NewQueue(capacity, maxPayload int) *Queue {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Queue{
		ch:         make(chan item, capacity),
		capacity:   capacity,
		maxPayload: maxPayload,
		done:       make(chan struct{}),
	}
}

// EnqueueChain schedules one chain snapshot for persistence. Fire and
// forget: a full or closed queue drops the item with a counter bump and a
// log line.
func (q *Queue) EnqueueChain(snap models.ChainSnapshot) {
	data, err := json.Marshal(snap)
	if err != nil {
		logger.Error("persist_marshal_failed", "chain", snap.ID, "error", err)
		return
	}
	q.enqueue(snap.ID, data)
}

// EnqueueAll schedules a full working-set snapshot. Consecutive queued
// full-set snapshots are coalesced by the worker; only the newest is
// written.
func (q *Queue) EnqueueAll(snaps []models.ChainSnapshot) {
	data, err := json.Marshal(snaps)
	if err != nil {
		logger.Error("persist_marshal_failed", "chains", len(snaps), "error", err)
		return
	}
	q.enqueue("", data)
}

func (q *Queue) enqueue(id string, data []byte) {
	if q.maxPayload > 0 && len(data) > q.maxPayload {
		atomic.AddUint64(&q.dropped, 1)
		logger.Warn("persist_payload_too_large", "chain", id, "bytes", len(data), "max", q.maxPayload)
		return
	}
	if atomic.LoadInt32(&q.closed) == 1 {
		atomic.AddUint64(&q.dropped, 1)
		return
	}
	q.enqWg.Add(1)
	defer q.enqWg.Done()
	if atomic.LoadInt32(&q.closed) == 1 {
		atomic.AddUint64(&q.dropped, 1)
		return
	}
	bb := bytebufferpool.Get()
	bb.B = append(bb.B[:0], data...)
	it := item{
		op:  &Op{ID: id, Payload: bb.B},
		buf: bb,
	}
	select {
	case q.ch <- it:
		atomic.AddUint64(&q.enqueued, 1)
		telemetry.PersistQueueDepth.Set(float64(len(q.ch)))
	default:
		bytebufferpool.Put(bb)
		atomic.AddUint64(&q.dropped, 1)
		logger.Warn("persist_queue_full", "capacity", q.capacity)
	}
}

// Run drains the queue until ctx is canceled and the queue is closed and
// empty. It is meant to run in exactly one goroutine.
func (q *Queue) Run(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case it, ok := <-q.ch:
			if !ok {
				return
			}
			q.applyBatch(q.gather(it))
		case <-ctx.Done():
			// drain whatever is already queued, then stop
			for {
				select {
				case it, ok := <-q.ch:
					if !ok {
						return
					}
					q.applyBatch(q.gather(it))
				default:
					return
				}
			}
		}
	}
}

// gather collects the first item plus everything immediately available,
// preserving enqueue order.
func (q *Queue) gather(first item) []item {
	batch := []item{first}
	for {
		select {
		case it, ok := <-q.ch:
			if !ok {
				return batch
			}
			batch = append(batch, it)
		default:
			return batch
		}
	}
}

// applyBatch writes a drained batch in order. Full-set snapshots are
// coalesced: only the newest in the batch lands, since each supersedes
// the previous one.
func (q *Queue) applyBatch(batch []item) {
	lastFull := -1
	for i, it := range batch {
		if it.op.ID == "" {
			lastFull = i
		}
	}
	for i, it := range batch {
		if it.op.ID == "" && i != lastFull {
			bytebufferpool.Put(it.buf)
			continue
		}
		q.apply(it)
	}
}

func (q *Queue) apply(it item) {
	var err error
	if it.op.ID == "" {
		var snaps []models.ChainSnapshot
		if err = json.Unmarshal(it.op.Payload, &snaps); err == nil {
			err = store.SaveChains(snaps)
		}
	} else {
		err = store.SaveChainRaw(it.op.ID, it.op.Payload)
	}
	bytebufferpool.Put(it.buf)
	telemetry.PersistQueueDepth.Set(float64(len(q.ch)))
	if err != nil {
		atomic.AddUint64(&q.failed, 1)
		telemetry.PersistFailures.Inc()
		logger.Error("persist_write_failed", "chain", it.op.ID, "error", err)
		return
	}
	atomic.AddUint64(&q.applied, 1)
}

// Close stops intake. Pending items are still drained by Run.
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		atomic.StoreInt32(&q.closed, 1)
		q.enqWg.Wait()
		close(q.ch)
	})
}

// Wait blocks until the worker has exited.
func (q *Queue) Wait() { <-q.done }

// Stats reports queue counters and current depth.
func (q *Queue) Stats() (enqueued, dropped, applied, failed uint64, depth int) {
	return atomic.LoadUint64(&q.enqueued),
		atomic.LoadUint64(&q.dropped),
		atomic.LoadUint64(&q.applied),
		atomic.LoadUint64(&q.failed),
		len(q.ch)
}
