package projector

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/restomesh/fulfillment/internal/bus"
)

// Pool is a fixed set of single-concurrency lanes. Every message is routed
// to one lane by a deterministic hash of its partition key, so messages
// sharing a key are handled serially in arrival order while different keys
// proceed in parallel. The lane count is the ordering-domain size: it is
// fixed configuration, changing it requires a deploy.
type Pool struct {
	lanes   []chan task
	handler bus.Handler
	wg      sync.WaitGroup

	closeOnce sync.Once
}

type task struct {
	ctx context.Context
	msg bus.Message
}

// NewPool starts n lane workers, each draining its own queue of buffer
// messages. The buffer is the prefetch headroom that keeps lanes fed while
// others are busy; it bounds memory, it does not affect ordering.
func NewPool(n, buffer int, handler bus.Handler) *Pool {
	if n < 1 {
		n = 1
	}
	if buffer < 1 {
		buffer = 1
	}

	p := &Pool{
		lanes:   make([]chan task, n),
		handler: handler,
	}
	for i := range p.lanes {
		p.lanes[i] = make(chan task, buffer)
		p.wg.Add(1)
		go p.drain(i)
	}
	return p
}

// Dispatch routes msg to the lane owning key, blocking while that lane's
// queue is full. Dispatch must be called from a single goroutine; a serial
// dispatcher is what guarantees same-key messages enter the lane in
// delivery order.
func (p *Pool) Dispatch(ctx context.Context, key string, msg bus.Message) error {
	select {
	case p.lanes[p.partition(key)] <- task{ctx: ctx, msg: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// partition maps a key to a lane index with FNV-1a. Deterministic across
// restarts so a key always lands in the same ordering domain.
func (p *Pool) partition(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(p.lanes)))
}

func (p *Pool) drain(lane int) {
	defer p.wg.Done()
	for t := range p.lanes[lane] {
		if err := p.handler(t.ctx, t.msg); err != nil {
			// The handler is expected to dead-letter its own
			// failures; anything surfacing here is already lost to
			// retries, so log and keep the lane moving.
			slog.ErrorContext(t.ctx, "partition handler error",
				"lane", lane, "type", t.msg.Type, "key", t.msg.Key, "error", err)
		}
	}
}

// Close stops accepting work and waits for the lanes to finish what they
// already queued.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		for _, lane := range p.lanes {
			close(lane)
		}
	})
	p.wg.Wait()
}
