package engine

import (
	"context"
	"sync"
	"time"

	"pocketcache/internal/logging"
	"pocketcache/internal/telemetry"
)

// offlineRecheck is how often the worker re-checks reachability while
// the monitor reports offline.
const offlineRecheck = time.Second

// prefetcher executes the predictor's recommendations on a single
// background worker. The queue is bounded and drops hints when full;
// prefetch is best effort and must never push back on reads.
type prefetcher struct {
	engine *Engine
	batch  int
	delay  time.Duration

	queue chan string

	mu      sync.Mutex
	pending map[string]struct{}

	stop chan struct{}
	wg   sync.WaitGroup
}

func newPrefetcher(e *Engine, batch, queueSize int, delay time.Duration) *prefetcher {
	p := &prefetcher{
		engine:  e,
		batch:   batch,
		delay:   delay,
		queue:   make(chan string, queueSize),
		pending: make(map[string]struct{}),
		stop:    make(chan struct{}),
	}
	p.wg.Add(1)
	go p.worker()
	return p
}

// enqueue queues candidate keys for warm-up. Keys already cached or
// already pending are skipped.
func (p *prefetcher) enqueue(keys []string) {
	for _, key := range keys {
		if _, cached := p.engine.index.Get(key); cached {
			continue
		}

		p.mu.Lock()
		if _, dup := p.pending[key]; dup {
			p.mu.Unlock()
			continue
		}
		p.pending[key] = struct{}{}
		p.mu.Unlock()

		select {
		case p.queue <- key:
		default:
			p.forget(key)
		}
	}
}

func (p *prefetcher) forget(key string) {
	p.mu.Lock()
	delete(p.pending, key)
	p.mu.Unlock()
}

// reset drops the pending set after a cache clear. Keys still sitting
// in the queue are re-checked against the index when their turn comes.
func (p *prefetcher) reset() {
	p.mu.Lock()
	p.pending = make(map[string]struct{})
	p.mu.Unlock()
}

// close stops the worker. The batch in flight finishes; queued
// remainder is dropped.
func (p *prefetcher) close() {
	close(p.stop)
	p.wg.Wait()
}

func (p *prefetcher) worker() {
	defer p.wg.Done()

	batchIndex := 0
	for {
		select {
		case <-p.stop:
			return
		case key := <-p.queue:
			batch := p.collect(key)
			if !p.waitOnline() {
				return
			}
			p.run(batch)

			if len(p.queue) == 0 {
				batchIndex = 0
				continue
			}
			// Consecutive batches back off progressively so a burst of
			// predictions never competes with foreground reads.
			batchIndex++
			if !p.pause(time.Duration(batchIndex) * p.delay) {
				return
			}
		}
	}
}

// collect drains up to a full batch from the queue without blocking.
func (p *prefetcher) collect(first string) []string {
	batch := []string{first}
	for len(batch) < p.batch {
		select {
		case key := <-p.queue:
			batch = append(batch, key)
		default:
			return batch
		}
	}
	return batch
}

// waitOnline blocks while the device is offline. Returns false when
// the prefetcher was stopped while waiting.
func (p *prefetcher) waitOnline() bool {
	for !p.engine.monitor.Online() {
		select {
		case <-p.stop:
			return false
		case <-time.After(offlineRecheck):
		}
	}
	return true
}

func (p *prefetcher) pause(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	select {
	case <-p.stop:
		return false
	case <-time.After(d):
		return true
	}
}

func (p *prefetcher) run(batch []string) {
	ctx := context.Background()
	for _, key := range batch {
		p.fetch(ctx, key)
		p.forget(key)
	}
}

func (p *prefetcher) fetch(ctx context.Context, key string) {
	e := p.engine

	e.loaderMu.RLock()
	loader := e.loader
	e.loaderMu.RUnlock()
	if loader == nil {
		return
	}
	// The key may have been stored by a foreground Put since it was
	// enqueued.
	if _, cached := e.index.Get(key); cached {
		return
	}

	start := time.Now()
	value, opts, err := loader(ctx, key)
	if err != nil {
		logging.Debug(ctx, logging.ComponentPrefetch, logging.ActionPrefetch, "prefetch load failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return
	}
	if value == nil {
		return
	}

	if err := e.Put(ctx, key, value, opts); err != nil {
		logging.Debug(ctx, logging.ComponentPrefetch, logging.ActionPrefetch, "prefetch store failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		return
	}

	e.ledger.Record(telemetry.OpPrefetch, key, 0, time.Since(start))
	logging.Debug(ctx, logging.ComponentPrefetch, logging.ActionPrefetch, "warmed predicted key", map[string]interface{}{
		"key": key,
	})
}
