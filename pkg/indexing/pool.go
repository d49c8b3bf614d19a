package indexing

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/burrow/pkg/cache"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
)

// DefaultWorkers is the pool size when none is configured.
const DefaultWorkers = 4

// Pause between retries when an index cannot advance yet (the main
// commit is not visible in its snapshot).
const retryBackoff = time.Millisecond

// task drives one secondary environment of one cache. A task is never
// run by two workers at once (guarded by its mutex) and is enqueued at
// most once at a time.
type task struct {
	cacheName string
	main      *cache.MainEnvironment
	secondary *cache.RwSecondaryEnvironment

	runMu  sync.Mutex
	queued bool
	dead   bool
}

// Pool is a fixed set of workers replaying the operation log into
// secondary environments. The cache wakes the pool on every commit; the
// pool re-queues tasks that could not fully catch up.
type Pool struct {
	mu      sync.Mutex
	cond    *sync.Cond
	tasks   []*task
	queue   []*task
	stopped bool
	wg      sync.WaitGroup
	logger  zerolog.Logger
}

// NewPool starts numWorkers workers (DefaultWorkers if <= 0).
func NewPool(numWorkers int) *Pool {
	if numWorkers <= 0 {
		numWorkers = DefaultWorkers
	}
	p := &Pool{logger: log.WithComponent("indexer")}
	p.cond = sync.NewCond(&p.mu)
	p.wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go p.worker()
	}
	return p
}

// AddCache registers every secondary environment of a cache and queues
// an initial catch-up run.
func (p *Pool) AddCache(c cache.RwCache) {
	main := c.MainEnvironment()
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, sec := range c.SecondaryEnvironments() {
		t := &task{cacheName: c.Name(), main: main, secondary: sec}
		p.tasks = append(p.tasks, t)
		p.enqueueLocked(t)
	}
	p.cond.Broadcast()
}

// Wake queues all of a cache's indexes after a commit.
func (p *Pool) Wake(cacheName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.tasks {
		if t.cacheName == cacheName {
			p.enqueueLocked(t)
		}
	}
	p.cond.Broadcast()
}

func (p *Pool) enqueueLocked(t *task) {
	if t.queued || t.dead {
		return
	}
	t.queued = true
	p.queue = append(p.queue, t)
}

// WaitUntilCatchup blocks until every registered index has replayed up to
// the operation log position its main environment had when this call
// began. Commits made during the wait may or may not be covered.
func (p *Pool) WaitUntilCatchup() error {
	p.mu.Lock()
	tasks := make([]*task, len(p.tasks))
	copy(tasks, p.tasks)
	p.mu.Unlock()

	targets := make([]uint64, len(tasks))
	for i, t := range tasks {
		txn, err := t.main.BeginRead()
		if err != nil {
			return err
		}
		target, err := t.main.NextOperationID(txn)
		txn.Discard()
		if err != nil {
			return err
		}
		targets[i] = target
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		done := true
		for i, t := range tasks {
			if t.dead {
				continue
			}
			pos, err := t.secondary.CurrentOperationID()
			if err != nil {
				return err
			}
			if pos < targets[i] {
				done = false
				break
			}
		}
		if done || p.stopped {
			return nil
		}
		p.cond.Wait()
	}
}

// Close drains the pool: workers finish their current run and exit.
func (p *Pool) Close() {
	p.mu.Lock()
	p.stopped = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.stopped {
			p.cond.Wait()
		}
		if p.stopped {
			p.mu.Unlock()
			return
		}
		t := p.queue[0]
		p.queue = p.queue[1:]
		t.queued = false
		p.mu.Unlock()

		caughtUp, err := p.runTask(t)

		p.mu.Lock()
		switch {
		case err != nil:
			t.dead = true
			t.secondary.MarkFailed(err)
			metrics.IndexerRunsTotal.WithLabelValues("failed").Inc()
			p.logger.Error().Err(err).
				Str("cache", t.cacheName).
				Str("index", t.secondary.Definition().Name()).
				Msg("Indexing failed")
		case !caughtUp:
			metrics.IndexerRunsTotal.WithLabelValues("behind").Inc()
			p.enqueueLocked(t)
		default:
			metrics.IndexerRunsTotal.WithLabelValues("caught_up").Inc()
		}
		p.cond.Broadcast()
		p.mu.Unlock()

		if err == nil && !caughtUp {
			time.Sleep(retryBackoff)
		}
	}
}

func (p *Pool) runTask(t *task) (bool, error) {
	t.runMu.Lock()
	defer t.runMu.Unlock()
	txn, err := t.main.BeginRead()
	if err != nil {
		return false, err
	}
	defer txn.Discard()
	return t.secondary.Index(t.main, txn)
}
