// Package stream loads meshlet packs off the render thread. Workers parse
// pack files in the background; parsed packs enter the store only when the
// frame loop asks for them, so registration stays at frame boundaries.
package stream

import (
	"errors"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/veldtgfx/veldt/internal/engine/store"
	"github.com/veldtgfx/veldt/pkg/formats"
)

// Loader streams packs from disk into a geometry store.
type Loader struct {
	jobs      chan string
	pending   map[string]struct{}
	pendingMu sync.Mutex

	ready   []loaded
	readyMu sync.Mutex

	handles   map[string]store.Handle
	retiring  []store.Handle
	handlesMu sync.Mutex

	store *store.Store
	log   *zap.Logger
	wg    sync.WaitGroup
}

type loaded struct {
	path string
	pack *formats.MPK
}

// NewLoader starts the parse workers. A non-positive count uses one worker
// per CPU.
func NewLoader(st *store.Store, workers int, log *zap.Logger) *Loader {
	if workers < 1 {
		workers = runtime.NumCPU()
	}
	l := &Loader{
		jobs:    make(chan string, 256),
		pending: make(map[string]struct{}),
		handles: make(map[string]store.Handle),
		store:   st,
		log:     log,
	}
	for i := 0; i < workers; i++ {
		l.wg.Add(1)
		go l.worker()
	}
	return l
}

// Close stops the workers after draining queued jobs.
func (l *Loader) Close() {
	close(l.jobs)
	l.wg.Wait()
}

func (l *Loader) worker() {
	defer l.wg.Done()
	for path := range l.jobs {
		pack, err := formats.LoadMPK(path)

		l.pendingMu.Lock()
		delete(l.pending, path)
		l.pendingMu.Unlock()

		if err != nil {
			l.log.Warn("pack load failed", zap.String("path", path), zap.Error(err))
			continue
		}
		l.readyMu.Lock()
		l.ready = append(l.ready, loaded{path: path, pack: pack})
		l.readyMu.Unlock()
	}
}

// Request queues a pack for loading. Returns false when it is already
// loaded, already queued, or the queue is full.
func (l *Loader) Request(path string) bool {
	l.handlesMu.Lock()
	_, have := l.handles[path]
	l.handlesMu.Unlock()
	if have {
		return false
	}

	l.pendingMu.Lock()
	if _, ok := l.pending[path]; ok {
		l.pendingMu.Unlock()
		return false
	}
	l.pending[path] = struct{}{}
	l.pendingMu.Unlock()

	select {
	case l.jobs <- path:
		return true
	default:
		// queue full: rollback
		l.pendingMu.Lock()
		delete(l.pending, path)
		l.pendingMu.Unlock()
		return false
	}
}

// Retire queues a loaded pack for removal at the next Collect.
func (l *Loader) Retire(path string) bool {
	l.handlesMu.Lock()
	defer l.handlesMu.Unlock()
	h, ok := l.handles[path]
	if !ok {
		return false
	}
	delete(l.handles, path)
	l.retiring = append(l.retiring, h)
	return true
}

// Collect applies queued retires and registers every parsed pack, returning
// the newly issued handles. Call it at the frame boundary: a pack the store
// cannot fit yet stays queued and is retried after the store has grown.
func (l *Loader) Collect() []store.Handle {
	l.handlesMu.Lock()
	retiring := l.retiring
	l.retiring = nil
	l.handlesMu.Unlock()
	for _, h := range retiring {
		if err := l.store.Retire(h); err != nil {
			l.log.Warn("retire failed", zap.Uint32("index", h.Index), zap.Error(err))
		}
	}

	l.readyMu.Lock()
	ready := l.ready
	l.ready = nil
	l.readyMu.Unlock()

	var out []store.Handle
	for _, ld := range ready {
		h, err := l.store.RegisterMesh(ld.pack)
		if errors.Is(err, store.ErrStoreFull) {
			l.readyMu.Lock()
			l.ready = append(l.ready, ld)
			l.readyMu.Unlock()
			continue
		}
		if err != nil {
			l.log.Warn("pack registration failed", zap.String("path", ld.path), zap.Error(err))
			continue
		}
		l.handlesMu.Lock()
		l.handles[ld.path] = h
		l.handlesMu.Unlock()
		l.log.Info("pack loaded",
			zap.String("path", ld.path),
			zap.Int("meshlets", len(ld.pack.Meshlets)),
			zap.Int("levels", ld.pack.LevelCount()),
		)
		out = append(out, h)
	}
	return out
}

// Handle reports the handle of a loaded pack.
func (l *Loader) Handle(path string) (store.Handle, bool) {
	l.handlesMu.Lock()
	defer l.handlesMu.Unlock()
	h, ok := l.handles[path]
	return h, ok
}

// PendingCount reports paths queued or being parsed.
func (l *Loader) PendingCount() int {
	l.pendingMu.Lock()
	defer l.pendingMu.Unlock()
	return len(l.pending)
}

// ReadyCount reports parsed packs awaiting registration.
func (l *Loader) ReadyCount() int {
	l.readyMu.Lock()
	defer l.readyMu.Unlock()
	return len(l.ready)
}
