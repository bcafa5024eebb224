// Package utils contains goroutine helpers shared by the measurement loops.
package utils

import (
	"context"
	"sync"

	goutils "go.viam.com/utils"
)

// Workers is a group of goroutines sharing one context. Stop cancels the context and joins
// them. A worker must not call Stop on its own group.
type Workers struct {
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// NewWorkers starts funcs, each in its own goroutine. They also stop when parent is done.
func NewWorkers(parent context.Context, funcs ...func(context.Context)) *Workers {
	ctx, cancel := context.WithCancel(parent)
	w := &Workers{ctx: ctx, cancel: cancel}
	for _, f := range funcs {
		w.Go(f)
	}
	return w
}

// Go starts f in the group. It reports false, without starting f, once the group is stopped.
// A panic in f is logged instead of crashing the process.
func (w *Workers) Go(f func(context.Context)) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.ctx.Err() != nil {
		return false
	}
	w.running.Add(1)
	goutils.PanicCapturingGo(func() {
		defer w.running.Done()
		f(w.ctx)
	})
	return true
}

// Stop cancels the group and waits for every worker to return.
func (w *Workers) Stop() {
	w.mu.Lock()
	w.cancel()
	w.mu.Unlock()
	w.running.Wait()
}
