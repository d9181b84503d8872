// Package worker provides the halt-channel-and-waitgroup idiom used
// throughout this tree for tracking and draining background
// goroutines: embed a Worker, spawn tracked goroutines with Go, and
// have them select on HaltCh() alongside their real work so Halt/Wait
// shuts them down cleanly.
package worker

import "sync"

// Worker is embedded by any type that owns one or more long-running
// goroutines. The zero value is ready to use.
type Worker struct {
	initOnce sync.Once
	haltCh   chan struct{}
	haltOnce sync.Once
	wg       sync.WaitGroup
}

func (w *Worker) init() {
	w.initOnce.Do(func() {
		w.haltCh = make(chan struct{})
	})
}

// HaltCh returns the channel that closes when Halt is called. Every
// goroutine spawned with Go should select on this alongside its own
// work so it unblocks and returns promptly on shutdown.
func (w *Worker) HaltCh() <-chan struct{} {
	w.init()
	return w.haltCh
}

// Go spawns fn in a tracked goroutine; Wait blocks until every
// goroutine spawned this way has returned.
func (w *Worker) Go(fn func()) {
	w.init()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		fn()
	}()
}

// Halt closes HaltCh, signaling every tracked goroutine to stop. It
// is safe to call more than once.
func (w *Worker) Halt() {
	w.init()
	w.haltOnce.Do(func() {
		close(w.haltCh)
	})
}

// Wait blocks until every goroutine spawned with Go has returned. It
// does not itself call Halt.
func (w *Worker) Wait() {
	w.init()
	w.wg.Wait()
}
