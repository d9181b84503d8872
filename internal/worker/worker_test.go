package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWorkerHaltStopsGoroutine(t *testing.T) {
	var w Worker
	stopped := make(chan struct{})
	w.Go(func() {
		<-w.HaltCh()
		close(stopped)
	})

	w.Halt()
	w.Wait()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not observe halt")
	}
}

func TestWorkerHaltIsIdempotent(t *testing.T) {
	var w Worker
	require.NotPanics(t, func() {
		w.Halt()
		w.Halt()
	})
}
