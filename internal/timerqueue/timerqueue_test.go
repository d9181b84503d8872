package timerqueue

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerQueueFiresInOrder(t *testing.T) {
	fired := make(chan int, 3)
	q := NewTimerQueue(func(v interface{}) {
		fired <- v.(int)
	})
	q.Start()
	defer func() {
		q.Halt()
		q.Wait()
	}()

	now := uint64(time.Now().UnixNano())
	q.Push(now+uint64(30*time.Millisecond), 3)
	q.Push(now+uint64(10*time.Millisecond), 1)
	q.Push(now+uint64(20*time.Millisecond), 2)

	var order []int
	for i := 0; i < 3; i++ {
		select {
		case v := <-fired:
			order = append(order, v)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestTimerQueuePopCancelsNextDelivery(t *testing.T) {
	fired := make(chan int, 1)
	q := NewTimerQueue(func(v interface{}) {
		fired <- v.(int)
	})
	q.Start()
	defer func() {
		q.Halt()
		q.Wait()
	}()

	now := uint64(time.Now().UnixNano())
	q.Push(now+uint64(50*time.Millisecond), 1)

	peeked := q.Peek()
	require.NotNil(t, peeked)
	require.Equal(t, 1, peeked.Value.(int))
	q.Pop()

	select {
	case <-fired:
		t.Fatal("popped entry should not fire")
	case <-time.After(150 * time.Millisecond):
	}
}
