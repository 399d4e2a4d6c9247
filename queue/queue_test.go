package queue

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPostRunsInOrder(t *testing.T) {
	q := NewQueue(16)
	defer q.Close()

	var order []int
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		i := i
		q.Post(func() {
			order = append(order, i)
			if i == 9 {
				close(done)
			}
		})
	}
	<-done
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestRunOnBlocksUntilExecuted(t *testing.T) {
	q := NewQueue(4)
	defer q.Close()

	var ran bool
	q.RunOn(func() { ran = true })
	require.True(t, ran)
}

func TestCloseDrainsPendingTasks(t *testing.T) {
	q := NewQueue(8)
	var count atomic.Int32
	for i := 0; i < 5; i++ {
		q.Post(func() { count.Add(1) })
	}
	q.Close()
	require.Equal(t, int32(5), count.Load())
}

func TestRepeatingTaskStopsSuppressesFurtherTicks(t *testing.T) {
	q := NewQueue(16)
	defer q.Close()

	var count atomic.Int32
	rt := StartRepeatingTask(q, 10*time.Millisecond, func() { count.Add(1) })
	time.Sleep(55 * time.Millisecond)
	rt.Stop()
	after := count.Load()
	require.Greater(t, after, int32(0))

	time.Sleep(30 * time.Millisecond)
	require.Equal(t, after, count.Load())
}
