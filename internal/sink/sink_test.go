package sink

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingConsumer struct {
	mu  sync.Mutex
	out []int
}

func (c *recordingConsumer) Accept(ordinal int, buf []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, ordinal)
	return nil
}

func TestReorderQueueFlushesInOrder(t *testing.T) {
	cons := &recordingConsumer{}
	q := New(cons, 10)

	require.NoError(t, q.Push(2, []byte("c")))
	require.NoError(t, q.Push(0, []byte("a")))
	require.NoError(t, q.Push(1, []byte("b")))

	assert.Equal(t, []int{0, 1, 2}, cons.out)
	assert.Equal(t, 3, q.Next())
	assert.Empty(t, q.Pending())
}

func TestReorderQueueHoldsOutOfOrderPrefix(t *testing.T) {
	cons := &recordingConsumer{}
	q := New(cons, 10)

	require.NoError(t, q.Push(1, []byte("b")))
	assert.Empty(t, cons.out, "ordinal 1 must wait for ordinal 0")
	assert.Equal(t, []int{1}, q.Pending())

	require.NoError(t, q.Push(0, []byte("a")))
	assert.Equal(t, []int{0, 1}, cons.out)
}

func TestReorderQueueConcurrentPushersPreserveOrder(t *testing.T) {
	cons := &recordingConsumer{}
	q := New(cons, 4)

	const n = 50
	var wg sync.WaitGroup
	for i := n - 1; i >= 0; i-- {
		wg.Add(1)
		go func(ord int) {
			defer wg.Done()
			require.NoError(t, q.Push(ord, []byte(fmt.Sprintf("%d", ord))))
		}(i)
	}
	wg.Wait()

	require.Len(t, cons.out, n)
	for i, v := range cons.out {
		assert.Equal(t, i, v)
	}
}

func TestReorderQueuePropagatesConsumerError(t *testing.T) {
	q := New(errConsumer{}, 4)
	err := q.Push(0, nil)
	assert.Error(t, err)
}

type errConsumer struct{}

func (errConsumer) Accept(ordinal int, buf []byte) error {
	return fmt.Errorf("write failed at ordinal %d", ordinal)
}
