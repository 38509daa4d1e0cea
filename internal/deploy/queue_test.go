package deploy

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()

	q.Enqueue("a")
	q.Enqueue("b")
	q.Enqueue("c")
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"a", "b", "c"} {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_OverflowPreservesOrder(t *testing.T) {
	q := NewQueue()
	ctx := context.Background()

	// Fill well past the channel buffer so the overflow path engages.
	total := defaultQueueBuffer + 100
	for i := 0; i < total; i++ {
		q.Enqueue(fmt.Sprintf("job-%04d", i))
	}
	require.Equal(t, total, q.Len())

	for i := 0; i < total; i++ {
		got, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.Equal(t, fmt.Sprintf("job-%04d", i), got)
	}
	assert.Equal(t, 0, q.Len())
}

func TestQueue_DequeueCancelled(t *testing.T) {
	q := NewQueue()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
