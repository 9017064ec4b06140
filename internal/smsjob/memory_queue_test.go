package smsjob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueSendAndDrain(t *testing.T) {
	q := NewMemoryQueue(4)

	require.NoError(t, q.Send(context.Background(), "one"))
	require.NoError(t, q.Send(context.Background(), "two"))

	bodies := q.Drain()
	assert.Equal(t, []string{"one", "two"}, bodies)
	assert.Empty(t, q.Drain())
}

func TestMemoryQueueSendRespectsCancellation(t *testing.T) {
	q := NewMemoryQueue(1)
	require.NoError(t, q.Send(context.Background(), "fills buffer"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := q.Send(ctx, "second message blocked on a full buffer")
	assert.ErrorIs(t, err, context.Canceled)
}
