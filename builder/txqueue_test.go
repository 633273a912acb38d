package builder

import (
	"testing"

	"github.com/colorfulnotion/pegrollup/rollerrors"
	"github.com/colorfulnotion/pegrollup/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTxQueueBounds(t *testing.T) {
	q := NewTxQueue(2)
	_, err := q.Enqueue(&types.HardDeposit{})
	assert.ErrorIs(t, err, rollerrors.ErrBNotSoft)

	_, err = q.Enqueue(&types.SoftWithdrawal{Nonce: 0})
	require.NoError(t, err)
	_, err = q.Enqueue(&types.SoftWithdrawal{Nonce: 1})
	require.NoError(t, err)
	_, err = q.Enqueue(&types.SoftWithdrawal{Nonce: 2})
	assert.ErrorIs(t, err, rollerrors.ErrBQueueFull)

	stats := q.GetStats()
	assert.Equal(t, 2, stats.Queued)
	assert.Equal(t, 1, stats.Dropped)
}

func TestTxQueueDrainRequeue(t *testing.T) {
	q := NewTxQueue(0)
	for i := uint32(0); i < 3; i++ {
		_, err := q.Enqueue(&types.SoftWithdrawal{Nonce: i})
		require.NoError(t, err)
	}
	got := q.drain(2)
	require.Len(t, got, 2)
	assert.Equal(t, 1, q.Len())

	q.requeue(got)
	all := q.drain(0)
	require.Len(t, all, 3)
	for i, it := range all {
		n, _ := types.TransactionNonce(it.tx)
		assert.Equal(t, uint32(i), n)
	}
}

func TestTxQueueClose(t *testing.T) {
	q := NewTxQueue(0)
	res, err := q.Enqueue(&types.SoftTransfer{})
	require.NoError(t, err)
	q.Close()
	r, ok := <-res
	require.True(t, ok)
	assert.ErrorIs(t, r.Err, rollerrors.ErrBQueueClosed)
	_, ok = <-res
	assert.False(t, ok)

	_, err = q.Enqueue(&types.SoftTransfer{})
	assert.ErrorIs(t, err, rollerrors.ErrBQueueClosed)
}
