package shared

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestPledgeLockerSerializesSamePledge(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locker := NewPledgeLocker(client)

	ctx := context.Background()
	release, err := locker.Acquire(ctx, 7)
	require.NoError(t, err)

	blocked, cancel := context.WithTimeout(ctx, 80*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(blocked, 7)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release2, err := locker.Acquire(ctx, 7)
	require.NoError(t, err)
	release2()
}

func TestPledgeLockerAcquireAllDedupes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locker := NewPledgeLocker(client)

	release, err := locker.AcquireAll(context.Background(), []int64{3, 1, 3, 2})
	require.NoError(t, err)
	require.True(t, mr.Exists(PledgeLockKey(1)))
	require.True(t, mr.Exists(PledgeLockKey(2)))
	require.True(t, mr.Exists(PledgeLockKey(3)))
	release()
	require.False(t, mr.Exists(PledgeLockKey(1)))
}
