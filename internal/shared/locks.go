package shared

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseLockScript deletes the lock only when the caller still owns it, so a
// release arriving after TTL expiry cannot drop another writer's lock.
var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// PledgeLockKey builds redis keys for pledge resync critical sections.
func PledgeLockKey(pledgeID int64) string {
	return fmt.Sprintf("pledge:%d:resync:lock", pledgeID)
}

// PledgeLocker serializes aggregate recomputation per pledge. Edits to
// different payments may run in parallel, but two resyncs of the same pledge
// must not interleave.
type PledgeLocker struct {
	client *redis.Client
	ttl    time.Duration
	retry  time.Duration
}

// NewPledgeLocker constructs a locker with sane defaults.
func NewPledgeLocker(client *redis.Client) *PledgeLocker {
	return &PledgeLocker{client: client, ttl: 30 * time.Second, retry: 25 * time.Millisecond}
}

// WithTTL overrides the lock lifetime. Zero or negative is ignored.
func (l *PledgeLocker) WithTTL(ttl time.Duration) *PledgeLocker {
	if l != nil && ttl > 0 {
		l.ttl = ttl
	}
	return l
}

// Acquire blocks until the pledge lock is held or the context is done.
// The returned release function is safe to call once.
func (l *PledgeLocker) Acquire(ctx context.Context, pledgeID int64) (func(), error) {
	if l == nil || l.client == nil {
		return func() {}, nil
	}
	key := PledgeLockKey(pledgeID)
	token := uuid.NewString()
	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("shared: acquire pledge lock %d: %w", pledgeID, err)
		}
		if ok {
			return func() {
				_ = releaseLockScript.Run(context.WithoutCancel(ctx), l.client, []string{key}, token).Err()
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retry):
		}
	}
}

// AcquireAll takes locks for a set of pledges in ascending id order to avoid
// deadlock between writers touching overlapping pledge sets.
func (l *PledgeLocker) AcquireAll(ctx context.Context, pledgeIDs []int64) (func(), error) {
	ids := append([]int64(nil), pledgeIDs...)
	slices.Sort(ids)
	releases := make([]func(), 0, len(ids))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}
	var last int64 = -1
	for _, id := range ids {
		if id == last {
			continue
		}
		last = id
		release, err := l.Acquire(ctx, id)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}
	return releaseAll, nil
}
