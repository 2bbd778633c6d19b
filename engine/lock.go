package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/corewf/flowengine/engine/store"
)

// Lock is a named distributed lock over Store, grounded on spec.md §4.1:
// Acquire wraps Store.SetIfAbsent with a generated owner token, Release
// wraps Store.GetAndDeleteIf so only the current holder (or whoever
// reacquired after expiry) can release it.
type Lock struct {
	st store.Store
}

// NewLock returns a Lock backed by st.
func NewLock(st store.Store) *Lock {
	return &Lock{st: st}
}

// DefaultLockTTL is used when callers don't specify one.
const DefaultLockTTL = 60 * time.Second

// Acquire attempts to acquire the named lock for ttl. On success it
// returns a Held token to pass to Release; on failure it returns
// ErrLockHeld wrapped as KindLockUnavailable.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (*Held, error) {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	owner := uuid.NewString()
	key := lockKey(name)
	ok, err := l.st.SetIfAbsent(ctx, key, []byte(owner), ttl)
	if err != nil {
		return nil, newError(KindStoreUnavailable, "lock acquire failed", err)
	}
	if !ok {
		return nil, newError(KindLockUnavailable, "lock \""+name+"\" is held", ErrLockHeld)
	}
	return &Held{lock: l, name: name, owner: owner, expireAt: time.Now().Add(ttl)}, nil
}

// Held is a successfully acquired lock.
type Held struct {
	lock     *Lock
	name     string
	owner    string
	expireAt time.Time
}

// Release releases the lock if this Held is still the current owner. It is
// a no-op (returns false, nil) if the lock expired and was reacquired by
// someone else, per spec.md §4.1.
func (h *Held) Release(ctx context.Context) (bool, error) {
	ok, err := h.lock.st.GetAndDeleteIf(ctx, lockKey(h.name), []byte(h.owner))
	if err != nil {
		return false, newError(KindStoreUnavailable, "lock release failed", err)
	}
	return ok, nil
}

// Renew extends the lock key's TTL without checking ownership, since Store
// has no compare-and-expire primitive: if the lock already expired and was
// reacquired by someone else, Renew extends the new owner's TTL.
func (h *Held) Renew(ctx context.Context, ttl time.Duration) error {
	if err := h.lock.st.Expire(ctx, lockKey(h.name), ttl); err != nil {
		return newError(KindStoreUnavailable, "lock renew failed", err)
	}
	h.expireAt = time.Now().Add(ttl)
	return nil
}

func lockKey(name string) string { return "lock:" + name }
