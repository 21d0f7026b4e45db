package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
)

var _ driven.DistributedLock = (*Lock)(nil)

// DefaultLockPrefix namespaces worker job locks.
const DefaultLockPrefix = "posbridge:lock:"

// ErrLockNotHeld is returned by Extend for a lock this instance does not hold,
// including one that expired and was taken by another replica.
var ErrLockNotHeld = errors.New("lock not held by this instance")

// Lock is a lease lock on Redis. Every acquisition writes a fresh token
// (instance id plus sequence number), and release and extend only act while
// the stored value still matches it.
type Lock struct {
	client   redis.UniversalClient
	prefix   string
	instance string

	mu     sync.Mutex
	seq    uint64
	tokens map[string]string
}

// NewLock creates a Redis lock. An empty prefix uses DefaultLockPrefix.
func NewLock(client redis.UniversalClient, prefix string) *Lock {
	if prefix == "" {
		prefix = DefaultLockPrefix
	}
	return &Lock{
		client:   client,
		prefix:   prefix,
		instance: instanceID(),
		tokens:   make(map[string]string),
	}
}

// instanceID is hostname:pid:random so log lines and lock values can be
// traced back to a replica.
func instanceID() string {
	host, _ := os.Hostname()
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	return host + ":" + strconv.Itoa(os.Getpid()) + ":" + hex.EncodeToString(buf)
}

// Acquire takes the lease for ttl. It does not block and is not reentrant.
func (l *Lock) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.tokens[name]; held {
		return false, nil
	}

	l.seq++
	token := l.instance + "#" + strconv.FormatUint(l.seq, 10)
	ok, err := l.client.SetNX(ctx, l.prefix+name, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	if ok {
		l.tokens[name] = token
	}
	return ok, nil
}

// compareAndDelete and compareAndExpire return 1 when the key held ARGV[1].
var (
	compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
return redis.call("DEL", KEYS[1])
`)

	compareAndExpire = redis.NewScript(`
if redis.call("GET", KEYS[1]) ~= ARGV[1] then
	return 0
end
return redis.call("PEXPIRE", KEYS[1], ARGV[2])
`)
)

// Release drops the lease if this instance still holds it. Releasing a
// lock that is not held is a no-op.
func (l *Lock) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	token, held := l.tokens[name]
	delete(l.tokens, name)
	l.mu.Unlock()

	if !held {
		return nil
	}
	if err := compareAndDelete.Run(ctx, l.client, []string{l.prefix + name}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

// Extend renews the lease for ttl. A lease that already expired is
// forgotten and ErrLockNotHeld is returned.
func (l *Lock) Extend(ctx context.Context, name string, ttl time.Duration) error {
	l.mu.Lock()
	token, held := l.tokens[name]
	l.mu.Unlock()
	if !held {
		return fmt.Errorf("extend lock %s: %w", name, ErrLockNotHeld)
	}

	n, err := compareAndExpire.Run(ctx, l.client, []string{l.prefix + name}, token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", name, err)
	}
	if n == 0 {
		l.mu.Lock()
		if l.tokens[name] == token {
			delete(l.tokens, name)
		}
		l.mu.Unlock()
		return fmt.Errorf("extend lock %s: %w", name, ErrLockNotHeld)
	}
	return nil
}

// Ping checks Redis connectivity for readiness and worker health.
func (l *Lock) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// InstanceID identifies this replica in lock values.
func (l *Lock) InstanceID() string {
	return l.instance
}
