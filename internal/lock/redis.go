package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/GiorgiUbiria/secure_banking/internal/logger"
	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	goredislib "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultExpiry     = 10 * time.Second
	defaultRetryDelay = 50 * time.Millisecond
	keyPrefix         = "lock:"
)

// Redis is a Locker shared by every instance of the service, built on the
// RedLock algorithm. A held lock is extended every third of expiry until it
// is released, so it only expires when its holder dies.
type Redis struct {
	rs         *redsync.Redsync
	expiry     time.Duration
	retryDelay time.Duration
}

var _ Locker = (*Redis)(nil)

func NewRedis(client goredislib.UniversalClient, expiry time.Duration) *Redis {
	if expiry <= 0 {
		expiry = defaultExpiry
	}
	return &Redis{
		rs:         redsync.New(goredis.NewPool(client)),
		expiry:     expiry,
		retryDelay: defaultRetryDelay,
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	mutex := r.rs.NewMutex(keyPrefix+key,
		redsync.WithExpiry(r.expiry),
		redsync.WithTries(r.tries(ctx)),
		redsync.WithRetryDelay(r.retryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		contended := errors.Is(err, redsync.ErrFailed) ||
			strings.Contains(err.Error(), "lock already taken")
		if contended || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, fmt.Errorf("acquire redis lock %q: %w", key, err)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(mutex, key, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done

			// The caller's context may already be done; release independently.
			unlockCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			if ok, err := mutex.UnlockContext(unlockCtx); !ok || err != nil {
				logger.Log.Warn("redis lock release failed", zap.String("key", key), zap.Error(err))
			}
		})
	}, nil
}

func (r *Redis) keepAlive(mutex *redsync.Mutex, key string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.expiry / 3)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.expiry/3)
			ok, err := mutex.ExtendContext(ctx)
			cancel()
			if !ok || err != nil {
				logger.Log.Error("redis lock lost before release", zap.String("key", key), zap.Error(err))
				return
			}
		}
	}
}

// tries spreads acquisition attempts over the time left on ctx.
func (r *Redis) tries(ctx context.Context) int {
	deadline, ok := ctx.Deadline()
	if !ok {
		return 32
	}
	n := int(time.Until(deadline)/r.retryDelay) + 1
	if n < 1 {
		return 1
	}
	return n
}
