package locks

import (
	"context"
	"sync"

	"github.com/m-mizutani/goerr/v2"
)

// Local is a Locker for a single process.
type Local struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[string]chan struct{})}
}

func (l *Local) Acquire(ctx context.Context, keys ...string) (Unlock, error) {
	keys = normalize(keys)
	got := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := l.lock(ctx, k); err != nil {
			l.release(got)
			return nil, goerr.Wrap(err, "failed to acquire lock", goerr.V("key", k))
		}
		got = append(got, k)
	}
	return func(context.Context) { l.release(got) }, nil
}

func (l *Local) lock(ctx context.Context, key string) error {
	for {
		l.mu.Lock()
		wait, busy := l.held[key]
		if !busy {
			l.held[key] = make(chan struct{})
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Local) release(keys []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		if ch, ok := l.held[k]; ok {
			close(ch)
			delete(l.held, k)
		}
	}
}
