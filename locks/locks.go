// Package locks serializes work on named keys, in process or across
// replicas through Redis.
package locks

import (
	"context"
	"sort"
)

// Unlock releases every key taken by one Acquire call.
type Unlock func(ctx context.Context)

// Locker takes exclusive ownership of a set of keys. Keys are acquired in
// sorted order so callers with overlapping sets cannot deadlock. Acquire
// blocks until every key is held or ctx is done, in which case nothing
// remains held.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (Unlock, error)
}

func normalize(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
