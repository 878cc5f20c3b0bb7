package cache

import (
	"context"

	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/redis/go-redis/v9"
)

// MemorySink keeps a version number per tag. A renderer caches its output together with
// the versions of its tags and treats it as stale once any of them moved.
type MemorySink struct {
	versions cmap.ConcurrentMap[string, uint64]
}

func NewMemorySink() *MemorySink {
	return &MemorySink{versions: cmap.New[uint64]()}
}

func (s *MemorySink) Invalidate(_ context.Context, tags []string) error {
	for _, tag := range tags {
		s.versions.Upsert(tag, 1, func(exist bool, current, _ uint64) uint64 {
			if exist {
				return current + 1
			}
			return 1
		})
	}
	return nil
}

func (s *MemorySink) Version(tag string) uint64 {
	v, _ := s.versions.Get(tag)
	return v
}

// RedisSink increments one key per tag so that several server instances share tag versions
type RedisSink struct {
	client redis.Cmdable
	prefix string
}

func NewRedisSink(client redis.Cmdable, prefix string) *RedisSink {
	if prefix == "" {
		prefix = "gallery:tag:"
	}
	return &RedisSink{client: client, prefix: prefix}
}

func (s *RedisSink) Invalidate(ctx context.Context, tags []string) error {
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, tag := range tags {
			pipe.Incr(ctx, s.prefix+tag)
		}
		return nil
	})
	return err
}

func (s *RedisSink) Version(ctx context.Context, tag string) (uint64, error) {
	v, err := s.client.Get(ctx, s.prefix+tag).Uint64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}
