package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ppiankov/feeddigest/internal/dedup"
)

const (
	defaultRedisPrefix = "feeddigest:"
	redisRunHistory    = 100
)

// RedisOptions configures a Redis SeenStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string // key prefix, defaults to "feeddigest:"
}

// Redis keeps one sorted set per source, members are links scored by
// first-seen time in milliseconds.
type Redis struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects and verifies the server responds.
func OpenRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	if strings.TrimSpace(opts.Addr) == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &Redis{client: client, prefix: prefix}, nil
}

func (r *Redis) seenKey(sourceID string) string { return r.prefix + "seen:" + sourceID }
func (r *Redis) sourcesKey() string { return r.prefix + "sources" }
func (r *Redis) runsKey() string { return r.prefix + "runs" }

func (r *Redis) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}

func (r *Redis) Seen(ctx context.Context, sourceID string) (dedup.Set, error) {
	if r == nil || r.client == nil {
		return nil, errNotInitialized
	}
	links, err := r.client.ZRange(ctx, r.seenKey(sourceID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read seen links: %w", err)
	}
	return dedup.NewSet(links...), nil
}

type redisRun struct {
	ID          string    `json:"id"`
	GeneratedAt time.Time `json:"generated_at"`
	WindowStart time.Time `json:"window_start"`
	Items       int       `json:"items"`
	Failures    int       `json:"failures"`
}

// Commit writes all links and the run record in one MULTI/EXEC. ZADD NX
// keeps the first-seen score of links already present.
func (r *Redis) Commit(ctx context.Context, c Commit) error {
	if r == nil || r.client == nil {
		return errNotInitialized
	}
	if err := validateCommit(c); err != nil {
		return err
	}

	run, err := json.Marshal(redisRun{
		ID:          c.RunID,
		GeneratedAt: c.At.UTC(),
		WindowStart: c.WindowStart.UTC(),
		Items:       c.Items,
		Failures:    c.Failures,
	})
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}

	score := float64(c.At.UnixMilli())
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for id, links := range c.Links {
			if len(links) == 0 {
				continue
			}
			members := make([]redis.Z, len(links))
			for i, link := range links {
				members[i] = redis.Z{Score: score, Member: link}
			}
			pipe.ZAddNX(ctx, r.seenKey(id), members...)
			pipe.SAdd(ctx, r.sourcesKey(), id)
		}
		pipe.LPush(ctx, r.runsKey(), run)
		pipe.LTrim(ctx, r.runsKey(), 0, redisRunHistory-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit seen state: %w", err)
	}
	return nil
}

func (r *Redis) Prune(ctx context.Context, ret Retention) (int64, error) {
	if r == nil || r.client == nil {
		return 0, errNotInitialized
	}
	sources, err := r.client.SMembers(ctx, r.sourcesKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("list sources: %w", err)
	}

	cutoff, byAge := ret.cutoff()
	var removed int64
	for _, id := range sources {
		key := r.seenKey(id)
		if byAge {
			n, err := r.client.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff.UnixMilli(), 10)).Result()
			if err != nil {
				return removed, fmt.Errorf("prune old links: %w", err)
			}
			removed += n
		}
		if ret.MaxPerSource > 0 {
			// Lowest scores are oldest; keep the top MaxPerSource ranks.
			n, err := r.client.ZRemRangeByRank(ctx, key, 0, int64(-ret.MaxPerSource-1)).Result()
			if err != nil {
				return removed, fmt.Errorf("cap links per source: %w", err)
			}
			removed += n
		}
		left, err := r.client.ZCard(ctx, key).Result()
		if err != nil {
			return removed, fmt.Errorf("count links: %w", err)
		}
		if left == 0 {
			if err := r.client.SRem(ctx, r.sourcesKey(), id).Err(); err != nil {
				return removed, fmt.Errorf("forget source: %w", err)
			}
		}
	}
	return removed, nil
}

func (r *Redis) LastRun(ctx context.Context) (*Run, error) {
	if r == nil || r.client == nil {
		return nil, errNotInitialized
	}
	raw, err := r.client.LIndex(ctx, r.runsKey(), 0).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read last run: %w", err)
	}

	var rr redisRun
	if err := json.Unmarshal([]byte(raw), &rr); err != nil {
		return nil, fmt.Errorf("decode run: %w", err)
	}
	return &Run{
		ID:          rr.ID,
		GeneratedAt: rr.GeneratedAt,
		WindowStart: rr.WindowStart,
		Items:       rr.Items,
		Failures:    rr.Failures,
	}, nil
}

func (r *Redis) Stats(ctx context.Context) ([]SourceStats, error) {
	if r == nil || r.client == nil {
		return nil, errNotInitialized
	}
	sources, err := r.client.SMembers(ctx, r.sourcesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	stats := make([]SourceStats, 0, len(sources))
	for _, id := range sources {
		key := r.seenKey(id)
		n, err := r.client.ZCard(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("count links: %w", err)
		}
		if n == 0 {
			continue
		}
		st := SourceStats{SourceID: id, Links: int(n)}
		top, err := r.client.ZRevRangeWithScores(ctx, key, 0, 0).Result()
		if err != nil {
			return nil, fmt.Errorf("read newest link: %w", err)
		}
		if len(top) > 0 {
			st.LastSeen = time.UnixMilli(int64(top[0].Score)).UTC()
		}
		stats = append(stats, st)
	}
	sortStats(stats)
	return stats, nil
}
