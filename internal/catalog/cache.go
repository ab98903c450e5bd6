package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"playlist-sync/internal/playlist"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 10 * time.Minute

// RedisCache serves tracks from redis and asks next for the rest. Redis
// failures degrade to a plain pass-through.
type RedisCache struct {
	rdb  *redis.Client
	next Fetcher
	ttl  time.Duration
	log  *log.Logger
}

func NewRedisCache(rdb *redis.Client, next Fetcher, ttl time.Duration, logger *log.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{rdb: rdb, next: next, ttl: ttl, log: logger}
}

func trackKey(id playlist.TrackID) string {
	return "track:" + strconv.Itoa(int(id))
}

// FetchTracks returns the known tracks among ids, in the order requested.
// Duplicate IDs are resolved once.
func (c *RedisCache) FetchTracks(ctx context.Context, ids []playlist.TrackID) ([]playlist.Track, error) {
	uniq := make([]playlist.TrackID, 0, len(ids))
	seen := make(map[playlist.TrackID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			uniq = append(uniq, id)
		}
	}
	if len(uniq) == 0 {
		return nil, nil
	}

	found := c.lookup(ctx, uniq)

	var misses []playlist.TrackID
	for _, id := range uniq {
		if _, ok := found[id]; !ok {
			misses = append(misses, id)
		}
	}
	if len(misses) > 0 {
		fetched, err := c.next.FetchTracks(ctx, misses)
		if err != nil {
			return nil, err
		}
		for _, tr := range fetched {
			found[tr.ID] = tr
		}
		c.store(ctx, fetched)
	}

	out := make([]playlist.Track, 0, len(uniq))
	for _, id := range uniq {
		if tr, ok := found[id]; ok {
			out = append(out, tr)
		}
	}
	return out, nil
}

func (c *RedisCache) lookup(ctx context.Context, ids []playlist.TrackID) map[playlist.TrackID]playlist.Track {
	found := make(map[playlist.TrackID]playlist.Track, len(ids))

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = trackKey(id)
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warnf("catalog: cache lookup: %v", err)
		}
		return found
	}

	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var tr playlist.Track
		if err := json.Unmarshal([]byte(s), &tr); err != nil {
			c.log.Warnf("catalog: bad cache entry %s: %v", keys[i], err)
			continue
		}
		found[ids[i]] = tr
	}
	return found
}

func (c *RedisCache) store(ctx context.Context, tracks []playlist.Track) {
	if len(tracks) == 0 {
		return
	}
	pipe := c.rdb.Pipeline()
	for _, tr := range tracks {
		b, err := json.Marshal(tr)
		if err != nil {
			continue
		}
		pipe.Set(ctx, trackKey(tr.ID), b, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warnf("catalog: cache store: %v", err)
	}
}
