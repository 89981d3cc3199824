package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"toolmesh/internal/trace"
)

// redisBackend persists traces as individual JSON values under a sorted
// set keyed by start time, trading query expressiveness for the fast
// append/prune path a cache-resource deployment favors.
type redisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend connects to the given Redis URL (redis://host:port/db).
func NewRedisBackend(url string) (Backend, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return &redisBackend{client: redis.NewClient(opts), prefix: "toolmesh:trace:"}, nil
}

func (r *redisBackend) key(requestID string) string {
	return r.prefix + requestID
}

func (r *redisBackend) Put(ctx context.Context, doc trace.Document) error {
	root := rootOf(doc)
	if root == nil {
		return fmt.Errorf("trace %s has no root node", doc.RequestID)
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.key(doc.RequestID), payload, 0)
	pipe.ZAdd(ctx, r.prefix+"index", redis.Z{Score: float64(root.Start.UnixNano()), Member: doc.RequestID})
	_, err = pipe.Exec(ctx)
	return err
}

func (r *redisBackend) Query(ctx context.Context, filter Filter) ([]trace.Document, error) {
	ids, err := r.client.ZRange(ctx, r.prefix+"index", 0, -1).Result()
	if err != nil {
		return nil, err
	}

	var out []trace.Document
	for _, id := range ids {
		payload, err := r.client.Get(ctx, r.key(id)).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, err
		}
		var doc trace.Document
		if err := json.Unmarshal([]byte(payload), &doc); err != nil {
			return nil, err
		}
		if matches(doc, rootOf(doc), filter) {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (r *redisBackend) Export(ctx context.Context, format ExportFormat, filter Filter) ([]byte, error) {
	docs, err := r.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	return encode(format, docs)
}

func (r *redisBackend) Prune(ctx context.Context, olderThan time.Time) (int, error) {
	ids, err := r.client.ZRangeByScore(ctx, r.prefix+"index", &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", olderThan.UnixNano()),
	}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	pipe := r.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, r.key(id))
		pipe.ZRem(ctx, r.prefix+"index", id)
	}
	_, err = pipe.Exec(ctx)
	return len(ids), err
}

func (r *redisBackend) Close() error { return r.client.Close() }
