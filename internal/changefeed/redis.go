package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"chatrelay/backend/internal/models"
)

const (
	streamField   = "message"
	readBlock     = 5 * time.Second
	readBatchSize = 100
)

// RedisStream is a Feed backed by a Redis stream. Writers XADD after the row is
// committed; readers XREAD from the last id they saw, so a resubscription
// resumes where the previous one stopped.
type RedisStream struct {
	client *redis.Client
	stream string
	maxLen int64
	block  time.Duration
	logger zerolog.Logger

	mu     sync.Mutex
	lastID string
}

// NewRedisStream creates a stream feed. Reading starts with messages added after the first subscription.
func NewRedisStream(client *redis.Client, stream string, maxLen int64, logger zerolog.Logger) *RedisStream {
	return &RedisStream{
		client: client,
		stream: stream,
		maxLen: maxLen,
		block:  readBlock,
		logger: logger.With().Str("component", "redis_feed").Logger(),
		lastID: "$",
	}
}

func (f *RedisStream) Name() string { return "redis:" + f.stream }

// Emit appends msg to the stream, trimming it approximately to maxLen entries.
func (f *RedisStream) Emit(ctx context.Context, msg models.ChatMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	args := &redis.XAddArgs{
		Stream: f.stream,
		Values: map[string]interface{}{streamField: string(data)},
	}
	if f.maxLen > 0 {
		args.MaxLen = f.maxLen
		args.Approx = true
	}
	return f.client.XAdd(ctx, args).Err()
}

// Stream reads the stream until ctx is done or Redis fails.
func (f *RedisStream) Stream(ctx context.Context, fn func(models.ChatMessage)) error {
	f.mu.Lock()
	if f.lastID == "$" {
		// Pin the starting point so a later resubscription does not skip entries
		// written while the first XREAD was not yet blocking.
		last, err := f.client.XRevRangeN(ctx, f.stream, "+", "-", 1).Result()
		if err != nil {
			f.mu.Unlock()
			return fmt.Errorf("read stream tail: %w", err)
		}
		if len(last) > 0 {
			f.lastID = last[0].ID
		} else {
			f.lastID = "0-0"
		}
	}
	f.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		f.mu.Lock()
		from := f.lastID
		f.mu.Unlock()

		res, err := f.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{f.stream, from},
			Count:   readBatchSize,
			Block:   f.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("xread %s: %w", f.stream, err)
		}

		for _, s := range res {
			for _, entry := range s.Messages {
				f.mu.Lock()
				f.lastID = entry.ID
				f.mu.Unlock()

				msg, ok := decodeEntry(entry)
				if !ok {
					f.logger.Warn().Str("entry_id", entry.ID).Msg("skipping undecodable stream entry")
					continue
				}
				fn(msg)
			}
		}
	}
}

func decodeEntry(entry redis.XMessage) (models.ChatMessage, bool) {
	var msg models.ChatMessage
	raw, ok := entry.Values[streamField].(string)
	if !ok {
		return msg, false
	}
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return msg, false
	}
	return msg, true
}
