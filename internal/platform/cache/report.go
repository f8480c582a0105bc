package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// BumpChannel carries "<companyID>:<version>" after a ledger mutation.
const BumpChannel = "ledger.bump"

// ReportCache stores rendered ledger reports in Redis under a per-company version.
// Bumping the version orphans every report of the company.
type ReportCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewReportCache instantiates the cache helper.
func NewReportCache(client *redis.Client, ttl time.Duration) *ReportCache {
	return &ReportCache{client: client, ttl: ttl}
}

func versionKey(companyID string) string {
	return "ledger:version:" + companyID
}

// Version returns the company's cache version, initialising when missing.
func (c *ReportCache) Version(ctx context.Context, companyID string) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	key := versionKey(companyID)
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		// concurrent cold readers converge on whichever version SetNX stored
		if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, err
	}
	if ver <= 0 {
		ver = 1
		if err := c.client.Set(ctx, key, ver, 0).Err(); err != nil {
			return 0, err
		}
	}
	return ver, nil
}

// BuildKey composes the cache key with the company's current version.
func (c *ReportCache) BuildKey(ctx context.Context, companyID string, parts ...string) (string, error) {
	joined := companyID + ":" + strings.Join(parts, ":")
	if c == nil || c.client == nil {
		return joined, nil
	}
	ver, err := c.Version(ctx, companyID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d", joined, ver), nil
}

// FetchJSON loads a cached value or populates it using the loader.
func (c *ReportCache) FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error {
	if loader == nil {
		return errors.New("cache: loader required")
	}
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		return roundTrip(value, dest)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return err
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func roundTrip(value, dest any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// Bump invalidates the company's reports and publishes the new version.
func (c *ReportCache) Bump(ctx context.Context, companyID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, versionKey(companyID)).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, BumpChannel, companyID+":"+strconv.FormatInt(ver, 10)).Err()
}

// ListenForInvalidation applies bump notifications from other instances that
// share the channel but write to a different Redis.
func (c *ReportCache) ListenForInvalidation(ctx context.Context, channel string) error {
	if c == nil || c.client == nil {
		return nil
	}
	if channel == "" {
		channel = BumpChannel
	}
	pubsub := c.client.Subscribe(ctx, channel)
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				companyID, raw, found := strings.Cut(msg.Payload, ":")
				if !found || companyID == "" {
					continue
				}
				ver, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					continue
				}
				current, err := c.Version(ctx, companyID)
				if err == nil && current < ver {
					_ = c.client.Set(ctx, versionKey(companyID), ver, 0).Err()
				}
			}
		}
	}()
	return nil
}
