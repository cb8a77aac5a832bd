// Package dedup 基于 Redis SETNX 防止同一商品被重复登记监控。
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "stockhunter:dedup:watch:"

type Deduplicator struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDeduplicator(rdb *redis.Client, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Deduplicator{
		rdb: rdb,
		ttl: ttl,
	}
}

// IsDuplicate 判断 owner+url 是否已在 TTL 窗口内登记过，首次调用会占位。
func (d *Deduplicator) IsDuplicate(ctx context.Context, ownerID, url string) (bool, error) {
	if d == nil || d.rdb == nil || url == "" {
		return false, nil
	}
	key := keyPrefix + hashWatch(ownerID, url)
	ok, err := d.rdb.SetNX(ctx, key, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return !ok, nil
}

// Delete 释放占位，允许同一商品重新登记（例如删除监控之后）。
func (d *Deduplicator) Delete(ctx context.Context, ownerID, url string) error {
	if d == nil || d.rdb == nil || url == "" {
		return nil
	}
	key := keyPrefix + hashWatch(ownerID, url)
	if err := d.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}

func hashWatch(ownerID, url string) string {
	sum := sha256.Sum256([]byte(ownerID + "\x00" + url))
	return hex.EncodeToString(sum[:])
}
