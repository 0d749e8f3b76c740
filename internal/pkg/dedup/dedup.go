// Package dedup 记录一个时间窗口内已经抓取过的列表页，避免重复加载。
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "toytracker:dedup:page:"

// Deduplicator 页面去重。rdb 为 nil 时使用进程内记录（仅对单次运行有效）。
type Deduplicator struct {
	rdb *redis.Client
	ttl time.Duration

	mu    sync.Mutex
	local map[string]time.Time
	now   func() time.Time
}

// NewDeduplicator 创建去重器，ttl 不大于 0 时为 1 小时。
func NewDeduplicator(rdb *redis.Client, ttl time.Duration) *Deduplicator {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Deduplicator{
		rdb:   rdb,
		ttl:   ttl,
		local: make(map[string]time.Time),
		now:   time.Now,
	}
}

// IsDuplicate 标记页面已抓取；窗口内第二次调用返回 true。
func (d *Deduplicator) IsDuplicate(ctx context.Context, url string) (bool, error) {
	if d == nil || url == "" {
		return false, nil
	}
	key := keyPrefix + hashURL(url)
	if d.rdb == nil {
		return d.markLocal(key), nil
	}
	ok, err := d.rdb.SetNX(ctx, key, "1", d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return !ok, nil
}

// Delete 取消页面标记，抓取失败时调用以便下次重试。
func (d *Deduplicator) Delete(ctx context.Context, url string) error {
	if d == nil || url == "" {
		return nil
	}
	key := keyPrefix + hashURL(url)
	if d.rdb == nil {
		d.mu.Lock()
		delete(d.local, key)
		d.mu.Unlock()
		return nil
	}
	if err := d.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("dedup del: %w", err)
	}
	return nil
}

func (d *Deduplicator) markLocal(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if exp, ok := d.local[key]; ok && now.Before(exp) {
		return true
	}
	d.local[key] = now.Add(d.ttl)
	return false
}

func hashURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}
