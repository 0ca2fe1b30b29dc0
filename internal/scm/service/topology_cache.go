package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bitfantasy/nimo-scm/internal/scm/entity"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const topologyKeyPrefix = "scm:topology:"

// topologyCache 缓存已定稿供应链的拓扑。定稿后结构不可变，只有确认状态会变化（确认时删除缓存）。
type topologyCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func newTopologyCache(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *topologyCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &topologyCache{rdb: rdb, ttl: ttl, logger: logger.Named("topology_cache")}
}

func (c *topologyCache) get(ctx context.Context, chainID string) *entity.SupplyChain {
	if c.rdb == nil {
		return nil
	}
	raw, err := c.rdb.Get(ctx, topologyKeyPrefix+chainID).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("read topology cache failed", zap.String("chain_id", chainID), zap.Error(err))
		}
		return nil
	}
	var chain entity.SupplyChain
	if err := json.Unmarshal(raw, &chain); err != nil {
		return nil
	}
	return &chain
}

func (c *topologyCache) set(ctx context.Context, chain *entity.SupplyChain) {
	if c.rdb == nil || !chain.IsOperational() {
		return
	}
	raw, err := json.Marshal(chain)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, topologyKeyPrefix+chain.ID, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("write topology cache failed", zap.String("chain_id", chain.ID), zap.Error(err))
	}
}

func (c *topologyCache) invalidate(ctx context.Context, chainID string) {
	if c.rdb == nil {
		return
	}
	c.rdb.Del(ctx, topologyKeyPrefix+chainID)
}
