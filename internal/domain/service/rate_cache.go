package service

import (
	"sort"
	"sync"

	"farb/internal/domain/model"
)

// RateCache 费率缓存
// 每个交易所保存最近一次扫描的统一费率快照；标记价可由行情推送
// 在两次扫描之间单独刷新。显式对象按引用传递，不依赖包级可变状态。
type RateCache struct {
	mu    sync.RWMutex
	rates map[string]map[string]model.UnifiedRate // venue -> asset -> rate
}

// NewRateCache 创建空缓存
func NewRateCache() *RateCache {
	return &RateCache{rates: make(map[string]map[string]model.UnifiedRate)}
}

// Store 整体替换某交易所的费率快照
func (c *RateCache) Store(venue string, rates []model.UnifiedRate) {
	byAsset := make(map[string]model.UnifiedRate, len(rates))
	for _, r := range rates {
		byAsset[r.Asset] = r
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.rates[venue] = byAsset
}

// Get 读取某交易所某资产的最新费率
func (c *RateCache) Get(venue, asset string) (model.UnifiedRate, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	byAsset := c.rates[venue]
	if byAsset == nil {
		return model.UnifiedRate{}, false
	}
	r, ok := byAsset[asset]
	return r, ok
}

// All 返回所有交易所的全部费率（资产、交易所字典序，保证确定性）
func (c *RateCache) All() []model.UnifiedRate {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []model.UnifiedRate
	for _, byAsset := range c.rates {
		for _, r := range byAsset {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Asset != out[j].Asset {
			return out[i].Asset < out[j].Asset
		}
		return out[i].Venue < out[j].Venue
	})
	return out
}

// ApplyMarkPrice 刷新标记价（行情推送路径），不改动费率本身
func (c *RateCache) ApplyMarkPrice(venue, asset string, price float64, ts int64) bool {
	if price <= 0 {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	byAsset := c.rates[venue]
	if byAsset == nil {
		return false
	}
	r, ok := byAsset[asset]
	if !ok {
		return false
	}
	r.MarkPrice = price
	r.Timestamp = ts
	byAsset[asset] = r
	return true
}
