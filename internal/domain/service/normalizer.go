package service

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"farb/internal/domain/model"
)

// 规范化失败原因（读路径的"缺值带原因"结果，不是致命错误）
var (
	ErrMissingRate      = errors.New("funding rate missing")
	ErrMissingMarkPrice = errors.New("mark price missing or non-positive")
	ErrBadPeriod        = errors.New("funding period must be positive")
)

// Normalizer 费率规范化器
// 将各交易所的原生资金费约定（周期、符号方向）转换为统一表示：
// 小时费率、规范符号（正 = 多头支付空头）、年化百分比。
// 规范化结果写入显式注入的 RateCache，便于测试按例注入新缓存。
type Normalizer struct {
	cache *RateCache
}

// NewNormalizer 创建规范化器
func NewNormalizer(cache *RateCache) *Normalizer {
	if cache == nil {
		cache = NewRateCache()
	}
	return &Normalizer{cache: cache}
}

// Cache 返回规范化器持有的费率缓存
func (n *Normalizer) Cache() *RateCache { return n.cache }

// Normalize 单条原生费率规范化
// 费率恰好为零是有效输入（保留用于报告，机会检测阶段跳过）；
// 缺失标记价或费率为 NaN 返回带原因的错误，调用方按"本周期该所不可用"降级。
func (n *Normalizer) Normalize(venue string, raw model.RawFunding) (model.UnifiedRate, error) {
	if math.IsNaN(raw.Rate) || math.IsInf(raw.Rate, 0) {
		return model.UnifiedRate{}, fmt.Errorf("%s %s: %w", venue, raw.Market, ErrMissingRate)
	}
	if raw.MarkPrice <= 0 {
		return model.UnifiedRate{}, fmt.Errorf("%s %s: %w", venue, raw.Market, ErrMissingMarkPrice)
	}
	if raw.PeriodHours <= 0 {
		return model.UnifiedRate{}, fmt.Errorf("%s %s: %w", venue, raw.Market, ErrBadPeriod)
	}

	hourly := raw.Rate / raw.PeriodHours
	if !raw.LongsPayWhenPositive {
		hourly = -hourly
	}

	dir := model.LongsPayShorts
	if hourly < 0 {
		dir = model.ShortsPayLongs
	}

	return model.UnifiedRate{
		Venue:           venue,
		Market:          raw.Market,
		Asset:           NormalizeAsset(raw.Market),
		RateHourly:      hourly,
		RateApy:         model.AnnualizeHourly(hourly),
		PayDirection:    dir,
		MarkPrice:       raw.MarkPrice,
		OpenInterestUsd: raw.OpenInterestUsd,
		Volume24hUsd:    raw.Volume24hUsd,
		Timestamp:       raw.Timestamp,
	}, nil
}

// Ingest 批量规范化并写入缓存，返回有效条目与每条失败的原因
func (n *Normalizer) Ingest(venue string, raws []model.RawFunding) ([]model.UnifiedRate, []error) {
	rates := make([]model.UnifiedRate, 0, len(raws))
	var errs []error
	for _, raw := range raws {
		ur, err := n.Normalize(venue, raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rates = append(rates, ur)
	}
	n.cache.Store(venue, rates)
	return rates, errs
}

// 合约类型后缀，跨所匹配前剥离
var assetSuffixes = []string{"-PERP", "-USD", "-USDT", "-USDC", "PERP", "USDT", "USDC", "USD"}

// NormalizeAsset 市场符号规范化为基础资产符号
// 例: SOL-PERP -> SOL, BTCUSDT -> BTC, ETH-USD -> ETH
func NormalizeAsset(market string) string {
	sym := strings.ToUpper(strings.TrimSpace(market))
	for _, suffix := range assetSuffixes {
		if strings.HasSuffix(sym, suffix) && len(sym) > len(suffix) {
			sym = strings.TrimSuffix(sym, suffix)
			break
		}
	}
	return strings.TrimSuffix(sym, "-")
}
