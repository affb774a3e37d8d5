package service

import (
	"math"
	"sort"

	"farb/internal/domain/model"
)

// Detector 套利机会检测器 - 纯函数式，无内部状态
// 净收益符号约定（全库唯一约定）：规范化后费率为正 = 多头支付空头。
// 空腿收益贡献 = +该所年化，多腿收益贡献 = -该所年化，
// NetApy = 空腿贡献 + 多腿贡献 = 最高年化 - 最低年化。
type Detector struct {
	trusted map[string]struct{} // 可信主流交易所（风险分级用）
}

// NewDetector 创建检测器
func NewDetector(trustedVenues []string) *Detector {
	trusted := make(map[string]struct{}, len(trustedVenues))
	for _, v := range trustedVenues {
		trusted[v] = struct{}{}
	}
	return &Detector{trusted: trusted}
}

// FindOpportunities 从统一费率集合中找出套利机会
// 按资产分组；少于 2 个交易所的组跳过；费率恰好为零的条目跳过（保留
// 报告但不参与检测）。组内做最大/最小选择而非全组合搜索：两个极值
// 决定可达的最大价差。价差达到 minSpreadApy（含边界）且净年化 > 0 才保留，
// 结果按 SpreadApy 降序（同值按资产名）排序。
func (d *Detector) FindOpportunities(rates []model.UnifiedRate, minSpreadApy float64) []model.ArbitrageOpportunity {
	byAsset := make(map[string][]model.UnifiedRate)
	for _, r := range rates {
		if r.RateHourly == 0 {
			continue
		}
		byAsset[r.Asset] = append(byAsset[r.Asset], r)
	}

	var opps []model.ArbitrageOpportunity
	for asset, group := range byAsset {
		if countVenues(group) < 2 {
			continue
		}

		// 最高年化做空锚点，最低年化做多锚点
		high, low := group[0], group[0]
		for _, r := range group[1:] {
			if r.RateApy > high.RateApy {
				high = r
			}
			if r.RateApy < low.RateApy {
				low = r
			}
		}
		if high.Venue == low.Venue {
			continue
		}

		spread := math.Abs(high.RateApy - low.RateApy)
		if spread < minSpreadApy {
			continue
		}

		// 空腿：多头支付空头时收取 |费率|；多腿：空头支付多头时收取 |费率|
		netApy := high.RateApy - low.RateApy
		if netApy <= 0 {
			continue
		}

		opps = append(opps, model.ArbitrageOpportunity{
			Asset:        asset,
			LongVenue:    low.Venue,
			LongMarket:   low.Market,
			LongRateApy:  low.RateApy,
			ShortVenue:   high.Venue,
			ShortMarket:  high.Market,
			ShortRateApy: high.RateApy,
			SpreadApy:    spread,
			NetApy:       netApy,
			Confidence:   d.confidence(high, low, spread),
			RiskLevel:    d.riskLevel(high.Venue, low.Venue),
			Timestamp:    maxInt64(high.Timestamp, low.Timestamp),
		})
	}

	sort.Slice(opps, func(i, j int) bool {
		if opps[i].SpreadApy != opps[j].SpreadApy {
			return opps[i].SpreadApy > opps[j].SpreadApy
		}
		return opps[i].Asset < opps[j].Asset
	})
	return opps
}

// confidence 信心度 0-100
// 成交量得分 min(平均24h量/1000万, 1)*50 + 价差得分 min(价差/500, 1)*50
func (d *Detector) confidence(a, b model.UnifiedRate, spread float64) int {
	avgVolume := (a.Volume24hUsd + b.Volume24hUsd) / 2
	volumeScore := math.Min(avgVolume/10_000_000, 1) * 50
	spreadScore := math.Min(spread/500, 1) * 50
	return int(math.Round(volumeScore + spreadScore))
}

// riskLevel 双所都在可信名单 low，单所 medium，否则 high
func (d *Detector) riskLevel(venueA, venueB string) model.RiskLevel {
	n := 0
	if _, ok := d.trusted[venueA]; ok {
		n++
	}
	if _, ok := d.trusted[venueB]; ok {
		n++
	}
	switch n {
	case 2:
		return model.RiskLow
	case 1:
		return model.RiskMedium
	default:
		return model.RiskHigh
	}
}

func countVenues(group []model.UnifiedRate) int {
	seen := make(map[string]struct{}, len(group))
	for _, r := range group {
		seen[r.Venue] = struct{}{}
	}
	return len(seen)
}

func maxInt64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
