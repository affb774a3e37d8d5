package model

// ========== Funding Rate Models ==========

// PayDirection 资金费支付方向
type PayDirection string

const (
	// LongsPayShorts 多头支付空头（规范化后费率为正）
	LongsPayShorts PayDirection = "longs_pay_shorts"
	// ShortsPayLongs 空头支付多头（规范化后费率为负）
	ShortsPayLongs PayDirection = "shorts_pay_longs"
)

// UnifiedRate 单一交易所单一市场的统一资金费率快照
// 规范化约定：RateHourly 为正时总是表示多头支付空头，各交易所的
// 原始符号约定在规范化阶段统一。每个扫描周期重新计算，不单独持久化。
type UnifiedRate struct {
	Venue           string       `json:"venue"`
	Market          string       `json:"market"` // 交易所原生市场符号，如 SOL-PERP
	Asset           string       `json:"asset"`  // 规范化基础资产符号，如 SOL
	RateHourly      float64      `json:"rate_hourly"`
	RateApy         float64      `json:"rate_apy"` // RateHourly * 24 * 365 * 100
	PayDirection    PayDirection `json:"pay_direction"`
	MarkPrice       float64      `json:"mark_price"`
	OpenInterestUsd float64      `json:"open_interest_usd"`
	Volume24hUsd    float64      `json:"volume_24h_usd"`
	Timestamp       int64        `json:"ts_ms"`
}

// AnnualizeHourly 小时费率转年化百分比
func AnnualizeHourly(hourly float64) float64 {
	return hourly * 24 * 365 * 100
}

// RawFunding 交易所原生资金费率快照（未规范化）
// LongsPayWhenPositive 声明该交易所的符号约定：原始费率为正时是否表示
// 多头支付空头。各适配器必须显式声明，规范化器不做任何默认假设。
type RawFunding struct {
	Market               string
	Rate                 float64 // 原生周期费率
	PeriodHours          float64 // 资金费周期（小时），常见 1 或 8
	LongsPayWhenPositive bool
	MarkPrice            float64
	OpenInterestUsd      float64
	Volume24hUsd         float64
	Timestamp            int64
}

// RiskLevel 机会风险等级
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// ArbitrageOpportunity 跨所资金费率套利机会
// 由同一资产在 >=2 个交易所的统一费率导出，创建后不再修改。
type ArbitrageOpportunity struct {
	Asset        string    `json:"asset"`
	LongVenue    string    `json:"long_venue"`  // 做多交易所（费率最低一侧）
	LongMarket   string    `json:"long_market"`
	LongRateApy  float64   `json:"long_rate_apy"`
	ShortVenue   string    `json:"short_venue"` // 做空交易所（费率最高一侧）
	ShortMarket  string    `json:"short_market"`
	ShortRateApy float64   `json:"short_rate_apy"`
	SpreadApy    float64   `json:"spread_apy"` // |最高年化 - 最低年化|
	NetApy       float64   `json:"net_apy"`    // 双腿按支付方向累加的净年化收益
	Confidence   int       `json:"confidence"` // 信心度 0-100
	RiskLevel    RiskLevel `json:"risk_level"`
	Timestamp    int64     `json:"ts_ms"`
}
