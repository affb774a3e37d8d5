package model

// ========== Ledger Models ==========

// Side 持仓方向
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// PairStatus 套利对状态
type PairStatus string

const (
	PairOpen    PairStatus = "open"
	PairClosing PairStatus = "closing"
	PairClosed  PairStatus = "closed"
)

// Position 单腿持仓：一个交易所、一个市场
// NotionalUsd 在开仓时固定（入场价 * 数量），之后的盈亏只做派生计算，
// 不回写名义价值。
type Position struct {
	ID          string  `json:"id"`
	Venue       string  `json:"venue"`
	Symbol      string  `json:"symbol"` // 交易所原生市场符号，如 SOL-PERP
	Side        Side    `json:"side"`
	BaseSize    float64 `json:"base_size"`
	NotionalUsd float64 `json:"notional_usd"`
	EntryPrice  float64 `json:"entry_price"`
	OpenTime    int64   `json:"open_time"`
	Receipt     string  `json:"receipt"` // 交易所回执/交易签名

	// 实时数据（监控周期更新）
	CurrentPrice     float64 `json:"current_price,omitempty"`
	UnrealizedPnl    float64 `json:"unrealized_pnl,omitempty"`
	FundingCollected float64 `json:"funding_collected,omitempty"`
	LastUpdate       int64   `json:"last_update,omitempty"`

	// 人工对账标记：补偿平仓失败后腿保持记录并打标，绝不静默删除
	Flagged    bool   `json:"flagged,omitempty"`
	FlagReason string `json:"flag_reason,omitempty"`
}

// Clone 返回持仓的浅拷贝
func (p *Position) Clone() *Position {
	cp := *p
	return &cp
}

// PriceDiff 按方向计算价差（多头 exit-entry，空头 entry-exit）
func (p *Position) PriceDiff(price float64) float64 {
	if p.Side == SideLong {
		return price - p.EntryPrice
	}
	return p.EntryPrice - price
}

// ArbitragePair 一组成对开仓的 delta 中性持仓（一多一空）
// 两腿都成功开仓才创建；单腿部分成交走补偿/对账路径，绝不落账为单腿"对"。
type ArbitragePair struct {
	ID               string     `json:"id"`
	Asset            string     `json:"asset"`
	LongID           string     `json:"long_id"`
	ShortID          string     `json:"short_id"`
	OpenTime         int64      `json:"open_time"`
	TotalNotionalUsd float64    `json:"total_notional_usd"`
	TargetSpreadApy  float64    `json:"target_spread_apy"` // 开仓时观测到的价差，衰减比较基准
	Status           PairStatus `json:"status"`
}

// Clone 返回套利对的浅拷贝
func (a *ArbitragePair) Clone() *ArbitragePair {
	cp := *a
	return &cp
}

// LedgerState 账本全量状态：开放持仓、开放套利对与累计合计
// 每次变更操作整体写穿到稳定存储。
type LedgerState struct {
	Positions             []*Position      `json:"positions"`
	Pairs                 []*ArbitragePair `json:"pairs"`
	LastUpdate            int64            `json:"last_update"`
	TotalFundingCollected float64          `json:"total_funding_collected"`
	TotalRealizedPnl      float64          `json:"total_realized_pnl"`
}

// Clone 深拷贝账本状态（持久化前构造下一状态用）
func (s *LedgerState) Clone() *LedgerState {
	next := &LedgerState{
		Positions:             make([]*Position, 0, len(s.Positions)),
		Pairs:                 make([]*ArbitragePair, 0, len(s.Pairs)),
		LastUpdate:            s.LastUpdate,
		TotalFundingCollected: s.TotalFundingCollected,
		TotalRealizedPnl:      s.TotalRealizedPnl,
	}
	for _, p := range s.Positions {
		next.Positions = append(next.Positions, p.Clone())
	}
	for _, a := range s.Pairs {
		next.Pairs = append(next.Pairs, a.Clone())
	}
	return next
}

// TradeType 交易历史条目类型
type TradeType string

const (
	TradeOpen  TradeType = "open"
	TradeClose TradeType = "close"
)

// TradeEntry 追加式交易历史条目，仅用于审计，不用于状态重建
type TradeEntry struct {
	PositionID string    `json:"position_id"`
	Type       TradeType `json:"type"`
	Venue      string    `json:"venue"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Size       float64   `json:"size"`
	Price      float64   `json:"price"`
	Time       int64     `json:"time"`
	Receipt    string    `json:"receipt"`
	Pnl        float64   `json:"pnl,omitempty"`     // 仅平仓条目
	Funding    float64   `json:"funding,omitempty"` // 仅平仓条目
}

// HistoryLimit 交易历史保留窗口（最近条目数）
const HistoryLimit = 1000

// WindowStats 滚动窗口盈亏统计
type WindowStats struct {
	ProfitUsd  float64 `json:"profit_usd"`
	FundingUsd float64 `json:"funding_usd"`
	Trades     int     `json:"trades"`
}

// PnlStats 按日/周/月/全部的滚动盈亏统计
type PnlStats struct {
	Daily   WindowStats `json:"daily"`
	Weekly  WindowStats `json:"weekly"`
	Monthly WindowStats `json:"monthly"`
	AllTime WindowStats `json:"all_time"`
}
