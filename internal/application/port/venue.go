package port

import (
	"context"

	"farb/internal/domain/model"
)

// Market 交易所市场元数据
type Market struct {
	Symbol    string // 交易所原生符号，如 SOL-PERP
	BaseAsset string
}

// TradeResult 下单/平仓结果
type TradeResult struct {
	Success bool
	Receipt string // 交易所回执/交易签名
	Err     string
}

// VenuePosition 交易所侧持仓（写超时后对账用）
type VenuePosition struct {
	Market      string
	Side        model.Side
	BaseSize    float64
	NotionalUsd float64
	EntryPrice  float64
}

// VenueAdapter 交易所能力契约
// 读操作（ListMarkets / FundingRates / GetPositions / GetBalance）可安全
// 重复调用；写操作（OpenPosition / ClosePosition）按 at-most-once 风险处理，
// 调用方在未确认交易所侧状态前绝不盲目重试。
type VenueAdapter interface {
	Name() string
	ListMarkets(ctx context.Context) ([]Market, error)
	FundingRates(ctx context.Context) ([]model.RawFunding, error)
	OpenPosition(ctx context.Context, market string, side model.Side, notionalUsd, leverage float64) (TradeResult, error)
	ClosePosition(ctx context.Context, market string) (TradeResult, error)
	GetPositions(ctx context.Context) ([]VenuePosition, error)
	GetBalance(ctx context.Context) (float64, error)
}
