package dryrun

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"farb/internal/application/port"
	"farb/internal/domain/model"
)

// Adapter 纸面交易包装器
// 读路径透传真实场所行情，写路径只记日志并维护模拟持仓与模拟
// 余额。交易循环对两种模式使用完全相同的代码路径。
type Adapter struct {
	inner port.VenueAdapter

	mu        sync.Mutex
	balance   float64
	positions map[string]port.VenuePosition // market -> simulated position
	margins   map[string]float64            // market -> 已占用保证金
	lastPrice map[string]float64            // market -> 最近一次行情快照的标记价
}

// New 包装真实适配器，paperBalance 为模拟起始保证金
func New(inner port.VenueAdapter, paperBalance float64) *Adapter {
	return &Adapter{
		inner:     inner,
		balance:   paperBalance,
		positions: make(map[string]port.VenuePosition),
		margins:   make(map[string]float64),
		lastPrice: make(map[string]float64),
	}
}

func (a *Adapter) Name() string { return a.inner.Name() }

func (a *Adapter) ListMarkets(ctx context.Context) ([]port.Market, error) {
	return a.inner.ListMarkets(ctx)
}

// FundingRates 透传真实行情，顺带记住标记价供模拟成交定价
func (a *Adapter) FundingRates(ctx context.Context) ([]model.RawFunding, error) {
	rates, err := a.inner.FundingRates(ctx)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	for _, r := range rates {
		if r.MarkPrice > 0 {
			a.lastPrice[r.Market] = r.MarkPrice
		}
	}
	a.mu.Unlock()
	return rates, nil
}

// OpenPosition 模拟开仓：按最近标记价成交，返回合成回执
func (a *Adapter) OpenPosition(ctx context.Context, market string, side model.Side, notionalUsd, leverage float64) (port.TradeResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	price := a.lastPrice[market]
	if price <= 0 {
		return port.TradeResult{Success: false, Err: "no mark price observed for market"}, nil
	}
	if leverage <= 0 {
		leverage = 1
	}
	margin := notionalUsd / leverage
	if margin > a.balance {
		return port.TradeResult{Success: false, Err: fmt.Sprintf("insufficient paper balance: need %.2f, have %.2f", margin, a.balance)}, nil
	}
	if _, exists := a.positions[market]; exists {
		return port.TradeResult{Success: false, Err: "simulated position already open for market"}, nil
	}

	a.balance -= margin
	a.margins[market] = margin
	a.positions[market] = port.VenuePosition{
		Market:      market,
		Side:        side,
		BaseSize:    notionalUsd / price,
		NotionalUsd: notionalUsd,
		EntryPrice:  price,
	}
	receipt := "dry-" + uuid.NewString()

	log.Info().
		Str("venue", a.inner.Name()).
		Str("market", market).
		Str("side", string(side)).
		Float64("notional_usd", notionalUsd).
		Float64("price", price).
		Str("receipt", receipt).
		Msg("dry-run open")

	return port.TradeResult{Success: true, Receipt: receipt}, nil
}

// ClosePosition 模拟平仓：按最近标记价退出并归还保证金
func (a *Adapter) ClosePosition(ctx context.Context, market string) (port.TradeResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pos, exists := a.positions[market]
	if !exists {
		return port.TradeResult{Success: false, Err: "no simulated position for market"}, nil
	}

	price := a.lastPrice[market]
	if price <= 0 {
		price = pos.EntryPrice
	}
	var pnl float64
	if pos.Side == model.SideLong {
		pnl = (price - pos.EntryPrice) * pos.BaseSize
	} else {
		pnl = (pos.EntryPrice - price) * pos.BaseSize
	}

	delete(a.positions, market)
	a.balance += a.margins[market] + pnl
	delete(a.margins, market)
	receipt := "dry-" + uuid.NewString()

	log.Info().
		Str("venue", a.inner.Name()).
		Str("market", market).
		Float64("exit_price", price).
		Float64("pnl", pnl).
		Str("receipt", receipt).
		Msg("dry-run close")

	return port.TradeResult{Success: true, Receipt: receipt}, nil
}

// GetPositions 返回模拟持仓
func (a *Adapter) GetPositions(ctx context.Context) ([]port.VenuePosition, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]port.VenuePosition, 0, len(a.positions))
	for _, p := range a.positions {
		out = append(out, p)
	}
	return out, nil
}

// GetBalance 返回模拟余额
func (a *Adapter) GetBalance(ctx context.Context) (float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance, nil
}

var _ port.VenueAdapter = (*Adapter)(nil)
