package trader

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"farb/internal/domain/model"
	dsvc "farb/internal/domain/service"
)

// monitorPairs 刷新每个开放套利对的腿状态并执行退出规则
// 退出条件：价差衰减到再平衡阈值以下，或对级回撤超限。
func (s *Service) monitorPairs(ctx context.Context) {
	now := s.deps.Clock.Now().UnixMilli()

	for _, pair := range s.deps.Positions.OpenPairs() {
		s.refreshLeg(ctx, pair.LongID, now)
		s.refreshLeg(ctx, pair.ShortID, now)

		if pair.Status == model.PairClosing {
			// 上个周期没关干净，重试
			if err := s.closePair(ctx, pair); err != nil {
				log.Error().Err(err).Str("pair_id", pair.ID).Msg("pair close retry failed")
			}
			continue
		}

		spread, ok := s.currentSpread(pair)
		drawdown := s.deps.Positions.PairDrawdownPct(pair.ID)

		switch {
		case drawdown > s.deps.MaxDrawdownPct:
			log.Warn().
				Str("pair_id", pair.ID).
				Str("asset", pair.Asset).
				Float64("drawdown_pct", drawdown).
				Float64("max_drawdown_pct", s.deps.MaxDrawdownPct).
				Msg("drawdown limit exceeded, closing pair")
			if err := s.closePair(ctx, pair); err != nil {
				log.Error().Err(err).Str("pair_id", pair.ID).Msg("pair close failed")
			}

		case ok && spread < s.deps.RebalanceSpreadApy:
			log.Info().
				Str("pair_id", pair.ID).
				Str("asset", pair.Asset).
				Float64("spread_apy", spread).
				Float64("entry_spread_apy", pair.TargetSpreadApy).
				Float64("rebalance_spread_apy", s.deps.RebalanceSpreadApy).
				Msg("spread decayed, closing pair")
			if err := s.closePair(ctx, pair); err != nil {
				log.Error().Err(err).Str("pair_id", pair.ID).Msg("pair close failed")
			}
		}
	}
}

// refreshLeg 用缓存里的最新标记价与费率刷新一条腿
// 资金费按持有时长线性累计：空头腿在正费率下收钱，多头腿付钱。
func (s *Service) refreshLeg(ctx context.Context, positionID string, nowMs int64) {
	pos, ok := s.deps.Positions.PositionByID(positionID)
	if !ok {
		return
	}

	rate, ok := s.deps.Cache.Get(pos.Venue, dsvc.NormalizeAsset(pos.Symbol))
	if !ok || rate.MarkPrice <= 0 {
		return
	}

	elapsedHours := float64(nowMs-pos.LastUpdate) / float64(3600_000)
	if elapsedHours < 0 {
		elapsedHours = 0
	}

	hourlyEarn := rate.RateHourly
	if pos.Side == model.SideLong {
		hourlyEarn = -hourlyEarn
	}
	fundingDelta := pos.NotionalUsd * hourlyEarn * elapsedHours

	if err := s.deps.Positions.UpdatePosition(ctx, positionID, rate.MarkPrice, fundingDelta); err != nil {
		log.Warn().Err(err).Str("position_id", positionID).Msg("leg refresh failed")
	}
}

// currentSpread 按当前缓存费率重算该套利对的年化价差
func (s *Service) currentSpread(pair *model.ArbitragePair) (float64, bool) {
	longPos, ok1 := s.deps.Positions.PositionByID(pair.LongID)
	shortPos, ok2 := s.deps.Positions.PositionByID(pair.ShortID)
	if !ok1 || !ok2 {
		return 0, false
	}

	longRate, ok1 := s.deps.Cache.Get(longPos.Venue, pair.Asset)
	shortRate, ok2 := s.deps.Cache.Get(shortPos.Venue, pair.Asset)
	if !ok1 || !ok2 {
		return 0, false
	}
	return shortRate.RateApy - longRate.RateApy, true
}

// closePair 平掉两腿并关闭套利对记录
// 两腿都会尝试，单腿失败不阻止另一腿退出；失败的腿打标记留给
// 下个周期重试或人工处理。
func (s *Service) closePair(ctx context.Context, pair *model.ArbitragePair) error {
	if pair.Status != model.PairClosing {
		if err := s.deps.Positions.MarkPairClosing(ctx, pair.ID); err != nil {
			return fmt.Errorf("mark closing: %w", err)
		}
	}

	errLong := s.closeLeg(ctx, pair.LongID)
	errShort := s.closeLeg(ctx, pair.ShortID)
	if err := errors.Join(errLong, errShort); err != nil {
		return err
	}

	if err := s.deps.Positions.ClosePair(ctx, pair.ID); err != nil {
		return fmt.Errorf("close pair record: %w", err)
	}
	if s.closedAssets != nil {
		s.closedAssets[pair.Asset] = struct{}{}
	}

	realized, funding := s.deps.Positions.Totals()
	log.Info().
		Str("pair_id", pair.ID).
		Str("asset", pair.Asset).
		Float64("total_realized_pnl", realized).
		Float64("total_funding", funding).
		Msg("arbitrage pair closed")
	return nil
}

func (s *Service) closeLeg(ctx context.Context, positionID string) error {
	pos, ok := s.deps.Positions.PositionByID(positionID)
	if !ok {
		// 腿已在更早的周期关掉
		return nil
	}

	venue := s.byName[pos.Venue]
	if venue == nil {
		return fmt.Errorf("venue adapter missing for %s", pos.Venue)
	}

	res, err := s.execClose(ctx, venue, pos.Symbol, pos.Side)
	if err != nil || !res.Success {
		reason := ""
		if err != nil {
			reason = err.Error()
		} else {
			reason = res.Err
		}
		_ = s.deps.Positions.FlagPosition(ctx, positionID, "venue close failed: "+reason)
		return fmt.Errorf("close %s on %s: %s", pos.Symbol, pos.Venue, reason)
	}

	exitPrice := pos.CurrentPrice
	if rate, ok := s.deps.Cache.Get(pos.Venue, dsvc.NormalizeAsset(pos.Symbol)); ok && rate.MarkPrice > 0 {
		exitPrice = rate.MarkPrice
	}
	if exitPrice <= 0 {
		exitPrice = pos.EntryPrice
	}

	if _, err := s.deps.Positions.ClosePosition(ctx, positionID, exitPrice, res.Receipt); err != nil {
		_ = s.deps.Positions.FlagPosition(ctx, positionID, "venue closed, ledger close failed")
		return fmt.Errorf("record close for %s: %w", positionID, err)
	}
	return nil
}
