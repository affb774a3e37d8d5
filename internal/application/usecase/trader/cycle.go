package trader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"farb/internal/application/port"
	"farb/internal/domain/model"
	dsvc "farb/internal/domain/service"
)

// venueScanTimeout 单场所行情拉取上限，一个慢场所不拖垮整个周期
const venueScanTimeout = 15 * time.Second

// scan 并发拉取全部场所的资金费率，归一化入缓存后跑检测
// 单场所失败只记日志，用其余场所的数据继续本周期。
func (s *Service) scan(ctx context.Context) []model.ArbitrageOpportunity {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for _, v := range s.deps.Venues {
		v := v
		g.Go(func() error {
			vctx, cancel := context.WithTimeout(gctx, venueScanTimeout)
			defer cancel()

			raws, err := v.FundingRates(vctx)
			if err != nil {
				log.Warn().Str("venue", v.Name()).Err(err).Msg("funding rate fetch failed")
				return nil // 不让单场所失败取消其他场所
			}

			mu.Lock()
			rates, errs := s.normalizer.Ingest(v.Name(), raws)
			mu.Unlock()

			for _, e := range errs {
				log.Debug().Str("venue", v.Name()).Err(e).Msg("rate skipped")
			}
			log.Debug().Str("venue", v.Name()).Int("markets", len(rates)).Msg("venue scanned")
			return nil
		})
	}
	_ = g.Wait()

	all := s.deps.Cache.All()
	opps := s.deps.Detector.FindOpportunities(all, s.deps.MinSpreadApy)

	log.Info().
		Int("rates", len(all)).
		Int("opportunities", len(opps)).
		Msg("scan complete")
	return opps
}

// evaluate 评估最优机会并尝试开仓
// 每个周期最多开一对：控制节奏，也给下一周期留出重新评估的机会。
func (s *Service) evaluate(ctx context.Context, opps []model.ArbitrageOpportunity) {
	if len(opps) == 0 {
		return
	}
	if len(s.deps.Positions.OpenPairs()) >= s.deps.MaxOpenPairs {
		log.Debug().Int("max", s.deps.MaxOpenPairs).Msg("pair limit reached, skip evaluation")
		return
	}

	for i := range opps {
		opp := &opps[i]
		if opp.NetApy < s.deps.MinNetApy {
			continue
		}
		if opp.Confidence < s.deps.MinConfidence {
			continue
		}
		if s.deps.Positions.HasPositionForAsset(opp.Asset) {
			continue
		}
		if _, closed := s.closedAssets[opp.Asset]; closed {
			continue
		}

		if err := s.openPair(ctx, opp); err != nil {
			log.Error().Err(err).Str("asset", opp.Asset).Msg("pair open failed")
		}
		return
	}
}

// openPair 两腿开仓：多头腿先行，空头腿失败时补偿平掉多头腿
func (s *Service) openPair(ctx context.Context, opp *model.ArbitrageOpportunity) error {
	longVenue := s.byName[opp.LongVenue]
	shortVenue := s.byName[opp.ShortVenue]
	if longVenue == nil || shortVenue == nil {
		return fmt.Errorf("venue adapter missing for %s/%s", opp.LongVenue, opp.ShortVenue)
	}

	longRate, ok1 := s.deps.Cache.Get(opp.LongVenue, opp.Asset)
	shortRate, ok2 := s.deps.Cache.Get(opp.ShortVenue, opp.Asset)
	if !ok1 || !ok2 || longRate.MarkPrice <= 0 || shortRate.MarkPrice <= 0 {
		return fmt.Errorf("mark price unavailable for %s", opp.Asset)
	}

	log.Info().
		Str("asset", opp.Asset).
		Str("long", opp.LongVenue).
		Str("short", opp.ShortVenue).
		Float64("spread_apy", opp.SpreadApy).
		Float64("net_apy", opp.NetApy).
		Int("confidence", opp.Confidence).
		Msg("opening arbitrage pair")

	// 第一腿：多头
	res, err := s.execOpen(ctx, longVenue, opp.LongMarket, model.SideLong)
	if err != nil {
		return fmt.Errorf("long leg open: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("long leg rejected: %s", res.Err)
	}

	longSize := s.deps.NotionalPerLegUsd / longRate.MarkPrice
	longPos, err := s.deps.Positions.AddPosition(ctx, opp.LongVenue, opp.LongMarket, model.SideLong, longSize, longRate.MarkPrice, res.Receipt)
	if err != nil {
		// 账本写失败但场所侧已成交：立即补偿平仓
		log.Error().Err(err).Str("event", "partial_open").Str("venue", opp.LongVenue).Msg("leg recorded nowhere, compensating close")
		s.compensate(ctx, longVenue, opp.LongMarket, "")
		return fmt.Errorf("record long leg: %w", err)
	}

	// 第二腿：空头
	res, err = s.execOpen(ctx, shortVenue, opp.ShortMarket, model.SideShort)
	if err != nil || !res.Success {
		reason := ""
		if err != nil {
			reason = err.Error()
		} else {
			reason = res.Err
		}
		log.Error().
			Str("event", "partial_open").
			Str("asset", opp.Asset).
			Str("failed_venue", opp.ShortVenue).
			Str("reason", reason).
			Msg("short leg failed, compensating long leg")

		s.compensate(ctx, longVenue, opp.LongMarket, longPos.ID)
		return fmt.Errorf("short leg open: %s", reason)
	}

	shortSize := s.deps.NotionalPerLegUsd / shortRate.MarkPrice
	shortPos, err := s.deps.Positions.AddPosition(ctx, opp.ShortVenue, opp.ShortMarket, model.SideShort, shortSize, shortRate.MarkPrice, res.Receipt)
	if err != nil {
		log.Error().Err(err).Str("event", "partial_open").Str("venue", opp.ShortVenue).Msg("short leg recorded nowhere, compensating both legs")
		s.compensate(ctx, shortVenue, opp.ShortMarket, "")
		s.compensate(ctx, longVenue, opp.LongMarket, longPos.ID)
		return fmt.Errorf("record short leg: %w", err)
	}

	pair, err := s.deps.Positions.CreatePair(ctx, longPos, shortPos, opp.SpreadApy)
	if err != nil {
		// 两腿都已安全记录，只缺分组记录：留待下周期对账，不回滚
		return fmt.Errorf("create pair record: %w", err)
	}

	log.Info().
		Str("pair_id", pair.ID).
		Str("asset", pair.Asset).
		Float64("notional_usd", pair.TotalNotionalUsd).
		Msg("arbitrage pair opened")
	return nil
}

// execOpen 带写超时的开仓，超时后先查场所真实持仓再定成败
func (s *Service) execOpen(ctx context.Context, venue port.VenueAdapter, market string, side model.Side) (port.TradeResult, error) {
	wctx, cancel := context.WithTimeout(ctx, s.deps.WriteTimeout)
	defer cancel()

	res, err := venue.OpenPosition(wctx, market, side, s.deps.NotionalPerLegUsd, s.deps.Leverage)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		return port.TradeResult{}, err
	}

	// 写超时不等于失败：场所可能已经成交，对账后再下结论
	log.Warn().Str("venue", venue.Name()).Str("market", market).Msg("open timed out, reconciling against venue positions")

	rctx, rcancel := context.WithTimeout(ctx, s.deps.WriteTimeout)
	defer rcancel()
	positions, perr := venue.GetPositions(rctx)
	if perr != nil {
		return port.TradeResult{}, fmt.Errorf("open timed out and reconcile failed: %w", perr)
	}
	for _, p := range positions {
		if p.Market == market && p.Side == side {
			log.Warn().Str("venue", venue.Name()).Str("market", market).Msg("timed-out open actually filled")
			return port.TradeResult{Success: true, Receipt: "reconciled:" + market}, nil
		}
	}
	return port.TradeResult{}, err
}

// execClose 带写超时的平仓，超时后先查场所真实持仓再定成败
// 仓位已经不在场所侧说明平仓实际落地，按成功处理。
func (s *Service) execClose(ctx context.Context, venue port.VenueAdapter, market string, side model.Side) (port.TradeResult, error) {
	wctx, cancel := context.WithTimeout(ctx, s.deps.WriteTimeout)
	defer cancel()

	res, err := venue.ClosePosition(wctx, market)
	if err == nil {
		return res, nil
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		return port.TradeResult{}, err
	}

	log.Warn().Str("venue", venue.Name()).Str("market", market).Msg("close timed out, reconciling against venue positions")

	rctx, rcancel := context.WithTimeout(ctx, s.deps.WriteTimeout)
	defer rcancel()
	positions, perr := venue.GetPositions(rctx)
	if perr != nil {
		return port.TradeResult{}, fmt.Errorf("close timed out and reconcile failed: %w", perr)
	}
	for _, p := range positions {
		if p.Market == market && p.Side == side {
			// 仓位还在，平仓确实没成
			return port.TradeResult{}, err
		}
	}
	log.Warn().Str("venue", venue.Name()).Str("market", market).Msg("timed-out close actually landed")
	return port.TradeResult{Success: true, Receipt: "reconciled:" + market}, nil
}

// compensate 补偿平掉一条已成交的腿
// positionID 为空表示该腿未能写入账本。补偿失败时腿保留在账本中
// 并打上人工对账标记，绝不静默丢弃。
func (s *Service) compensate(ctx context.Context, venue port.VenueAdapter, market, positionID string) {
	wctx, cancel := context.WithTimeout(ctx, s.deps.WriteTimeout)
	defer cancel()

	res, err := venue.ClosePosition(wctx, market)
	if err == nil && res.Success {
		if positionID != "" {
			exitPrice := 0.0
			if rate, ok := s.deps.Cache.Get(venue.Name(), dsvc.NormalizeAsset(market)); ok && rate.MarkPrice > 0 {
				exitPrice = rate.MarkPrice
			}
			if exitPrice <= 0 {
				if pos, ok := s.deps.Positions.PositionByID(positionID); ok {
					exitPrice = pos.EntryPrice
				}
			}
			if _, cerr := s.deps.Positions.ClosePosition(ctx, positionID, exitPrice, res.Receipt); cerr != nil {
				log.Error().Err(cerr).Str("position_id", positionID).Msg("compensating close succeeded on venue but ledger close failed")
				_ = s.deps.Positions.FlagPosition(ctx, positionID, "venue closed, ledger close failed")
			}
		}
		log.Info().Str("venue", venue.Name()).Str("market", market).Msg("compensating close done")
		return
	}

	reason := ""
	if err != nil {
		reason = err.Error()
	} else {
		reason = res.Err
	}
	log.Error().
		Str("event", "compensation_failed").
		Str("venue", venue.Name()).
		Str("market", market).
		Str("reason", reason).
		Msg("compensating close failed, manual reconciliation required")

	if positionID != "" {
		_ = s.deps.Positions.FlagPosition(ctx, positionID, "compensating close failed: "+reason)
	}
}
