package venue

import (
	"errors"

	"github.com/rs/zerolog/log"

	"farb/internal/application/port"
	"farb/internal/infrastructure/config"
	"farb/internal/infrastructure/venue/drift"
	"farb/internal/infrastructure/venue/dryrun"
	"farb/internal/infrastructure/venue/flashtrade"
)

// Build 按配置装配启用的场所适配器
// dry-run 模式下每个适配器都套一层纸面交易包装：行情真实，下单模拟。
func Build(cfg *config.Config) ([]port.VenueAdapter, error) {
	var out []port.VenueAdapter

	if cfg.Venue.Drift.Enabled {
		out = append(out, wrap(cfg, drift.New(cfg.Venue.Drift.DataURL, cfg.Venue.Drift.GatewayURL)))
	}
	if cfg.Venue.Flashtrade.Enabled {
		out = append(out, wrap(cfg, flashtrade.New(cfg.Venue.Flashtrade.BaseURL, cfg.Venue.Flashtrade.APIKey)))
	}

	if len(out) < 2 {
		return nil, errors.New("fewer than two venues enabled")
	}
	for _, v := range out {
		log.Info().Str("venue", v.Name()).Bool("dry_run", cfg.App.DryRun).Msg("venue adapter ready")
	}
	return out, nil
}

func wrap(cfg *config.Config, inner port.VenueAdapter) port.VenueAdapter {
	if cfg.App.DryRun {
		return dryrun.New(inner, cfg.Trading.PaperBalanceUsd)
	}
	return inner
}
