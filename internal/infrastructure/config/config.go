package config

import (
	"errors"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	App struct {
		ScanIntervalSec int  `toml:"scan_interval_sec"`
		DryRun          bool `toml:"dry_run"`
	} `toml:"app"`

	Strategy struct {
		// 无默认值：风控阈值必须显式给出
		MinSpreadApy       float64  `toml:"min_spread_apy"`
		MaxDrawdownPct     float64  `toml:"max_drawdown_pct"`
		MinNetApy          float64  `toml:"min_net_apy"`
		MinConfidence      int      `toml:"min_confidence"`
		RebalanceSpreadApy float64  `toml:"rebalance_spread_apy"`
		MaxOpenPairs       int      `toml:"max_open_pairs"`
		TrustedVenues      []string `toml:"trusted_venues"`
	} `toml:"strategy"`

	Trading struct {
		NotionalPerLegUsd float64 `toml:"notional_per_leg_usd"`
		Leverage          float64 `toml:"leverage"`
		WriteTimeoutSec   int     `toml:"write_timeout_sec"`
		PaperBalanceUsd   float64 `toml:"paper_balance_usd"`
	} `toml:"trading"`

	Storage struct {
		SqlitePath  string `toml:"sqlite_path"`
		PostgresDSN string `toml:"postgres_dsn"`
	} `toml:"storage"`

	Redis struct {
		Enabled    bool   `toml:"enabled"`
		Addr       string `toml:"addr"`
		Password   string `toml:"password"`
		DB         int    `toml:"db"`
		Prefix     string `toml:"prefix"`
		OppStream  string `toml:"opp_stream"`
		OppChannel string `toml:"opp_channel"`
	} `toml:"redis"`

	Venue struct {
		Drift struct {
			Enabled    bool   `toml:"enabled"`
			DataURL    string `toml:"data_url"`
			GatewayURL string `toml:"gateway_url"`
			WsEnabled  bool   `toml:"ws_enabled"`
			WsURL      string `toml:"ws_url"`
		} `toml:"drift"`

		Flashtrade struct {
			Enabled bool   `toml:"enabled"`
			BaseURL string `toml:"base_url"`
			APIKey  string `toml:"api_key"`
		} `toml:"flashtrade"`
	} `toml:"venue"`
}

func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.App.ScanIntervalSec <= 0 {
		cfg.App.ScanIntervalSec = 60
	}
	if cfg.Strategy.MinNetApy <= 0 {
		cfg.Strategy.MinNetApy = 10.0
	}
	if cfg.Strategy.MinConfidence <= 0 {
		cfg.Strategy.MinConfidence = 50
	}
	if cfg.Strategy.RebalanceSpreadApy <= 0 {
		cfg.Strategy.RebalanceSpreadApy = cfg.Strategy.MinSpreadApy / 2
	}
	if cfg.Strategy.MaxOpenPairs <= 0 {
		cfg.Strategy.MaxOpenPairs = 3
	}
	if cfg.Trading.NotionalPerLegUsd <= 0 {
		cfg.Trading.NotionalPerLegUsd = 1000
	}
	if cfg.Trading.Leverage <= 0 {
		cfg.Trading.Leverage = 1
	}
	if cfg.Trading.WriteTimeoutSec <= 0 {
		cfg.Trading.WriteTimeoutSec = 30
	}
	if cfg.Trading.PaperBalanceUsd <= 0 {
		cfg.Trading.PaperBalanceUsd = 10000
	}
	if cfg.Storage.SqlitePath == "" {
		cfg.Storage.SqlitePath = "data/ledger.db"
	}
	if cfg.Redis.Prefix == "" {
		cfg.Redis.Prefix = "farb"
	}
}

func validate(cfg *Config) error {
	// 两个风控阈值拒绝缺省：配错比宕机更贵
	if cfg.Strategy.MinSpreadApy <= 0 {
		return errors.New("strategy.min_spread_apy is required and must be > 0")
	}
	if cfg.Strategy.MaxDrawdownPct <= 0 {
		return errors.New("strategy.max_drawdown_pct is required and must be > 0")
	}

	cfg.Strategy.TrustedVenues = normalizeVenues(cfg.Strategy.TrustedVenues)

	enabled := 0
	if cfg.Venue.Drift.Enabled {
		enabled++
	}
	if cfg.Venue.Flashtrade.Enabled {
		enabled++
	}
	if enabled < 2 {
		return errors.New("at least two venues must be enabled for cross-venue arbitrage")
	}

	if cfg.Redis.Enabled && strings.TrimSpace(cfg.Redis.Addr) == "" {
		return errors.New("redis.addr empty but enabled")
	}
	if cfg.Venue.Drift.WsEnabled && !cfg.Venue.Drift.Enabled {
		return errors.New("venue.drift.ws_enabled requires venue.drift.enabled")
	}
	return nil
}

func normalizeVenues(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, s := range in {
		v := strings.ToLower(strings.TrimSpace(s))
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
