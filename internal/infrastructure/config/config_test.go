package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const validConfig = `
[strategy]
min_spread_apy = 5.0
max_drawdown_pct = 2.0

[venue.drift]
enabled = true

[venue.flashtrade]
enabled = true
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.App.ScanIntervalSec != 60 {
		t.Errorf("scan_interval_sec = %d, want 60", cfg.App.ScanIntervalSec)
	}
	if cfg.Strategy.RebalanceSpreadApy != 2.5 {
		t.Errorf("rebalance_spread_apy = %v, want min_spread_apy/2 = 2.5", cfg.Strategy.RebalanceSpreadApy)
	}
	if cfg.Strategy.MaxOpenPairs != 3 {
		t.Errorf("max_open_pairs = %d, want 3", cfg.Strategy.MaxOpenPairs)
	}
	if cfg.Trading.WriteTimeoutSec != 30 {
		t.Errorf("write_timeout_sec = %d, want 30", cfg.Trading.WriteTimeoutSec)
	}
	if cfg.Storage.SqlitePath == "" {
		t.Error("sqlite_path default not applied")
	}
}

func TestLoadRejectsMissingThresholds(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "missing min_spread_apy",
			body: `
[strategy]
max_drawdown_pct = 2.0
[venue.drift]
enabled = true
[venue.flashtrade]
enabled = true
`,
			want: "min_spread_apy",
		},
		{
			name: "missing max_drawdown_pct",
			body: `
[strategy]
min_spread_apy = 5.0
[venue.drift]
enabled = true
[venue.flashtrade]
enabled = true
`,
			want: "max_drawdown_pct",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Errorf("err = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestLoadRequiresTwoVenues(t *testing.T) {
	body := `
[strategy]
min_spread_apy = 5.0
max_drawdown_pct = 2.0

[venue.drift]
enabled = true
`
	if _, err := Load(writeConfig(t, body)); err == nil {
		t.Error("expected error with a single enabled venue")
	}
}

func TestNormalizeVenues(t *testing.T) {
	got := normalizeVenues([]string{" Drift ", "drift", "FLASHTRADE", ""})
	if len(got) != 2 || got[0] != "drift" || got[1] != "flashtrade" {
		t.Errorf("normalizeVenues = %v", got)
	}
}
