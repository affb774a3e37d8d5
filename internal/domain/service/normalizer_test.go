package service

import (
	"errors"
	"math"
	"testing"

	"farb/internal/domain/model"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestNormalizeHourlyVenue(t *testing.T) {
	n := NewNormalizer(nil)

	// 每小时 +0.05% -> 年化 0.0005*24*365*100 = 438%
	ur, err := n.Normalize("drift", model.RawFunding{
		Market: "SOL-PERP", Rate: 0.0005, PeriodHours: 1,
		LongsPayWhenPositive: true, MarkPrice: 150, Timestamp: 1000,
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ur.Asset != "SOL" {
		t.Errorf("asset = %q, want SOL", ur.Asset)
	}
	if !almostEqual(ur.RateHourly, 0.0005) {
		t.Errorf("hourly = %v", ur.RateHourly)
	}
	if !almostEqual(ur.RateApy, 438.0) {
		t.Errorf("apy = %v, want 438", ur.RateApy)
	}
	if ur.PayDirection != model.LongsPayShorts {
		t.Errorf("direction = %v", ur.PayDirection)
	}
}

func TestNormalizeEightHourPeriod(t *testing.T) {
	n := NewNormalizer(nil)

	// 每 8 小时 -0.16% -> 每小时 -0.02% -> 年化 -175.2%
	ur, err := n.Normalize("flashtrade", model.RawFunding{
		Market: "SOL-PERP", Rate: -0.0016, PeriodHours: 8,
		LongsPayWhenPositive: true, MarkPrice: 150,
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !almostEqual(ur.RateHourly, -0.0002) {
		t.Errorf("hourly = %v, want -0.0002", ur.RateHourly)
	}
	if !almostEqual(ur.RateApy, -175.2) {
		t.Errorf("apy = %v, want -175.2", ur.RateApy)
	}
	if ur.PayDirection != model.ShortsPayLongs {
		t.Errorf("direction = %v", ur.PayDirection)
	}
}

func TestNormalizeFlipsInvertedConvention(t *testing.T) {
	n := NewNormalizer(nil)

	// 场所约定正费率为空头付多头：规范化后符号翻转
	ur, err := n.Normalize("other", model.RawFunding{
		Market: "ETHUSDT", Rate: 0.0001, PeriodHours: 1,
		LongsPayWhenPositive: false, MarkPrice: 3000,
	})
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !almostEqual(ur.RateHourly, -0.0001) {
		t.Errorf("hourly = %v, want -0.0001", ur.RateHourly)
	}
	if ur.Asset != "ETH" {
		t.Errorf("asset = %q, want ETH", ur.Asset)
	}
}

func TestNormalizeZeroRateIsValid(t *testing.T) {
	n := NewNormalizer(nil)

	ur, err := n.Normalize("drift", model.RawFunding{
		Market: "BTC-PERP", Rate: 0, PeriodHours: 1,
		LongsPayWhenPositive: true, MarkPrice: 60000,
	})
	if err != nil {
		t.Fatalf("zero rate must normalize: %v", err)
	}
	if ur.RateApy != 0 {
		t.Errorf("apy = %v, want 0", ur.RateApy)
	}
}

func TestNormalizeRejectsBadInput(t *testing.T) {
	n := NewNormalizer(nil)

	cases := []struct {
		name string
		raw  model.RawFunding
		want error
	}{
		{"nan rate", model.RawFunding{Market: "X", Rate: math.NaN(), PeriodHours: 1, MarkPrice: 1}, ErrMissingRate},
		{"zero mark price", model.RawFunding{Market: "X", Rate: 0.001, PeriodHours: 1, MarkPrice: 0}, ErrMissingMarkPrice},
		{"zero period", model.RawFunding{Market: "X", Rate: 0.001, PeriodHours: 0, MarkPrice: 1}, ErrBadPeriod},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := n.Normalize("v", tc.raw); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestIngestStoresValidSkipsInvalid(t *testing.T) {
	cache := NewRateCache()
	n := NewNormalizer(cache)

	rates, errs := n.Ingest("drift", []model.RawFunding{
		{Market: "SOL-PERP", Rate: 0.0005, PeriodHours: 1, LongsPayWhenPositive: true, MarkPrice: 150},
		{Market: "BAD-PERP", Rate: 0.0005, PeriodHours: 1, LongsPayWhenPositive: true, MarkPrice: 0},
	})
	if len(rates) != 1 || len(errs) != 1 {
		t.Fatalf("rates=%d errs=%d, want 1/1", len(rates), len(errs))
	}
	if _, ok := cache.Get("drift", "SOL"); !ok {
		t.Error("valid rate not cached")
	}
	if _, ok := cache.Get("drift", "BAD"); ok {
		t.Error("invalid rate cached")
	}
}

func TestNormalizeAsset(t *testing.T) {
	cases := map[string]string{
		"SOL-PERP": "SOL",
		"BTCUSDT":  "BTC",
		"ETH-USD":  "ETH",
		"jup-usdc": "JUP",
		"SOL":      "SOL",
		"USDT":     "USDT", // 纯后缀不剥空
	}
	for in, want := range cases {
		if got := NormalizeAsset(in); got != want {
			t.Errorf("NormalizeAsset(%q) = %q, want %q", in, got, want)
		}
	}
}
