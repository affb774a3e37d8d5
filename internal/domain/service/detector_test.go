package service

import (
	"testing"

	"farb/internal/domain/model"
)

func rate(venue, market string, hourly, volume float64) model.UnifiedRate {
	return model.UnifiedRate{
		Venue:        venue,
		Market:       market,
		Asset:        NormalizeAsset(market),
		RateHourly:   hourly,
		RateApy:      model.AnnualizeHourly(hourly),
		MarkPrice:    100,
		Volume24hUsd: volume,
	}
}

func TestFindOpportunitiesAnchorsAndSpread(t *testing.T) {
	d := NewDetector([]string{"drift", "flashtrade"})

	// drift +438% APY，flashtrade -175.2% APY -> 价差 613.2%
	opps := d.FindOpportunities([]model.UnifiedRate{
		rate("drift", "SOL-PERP", 0.0005, 20e6),
		rate("flashtrade", "SOL-PERP", -0.0002, 20e6),
	}, 5.0)

	if len(opps) != 1 {
		t.Fatalf("opportunities = %d, want 1", len(opps))
	}
	o := opps[0]
	if o.ShortVenue != "drift" || o.LongVenue != "flashtrade" {
		t.Errorf("anchors wrong: short=%s long=%s", o.ShortVenue, o.LongVenue)
	}
	if !almostEqual(o.SpreadApy, 613.2) {
		t.Errorf("spread = %v, want 613.2", o.SpreadApy)
	}
	if !almostEqual(o.NetApy, 613.2) {
		t.Errorf("net = %v, want 613.2", o.NetApy)
	}
	// 量分 50（2000万均量封顶）+ 价差分 50（613.2 > 500 封顶）
	if o.Confidence != 100 {
		t.Errorf("confidence = %d, want 100", o.Confidence)
	}
	if o.RiskLevel != model.RiskLow {
		t.Errorf("risk = %s, want low", o.RiskLevel)
	}
}

func TestFindOpportunitiesThresholdBoundary(t *testing.T) {
	d := NewDetector(nil)

	// 两所各 +0.001%/h 与 -0.001%/h 之差：价差恰好 17.52%
	rates := []model.UnifiedRate{
		rate("a", "SOL-PERP", 0.00001, 1e6),
		rate("b", "SOL-PERP", -0.00001, 1e6),
	}
	spread := model.AnnualizeHourly(0.00001) - model.AnnualizeHourly(-0.00001)

	if got := d.FindOpportunities(rates, spread); len(got) != 1 {
		t.Errorf("spread == threshold must qualify, got %d", len(got))
	}
	if got := d.FindOpportunities(rates, spread+0.0001); len(got) != 0 {
		t.Errorf("spread below threshold must not qualify, got %d", len(got))
	}
}

func TestFindOpportunitiesSkipsZeroRatesAndSingleVenue(t *testing.T) {
	d := NewDetector(nil)

	opps := d.FindOpportunities([]model.UnifiedRate{
		rate("a", "SOL-PERP", 0.0005, 1e6),
		rate("b", "SOL-PERP", 0, 1e6), // 零费率不参与检测
		rate("a", "BTC-PERP", 0.0009, 1e6),
	}, 1.0)
	if len(opps) != 0 {
		t.Errorf("opportunities = %d, want 0", len(opps))
	}
}

func TestFindOpportunitiesSortedBySpreadDesc(t *testing.T) {
	d := NewDetector(nil)

	opps := d.FindOpportunities([]model.UnifiedRate{
		rate("a", "SOL-PERP", 0.0005, 1e6),
		rate("b", "SOL-PERP", -0.0002, 1e6),
		rate("a", "ETH-PERP", 0.0002, 1e6),
		rate("b", "ETH-PERP", -0.0001, 1e6),
	}, 1.0)

	if len(opps) != 2 {
		t.Fatalf("opportunities = %d, want 2", len(opps))
	}
	if opps[0].Asset != "SOL" || opps[1].Asset != "ETH" {
		t.Errorf("order = [%s, %s], want [SOL, ETH]", opps[0].Asset, opps[1].Asset)
	}
}

func TestRiskLevels(t *testing.T) {
	d := NewDetector([]string{"drift"})

	opps := d.FindOpportunities([]model.UnifiedRate{
		rate("drift", "SOL-PERP", 0.0005, 1e6),
		rate("unknown", "SOL-PERP", -0.0002, 1e6),
	}, 1.0)
	if len(opps) != 1 || opps[0].RiskLevel != model.RiskMedium {
		t.Fatalf("opps = %+v, want single medium-risk", opps)
	}

	opps = d.FindOpportunities([]model.UnifiedRate{
		rate("x", "SOL-PERP", 0.0005, 1e6),
		rate("y", "SOL-PERP", -0.0002, 1e6),
	}, 1.0)
	if len(opps) != 1 || opps[0].RiskLevel != model.RiskHigh {
		t.Fatalf("opps = %+v, want single high-risk", opps)
	}
}

func TestConfidenceScoring(t *testing.T) {
	d := NewDetector(nil)

	// 均量 500 万 -> 量分 25；价差 250 -> 价差分 25
	a := model.UnifiedRate{Volume24hUsd: 4e6}
	b := model.UnifiedRate{Volume24hUsd: 6e6}
	if got := d.confidence(a, b, 250); got != 50 {
		t.Errorf("confidence = %d, want 50", got)
	}
	// 两项封顶
	a.Volume24hUsd, b.Volume24hUsd = 50e6, 50e6
	if got := d.confidence(a, b, 9999); got != 100 {
		t.Errorf("confidence = %d, want 100", got)
	}
}
