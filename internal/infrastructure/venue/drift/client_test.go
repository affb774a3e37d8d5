package drift

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"farb/internal/domain/model"
)

const contractsBody = `{
  "contracts": [
    {"ticker_id": "SOL-PERP", "last_price": "150.25", "funding_rate": "0.05",
     "open_interest": "100000", "quote_volume": "25000000", "product_type": "PERP"},
    {"ticker_id": "BTC-PERP", "last_price": "60000", "funding_rate": "-0.01",
     "open_interest": "500", "quote_volume": "80000000", "product_type": "PERP"},
    {"ticker_id": "SOL", "last_price": "150.25", "funding_rate": "0",
     "open_interest": "0", "quote_volume": "0", "product_type": "SPOT"}
  ]
}`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/contracts" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(contractsBody))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFundingRatesParsesContracts(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL, "")

	rates, err := c.FundingRates(context.Background())
	if err != nil {
		t.Fatalf("FundingRates: %v", err)
	}
	// 现货合约剔除
	if len(rates) != 2 {
		t.Fatalf("rates = %d, want 2", len(rates))
	}

	sol := rates[0]
	if sol.Market != "SOL-PERP" {
		t.Fatalf("market = %s", sol.Market)
	}
	// API 报百分比，转小数：0.05% -> 0.0005
	if math.Abs(sol.Rate-0.0005) > 1e-12 {
		t.Errorf("rate = %v, want 0.0005", sol.Rate)
	}
	if sol.PeriodHours != 1 || !sol.LongsPayWhenPositive {
		t.Errorf("period/convention wrong: %+v", sol)
	}
	if sol.MarkPrice != 150.25 {
		t.Errorf("mark price = %v", sol.MarkPrice)
	}
	if sol.Volume24hUsd != 25000000 {
		t.Errorf("volume = %v", sol.Volume24hUsd)
	}
}

func TestFundingRatesNormalizesEndToEnd(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL, "")

	raws, err := c.FundingRates(context.Background())
	if err != nil {
		t.Fatalf("FundingRates: %v", err)
	}

	var sol *model.RawFunding
	for i := range raws {
		if raws[i].Market == "SOL-PERP" {
			sol = &raws[i]
		}
	}
	if sol == nil {
		t.Fatal("SOL-PERP missing")
	}
	// 每小时 0.05% -> 年化 438%
	apy := model.AnnualizeHourly(sol.Rate / sol.PeriodHours)
	if math.Abs(apy-438.0) > 1e-9 {
		t.Errorf("apy = %v, want 438", apy)
	}
}

func TestListMarketsSkipsSpot(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL, "")

	markets, err := c.ListMarkets(context.Background())
	if err != nil {
		t.Fatalf("ListMarkets: %v", err)
	}
	if len(markets) != 2 {
		t.Fatalf("markets = %d, want 2", len(markets))
	}
	if markets[0].BaseAsset != "SOL" {
		t.Errorf("base asset = %s, want SOL", markets[0].BaseAsset)
	}
}

func TestFundingRatesApiError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(srv.URL, "")
	if _, err := c.FundingRates(context.Background()); err == nil {
		t.Error("expected error on non-200 response")
	}
}
