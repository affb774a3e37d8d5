package drift

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"farb/internal/application/port"
	"farb/internal/domain/model"
)

// Drift 资金费率每小时结算一次，正费率为多头付空头
const fundingPeriodHours = 1.0

// Client Drift 场所适配器
// 行情走公开 data API，交易与持仓走自托管 gateway 的 REST 接口。
type Client struct {
	dataURL    string
	gatewayURL string
	client     *http.Client
}

// contractResp Drift data API /contracts 响应
type contractResp struct {
	TickerID     string `json:"ticker_id"`
	LastPrice    string `json:"last_price"`
	FundingRate  string `json:"funding_rate"` // 每小时费率，百分比
	OpenInterest string `json:"open_interest"`
	QuoteVolume  string `json:"quote_volume"`
	ProductType  string `json:"product_type"`
}

type contractsResp struct {
	Contracts []contractResp `json:"contracts"`
}

// New 创建 Drift 客户端
func New(dataURL, gatewayURL string) *Client {
	if dataURL == "" {
		dataURL = "https://data.api.drift.trade"
	}
	return &Client{
		dataURL:    strings.TrimRight(dataURL, "/"),
		gatewayURL: strings.TrimRight(gatewayURL, "/"),
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) Name() string { return "drift" }

// ListMarkets 列出全部永续市场
func (c *Client) ListMarkets(ctx context.Context) ([]port.Market, error) {
	contracts, err := c.fetchContracts(ctx)
	if err != nil {
		return nil, err
	}

	markets := make([]port.Market, 0, len(contracts))
	for _, ct := range contracts {
		if ct.ProductType != "" && ct.ProductType != "PERP" {
			continue
		}
		markets = append(markets, port.Market{
			Symbol:    ct.TickerID,
			BaseAsset: baseAsset(ct.TickerID),
		})
	}
	return markets, nil
}

// FundingRates 拉取全市场当前资金费率
func (c *Client) FundingRates(ctx context.Context) ([]model.RawFunding, error) {
	contracts, err := c.fetchContracts(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	out := make([]model.RawFunding, 0, len(contracts))
	for _, ct := range contracts {
		if ct.ProductType != "" && ct.ProductType != "PERP" {
			continue
		}
		ratePct, err := strconv.ParseFloat(ct.FundingRate, 64)
		if err != nil {
			continue
		}
		price, _ := strconv.ParseFloat(ct.LastPrice, 64)
		oi, _ := strconv.ParseFloat(ct.OpenInterest, 64)
		vol, _ := strconv.ParseFloat(ct.QuoteVolume, 64)

		out = append(out, model.RawFunding{
			Market:               ct.TickerID,
			Rate:                 ratePct / 100,
			PeriodHours:          fundingPeriodHours,
			LongsPayWhenPositive: true,
			MarkPrice:            price,
			OpenInterestUsd:      oi * price,
			Volume24hUsd:         vol,
			Timestamp:            now,
		})
	}
	return out, nil
}

func (c *Client) fetchContracts(ctx context.Context) ([]contractResp, error) {
	url := c.dataURL + "/contracts"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("drift api error: %d %s", resp.StatusCode, string(body))
	}

	var result contractsResp
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Contracts, nil
}

// orderReq gateway 下单请求
type orderReq struct {
	Market      string  `json:"market"`
	Side        string  `json:"side"`
	NotionalUsd float64 `json:"notionalUsd"`
	Leverage    float64 `json:"leverage"`
	ReduceOnly  bool    `json:"reduceOnly,omitempty"`
}

type orderResp struct {
	Success bool   `json:"success"`
	TxSig   string `json:"txSig"`
	Error   string `json:"error"`
}

// OpenPosition 通过 gateway 开仓
func (c *Client) OpenPosition(ctx context.Context, market string, side model.Side, notionalUsd, leverage float64) (port.TradeResult, error) {
	if c.gatewayURL == "" {
		return port.TradeResult{}, fmt.Errorf("drift gateway url not configured")
	}

	var res orderResp
	err := c.postGateway(ctx, "/v2/orders", orderReq{
		Market:      market,
		Side:        string(side),
		NotionalUsd: notionalUsd,
		Leverage:    leverage,
	}, &res)
	if err != nil {
		return port.TradeResult{}, err
	}
	if !res.Success {
		return port.TradeResult{Success: false, Err: res.Error}, nil
	}
	return port.TradeResult{Success: true, Receipt: res.TxSig}, nil
}

// ClosePosition 通过 gateway 平掉整个市场持仓
func (c *Client) ClosePosition(ctx context.Context, market string) (port.TradeResult, error) {
	if c.gatewayURL == "" {
		return port.TradeResult{}, fmt.Errorf("drift gateway url not configured")
	}

	var res orderResp
	err := c.postGateway(ctx, "/v2/positions/close", orderReq{Market: market, ReduceOnly: true}, &res)
	if err != nil {
		return port.TradeResult{}, err
	}
	if !res.Success {
		return port.TradeResult{Success: false, Err: res.Error}, nil
	}
	return port.TradeResult{Success: true, Receipt: res.TxSig}, nil
}

// GetPositions 查询场所侧真实持仓（用于超时后的对账）
func (c *Client) GetPositions(ctx context.Context) ([]port.VenuePosition, error) {
	if c.gatewayURL == "" {
		return nil, fmt.Errorf("drift gateway url not configured")
	}

	var res struct {
		Positions []struct {
			Market     string  `json:"market"`
			Side       string  `json:"side"`
			BaseSize   float64 `json:"baseSize"`
			Notional   float64 `json:"notionalUsd"`
			EntryPrice float64 `json:"entryPrice"`
		} `json:"positions"`
	}
	if err := c.getGateway(ctx, "/v2/positions", &res); err != nil {
		return nil, err
	}

	out := make([]port.VenuePosition, 0, len(res.Positions))
	for _, p := range res.Positions {
		out = append(out, port.VenuePosition{
			Market:      p.Market,
			Side:        model.Side(p.Side),
			BaseSize:    p.BaseSize,
			NotionalUsd: p.Notional,
			EntryPrice:  p.EntryPrice,
		})
	}
	return out, nil
}

// GetBalance 查询可用保证金（USD）
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	if c.gatewayURL == "" {
		return 0, fmt.Errorf("drift gateway url not configured")
	}

	var res struct {
		FreeCollateral float64 `json:"freeCollateral"`
	}
	if err := c.getGateway(ctx, "/v2/user/balance", &res); err != nil {
		return 0, err
	}
	return res.FreeCollateral, nil
}

func (c *Client) postGateway(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.gatewayURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("drift gateway error: %d %s", resp.StatusCode, string(raw))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) getGateway(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.gatewayURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("drift gateway error: %d %s", resp.StatusCode, string(raw))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// baseAsset 从 ticker 提取基础资产名（SOL-PERP -> SOL）
func baseAsset(ticker string) string {
	if i := strings.IndexByte(ticker, '-'); i > 0 {
		return ticker[:i]
	}
	return ticker
}

var _ port.VenueAdapter = (*Client)(nil)
