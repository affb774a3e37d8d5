package flashtrade

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"farb/internal/application/port"
	"farb/internal/domain/model"
)

// Flash Trade 资金费率每 8 小时结算一次，正费率为多头付空头
const fundingPeriodHours = 8.0

// Client Flash Trade 场所适配器
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// marketResp Flash Trade 市场快照
type marketResp struct {
	Symbol          string  `json:"symbol"`
	FundingRate     float64 `json:"fundingRate"` // 每个周期的小数费率
	MarkPrice       float64 `json:"markPrice"`
	OpenInterestUsd float64 `json:"openInterestUsd"`
	Volume24hUsd    float64 `json:"volume24hUsd"`
}

// New 创建 Flash Trade 客户端
func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "https://api.prod.flash.trade"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) Name() string { return "flashtrade" }

// ListMarkets 列出全部永续市场
func (c *Client) ListMarkets(ctx context.Context) ([]port.Market, error) {
	markets, err := c.fetchMarkets(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]port.Market, 0, len(markets))
	for _, m := range markets {
		out = append(out, port.Market{
			Symbol:    m.Symbol,
			BaseAsset: strings.TrimSuffix(m.Symbol, "-PERP"),
		})
	}
	return out, nil
}

// FundingRates 拉取全市场当前资金费率
func (c *Client) FundingRates(ctx context.Context) ([]model.RawFunding, error) {
	markets, err := c.fetchMarkets(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UnixMilli()
	out := make([]model.RawFunding, 0, len(markets))
	for _, m := range markets {
		out = append(out, model.RawFunding{
			Market:               m.Symbol,
			Rate:                 m.FundingRate,
			PeriodHours:          fundingPeriodHours,
			LongsPayWhenPositive: true,
			MarkPrice:            m.MarkPrice,
			OpenInterestUsd:      m.OpenInterestUsd,
			Volume24hUsd:         m.Volume24hUsd,
			Timestamp:            now,
		})
	}
	return out, nil
}

func (c *Client) fetchMarkets(ctx context.Context) ([]marketResp, error) {
	var result struct {
		Markets []marketResp `json:"markets"`
	}
	if err := c.get(ctx, "/v1/markets", &result); err != nil {
		return nil, err
	}
	return result.Markets, nil
}

type orderReq struct {
	Symbol      string  `json:"symbol"`
	Side        string  `json:"side"`
	NotionalUsd float64 `json:"notionalUsd"`
	Leverage    float64 `json:"leverage"`
}

type orderResp struct {
	Status string `json:"status"`
	TxID   string `json:"txId"`
	Reason string `json:"reason"`
}

// OpenPosition 市价开仓
func (c *Client) OpenPosition(ctx context.Context, market string, side model.Side, notionalUsd, leverage float64) (port.TradeResult, error) {
	var res orderResp
	err := c.post(ctx, "/v1/positions/open", orderReq{
		Symbol:      market,
		Side:        string(side),
		NotionalUsd: notionalUsd,
		Leverage:    leverage,
	}, &res)
	if err != nil {
		return port.TradeResult{}, err
	}
	if res.Status != "filled" {
		return port.TradeResult{Success: false, Err: res.Reason}, nil
	}
	return port.TradeResult{Success: true, Receipt: res.TxID}, nil
}

// ClosePosition 平掉整个市场持仓
func (c *Client) ClosePosition(ctx context.Context, market string) (port.TradeResult, error) {
	var res orderResp
	err := c.post(ctx, "/v1/positions/close", orderReq{Symbol: market}, &res)
	if err != nil {
		return port.TradeResult{}, err
	}
	if res.Status != "filled" {
		return port.TradeResult{Success: false, Err: res.Reason}, nil
	}
	return port.TradeResult{Success: true, Receipt: res.TxID}, nil
}

// GetPositions 查询场所侧真实持仓
func (c *Client) GetPositions(ctx context.Context) ([]port.VenuePosition, error) {
	var res struct {
		Positions []struct {
			Symbol      string  `json:"symbol"`
			Side        string  `json:"side"`
			Size        float64 `json:"size"`
			NotionalUsd float64 `json:"notionalUsd"`
			EntryPrice  float64 `json:"entryPrice"`
		} `json:"positions"`
	}
	if err := c.get(ctx, "/v1/positions", &res); err != nil {
		return nil, err
	}

	out := make([]port.VenuePosition, 0, len(res.Positions))
	for _, p := range res.Positions {
		out = append(out, port.VenuePosition{
			Market:      p.Symbol,
			Side:        model.Side(p.Side),
			BaseSize:    p.Size,
			NotionalUsd: p.NotionalUsd,
			EntryPrice:  p.EntryPrice,
		})
	}
	return out, nil
}

// GetBalance 查询可用保证金（USD）
func (c *Client) GetBalance(ctx context.Context) (float64, error) {
	var res struct {
		AvailableUsd float64 `json:"availableUsd"`
	}
	if err := c.get(ctx, "/v1/account/balance", &res); err != nil {
		return 0, err
	}
	return res.AvailableUsd, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.auth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("flashtrade api error: %d %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("flashtrade api error: %d %s", resp.StatusCode, string(raw))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) auth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
}

var _ port.VenueAdapter = (*Client)(nil)
