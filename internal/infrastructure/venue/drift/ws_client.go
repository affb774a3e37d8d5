package drift

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// MarkPriceHandler 收到标记价格时回调（market 为场所原始代号）
type MarkPriceHandler func(market string, price float64, ts int64)

// PriceFeed Drift DLOB websocket 标记价格订阅
// 扫描间隔之间用实时标记价格刷新缓存，避免用陈旧价格估回撤。
type PriceFeed struct {
	wsURL   string
	markets []string
}

// NewPriceFeed 创建标记价格订阅
func NewPriceFeed(wsURL string, markets []string) *PriceFeed {
	if wsURL == "" {
		wsURL = "wss://dlob.drift.trade/ws"
	}
	return &PriceFeed{
		wsURL:   strings.TrimSpace(wsURL),
		markets: markets,
	}
}

type driftWsMsg struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type driftMarkPrice struct {
	Market string `json:"market"`
	Price  string `json:"price"`
	Ts     int64  `json:"ts"`
}

// Run 阻塞运行订阅循环，断线自动重连，ctx 取消后返回
func (f *PriceFeed) Run(ctx context.Context, onPrice MarkPriceHandler) {
	backoff := 500 * time.Millisecond
	maxBackoff := 10 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		log.Warn().Str("feed", "drift").Str("url", f.wsURL).Msg("ws connecting")
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		conn, _, err := websocket.DefaultDialer.DialContext(cctx, f.wsURL, nil)
		cancel()
		if err != nil {
			log.Error().Str("feed", "drift").Err(err).Msg("ws dial failed")
			time.Sleep(backoff)
			backoff = minDur(backoff*2, maxBackoff)
			continue
		}

		backoff = 500 * time.Millisecond
		log.Info().Str("feed", "drift").Msg("ws connected")

		if err := f.subscribe(conn); err != nil {
			log.Error().Str("feed", "drift").Err(err).Msg("ws subscribe failed")
			_ = conn.Close()
			time.Sleep(backoff)
			backoff = minDur(backoff*2, maxBackoff)
			continue
		}

		err = readLoop(ctx, conn, func(b []byte) {
			var msg driftWsMsg
			if e := json.Unmarshal(b, &msg); e != nil {
				log.Error().Str("feed", "drift").Err(e).Msg("json unmarshal failed")
				return
			}
			if !strings.HasPrefix(msg.Channel, "markPrice") {
				return
			}
			var mp driftMarkPrice
			if e := json.Unmarshal(msg.Data, &mp); e != nil {
				return
			}
			price, _ := strconv.ParseFloat(mp.Price, 64)
			if mp.Market == "" || price <= 0 {
				return
			}
			ts := mp.Ts
			if ts == 0 {
				ts = time.Now().UnixMilli()
			}
			onPrice(mp.Market, price, ts)
		})

		_ = conn.Close()

		if ctx.Err() != nil {
			return
		}

		log.Warn().Str("feed", "drift").Err(err).Msg("ws disconnected, reconnecting")
		time.Sleep(backoff)
		backoff = minDur(backoff*2, maxBackoff)
	}
}

func (f *PriceFeed) subscribe(conn *websocket.Conn) error {
	for _, market := range f.markets {
		sub := map[string]string{
			"type":    "subscribe",
			"channel": "markPrice",
			"market":  market,
		}
		if err := conn.WriteJSON(sub); err != nil {
			return err
		}
	}
	return nil
}

func readLoop(ctx context.Context, conn *websocket.Conn, onMsg func([]byte)) error {
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(25 * time.Second)
	defer pingTicker.Stop()

	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		for {
			_, b, err := conn.ReadMessage()
			if err == nil {
				_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			}
			if err != nil {
				errCh <- err
				return
			}
			onMsg(b)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errCh:
			return err
		case <-pingTicker.C:
			_ = conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
		}
	}
}

func minDur(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
