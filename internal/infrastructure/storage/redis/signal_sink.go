package redis

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/redis/go-redis/v9"

	"farb/internal/application/port"
	"farb/internal/domain/model"
)

// SignalSink 把检测到的套利机会推到 redis
// 双通道：XADD 进 stream 供回放/补偿消费，PUBLISH 给实时订阅者。
type SignalSink struct {
	rdb         *redis.Client
	oppStream   string
	oppChannel  string
	tradeStream string
}

func NewSignalSink(rdb *redis.Client, prefix, oppStream, oppChannel string) *SignalSink {
	if strings.TrimSpace(oppStream) == "" {
		oppStream = prefix + ":opportunities"
	}
	if strings.TrimSpace(oppChannel) == "" {
		oppChannel = prefix + ":opportunities:pub"
	}
	return &SignalSink{
		rdb:         rdb,
		oppStream:   oppStream,
		oppChannel:  oppChannel,
		tradeStream: prefix + ":trades",
	}
}

func (s *SignalSink) PublishOpportunity(ctx context.Context, opp *model.ArbitrageOpportunity) error {
	payload, _ := json.Marshal(opp)

	// 1) Stream: XADD <stream> * asset spread payload
	_, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.oppStream,
		Values: map[string]any{
			"ts_ms":      opp.Timestamp,
			"asset":      opp.Asset,
			"spread_apy": opp.SpreadApy,
			"payload":    string(payload),
		},
	}).Result()
	if err != nil {
		return err
	}

	// 2) PubSub: PUBLISH <channel> json
	return s.rdb.Publish(ctx, s.oppChannel, string(payload)).Err()
}

// ArchiveTrade 把成交流水追加进 trade stream，供外部消费者回放
func (s *SignalSink) ArchiveTrade(ctx context.Context, entry *model.TradeEntry) error {
	payload, _ := json.Marshal(entry)
	_, err := s.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: s.tradeStream,
		Values: map[string]any{
			"ts_ms":   entry.Time,
			"symbol":  entry.Symbol,
			"type":    string(entry.Type),
			"payload": string(payload),
		},
	}).Result()
	return err
}

func (s *SignalSink) Close() error { return s.rdb.Close() }

var (
	_ port.OpportunitySink = (*SignalSink)(nil)
	_ port.TradeArchiver   = (*SignalSink)(nil)
)
