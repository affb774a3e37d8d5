package port

import (
	"context"

	"farb/internal/domain/model"
)

// LedgerStore 账本持久化仓储
// Save 必须将全量账本状态与新增历史条目在单个原子写入中落盘；
// 调用返回成功之前状态必须已经持久。进程启动时通过 Load 重建内存镜像。
type LedgerStore interface {
	Load(ctx context.Context) (*model.LedgerState, []*model.TradeEntry, error)
	Save(ctx context.Context, state *model.LedgerState, trades ...*model.TradeEntry) error
	Close() error
}

// TradeArchiver 交易历史归档（可选，尽力而为）
// 与账本写穿不同，归档失败只记日志，不阻塞交易操作。
type TradeArchiver interface {
	ArchiveTrade(ctx context.Context, entry *model.TradeEntry) error
	Close() error
}

// OpportunitySink 套利机会信号输出（可选）
type OpportunitySink interface {
	PublishOpportunity(ctx context.Context, opp *model.ArbitrageOpportunity) error
	Close() error
}
