package service

import (
	"time"

	"farb/internal/domain/model"
)

// ComputePnlStats 从交易历史计算滚动窗口盈亏统计
// 窗口为结束于 now 的滚动区间：日 24h、周 7d、月 30d，外加全量。
// Trades 计数窗口内全部历史条目（开仓与平仓各算一条），盈亏与资金
// 费只在平仓条目上结算。
func ComputePnlStats(history []*model.TradeEntry, now time.Time) model.PnlStats {
	cutDaily := now.Add(-24 * time.Hour).UnixMilli()
	cutWeekly := now.Add(-7 * 24 * time.Hour).UnixMilli()
	cutMonthly := now.Add(-30 * 24 * time.Hour).UnixMilli()

	var stats model.PnlStats
	for _, e := range history {
		accumulate(&stats.AllTime, e)
		if e.Time >= cutMonthly {
			accumulate(&stats.Monthly, e)
		}
		if e.Time >= cutWeekly {
			accumulate(&stats.Weekly, e)
		}
		if e.Time >= cutDaily {
			accumulate(&stats.Daily, e)
		}
	}
	return stats
}

func accumulate(w *model.WindowStats, e *model.TradeEntry) {
	w.Trades++
	if e.Type == model.TradeClose {
		w.ProfitUsd += e.Pnl
		w.FundingUsd += e.Funding
	}
}
