package trader

import (
	"fmt"
	"strings"
	"time"

	appsvc "farb/internal/application/service"
	"farb/internal/domain/model"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiDim    = "\033[2m"
)

func colorize(s, c string) string { return c + s + ansiReset }

// Formatter 周期报告渲染
type Formatter struct{}

func NewFormatter() *Formatter { return &Formatter{} }

// Render 渲染一个周期的全量报告：机会榜、开放套利对、累计盈亏
func (f *Formatter) Render(now time.Time, opps []model.ArbitrageOpportunity, pm *appsvc.PositionManager) string {
	var sb strings.Builder

	sb.WriteString(colorize("[FARB] funding arbitrage report", ansiDim))
	sb.WriteString("\n")

	f.renderOpportunities(&sb, opps)
	f.renderPairs(&sb, pm)
	f.renderTotals(&sb, pm, now)

	return sb.String()
}

func (f *Formatter) renderOpportunities(sb *strings.Builder, opps []model.ArbitrageOpportunity) {
	if len(opps) == 0 {
		sb.WriteString(colorize("no opportunities above threshold\n", ansiDim))
		return
	}

	limit := len(opps)
	if limit > 5 {
		limit = 5
	}
	for i := 0; i < limit; i++ {
		o := opps[i]
		col := ansiYellow
		switch o.RiskLevel {
		case model.RiskLow:
			col = ansiGreen
		case model.RiskHigh:
			col = ansiRed
		}
		sb.WriteString(fmt.Sprintf("  %-6s long %s %+.1f%% / short %s %+.1f%%  spread %s  net %+.1f%%  conf %d  %s\n",
			o.Asset,
			o.LongVenue, o.LongRateApy,
			o.ShortVenue, o.ShortRateApy,
			colorize(fmt.Sprintf("%.1f%%", o.SpreadApy), ansiGreen),
			o.NetApy,
			o.Confidence,
			colorize(string(o.RiskLevel), col),
		))
	}
}

func (f *Formatter) renderPairs(sb *strings.Builder, pm *appsvc.PositionManager) {
	pairs := pm.OpenPairs()
	if len(pairs) == 0 {
		sb.WriteString(colorize("no open pairs\n", ansiDim))
		return
	}

	for _, pair := range pairs {
		dd := pm.PairDrawdownPct(pair.ID)
		ddCol := ansiGreen
		if dd > 0 {
			ddCol = ansiYellow
		}
		sb.WriteString(fmt.Sprintf("  pair %-6s %s notional $%.0f entry-spread %.1f%% drawdown %s\n",
			pair.Asset,
			pair.Status,
			pair.TotalNotionalUsd,
			pair.TargetSpreadApy,
			colorize(fmt.Sprintf("%.2f%%", dd), ddCol),
		))

		for _, id := range []string{pair.LongID, pair.ShortID} {
			pos, ok := pm.PositionByID(id)
			if !ok {
				continue
			}
			flag := ""
			if pos.Flagged {
				flag = colorize(" FLAGGED: "+pos.FlagReason, ansiRed)
			}
			sb.WriteString(fmt.Sprintf("    %-5s %-10s %-9s entry %.4f now %.4f upnl %+.2f funding %+.2f%s\n",
				pos.Side, pos.Venue, pos.Symbol, pos.EntryPrice, pos.CurrentPrice, pos.UnrealizedPnl, pos.FundingCollected, flag))
		}
	}
}

func (f *Formatter) renderTotals(sb *strings.Builder, pm *appsvc.PositionManager, now time.Time) {
	realized, funding := pm.Totals()
	stats := pm.Stats(now)

	pnlCol := ansiGreen
	if realized < 0 {
		pnlCol = ansiRed
	}
	sb.WriteString(fmt.Sprintf("  total realized %s  funding %+.2f  24h %+.2f (%d trades)  7d %+.2f  30d %+.2f\n",
		colorize(fmt.Sprintf("%+.2f", realized), pnlCol),
		funding,
		stats.Daily.ProfitUsd+stats.Daily.FundingUsd, stats.Daily.Trades,
		stats.Weekly.ProfitUsd+stats.Weekly.FundingUsd,
		stats.Monthly.ProfitUsd+stats.Monthly.FundingUsd,
	))
}
