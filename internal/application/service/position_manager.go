package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"farb/internal/application/port"
	"farb/internal/domain/model"
	dsvc "farb/internal/domain/service"
)

var (
	// ErrPositionNotFound 错误：持仓不存在
	ErrPositionNotFound = errors.New("position not found")
	// ErrPairNotFound 错误：套利对不存在
	ErrPairNotFound = errors.New("arbitrage pair not found")
	// ErrLegNotInLedger 错误：成对腿不在账本开放集合中
	ErrLegNotInLedger = errors.New("pair leg not present in open ledger")
)

// PositionManager 持仓管理器 - 账本唯一写入方
// 拥有全部开放持仓/套利对与累计盈亏合计；每次变更先整体写穿到
// LedgerStore（单事务），成功后才提交内存镜像，保证崩溃后磁盘状态
// 永远不落后于已确认的操作。读取全部由内存镜像服务。
// 单写者模型：一个进程一个实例一个账本文件，多实例运行不受支持。
type PositionManager struct {
	store    port.LedgerStore
	archiver port.TradeArchiver // 可选，尽力而为

	mu      sync.RWMutex
	state   *model.LedgerState
	history []*model.TradeEntry

	locks locksByID

	nowFn func() int64 // unix ms，测试可替换
}

// SetNowFunc 覆盖时间源（毫秒时间戳），测试用
func (pm *PositionManager) SetNowFunc(fn func() int64) { pm.nowFn = fn }

// NewPositionManager 创建持仓管理器并从存储恢复账本镜像
func NewPositionManager(ctx context.Context, store port.LedgerStore, archiver port.TradeArchiver) (*PositionManager, error) {
	state, history, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	if state == nil {
		state = &model.LedgerState{}
	}

	pm := &PositionManager{
		store:    store,
		archiver: archiver,
		state:    state,
		history:  history,
		nowFn:    func() int64 { return time.Now().UnixMilli() },
	}

	log.Info().
		Int("positions", len(state.Positions)).
		Int("pairs", len(state.Pairs)).
		Float64("total_realized_pnl", state.TotalRealizedPnl).
		Float64("total_funding", state.TotalFundingCollected).
		Msg("ledger loaded")

	return pm, nil
}

// AddPosition 新增一条开放持仓，写穿成功后返回
// 持久化失败是硬错误：内存不提交，调用方不得继续开第二腿。
func (pm *PositionManager) AddPosition(ctx context.Context, venue, symbol string, side model.Side, size, entryPrice float64, receipt string) (*model.Position, error) {
	if size <= 0 || entryPrice <= 0 {
		return nil, fmt.Errorf("invalid size %.8f or entry price %.8f", size, entryPrice)
	}

	now := pm.nowFn()
	pos := &model.Position{
		ID:          uuid.NewString(),
		Venue:       venue,
		Symbol:      symbol,
		Side:        side,
		BaseSize:    size,
		NotionalUsd: size * entryPrice,
		EntryPrice:  entryPrice,
		OpenTime:    now,
		Receipt:     receipt,
		LastUpdate:  now,
	}
	entry := &model.TradeEntry{
		PositionID: pos.ID,
		Type:       model.TradeOpen,
		Venue:      venue,
		Symbol:     symbol,
		Side:       side,
		Size:       size,
		Price:      entryPrice,
		Time:       now,
		Receipt:    receipt,
	}

	unlock := pm.locks.Lock(pos.ID)
	defer unlock()

	pm.mu.Lock()
	defer pm.mu.Unlock()

	next := pm.state.Clone()
	next.Positions = append(next.Positions, pos.Clone())
	next.LastUpdate = now

	if err := pm.store.Save(ctx, next, entry); err != nil {
		return nil, fmt.Errorf("persist position open: %w", err)
	}
	pm.commit(ctx, next, entry)

	log.Info().
		Str("position_id", pos.ID).
		Str("venue", venue).
		Str("symbol", symbol).
		Str("side", string(side)).
		Float64("notional_usd", pos.NotionalUsd).
		Msg("position added")

	return pos, nil
}

// CreatePair 创建套利对，只有两腿都已在账本中才允许
func (pm *PositionManager) CreatePair(ctx context.Context, longPos, shortPos *model.Position, targetSpreadApy float64) (*model.ArbitragePair, error) {
	if longPos == nil || shortPos == nil {
		return nil, ErrLegNotInLedger
	}
	if longPos.Side != model.SideLong || shortPos.Side != model.SideShort {
		return nil, fmt.Errorf("pair legs must be one long and one short")
	}

	now := pm.nowFn()
	pair := &model.ArbitragePair{
		ID:               uuid.NewString(),
		Asset:            dsvc.NormalizeAsset(longPos.Symbol),
		LongID:           longPos.ID,
		ShortID:          shortPos.ID,
		OpenTime:         now,
		TotalNotionalUsd: longPos.NotionalUsd + shortPos.NotionalUsd,
		TargetSpreadApy:  targetSpreadApy,
		Status:           model.PairOpen,
	}

	unlock := pm.locks.Lock(pair.ID)
	defer unlock()

	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.findPosition(pm.state, longPos.ID) == nil || pm.findPosition(pm.state, shortPos.ID) == nil {
		return nil, ErrLegNotInLedger
	}

	next := pm.state.Clone()
	next.Pairs = append(next.Pairs, pair.Clone())
	next.LastUpdate = now

	if err := pm.store.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("persist pair create: %w", err)
	}
	pm.commit(ctx, next)

	log.Info().
		Str("pair_id", pair.ID).
		Str("asset", pair.Asset).
		Str("long", longPos.Venue).
		Str("short", shortPos.Venue).
		Float64("target_spread_apy", targetSpreadApy).
		Msg("arbitrage pair created")

	return pair, nil
}

// ClosePosition 平仓：计算已实现盈亏，并入累计合计，移出开放集合
func (pm *PositionManager) ClosePosition(ctx context.Context, positionID string, exitPrice float64, receipt string) (float64, error) {
	if exitPrice <= 0 {
		return 0, fmt.Errorf("invalid exit price %.8f", exitPrice)
	}

	unlock := pm.locks.Lock(positionID)
	defer unlock()

	pm.mu.Lock()
	defer pm.mu.Unlock()

	pos := pm.findPosition(pm.state, positionID)
	if pos == nil {
		return 0, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}

	now := pm.nowFn()
	realizedPnl := pos.PriceDiff(exitPrice) * pos.BaseSize
	funding := pos.FundingCollected

	entry := &model.TradeEntry{
		PositionID: pos.ID,
		Type:       model.TradeClose,
		Venue:      pos.Venue,
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Size:       pos.BaseSize,
		Price:      exitPrice,
		Time:       now,
		Receipt:    receipt,
		Pnl:        realizedPnl,
		Funding:    funding,
	}

	next := pm.state.Clone()
	next.Positions = removePosition(next.Positions, positionID)
	next.TotalRealizedPnl += realizedPnl
	next.TotalFundingCollected += funding
	next.LastUpdate = now

	if err := pm.store.Save(ctx, next, entry); err != nil {
		return 0, fmt.Errorf("persist position close: %w", err)
	}
	pm.commit(ctx, next, entry)

	log.Info().
		Str("position_id", positionID).
		Float64("realized_pnl", realizedPnl).
		Float64("funding", funding).
		Float64("total_realized_pnl", next.TotalRealizedPnl).
		Msg("position closed")

	return realizedPnl, nil
}

// UpdatePosition 刷新实时价格与资金费累计
// 非持久化关键路径：落盘尽力而为，失败只记日志。相同价格与零增量
// 的重复调用不改变未实现盈亏与资金费累计。
func (pm *PositionManager) UpdatePosition(ctx context.Context, positionID string, currentPrice, fundingDelta float64) error {
	unlock := pm.locks.Lock(positionID)
	defer unlock()

	pm.mu.Lock()
	defer pm.mu.Unlock()

	pos := pm.findPosition(pm.state, positionID)
	if pos == nil {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}

	next := pm.state.Clone()
	np := pm.findPosition(next, positionID)
	np.CurrentPrice = currentPrice
	np.UnrealizedPnl = np.PriceDiff(currentPrice) * np.BaseSize
	np.FundingCollected += fundingDelta
	np.LastUpdate = pm.nowFn()
	next.LastUpdate = np.LastUpdate

	if err := pm.store.Save(ctx, next); err != nil {
		log.Warn().Err(err).Str("position_id", positionID).Msg("opportunistic position update persist failed")
	}
	pm.commit(ctx, next)
	return nil
}

// FlagPosition 标记持仓需要人工对账（补偿平仓失败等）
func (pm *PositionManager) FlagPosition(ctx context.Context, positionID, reason string) error {
	unlock := pm.locks.Lock(positionID)
	defer unlock()

	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.findPosition(pm.state, positionID) == nil {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}

	next := pm.state.Clone()
	np := pm.findPosition(next, positionID)
	np.Flagged = true
	np.FlagReason = reason
	next.LastUpdate = pm.nowFn()

	if err := pm.store.Save(ctx, next); err != nil {
		return fmt.Errorf("persist position flag: %w", err)
	}
	pm.commit(ctx, next)

	log.Error().
		Str("event", "position_flagged").
		Str("position_id", positionID).
		Str("reason", reason).
		Msg("position requires manual reconciliation")
	return nil
}

// MarkPairClosing 套利对进入 closing 状态
func (pm *PositionManager) MarkPairClosing(ctx context.Context, pairID string) error {
	return pm.setPairStatus(ctx, pairID, model.PairClosing)
}

// ClosePair 关闭套利对记录
// 不负责平掉成员腿：腿是财务事实，调用方必须先逐腿 ClosePosition，
// 再关闭这条分组记录。
func (pm *PositionManager) ClosePair(ctx context.Context, pairID string) error {
	pm.mu.RLock()
	pair := pm.findPair(pm.state, pairID)
	var openLeg string
	if pair != nil {
		if pm.findPosition(pm.state, pair.LongID) != nil {
			openLeg = pair.LongID
		} else if pm.findPosition(pm.state, pair.ShortID) != nil {
			openLeg = pair.ShortID
		}
	}
	pm.mu.RUnlock()

	if openLeg != "" {
		log.Warn().Str("pair_id", pairID).Str("position_id", openLeg).Msg("closing pair record while a leg is still open")
	}
	return pm.setPairStatus(ctx, pairID, model.PairClosed)
}

func (pm *PositionManager) setPairStatus(ctx context.Context, pairID string, status model.PairStatus) error {
	unlock := pm.locks.Lock(pairID)
	defer unlock()

	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.findPair(pm.state, pairID) == nil {
		return fmt.Errorf("%w: %s", ErrPairNotFound, pairID)
	}

	next := pm.state.Clone()
	pm.findPair(next, pairID).Status = status
	next.LastUpdate = pm.nowFn()

	if err := pm.store.Save(ctx, next); err != nil {
		return fmt.Errorf("persist pair status: %w", err)
	}
	pm.commit(ctx, next)
	return nil
}

// commit 提交已持久化的下一状态，并归档/裁剪历史
// 调用方必须持有 pm.mu 写锁。
func (pm *PositionManager) commit(ctx context.Context, next *model.LedgerState, trades ...*model.TradeEntry) {
	pm.state = next
	for _, entry := range trades {
		pm.history = append(pm.history, entry)
		if pm.archiver != nil {
			if err := pm.archiver.ArchiveTrade(ctx, entry); err != nil {
				log.Warn().Err(err).Str("position_id", entry.PositionID).Msg("trade archive failed")
			}
		}
	}
	if n := len(pm.history); n > model.HistoryLimit {
		pm.history = append([]*model.TradeEntry(nil), pm.history[n-model.HistoryLimit:]...)
	}
}

// ========== 读路径（内存镜像快照） ==========

// OpenPositions 当前全部开放持仓（拷贝）
func (pm *PositionManager) OpenPositions() []*model.Position {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	out := make([]*model.Position, 0, len(pm.state.Positions))
	for _, p := range pm.state.Positions {
		out = append(out, p.Clone())
	}
	return out
}

// OpenPairs 当前未关闭（open/closing）的套利对
func (pm *PositionManager) OpenPairs() []*model.ArbitragePair {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	var out []*model.ArbitragePair
	for _, a := range pm.state.Pairs {
		if a.Status != model.PairClosed {
			out = append(out, a.Clone())
		}
	}
	return out
}

// PositionByID 按 ID 查找开放持仓
func (pm *PositionManager) PositionByID(id string) (*model.Position, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	p := pm.findPosition(pm.state, id)
	if p == nil {
		return nil, false
	}
	return p.Clone(), true
}

// PairByID 按 ID 查找套利对
func (pm *PositionManager) PairByID(id string) (*model.ArbitragePair, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	a := pm.findPair(pm.state, id)
	if a == nil {
		return nil, false
	}
	return a.Clone(), true
}

// HasPositionForAsset 某资产是否已有开放持仓（避免同资产重复建对）
func (pm *PositionManager) HasPositionForAsset(asset string) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	for _, p := range pm.state.Positions {
		if dsvc.NormalizeAsset(p.Symbol) == asset {
			return true
		}
	}
	return false
}

// Totals 累计已实现盈亏与累计资金费
func (pm *PositionManager) Totals() (realizedPnl, fundingCollected float64) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.state.TotalRealizedPnl, pm.state.TotalFundingCollected
}

// Summary 组合汇总
type Summary struct {
	OpenPositions      int
	OpenPairs          int
	TotalNotionalUsd   float64
	TotalUnrealizedPnl float64
	TotalFundingOpen   float64
}

// Summarize 汇总开放组合
func (pm *PositionManager) Summarize() Summary {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	s := Summary{OpenPositions: len(pm.state.Positions)}
	for _, p := range pm.state.Positions {
		s.TotalNotionalUsd += p.NotionalUsd
		s.TotalUnrealizedPnl += p.UnrealizedPnl
		s.TotalFundingOpen += p.FundingCollected
	}
	for _, a := range pm.state.Pairs {
		if a.Status != model.PairClosed {
			s.OpenPairs++
		}
	}
	return s
}

// DrawdownPct 组合级回撤：未实现亏损占总名义价值的百分比
func (pm *PositionManager) DrawdownPct() float64 {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return drawdownPct(pm.state.Positions)
}

// PairDrawdownPct 单个套利对的回撤百分比
func (pm *PositionManager) PairDrawdownPct(pairID string) float64 {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	pair := pm.findPair(pm.state, pairID)
	if pair == nil {
		return 0
	}
	var legs []*model.Position
	if p := pm.findPosition(pm.state, pair.LongID); p != nil {
		legs = append(legs, p)
	}
	if p := pm.findPosition(pm.state, pair.ShortID); p != nil {
		legs = append(legs, p)
	}
	return drawdownPct(legs)
}

// RecentHistory 最近 n 条交易历史（新在后）
func (pm *PositionManager) RecentHistory(n int) []*model.TradeEntry {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	if n <= 0 || n > len(pm.history) {
		n = len(pm.history)
	}
	out := make([]*model.TradeEntry, n)
	copy(out, pm.history[len(pm.history)-n:])
	return out
}

// Stats 滚动窗口盈亏统计
func (pm *PositionManager) Stats(now time.Time) model.PnlStats {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return ComputePnlStats(pm.history, now)
}

// ========== 内部辅助 ==========

func (pm *PositionManager) findPosition(st *model.LedgerState, id string) *model.Position {
	for _, p := range st.Positions {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (pm *PositionManager) findPair(st *model.LedgerState, id string) *model.ArbitragePair {
	for _, a := range st.Pairs {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func removePosition(positions []*model.Position, id string) []*model.Position {
	out := positions[:0]
	for _, p := range positions {
		if p.ID != id {
			out = append(out, p)
		}
	}
	return out
}

func drawdownPct(positions []*model.Position) float64 {
	var notional, unrealized float64
	for _, p := range positions {
		notional += p.NotionalUsd
		unrealized += p.UnrealizedPnl
	}
	if notional == 0 || unrealized >= 0 {
		return 0
	}
	return -unrealized / notional * 100
}

// locksByID 按实体 ID 的互斥锁注册表
// 同一持仓/套利对的变更调用严格串行，跨实体操作互不阻塞。
type locksByID struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *locksByID) Lock(id string) (unlock func()) {
	l.mu.Lock()
	if l.locks == nil {
		l.locks = make(map[string]*sync.Mutex)
	}
	m := l.locks[id]
	if m == nil {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
