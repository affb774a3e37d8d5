package sqlite

import (
	"context"
	"os"
	"testing"

	"farb/internal/domain/model"
)

func TestLedgerRepoSaveLoadRoundTrip(t *testing.T) {
	dbPath := "test_ledger.db"
	defer os.Remove(dbPath)

	repo, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	state := &model.LedgerState{
		Positions: []*model.Position{
			{
				ID: "pos-1", Venue: "drift", Symbol: "SOL", Side: model.SideLong,
				BaseSize: 10, NotionalUsd: 1500, EntryPrice: 150, OpenTime: 1000,
				Receipt: "sig-1", CurrentPrice: 151, UnrealizedPnl: 10,
				FundingCollected: 0.5, LastUpdate: 2000,
			},
			{
				ID: "pos-2", Venue: "flashtrade", Symbol: "SOL", Side: model.SideShort,
				BaseSize: 10, NotionalUsd: 1500, EntryPrice: 150, OpenTime: 1000,
				Receipt: "tx-2", LastUpdate: 1000, Flagged: true, FlagReason: "close failed",
			},
		},
		Pairs: []*model.ArbitragePair{
			{
				ID: "pair-1", Asset: "SOL", LongID: "pos-1", ShortID: "pos-2",
				OpenTime: 1000, TotalNotionalUsd: 3000, TargetSpreadApy: 613.2,
				Status: model.PairOpen,
			},
		},
		TotalFundingCollected: 12.5,
		TotalRealizedPnl:      -3.2,
		LastUpdate:            2000,
	}
	trades := []*model.TradeEntry{
		{PositionID: "pos-1", Type: model.TradeOpen, Venue: "drift", Symbol: "SOL",
			Side: model.SideLong, Size: 10, Price: 150, Time: 1000, Receipt: "sig-1"},
		{PositionID: "pos-2", Type: model.TradeOpen, Venue: "flashtrade", Symbol: "SOL",
			Side: model.SideShort, Size: 10, Price: 150, Time: 1000, Receipt: "tx-2"},
	}

	if err := repo.Save(ctx, state, trades...); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, history, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(loaded.Positions) != 2 {
		t.Fatalf("expected 2 positions, got %d", len(loaded.Positions))
	}
	p := loaded.Positions[1]
	if !p.Flagged || p.FlagReason != "close failed" {
		t.Errorf("flag lost: %+v", p)
	}
	if len(loaded.Pairs) != 1 || loaded.Pairs[0].Status != model.PairOpen {
		t.Errorf("pairs = %+v", loaded.Pairs)
	}
	if loaded.TotalFundingCollected != 12.5 || loaded.TotalRealizedPnl != -3.2 {
		t.Errorf("totals = (%v, %v)", loaded.TotalFundingCollected, loaded.TotalRealizedPnl)
	}
	if len(history) != 2 || history[0].PositionID != "pos-1" {
		t.Errorf("history = %+v", history)
	}
}

func TestLedgerRepoSaveIsFullRewrite(t *testing.T) {
	dbPath := "test_rewrite.db"
	defer os.Remove(dbPath)

	repo, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	first := &model.LedgerState{
		Positions: []*model.Position{{ID: "pos-1", Venue: "drift", Symbol: "SOL", Side: model.SideLong,
			BaseSize: 1, NotionalUsd: 100, EntryPrice: 100, OpenTime: 1, LastUpdate: 1}},
	}
	if err := repo.Save(ctx, first); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// 平仓后的状态不含该持仓
	second := &model.LedgerState{TotalRealizedPnl: 5, LastUpdate: 2}
	if err := repo.Save(ctx, second); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, _, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(loaded.Positions) != 0 {
		t.Errorf("stale positions survived rewrite: %+v", loaded.Positions)
	}
	if loaded.TotalRealizedPnl != 5 {
		t.Errorf("total pnl = %v, want 5", loaded.TotalRealizedPnl)
	}
}

func TestLedgerRepoHistoryTrimmed(t *testing.T) {
	dbPath := "test_trim.db"
	defer os.Remove(dbPath)

	repo, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create repo: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	state := &model.LedgerState{}
	batch := make([]*model.TradeEntry, 0, 200)
	for i := 0; i < model.HistoryLimit+200; i++ {
		batch = append(batch, &model.TradeEntry{
			PositionID: "p", Type: model.TradeOpen, Venue: "drift", Symbol: "SOL",
			Side: model.SideLong, Size: 1, Price: float64(i), Time: int64(i),
		})
		if len(batch) == 200 {
			if err := repo.Save(ctx, state, batch...); err != nil {
				t.Fatalf("Save failed: %v", err)
			}
			batch = batch[:0]
		}
	}

	_, history, err := repo.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(history) != model.HistoryLimit {
		t.Errorf("history len = %d, want %d", len(history), model.HistoryLimit)
	}
	if last := history[len(history)-1]; last.Time != int64(model.HistoryLimit+199) {
		t.Errorf("newest entry time = %d, want %d", last.Time, model.HistoryLimit+199)
	}
}
