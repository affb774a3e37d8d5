package container

import (
	"context"

	"farb/internal/application/port"
	"farb/internal/application/service"
	dsvc "farb/internal/domain/service"
)

// Container 懒加载装配核心服务
type Container struct {
	store    port.LedgerStore
	archiver port.TradeArchiver

	cache     *dsvc.RateCache
	positions *service.PositionManager
}

func New(store port.LedgerStore, archiver port.TradeArchiver) *Container {
	return &Container{
		store:    store,
		archiver: archiver,
	}
}

func (c *Container) LedgerStore() port.LedgerStore {
	return c.store
}

func (c *Container) RateCache() *dsvc.RateCache {
	if c.cache == nil {
		c.cache = dsvc.NewRateCache()
	}
	return c.cache
}

func (c *Container) PositionManager(ctx context.Context) (*service.PositionManager, error) {
	if c.positions == nil {
		pm, err := service.NewPositionManager(ctx, c.store, c.archiver)
		if err != nil {
			return nil, err
		}
		c.positions = pm
	}
	return c.positions, nil
}

func (c *Container) Close() error {
	if c.archiver != nil {
		_ = c.archiver.Close()
	}
	return c.store.Close()
}
