package composite

import (
	"context"

	"farb/internal/application/port"
	"farb/internal/domain/model"
)

// Archive 把交易归档扇出到多个后端
type Archive struct {
	archivers []port.TradeArchiver
}

func New(archivers ...port.TradeArchiver) *Archive {
	// nil archivers are allowed; filter in constructor for safety
	out := make([]port.TradeArchiver, 0, len(archivers))
	for _, a := range archivers {
		if a != nil {
			out = append(out, a)
		}
	}
	return &Archive{archivers: out}
}

func (c *Archive) ArchiveTrade(ctx context.Context, entry *model.TradeEntry) error {
	var firstErr error
	for _, a := range c.archivers {
		if err := a.ArchiveTrade(ctx, entry); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *Archive) Close() error {
	var firstErr error
	for _, a := range c.archivers {
		if err := a.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

var _ port.TradeArchiver = (*Archive)(nil)
