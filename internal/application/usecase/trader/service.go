package trader

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"farb/internal/application/port"
	appsvc "farb/internal/application/service"
	"farb/internal/domain/model"
	dsvc "farb/internal/domain/service"
)

// ServiceDeps 交易循环的全部依赖与阈值
type ServiceDeps struct {
	Venues    []port.VenueAdapter
	Cache     *dsvc.RateCache
	Detector  *dsvc.Detector
	Positions *appsvc.PositionManager
	Sink      port.Sink
	OppSink   port.OpportunitySink // 可选
	Clock     Clock

	ScanInterval       time.Duration
	MinSpreadApy       float64
	MinNetApy          float64
	MinConfidence      int
	RebalanceSpreadApy float64
	MaxDrawdownPct     float64
	MaxOpenPairs       int
	NotionalPerLegUsd  float64
	Leverage           float64
	WriteTimeout       time.Duration

	// ScanOnly 只扫描上报机会，不开任何仓位
	ScanOnly bool
}

// Service 套利交易循环
// 每个扫描周期按固定顺序执行：拉取费率 -> 监控持仓 -> 评估开仓 ->
// 输出报告。干跑与实盘走同一条路径，差别只在场所适配器。
type Service struct {
	deps       ServiceDeps
	normalizer *dsvc.Normalizer
	fmt        *Formatter
	byName     map[string]port.VenueAdapter

	// 本周期刚平掉的资产，当周期内不允许重新进场
	closedAssets map[string]struct{}
}

func NewService(deps ServiceDeps) *Service {
	if deps.Clock == nil {
		deps.Clock = NewRealClock()
	}
	byName := make(map[string]port.VenueAdapter, len(deps.Venues))
	for _, v := range deps.Venues {
		byName[v.Name()] = v
	}
	return &Service{
		deps:       deps,
		normalizer: dsvc.NewNormalizer(deps.Cache),
		fmt:        NewFormatter(),
		byName:     byName,
	}
}

// Run 阻塞运行扫描循环，ctx 取消后返回
func (s *Service) Run(ctx context.Context) error {
	if len(s.deps.Venues) < 2 {
		return errors.New("need at least two venues")
	}

	log.Info().
		Int("venues", len(s.deps.Venues)).
		Dur("interval", s.deps.ScanInterval).
		Bool("scan_only", s.deps.ScanOnly).
		Msg("trader started")

	// 启动先跑一轮，不等第一个 tick
	s.RunCycle(ctx)

	ticker := s.deps.Clock.NewTicker(s.deps.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			s.RunCycle(ctx)
		}
	}
}

// RunCycle 执行一个完整扫描周期
func (s *Service) RunCycle(ctx context.Context) {
	s.closedAssets = make(map[string]struct{})

	opps := s.scan(ctx)
	s.monitorPairs(ctx)

	if !s.deps.ScanOnly {
		s.evaluate(ctx, opps)
	}

	s.publish(ctx, opps)
	s.report(opps)
}

func (s *Service) publish(ctx context.Context, opps []model.ArbitrageOpportunity) {
	if s.deps.OppSink == nil {
		return
	}
	for i := range opps {
		if err := s.deps.OppSink.PublishOpportunity(ctx, &opps[i]); err != nil {
			log.Warn().Err(err).Str("asset", opps[i].Asset).Msg("opportunity publish failed")
		}
	}
}

func (s *Service) report(opps []model.ArbitrageOpportunity) {
	if s.deps.Sink == nil {
		return
	}
	now := s.deps.Clock.Now()
	body := s.fmt.Render(now, opps, s.deps.Positions)
	if err := s.deps.Sink.WriteReport(now, body); err != nil {
		log.Warn().Err(err).Msg("report write failed")
	}
}
