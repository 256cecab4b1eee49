package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"quant-sim/internal/account"
	"quant-sim/internal/config"
	"quant-sim/internal/ledger"
	"quant-sim/internal/metrics"
	"quant-sim/internal/pricing"
	"quant-sim/internal/store"
	"quant-sim/internal/strategy"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 完成依赖装配并启动对外 HTTP 服务，阻塞直到收到退出信号。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("模拟交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Int("port", a.cfg.Server.Port),
		zap.String("pricing_base_url", a.cfg.Pricing.BaseURL),
	)

	m := metrics.NewMetrics()

	prices := pricing.NewService(a.cfg.Pricing, a.logger)
	prices.SetFallbackCounter(m.PriceFallbacks)

	repo, err := account.NewRepository(a.store)
	if err != nil {
		return err
	}

	ldg := ledger.New(decimal.NewFromFloat(a.cfg.Trading.CommissionRate), a.logger)
	svc := account.NewService(repo, ldg, prices, strategy.NewRegistry(), m,
		a.cfg.Trading, a.cfg.Strategy, a.logger)

	if err := startServer(ctx, svc, a.cfg, a.logger); err != nil {
		return err
	}

	<-ctx.Done()
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}
