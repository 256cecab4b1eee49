package account

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"quant-sim/internal/config"
	"quant-sim/internal/ledger"
	"quant-sim/internal/metrics"
	"quant-sim/internal/strategy"
)

// PriceProvider 为服务层提供行情数据，由 pricing.Service 实现。
type PriceProvider interface {
	GetCurrentPrice(ctx context.Context, instrumentCode string) (decimal.Decimal, error)
	GetHistoricalPrices(ctx context.Context, instrumentCode string, days int) ([]decimal.Decimal, error)
}

// SignalResult 为批量信号生成中单个标的的结果。
type SignalResult struct {
	InstrumentCode string
	Signal         strategy.Signal
	SignalID       int64
	Err            error
}

// Service 组合纯账本、行情与仓储，对外提供账户交易能力。
// 同一账户的交易与读取刷新共用一把锁串行执行，避免刷新回写
// 覆盖并发交易的结果；不同账户之间互不阻塞。
type Service struct {
	repo     *Repository
	ledger   *ledger.Ledger
	prices   PriceProvider
	registry *strategy.Registry
	metrics  *metrics.Metrics
	logger   *zap.Logger

	initialBalance   decimal.Decimal
	batchConcurrency int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService 创建账户服务，metrics 可以为 nil。
func NewService(
	repo *Repository,
	ldg *ledger.Ledger,
	prices PriceProvider,
	registry *strategy.Registry,
	m *metrics.Metrics,
	tradingCfg config.TradingConfig,
	strategyCfg config.StrategyConfig,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	concurrency := strategyCfg.BatchConcurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	return &Service{
		repo:             repo,
		ledger:           ldg,
		prices:           prices,
		registry:         registry,
		metrics:          m,
		logger:           logger,
		initialBalance:   decimal.NewFromFloat(tradingCfg.InitialBalance),
		batchConcurrency: concurrency,
		locks:            make(map[string]*sync.Mutex),
	}
}

func (s *Service) userLock(userID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

// CreateAccount 为用户开通模拟交易账户，初始资金由配置决定。
func (s *Service) CreateAccount(ctx context.Context, userID string) (ledger.Account, error) {
	if userID == "" {
		return ledger.Account{}, errors.New("account: 用户ID不能为空")
	}

	acct := ledger.Account{
		AccountID:   uuid.NewString(),
		UserID:      userID,
		Balance:     s.initialBalance,
		TotalAssets: s.initialBalance,
		CreatedAt:   time.Now(),
	}
	if err := s.repo.CreateAccount(ctx, acct); err != nil {
		return ledger.Account{}, err
	}

	s.logger.Info("开通交易账户",
		zap.String("user_id", userID),
		zap.String("account_id", acct.AccountID),
		zap.String("balance", acct.Balance.String()))
	return acct, nil
}

// GetAccount 返回按最新行情刷新后的账户，刷新结果同步落库。
// 持有账户锁直到落库完成，行情阻塞期间的并发交易会排队等待。
func (s *Service) GetAccount(ctx context.Context, userID string) (ledger.Account, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	acct, positions, err := s.refresh(ctx, userID)
	if err != nil {
		return ledger.Account{}, err
	}
	if err := s.repo.SaveSnapshot(ctx, acct, positions); err != nil {
		return ledger.Account{}, err
	}
	return acct, nil
}

// GetPositions 返回按最新行情刷新后的持仓列表。
func (s *Service) GetPositions(ctx context.Context, userID string) ([]ledger.Position, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	acct, positions, err := s.refresh(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveSnapshot(ctx, acct, positions); err != nil {
		return nil, err
	}
	return positions, nil
}

func (s *Service) refresh(ctx context.Context, userID string) (ledger.Account, []ledger.Position, error) {
	acct, err := s.repo.GetByUser(ctx, userID)
	if err != nil {
		return ledger.Account{}, nil, err
	}
	positions, err := s.repo.ListPositions(ctx, acct.AccountID)
	if err != nil {
		return ledger.Account{}, nil, err
	}
	acct, positions = s.ledger.RecomputeTotals(ctx, acct, positions, s.prices.GetCurrentPrice)
	return acct, positions, nil
}

// GetTradeHistory 返回账户最近的成交记录。
func (s *Service) GetTradeHistory(ctx context.Context, userID string, limit int) ([]ledger.Trade, error) {
	acct, err := s.repo.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListTrades(ctx, acct.AccountID, limit)
}

// ExecuteTrade 执行一笔模拟交易。价格小于等于零时按当前行情成交。
// 资金或持仓不足时账户状态保持不变，返回对应的业务错误。
func (s *Service) ExecuteTrade(ctx context.Context, userID, instrumentCode string, kind ledger.TradeKind, quantity int64, price decimal.Decimal) (ledger.Trade, error) {
	lock := s.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	acct, err := s.repo.GetByUser(ctx, userID)
	if err != nil {
		return ledger.Trade{}, err
	}
	positions, err := s.repo.ListPositions(ctx, acct.AccountID)
	if err != nil {
		return ledger.Trade{}, err
	}

	if price.LessThanOrEqual(decimal.Zero) {
		price, err = s.prices.GetCurrentPrice(ctx, instrumentCode)
		if err != nil {
			return ledger.Trade{}, fmt.Errorf("account: 获取成交价格失败: %w", err)
		}
	}

	start := time.Now()
	newAcct, newPositions, trade, err := s.ledger.ExecuteTrade(acct, positions, instrumentCode, kind, quantity, price)
	if err != nil {
		s.observeRejection(err)
		return ledger.Trade{}, err
	}

	if err := s.repo.ApplyTrade(ctx, newAcct, newPositions, trade); err != nil {
		return ledger.Trade{}, err
	}

	if s.metrics != nil {
		s.metrics.TradesTotal.WithLabelValues(string(kind)).Inc()
		s.metrics.TradeExecDur.Observe(time.Since(start).Seconds())
	}
	return trade, nil
}

func (s *Service) observeRejection(err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, ledger.ErrInsufficientFunds):
		s.metrics.TradeRejections.WithLabelValues("insufficient_funds").Inc()
	case errors.Is(err, ledger.ErrInsufficientHoldings):
		s.metrics.TradeRejections.WithLabelValues("insufficient_holdings").Inc()
	default:
		s.metrics.TradeRejections.WithLabelValues("invalid_order").Inc()
	}
}

// GenerateSignal 对单个标的计算策略信号并落库。
func (s *Service) GenerateSignal(ctx context.Context, strat strategy.Strategy, instrumentCode string, days int) (SignalResult, error) {
	result := s.evaluateOne(ctx, strat, instrumentCode, days)
	return result, result.Err
}

// GenerateSignals 并发地为一批标的生成信号。单个标的失败只记录在
// 对应结果中，不会中断整个批次。返回值与 codes 顺序一致。
func (s *Service) GenerateSignals(ctx context.Context, strat strategy.Strategy, instrumentCodes []string, days int) []SignalResult {
	results := make([]SignalResult, len(instrumentCodes))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.batchConcurrency)
	for i, code := range instrumentCodes {
		g.Go(func() error {
			results[i] = s.evaluateOne(gctx, strat, code, days)
			return nil
		})
	}
	// 工作协程从不返回错误，失败信息保存在各自的结果里。
	_ = g.Wait()

	return results
}

func (s *Service) evaluateOne(ctx context.Context, strat strategy.Strategy, instrumentCode string, days int) SignalResult {
	result := SignalResult{InstrumentCode: instrumentCode}

	prices, err := s.prices.GetHistoricalPrices(ctx, instrumentCode, days)
	if err != nil {
		result.Err = fmt.Errorf("account: 获取历史行情失败: %w", err)
		s.logger.Warn("信号生成失败",
			zap.String("instrument_code", instrumentCode),
			zap.Error(err))
		if s.metrics != nil {
			s.metrics.SignalFailures.Inc()
		}
		return result
	}

	signal := strat.Evaluate(instrumentCode, prices)
	id, err := s.repo.SaveSignal(ctx, signal)
	if err != nil {
		result.Err = err
		if s.metrics != nil {
			s.metrics.SignalFailures.Inc()
		}
		return result
	}

	result.Signal = signal
	result.SignalID = id
	if s.metrics != nil {
		s.metrics.SignalsTotal.WithLabelValues(string(signal.Kind)).Inc()
	}
	return result
}

// ListSignals 返回最近生成的信号。
func (s *Service) ListSignals(ctx context.Context, instrumentCode string, limit int) ([]SignalRecord, error) {
	return s.repo.ListSignals(ctx, instrumentCode, limit)
}

// MarkSignalExecuted 将信号标记为已执行。
func (s *Service) MarkSignalExecuted(ctx context.Context, signalID int64) error {
	return s.repo.MarkSignalExecuted(ctx, signalID)
}

// Registry 返回策略注册表，供传输层按名称构建策略。
func (s *Service) Registry() *strategy.Registry {
	return s.registry
}
