package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"quant-sim/internal/config"
)

// Service 为价格协作方客户端：优先从行情服务获取价格，
// 服务不可用时在超时后退回本地模拟价，不把失败传播给交易流程。
type Service struct {
	client      *http.Client
	baseURL     string
	timeout     time.Duration
	historyDays int
	basePrices  map[string]decimal.Decimal
	defaultBase decimal.Decimal
	logger      *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand

	fallbacks prometheus.Counter
}

// NewService 创建价格服务客户端。基准价格表来自配置而非硬编码。
func NewService(cfg config.PricingConfig, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}

	basePrices := make(map[string]decimal.Decimal, len(cfg.BasePrices))
	for code, price := range cfg.BasePrices {
		basePrices[code] = decimal.NewFromFloat(price)
	}

	return &Service{
		client:      &http.Client{Timeout: cfg.Timeout},
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		timeout:     cfg.Timeout,
		historyDays: cfg.HistoryDays,
		basePrices:  basePrices,
		defaultBase: decimal.NewFromFloat(cfg.DefaultBasePrice),
		logger:      logger,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetFallbackCounter 注册模拟价兜底次数计数器。
func (s *Service) SetFallbackCounter(c prometheus.Counter) {
	s.fallbacks = c
}

// envelope 为行情服务的统一响应包装。
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type latestPayload struct {
	StockCode string          `json:"stock_code"`
	Close     decimal.Decimal `json:"close"`
}

type historyPayload struct {
	StockCode string `json:"stock_code"`
	Count     int    `json:"count"`
	Data      []struct {
		Close decimal.Decimal `json:"close"`
	} `json:"data"`
}

// GetCurrentPrice 返回标的最新价格。行情服务超时或出错时记录日志
// 并返回模拟价，调用方无需区分来源。
func (s *Service) GetCurrentPrice(ctx context.Context, instrumentCode string) (decimal.Decimal, error) {
	price, err := s.fetchLatest(ctx, instrumentCode)
	if err != nil {
		s.logger.Warn("从行情服务获取价格失败，使用模拟价格",
			zap.String("instrument", instrumentCode),
			zap.Error(err),
		)
		s.countFallback()
		return s.SimulatedPrice(instrumentCode), nil
	}
	return price, nil
}

// GetHistoricalPrices 返回按时间升序排列的历史收盘价（最早的在前）。
// 行情服务不可用时生成按标的代码确定性播种的模拟序列。
func (s *Service) GetHistoricalPrices(ctx context.Context, instrumentCode string, days int) ([]decimal.Decimal, error) {
	if days <= 0 {
		days = s.historyDays
	}

	prices, err := s.fetchHistory(ctx, instrumentCode, days)
	if err != nil {
		s.logger.Warn("从行情服务获取历史数据失败，使用模拟序列",
			zap.String("instrument", instrumentCode),
			zap.Int("days", days),
			zap.Error(err),
		)
		s.countFallback()
		return s.simulatedHistory(instrumentCode, days), nil
	}
	return prices, nil
}

func (s *Service) fetchLatest(ctx context.Context, instrumentCode string) (decimal.Decimal, error) {
	var payload latestPayload
	endpoint := fmt.Sprintf("%s/stocks/%s/latest", s.baseURL, url.PathEscape(instrumentCode))
	if err := s.getJSON(ctx, endpoint, &payload); err != nil {
		return decimal.Zero, err
	}
	if !payload.Close.IsPositive() {
		return decimal.Zero, fmt.Errorf("pricing: 行情响应缺少有效收盘价: %s", instrumentCode)
	}
	return payload.Close, nil
}

func (s *Service) fetchHistory(ctx context.Context, instrumentCode string, days int) ([]decimal.Decimal, error) {
	var payload historyPayload
	endpoint := fmt.Sprintf("%s/stocks/%s/history?days=%d", s.baseURL, url.PathEscape(instrumentCode), days)
	if err := s.getJSON(ctx, endpoint, &payload); err != nil {
		return nil, err
	}
	if len(payload.Data) == 0 {
		return nil, fmt.Errorf("pricing: 历史数据为空: %s", instrumentCode)
	}

	prices := make([]decimal.Decimal, 0, len(payload.Data))
	for _, point := range payload.Data {
		prices = append(prices, point.Close)
	}
	return prices, nil
}

func (s *Service) getJSON(ctx context.Context, endpoint string, out interface{}) error {
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("pricing: 构造请求失败: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("pricing: 请求行情服务失败: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pricing: 行情服务返回状态 %d", resp.StatusCode)
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("pricing: 解析行情响应失败: %w", err)
	}
	if env.Code != 0 && env.Code != http.StatusOK {
		return fmt.Errorf("pricing: 行情服务返回错误: %s", env.Message)
	}
	if len(env.Data) == 0 {
		return fmt.Errorf("pricing: 行情响应缺少数据")
	}

	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("pricing: 解析行情数据失败: %w", err)
	}
	return nil
}

// SimulatedPrice 在基准价附近生成 ±5% 随机波动的模拟价，保留2位小数。
func (s *Service) SimulatedPrice(instrumentCode string) decimal.Decimal {
	base := s.basePrice(instrumentCode)

	s.mu.Lock()
	f := s.rng.Float64()
	s.mu.Unlock()

	fluctuation := (f - 0.5) * 0.1
	return base.Mul(decimal.NewFromFloat(1 + fluctuation)).Round(2)
}

// simulatedHistory 生成确定性的模拟历史序列：随机游走按标的代码播种，
// 同一标的两次调用结果一致，便于重放与测试。
func (s *Service) simulatedHistory(instrumentCode string, days int) []decimal.Decimal {
	h := fnv.New64a()
	_, _ = h.Write([]byte(instrumentCode))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	price := s.basePrice(instrumentCode)
	floor := decimal.RequireFromString("0.01")

	prices := make([]decimal.Decimal, 0, days)
	for i := 0; i < days; i++ {
		change := (rng.Float64() - 0.5) * 0.1
		price = price.Mul(decimal.NewFromFloat(1 + change)).Round(2)
		if price.LessThan(floor) {
			price = floor
		}
		prices = append(prices, price)
	}

	return prices
}

func (s *Service) basePrice(instrumentCode string) decimal.Decimal {
	if base, ok := s.basePrices[instrumentCode]; ok {
		return base
	}
	return s.defaultBase
}

func (s *Service) countFallback() {
	if s.fallbacks != nil {
		s.fallbacks.Inc()
	}
}
