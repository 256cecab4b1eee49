package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"quant-sim/internal/account"
	"quant-sim/internal/config"
	"quant-sim/internal/ledger"
	"quant-sim/internal/strategy"
)

type envelope struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type accountView struct {
	AccountID   string `json:"account_id"`
	UserID      string `json:"user_id"`
	Balance     string `json:"balance"`
	TotalAssets string `json:"total_assets"`
	CreatedAt   string `json:"created_at"`
}

type positionView struct {
	StockCode     string `json:"stock_code"`
	Quantity      int64  `json:"quantity"`
	AvgCost       string `json:"avg_cost"`
	CurrentPrice  string `json:"current_price"`
	MarketValue   string `json:"market_value"`
	ProfitLoss    string `json:"profit_loss"`
	ProfitLossPct string `json:"profit_loss_pct"`
	UpdatedAt     string `json:"updated_at"`
}

type tradeView struct {
	TradeID    string `json:"trade_id"`
	StockCode  string `json:"stock_code"`
	TradeType  string `json:"trade_type"`
	Quantity   int64  `json:"quantity"`
	Price      string `json:"price"`
	Amount     string `json:"amount"`
	Commission string `json:"commission"`
	Status     string `json:"status"`
	ExecutedAt string `json:"executed_at"`
}

type signalView struct {
	ID          int64  `json:"id"`
	StockCode   string `json:"stock_code"`
	Strategy    string `json:"strategy"`
	SignalType  string `json:"signal_type"`
	Price       string `json:"price"`
	Strength    string `json:"strength"`
	Reason      string `json:"reason"`
	GeneratedAt string `json:"generated_at"`
	Executed    bool   `json:"executed"`
}

type batchSignalView struct {
	StockCode string      `json:"stock_code"`
	Signal    *signalView `json:"signal,omitempty"`
	Error     string      `json:"error,omitempty"`
}

type createAccountRequest struct {
	UserID string `json:"user_id"`
}

type tradeRequest struct {
	UserID    string          `json:"user_id"`
	StockCode string          `json:"stock_code"`
	TradeType string          `json:"trade_type"`
	Quantity  int64           `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type generateSignalsRequest struct {
	Strategy   string             `json:"strategy"`
	Params     map[string]float64 `json:"params"`
	StockCodes []string           `json:"stock_codes"`
	Days       int                `json:"days"`
}

func startServer(ctx context.Context, svc *account.Service, cfg *config.Config, logger *zap.Logger) error {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	})

	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("POST /api/v1/accounts", func(w http.ResponseWriter, r *http.Request) {
		var req createAccountRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("请求体无效: %w", err), logger)
			return
		}
		if req.UserID == "" {
			writeError(w, http.StatusBadRequest, errors.New("user_id 不能为空"), logger)
			return
		}

		acct, err := svc.CreateAccount(r.Context(), req.UserID)
		if err != nil {
			writeError(w, statusFor(err), err, logger)
			return
		}
		writeData(w, http.StatusCreated, toAccountView(acct), logger)
	})

	mux.HandleFunc("GET /api/v1/accounts/{userID}", func(w http.ResponseWriter, r *http.Request) {
		acct, err := svc.GetAccount(r.Context(), r.PathValue("userID"))
		if err != nil {
			writeError(w, statusFor(err), err, logger)
			return
		}
		writeData(w, http.StatusOK, toAccountView(acct), logger)
	})

	mux.HandleFunc("GET /api/v1/accounts/{userID}/positions", func(w http.ResponseWriter, r *http.Request) {
		positions, err := svc.GetPositions(r.Context(), r.PathValue("userID"))
		if err != nil {
			writeError(w, statusFor(err), err, logger)
			return
		}
		views := make([]positionView, 0, len(positions))
		for _, pos := range positions {
			views = append(views, toPositionView(pos))
		}
		writeData(w, http.StatusOK, views, logger)
	})

	mux.HandleFunc("GET /api/v1/accounts/{userID}/trades", func(w http.ResponseWriter, r *http.Request) {
		trades, err := svc.GetTradeHistory(r.Context(), r.PathValue("userID"), queryLimit(r, 50))
		if err != nil {
			writeError(w, statusFor(err), err, logger)
			return
		}
		views := make([]tradeView, 0, len(trades))
		for _, trade := range trades {
			views = append(views, toTradeView(trade))
		}
		writeData(w, http.StatusOK, views, logger)
	})

	mux.HandleFunc("POST /api/v1/trades", func(w http.ResponseWriter, r *http.Request) {
		var req tradeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("请求体无效: %w", err), logger)
			return
		}
		if req.UserID == "" || req.StockCode == "" {
			writeError(w, http.StatusBadRequest, errors.New("user_id 与 stock_code 不能为空"), logger)
			return
		}

		trade, err := svc.ExecuteTrade(r.Context(), req.UserID, req.StockCode,
			ledger.TradeKind(req.TradeType), req.Quantity, req.Price)
		if err != nil {
			writeError(w, statusFor(err), err, logger)
			return
		}
		writeData(w, http.StatusOK, toTradeView(trade), logger)
	})

	mux.HandleFunc("POST /api/v1/signals/generate", func(w http.ResponseWriter, r *http.Request) {
		var req generateSignalsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("请求体无效: %w", err), logger)
			return
		}
		if len(req.StockCodes) == 0 {
			writeError(w, http.StatusBadRequest, errors.New("stock_codes 不能为空"), logger)
			return
		}

		strat, err := buildStrategy(svc.Registry(), req, cfg.Strategy)
		if err != nil {
			writeError(w, statusFor(err), err, logger)
			return
		}

		results := svc.GenerateSignals(r.Context(), strat, req.StockCodes, req.Days)
		views := make([]batchSignalView, 0, len(results))
		for _, res := range results {
			view := batchSignalView{StockCode: res.InstrumentCode}
			if res.Err != nil {
				view.Error = res.Err.Error()
			} else {
				sv := toSignalView(account.SignalRecord{ID: res.SignalID, Signal: res.Signal})
				view.Signal = &sv
			}
			views = append(views, view)
		}
		writeData(w, http.StatusOK, views, logger)
	})

	mux.HandleFunc("GET /api/v1/signals", func(w http.ResponseWriter, r *http.Request) {
		records, err := svc.ListSignals(r.Context(), r.URL.Query().Get("stock_code"), queryLimit(r, 50))
		if err != nil {
			writeError(w, statusFor(err), err, logger)
			return
		}
		views := make([]signalView, 0, len(records))
		for _, rec := range records {
			views = append(views, toSignalView(rec))
		}
		writeData(w, http.StatusOK, views, logger)
	})

	mux.HandleFunc("POST /api/v1/signals/{id}/execute", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("信号ID无效"), logger)
			return
		}
		if err := svc.MarkSignalExecuted(r.Context(), id); err != nil {
			writeError(w, statusFor(err), err, logger)
			return
		}
		writeData(w, http.StatusOK, map[string]int64{"id": id}, logger)
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		timeout := cfg.Server.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("关闭 HTTP 服务失败", zap.Error(err))
		}
	}()

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP 服务异常", zap.Error(err))
		}
	}()

	logger.Info("HTTP 服务已启动", zap.String("addr", addr))
	return nil
}

// buildStrategy 按请求构建策略，未指定时使用默认的均线交叉策略与配置参数。
func buildStrategy(registry *strategy.Registry, req generateSignalsRequest, cfg config.StrategyConfig) (strategy.Strategy, error) {
	kind := strategy.Kind(req.Strategy)
	if kind == "" {
		kind = strategy.KindMACross
	}

	params := req.Params
	if params == nil && kind == strategy.KindMACross {
		params = map[string]float64{
			"shortPeriod": float64(cfg.DefaultShortPeriod),
			"longPeriod":  float64(cfg.DefaultLongPeriod),
		}
	}

	return registry.New(strategy.Config{Kind: kind, Params: params})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, account.ErrAccountNotFound), errors.Is(err, account.ErrSignalNotFound):
		return http.StatusNotFound
	case errors.Is(err, account.ErrAccountExists):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientHoldings),
		errors.Is(err, ledger.ErrInvalidOrder),
		errors.Is(err, strategy.ErrUnknownKind),
		errors.Is(err, strategy.ErrInvalidParams):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func queryLimit(r *http.Request, fallback int) int {
	limit := fallback
	if qs := r.URL.Query().Get("limit"); qs != "" {
		if v, err := strconv.Atoi(qs); err == nil && v > 0 {
			if v > 500 {
				v = 500
			}
			limit = v
		}
	}
	return limit
}

func writeData(w http.ResponseWriter, status int, data interface{}, logger *zap.Logger) {
	writeJSON(w, status, envelope{Code: status, Message: "success", Data: data}, logger)
}

func writeError(w http.ResponseWriter, status int, err error, logger *zap.Logger) {
	writeJSON(w, status, envelope{Code: status, Message: err.Error()}, logger)
}

func writeJSON(w http.ResponseWriter, status int, payload envelope, logger *zap.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("写入响应失败", zap.Error(err))
	}
}

func toAccountView(acct ledger.Account) accountView {
	return accountView{
		AccountID:   acct.AccountID,
		UserID:      acct.UserID,
		Balance:     acct.Balance.String(),
		TotalAssets: acct.TotalAssets.String(),
		CreatedAt:   acct.CreatedAt.Format(time.RFC3339),
	}
}

func toPositionView(pos ledger.Position) positionView {
	return positionView{
		StockCode:     pos.InstrumentCode,
		Quantity:      pos.Quantity,
		AvgCost:       pos.AvgCost.String(),
		CurrentPrice:  pos.CurrentPrice.String(),
		MarketValue:   pos.MarketValue.String(),
		ProfitLoss:    pos.ProfitLoss.String(),
		ProfitLossPct: pos.ProfitLossPct.String(),
		UpdatedAt:     pos.UpdatedAt.Format(time.RFC3339),
	}
}

func toTradeView(trade ledger.Trade) tradeView {
	return tradeView{
		TradeID:    trade.TradeID,
		StockCode:  trade.InstrumentCode,
		TradeType:  string(trade.Kind),
		Quantity:   trade.Quantity,
		Price:      trade.Price.String(),
		Amount:     trade.Amount.String(),
		Commission: trade.Commission.String(),
		Status:     string(trade.Status),
		ExecutedAt: trade.ExecutedAt.Format(time.RFC3339),
	}
}

func toSignalView(rec account.SignalRecord) signalView {
	return signalView{
		ID:          rec.ID,
		StockCode:   rec.InstrumentCode,
		Strategy:    string(rec.StrategyKind),
		SignalType:  string(rec.Kind),
		Price:       rec.Price.String(),
		Strength:    rec.Strength.String(),
		Reason:      rec.Reason,
		GeneratedAt: rec.GeneratedAt.Format(time.RFC3339),
		Executed:    rec.Executed,
	}
}
