package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"quant-sim/internal/ledger"
	"quant-sim/internal/store"
	"quant-sim/internal/strategy"
)

var (
	// ErrAccountNotFound 表示用户尚未开通交易账户。
	ErrAccountNotFound = errors.New("account: 交易账户不存在")
	// ErrAccountExists 表示用户已有交易账户。
	ErrAccountExists = errors.New("account: 用户已存在交易账户")
	// ErrSignalNotFound 表示信号记录不存在。
	ErrSignalNotFound = errors.New("account: 信号不存在")
)

// SignalRecord 为带持久化ID的信号记录。
type SignalRecord struct {
	ID int64
	strategy.Signal
}

// Repository 负责账户、持仓、成交与信号的 SQLite 持久化。
// 金额字段以文本形式存储十进制值，避免浮点精度损失。
type Repository struct {
	db *sql.DB
}

// NewRepository 创建仓储并初始化表结构。
func NewRepository(st *store.Store) (*Repository, error) {
	if st == nil {
		return nil, errors.New("account: store 不能为空")
	}
	if err := st.Migrate(schema); err != nil {
		return nil, fmt.Errorf("account: 初始化表结构失败: %w", err)
	}
	return &Repository{db: st.DB()}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	account_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL UNIQUE,
	balance TEXT NOT NULL,
	total_assets TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS positions (
	account_id TEXT NOT NULL,
	instrument_code TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	avg_cost TEXT NOT NULL,
	current_price TEXT NOT NULL,
	market_value TEXT NOT NULL,
	profit_loss TEXT NOT NULL,
	profit_loss_pct TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	PRIMARY KEY (account_id, instrument_code)
);
CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	instrument_code TEXT NOT NULL,
	kind TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	price TEXT NOT NULL,
	amount TEXT NOT NULL,
	commission TEXT NOT NULL,
	status TEXT NOT NULL,
	executed_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_account_time ON trades(account_id, executed_at DESC);
CREATE TABLE IF NOT EXISTS signals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	instrument_code TEXT NOT NULL,
	strategy_kind TEXT NOT NULL,
	kind TEXT NOT NULL,
	price TEXT NOT NULL,
	strength TEXT NOT NULL,
	reason TEXT NOT NULL,
	generated_at TEXT NOT NULL,
	executed INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_signals_instrument ON signals(instrument_code, generated_at DESC);
`

// CreateAccount 插入新账户，同一用户重复开户返回 ErrAccountExists。
func (r *Repository) CreateAccount(ctx context.Context, acct ledger.Account) error {
	var exists int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM accounts WHERE user_id = ?`, acct.UserID,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("account: 查询账户失败: %w", err)
	}
	if exists > 0 {
		return ErrAccountExists
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO accounts (account_id, user_id, balance, total_assets, created_at) VALUES (?, ?, ?, ?, ?)`,
		acct.AccountID, acct.UserID, acct.Balance.String(), acct.TotalAssets.String(), acct.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("account: 创建账户失败: %w", err)
	}
	return nil
}

// GetByUser 按用户查询账户。
func (r *Repository) GetByUser(ctx context.Context, userID string) (ledger.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT account_id, user_id, balance, total_assets, created_at FROM accounts WHERE user_id = ?`, userID,
	)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (ledger.Account, error) {
	var (
		acct                          ledger.Account
		balance, totalAssets, created string
	)
	if err := row.Scan(&acct.AccountID, &acct.UserID, &balance, &totalAssets, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ledger.Account{}, ErrAccountNotFound
		}
		return ledger.Account{}, fmt.Errorf("account: 读取账户失败: %w", err)
	}

	var err error
	if acct.Balance, err = decimal.NewFromString(balance); err != nil {
		return ledger.Account{}, fmt.Errorf("account: 余额数据损坏: %w", err)
	}
	if acct.TotalAssets, err = decimal.NewFromString(totalAssets); err != nil {
		return ledger.Account{}, fmt.Errorf("account: 总资产数据损坏: %w", err)
	}
	if acct.CreatedAt, err = time.Parse(time.RFC3339, created); err != nil {
		return ledger.Account{}, fmt.Errorf("account: 账户时间数据损坏: %w", err)
	}
	return acct, nil
}

// ListPositions 返回账户全部持仓。
func (r *Repository) ListPositions(ctx context.Context, accountID string) ([]ledger.Position, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT account_id, instrument_code, quantity, avg_cost, current_price, market_value, profit_loss, profit_loss_pct, updated_at
		 FROM positions WHERE account_id = ? ORDER BY instrument_code`, accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("account: 查询持仓失败: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var positions []ledger.Position
	for rows.Next() {
		var (
			pos                                          ledger.Position
			avgCost, current, market, pl, plPct, updated string
		)
		if err := rows.Scan(&pos.AccountID, &pos.InstrumentCode, &pos.Quantity,
			&avgCost, &current, &market, &pl, &plPct, &updated); err != nil {
			return nil, fmt.Errorf("account: 读取持仓失败: %w", err)
		}
		if pos.AvgCost, err = decimal.NewFromString(avgCost); err != nil {
			return nil, fmt.Errorf("account: 持仓成本数据损坏: %w", err)
		}
		if pos.CurrentPrice, err = decimal.NewFromString(current); err != nil {
			return nil, fmt.Errorf("account: 持仓价格数据损坏: %w", err)
		}
		if pos.MarketValue, err = decimal.NewFromString(market); err != nil {
			return nil, fmt.Errorf("account: 持仓市值数据损坏: %w", err)
		}
		if pos.ProfitLoss, err = decimal.NewFromString(pl); err != nil {
			return nil, fmt.Errorf("account: 持仓盈亏数据损坏: %w", err)
		}
		if pos.ProfitLossPct, err = decimal.NewFromString(plPct); err != nil {
			return nil, fmt.Errorf("account: 持仓盈亏率数据损坏: %w", err)
		}
		if pos.UpdatedAt, err = time.Parse(time.RFC3339, updated); err != nil {
			return nil, fmt.Errorf("account: 持仓时间数据损坏: %w", err)
		}
		positions = append(positions, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("account: 遍历持仓失败: %w", err)
	}
	return positions, nil
}

// ApplyTrade 在单个事务内落库一笔成交：更新账户余额、增改或删除
// 受影响标的的持仓、插入成交记录。任何一步失败则整体回滚。
func (r *Repository) ApplyTrade(ctx context.Context, acct ledger.Account, positions []ledger.Position, trade ledger.Trade) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("account: 开启事务失败: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = ?, total_assets = ? WHERE account_id = ?`,
		acct.Balance.String(), acct.TotalAssets.String(), acct.AccountID,
	); err != nil {
		return fmt.Errorf("account: 更新账户余额失败: %w", err)
	}

	if idx := positionIndex(positions, trade.InstrumentCode); idx >= 0 {
		if err := upsertPosition(ctx, tx, positions[idx]); err != nil {
			return err
		}
	} else {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM positions WHERE account_id = ? AND instrument_code = ?`,
			acct.AccountID, trade.InstrumentCode,
		); err != nil {
			return fmt.Errorf("account: 删除持仓失败: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO trades (trade_id, account_id, instrument_code, kind, quantity, price, amount, commission, status, executed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.TradeID, trade.AccountID, trade.InstrumentCode, string(trade.Kind), trade.Quantity,
		trade.Price.String(), trade.Amount.String(), trade.Commission.String(), string(trade.Status),
		trade.ExecutedAt.Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("account: 写入成交记录失败: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("account: 提交事务失败: %w", err)
	}
	return nil
}

// SaveSnapshot 持久化读取时刷新后的账户与持仓数据。
func (r *Repository) SaveSnapshot(ctx context.Context, acct ledger.Account, positions []ledger.Position) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("account: 开启事务失败: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx,
		`UPDATE accounts SET balance = ?, total_assets = ? WHERE account_id = ?`,
		acct.Balance.String(), acct.TotalAssets.String(), acct.AccountID,
	); err != nil {
		return fmt.Errorf("account: 更新账户失败: %w", err)
	}

	for _, pos := range positions {
		if err := upsertPosition(ctx, tx, pos); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("account: 提交事务失败: %w", err)
	}
	return nil
}

func upsertPosition(ctx context.Context, tx *sql.Tx, pos ledger.Position) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO positions (account_id, instrument_code, quantity, avg_cost, current_price, market_value, profit_loss, profit_loss_pct, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(account_id, instrument_code) DO UPDATE SET
			quantity = excluded.quantity,
			avg_cost = excluded.avg_cost,
			current_price = excluded.current_price,
			market_value = excluded.market_value,
			profit_loss = excluded.profit_loss,
			profit_loss_pct = excluded.profit_loss_pct,
			updated_at = excluded.updated_at`,
		pos.AccountID, pos.InstrumentCode, pos.Quantity,
		pos.AvgCost.String(), pos.CurrentPrice.String(), pos.MarketValue.String(),
		pos.ProfitLoss.String(), pos.ProfitLossPct.String(),
		pos.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("account: 写入持仓失败: %w", err)
	}
	return nil
}

// ListTrades 按时间倒序返回账户成交记录。
func (r *Repository) ListTrades(ctx context.Context, accountID string, limit int) ([]ledger.Trade, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT trade_id, account_id, instrument_code, kind, quantity, price, amount, commission, status, executed_at
		 FROM trades WHERE account_id = ? ORDER BY executed_at DESC LIMIT ?`, accountID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("account: 查询成交记录失败: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var trades []ledger.Trade
	for rows.Next() {
		var (
			trade                           ledger.Trade
			kind, price, amount, commission string
			status, executedAt              string
		)
		if err := rows.Scan(&trade.TradeID, &trade.AccountID, &trade.InstrumentCode, &kind, &trade.Quantity,
			&price, &amount, &commission, &status, &executedAt); err != nil {
			return nil, fmt.Errorf("account: 读取成交记录失败: %w", err)
		}
		trade.Kind = ledger.TradeKind(kind)
		trade.Status = ledger.TradeStatus(status)
		if trade.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("account: 成交价格数据损坏: %w", err)
		}
		if trade.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("account: 成交金额数据损坏: %w", err)
		}
		if trade.Commission, err = decimal.NewFromString(commission); err != nil {
			return nil, fmt.Errorf("account: 手续费数据损坏: %w", err)
		}
		if trade.ExecutedAt, err = time.Parse(time.RFC3339, executedAt); err != nil {
			return nil, fmt.Errorf("account: 成交时间数据损坏: %w", err)
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("account: 遍历成交记录失败: %w", err)
	}
	return trades, nil
}

// SaveSignal 持久化信号并返回其ID。
func (r *Repository) SaveSignal(ctx context.Context, sig strategy.Signal) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO signals (instrument_code, strategy_kind, kind, price, strength, reason, generated_at, executed)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sig.InstrumentCode, string(sig.StrategyKind), string(sig.Kind),
		sig.Price.String(), sig.Strength.String(), sig.Reason,
		sig.GeneratedAt.Format(time.RFC3339), boolToInt(sig.Executed),
	)
	if err != nil {
		return 0, fmt.Errorf("account: 写入信号失败: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("account: 获取信号ID失败: %w", err)
	}
	return id, nil
}

// ListSignals 按时间倒序返回信号，instrumentCode 为空时不过滤。
func (r *Repository) ListSignals(ctx context.Context, instrumentCode string, limit int) ([]SignalRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, instrument_code, strategy_kind, kind, price, strength, reason, generated_at, executed
		 FROM signals`
	args := make([]interface{}, 0, 2)
	if instrumentCode != "" {
		query += ` WHERE instrument_code = ?`
		args = append(args, instrumentCode)
	}
	query += ` ORDER BY generated_at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("account: 查询信号失败: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var records []SignalRecord
	for rows.Next() {
		var (
			rec                          SignalRecord
			strategyKind, kind           string
			price, strength, generatedAt string
			executed                     int
		)
		if err := rows.Scan(&rec.ID, &rec.InstrumentCode, &strategyKind, &kind,
			&price, &strength, &rec.Reason, &generatedAt, &executed); err != nil {
			return nil, fmt.Errorf("account: 读取信号失败: %w", err)
		}
		rec.StrategyKind = strategy.Kind(strategyKind)
		rec.Kind = strategy.SignalKind(kind)
		if rec.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("account: 信号价格数据损坏: %w", err)
		}
		if rec.Strength, err = decimal.NewFromString(strength); err != nil {
			return nil, fmt.Errorf("account: 信号强度数据损坏: %w", err)
		}
		if rec.GeneratedAt, err = time.Parse(time.RFC3339, generatedAt); err != nil {
			return nil, fmt.Errorf("account: 信号时间数据损坏: %w", err)
		}
		rec.Executed = executed != 0
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("account: 遍历信号失败: %w", err)
	}
	return records, nil
}

// MarkSignalExecuted 将信号标记为已执行。
func (r *Repository) MarkSignalExecuted(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `UPDATE signals SET executed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("account: 更新信号失败: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("account: 获取更新行数失败: %w", err)
	}
	if affected == 0 {
		return ErrSignalNotFound
	}
	return nil
}

func positionIndex(positions []ledger.Position, instrumentCode string) int {
	for i := range positions {
		if positions[i].InstrumentCode == instrumentCode {
			return i
		}
	}
	return -1
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
