// Package ledger 维护模拟账本: 现金、持仓与交易流水。
package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"tradeloop/internal/logger"
)

var (
	// ErrInsufficientFunds 现金不足以买入。
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrNoPosition 没有可卖的持仓。
	ErrNoPosition = errors.New("no position to sell")
	// ErrInsufficientShares 持仓股数少于卖出量。
	ErrInsufficientShares = errors.New("insufficient shares")
	// ErrBadOrder 下单参数非法。
	ErrBadOrder = errors.New("bad order parameters")
)

// TradeResult 是一次成交的结果。
type TradeResult struct {
	Symbol        string  `json:"symbol"`
	Action        string  `json:"action"`
	Shares        int64   `json:"shares"`
	Price         float64 `json:"price"`
	Total         float64 `json:"total"`
	ProfitLoss    float64 `json:"profit_loss,omitempty"`
	ProfitLossPct float64 `json:"profit_loss_pct,omitempty"`
	RemainingCash float64 `json:"remaining_cash"`
	AvgEntryPrice float64 `json:"avg_entry_price,omitempty"`
}

// Position 是对外暴露的持仓视图。
type Position struct {
	Symbol   string    `json:"symbol"`
	Shares   int64     `json:"shares"`
	AvgPrice float64   `json:"avg_price"`
	BuyDate  time.Time `json:"buy_date"`
}

// Summary 是组合快照。
type Summary struct {
	User           string     `json:"user"`
	Cash           float64    `json:"cash"`
	PositionsValue float64    `json:"positions_value"`
	TotalValue     float64    `json:"total_value"`
	InvestedValue  float64    `json:"invested_value"`
	TotalReturn    float64    `json:"total_return"`
	TotalReturnPct float64    `json:"total_return_pct"`
	Positions      []Position `json:"positions"`
}

// Transaction 是对外暴露的流水视图。
type Transaction struct {
	Type          string    `json:"type"`
	Symbol        string    `json:"symbol"`
	Shares        int64     `json:"shares"`
	Price         float64   `json:"price"`
	Total         float64   `json:"total"`
	ProfitLoss    float64   `json:"profit_loss"`
	ProfitLossPct float64   `json:"profit_loss_pct"`
	Timestamp     time.Time `json:"timestamp"`
}

// TradeStats 从 SELL 流水聚合出的胜负统计。
type TradeStats struct {
	TotalTrades     int     `json:"total_trades"`
	WinningTrades   int     `json:"winning_trades"`
	LosingTrades    int     `json:"losing_trades"`
	WinRate         float64 `json:"win_rate"`
	TotalProfitLoss float64 `json:"total_profit_loss"`
}

// Ledger 是账本服务，底层单个 sqlite 文件。
type Ledger struct {
	db           *gorm.DB
	startingCash decimal.Decimal
}

func New(path string, startingCash float64) (*Ledger, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("ledger db path 不能为空")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&PortfolioModel{}, &PositionModel{}, &TransactionModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Ledger{db: db, startingCash: decimal.NewFromFloat(startingCash)}, nil
}

func (l *Ledger) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// EnsurePortfolio 保证用户账本存在，不存在则以初始现金开户。
func (l *Ledger) EnsurePortfolio(user string) (*PortfolioModel, error) {
	var p PortfolioModel
	err := l.db.Where("user = ?", user).First(&p).Error
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	p = PortfolioModel{User: user, Cash: l.startingCash}
	if err := l.db.Create(&p).Error; err != nil {
		return nil, err
	}
	logger.Infof("[ledger] opened portfolio for %q with cash %s", user, l.startingCash.StringFixed(2))
	return &p, nil
}

// Cash 返回用户当前现金。
func (l *Ledger) Cash(user string) (float64, error) {
	p, err := l.EnsurePortfolio(user)
	if err != nil {
		return 0, err
	}
	return p.Cash.InexactFloat64(), nil
}

// Buy 买入并记流水。已有持仓按成交量加权摊平均价，保留原始建仓日期。
func (l *Ledger) Buy(user, symbol string, shares int64, price float64) (*TradeResult, error) {
	if shares < 1 || price <= 0 {
		return nil, ErrBadOrder
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	priceDec := decimal.NewFromFloat(price)
	cost := priceDec.Mul(decimal.NewFromInt(shares))

	var result *TradeResult
	err := l.db.Transaction(func(tx *gorm.DB) error {
		p, err := l.lockPortfolio(tx, user)
		if err != nil {
			return err
		}
		if p.Cash.LessThan(cost) {
			return fmt.Errorf("%w: need %s, have %s", ErrInsufficientFunds, cost.StringFixed(2), p.Cash.StringFixed(2))
		}
		p.Cash = p.Cash.Sub(cost)
		if err := tx.Save(p).Error; err != nil {
			return err
		}

		var pos PositionModel
		err = tx.Where("portfolio_id = ? AND symbol = ?", p.ID, symbol).First(&pos).Error
		switch {
		case err == nil:
			totalShares := pos.Shares + shares
			totalCost := pos.AvgPrice.Mul(decimal.NewFromInt(pos.Shares)).Add(cost)
			pos.AvgPrice = totalCost.Div(decimal.NewFromInt(totalShares))
			pos.Shares = totalShares
			// BuyDate 不变
			if err := tx.Save(&pos).Error; err != nil {
				return err
			}
		case errors.Is(err, gorm.ErrRecordNotFound):
			pos = PositionModel{
				PortfolioID: p.ID,
				Symbol:      symbol,
				Shares:      shares,
				AvgPrice:    priceDec,
				BuyDate:     time.Now().UTC(),
			}
			if err := tx.Create(&pos).Error; err != nil {
				return err
			}
		default:
			return err
		}

		if err := tx.Create(&TransactionModel{
			PortfolioID: p.ID,
			Type:        "BUY",
			Symbol:      symbol,
			Shares:      shares,
			Price:       priceDec,
			Total:       cost,
		}).Error; err != nil {
			return err
		}

		result = &TradeResult{
			Symbol:        symbol,
			Action:        "BUY",
			Shares:        shares,
			Price:         price,
			Total:         cost.InexactFloat64(),
			RemainingCash: p.Cash.InexactFloat64(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("[ledger] %s bought %d %s @ %.2f (total %.2f)", user, shares, symbol, price, result.Total)
	return result, nil
}

// Sell 卖出并记含盈亏的流水。卖光时删除持仓行。
func (l *Ledger) Sell(user, symbol string, shares int64, price float64) (*TradeResult, error) {
	if shares < 1 || price <= 0 {
		return nil, ErrBadOrder
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	priceDec := decimal.NewFromFloat(price)

	var result *TradeResult
	err := l.db.Transaction(func(tx *gorm.DB) error {
		p, err := l.lockPortfolio(tx, user)
		if err != nil {
			return err
		}
		var pos PositionModel
		err = tx.Where("portfolio_id = ? AND symbol = ?", p.ID, symbol).First(&pos).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrNoPosition, symbol)
		}
		if err != nil {
			return err
		}
		if pos.Shares < shares {
			return fmt.Errorf("%w: have %d, selling %d", ErrInsufficientShares, pos.Shares, shares)
		}

		revenue := priceDec.Mul(decimal.NewFromInt(shares))
		costBasis := pos.AvgPrice.Mul(decimal.NewFromInt(shares))
		profitLoss := revenue.Sub(costBasis)
		profitLossPct := decimal.Zero
		if costBasis.IsPositive() {
			profitLossPct = profitLoss.Div(costBasis).Mul(decimal.NewFromInt(100))
		}

		p.Cash = p.Cash.Add(revenue)
		if err := tx.Save(p).Error; err != nil {
			return err
		}
		if pos.Shares == shares {
			if err := tx.Delete(&pos).Error; err != nil {
				return err
			}
		} else {
			pos.Shares -= shares
			if err := tx.Save(&pos).Error; err != nil {
				return err
			}
		}

		if err := tx.Create(&TransactionModel{
			PortfolioID:   p.ID,
			Type:          "SELL",
			Symbol:        symbol,
			Shares:        shares,
			Price:         priceDec,
			Total:         revenue,
			ProfitLoss:    profitLoss,
			ProfitLossPct: profitLossPct,
		}).Error; err != nil {
			return err
		}

		result = &TradeResult{
			Symbol:        symbol,
			Action:        "SELL",
			Shares:        shares,
			Price:         price,
			Total:         revenue.InexactFloat64(),
			ProfitLoss:    profitLoss.InexactFloat64(),
			ProfitLossPct: profitLossPct.InexactFloat64(),
			RemainingCash: p.Cash.InexactFloat64(),
			AvgEntryPrice: pos.AvgPrice.InexactFloat64(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logger.Infof("[ledger] %s sold %d %s @ %.2f (P/L %+.2f)", user, shares, symbol, price, result.ProfitLoss)
	return result, nil
}

// Position 返回用户在某 symbol 的持仓，没有时返回 ErrNoPosition。
func (l *Ledger) Position(user, symbol string) (*Position, error) {
	p, err := l.EnsurePortfolio(user)
	if err != nil {
		return nil, err
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	var pos PositionModel
	err = l.db.Where("portfolio_id = ? AND symbol = ?", p.ID, symbol).First(&pos).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoPosition, symbol)
	}
	if err != nil {
		return nil, err
	}
	return &Position{
		Symbol:   pos.Symbol,
		Shares:   pos.Shares,
		AvgPrice: pos.AvgPrice.InexactFloat64(),
		BuyDate:  pos.BuyDate,
	}, nil
}

// Summary 用给定现价估值组合，缺价的 symbol 回落到成本价。
func (l *Ledger) Summary(user string, prices map[string]float64) (*Summary, error) {
	p, err := l.EnsurePortfolio(user)
	if err != nil {
		return nil, err
	}
	var models []PositionModel
	if err := l.db.Where("portfolio_id = ?", p.ID).Order("symbol").Find(&models).Error; err != nil {
		return nil, err
	}

	s := &Summary{
		User: user,
		Cash: p.Cash.InexactFloat64(),
	}
	for _, pos := range models {
		avg := pos.AvgPrice.InexactFloat64()
		current, ok := prices[pos.Symbol]
		if !ok || current <= 0 {
			current = avg
		}
		invested := avg * float64(pos.Shares)
		value := current * float64(pos.Shares)
		s.InvestedValue += invested
		s.PositionsValue += value
		s.Positions = append(s.Positions, Position{
			Symbol:   pos.Symbol,
			Shares:   pos.Shares,
			AvgPrice: avg,
			BuyDate:  pos.BuyDate,
		})
	}
	s.TotalValue = s.Cash + s.PositionsValue
	s.TotalReturn = s.PositionsValue - s.InvestedValue
	if s.InvestedValue > 0 {
		s.TotalReturnPct = s.TotalReturn / s.InvestedValue * 100
	}
	return s, nil
}

// Transactions 按时间倒序返回流水。
func (l *Ledger) Transactions(user string, limit int) ([]Transaction, error) {
	p, err := l.EnsurePortfolio(user)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}
	var models []TransactionModel
	if err := l.db.Where("portfolio_id = ?", p.ID).
		Order("id DESC").Limit(limit).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]Transaction, 0, len(models))
	for _, m := range models {
		out = append(out, Transaction{
			Type:          m.Type,
			Symbol:        m.Symbol,
			Shares:        m.Shares,
			Price:         m.Price.InexactFloat64(),
			Total:         m.Total.InexactFloat64(),
			ProfitLoss:    m.ProfitLoss.InexactFloat64(),
			ProfitLossPct: m.ProfitLossPct.InexactFloat64(),
			Timestamp:     m.CreatedAt,
		})
	}
	return out, nil
}

// TradeStats 聚合 SELL 流水的胜负与累计盈亏。
func (l *Ledger) TradeStats(user string) (*TradeStats, error) {
	txs, err := l.Transactions(user, 1000)
	if err != nil {
		return nil, err
	}
	stats := &TradeStats{}
	for _, t := range txs {
		stats.TotalTrades++
		if t.Type != "SELL" {
			continue
		}
		if t.ProfitLoss > 0 {
			stats.WinningTrades++
		} else if t.ProfitLoss < 0 {
			stats.LosingTrades++
		}
		stats.TotalProfitLoss += t.ProfitLoss
	}
	if stats.TotalTrades > 0 {
		stats.WinRate = float64(stats.WinningTrades) / float64(stats.TotalTrades) * 100
	}
	return stats, nil
}

func (l *Ledger) lockPortfolio(tx *gorm.DB, user string) (*PortfolioModel, error) {
	var p PortfolioModel
	err := tx.Where("user = ?", user).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		p = PortfolioModel{User: user, Cash: l.startingCash}
		if err := tx.Create(&p).Error; err != nil {
			return nil, err
		}
		return &p, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
