package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioModel 每个用户一行，现金用 decimal 存文本避免浮点漂移。
type PortfolioModel struct {
	ID        uint            `gorm:"primaryKey"`
	User      string          `gorm:"uniqueIndex;size:64"`
	Cash      decimal.Decimal `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (PortfolioModel) TableName() string { return "portfolios" }

// PositionModel 是某用户在某 symbol 上的持仓。
// 加仓按成交量加权摊平均价，BuyDate 保留首次建仓时间。
type PositionModel struct {
	ID          uint            `gorm:"primaryKey"`
	PortfolioID uint            `gorm:"index:idx_portfolio_symbol,unique"`
	Symbol      string          `gorm:"index:idx_portfolio_symbol,unique;size:32"`
	Shares      int64           `gorm:"not null"`
	AvgPrice    decimal.Decimal `gorm:"type:text"`
	BuyDate     time.Time
	UpdatedAt   time.Time
}

func (PositionModel) TableName() string { return "positions" }

// TransactionModel 是追加式流水。
type TransactionModel struct {
	ID            uint   `gorm:"primaryKey"`
	PortfolioID   uint   `gorm:"index"`
	Type          string `gorm:"size:8;index"`
	Symbol        string `gorm:"size:32;index"`
	Shares        int64
	Price         decimal.Decimal `gorm:"type:text"`
	Total         decimal.Decimal `gorm:"type:text"`
	ProfitLoss    decimal.Decimal `gorm:"type:text"`
	ProfitLossPct decimal.Decimal `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"index"`
}

func (TransactionModel) TableName() string { return "transactions" }
