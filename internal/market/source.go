package market

import (
	"context"
	"time"
)

// Source 是行情数据的读取口。核心管线只依赖这个窄接口，
// 具体实现可以是 sqlite 存储、CSV 数据集、HTTP API 或 Binance。
type Source interface {
	// GetBars 返回 [from, to] 区间内按日期升序的日线。from/to 为零值时表示不设边界。
	GetBars(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error)
	// LatestClose 返回最近一根日线的收盘价。
	LatestClose(ctx context.Context, symbol string) (float64, error)
}

// OutcomeAdapter 给只有区间查询的源补上 CloseAtOrAfter，
// 向后最多看两周，覆盖周末与长假停牌。
type OutcomeAdapter struct {
	Src Source
}

func (a OutcomeAdapter) CloseAtOrAfter(ctx context.Context, symbol string, date time.Time) (float64, time.Time, error) {
	day := date.UTC().Truncate(24 * time.Hour)
	bars, err := a.Src.GetBars(ctx, symbol, day, day.AddDate(0, 0, 14))
	if err != nil {
		return 0, time.Time{}, err
	}
	if len(bars) == 0 {
		return 0, time.Time{}, ErrNoData
	}
	return bars[0].Close, bars[0].Date, nil
}

// LatestCloseOf 用 GetBars 兜底实现 LatestClose，供只有区间查询的源复用。
func LatestCloseOf(ctx context.Context, src Source, symbol string) (float64, error) {
	bars, err := src.GetBars(ctx, symbol, time.Time{}, time.Time{})
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, ErrNoData
	}
	return bars[len(bars)-1].Close, nil
}
