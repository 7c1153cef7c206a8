package market

import (
	"errors"
	"time"
)

// DateLayout 是日线日期的规范存储格式。
const DateLayout = "2006-01-02"

// ErrNoData 表示请求的 symbol 在数据源中没有任何行情。
var ErrNoData = errors.New("no bar data")

// Bar 是单个 symbol 单个交易日的 OHLCV 记录，入库后不可变。
type Bar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// DateKey 返回按日对齐的规范日期串。
func (b Bar) DateKey() string {
	return b.Date.UTC().Format(DateLayout)
}

// ParseDate 解析规范日期串（UTC 零点）。
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

// SortBars 就地按日期升序排序并去除同日重复（保留后者）。
func SortBars(bars []Bar) []Bar {
	if len(bars) < 2 {
		return bars
	}
	sorted := make([]Bar, len(bars))
	copy(sorted, bars)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Date.Before(sorted[j-1].Date); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	out := sorted[:0]
	for _, b := range sorted {
		if len(out) > 0 && out[len(out)-1].DateKey() == b.DateKey() {
			out[len(out)-1] = b
			continue
		}
		out = append(out, b)
	}
	return out
}
