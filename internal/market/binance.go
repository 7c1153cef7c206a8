package market

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2"
)

const binanceMaxKlines = 1000

// BinanceSource 基于 go-binance SDK 拉取日线，只读公共行情，不需要密钥。
type BinanceSource struct {
	client *binance.Client
}

func NewBinanceSource() *BinanceSource {
	return &BinanceSource{client: binance.NewClient("", "")}
}

// GetBars 实现 Source。Binance 的 symbol 不含斜杠（如 BTCUSDT）。
func (b *BinanceSource) GetBars(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error) {
	cleanSymbol := strings.ReplaceAll(normalizeSymbol(symbol), "/", "")
	svc := b.client.NewKlinesService().
		Symbol(cleanSymbol).
		Interval("1d").
		Limit(binanceMaxKlines)
	if !from.IsZero() {
		svc = svc.StartTime(from.UTC().UnixMilli())
	}
	if !to.IsZero() {
		// EndTime 为闭区间，推到当日收盘
		svc = svc.EndTime(to.UTC().Add(24*time.Hour - time.Millisecond).UnixMilli())
	}
	kls, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	bars := make([]Bar, 0, len(kls))
	now := time.Now().UTC()
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		// 丢弃未收盘的当日 K 线
		if time.UnixMilli(kl.CloseTime).UTC().After(now) {
			continue
		}
		bars = append(bars, Bar{
			Date:   time.UnixMilli(kl.OpenTime).UTC().Truncate(24 * time.Hour),
			Open:   parseKlineFloat(kl.Open),
			High:   parseKlineFloat(kl.High),
			Low:    parseKlineFloat(kl.Low),
			Close:  parseKlineFloat(kl.Close),
			Volume: parseKlineFloat(kl.Volume),
		})
	}
	if len(bars) == 0 {
		return nil, ErrNoData
	}
	return SortBars(bars), nil
}

// LatestClose 实现 Source。
func (b *BinanceSource) LatestClose(ctx context.Context, symbol string) (float64, error) {
	return LatestCloseOf(ctx, b, symbol)
}

func parseKlineFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}
