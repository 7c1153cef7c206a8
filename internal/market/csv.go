package market

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"tradeloop/internal/logger"
)

// defaultVolume 在数据集缺少成交量列时补位。
const defaultVolume = 1_000_000

// CSVSource 从本地数据集目录按 symbol 读取日线，文件名为 <SYMBOL>.csv。
// 列布局兼容两种: ticker,date,open,high,low,close[,volume] 或
// date,open,high,low,close[,volume]，首行表头可有可无。
type CSVSource struct {
	dir string
}

func NewCSVSource(dir string) *CSVSource {
	return &CSVSource{dir: dir}
}

// GetBars 实现 Source。
func (c *CSVSource) GetBars(ctx context.Context, symbol string, from, to time.Time) ([]Bar, error) {
	bars, err := c.load(symbol)
	if err != nil {
		return nil, err
	}
	out := bars[:0]
	for _, b := range bars {
		if !from.IsZero() && b.Date.Before(from) {
			continue
		}
		if !to.IsZero() && b.Date.After(to) {
			continue
		}
		out = append(out, b)
	}
	if len(out) == 0 {
		return nil, ErrNoData
	}
	return out, nil
}

// LatestClose 实现 Source。
func (c *CSVSource) LatestClose(ctx context.Context, symbol string) (float64, error) {
	return LatestCloseOf(ctx, c, symbol)
}

func (c *CSVSource) load(symbol string) ([]Bar, error) {
	symbol = normalizeSymbol(symbol)
	path := filepath.Join(c.dir, symbol+".csv")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoData
		}
		return nil, err
	}
	defer f.Close()
	bars, err := ReadBarsCSV(f, symbol)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(bars) == 0 {
		return nil, ErrNoData
	}
	return bars, nil
}

// ReadBarsCSV 解析一份日线 CSV。坏行记日志后跳过，不中断整份文件。
func ReadBarsCSV(r io.Reader, symbol string) ([]Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var bars []Bar
	line := 0
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(record) == 0 {
			continue
		}
		// 自动识别带 ticker 前缀的布局
		fields := record
		if len(fields) >= 6 {
			if _, perr := ParseDate(strings.TrimSpace(fields[0])); perr != nil {
				if _, perr2 := ParseDate(strings.TrimSpace(fields[1])); perr2 == nil {
					fields = fields[1:]
				}
			}
		}
		if len(fields) < 5 {
			logger.Warnf("csv %s: line %d has %d fields, skipped", symbol, line, len(fields))
			continue
		}
		date, err := ParseDate(strings.TrimSpace(fields[0]))
		if err != nil {
			if line == 1 {
				// 表头行
				continue
			}
			logger.Warnf("csv %s: line %d bad date %q, skipped", symbol, line, fields[0])
			continue
		}
		vals := make([]float64, 4)
		ok := true
		for i := 0; i < 4; i++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(fields[i+1]), 64)
			if err != nil {
				logger.Warnf("csv %s: line %d bad number %q, skipped", symbol, line, fields[i+1])
				ok = false
				break
			}
			vals[i] = v
		}
		if !ok {
			continue
		}
		volume := float64(defaultVolume)
		if len(fields) >= 6 {
			if v, err := strconv.ParseFloat(strings.TrimSpace(fields[5]), 64); err == nil && v > 0 {
				volume = v
			}
		}
		bars = append(bars, Bar{
			Date:   date,
			Open:   vals[0],
			High:   vals[1],
			Low:    vals[2],
			Close:  vals[3],
			Volume: volume,
		})
	}
	return SortBars(bars), nil
}
