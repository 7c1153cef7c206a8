// Package report 把轮次汇总渲染成 HTML 报表。
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"tradeloop/internal/config"
	"tradeloop/internal/coordinator"
	"tradeloop/internal/logger"
)

const (
	chartWidth  = "1200px"
	chartHeight = "420px"
)

// Writer 按配置把每轮汇总落成报表文件。
type Writer struct {
	cfg config.ReportConfig
}

func NewWriter(cfg config.ReportConfig) *Writer {
	return &Writer{cfg: cfg}
}

// CycleFinished 实现 coordinator.Reporter。渲染失败只记日志，不影响管线。
func (w *Writer) CycleFinished(summary coordinator.CycleSummary) {
	if !w.cfg.Enabled {
		return
	}
	path, err := w.WriteCycleReport(summary)
	if err != nil {
		logger.Warnf("[report] cycle report failed: %v", err)
		return
	}
	logger.Infof("[report] cycle report written to %s", path)
}

// WriteCycleReport 渲染单轮报表，返回文件路径。
func (w *Writer) WriteCycleReport(summary coordinator.CycleSummary) (string, error) {
	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return "", err
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(
		actionDistribution(summary),
		predictedChanges(summary),
	)

	name := fmt.Sprintf("cycle_%s_%s.html",
		summary.StartedAt.Format("20060102_150405"), shortID(summary.ID))
	path := filepath.Join(w.cfg.Dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return "", err
	}
	return path, nil
}

// WriteSessionsReport 渲染多轮走势，返回文件路径。
func (w *Writer) WriteSessionsReport(sessions []coordinator.CycleSummary) (string, error) {
	if len(sessions) == 0 {
		return "", fmt.Errorf("no sessions to report")
	}
	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return "", err
	}
	page := components.NewPage()
	page.SetLayout(components.PageFlexLayout)
	page.AddCharts(sessionTrend(sessions))

	path := filepath.Join(w.cfg.Dir, fmt.Sprintf("sessions_%s.html", time.Now().Format("20060102_150405")))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return "", err
	}
	return path, nil
}

func actionDistribution(summary coordinator.CycleSummary) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:  types.ThemeWesteros,
			Width:  chartWidth,
			Height: chartHeight,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Cycle %s", shortID(summary.ID)),
			Subtitle: fmt.Sprintf("%s | %s | %d symbol(s)", summary.StartedAt.Format(time.RFC3339), summary.Status, summary.Symbols),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis([]string{"BUY", "SELL", "HOLD", "FAILED"})
	bar.AddSeries("decisions", []opts.BarData{
		{Value: summary.Buys},
		{Value: summary.Sells},
		{Value: summary.Holds},
		{Value: summary.Failed},
	})
	return bar
}

func predictedChanges(summary coordinator.CycleSummary) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:  types.ThemeWesteros,
			Width:  chartWidth,
			Height: chartHeight,
		}),
		charts.WithTitleOpts(opts.Title{Title: "Predicted change (%)"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	var labels []string
	var values []opts.BarData
	for _, r := range summary.Results {
		if r.Prediction == nil {
			continue
		}
		labels = append(labels, r.Symbol)
		values = append(values, opts.BarData{Value: r.Prediction.PredictedChangePct})
	}
	bar.SetXAxis(labels)
	bar.AddSeries("predicted_change", values)
	return bar
}

func sessionTrend(sessions []coordinator.CycleSummary) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:  types.ThemeWesteros,
			Width:  chartWidth,
			Height: chartHeight,
		}),
		charts.WithTitleOpts(opts.Title{Title: "Cycle history"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	x := make([]string, len(sessions))
	buys := make([]opts.LineData, len(sessions))
	sells := make([]opts.LineData, len(sessions))
	holds := make([]opts.LineData, len(sessions))
	failed := make([]opts.LineData, len(sessions))
	for i, s := range sessions {
		x[i] = s.StartedAt.Format("01-02 15:04")
		buys[i] = opts.LineData{Value: s.Buys}
		sells[i] = opts.LineData{Value: s.Sells}
		holds[i] = opts.LineData{Value: s.Holds}
		failed[i] = opts.LineData{Value: s.Failed}
	}
	line.SetXAxis(x)
	line.AddSeries("buys", buys)
	line.AddSeries("sells", sells)
	line.AddSeries("holds", holds)
	line.AddSeries("failed", failed)
	line.SetSeriesOptions(charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))
	return line
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
