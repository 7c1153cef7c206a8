package report

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradeloop/internal/config"
	"tradeloop/internal/coordinator"
	"tradeloop/internal/predictor"
)

func sampleSummary() coordinator.CycleSummary {
	return coordinator.CycleSummary{
		ID:        "0a1b2c3d-aaaa-bbbb-cccc-000000000000",
		StartedAt: time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC),
		Status:    coordinator.CycleCompleted,
		Symbols:   2,
		Succeeded: 2,
		Buys:      1,
		Holds:     1,
		Results: []coordinator.SymbolResult{
			{Symbol: "AAPL", Prediction: &predictor.Prediction{Symbol: "AAPL", PredictedChangePct: 2.4}},
			{Symbol: "MSFT", Prediction: &predictor.Prediction{Symbol: "MSFT", PredictedChangePct: -0.3}},
		},
	}
}

func TestWriteCycleReport(t *testing.T) {
	w := NewWriter(config.ReportConfig{Enabled: true, Dir: t.TempDir()})

	path, err := w.WriteCycleReport(sampleSummary())
	require.NoError(t, err)

	blob, err := os.ReadFile(path)
	require.NoError(t, err)
	html := string(blob)
	assert.Contains(t, html, "AAPL")
	assert.Contains(t, html, "MSFT")
	assert.Contains(t, html, "Cycle 0a1b2c3d")
}

func TestWriteSessionsReport(t *testing.T) {
	w := NewWriter(config.ReportConfig{Enabled: true, Dir: t.TempDir()})

	first := sampleSummary()
	second := sampleSummary()
	second.StartedAt = second.StartedAt.Add(time.Hour)
	second.Sells = 1

	path, err := w.WriteSessionsReport([]coordinator.CycleSummary{first, second})
	require.NoError(t, err)
	blob, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(blob), "Cycle history")

	_, err = w.WriteSessionsReport(nil)
	assert.Error(t, err)
}

func TestDisabledWriterSkipsRendering(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(config.ReportConfig{Enabled: false, Dir: dir})
	w.CycleFinished(sampleSummary())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
