package config

func (c *Config) applyDefaults() {
	if c.App.Env == "" {
		c.App.Env = "dev"
	}
	if c.App.LogLevel == "" {
		c.App.LogLevel = "info"
	}
	if c.App.HTTPAddr == "" {
		c.App.HTTPAddr = ":9985"
	}

	if c.Data.Source == "" {
		c.Data.Source = "store"
	}
	if c.Data.BarDBPath == "" {
		c.Data.BarDBPath = "data/bars.db"
	}
	if c.Data.DatasetDir == "" {
		c.Data.DatasetDir = "data/stocks"
	}
	if c.Data.HTTP.TimeoutSeconds <= 0 {
		c.Data.HTTP.TimeoutSeconds = 30
	}
	if c.Data.HTTP.RequestsPerSec <= 0 {
		c.Data.HTTP.RequestsPerSec = 5
	}
	if c.Data.HTTP.MaxRetrySecs <= 0 {
		c.Data.HTTP.MaxRetrySecs = 30
	}

	if c.Model.Dir == "" {
		c.Model.Dir = "data/models"
	}
	if c.Model.HorizonDays <= 0 {
		c.Model.HorizonDays = 5
	}
	if c.Model.Trees <= 0 {
		c.Model.Trees = 100
	}
	if c.Model.MaxDepth <= 0 {
		c.Model.MaxDepth = 15
	}
	if c.Model.MinLeaf <= 0 {
		c.Model.MinLeaf = 5
	}
	if c.Model.MinSplit <= 0 {
		c.Model.MinSplit = 10
	}
	if c.Model.Seed == 0 {
		c.Model.Seed = 42
	}

	if c.Policy.RiskTolerance == 0 {
		c.Policy.RiskTolerance = 0.5
	}
	if c.Policy.HistoryLimit <= 0 {
		c.Policy.HistoryLimit = 512
	}
	if c.Policy.FeedbackLimit <= 0 {
		c.Policy.FeedbackLimit = 4096
	}
	if c.Policy.MinFeedbackRows <= 0 {
		c.Policy.MinFeedbackRows = 50
	}
	if c.Policy.LogDBPath == "" {
		c.Policy.LogDBPath = "data/decisions.db"
	}

	if c.Ledger.DBPath == "" {
		c.Ledger.DBPath = "data/ledger.db"
	}
	if c.Ledger.DefaultUser == "" {
		c.Ledger.DefaultUser = "default"
	}
	if c.Ledger.StartingCash <= 0 {
		c.Ledger.StartingCash = 100000
	}

	if c.Cycle.SymbolTimeoutSeconds <= 0 {
		c.Cycle.SymbolTimeoutSeconds = 30
	}
	if c.Cycle.MaxParallel <= 0 {
		c.Cycle.MaxParallel = 4
	}
	if c.Cycle.SessionLimit <= 0 {
		c.Cycle.SessionLimit = 200
	}

	if c.Report.Dir == "" {
		c.Report.Dir = "data/reports"
	}
}
