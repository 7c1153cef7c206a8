package config

import "time"

// Config 是 tradeloop 的主配置载体。
type Config struct {
	App      AppConfig      `toml:"app"`
	Data     DataConfig     `toml:"data"`
	Model    ModelConfig    `toml:"model"`
	Policy   PolicyConfig   `toml:"policy"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Executor ExecutorConfig `toml:"executor"`
	Cycle    CycleConfig    `toml:"cycle"`
	Report   ReportConfig   `toml:"report"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
	HTTPAddr string `toml:"http_addr"`
}

// DataConfig 描述行情数据的来源与存储。
type DataConfig struct {
	// Source: "store" | "csv" | "http" | "binance"
	Source     string `toml:"source"`
	BarDBPath  string `toml:"bar_db_path"`
	DatasetDir string `toml:"dataset_dir"`

	HTTP HTTPSourceConfig `toml:"http"`
}

// HTTPSourceConfig 对应通用 JSON 行情 API。
type HTTPSourceConfig struct {
	BaseURL        string  `toml:"base_url"`
	APIKey         string  `toml:"api_key"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	RequestsPerSec float64 `toml:"requests_per_sec"`
	MaxRetrySecs   int     `toml:"max_retry_seconds"`
}

// ModelConfig 控制预测模型的训练与持久化。
type ModelConfig struct {
	Dir            string `toml:"dir"`
	HorizonDays    int    `toml:"horizon_days"`
	Trees          int    `toml:"trees"`
	MaxDepth       int    `toml:"max_depth"`
	MinLeaf        int    `toml:"min_leaf"`
	MinSplit       int    `toml:"min_split"`
	Seed           int64  `toml:"seed"`
	LoadOnStartup  bool   `toml:"load_on_startup"`
	TrainingSample int    `toml:"training_sample"` // 0 = full dataset
}

type PolicyConfig struct {
	RiskTolerance   float64 `toml:"risk_tolerance"`
	ProfilesPath    string  `toml:"profiles_path"`
	HistoryLimit    int     `toml:"history_limit"`
	FeedbackLimit   int     `toml:"feedback_limit"`
	MinFeedbackRows int     `toml:"min_feedback_rows"`
	LogDBPath       string  `toml:"log_db_path"`
}

type LedgerConfig struct {
	DBPath       string  `toml:"db_path"`
	DefaultUser  string  `toml:"default_user"`
	StartingCash float64 `toml:"starting_cash"`
}

// ExecutorConfig 控制下单执行。
type ExecutorConfig struct {
	// DryRun 为 true 时不做仓位计算，BUY 固定 1 股，方便试跑。
	DryRun bool `toml:"dry_run"`
}

// CycleConfig 控制单轮调度的并发与超时。
type CycleConfig struct {
	SymbolTimeoutSeconds int      `toml:"symbol_timeout_seconds"`
	MaxParallel          int      `toml:"max_parallel"`
	IntervalMinutes      int      `toml:"interval_minutes"` // 0 = 不做周期调度
	Symbols              []string `toml:"symbols"`
	SessionLimit         int      `toml:"session_limit"`
}

type ReportConfig struct {
	Enabled bool   `toml:"enabled"`
	Dir     string `toml:"dir"`
}

// SymbolTimeout 返回单个 symbol 的处理超时。
func (c CycleConfig) SymbolTimeout() time.Duration {
	secs := c.SymbolTimeoutSeconds
	if secs <= 0 {
		secs = 30
	}
	return time.Duration(secs) * time.Second
}
