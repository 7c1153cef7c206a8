package config

import "fmt"

func validate(cfg *Config) error {
	switch cfg.Data.Source {
	case "store", "csv", "http", "binance":
	default:
		return fmt.Errorf("data.source must be one of store/csv/http/binance, got %q", cfg.Data.Source)
	}
	if cfg.Data.Source == "http" && cfg.Data.HTTP.BaseURL == "" {
		return fmt.Errorf("data.http.base_url is required when data.source is http")
	}
	if cfg.Policy.RiskTolerance < 0 || cfg.Policy.RiskTolerance > 1 {
		return fmt.Errorf("policy.risk_tolerance must be within [0,1], got %v", cfg.Policy.RiskTolerance)
	}
	if cfg.Model.HorizonDays < 1 {
		return fmt.Errorf("model.horizon_days must be >= 1")
	}
	if cfg.Cycle.MaxParallel < 1 {
		return fmt.Errorf("cycle.max_parallel must be >= 1")
	}
	return nil
}
