package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"tradeloop/internal/app"
	"tradeloop/internal/config"
	"tradeloop/internal/coordinator"
	"tradeloop/internal/logger"
	"tradeloop/internal/market"
)

var (
	cfgPath string
	cfg     *config.Config
	logFile *os.File
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		log.Fatalf("tradeloop: %v", err)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "tradeloop",
		Short: "staged trading decision pipeline",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env 缺失不算错
			_ = godotenv.Load()
			if cfgPath == "" {
				cfgPath = os.Getenv("TRADELOOP_CONFIG")
			}
			if cfgPath == "" {
				cfgPath = "configs/config.yaml"
			}
			loaded, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("读取配置失败: %w", err)
			}
			cfg = loaded
			if err := setupLogOutput(cfg.App.LogPath); err != nil {
				return fmt.Errorf("初始化日志文件失败: %w", err)
			}
			logger.SetLevel(cfg.App.LogLevel)
			logger.Infof("✓ 配置加载成功（环境=%s，数据源=%s）", cfg.App.Env, cfg.Data.Source)
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logFile != nil {
				_ = logFile.Close()
			}
		},
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file path (default configs/config.yaml)")
	root.AddCommand(serveCmd(), cycleCmd(), trainCmd(), importCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the HTTP control plane and the cycle scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.NewApp(cfg)
			if err != nil {
				return fmt.Errorf("初始化应用失败: %w", err)
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Run(ctx)
		},
	}
}

func cycleCmd() *cobra.Command {
	var symbols []string
	var riskTolerance float64
	cmd := &cobra.Command{
		Use:   "cycle",
		Short: "run a single analysis cycle and print the summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.NewApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			a.Coordinator().Startup()
			opts := coordinator.CycleOptions{Symbols: symbols}
			if cmd.Flags().Changed("risk") {
				opts.RiskTolerance = &riskTolerance
			}
			summary, err := a.Coordinator().RunCycle(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "symbols to analyze (default: cycle.symbols from config)")
	cmd.Flags().Float64Var(&riskTolerance, "risk", 0, "risk tolerance override for this run (0..1)")
	return cmd
}

func trainCmd() *cobra.Command {
	var symbols []string
	cmd := &cobra.Command{
		Use:   "train",
		Short: "train the price model and print the training report",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.NewApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.Coordinator().TrainModel(cmd.Context(), symbols)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().StringSliceVar(&symbols, "symbols", nil, "symbols to train on (default: cycle.symbols from config)")
	return cmd
}

// importCmd 把 CSV 数据集灌进 sqlite 行情库。
func importCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "import <SYMBOL>.csv files into the bar store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = cfg.Data.DatasetDir
			}
			store, err := market.NewStore(cfg.Data.BarDBPath)
			if err != nil {
				return err
			}
			defer store.Close()

			files, err := filepath.Glob(filepath.Join(dir, "*.csv"))
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no CSV files in %s", dir)
			}
			total := 0
			for _, file := range files {
				symbol := strings.ToUpper(strings.TrimSuffix(filepath.Base(file), ".csv"))
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				bars, err := market.ReadBarsCSV(f, symbol)
				f.Close()
				if err != nil {
					logger.Warnf("skip %s: %v", file, err)
					continue
				}
				n, err := store.InsertBars(cmd.Context(), symbol, bars)
				if err != nil {
					return err
				}
				logger.Infof("imported %s: %d bars", symbol, n)
				total += n
			}
			logger.Infof("✓ import done, %d bars from %d files", total, len(files))
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "CSV dataset directory (default: data.dataset_dir from config)")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setupLogOutput(path string) error {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	logFile = file
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return nil
}
