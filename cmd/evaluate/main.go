package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"ragagent/internal/app"
	"ragagent/internal/config"
	"ragagent/internal/domain"
	"ragagent/internal/evaluation"
	"ragagent/internal/logging"
	"ragagent/internal/report"
)

func main() {
	_ = godotenv.Load()

	var cfgPath, datasetPath, reportPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ./config.yaml or ~/.config/ragagent/config.yaml)")
	flag.StringVar(&datasetPath, "dataset", "", "Evaluation questions (YAML); overrides evaluation.dataset")
	flag.StringVar(&reportPath, "report", "", "Report path (.csv or .xlsx); overrides evaluation.report")
	flag.Parse()

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if datasetPath != "" {
		cfg.Evaluation.Dataset = datasetPath
	}
	if reportPath != "" {
		cfg.Evaluation.Report = reportPath
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	questions := evaluation.DefaultDataset()
	if cfg.Evaluation.Dataset != "" {
		questions, err = evaluation.LoadDataset(cfg.Evaluation.Dataset)
		if err != nil {
			logger.Fatal("failed to load dataset", zap.String("path", cfg.Evaluation.Dataset), zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to start agent", zap.Error(err))
	}
	defer a.Close()

	runner, sink, err := a.EvaluationRunner(ctx)
	if err != nil {
		logger.Fatal("failed to build evaluator", zap.Error(err))
	}
	defer sink.Close()

	records, runErr := runner.Run(ctx, questions)
	if runErr != nil && !errors.Is(runErr, domain.ErrAllMetricsFailed) {
		logger.Fatal("evaluation failed", zap.Error(runErr))
	}
	if len(records) > 0 {
		if err := report.Write(cfg.Evaluation.Report, records, evaluation.Metrics); err != nil {
			logger.Fatal("failed to write report", zap.Error(err))
		}
	}
	printSummary(records)
	fmt.Printf("Report written to %s\n", cfg.Evaluation.Report)
	if runErr != nil {
		logger.Error("no metric could be scored", zap.Error(runErr))
		os.Exit(1)
	}
}

func printSummary(records []domain.EvaluationRecord) {
	bold := color.New(color.Bold).SprintFunc()
	good := color.New(color.FgGreen).SprintfFunc()
	fair := color.New(color.FgYellow).SprintfFunc()
	poor := color.New(color.FgRed).SprintfFunc()

	fmt.Println(bold("Evaluation summary"))
	for _, m := range evaluation.Metrics {
		var sum float64
		var n int
		for _, r := range records {
			if v := r.Scores[m]; domain.IsScored(v) {
				sum += v
				n++
			}
		}
		if n == 0 {
			fmt.Printf("  %-18s %s\n", m, poor("unscored"))
			continue
		}
		mean := sum / float64(n)
		paint := poor
		switch {
		case mean >= 0.75:
			paint = good
		case mean >= 0.5:
			paint = fair
		}
		fmt.Printf("  %-18s %s (%d/%d scored)\n", m, paint("%.4f", mean), n, len(records))
	}
}

func loadConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		cfg, _, err := config.LoadDefault()
		return cfg, err
	}
	return config.Load(path)
}
