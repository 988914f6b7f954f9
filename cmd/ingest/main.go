package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"ragagent/internal/app"
	"ragagent/internal/config"
	"ragagent/internal/logging"
	"ragagent/internal/vectorstore/memory"
)

func main() {
	_ = godotenv.Load()

	var cfgPath string
	var check bool
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ./config.yaml or ~/.config/ragagent/config.yaml)")
	flag.BoolVar(&check, "check", false, "Print the manifest of the existing index instead of rebuilding it")
	flag.Parse()

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if check {
		if err := printIndex(ctx, cfg, logger); err != nil {
			logger.Fatal("index check failed", zap.Error(err))
		}
		return
	}

	stats, err := app.Ingest(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("ingest failed", zap.Error(err))
	}
	fmt.Printf("Indexed %d chunks from %d documents (dimension %d) in %s\n",
		stats.Chunks, stats.Documents, stats.Dimension, stats.Duration.Round(time.Millisecond))
}

// printIndex loads the index the way the agent would and prints what it holds.
func printIndex(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) error {
	embedder, err := app.NewEmbedder(cfg, logger)
	if err != nil {
		return err
	}
	if cfg.VectorStore.Type == "qdrant" {
		store, err := app.OpenIndex(ctx, cfg, embedder, logger)
		if err != nil {
			return err
		}
		n, err := store.Len(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("collection: %s\ndimension:  %d\nentries:    %d\n", cfg.VectorStore.Qdrant.Collection, store.Dimension(), n)
		return nil
	}
	_, m, err := memory.Load(cfg.VectorStore.Path, memory.Expectation{Dimension: embedder.Dimension(), Embedder: embedder.Name()})
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	fmt.Printf("index: %s\n%s", cfg.VectorStore.Path, out)
	return nil
}

func loadConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		cfg, _, err := config.LoadDefault()
		return cfg, err
	}
	return config.Load(path)
}
