package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"ragagent/internal/agent"
	"ragagent/internal/app"
	"ragagent/internal/config"
	"ragagent/internal/domain"
	"ragagent/internal/logging"
	"ragagent/internal/tui"
)

func main() {
	_ = godotenv.Load()

	var cfgPath, threadID, userID string
	var plain bool
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ./config.yaml or ~/.config/ragagent/config.yaml)")
	flag.StringVar(&threadID, "thread", "", "Resume an existing conversation thread")
	flag.StringVar(&userID, "user", os.Getenv("USER"), "User id reported to tools")
	flag.BoolVar(&plain, "plain", false, "Use a line-based prompt instead of the full-screen UI")
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

	a, err := app.Open(ctx, cfg, logger)
	if err != nil {
		if errors.Is(err, domain.ErrIndexNotFound) {
			fmt.Fprintln(os.Stderr, "No index found. Run the ingest command first.")
		}
		logger.Fatal("failed to start agent", zap.Error(err))
	}
	defer a.Close()

	n, _ := a.Store.Len(ctx)
	summary := fmt.Sprintf("%d chunks indexed with %s, model %s", n, a.Embedder.Name(), cfg.Generator.Model)

	if plain {
		repl(ctx, a.Agent, userID, threadID, summary)
		return
	}
	m := tui.New(a.Agent, userID, threadID, summary, config.Seconds(cfg.Server.RequestTimeoutSecs))
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		logger.Fatal("ui failed", zap.Error(err))
	}
}

func repl(ctx context.Context, a *agent.Agent, userID, threadID, summary string) {
	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	fmt.Println(boldGreen("RAG Agent"))
	fmt.Println(summary)
	fmt.Println("Type your question and press Enter. Type 'exit' or press Ctrl+C to quit.")
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print(boldGreen("You: "))
		if !scanner.Scan() {
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if strings.EqualFold(input, "exit") {
			return
		}
		resp, err := a.Invoke(ctx, agent.Request{Input: input, ThreadID: threadID, UserID: userID})
		if err != nil {
			fmt.Println(red("Error: " + err.Error()))
			if ctx.Err() != nil {
				return
			}
			continue
		}
		threadID = resp.ThreadID
		fmt.Println(boldCyan("Assistant: ") + resp.Output)
		fmt.Println()
	}
}

func loadConfig(path string) (*config.AppConfig, error) {
	if path == "" {
		cfg, _, err := config.LoadDefault()
		return cfg, err
	}
	return config.Load(path)
}
