package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Xenocodek/crypto-webhook-server/internal/config"
	"github.com/Xenocodek/crypto-webhook-server/internal/dispatch"
	"github.com/Xenocodek/crypto-webhook-server/internal/lock"
	"github.com/Xenocodek/crypto-webhook-server/internal/log"
	"github.com/Xenocodek/crypto-webhook-server/internal/metrics"
	"github.com/Xenocodek/crypto-webhook-server/internal/queue"
	"github.com/Xenocodek/crypto-webhook-server/internal/storage"
	"github.com/Xenocodek/crypto-webhook-server/internal/telegram"
	"github.com/Xenocodek/crypto-webhook-server/internal/tui/watch"
	"github.com/Xenocodek/crypto-webhook-server/internal/webhook"
)

var (
	version   = "1.0.0"
	gitCommit = "unknown"
)

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "start":
		return runStart(args)
	case "config":
		return runConfigNoun(args)
	case "watch":
		return runWatch(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

func printUsage() {
	fmt.Print(`crypto-webhook-server - Crypto Pay to Telegram webhook relay

Usage:
  crypto-webhook-server <command> [flags]

Commands:
  start          Start the relay service in foreground
  config check   Validate configuration syntax and integrity
  config lock    Authorize current config state (update integrity hashes)
  watch          Real-time delivery monitoring TUI
  version        Show version information
  help           Show this help message

Use 'crypto-webhook-server <command> --help' for command-specific flags.
`)
}

// --- VERSION ---

type versionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("crypto-webhook-server %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version: strings.TrimSpace(version),
		Commit:  "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	resolvedCommit := strings.TrimSpace(gitCommit)
	if resolvedCommit == "" || resolvedCommit == "unknown" {
		resolvedCommit = strings.TrimSpace(readBuildSetting("vcs.revision"))
	}
	if resolvedCommit != "" {
		info.Commit = shortenCommit(resolvedCommit)
	}

	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return setting.Value
		}
	}
	return ""
}

// --- CONFIG NOUN ---

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		return runConfigCheck(actionArgs)
	case "lock":
		return runConfigLock(actionArgs)
	case "help", "--help", "-h":
		printConfigNounHelp(os.Stdout)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n\n", action)
		printConfigNounHelp(os.Stderr)
		return 1
	}
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprint(w, `Usage: crypto-webhook-server config <action> [flags]

Actions:
  check    Validate configuration syntax and integrity
  lock     Authorize current config state (update integrity hashes)

Flags:
  --config PATH    Path to configuration file or directory
`)
}

func resolveConfigPath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DiscoverConfigPath()
}

func runConfigCheck(args []string) int {
	fs := flag.NewFlagSet("config check", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	if _, err := config.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "FAIL syntax: %v\n", err)
		return 1
	}
	fmt.Println("OK   syntax: configuration loads and validates")

	warning, err := config.VerifyIntegrity(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FAIL integrity: %v\n", err)
		return 1
	}
	if warning != "" {
		fmt.Printf("WARN integrity: %s\n", warning)
	} else {
		fmt.Println("OK   integrity: checksums match")
	}

	fmt.Println("Configuration check passed")
	return 0
}

func runConfigLock(args []string) int {
	fs := flag.NewFlagSet("config lock", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	if _, err := config.Load(path); err != nil {
		fmt.Fprintf(os.Stderr, "Refusing to lock invalid config: %v\n", err)
		return 1
	}

	if err := config.Lock(path); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write checksums: %v\n", err)
		return 1
	}
	fmt.Println("Configuration locked (integrity hashes updated)")
	return 0
}

// --- WATCH ---

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	url := fs.String("url", "http://127.0.0.1:8001", "Relay base URL")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	m := watch.New(strings.TrimRight(*url, "/"))
	p := tea.NewProgram(m)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}

// --- START ---

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to discover config: %v\n", err)
		return 1
	}
	if *configPath == "" {
		fmt.Fprintf(os.Stderr, "Using discovered config: %s\n", path)
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("relay starting", "version", version, "config", path)

	warning, err := config.VerifyIntegrity(path)
	if err != nil {
		logger.Error("config integrity check failed", "error", err)
		return 1
	}
	if warning != "" {
		logger.Warn("config integrity", "warning", warning)
	}

	pidLockPath := pidLockPathFor(cfg)
	pidLock, err := lock.Acquire(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("database ready", "path", cfg.State.Path)

	q := queue.New(db)
	metrics.RegisterQueueDepth(func() float64 {
		depth, err := q.Depth(ctx)
		if err != nil {
			return 0
		}
		return float64(depth)
	})

	tgOpts := []telegram.Option{}
	if cfg.Telegram.APIBaseURL != "" {
		tgOpts = append(tgOpts, telegram.WithBaseURL(cfg.Telegram.APIBaseURL))
	}
	if cfg.Telegram.Timeout > 0 {
		tgOpts = append(tgOpts, telegram.WithTimeout(cfg.Telegram.Timeout))
	}
	tg, err := telegram.New(cfg.Telegram.BotToken, tgOpts...)
	if err != nil {
		logger.Error("failed to create telegram client", "error", err)
		return 1
	}

	server := webhook.New(webhookConfigFor(cfg), q, log.WithComponent("webhook"))
	disp := dispatch.New(q, tg, cfg.Retry.BackoffBase)
	janitor := dispatch.NewJanitor(q,
		cfg.Service.JanitorInterval,
		cfg.Service.DedupeTTL,
		cfg.Service.LogRetention,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 3)

	go func() {
		if err := server.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("webhook: %w", err)
		}
	}()
	go func() {
		if err := disp.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("dispatcher: %w", err)
		}
	}()
	go func() {
		if err := janitor.Start(ctx); err != nil && err != context.Canceled {
			errCh <- fmt.Errorf("janitor: %w", err)
		}
	}()

	logger.Info("relay running (press Ctrl+C to stop)", "listen", cfg.Server.Listen)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		cancel()
		return 1
	}

	logger.Info("relay stopped")
	return 0
}

// webhookConfigFor maps the loaded config onto the webhook server config.
func webhookConfigFor(cfg *config.Config) webhook.Config {
	wc := webhook.Config{
		Listen:          cfg.Server.Listen,
		Version:         cfg.Service.Version,
		Path:            cfg.Server.WebhookPath,
		Secret:          cfg.Server.Secret,
		SignatureHeader: cfg.Server.SignatureHeader,
		AllowUnsigned:   cfg.Server.AllowUnsigned,
		MaxBodySize:     cfg.Server.MaxBodySize,
		MaxAttempts:     cfg.Retry.MaxAttempts,
	}
	if wc.Version == "" {
		wc.Version = version
	}
	if cfg.Server.RateLimit != nil {
		wc.RateLimitRequests = cfg.Server.RateLimit.Requests
		wc.RateLimitWindow = cfg.Server.RateLimit.Window
	}
	return wc
}

// pidLockPathFor keeps the lock file next to the state database.
func pidLockPathFor(cfg *config.Config) string {
	return filepath.Join(filepath.Dir(cfg.State.Path), "relay.lock")
}
