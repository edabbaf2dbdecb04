// ABOUTME: Entry point for the coven-acp bridge
// ABOUTME: Connects Matrix rooms to ACP coding agent subprocesses

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/coven-acp/internal/agent"
	"github.com/2389/coven-acp/internal/config"
	"github.com/2389/coven-acp/internal/dispatch"
	"github.com/2389/coven-acp/internal/store"
)

const banner = `
    ╭──────────────────────────────────╮
    │                                  │
    │   ┏━╸┏━┓╻ ╻┏━╸┏┓╻   ┏━┓┏━╸┏━┓    │
    │   ┃  ┃ ┃┃┏┛┣╸ ┃┗┫   ┣━┫┃  ┣━┛    │
    │   ┗━╸┗━┛┗┛ ┗━╸╹ ╹   ╹ ╹┗━╸╹      │
    │                                  │
    │         coven-acp bridge         │
    │                                  │
    ╰──────────────────────────────────╯
`

// getConfigPath returns the path to the bridge config file.
// Priority: COVEN_ACP_CONFIG env var > XDG_CONFIG_HOME/coven-acp/bridge.toml > ~/.config/coven-acp/bridge.toml
func getConfigPath() string {
	if envPath := os.Getenv("COVEN_ACP_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "bridge.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "coven-acp", "bridge.toml")
}

// getDataPath returns the path to the bridge data directory.
// Priority: XDG_DATA_HOME/coven-acp > ~/.local/share/coven-acp
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "coven-acp")
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	configPath := getConfigPath()
	dataPath := getDataPath()

	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	agents, err := config.LoadAgents(cfg.Agents.DefinitionsPath)
	if err != nil {
		return fmt.Errorf("loading agent definitions: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:     %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Homeserver: %s\n", cfg.Matrix.Homeserver)
	green.Print("    ▶ ")
	fmt.Printf("User:       %s\n", cfg.Matrix.Username)
	green.Print("    ▶ ")
	fmt.Printf("Agents:     %s (+%d defined)\n", cfg.Agents.DefaultAgent, len(agents.Agents))
	if cfg.Matrix.RecoveryKey != "" {
		green.Print("    ▶ ")
		fmt.Println("Encryption: enabled")
	}
	fmt.Println()

	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = filepath.Join(dataPath, "ledger.db")
	}
	ledger, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("opening conversation ledger: %w", err)
	}
	defer ledger.Close()

	loop := dispatch.NewLoop(logger)
	defer loop.Close()

	mgr := agent.NewManager(agent.LaunchConfig{
		Command:        cfg.Agents.Command,
		DefaultDir:     cfg.Agents.DefaultDir,
		DefaultAgent:   cfg.Agents.DefaultAgent,
		PassAgentFlag:  cfg.Agents.PassAgentFlag,
		RequestTimeout: cfg.Agents.RequestTimeout,
	}, agents.WorkingDir, loop, ledger, logger)
	defer mgr.Close()

	statePath := cfg.Bridge.StatePath
	if statePath == "" {
		statePath = filepath.Join(dataPath, "conversation.json")
	}
	prior, err := mgr.LoadState(statePath)
	if err != nil {
		return fmt.Errorf("loading conversation state: %w", err)
	}
	defer func() {
		if err := mgr.SaveState(statePath); err != nil {
			logger.Error("failed to save conversation state", "error", err)
		}
	}()

	bridge, err := NewBridge(cfg, mgr, ledger, logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}

	ctx := context.Background()
	if err := bridge.Login(ctx); err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}

	var cryptoMgr *CryptoManager
	if cfg.Matrix.RecoveryKey != "" {
		cryptoMgr, err = SetupCrypto(ctx, bridge.matrix, bridge.UserID(), cfg.Matrix.RecoveryKey, dataPath, logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer cryptoMgr.Close()
	} else {
		logger.Info("encryption disabled (no recovery key)")
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Boot the agent that was active before the last shutdown, falling back
	// to the configured default.
	bootAgent := cfg.Agents.DefaultAgent
	if prior.ActiveAgent != "" {
		bootAgent = prior.ActiveAgent
	}
	mgr.StartSession(bootAgent, "", "")

	go loop.Run(ctx)

	logger.Info("starting bridge")
	return bridge.Run(ctx)
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func runInit() error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println("    Interactive Setup")
	fmt.Println("    -----------------")
	fmt.Println()

	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		yellow.Printf("    Config already exists at %s\n", configPath)
		fmt.Print("    Overwrite? [y/N]: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("    Aborted.")
			return nil
		}
		fmt.Println()
	}

	reader := bufio.NewReader(os.Stdin)

	green.Print("    ▶ ")
	fmt.Print("Matrix homeserver URL [https://matrix.org]: ")
	homeserver, _ := reader.ReadString('\n')
	homeserver = strings.TrimSpace(homeserver)
	if homeserver == "" {
		homeserver = "https://matrix.org"
	}

	green.Print("    ▶ ")
	fmt.Print("Matrix username: ")
	username, _ := reader.ReadString('\n')
	username = strings.TrimSpace(username)

	green.Print("    ▶ ")
	fmt.Print("Matrix password: ")
	password, _ := reader.ReadString('\n')
	password = strings.TrimSpace(password)

	green.Print("    ▶ ")
	fmt.Print("Matrix recovery key (optional, for E2EE): ")
	recoveryKey, _ := reader.ReadString('\n')
	recoveryKey = strings.TrimSpace(recoveryKey)

	green.Print("    ▶ ")
	fmt.Print("Agent command [kiro-cli acp]: ")
	command, _ := reader.ReadString('\n')
	command = strings.TrimSpace(command)
	if command == "" {
		command = "kiro-cli acp"
	}

	green.Print("    ▶ ")
	fmt.Print("Default agent name [default]: ")
	defaultAgent, _ := reader.ReadString('\n')
	defaultAgent = strings.TrimSpace(defaultAgent)
	if defaultAgent == "" {
		defaultAgent = "default"
	}

	green.Print("    ▶ ")
	fmt.Print("Default working directory [" + mustHomeDir() + "]: ")
	defaultDir, _ := reader.ReadString('\n')
	defaultDir = strings.TrimSpace(defaultDir)
	if defaultDir == "" {
		defaultDir = mustHomeDir()
	}

	var commandArray strings.Builder
	for i, part := range strings.Fields(command) {
		if i > 0 {
			commandArray.WriteString(", ")
		}
		fmt.Fprintf(&commandArray, "%q", part)
	}

	cfg := fmt.Sprintf(`# coven-acp bridge configuration
# Generated by coven-acp init

[matrix]
homeserver = "%s"
username = "%s"
password = "%s"
`, homeserver, username, password)

	if recoveryKey != "" {
		cfg += fmt.Sprintf("recovery_key = \"%s\"\n", recoveryKey)
	}

	cfg += fmt.Sprintf(`
[agents]
command = [%s]
default_agent = "%s"
default_dir = "%s"
pass_agent_flag = true
request_timeout = "300s"

[bridge]
# Bridge commands start with this prefix (e.g. !agents, !use)
command_prefix = "!"
# Send typing indicator while an agent is working
typing_indicator = true

[logging]
level = "info"
`, commandArray.String(), defaultAgent, defaultDir)

	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(cfg), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", configPath)
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Println("    1. Run: coven-acp")
	fmt.Println()

	return nil
}

func mustHomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
