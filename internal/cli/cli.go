package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"sonix.click/internal/config"
	"sonix.click/internal/fs"
	"sonix.click/internal/memgov"
	"sonix.click/internal/tracking"
	"sonix.click/internal/worker"
)

const Version = "1.2.0"

// CLI represents the command-line interface
type CLI struct {
	rootCmd          *cobra.Command
	configManager    *config.ConfigManager
	fsFactory        fs.Factory
	terminalDetector TerminalDetector
	trackingDB       *sql.DB // Optional tracking database
	recorder         *tracking.Recorder
}

// NewCLI creates a new CLI instance
func NewCLI() *CLI {
	slog.Debug("creating new CLI instance")

	rootCmd := &cobra.Command{
		Use:   "sonix",
		Short: "Chunked audio decoding engine",
		Long:  "Sonix decodes MP3, WAV, AIFF, and MP4 audio in bounded-memory chunks, with background workers, seeking, and playback.",
		RunE:  runRootE,
	}

	rootCmd.AddCommand(newDecodeCommand())
	rootCmd.AddCommand(newProbeCommand())
	rootCmd.AddCommand(newChunkSizeCommand())
	rootCmd.AddCommand(newStatsCommand())
	rootCmd.AddCommand(newPlayCommand())

	// Persistent flags shared by all subcommands
	rootCmd.PersistentFlags().String("config", "", "Path to config file")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug/info/warn/error)")
	rootCmd.PersistentFlags().Int("workers", 0, "Number of background decode workers")
	rootCmd.PersistentFlags().Int("memory-budget-mb", 0, "Decode buffer budget in MB")
	rootCmd.PersistentFlags().Int("chunk-size-kb", 0, "Read chunk size in KB (0 = auto)")

	// Add version flag
	rootCmd.Flags().BoolP("version", "v", false, "Show version information")

	return &CLI{
		rootCmd:          rootCmd,
		configManager:    nil, // Lazy initialization - only create when needed
		fsFactory:        nil, // Lazy initialization - only create when needed
		terminalDetector: nil, // Lazy initialization - only create when needed
		trackingDB:       nil, // Lazy initialization - only create when needed
	}
}

// contextWithCLI stores CLI instance in context for command handlers
func contextWithCLI(cli *CLI) context.Context {
	return context.WithValue(context.Background(), "cli", cli)
}

// cliFromContext extracts CLI instance from context
func cliFromContext(ctx context.Context) *CLI {
	if cli, ok := ctx.Value("cli").(*CLI); ok {
		return cli
	}
	return nil
}

// runRootE handles the root command: version flag or help
func runRootE(cmd *cobra.Command, args []string) error {
	version, _ := cmd.Flags().GetBool("version")
	if version {
		cmd.Printf("sonix version %s\nChunked audio decoding engine\n", Version)
		return nil
	}
	return cmd.Help()
}

// loadAndValidateConfig loads configuration from flags and files, applies overrides, and validates
func loadAndValidateConfig(cmd *cobra.Command, cli *CLI) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	logLevel, _ := cmd.Flags().GetString("log-level")
	workers, _ := cmd.Flags().GetInt("workers")
	budgetMB, _ := cmd.Flags().GetInt("memory-budget-mb")
	chunkKB, _ := cmd.Flags().GetInt("chunk-size-kb")

	// Load configuration
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = cli.configManager.LoadFromFile(configFile)
		if err != nil {
			// If config file doesn't exist, use defaults
			slog.Warn("config file not found, using defaults", "file", configFile, "error", err)
			cfg = cli.configManager.GetDefaultConfig()
		}
	} else {
		cfg, err = cli.configManager.LoadConfig()
		if err != nil {
			cmd.PrintErrf("Error loading config: %v\n", err)
			slog.Error("config load failed", "error", err)
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	}

	// Apply environment overrides
	cfg = cli.configManager.ApplyEnvironmentOverrides(cfg)

	// Apply command line overrides
	if logLevel != "" {
		cfg.LogLevel = logLevel
		slog.Debug("log level override applied", "value", logLevel)
	}
	if workers > 0 {
		cfg.WorkerCount = workers
		slog.Debug("worker count override applied", "value", workers)
	}
	if budgetMB > 0 {
		cfg.MemoryBudgetMB = budgetMB
		slog.Debug("memory budget override applied", "value", budgetMB)
	}
	if chunkKB > 0 {
		cfg.ChunkSizeKB = chunkKB
		slog.Debug("chunk size override applied", "value", chunkKB)
	}

	// Validate final configuration
	err = cli.configManager.ValidateConfig(cfg)
	if err != nil {
		cmd.PrintErrf("Error: invalid configuration: %v\n", err)
		slog.Error("config validation failed", "error", err)
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Run executes the CLI with the given arguments and I/O streams
func (c *CLI) Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	slog.Debug("CLI run started", "args", args)

	// Check for version flag before any system initialization
	if len(args) > 1 && (args[1] == "--version" || args[1] == "-v") {
		fmt.Fprintf(stdout, "sonix version %s\nChunked audio decoding engine\n", Version)
		return 0
	}

	c.initializeSystems()

	// Ensure resources are cleaned up on exit
	defer func() {
		if c.trackingDB != nil {
			err := c.trackingDB.Close()
			if err != nil {
				slog.Error("error closing tracking database", "error", err)
			}
		}
	}()

	// Configure cobra to use the provided I/O streams
	c.rootCmd.SetArgs(args[1:]) // Skip program name
	c.rootCmd.SetIn(stdin)
	c.rootCmd.SetOut(stdout)
	c.rootCmd.SetErr(stderr)

	// Store CLI instance for access in command handlers
	c.rootCmd.SetContext(contextWithCLI(c))

	// Execute cobra command
	if err := c.rootCmd.Execute(); err != nil {
		slog.Error("cobra execution failed", "error", err)
		return 1
	}

	return 0
}

// initializeSystems lazily initializes CLI components when actually needed
func (c *CLI) initializeSystems() {
	if c.configManager == nil {
		c.configManager = config.NewConfigManager()
	}
	if c.fsFactory == nil {
		c.fsFactory = fs.NewDefaultFactory()
	}
	if c.terminalDetector == nil {
		c.terminalDetector = &DefaultTerminalDetector{}
	}
	// trackingDB is initialized per command after the config is known
}

// newGovernor builds the memory governor for the configured budget
func newGovernor(cfg *config.Config) *memgov.Governor {
	return memgov.New(cfg.MemoryBudgetBytes())
}

// newWorkerPool builds a worker pool from the configuration
func (c *CLI) newWorkerPool(cfg *config.Config, governor *memgov.Governor) *worker.Pool {
	return worker.NewPool(worker.PoolOptions{
		Size:          cfg.WorkerCount,
		QueueCapacity: cfg.QueueCapacity,
		IdleTimeout:   time.Duration(cfg.IdleTimeoutSec) * time.Second,
		Fs:            c.fsFactory.Production(),
		Governor:      governor,
		Logger:        slog.Default(),
	})
}

// setupLogging configures slog with file logging when enabled
func setupLogging(cfg *config.Config, stderrWriter io.Writer) {
	// Parse log level
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo // Default level if parsing fails
	}

	// Check if current logger is already more verbose than config specifies
	// This preserves test logger setup
	currentHandler := slog.Default().Handler()
	if textHandler, ok := currentHandler.(*slog.TextHandler); ok {
		if textHandler.Enabled(context.Background(), slog.LevelDebug) && level > slog.LevelDebug {
			slog.Debug("preserving existing verbose logger setup", "config_level", level.String(), "current_allows", "DEBUG")
			return
		}
	}

	stderrHandler := slog.NewTextHandler(stderrWriter, &slog.HandlerOptions{
		Level: level,
	})

	handlers := []slog.Handler{stderrHandler}

	// Add file logging if enabled. The file handler gets its own level so
	// the log file can capture debug detail without flooding stderr.
	if cfg.FileLogging != nil && cfg.FileLogging.Enabled {
		configManager := config.NewConfigManager()
		logFilePath := configManager.ResolveLogFilePath(cfg.FileLogging.Filename)

		logDir := filepath.Dir(logFilePath)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			slog.Error("failed to create log directory", "path", logDir, "error", err)
			// Continue without file logging rather than failing
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   logFilePath,
				MaxSize:    cfg.FileLogging.MaxSizeMB,
				MaxBackups: cfg.FileLogging.MaxBackups,
				MaxAge:     cfg.FileLogging.MaxAgeDays,
				Compress:   cfg.FileLogging.Compress,
			}
			fileHandler := slog.NewTextHandler(fileWriter, &slog.HandlerOptions{
				Level: slog.LevelDebug,
			})
			handlers = append(handlers, fileHandler)
			slog.Debug("file logging enabled", "path", logFilePath)
		}
	}

	slog.SetDefault(slog.New(NewMultiLevelHandler(handlers...)))

	slog.Debug("logging setup completed",
		"level", level.String(),
		"handlers", len(handlers),
		"file_enabled", cfg.FileLogging != nil && cfg.FileLogging.Enabled)
}

// initializeTracking initializes the tracking database if enabled in configuration
func (c *CLI) initializeTracking(cfg *config.Config) {
	if c.trackingDB != nil {
		return // Already initialized
	}

	if cfg.Tracking == nil || !cfg.Tracking.Enabled {
		slog.Debug("session tracking disabled, skipping database initialization")
		return
	}

	dbPath, err := c.configManager.ResolveDatabasePath(cfg.Tracking.DatabasePath)
	if err != nil {
		slog.Error("failed to resolve database path, continuing without tracking", "error", err)
		return // Graceful degradation
	}

	db, err := tracking.NewDatabase(dbPath)
	if err != nil {
		slog.Error("failed to initialize tracking database, continuing without tracking",
			"path", dbPath, "error", err)
		return // Graceful degradation - continue without tracking
	}

	c.trackingDB = db
	c.recorder = tracking.NewRecorder(db)
	slog.Info("tracking database initialized", "path", dbPath)
}

// recordSession writes one session record when tracking is active
func (c *CLI) recordSession(record *tracking.SessionRecord) {
	if c.recorder == nil {
		return
	}
	if _, err := c.recorder.RecordSession(record); err != nil {
		slog.Warn("failed to record decode session", "file", record.FilePath, "error", err)
	}
}
