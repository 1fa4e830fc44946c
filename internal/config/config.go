package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FileLoggingConfig represents file-based logging configuration
type FileLoggingConfig struct {
	Enabled    bool   `json:"enabled"`      // Whether file logging is enabled
	Filename   string `json:"filename"`     // Log file path (empty = XDG cache path)
	MaxSizeMB  int    `json:"max_size_mb"`  // Max file size in MB before rotation
	MaxBackups int    `json:"max_backups"`  // Max number of backup files to keep
	MaxAgeDays int    `json:"max_age_days"` // Max age in days before deletion
	Compress   bool   `json:"compress"`     // Whether to compress rotated files
}

// TrackingConfig represents decode session tracking configuration
type TrackingConfig struct {
	Enabled      bool   `json:"enabled"`       // Whether session tracking is enabled
	DatabasePath string `json:"database_path"` // Database path (empty = XDG cache path)
}

// Config represents Sonix configuration
type Config struct {
	MemoryBudgetMB int                `json:"memory_budget_mb"` // Decode buffer budget in MB
	WorkerCount    int                `json:"worker_count"`     // Background decode workers
	QueueCapacity  int                `json:"queue_capacity"`   // Max queued decode requests
	ChunkSizeKB    int                `json:"chunk_size_kb"`    // Read chunk size in KB (0 = auto)
	IdleTimeoutSec int                `json:"idle_timeout_sec"` // Worker idle recycle timeout
	LogLevel       string             `json:"log_level"`        // Log level (debug, info, warn, error)
	FileLogging    *FileLoggingConfig `json:"file_logging,omitempty"`
	Tracking       *TrackingConfig    `json:"tracking,omitempty"`
}

// XDGInterface defines the interface for XDG directory operations
type XDGInterface interface {
	GetConfigPaths(filename string) []string
	GetCachePath(purpose string) string
	CreateCacheDir(purpose string) error
}

// ConfigManager handles loading, saving, and validating configuration
type ConfigManager struct {
	xdg XDGInterface
}

// NewConfigManager creates a new configuration manager
func NewConfigManager() *ConfigManager {
	slog.Debug("creating new config manager")
	return &ConfigManager{
		xdg: NewXDGDirs(),
	}
}

// GetDefaultConfig returns the default configuration
func (cm *ConfigManager) GetDefaultConfig() *Config {
	defaultConfig := &Config{
		MemoryBudgetMB: 256,
		WorkerCount:    2,
		QueueCapacity:  8,
		ChunkSizeKB:    0, // auto-sized per format and file size
		IdleTimeoutSec: 30,
		LogLevel:       "warn",
		FileLogging: &FileLoggingConfig{
			Enabled:    false,
			Filename:   "", // Empty = XDG cache path
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
			Compress:   true,
		},
		Tracking: &TrackingConfig{
			Enabled:      true,
			DatabasePath: "", // Empty = XDG cache path
		},
	}

	slog.Debug("generated default config",
		"memory_budget_mb", defaultConfig.MemoryBudgetMB,
		"worker_count", defaultConfig.WorkerCount,
		"queue_capacity", defaultConfig.QueueCapacity,
		"log_level", defaultConfig.LogLevel)

	return defaultConfig
}

// LoadFromFile loads configuration from a specific file
func (cm *ConfigManager) LoadFromFile(filePath string) (*Config, error) {
	slog.Debug("loading config from file", "file_path", filePath)

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Error("failed to read config file", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = json.Unmarshal(data, &config)
	if err != nil {
		slog.Error("failed to parse config JSON", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	err = cm.ValidateConfig(&config)
	if err != nil {
		slog.Error("config validation failed", "file_path", filePath, "error", err)
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	slog.Debug("config loaded successfully",
		"file_path", filePath,
		"memory_budget_mb", config.MemoryBudgetMB,
		"worker_count", config.WorkerCount)

	return &config, nil
}

// SaveToFile saves configuration to a specific file
func (cm *ConfigManager) SaveToFile(config *Config, filePath string) error {
	slog.Debug("saving config to file", "file_path", filePath)

	err := cm.ValidateConfig(config)
	if err != nil {
		slog.Error("cannot save invalid config", "error", err)
		return fmt.Errorf("cannot save invalid config: %w", err)
	}

	dir := filepath.Dir(filePath)
	err = os.MkdirAll(dir, 0755)
	if err != nil {
		slog.Error("failed to create config directory", "directory", dir, "error", err)
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		slog.Error("failed to marshal config", "error", err)
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	err = os.WriteFile(filePath, data, 0644)
	if err != nil {
		slog.Error("failed to write config file", "file_path", filePath, "error", err)
		return fmt.Errorf("failed to write config file: %w", err)
	}

	slog.Info("config saved successfully", "file_path", filePath)
	return nil
}

// LoadConfig loads configuration using XDG path discovery
func (cm *ConfigManager) LoadConfig() (*Config, error) {
	slog.Debug("loading config using XDG path discovery")

	configPaths := cm.xdg.GetConfigPaths("config.json")

	for i, configPath := range configPaths {
		slog.Debug("checking config path", "path_index", i, "path", configPath)

		if _, err := os.Stat(configPath); err == nil {
			slog.Debug("found config file", "path", configPath)
			return cm.LoadFromFile(configPath)
		}
	}

	slog.Debug("no config file found, using defaults")
	return cm.GetDefaultConfig(), nil
}

// ValidateConfig validates configuration values
func (cm *ConfigManager) ValidateConfig(config *Config) error {
	var errors []string

	if config.MemoryBudgetMB <= 0 {
		errors = append(errors, fmt.Sprintf("memory_budget_mb must be positive, got %d", config.MemoryBudgetMB))
	}

	if config.WorkerCount <= 0 {
		errors = append(errors, fmt.Sprintf("worker_count must be positive, got %d", config.WorkerCount))
	}

	if config.QueueCapacity < 0 {
		errors = append(errors, fmt.Sprintf("queue_capacity must be >= 0, got %d", config.QueueCapacity))
	}

	if config.ChunkSizeKB < 0 {
		errors = append(errors, fmt.Sprintf("chunk_size_kb must be >= 0, got %d", config.ChunkSizeKB))
	}

	if config.IdleTimeoutSec < 0 {
		errors = append(errors, fmt.Sprintf("idle_timeout_sec must be >= 0, got %d", config.IdleTimeoutSec))
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if config.LogLevel != "" {
		valid := false
		for _, level := range validLogLevels {
			if config.LogLevel == level {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, fmt.Sprintf("invalid log level '%s', must be one of: %s",
				config.LogLevel, strings.Join(validLogLevels, ", ")))
		}
	}

	if config.FileLogging != nil {
		fileLogging := config.FileLogging

		if fileLogging.MaxSizeMB < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_size_mb must be >= 0, got %d", fileLogging.MaxSizeMB))
		}

		if fileLogging.MaxBackups < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_backups must be >= 0, got %d", fileLogging.MaxBackups))
		}

		if fileLogging.MaxAgeDays < 0 {
			errors = append(errors, fmt.Sprintf("file logging max_age_days must be >= 0, got %d", fileLogging.MaxAgeDays))
		}
	}

	if len(errors) > 0 {
		errMsg := strings.Join(errors, "; ")
		slog.Error("config validation failed", "errors", errMsg)
		return fmt.Errorf("config validation failed: %s", errMsg)
	}

	slog.Debug("config validation passed")
	return nil
}

// MergeConfigs merges two configurations, with override taking precedence
func (cm *ConfigManager) MergeConfigs(base, override *Config) *Config {
	slog.Debug("merging configurations")

	merged := *base

	if override.MemoryBudgetMB != 0 {
		merged.MemoryBudgetMB = override.MemoryBudgetMB
	}
	if override.WorkerCount != 0 {
		merged.WorkerCount = override.WorkerCount
	}
	if override.QueueCapacity != 0 {
		merged.QueueCapacity = override.QueueCapacity
	}
	if override.ChunkSizeKB != 0 {
		merged.ChunkSizeKB = override.ChunkSizeKB
	}
	if override.IdleTimeoutSec != 0 {
		merged.IdleTimeoutSec = override.IdleTimeoutSec
	}
	if override.LogLevel != "" {
		merged.LogLevel = override.LogLevel
	}
	if override.FileLogging != nil {
		merged.FileLogging = override.FileLogging
	}
	if override.Tracking != nil {
		merged.Tracking = override.Tracking
	}

	slog.Debug("configurations merged successfully")
	return &merged
}

// ApplyEnvironmentOverrides applies environment variable overrides to config
func (cm *ConfigManager) ApplyEnvironmentOverrides(config *Config) *Config {
	slog.Debug("applying environment variable overrides")

	result := *config

	if budgetStr := os.Getenv("SONIX_MEMORY_BUDGET_MB"); budgetStr != "" {
		if budget, err := strconv.Atoi(budgetStr); err == nil && budget > 0 {
			result.MemoryBudgetMB = budget
			slog.Debug("applied memory budget override from environment", "value", budget)
		} else {
			slog.Warn("invalid SONIX_MEMORY_BUDGET_MB environment variable", "value", budgetStr)
		}
	}

	if workersStr := os.Getenv("SONIX_WORKERS"); workersStr != "" {
		if workers, err := strconv.Atoi(workersStr); err == nil && workers > 0 {
			result.WorkerCount = workers
			slog.Debug("applied worker count override from environment", "value", workers)
		} else {
			slog.Warn("invalid SONIX_WORKERS environment variable", "value", workersStr)
		}
	}

	if chunkStr := os.Getenv("SONIX_CHUNK_SIZE_KB"); chunkStr != "" {
		if chunk, err := strconv.Atoi(chunkStr); err == nil && chunk >= 0 {
			result.ChunkSizeKB = chunk
			slog.Debug("applied chunk size override from environment", "value", chunk)
		} else {
			slog.Warn("invalid SONIX_CHUNK_SIZE_KB environment variable", "value", chunkStr)
		}
	}

	if logLevel := os.Getenv("SONIX_LOG_LEVEL"); logLevel != "" {
		result.LogLevel = logLevel
		slog.Debug("applied log level override from environment", "value", logLevel)
	}

	if trackingStr := os.Getenv("SONIX_TRACKING"); trackingStr != "" {
		if enabled, err := strconv.ParseBool(trackingStr); err == nil {
			if result.Tracking == nil {
				result.Tracking = &TrackingConfig{}
			} else {
				tracking := *result.Tracking
				result.Tracking = &tracking
			}
			result.Tracking.Enabled = enabled
			slog.Debug("applied tracking override from environment", "value", enabled)
		} else {
			slog.Warn("invalid SONIX_TRACKING environment variable", "value", trackingStr)
		}
	}

	slog.Debug("environment overrides applied")
	return &result
}

// ApplyLogLevel configures slog with the specified log level
func (cm *ConfigManager) ApplyLogLevel(logLevel string) error {
	return cm.ApplyLogLevelWithWriter(logLevel, os.Stderr)
}

// ApplyLogLevelWithWriter configures slog with the specified log level and
// custom writer (for testing)
func (cm *ConfigManager) ApplyLogLevelWithWriter(logLevel string, writer io.Writer) error {
	if logLevel == "" {
		slog.Debug("no log level specified, keeping current slog configuration")
		return nil
	}

	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		err := fmt.Errorf("invalid log level '%s', must be one of: debug, info, warn, error", logLevel)
		slog.Error("invalid log level for slog configuration", "log_level", logLevel, "error", err)
		return err
	}

	handler := slog.NewTextHandler(writer, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))

	slog.Debug("slog configured successfully", "log_level", logLevel, "slog_level", level)
	return nil
}

// ResolveLogFilePath resolves the log file path using the XDG cache
// directory when filename is empty
func (cm *ConfigManager) ResolveLogFilePath(filename string) string {
	if filename != "" {
		return filename
	}
	return filepath.Join(cm.xdg.GetCachePath("logs"), "sonix.log")
}

// ResolveDatabasePath resolves the tracking database path using the XDG
// cache directory when path is empty
func (cm *ConfigManager) ResolveDatabasePath(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	if err := cm.xdg.CreateCacheDir("tracking"); err != nil {
		return "", fmt.Errorf("failed to create tracking cache directory: %w", err)
	}
	return filepath.Join(cm.xdg.GetCachePath("tracking"), "sessions.db"), nil
}

// MemoryBudgetBytes converts the configured budget to bytes.
func (c *Config) MemoryBudgetBytes() uint64 {
	return uint64(c.MemoryBudgetMB) * 1024 * 1024
}

// ChunkSizeBytes converts the configured chunk size to bytes; 0 means the
// session picks an optimal size.
func (c *Config) ChunkSizeBytes() int {
	return c.ChunkSizeKB * 1024
}
