package minikv

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/RichardKnop/minikv/internal/minikv"
	"github.com/RichardKnop/minikv/internal/pkg/buffer"
	"github.com/RichardKnop/minikv/internal/pkg/logging"
)

// ConnectionConfig holds parsed connection string parameters
type ConnectionConfig struct {
	FilePath        string // Database file path, the log lives next to it with a -wal suffix
	Degree          int    // Maximum keys per tree node (default: 4)
	CacheBlocks     int    // Blocks kept in the buffer cache (default: 100)
	CheckpointEvery int    // Mutations between automatic checkpoints (default: 1000, 0 = never)
	Sync            bool   // Fsync the log after every append (default: true)
	LogLevel        string // Log level: debug, info, warn, error (default: warn)
}

// DefaultConnectionConfig returns default configuration
func DefaultConnectionConfig(filePath string) *ConnectionConfig {
	return &ConnectionConfig{
		FilePath:        filePath,
		Degree:          minikv.DefaultDegree,
		CacheBlocks:     buffer.DefaultCapacity,
		CheckpointEvery: minikv.DefaultCheckpointEvery,
		Sync:            true,
		LogLevel:        "warn",
	}
}

// ParseConnectionString parses a connection string with optional query parameters.
//
// Format: /path/to/database.db?param1=value1&param2=value2
//
// Supported parameters:
//   - degree=N            : Maximum keys per node, at least 3 (default: 4)
//   - cache_blocks=N      : Buffer cache capacity in blocks (default: 100)
//   - checkpoint_every=N  : Flush after N mutations, 0 disables (default: 1000)
//   - sync=true|false     : Fsync the log after every append (default: true)
//   - log_level=debug|info|warn|error : Set logging level (default: warn)
//
// Examples:
//   - "./my.db"                        : Default settings
//   - "./my.db?degree=64"              : Wider nodes
//   - "./my.db?sync=false&log_level=debug" : Faster, noisier
func ParseConnectionString(connStr string) (*ConnectionConfig, error) {
	// Split on first '?' to separate path from query params
	parts := strings.SplitN(connStr, "?", 2)

	if parts[0] == "" {
		return nil, fmt.Errorf("connection string has no database path")
	}
	config := DefaultConnectionConfig(parts[0])

	if len(parts) == 1 {
		return config, nil
	}

	queryParams, err := url.ParseQuery(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid connection string query parameters: %w", err)
	}

	if degreeStr := queryParams.Get("degree"); degreeStr != "" {
		degree, err := strconv.Atoi(degreeStr)
		if err != nil {
			return nil, fmt.Errorf("invalid degree parameter: must be an integer, got %q", degreeStr)
		}
		if degree < minikv.MinDegree || degree > minikv.MaxDegree {
			return nil, fmt.Errorf("invalid degree parameter: must be between %d and %d, got %d", minikv.MinDegree, minikv.MaxDegree, degree)
		}
		config.Degree = degree
	}

	if blocksStr := queryParams.Get("cache_blocks"); blocksStr != "" {
		blocks, err := strconv.Atoi(blocksStr)
		if err != nil {
			return nil, fmt.Errorf("invalid cache_blocks parameter: must be a positive integer, got %q", blocksStr)
		}
		if blocks < 1 {
			return nil, fmt.Errorf("invalid cache_blocks parameter: must be positive, got %d", blocks)
		}
		config.CacheBlocks = blocks
	}

	if everyStr := queryParams.Get("checkpoint_every"); everyStr != "" {
		every, err := strconv.Atoi(everyStr)
		if err != nil {
			return nil, fmt.Errorf("invalid checkpoint_every parameter: must be an integer, got %q", everyStr)
		}
		if every < 0 {
			return nil, fmt.Errorf("invalid checkpoint_every parameter: must be non-negative, got %d", every)
		}
		config.CheckpointEvery = every
	}

	if syncStr := queryParams.Get("sync"); syncStr != "" {
		sync, err := strconv.ParseBool(syncStr)
		if err != nil {
			return nil, fmt.Errorf("invalid sync parameter: must be 'true' or 'false', got %q", syncStr)
		}
		config.Sync = sync
	}

	if logLevel := queryParams.Get("log_level"); logLevel != "" {
		logLevel = strings.ToLower(logLevel)
		if _, err := logging.ParseLevel(logLevel); err != nil {
			return nil, fmt.Errorf("invalid log_level parameter: %w", err)
		}
		config.LogLevel = logLevel
	}

	return config, nil
}

// GetZapLevel converts the log level string to a zap level, falling back to
// warn for values ParseConnectionString would have rejected.
func (c *ConnectionConfig) GetZapLevel() zap.AtomicLevel {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	}
	return zap.NewAtomicLevelAt(level)
}

// DatabaseOptions translates the config into engine options.
func (c *ConnectionConfig) DatabaseOptions() []minikv.DatabaseOption {
	return []minikv.DatabaseOption{
		minikv.WithDegree(c.Degree),
		minikv.WithCacheBlocks(c.CacheBlocks),
		minikv.WithCheckpointEvery(c.CheckpointEvery),
		minikv.WithSync(c.Sync),
	}
}
