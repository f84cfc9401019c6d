package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/convoflow/convoflow/internal/api"
	"github.com/convoflow/convoflow/internal/store"
	"github.com/convoflow/convoflow/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ConvoFlow state data
	DefaultStateDir = "/var/lib/convoflow"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "convoflow.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping ConvoFlow")
	slog.Debug("Final configuration",
		"dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "redis_set", *flags.redisAddr != "")
	if err := api.Run(apiOpts...); err != nil {
		slog.Error("ConvoFlow failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ConvoFlow exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL   string
	StateDir      string
	RedisAddr     string
	APIAddr       string
	SweepExpr     string
	SessionMaxAge time.Duration
}

// Flags holds command line flag values
type Flags struct {
	stateDir      *string
	dbDSN         *string
	redisAddr     *string
	apiAddr       *string
	sweepExpr     *string
	sessionMaxAge *time.Duration
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("CONVOFLOW_STATE_DIR"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		APIAddr:       os.Getenv("API_ADDR"),
		SweepExpr:     os.Getenv("SESSION_SWEEP_SCHEDULE"),
		SessionMaxAge: util.ParseDurationEnv("SESSION_MAX_AGE", 0),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CONVOFLOW_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// Without a database URL, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"CONVOFLOW_STATE_DIR", config.StateDir,
		"REDIS_ADDR_SET", config.RedisAddr != "",
		"API_ADDR", config.APIAddr,
		"SESSION_SWEEP_SCHEDULE", config.SweepExpr)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for ConvoFlow data (overrides $CONVOFLOW_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN: SQLite path or Postgres URL (overrides $DATABASE_URL)"),
		redisAddr:     flag.String("redis-addr", config.RedisAddr, "Redis address for the flow snapshot cache (overrides $REDIS_ADDR)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		sweepExpr:     flag.String("sweep-schedule", config.SweepExpr, "cron schedule for the stale session sweep (overrides $SESSION_SWEEP_SCHEDULE)"),
		sessionMaxAge: flag.Duration("session-max-age", config.SessionMaxAge, "idle age after which sessions are finished (overrides $SESSION_MAX_AGE)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"redisAddr", *flags.redisAddr,
		"apiAddr", *flags.apiAddr,
		"sweepExpr", *flags.sweepExpr)

	// Follow an overridden state directory when the DSN was the derived default
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates necessary directories for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(*flags.dbDSN) == "sqlite" {
		stateDir := filepath.Dir(*flags.dbDSN)
		slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}
	return nil
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.dbDSN != "" {
		apiOpts = append(apiOpts,
			api.WithDBDriver(store.DetectDSNType(*flags.dbDSN)),
			api.WithDSN(*flags.dbDSN),
		)
	}
	if *flags.redisAddr != "" {
		apiOpts = append(apiOpts, api.WithRedisAddr(*flags.redisAddr))
	}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.sweepExpr != "" {
		apiOpts = append(apiOpts, api.WithSweepExpr(*flags.sweepExpr))
	}
	if *flags.sessionMaxAge > 0 {
		apiOpts = append(apiOpts, api.WithSessionMaxAge(*flags.sessionMaxAge))
	}
	return apiOpts
}
