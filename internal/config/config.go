package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete application configuration
type Config struct {
	Server  ServerConfig  `yaml:"server" envconfig:"SERVER"`
	Logging LoggingConfig `yaml:"logging" envconfig:"LOGGING"`
	Paths   PathsConfig   `yaml:"paths" envconfig:"PATHS"`
	Store   StoreConfig   `yaml:"store" envconfig:"STORE"`
	NSE     NSEConfig     `yaml:"nse" envconfig:"EXCHANGE"`
	Enrich  EnrichConfig  `yaml:"enrich" envconfig:"ENRICH"`
	Drive   DriveConfig   `yaml:"drive" envconfig:"DRIVE"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" envconfig:"PORT" default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT" default:"5m"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT" default:"60s"`
	MaxHeaderBytes  int           `yaml:"max_header_bytes" envconfig:"MAX_HEADER_BYTES" default:"1048576"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT" default:"30s"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL" default:"info"`
	Format   string `yaml:"format" envconfig:"FORMAT" default:"json"`
	Output   string `yaml:"output" envconfig:"OUTPUT" default:"console"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH" default:"logs/app.log"`
}

// PathsConfig contains file system paths configuration
type PathsConfig struct {
	DataDir     string `yaml:"data_dir" envconfig:"DATA_DIR" default:"data"`
	ReportsDir  string `yaml:"reports_dir" envconfig:"REPORTS_DIR" default:"data/reports"`
	LogsDir     string `yaml:"logs_dir" envconfig:"LOGS_DIR" default:"logs"`
	ActionsFile string `yaml:"actions_file" envconfig:"ACTIONS_FILE" default:"corporate_actions.json"`
}

// StoreConfig contains embedded snapshot store configuration
type StoreConfig struct {
	Dir         string        `yaml:"dir" envconfig:"DIR" default:"data/store"`
	InMemory    bool          `yaml:"in_memory" envconfig:"IN_MEMORY" default:"false"`
	GCInterval  time.Duration `yaml:"gc_interval" envconfig:"GC_INTERVAL" default:"10m"`
	GCThreshold float64       `yaml:"gc_threshold" envconfig:"GC_THRESHOLD" default:"0.5"`
}

// NSEConfig contains exchange client configuration
type NSEConfig struct {
	BaseURL        string        `yaml:"base_url" envconfig:"BASE_URL" default:"https://www.nseindia.com"`
	ArchivesURL    string        `yaml:"archives_url" envconfig:"ARCHIVES_URL" default:"https://nsearchives.nseindia.com"`
	UserAgent      string        `yaml:"user_agent" envconfig:"USER_AGENT" default:"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"`
	RequestTimeout time.Duration `yaml:"request_timeout" envconfig:"REQUEST_TIMEOUT" default:"30s"`
	RateLimit      float64       `yaml:"rate_limit" envconfig:"RATE_LIMIT" default:"3"`
	RateBurst      int           `yaml:"rate_burst" envconfig:"RATE_BURST" default:"3"`
	RetryCount     int           `yaml:"retry_count" envconfig:"RETRY_COUNT" default:"2"`
}

// EnrichConfig bounds the per-symbol metrics fan-out
type EnrichConfig struct {
	Workers     int           `yaml:"workers" envconfig:"WORKERS" default:"16"`
	ChunkSize   int           `yaml:"chunk_size" envconfig:"CHUNK_SIZE" default:"50"`
	ChunkBudget time.Duration `yaml:"chunk_budget" envconfig:"CHUNK_BUDGET" default:"90s"`
}

// DriveConfig contains Google Drive upload configuration. Upload is
// disabled when CredentialsFile is empty.
type DriveConfig struct {
	CredentialsFile string `yaml:"credentials_file" envconfig:"CREDENTIALS_FILE"`
	FolderName      string `yaml:"folder_name" envconfig:"FOLDER_NAME" default:"NSE Reports"`
}

// Load loads configuration from environment variables and config file
func Load() (*Config, error) {
	var cfg Config

	// Environment variables take precedence over the file
	if err := envconfig.Process("NSE", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	configFile := getConfigFilePath()
	if _, err := os.Stat(configFile); err == nil {
		fileCfg, err := loadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
		cfg = mergeConfigs(*fileCfg, cfg)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if err := cfg.ensureDirs(); err != nil {
		return nil, fmt.Errorf("path setup failed: %w", err)
	}

	return &cfg, nil
}

// loadFromFile loads configuration from YAML file
func loadFromFile(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// mergeConfigs folds file values into the env-processed config. A file
// value wins over a compiled default but never over a set env var.
func mergeConfigs(fileConfig, envConfig Config) Config {
	if fileConfig.Server.Port != 0 && !envSet("NSE_SERVER_PORT") {
		envConfig.Server.Port = fileConfig.Server.Port
	}
	if fileConfig.Logging.Level != "" && !envSet("NSE_LOGGING_LEVEL") {
		envConfig.Logging.Level = fileConfig.Logging.Level
	}
	if fileConfig.Logging.Output != "" && !envSet("NSE_LOGGING_OUTPUT") {
		envConfig.Logging.Output = fileConfig.Logging.Output
	}
	if fileConfig.Paths.DataDir != "" && !envSet("NSE_PATHS_DATA_DIR") {
		envConfig.Paths.DataDir = fileConfig.Paths.DataDir
	}
	if fileConfig.Paths.ActionsFile != "" && !envSet("NSE_PATHS_ACTIONS_FILE") {
		envConfig.Paths.ActionsFile = fileConfig.Paths.ActionsFile
	}
	if fileConfig.Store.Dir != "" && !envSet("NSE_STORE_DIR") {
		envConfig.Store.Dir = fileConfig.Store.Dir
	}
	if fileConfig.NSE.BaseURL != "" && !envSet("NSE_EXCHANGE_BASE_URL") {
		envConfig.NSE.BaseURL = fileConfig.NSE.BaseURL
	}
	if fileConfig.NSE.ArchivesURL != "" && !envSet("NSE_EXCHANGE_ARCHIVES_URL") {
		envConfig.NSE.ArchivesURL = fileConfig.NSE.ArchivesURL
	}
	if fileConfig.Enrich.Workers != 0 && !envSet("NSE_ENRICH_WORKERS") {
		envConfig.Enrich.Workers = fileConfig.Enrich.Workers
	}
	if fileConfig.Drive.CredentialsFile != "" && !envSet("NSE_DRIVE_CREDENTIALS_FILE") {
		envConfig.Drive.CredentialsFile = fileConfig.Drive.CredentialsFile
	}
	return envConfig
}

func envSet(key string) bool {
	_, ok := os.LookupEnv(key)
	return ok
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Enrich.Workers < 1 {
		return fmt.Errorf("enrich workers must be positive, got %d", c.Enrich.Workers)
	}
	if c.Enrich.ChunkSize < 1 {
		return fmt.Errorf("enrich chunk size must be positive, got %d", c.Enrich.ChunkSize)
	}
	if c.NSE.RateLimit <= 0 {
		return fmt.Errorf("nse rate limit must be positive, got %f", c.NSE.RateLimit)
	}
	return nil
}

// ensureDirs creates the working directories if they do not exist
func (c *Config) ensureDirs() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.ReportsDir, c.Paths.LogsDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if !c.Store.InMemory && c.Store.Dir != "" {
		if err := os.MkdirAll(c.Store.Dir, 0755); err != nil {
			return fmt.Errorf("failed to create store directory %s: %w", c.Store.Dir, err)
		}
	}
	return nil
}

// getConfigFilePath returns the config file location, overridable via
// NSE_CONFIG_FILE for tests and packaging.
func getConfigFilePath() string {
	if path := os.Getenv("NSE_CONFIG_FILE"); path != "" {
		return path
	}
	return filepath.Join(".", "config.yaml")
}

// GetAddress returns the server listen address
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf(":%d", c.Port)
}
