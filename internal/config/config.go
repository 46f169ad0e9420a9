package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration
type Config struct {
	// Global settings
	Format  string `mapstructure:"format"`
	Level   string `mapstructure:"level"`
	Quiet   bool   `mapstructure:"quiet"`
	Verbose bool   `mapstructure:"verbose"`

	// Default values for commands
	Defaults DefaultsConfig `mapstructure:"defaults"`
}

// DefaultsConfig holds default values for various commands
type DefaultsConfig struct {
	// Run command defaults
	DBPath         string `mapstructure:"db_path"`
	PythonExe      string `mapstructure:"python_exe"`
	AdapterHost    string `mapstructure:"adapter_host"`
	AdapterLogDir  string `mapstructure:"adapter_log_dir"`
	JustMyCode     bool   `mapstructure:"just_my_code"`
	StopOnEntry    bool   `mapstructure:"stop_on_entry"`
	RequestTimeout string `mapstructure:"request_timeout"`

	// Steps command defaults
	Limit int `mapstructure:"limit"`

	// Exclusion filters
	ExcludePattern string `mapstructure:"exclude_pattern"`
}

// Default returns a Config with default values
func Default() *Config {
	return &Config{
		Format:  "ndjson",
		Level:   "default",
		Quiet:   false,
		Verbose: false,
		Defaults: DefaultsConfig{
			PythonExe:      "python",
			AdapterHost:    "127.0.0.1",
			JustMyCode:     true,
			StopOnEntry:    true,
			RequestTimeout: "10s",
			Limit:          1000,
		},
	}
}

// Load loads configuration from files and environment
func Load() (*Config, error) {
	v := viper.New()

	// Set config name and type
	v.SetConfigName("adbg")
	v.SetConfigType("yaml")

	// Add config paths (in order of precedence, lowest first)
	// 1. System-wide config
	v.AddConfigPath("/etc/adbg/")
	// 2. User config directory
	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, "adbg"))
	}
	// 3. Home directory (as .adbg.yaml)
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
		v.SetConfigName(".adbg")
	}
	// 4. Current directory
	v.AddConfigPath(".")

	// Also check for .adbgrc file
	v.SetConfigName(".adbgrc")
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}

	// Environment variables
	v.SetEnvPrefix("ADBG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// Bind specific environment variables
	v.BindEnv("format", "ADBG_FORMAT")
	v.BindEnv("level", "ADBG_LEVEL")
	v.BindEnv("quiet", "ADBG_QUIET")
	v.BindEnv("verbose", "ADBG_VERBOSE")
	v.BindEnv("defaults.db_path", "ADBG_DB_PATH")
	v.BindEnv("defaults.python_exe", "ADBG_PYTHON_EXE")

	// Set defaults
	cfg := Default()
	v.SetDefault("format", cfg.Format)
	v.SetDefault("level", cfg.Level)
	v.SetDefault("quiet", cfg.Quiet)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("defaults.python_exe", cfg.Defaults.PythonExe)
	v.SetDefault("defaults.adapter_host", cfg.Defaults.AdapterHost)
	v.SetDefault("defaults.just_my_code", cfg.Defaults.JustMyCode)
	v.SetDefault("defaults.stop_on_entry", cfg.Defaults.StopOnEntry)
	v.SetDefault("defaults.request_timeout", cfg.Defaults.RequestTimeout)
	v.SetDefault("defaults.limit", cfg.Defaults.Limit)

	// Try to read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			// Config file was found but another error occurred
			return nil, err
		}
		// Config file not found; use defaults
	}

	// Unmarshal into struct
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific file
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ConfigFile returns the path to the config file that was loaded
func ConfigFile() string {
	v := viper.New()

	v.SetConfigName("adbg")
	v.SetConfigType("yaml")

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err == nil {
		return v.ConfigFileUsed()
	}

	// Try .adbgrc
	v.SetConfigName(".adbgrc")
	if err := v.ReadInConfig(); err == nil {
		return v.ConfigFileUsed()
	}

	return ""
}
