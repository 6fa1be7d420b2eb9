package server

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds server configuration. Values are loaded from YAML and can
// be overridden by flags and environment in cmd/server.
type Config struct {
	// --- Identity ---
	WorldName string `yaml:"world_name"`

	// --- Transports ---
	TelnetPort int    `yaml:"telnet_port"`
	TLS        bool   `yaml:"tls"`
	TLSPort    int    `yaml:"tls_port"`
	TLSCert    string `yaml:"tls_cert"`
	TLSKey     string `yaml:"tls_key"`
	WebPort    int    `yaml:"web_port"`

	// --- Stores ---
	WorldPath    string `yaml:"world_path"`
	AccountsPath string `yaml:"accounts_path"`
	AuditPath    string `yaml:"audit_path"`

	// --- Content ---
	WorldDir string `yaml:"world_dir"` // definition file tree loaded at startup
	TextDir  string `yaml:"text_dir"`  // welcome/MOTD text files

	// --- Login ---
	MaxRetries    int    `yaml:"max_retries"`
	AdminLogin    string `yaml:"admin_login"`    // bootstrap account
	AdminPassword string `yaml:"admin_password"` // bootstrap account
	JWTSecret     string `yaml:"jwt_secret"`
	JWTExpiry     int    `yaml:"jwt_expiry"` // seconds

	// --- Engine tuning ---
	TickInterval      time.Duration `yaml:"tick_interval"`
	WriteBackInterval time.Duration `yaml:"write_back_interval"`
	DirtyThreshold    int           `yaml:"dirty_threshold"`
	DepthLimit        int           `yaml:"depth_limit"`
	EvalBudget        time.Duration `yaml:"eval_budget"`
	OutboundQueue     int           `yaml:"outbound_queue"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`

	// --- Observability ---
	LogLevel string `yaml:"log_level"`
	Metrics  bool   `yaml:"metrics"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		WorldName:         "gaia",
		TelnetPort:        8888,
		WebPort:           4000,
		WorldPath:         "gaia-world.db",
		AccountsPath:      "gaia-accounts.db",
		MaxRetries:        3,
		JWTExpiry:         86400,
		TickInterval:      time.Second,
		WriteBackInterval: 60 * time.Second,
		DirtyThreshold:    200,
		DepthLimit:        128,
		EvalBudget:        500 * time.Millisecond,
		OutboundQueue:     64,
		IdleTimeout:       time.Hour,
		LogLevel:          "info",
		Metrics:           true,
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("server: read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("server: parse config %s: %w", path, err)
	}
	return cfg, nil
}
