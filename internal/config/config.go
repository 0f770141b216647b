package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// QualityConfig mirrors the installable video qualities the pipeline starts
// with. These are installed once, when the agent is built; the control
// surface has no command that adds further qualities at runtime.
type QualityConfig struct {
	Name               string `mapstructure:"name"`
	Width              int    `mapstructure:"width"`
	Height             int    `mapstructure:"height"`
	BitrateKbps        int    `mapstructure:"bitrate_kbps"`
	FPS                int    `mapstructure:"fps"`
	KeyframeIntervalOv int    `mapstructure:"keyframe_interval"` // 0 = default to 2*fps
}

// Config is the agent's process-wide configuration, loaded once at startup
// and mutable in a few narrow spots (server_url) through the control surface.
type Config struct {
	ServerURL   string `mapstructure:"server_url"`
	DataDir     string `mapstructure:"data_dir"`
	DeviceFile  string `mapstructure:"device_file"`
	JWTSecret   string `mapstructure:"jwt_secret"`
	MaxSessions int    `mapstructure:"max_sessions"`

	STUNServers []string `mapstructure:"stun_servers"`

	Qualities []QualityConfig `mapstructure:"qualities"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

func Default() *Config {
	return &Config{
		ServerURL:   "wss://rendezvous.example.com/ws",
		DataDir:     GetDataDir(),
		DeviceFile:  "devices.json",
		MaxSessions: 5,
		STUNServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		},
		Qualities: []QualityConfig{
			{Name: "high", Width: 1920, Height: 1080, BitrateKbps: 4000, FPS: 30},
			{Name: "low", Width: 854, Height: 480, BitrateKbps: 600, FPS: 15},
		},
		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,
	}
}

// Load reads config from cfgFile (or the default search path), applies the
// LQMY_SERVER_URL-style environment overrides, validates, and returns it.
// Validation errors are logged as warnings and clamped in place; they never
// block startup, matching Validate's contract.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("agent")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("LQMY")
	_ = v.BindEnv("server_url")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	for _, err := range cfg.Validate() {
		slog.Warn("config validation", "error", err)
	}

	return cfg, nil
}

// SaveTo rewrites the on-disk config file. Used by set_server_addr and other
// control-surface mutations that must persist across restarts.
func SaveTo(cfg *Config, cfgFile string) error {
	v := viper.New()
	v.Set("server_url", cfg.ServerURL)
	v.Set("data_dir", cfg.DataDir)
	v.Set("device_file", cfg.DeviceFile)
	v.Set("max_sessions", cfg.MaxSessions)
	v.Set("stun_servers", cfg.STUNServers)
	v.Set("log_level", cfg.LogLevel)
	v.Set("log_format", cfg.LogFormat)
	v.Set("log_file", cfg.LogFile)
	v.Set("log_max_size_mb", cfg.LogMaxSizeMB)
	v.Set("log_max_backups", cfg.LogMaxBackups)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
	} else {
		cfgPath = filepath.Join(configDir(), "agent.yaml")
	}

	dir := filepath.Dir(cfgPath)
	if dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}

	if err := v.WriteConfigAs(cfgPath); err != nil {
		return err
	}
	return os.Chmod(cfgPath, 0600)
}

// GetDataDir returns the platform-specific data directory for the agent's
// persisted device table and runtime state.
func GetDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "LQMYDesk", "data")
	case "darwin":
		return "/Library/Application Support/LQMYDesk/data"
	default:
		return "/var/lib/lqmydesk"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "LQMYDesk")
	case "darwin":
		return "/Library/Application Support/LQMYDesk"
	default:
		return "/etc/lqmydesk"
	}
}
