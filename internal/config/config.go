package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/foveate/hostd/internal/logging"
)

var log = logging.L("config")

// Config holds the full set of daemon settings: the fields the session
// protocol engine and child-process supervisor need to operate, plus the
// ambient logging knobs shared by every component.
type Config struct {
	BundleID     string `mapstructure:"bundle_id"`
	Port         int    `mapstructure:"port"`
	Address      string `mapstructure:"address"`
	ForceBarcode bool   `mapstructure:"force_barcode"`

	MediaServiceExecPath string   `mapstructure:"media_service_exec_path"`
	MediaServiceArgs     []string `mapstructure:"media_service_args"`
	MediaServiceVersion  string   `mapstructure:"media_service_version"`

	IdentityFilePath string `mapstructure:"identity_file_path"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

func Default() *Config {
	return &Config{
		Port:                55000,
		Address:             "0.0.0.0",
		MediaServiceVersion: "6.0.0",
		LogLevel:            "info",
		LogFormat:           "text",
		LogMaxSizeMB:        50,
		LogMaxBackups:       3,
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("hostd")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("FOVEATE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	// Validate config: fatals block startup, warnings are logged and continue.
	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %w", result.Fatals[0])
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("bundle_id", cfg.BundleID)
	viper.Set("port", cfg.Port)
	viper.Set("address", cfg.Address)
	viper.Set("force_barcode", cfg.ForceBarcode)
	viper.Set("media_service_exec_path", cfg.MediaServiceExecPath)
	viper.Set("media_service_args", cfg.MediaServiceArgs)
	viper.Set("media_service_version", cfg.MediaServiceVersion)
	viper.Set("identity_file_path", cfg.IdentityFilePath)
	viper.Set("log_level", cfg.LogLevel)
	viper.Set("log_format", cfg.LogFormat)
	viper.Set("log_file", cfg.LogFile)
	viper.Set("log_max_size_mb", cfg.LogMaxSizeMB)
	viper.Set("log_max_backups", cfg.LogMaxBackups)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "hostd.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	return os.Chmod(cfgPath, 0600)
}

// GetDataDir returns the platform-specific data directory for daemon state.
// The identity file, the media-service pid file and the log file are not
// placed here: they use identity_file_path (or the identity package's own
// default), the executable's directory, and log_file respectively.
func GetDataDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Foveate", "hostd")
	case "darwin":
		return "/Library/Application Support/Foveate/hostd"
	default:
		return "/var/lib/hostd"
	}
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Foveate", "hostd")
	case "darwin":
		return "/Library/Application Support/Foveate/hostd"
	default:
		return "/etc/hostd"
	}
}
