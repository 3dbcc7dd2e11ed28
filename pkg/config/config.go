package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	DIR_NAME   = ".stasis"
	FILE_NAME  = "config"
	FILE_TYPE  = "json"
	DIR_PERM   = 0o755
	FILE_PERM  = 0o644
	ENV_PREFIX = "STASIS"

	DEFAULT_LOG_LEVEL          = "info"
	DEFAULT_CRIU_BINARY        = "criu"
	DEFAULT_CRIU_LOG_LEVEL     = 4
	DEFAULT_CHECKPOINT_DIR     = "checkpoint"
	DEFAULT_CRIU_LEAVE_RUNNING = false
)

// The default global config. This will get overwritten
// by the config file or env vars during startup, if they exist.
var Global Config = Config{
	LogLevel: DEFAULT_LOG_LEVEL,
	Checkpoint: Checkpoint{
		Dir: DEFAULT_CHECKPOINT_DIR,
	},
	CRIU: CRIU{
		BinaryPath:   DEFAULT_CRIU_BINARY,
		LogLevel:     DEFAULT_CRIU_LOG_LEVEL,
		LeaveRunning: DEFAULT_CRIU_LEAVE_RUNNING,
	},
}

// The current config directory, set during Init
var Dir string

func init() {
	setDefaults()
	bindEnvVars()
	viper.Unmarshal(&Global)
}

type InitArgs struct {
	Config    string
	ConfigDir string
}

func Init(args InitArgs) error {
	if args.ConfigDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		Dir = filepath.Join(homeDir, DIR_NAME)
	} else {
		Dir = args.ConfigDir
	}

	viper.AddConfigPath(Dir)
	viper.SetConfigPermissions(FILE_PERM)
	viper.SetConfigType(FILE_TYPE)
	viper.SetConfigName(FILE_NAME)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("Config file %s is either outdated or invalid. Please delete or update it: %w", viper.ConfigFileUsed(), err)
		}
	}

	if args.Config != "" {
		reader := strings.NewReader(args.Config)
		if err := viper.MergeConfig(reader); err != nil {
			return fmt.Errorf("Provided config string is invalid: %w", err)
		}
	}

	if err := viper.Unmarshal(&Global); err != nil {
		return fmt.Errorf("Config file %s is either outdated or invalid. Please delete or update it: %w", viper.ConfigFileUsed(), err)
	}

	return nil
}

// Loads the global defaults into viper
func setDefaults() {
	viper.SetDefault("log_level", DEFAULT_LOG_LEVEL)
	viper.SetDefault("checkpoint.dir", DEFAULT_CHECKPOINT_DIR)
	viper.SetDefault("criu.binary_path", DEFAULT_CRIU_BINARY)
	viper.SetDefault("criu.log_level", DEFAULT_CRIU_LOG_LEVEL)
	viper.SetDefault("criu.leave_running", DEFAULT_CRIU_LEAVE_RUNNING)
	viper.SetTypeByDefaultValue(true)
}

// Add bindings for env vars so env vars can be used as backup
// when a value is not found in config. The env var is the config
// key prefixed with the env prefix, all uppercase.
//
// Example: The key `criu.binary_path` binds to env var `STASIS_CRIU_BINARY_PATH`.
func bindEnvVars() {
	viper.SetEnvPrefix(ENV_PREFIX)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}
