// Package config holds the server's fixed configuration record and its
// viper-backed loader (flags > env > config file > defaults), grounded on
// the teacher's am.Load/initViper precedence chain.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// LogFileLocation enumerates --log-file-location (spec.md §6).
type LogFileLocation string

const (
	LogFileDofile    LogFileLocation = "dofile"
	LogFileParent    LogFileLocation = "parent"
	LogFileWorkspace LogFileLocation = "workspace"
	LogFileExtension LogFileLocation = "extension"
	LogFileCustom    LogFileLocation = "custom"
)

// ResultDisplayMode enumerates --result-display-mode (spec.md §4.3, §6).
type ResultDisplayMode string

const (
	DisplayCompact ResultDisplayMode = "compact"
	DisplayFull    ResultDisplayMode = "full"
)

// StataEdition enumerates --stata-edition (spec.md §6).
type StataEdition string

const (
	EditionMP StataEdition = "mp"
	EditionSE StataEdition = "se"
	EditionBE StataEdition = "be"
)

// Config is the fixed configuration record replacing the source's dynamic
// config objects (spec.md §9 "Dynamic-typed config objects" design note).
type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	ForcePort bool  `mapstructure:"force_port"`

	StataPath    string       `mapstructure:"stata_path"`
	StataEdition StataEdition `mapstructure:"stata_edition"`

	LogFile         string          `mapstructure:"log_file"`
	LogFileLocation LogFileLocation `mapstructure:"log_file_location"`
	CustomLogDir    string          `mapstructure:"custom_log_directory"`

	WorkspaceRoot string `mapstructure:"workspace_root"`

	ResultDisplayMode ResultDisplayMode `mapstructure:"result_display_mode"`
	MaxOutputTokens   int               `mapstructure:"max_output_tokens"`

	LogLevel string `mapstructure:"log_level"`

	MultiSession   bool `mapstructure:"multi_session"`
	MaxSessions    int  `mapstructure:"max_sessions"`
	SessionTimeout int  `mapstructure:"session_timeout"` // seconds

	// Supplemental (§SPEC_FULL.md §6)
	MinEngineVersion string `mapstructure:"min_engine_version"`
	PrintConfig      bool   `mapstructure:"print_config"`
}

// SetDefaults installs the server's default values, grounded on
// am/defaults.go's v.SetDefault convention.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 4891)
	v.SetDefault("force_port", false)

	v.SetDefault("stata_edition", string(EditionSE))

	v.SetDefault("log_file_location", string(LogFileWorkspace))

	v.SetDefault("workspace_root", ".")

	v.SetDefault("result_display_mode", string(DisplayCompact))
	v.SetDefault("max_output_tokens", 4000)

	v.SetDefault("log_level", "INFO")

	v.SetDefault("multi_session", false)
	v.SetDefault("max_sessions", 8)
	v.SetDefault("session_timeout", 1800)
}

// New builds a viper instance bound to flags, environment (STATA_BRIDGE_*
// prefix), and an optional config file, in that precedence order — flags
// win, then env, then file, then defaults.
func New(flags *pflag.FlagSet, configFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("STATA_BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	// Flags are bound under their underscore spelling ("stata-path" ->
	// "stata_path") so they land on the mapstructure keys of Config.
	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if bindErr == nil {
				bindErr = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
