// Package config loads dbc-extract settings from a YAML file and DBCX_*
// environment variables using viper. Command-line flags are applied on top
// by the cli package.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable, e.g. DBCX_SCHEMA.
const EnvPrefix = "DBCX"

// Config holds settings shared by all commands.
type Config struct {
	// Schema is a path or s3:// URI of the JSON schema file.
	Schema string `mapstructure:"schema"`
	// Raw permits decoding WDB5 tables that have no schema.
	Raw   bool `mapstructure:"raw"`
	Debug bool `mapstructure:"debug"`
	Human bool `mapstructure:"human"`
	// AWSRegion is used for s3:// paths.
	AWSRegion string `mapstructure:"aws_region"`
	// TempDir holds tables downloaded from S3.
	TempDir string `mapstructure:"temp_dir"`
	// WideTables lists overlay tables whose fields are all stored as 4 bytes.
	WideTables []string `mapstructure:"wide_tables"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		TempDir:    os.TempDir(),
		WideTables: []string{"SpellEffect"},
	}
}

// Load reads configuration. With an explicit path that file must exist;
// otherwise dbc-extract.yaml is looked up in the working directory and
// $HOME/.config/dbc-extract, and a missing file is not an error.
//
// Flags in fs named after a key, with '-' for '_', override the file and
// the environment when set on the command line. fs may be nil.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	def := Default()
	v.SetDefault("schema", def.Schema)
	v.SetDefault("raw", def.Raw)
	v.SetDefault("debug", def.Debug)
	v.SetDefault("human", def.Human)
	v.SetDefault("aws_region", def.AWSRegion)
	v.SetDefault("temp_dir", def.TempDir)
	v.SetDefault("wide_tables", def.WideTables)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("dbc-extract")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "dbc-extract"))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for _, key := range v.AllKeys() {
			if f := fs.Lookup(strings.ReplaceAll(key, "_", "-")); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", f.Name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}
