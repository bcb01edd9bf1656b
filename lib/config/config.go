/*package config loads the configuration of the meshsync driver. Every value
can be set through an environment variable named MESHSYNC_<KEY> (e.g.
MESHSYNC_REPEAT=10), or through a YAML or TOML file named by MESHSYNC_CONFIG.
Environment variables take precedence over the file.
*/
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"github.com/phil-mansfield/meshsync/lib/codec"
	"github.com/phil-mansfield/meshsync/lib/format"
)

const envPrefix = "MESHSYNC"

// Config contains the driver's settings.
type Config struct {
	// Threads is the number of threads used per process. -1 means every
	// core.
	Threads int `mapstructure:"threads"`
	// Codec is the compression applied to messages between ranks.
	Codec codec.Compression `mapstructure:"codec"`
	// Repeat is the number of synchronization rounds per field.
	Repeat int `mapstructure:"repeat"`
	// ExportRanks selects the ranks which write VTK pieces, in the format
	// accepted by format.ExpandSequence. Empty means every rank.
	ExportRanks string `mapstructure:"export_ranks"`
	// Rank is this process's rank. It is only used with Peers.
	Rank int `mapstructure:"rank"`
	// Peers is the host:port address of every rank. If it is empty, every
	// rank runs inside this process.
	Peers       []string      `mapstructure:"peers"`
	LogLevel    string        `mapstructure:"log_level"`
	LogJSON     bool          `mapstructure:"log_json"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Threads:     -1,
		Codec:       codec.None,
		Repeat:      1,
		ExportRanks: "",
		Rank:        0,
		Peers:       []string{},
		LogLevel:    "info",
		LogJSON:     false,
		DialTimeout: 10 * time.Second,
	}
}

// New returns a viper instance which reads MESHSYNC_* environment variables
// and knows every key's default.
func New() (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := map[string]interface{}{}
	if err := mapstructure.Decode(Default(), &defaults); err != nil {
		return nil, err
	}
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	v.SetDefault("config", "")
	return v, nil
}

// Load reads the configuration file named by the "config" key, if any, and
// decodes and validates the result.
func Load(v *viper.Viper) (*Config, error) {
	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
	cfg := Default()
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate returns an error describing the first invalid setting.
func (c *Config) Validate() error {
	if c.Threads == 0 || c.Threads < -1 {
		return fmt.Errorf("threads is set to %d, but it must be positive or -1", c.Threads)
	}
	if _, err := codec.Get(c.Codec); err != nil {
		return err
	}
	if c.Repeat < 1 {
		return fmt.Errorf("repeat is set to %d, but at least one round must be run", c.Repeat)
	}
	if _, err := format.NewSelection(c.ExportRanks); err != nil {
		return fmt.Errorf("export_ranks: %w", err)
	}
	if len(c.Peers) > 0 && (c.Rank < 0 || c.Rank >= len(c.Peers)) {
		return fmt.Errorf("rank is set to %d, but only %d peers are listed", c.Rank, len(c.Peers))
	}
	for i, p := range c.Peers {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("peer %d has an empty address", i)
		}
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout is set to %s, but must be positive", c.DialTimeout)
	}
	return nil
}
