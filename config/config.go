package config

import (
	"strings"
	"time"

	"tangle-node/db"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EvictPolicy decides what happens to the durable copy of a vertex when it is pruned from memory
type EvictPolicy string

const (
	// EvictPersist writes the final metadata before dropping the vertex from memory
	EvictPersist EvictPolicy = "persist"
	// EvictDiscard deletes the vertex from the backend as well
	EvictDiscard EvictPolicy = "discard"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// TangleConfig is the configuration of the in-memory tangle
type TangleConfig struct {
	// BelowMaxDepth is the max milestone index lag a tip may have before it is not selected
	BelowMaxDepth uint32 `mapstructure:"below_max_depth"`
	// MilestoneCacheDepth is how many milestones are kept in memory behind the solid one
	MilestoneCacheDepth uint32 `mapstructure:"milestone_cache_depth"`
	// SyncThreshold is the tolerated gap between latest known and latest solid milestone
	SyncThreshold  uint32        `mapstructure:"sync_threshold"`
	FetchTimeout   time.Duration `mapstructure:"fetch_timeout"`
	EvictPolicy    EvictPolicy   `mapstructure:"evict_policy"`
	PruningEnabled bool          `mapstructure:"pruning_enabled"`
}

type StorageConfig struct {
	Engine string `mapstructure:"engine"`
	Path   string `mapstructure:"path"`
}

type LogConfig struct {
	AppLogFile string `mapstructure:"app_log_file"`
	Level      string `mapstructure:"level"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// NodeConfig is everything cmd needs to wire a node
type NodeConfig struct {
	Tangle  TangleConfig  `mapstructure:"tangle"`
	Storage StorageConfig `mapstructure:"storage"`
	Log     LogConfig     `mapstructure:"log"`
	Server  ServerConfig  `mapstructure:"server"`
}

// DefaultTangleConfig is also what tests start from
func DefaultTangleConfig() TangleConfig {
	return TangleConfig{
		BelowMaxDepth:       15,
		MilestoneCacheDepth: 30,
		SyncThreshold:       2,
		FetchTimeout:        2 * time.Second,
		EvictPolicy:         EvictPersist,
		PruningEnabled:      true,
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultTangleConfig()
	v.SetDefault("tangle.below_max_depth", d.BelowMaxDepth)
	v.SetDefault("tangle.milestone_cache_depth", d.MilestoneCacheDepth)
	v.SetDefault("tangle.sync_threshold", d.SyncThreshold)
	v.SetDefault("tangle.fetch_timeout", d.FetchTimeout)
	v.SetDefault("tangle.evict_policy", string(d.EvictPolicy))
	v.SetDefault("tangle.pruning_enabled", d.PruningEnabled)
	v.SetDefault("storage.engine", db.EngineLevelDB)
	v.SetDefault("storage.path", "data/tangle")
	v.SetDefault("log.level", "info")
	v.SetDefault("server.port", 8080)
}

// Load reads the YAML file at path, applies defaults and TANGLE_* environment overrides
// and validates the result. An empty path uses defaults and environment only.
func Load(path string) (*NodeConfig, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("TANGLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", path)
		}
	}
	var ret NodeConfig
	if err := v.Unmarshal(&ret); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := ret.Validate(); err != nil {
		return nil, err
	}
	return &ret, nil
}

func (c *NodeConfig) Validate() error {
	if err := c.Tangle.Validate(); err != nil {
		return err
	}
	if !db.IsSupportedEngine(c.Storage.Engine) {
		return errors.Wrapf(ErrInvalidConfig, "storage.engine %q", c.Storage.Engine)
	}
	if c.Storage.Path == "" {
		return errors.Wrap(ErrInvalidConfig, "storage.path is empty")
	}
	if c.Server.Port <= 0 {
		return errors.Wrapf(ErrInvalidConfig, "server.port %d", c.Server.Port)
	}
	return nil
}

// Validate must pass before a tangle is constructed
func (c *TangleConfig) Validate() error {
	if c.BelowMaxDepth == 0 {
		return errors.Wrap(ErrInvalidConfig, "below_max_depth must be positive")
	}
	if c.MilestoneCacheDepth == 0 {
		return errors.Wrap(ErrInvalidConfig, "milestone_cache_depth must be positive")
	}
	if c.SyncThreshold == 0 {
		return errors.Wrap(ErrInvalidConfig, "sync_threshold must be positive")
	}
	if c.FetchTimeout <= 0 {
		return errors.Wrap(ErrInvalidConfig, "fetch_timeout must be positive")
	}
	switch c.EvictPolicy {
	case EvictPersist, EvictDiscard:
	default:
		return errors.Wrapf(ErrInvalidConfig, "evict_policy %q", c.EvictPolicy)
	}
	return nil
}
