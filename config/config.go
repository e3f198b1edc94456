// Package config loads server settings from defaults, an optional config
// file, a .env file and REALMSYNC_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "REALMSYNC"

// Config is the full server configuration, one field per top-level key.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	Assets    AssetsConfig    `mapstructure:"assets"`
	Collision CollisionConfig `mapstructure:"collision"`
	Movement  MovementConfig  `mapstructure:"movement"`
	Combat    CombatConfig    `mapstructure:"combat"`
	Targeting TargetingConfig `mapstructure:"targeting"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Spawn     SpawnConfig     `mapstructure:"spawn"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Cache     CacheConfig     `mapstructure:"cache"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	File    string `mapstructure:"file"`
	Level   string `mapstructure:"level"`
	Console bool   `mapstructure:"console"`
}

type StoreConfig struct {
	Driver string `mapstructure:"driver"` // memory, mysql, postgres
	DSN    string `mapstructure:"dsn"`
}

type AssetsConfig struct {
	MapsDir string `mapstructure:"maps_dir"`
}

type CollisionConfig struct {
	TileSize   float64 `mapstructure:"tile_size"`
	FailClosed bool    `mapstructure:"fail_closed"`
}

type MovementConfig struct {
	Step      float64       `mapstructure:"step"`
	TickRate  int           `mapstructure:"tick_rate"`
	IdleAbort time.Duration `mapstructure:"idle_abort"`
}

type CombatConfig struct {
	Damage      int           `mapstructure:"damage"`
	Facing      string        `mapstructure:"facing"` // symmetric, legacy
	ReviveDelay time.Duration `mapstructure:"revive_delay"`
}

type TargetingConfig struct {
	Range        float64 `mapstructure:"range"`
	SelectRadius float64 `mapstructure:"select_radius"`
}

type ChatConfig struct {
	BaseTTL   time.Duration `mapstructure:"base_ttl"`
	PerChar   time.Duration `mapstructure:"per_char"`
	MaxLength int           `mapstructure:"max_length"`
}

type AuthConfig struct {
	Hasher     string `mapstructure:"hasher"` // bcrypt, argon2id
	TokenBytes int    `mapstructure:"token_bytes"`
	BcryptCost int    `mapstructure:"bcrypt_cost"`
}

type SpawnConfig struct {
	Map       string  `mapstructure:"map"`
	X         float64 `mapstructure:"x"`
	Y         float64 `mapstructure:"y"`
	Direction string  `mapstructure:"direction"`
}

type HTTPConfig struct {
	AdminKey    string   `mapstructure:"admin_key"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type CacheConfig struct {
	MapHashTTL time.Duration `mapstructure:"map_hash_ttl"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")

	v.SetDefault("log.file", "app.log")
	v.SetDefault("log.level", "debug")
	v.SetDefault("log.console", false)

	v.SetDefault("store.driver", "memory")
	v.SetDefault("store.dsn", "")

	v.SetDefault("assets.maps_dir", "assets/maps")

	v.SetDefault("collision.tile_size", 16)
	v.SetDefault("collision.fail_closed", false)

	v.SetDefault("movement.step", 2)
	v.SetDefault("movement.tick_rate", 20)
	v.SetDefault("movement.idle_abort", "30s")

	v.SetDefault("combat.damage", 10)
	v.SetDefault("combat.facing", "symmetric")
	v.SetDefault("combat.revive_delay", "3s")

	v.SetDefault("targeting.range", 300)
	v.SetDefault("targeting.select_radius", 32)

	v.SetDefault("chat.base_ttl", "7s")
	v.SetDefault("chat.per_char", "35ms")
	v.SetDefault("chat.max_length", 256)

	v.SetDefault("auth.hasher", "bcrypt")
	v.SetDefault("auth.token_bytes", 32)
	v.SetDefault("auth.bcrypt_cost", 10)

	v.SetDefault("spawn.map", "main")
	v.SetDefault("spawn.x", 0)
	v.SetDefault("spawn.y", 0)
	v.SetDefault("spawn.direction", "down")

	v.SetDefault("http.admin_key", "")
	v.SetDefault("http.cors_origins", []string{})

	v.SetDefault("cache.map_hash_ttl", "1m")
}

// Load reads configuration. file may be empty.
func Load(file string) (*Config, error) {
	_ = godotenv.Load(".env")

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory":
	case "mysql", "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("config: store.dsn is required for driver %q", c.Store.Driver)
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}
	if c.Movement.TickRate <= 0 {
		return fmt.Errorf("config: movement.tick_rate must be positive")
	}
	if c.Collision.TileSize <= 0 {
		return fmt.Errorf("config: collision.tile_size must be positive")
	}
	if c.Spawn.Map == "" {
		return fmt.Errorf("config: spawn.map is required")
	}
	return nil
}

// TickInterval is the room tick period.
func (m MovementConfig) TickInterval() time.Duration {
	return time.Second / time.Duration(m.TickRate)
}

// ChatTTL is how long a chat line of n characters stays visible.
func (c ChatConfig) ChatTTL(n int) time.Duration {
	return c.BaseTTL + time.Duration(n)*c.PerChar
}
