package docent

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/viper"

	"github.com/docent-db/docent/storage"
	"github.com/docent-db/docent/storage/boltstore"
	"github.com/docent-db/docent/storage/memory"
	"github.com/docent-db/docent/storage/redistore"
	"github.com/docent-db/docent/storage/sqlstore"
)

// Engine names accepted by Config.Engine.
const (
	EngineMemory = "memory"
	EngineBolt   = "bolt"
	EngineRedis  = "redis"
	EngineSQL    = "sql"
)

// Config selects and configures a storage engine. Only the section matching
// Engine is read; the others may stay zero.
type Config struct {
	// Engine names the backend: memory, bolt, redis or sql.
	Engine string      `mapstructure:"engine"`
	Bolt   BoltConfig  `mapstructure:"bolt"`
	Redis  RedisConfig `mapstructure:"redis"`
	SQL    SQLConfig   `mapstructure:"sql"`
}

// BoltConfig configures the bbolt engine.
type BoltConfig struct {
	Path string `mapstructure:"path"`
}

// RedisConfig configures the Redis engine.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// SQLConfig configures the database/sql engine. The driver must be linked
// into the binary by the caller.
type SQLConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
	Table  string `mapstructure:"table"`
}

// DefaultConfig returns the in-memory engine with every backend section at
// its package default.
func DefaultConfig() Config {
	redisDef := redistore.DefaultConfig()
	sqlDef := sqlstore.DefaultConfig()
	return Config{
		Engine: EngineMemory,
		Bolt:   BoltConfig{Path: "docent.db"},
		Redis: RedisConfig{
			Addr:     redisDef.Addr,
			Password: redisDef.Password,
			DB:       redisDef.DB,
			Prefix:   redisDef.Prefix,
		},
		SQL: SQLConfig{
			Driver: sqlDef.Driver,
			DSN:    sqlDef.DSN,
			Table:  sqlDef.Table,
		},
	}
}

// LoadConfig reads docent.yml or docent.yaml from the working directory,
// layering DOCENT_* environment variables over it. A missing file is fine;
// defaults fill everything the file and environment leave out.
func LoadConfig() (*Config, error) {
	v := viper.New()

	def := DefaultConfig()
	v.SetDefault("engine", def.Engine)
	v.SetDefault("bolt.path", def.Bolt.Path)
	v.SetDefault("redis.addr", def.Redis.Addr)
	v.SetDefault("redis.password", def.Redis.Password)
	v.SetDefault("redis.db", def.Redis.DB)
	v.SetDefault("redis.prefix", def.Redis.Prefix)
	v.SetDefault("sql.driver", def.SQL.Driver)
	v.SetDefault("sql.dsn", def.SQL.DSN)
	v.SetDefault("sql.table", def.SQL.Table)

	v.SetConfigName("docent")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DOCENT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// No config file; defaults and environment carry the load.
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &config, nil
}

// Open builds the engine the configuration names. An empty name means the
// in-memory engine.
func Open(cfg *Config) (storage.Engine, error) {
	switch cfg.Engine {
	case "", EngineMemory:
		return memory.New(), nil
	case EngineBolt:
		return boltstore.Open(cfg.Bolt.Path)
	case EngineRedis:
		return redistore.Open(redistore.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
	case EngineSQL:
		return sqlstore.Open(sqlstore.Config{
			Driver: cfg.SQL.Driver,
			DSN:    cfg.SQL.DSN,
			Table:  cfg.SQL.Table,
		})
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Engine)
	}
}

// Close releases an engine's underlying resources. Engines that hold none,
// like the in-memory one, close as a no-op.
func Close(engine storage.Engine) error {
	if c, ok := engine.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
