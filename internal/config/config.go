package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const envPrefix = "CHATTY"

type Config struct {
	Server Server
	Store  Store
	Crypto Crypto
	Auth   Auth
	Log    Log
	Seed   Seed
}

type Server struct {
	Addr     string
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

type Store struct {
	Driver string
	DSN    string
}

type Crypto struct {
	PBKDF2Iterations int `mapstructure:"pbkdf2_iterations"`
}

type Auth struct {
	CookieSecret string `mapstructure:"cookie_secret"`
}

type Log struct {
	Level  string
	Format string
}

type Seed struct {
	Password string
}

var drivers = map[string]bool{
	"memory":   true,
	"sqlite3":  true,
	"postgres": true,
	"bolt":     true,
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.key_file", "")
	v.SetDefault("store.driver", "sqlite3")
	v.SetDefault("store.dsn", "chatty.db")
	v.SetDefault("crypto.pbkdf2_iterations", 100000)
	v.SetDefault("auth.cookie_secret", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("seed.password", "password123")
}

// LoadConfig builds a viper instance from defaults, an optional YAML file and
// CHATTY_* environment variables. A .env file in the working directory is
// loaded into the environment first when present.
func LoadConfig(filename string) (*viper.Viper, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if filename == "" {
		return v, nil
	}

	v.SetConfigFile(filename)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, errors.New("config file not found")
		}
		return nil, err
	}
	return v, nil
}

func ParseConfig(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		slog.Error("Unable to unmarshal config", "err", err)
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) Validate() error {
	if !drivers[c.Store.Driver] {
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Store.Driver != "memory" && c.Store.DSN == "" {
		return errors.New("config: store.dsn is required")
	}
	if c.Crypto.PBKDF2Iterations < 1 {
		return fmt.Errorf("config: pbkdf2_iterations must be positive, got %d", c.Crypto.PBKDF2Iterations)
	}
	if c.Server.KeyFile != "" && c.Server.CertFile == "" {
		return errors.New("config: server.key_file requires server.cert_file")
	}
	if c.Auth.CookieSecret == "" {
		return errors.New("config: auth.cookie_secret is required")
	}
	return nil
}
