package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Address  string
		HTTPPort string
	}
	Database struct {
		Driver string // "mysql" | "postgres" | "" (без БД, in-memory режим)
		DSN    string
	}
	Logging struct {
		Level  string
		Format string // "text" | "json"
		File   string
	}
	Relay struct {
		BaseURL        string
		Secret         string
		TimeoutSeconds int
	}
	ADMS struct {
		AutoClone           bool
		SyncIntervalSeconds int
		ErrorDelay          int
		Delay               int
		TransInterval       int
	}
}

// Load читает turnstile.yaml + переменные окружения TURNSTILE_*.
// Отсутствующий файл — не ошибка: все ключи имеют дефолты.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("turnstile")
	v.SetConfigType("yaml")
	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/turnstile")

	v.SetEnvPrefix("TURNSTILE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.http_port", "8081")
	v.SetDefault("database.driver", "")
	v.SetDefault("database.dsn", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file", "")
	v.SetDefault("relay.base_url", "")
	v.SetDefault("relay.secret", "")
	v.SetDefault("relay.timeout_seconds", 10)
	v.SetDefault("adms.auto_clone", true)
	v.SetDefault("adms.sync_interval_seconds", 60)
	v.SetDefault("adms.error_delay", 30)
	v.SetDefault("adms.delay", 10)
	v.SetDefault("adms.trans_interval", 1)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	cfg.Server.Address = v.GetString("server.address")
	cfg.Server.HTTPPort = v.GetString("server.http_port")
	cfg.Database.Driver = v.GetString("database.driver")
	cfg.Database.DSN = v.GetString("database.dsn")
	cfg.Logging.Level = v.GetString("logging.level")
	cfg.Logging.Format = v.GetString("logging.format")
	cfg.Logging.File = v.GetString("logging.file")
	cfg.Relay.BaseURL = v.GetString("relay.base_url")
	cfg.Relay.Secret = v.GetString("relay.secret")
	cfg.Relay.TimeoutSeconds = v.GetInt("relay.timeout_seconds")
	cfg.ADMS.AutoClone = v.GetBool("adms.auto_clone")
	cfg.ADMS.SyncIntervalSeconds = v.GetInt("adms.sync_interval_seconds")
	cfg.ADMS.ErrorDelay = v.GetInt("adms.error_delay")
	cfg.ADMS.Delay = v.GetInt("adms.delay")
	cfg.ADMS.TransInterval = v.GetInt("adms.trans_interval")
	return cfg, nil
}

func (c *Config) RelayTimeout() time.Duration {
	if c.Relay.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.Relay.TimeoutSeconds) * time.Second
}

func (c *Config) SyncInterval() time.Duration {
	if c.ADMS.SyncIntervalSeconds <= 0 {
		return time.Minute
	}
	return time.Duration(c.ADMS.SyncIntervalSeconds) * time.Second
}
