package config

import (
	"context"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	config       = viper.New()
	configHolder atomic.Value
)

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Otel struct {
		Addr     string `mapstructure:"ADDR"`
		Protocol string `mapstructure:"PROTOCOL"`
	} `mapstructure:"OTEL"`
	Pyroscope struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"PYROSCOPE"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Grpc struct {
		Addr string `mapstructure:"ADDR"`
	} `mapstructure:"GRPC_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Approval struct {
		DefaultTimeoutDays int           `mapstructure:"DEFAULT_TIMEOUT_DAYS"`
		SweepInterval      time.Duration `mapstructure:"SWEEP_INTERVAL"`
		ExpiryWarnWindow   time.Duration `mapstructure:"EXPIRY_WARN_WINDOW"`
	} `mapstructure:"APPROVAL"`
	License struct {
		DefaultValidityDays int `mapstructure:"DEFAULT_VALIDITY_DAYS"`
		RenewalDays         int `mapstructure:"RENEWAL_DAYS"`
		KeyMaxAttempts      int `mapstructure:"KEY_MAX_ATTEMPTS"`
	} `mapstructure:"LICENSE"`
}

// Active returns the most recently loaded configuration, falling back to the
// initial load when no reload has happened yet.
func Active(initial *Config) *Config {
	if cfg, ok := configHolder.Load().(*Config); ok {
		return cfg
	}
	return initial
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func LoadConfig(p Params) *Config {

	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	if err := config.ReadInConfig(); err != nil {
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		os.Exit(1)
	}

	applyDefaults(&cfg)

	if p.Vault != nil {
		mergeVaultSecrets(p.Vault, &cfg)
	}

	configHolder.Store(&cfg)

	config.OnConfigChange(func(e fsnotify.Event) {
		zap.L().Info("config file changed, reloading", zap.String("file", e.Name))

		var newcfg Config
		if err := config.Unmarshal(&newcfg); err != nil {
			zap.L().Error("failed to reload config", zap.Error(err))
			return
		}
		applyDefaults(&newcfg)
		configHolder.Store(&newcfg)
	})
	config.WatchConfig()

	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Approval.DefaultTimeoutDays <= 0 {
		cfg.Approval.DefaultTimeoutDays = 7
	}
	if cfg.Approval.SweepInterval <= 0 {
		cfg.Approval.SweepInterval = 15 * time.Minute
	}
	if cfg.Approval.ExpiryWarnWindow <= 0 {
		cfg.Approval.ExpiryWarnWindow = 24 * time.Hour
	}
	if cfg.License.DefaultValidityDays <= 0 {
		cfg.License.DefaultValidityDays = 365
	}
	if cfg.License.RenewalDays <= 0 {
		cfg.License.RenewalDays = 365
	}
	if cfg.License.KeyMaxAttempts <= 0 {
		cfg.License.KeyMaxAttempts = 5
	}
}

func mergeVaultSecrets(client *vault.Client, cfg *Config) {
	ctx := context.Background()

	zap.L().Info("Starting Get Secrets", zap.String("path", cfg.AppEnv))
	secret, err := client.Secrets.KvV2Read(ctx, cfg.AppEnv, vault.WithMountPath("secret"))
	if err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		os.Exit(1)
	}
	zap.L().Info("Success Get Secret")

	get := func(key string) string {
		if val, ok := secret.Data.Data[key].(string); ok {
			return val
		}
		return ""
	}

	cfg.Database.User = get("postgres_user")
	cfg.Database.Password = get("postgres_password")
	cfg.Redis.Password = get("redis_password")
}
