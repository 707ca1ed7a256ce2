package configs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/GiorgiUbiria/secure_banking/internal/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

type Config struct {
	Env    string `mapstructure:"env"`
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	DB struct {
		Driver string `mapstructure:"driver"`
		DSN    string `mapstructure:"dsn"`
	} `mapstructure:"db"`
	JWT struct {
		SECRET string        `mapstructure:"secret"`
		TTL    time.Duration `mapstructure:"ttl"`
	} `mapstructure:"jwt"`
	Ledger struct {
		LockTimeout            time.Duration `mapstructure:"lock_timeout"`
		CriticalThreshold      string        `mapstructure:"critical_threshold"`
		CreditRequiresApproval bool          `mapstructure:"credit_requires_approval"`
	} `mapstructure:"ledger"`
	Lock struct {
		Driver string `mapstructure:"driver"`
	} `mapstructure:"lock"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Mongo struct {
		URI      string `mapstructure:"uri"`
		Database string `mapstructure:"database"`
	} `mapstructure:"mongo"`
	Mirror struct {
		Driver      string        `mapstructure:"driver"`
		Interval    time.Duration `mapstructure:"interval"`
		BatchSize   int           `mapstructure:"batch_size"`
		MaxAttempts int           `mapstructure:"max_attempts"`
		BaseDelay   time.Duration `mapstructure:"base_delay"`
	} `mapstructure:"mirror"`
}

var AppConfig Config

func LoadConfig() {
	if err := godotenv.Load(); err != nil {
		logger.Log.Debug("no .env file, using process environment")
	}

	cfg, err := LoadConfigFrom("./configs")
	if err != nil {
		logger.Log.Fatal("failed to read config", zap.Error(err))
	}
	AppConfig = cfg
}

// LoadConfigFrom reads config.yaml from dir. Environment variables override
// file values, e.g. LEDGER_LOCK_TIMEOUT overrides ledger.lock_timeout.
func LoadConfigFrom(dir string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var fileLookupError viper.ConfigFileNotFoundError
	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &fileLookupError) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		logger.Log.Warn("config file not found, using defaults", zap.String("dir", dir))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "production")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("jwt.ttl", 24*time.Hour)
	v.SetDefault("ledger.lock_timeout", 5*time.Second)
	v.SetDefault("ledger.critical_threshold", "0")
	v.SetDefault("ledger.credit_requires_approval", false)
	v.SetDefault("lock.driver", "local")
	v.SetDefault("mirror.driver", "memory")
	v.SetDefault("mirror.interval", 5*time.Second)
	v.SetDefault("mirror.batch_size", 50)
	v.SetDefault("mirror.max_attempts", 5)
	v.SetDefault("mirror.base_delay", 10*time.Second)
	v.SetDefault("mongo.database", "ledger_mirror")
}
