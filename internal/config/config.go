package config

import (
	"strings"
	"time"

	"github.com/hrkit/secgate/params"
	"github.com/spf13/viper"
)

const (
	DefaultListenAddr   = ":3000"
	DefaultCookieMaxAge = 7 * 24 * time.Hour
)

type MySQLConfig struct {
	Dsn             string `mapstructure:"dsn"`
	TablePrefix     string `mapstructure:"tablePrefix"`
	MaxIdleConns    int    `mapstructure:"maxIdleConns"`
	MaxOpenConns    int    `mapstructure:"maxOpenConns"`
	ConnMaxIdleTime int    `mapstructure:"connMaxIdleTime"`
	ConnMaxLifetime int    `mapstructure:"connMaxLifetime"`
}

type SessionConfig struct {
	SessionMaxAge  time.Duration `mapstructure:"sessionMaxAge"`
	CookieName     string        `mapstructure:"cookieName"`
	CookieHttpOnly bool          `mapstructure:"cookieHttpOnly"`
	CookieSecure   bool          `mapstructure:"cookieSecure"`
}

type RedisConfig struct {
	URL         string `mapstructure:"url"`
	PoolSize    int    `mapstructure:"poolSize"`
	ClusterMode bool   `mapstructure:"clusterMode"`
}

type CSRFConfig struct {
	TokenTTL    time.Duration `mapstructure:"tokenTTL"`
	ExemptPaths []string      `mapstructure:"exemptPaths"`
}

type Argon2Config struct {
	Memory      uint32 `mapstructure:"memory"`
	Time        uint32 `mapstructure:"time"`
	Parallelism uint8  `mapstructure:"parallelism"`
}

type PasswordConfig struct {
	Argon2       Argon2Config `mapstructure:"argon2"`
	HistoryLimit int          `mapstructure:"historyLimit"`
	MaxAgeDays   int          `mapstructure:"maxAgeDays"`
}

type IPMonitorConfig struct {
	MaxRequestsPerMinute int           `mapstructure:"maxRequestsPerMinute"`
	BlockDuration        time.Duration `mapstructure:"blockDuration"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type Config struct {
	Debug           bool            `mapstructure:"debug"`
	Env             string          `mapstructure:"env"`
	ListenAddr      string          `mapstructure:"listenAddr"`
	HealthCheckAddr string          `mapstructure:"healthCheckAddr"`
	AllowOrigins    []string        `mapstructure:"allowOrigins"`
	Redis           RedisConfig     `mapstructure:"redis"`
	Session         SessionConfig   `mapstructure:"session"`
	MySQL           MySQLConfig     `mapstructure:"mysql"`
	JWT             JWTConfig       `mapstructure:"jwt"`
	CSRF            CSRFConfig      `mapstructure:"csrf"`
	Password        PasswordConfig  `mapstructure:"password"`
	IPMonitor       IPMonitorConfig `mapstructure:"ipMonitor"`
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) Sanitize() error {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.HealthCheckAddr == "" {
		c.HealthCheckAddr = params.HealthCheckServerAddr
	}
	if c.Session.SessionMaxAge == 0 {
		c.Session.SessionMaxAge = DefaultCookieMaxAge
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "secgate_session"
	}
	if c.CSRF.TokenTTL == 0 {
		c.CSRF.TokenTTL = params.CSRFTokenExpiration
	}
	if c.Password.Argon2.Memory == 0 {
		c.Password.Argon2.Memory = params.Argon2DefaultMemory
	}
	if c.Password.Argon2.Time == 0 {
		c.Password.Argon2.Time = params.Argon2DefaultTime
	}
	if c.Password.Argon2.Parallelism == 0 {
		c.Password.Argon2.Parallelism = params.Argon2DefaultThreads
	}
	if c.Password.HistoryLimit == 0 {
		c.Password.HistoryLimit = params.PasswordHistoryLimit
	}
	if c.Password.MaxAgeDays == 0 {
		c.Password.MaxAgeDays = int(params.PasswordMaxAge / (24 * time.Hour))
	}
	if c.IPMonitor.MaxRequestsPerMinute == 0 {
		c.IPMonitor.MaxRequestsPerMinute = params.SuspiciousIPMaxPerMinute
	}
	if c.IPMonitor.BlockDuration == 0 {
		c.IPMonitor.BlockDuration = params.SuspiciousIPBlockDuration
	}
	return nil
}

func LoadConfig(filename string) (*Config, error) {
	viper.SetConfigFile(filename)
	viper.SetConfigType("yaml")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	if err := config.Sanitize(); err != nil {
		return nil, err
	}
	return &config, nil
}
