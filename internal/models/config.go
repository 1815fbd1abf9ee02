package models

import "time"

// Config represents the application configuration
type Config struct {
	Backend  string
	Database DatabaseConfig
	Formance FormanceConfig
	Refresh  RefreshConfig
	Redis    RedisConfig
	Server   ServerConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path                string
	MaxOpenConns        int
	MaxIdleConns        int
	ConnMaxLifetime     time.Duration
	ConnMaxIdleTime     time.Duration
	PingTimeout         time.Duration
	BusyTimeout         time.Duration
	CreateDummyAccounts bool
}

// FormanceConfig holds the Formance Stack connection settings
type FormanceConfig struct {
	StackURL       string
	ClientID       string
	ClientSecret   string
	LedgerName     string
	AssetPrecision int
}

// RefreshConfig holds the monthly refresh policy and scheduler settings
type RefreshConfig struct {
	ProAmount               int64  `yaml:"pro_amount"`
	FreeAmount              int64  `yaml:"free_amount"`
	Schedule                string `yaml:"schedule"`
	Workers                 int    `yaml:"workers"`
	RecentTransactionsLimit int    `yaml:"recent_transactions_limit"`
	PolicyFile              string `yaml:"-"`
}

// RedisConfig holds the optional distributed run lock settings.
// An empty Addr disables the lock.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	LockTTL  time.Duration
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Addr               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	CORSAllowedOrigins []string
}
