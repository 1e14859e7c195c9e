package db

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	mysql "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"gopkg.in/yaml.v3"
)

const (
	driverName = "mysql"
	// DefaultConfigPath は LIB_CONFIG が無いときの設定ファイル
	DefaultConfigPath = "config/config.yaml"
	ConfigEnv         = "LIB_CONFIG"
)

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	// 起動時に schema.sql を流す
	Migrate bool `yaml:"migrate"`
	// innodb_lock_wait_timeout（秒）
	LockWaitTimeout int `yaml:"lock_wait_timeout"`
}

type Certs struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // memory | mysql
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"` // 空なら Idempotency-Key は無効
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	TokenTTL      time.Duration `yaml:"token_ttl"`
	AdminID       string        `yaml:"admin_id"`
	AdminPassword string        `yaml:"admin_password"`
}

type LendingConfig struct {
	MinDays     int           `yaml:"min_days"`
	MaxDays     int           `yaml:"max_days"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
	Timezone    string        `yaml:"timezone"`
}

type Config struct {
	Version     string         `yaml:"version"`
	Mode        string         `yaml:"mode"`
	Server      ServerConfig   `yaml:"server"`
	Certificate Certs          `yaml:"certificate"`
	Storage     StorageConfig  `yaml:"storage"`
	DB          DatabaseConfig `yaml:"database"`
	Redis       RedisConfig    `yaml:"redis"`
	Auth        AuthConfig     `yaml:"auth"`
	Lending     LendingConfig  `yaml:"lending"`
}

// ConfigPath は LIB_CONFIG 環境変数、無ければ DefaultConfigPath
func ConfigPath() string {
	if p := os.Getenv(ConfigEnv); p != "" {
		return p
	}
	return DefaultConfigPath
}

func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイルの読み込み失敗: %w", err)
	}
	return ParseConfig(buf)
}

func ParseConfig(buf []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(buf, &cfg); err != nil {
		return nil, fmt.Errorf("設定ファイルのパース失敗: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = "dev"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8443"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "memory"
	}
	if c.DB.Port == 0 {
		c.DB.Port = 3306
	}
	if c.DB.LockWaitTimeout == 0 {
		c.DB.LockWaitTimeout = 5
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = 24 * time.Hour
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Lending.MinDays == 0 {
		c.Lending.MinDays = 1
	}
	if c.Lending.MaxDays == 0 {
		c.Lending.MaxDays = 30
	}
	if c.Lending.LockTimeout == 0 {
		c.Lending.LockTimeout = 5 * time.Second
	}
	if c.Lending.Timezone == "" {
		c.Lending.Timezone = "UTC"
	}
}

func (c *Config) Validate() error {
	switch c.Mode {
	case "dev", "release":
	default:
		return fmt.Errorf("mode は dev か release: %q", c.Mode)
	}
	switch c.Storage.Driver {
	case "memory":
	case "mysql":
		if c.DB.Host == "" || c.DB.DBName == "" {
			return fmt.Errorf("storage.driver=mysql には database.host と database.dbname が必要")
		}
	default:
		return fmt.Errorf("storage.driver は memory か mysql: %q", c.Storage.Driver)
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("auth.jwt_secret が未設定")
	}
	if c.Mode == "release" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("release では auth.jwt_secret は32文字以上")
	}
	if c.Lending.MinDays < 1 || c.Lending.MaxDays < c.Lending.MinDays {
		return fmt.Errorf("lending.min_days / max_days が不正: %d..%d", c.Lending.MinDays, c.Lending.MaxDays)
	}
	if _, err := time.LoadLocation(c.Lending.Timezone); err != nil {
		return fmt.Errorf("lending.timezone が不正: %w", err)
	}
	return nil
}

// Location は lending.timezone（Validate 済み前提）
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Lending.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DSN: 日付は UTC で読み書きし、行ロック待ちは LockWaitTimeout 秒で打ち切る
func (c DatabaseConfig) DSN() string {
	mc := mysql.NewConfig()
	mc.User = c.Username
	mc.Passwd = c.Password
	mc.Net = "tcp"
	mc.Addr = fmt.Sprintf("%s:%d", c.Host, c.Port)
	mc.DBName = c.DBName
	mc.ParseTime = true
	mc.Loc = time.UTC
	mc.Timeout = 3 * time.Second
	mc.ReadTimeout = 5 * time.Second
	mc.WriteTimeout = 5 * time.Second
	mc.Params = map[string]string{
		"innodb_lock_wait_timeout": fmt.Sprint(c.LockWaitTimeout),
	}
	return mc.FormatDSN()
}

func Connect(ctx context.Context, c DatabaseConfig) (*sqlx.DB, error) {
	return Open(ctx, c.DSN())
}

func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("接続準備に失敗: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("DB接続に失敗: %w", err)
	}

	// 接続プール（合算がMySQLの max_connections を超えないよう配分する）
	db.SetMaxOpenConns(80)
	db.SetMaxIdleConns(20)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)

	return db, nil
}
