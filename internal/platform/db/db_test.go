package db

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
auth:
  jwt_secret: dev-secret
`))
	require.NoError(t, err)

	assert.Equal(t, "dev", cfg.Mode)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, 1, cfg.Lending.MinDays)
	assert.Equal(t, 30, cfg.Lending.MaxDays)
	assert.Equal(t, 5*time.Second, cfg.Lending.LockTimeout)
	assert.Equal(t, 24*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestParseConfig_Full(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
mode: release
server:
  addr: ":9000"
storage:
  driver: mysql
database:
  host: db
  port: 3307
  user: lib
  password: pw
  dbname: library
  lock_wait_timeout: 3
redis:
  addr: "redis:6379"
  ttl: 10m
auth:
  jwt_secret: 0123456789abcdef0123456789abcdef
  token_ttl: 2h
lending:
  min_days: 2
  max_days: 14
  lock_timeout: 250ms
  timezone: Asia/Tokyo
`))
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, 10*time.Minute, cfg.Redis.TTL)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL)
	assert.Equal(t, 250*time.Millisecond, cfg.Lending.LockTimeout)
	assert.Equal(t, "Asia/Tokyo", cfg.Location().String())

	dsn := cfg.DB.DSN()
	assert.True(t, strings.HasPrefix(dsn, "lib:pw@tcp(db:3307)/library?"), dsn)
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "innodb_lock_wait_timeout=3")
}

func TestParseConfig_Invalid(t *testing.T) {
	cases := map[string]string{
		"no secret":         "mode: dev\n",
		"bad mode":          "mode: prod\nauth: {jwt_secret: x}\n",
		"bad driver":        "storage: {driver: sqlite}\nauth: {jwt_secret: x}\n",
		"mysql no host":     "storage: {driver: mysql}\nauth: {jwt_secret: x}\n",
		"short release key": "mode: release\nauth: {jwt_secret: short}\n",
		"days reversed":     "auth: {jwt_secret: x}\nlending: {min_days: 10, max_days: 5}\n",
		"bad timezone":      "auth: {jwt_secret: x}\nlending: {timezone: Mars/Olympus}\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseConfig([]byte(src))
			assert.Error(t, err)
		})
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements(schemaSQL)
	require.Len(t, stmts, 3)
	for _, s := range stmts {
		assert.True(t, strings.HasPrefix(s, "CREATE TABLE IF NOT EXISTS"), s)
		assert.NotContains(t, s, "--")
	}
}

// MYSQL_DSN が無ければスキップ
func TestMigrate_MySQL(t *testing.T) {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		t.Skip("MYSQL_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := Open(ctx, dsn)
	if err != nil {
		t.Skipf("mysql unavailable: %v", err)
	}
	defer conn.Close()

	require.NoError(t, Migrate(ctx, conn))
	require.NoError(t, Migrate(ctx, conn))
}
