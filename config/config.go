/*
Package config loads server configuration.

SOURCES (later wins):
  1. Built-in defaults
  2. .env file (path from ENV_FILE, default ".env"; missing file is fine)
  3. Process environment
  4. Command-line flags

VARIABLES:
  PORT                HTTP port (default 8080)
  DB_DRIVER           sqlite | postgres | memory (default sqlite); memory
                      copies the whole ledger per transaction, demos only
  DB_PATH             SQLite path (default staking.db, ":memory:" allowed)
  DATABASE_URL        Postgres DSN, required for DB_DRIVER=postgres
  REDIS_URL           Enables the Redis lock when set
  OWNER_ADDRESS       Deploys the contract with this owner on first start
  CONTRACT_ADDRESS    The staking contract's custody account
  TOKEN_ADDRESS       The staked token
  RESERVE_ADDRESS     Registers a reserve custodian bound to contract + token
  LIABILITY_SCHEDULE  Cron spec for the liability report (default @every 1h)
  LOG_LEVEL           logrus level (default info)
  CORS_ORIGINS        Comma-separated allowed origins (default *)
  SHUTDOWN_TIMEOUT    Graceful shutdown budget (default 30s)
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/warp/stake-ledger/staking"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Dev defaults; a real deployment sets its own.
const (
	defaultContract = "0x0000000000000000000000000000000000005701"
	defaultToken    = "0x0000000000000000000000000000000000007701"
)

// Config is the resolved server configuration.
type Config struct {
	Port        int    `validate:"min=1,max=65535"`
	DBDriver    string `validate:"oneof=sqlite postgres memory"`
	DBPath      string `validate:"required_if=DBDriver sqlite"`
	DatabaseURL string `validate:"required_if=DBDriver postgres"`
	RedisURL    string

	Owner    staking.Address
	Contract staking.Address
	Token    staking.Address
	Reserve  staking.Address

	LiabilitySchedule string        `validate:"required"`
	LogLevel          string        `validate:"oneof=trace debug info warn warning error fatal panic"`
	CORSOrigins       []string      `validate:"min=1"`
	ShutdownTimeout   time.Duration `validate:"gt=0"`
}

// Load resolves the configuration from the environment and args
// (typically os.Args[1:]).
func Load(args []string) (*Config, error) {
	env, err := readEnvFile()
	if err != nil {
		return nil, err
	}

	port, portErr := env.int("PORT", 8080)
	shutdown, shutdownErr := env.duration("SHUTDOWN_TIMEOUT", 30*time.Second)
	if err := errors.Join(portErr, shutdownErr); err != nil {
		return nil, err
	}

	fset := flag.NewFlagSet("stake-ledger", flag.ContinueOnError)
	var (
		cfg      Config
		owner    string
		contract string
		tokenArg string
		reserve  string
		origins  string
	)
	fset.IntVar(&cfg.Port, "port", port, "HTTP server port")
	fset.StringVar(&cfg.DBDriver, "db-driver", env.str("DB_DRIVER", DriverSQLite), "sqlite, postgres or memory (demo only)")
	fset.StringVar(&cfg.DBPath, "db", env.str("DB_PATH", "staking.db"), "SQLite database path")
	fset.StringVar(&cfg.DatabaseURL, "database-url", env.str("DATABASE_URL", ""), "Postgres DSN")
	fset.StringVar(&cfg.RedisURL, "redis-url", env.str("REDIS_URL", ""), "Redis URL for the distributed lock")
	fset.StringVar(&owner, "owner", env.str("OWNER_ADDRESS", ""), "contract owner, deployed on first start")
	fset.StringVar(&contract, "contract", env.str("CONTRACT_ADDRESS", defaultContract), "staking contract address")
	fset.StringVar(&tokenArg, "token", env.str("TOKEN_ADDRESS", defaultToken), "staked token address")
	fset.StringVar(&reserve, "reserve", env.str("RESERVE_ADDRESS", ""), "reserve custodian to register")
	fset.StringVar(&cfg.LiabilitySchedule, "liability-schedule", env.str("LIABILITY_SCHEDULE", "@every 1h"), "cron spec for the liability report")
	fset.StringVar(&cfg.LogLevel, "log-level", env.str("LOG_LEVEL", "info"), "log level")
	fset.StringVar(&origins, "cors-origins", env.str("CORS_ORIGINS", "*"), "comma-separated allowed origins")
	fset.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", shutdown, "graceful shutdown timeout")

	if err := fset.Parse(args); err != nil {
		return nil, err
	}

	for _, a := range []struct {
		name string
		raw  string
		dst  *staking.Address
	}{
		{"owner", owner, &cfg.Owner},
		{"contract", contract, &cfg.Contract},
		{"token", tokenArg, &cfg.Token},
		{"reserve", reserve, &cfg.Reserve},
	} {
		if a.raw == "" {
			continue
		}
		addr, err := staking.ParseAddress(a.raw)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", a.name, err)
		}
		*a.dst = addr
	}
	cfg.CORSOrigins = splitList(origins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if staking.IsZeroAddress(c.Contract) {
		return errors.New("invalid config: contract address is required")
	}
	if staking.IsZeroAddress(c.Token) {
		return errors.New("invalid config: token address is required")
	}
	return nil
}

// =============================================================================
// ENVIRONMENT
// =============================================================================

// envSource looks up the process environment first, then the .env file.
type envSource map[string]string

func readEnvFile() (envSource, error) {
	path := os.Getenv("ENV_FILE")
	if path == "" {
		path = ".env"
	}
	vals, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return envSource{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return envSource(vals), nil
}

func (e envSource) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	if v, ok := e[key]; ok {
		return v
	}
	return def
}

func (e envSource) int(key string, def int) (int, error) {
	v := e.str(key, "")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config %s: invalid integer %q", key, v)
	}
	return n, nil
}

func (e envSource) duration(key string, def time.Duration) (time.Duration, error) {
	v := e.str(key, "")
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config %s: invalid duration %q", key, v)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
