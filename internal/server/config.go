package server

import (
	"cmp"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jacksonlee411/issuefields/pkg/authz"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config is read once from the environment at startup.
type Config struct {
	HTTPAddr         string
	StoreDriver      string
	DatabaseURL      string
	SQLitePath       string
	AllowlistPath    string
	AuthzModelPath   string
	AuthzPolicyPath  string
	AuthzMode        authz.Mode
	CatalogPath      string
	BaseURL          string
	AuthUserHeader   string
	AdminGroup       string
	MigrationWorkers int
	LogLevel         string
}

func ConfigFromEnv() (Config, error) {
	mode, err := authz.ModeFromEnv()
	if err != nil {
		return Config{}, err
	}
	workers, err := strconv.Atoi(getenvDefault("MIGRATION_WORKERS", "4"))
	if err != nil || workers < 1 {
		return Config{}, errors.New("server: MIGRATION_WORKERS must be a positive integer")
	}
	cfg := Config{
		HTTPAddr:         getenvDefault("HTTP_ADDR", ":8080"),
		StoreDriver:      strings.ToLower(getenvDefault("STORE_DRIVER", StoreMemory)),
		DatabaseURL:      dbDSNFromEnv(),
		SQLitePath:       getenvDefault("SQLITE_PATH", "issuefields.db"),
		AllowlistPath:    os.Getenv("ALLOWLIST_PATH"),
		AuthzModelPath:   os.Getenv("AUTHZ_MODEL_PATH"),
		AuthzPolicyPath:  os.Getenv("AUTHZ_POLICY_PATH"),
		AuthzMode:        mode,
		CatalogPath:      os.Getenv("FIELD_TYPE_CATALOG_PATH"),
		BaseURL:          os.Getenv("BASE_URL"),
		AuthUserHeader:   getenvDefault("AUTH_USER_HEADER", "X-Remote-User"),
		AdminGroup:       getenvDefault("ADMIN_GROUP", "issue-administrators"),
		MigrationWorkers: workers,
		LogLevel:         strings.ToLower(getenvDefault("LOG_LEVEL", "info")),
	}
	switch cfg.StoreDriver {
	case StoreMemory, StoreSQLite, StorePostgres:
	default:
		return Config{}, fmt.Errorf("server: invalid STORE_DRIVER %q (expected memory|sqlite|postgres)", cfg.StoreDriver)
	}
	return cfg, nil
}

// applyDefaults fills fields left unset by callers that build Config by hand,
// looking up config files relative to the repository root.
func (c *Config) applyDefaults() error {
	c.AuthzMode = cmp.Or(c.AuthzMode, authz.ModeEnforce)
	c.AuthUserHeader = cmp.Or(c.AuthUserHeader, "X-Remote-User")
	c.AdminGroup = cmp.Or(c.AdminGroup, "issue-administrators")

	var err error
	if c.AllowlistPath == "" {
		if c.AllowlistPath, err = findConfigFile("config/routing/allowlist.yaml"); err != nil {
			return err
		}
	}
	if c.AuthzModelPath == "" {
		if c.AuthzModelPath, err = findConfigFile("config/access/model.conf"); err != nil {
			return err
		}
	}
	if c.AuthzPolicyPath == "" {
		if c.AuthzPolicyPath, err = findConfigFile("config/access/policy.csv"); err != nil {
			return err
		}
	}
	if c.CatalogPath == "" {
		// the catalog is optional: every built-in type stays enabled without it
		c.CatalogPath, _ = findConfigFile("config/fieldtypes.yaml")
	}
	return nil
}

// findConfigFile looks for rel in the working directory and up to seven
// parents, so tests and binaries run from subdirectories find the repo config.
func findConfigFile(rel string) (string, error) {
	path := rel
	for range 8 {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", fmt.Errorf("server: %s not found", rel)
}

func dbDSNFromEnv() string {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		return v
	}

	host := getenvDefault("DB_HOST", "127.0.0.1")
	port := getenvDefault("DB_PORT", "5432")
	user := getenvDefault("DB_USER", "app")
	pass := getenvDefault("DB_PASSWORD", "app")
	name := getenvDefault("DB_NAME", "issuefields")
	sslmode := getenvDefault("DB_SSLMODE", "disable")

	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(user, pass),
		Host:   host + ":" + port,
		Path:   "/" + name,
	}
	q := u.Query()
	q.Set("sslmode", sslmode)
	u.RawQuery = q.Encode()
	return u.String()
}

// DatabaseURLFromEnv is shared with fieldtool.
func DatabaseURLFromEnv() string { return dbDSNFromEnv() }

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
