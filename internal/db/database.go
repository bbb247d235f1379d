// Package db implements the control plane's durable adapter contract
// (internal/store.Adapter) against PostgreSQL: one table per entity kind,
// JSONB for the free-form value types the model package defines, and a
// tuned connection pool.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// ErrInvalidConfig marks a configuration failure (as opposed to an
// unreachable backend), so the process can exit with the configuration
// error code instead of the crash one.
var ErrInvalidConfig = errors.New("invalid database configuration")

// Config holds database connection configuration.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Database wraps a pooled *sql.DB connection to PostgreSQL.
type Database struct {
	db *sql.DB
}

// validateConfig rejects configuration values that would let an operator
// accidentally build an unsafe connection string from unsanitized input.
func validateConfig(config Config) error {
	if config.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}
	if net.ParseIP(config.Host) == nil {
		hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-\.]{0,253}[a-zA-Z0-9])?$`)
		if !hostnameRegex.MatchString(config.Host) {
			return fmt.Errorf("invalid database host: %s", config.Host)
		}
	}

	if config.Port == "" {
		return fmt.Errorf("database port cannot be empty")
	}
	port, err := strconv.Atoi(config.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid database port: %s (must be 1-65535)", config.Port)
	}

	if config.User == "" {
		return fmt.Errorf("database user cannot be empty")
	}
	userRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !userRegex.MatchString(config.User) {
		return fmt.Errorf("invalid database user: %s", config.User)
	}

	if config.DBName == "" {
		return fmt.Errorf("database name cannot be empty")
	}
	dbNameRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if !dbNameRegex.MatchString(config.DBName) {
		return fmt.Errorf("invalid database name: %s", config.DBName)
	}

	validSSLModes := []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	if config.SSLMode != "" {
		valid := false
		for _, mode := range validSSLModes {
			if config.SSLMode == mode {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid SSL mode: %s (must be one of: %s)", config.SSLMode, strings.Join(validSSLModes, ", "))
		}
	}

	return nil
}

// NewDatabase opens a connection pool to PostgreSQL and verifies it with a
// ping before returning.
func NewDatabase(config Config) (*Database, error) {
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	connStr := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	sqlDB, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetConnMaxIdleTime(1 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{db: sqlDB}, nil
}

// NewDatabaseForTesting wraps an existing *sql.DB (e.g. sqlmock) for unit
// tests. Not for production use.
func NewDatabaseForTesting(sqlDB *sql.DB) *Database {
	return &Database{db: sqlDB}
}

// Close closes the underlying connection pool.
func (d *Database) Close() error {
	return d.db.Close()
}

// DB returns the underlying *sql.DB for callers that need raw access.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Migrate creates the control plane's tables if they don't already exist.
func (d *Database) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS packs (
			id VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			version VARCHAR(100) NOT NULL,
			runtime_tag VARCHAR(50) NOT NULL,
			owner_id VARCHAR(255) NOT NULL,
			visibility VARCHAR(20) NOT NULL DEFAULT 'private',
			bundle_ref TEXT NOT NULL,
			description TEXT,
			min_runtime_version VARCHAR(50),
			metadata JSONB DEFAULT '{}',
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(name, version)
		)`,

		`CREATE TABLE IF NOT EXISTS nodes (
			id VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			runtime_tag VARCHAR(50) NOT NULL,
			allocatable JSONB NOT NULL DEFAULT '{}',
			allocated JSONB NOT NULL DEFAULT '{}',
			labels JSONB DEFAULT '{}',
			taints JSONB DEFAULT '[]',
			unschedulable BOOLEAN DEFAULT false,
			status VARCHAR(20) NOT NULL DEFAULT 'online',
			suspect_since TIMESTAMP,
			last_heartbeat TIMESTAMP NOT NULL,
			session_id VARCHAR(255),
			owner_id VARCHAR(255) NOT NULL,
			runtime_version VARCHAR(50),
			api_key_hash VARCHAR(255),
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_status ON nodes(status)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_owner ON nodes(owner_id)`,
		// Name is only unique among live (non-offline) nodes: a reconnect
		// re-registers under a fresh id once the prior record has aged out
		// to offline, per the lease engine's revocation flow.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_nodes_name_live ON nodes(name) WHERE status != 'offline'`,

		`CREATE TABLE IF NOT EXISTS deployments (
			id VARCHAR(255) PRIMARY KEY,
			namespace VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL,
			pack_name VARCHAR(255) NOT NULL,
			pack_version VARCHAR(100) NOT NULL,
			follow_latest BOOLEAN DEFAULT false,
			desired_replicas INT NOT NULL DEFAULT 0,
			template JSONB NOT NULL DEFAULT '{}',
			priority_class INT DEFAULT 0,
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			ready_replicas INT DEFAULT 0,
			available_replicas INT DEFAULT 0,
			updated_replicas INT DEFAULT 0,
			last_successful_version VARCHAR(100),
			failed_version VARCHAR(100),
			consecutive_failures INT DEFAULT 0,
			failure_backoff_until TIMESTAMP,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(namespace, name)
		)`,

		`CREATE TABLE IF NOT EXISTS pods (
			id VARCHAR(255) PRIMARY KEY,
			deployment_id VARCHAR(255) REFERENCES deployments(id) ON DELETE CASCADE,
			pack_name VARCHAR(255) NOT NULL,
			pack_version VARCHAR(100) NOT NULL,
			namespace VARCHAR(255) NOT NULL,
			request JSONB NOT NULL DEFAULT '{}',
			limit_ JSONB NOT NULL DEFAULT '{}',
			tolerations JSONB DEFAULT '[]',
			node_selector JSONB DEFAULT '{}',
			priority INT DEFAULT 0,
			node_id VARCHAR(255) REFERENCES nodes(id) ON DELETE SET NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			incarnation BIGINT DEFAULT 0,
			created_by VARCHAR(255),
			scheduled_at TIMESTAMP,
			started_at TIMESTAMP,
			stopped_at TIMESTAMP,
			termination_reason TEXT,
			restart_count INT DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pods_deployment ON pods(deployment_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pods_node ON pods(node_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pods_status ON pods(status)`,
	}

	for i, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i, err)
		}
	}

	return nil
}
