// Package database opens the GORM connection shared by the credential, revocation and
// measurement stores.
package database

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	sqliteDialector "github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	// DriverPostgres labels connections opened through the postgres dialector.
	DriverPostgres = "postgres"
	// DriverSQLite labels connections opened through the pure-Go sqlite dialector.
	DriverSQLite = "sqlite"
)

var (
	// ErrUnsupportedDialect indicates that no GORM dialector is available for the scheme.
	ErrUnsupportedDialect = errors.New("database.unsupported_dialect")
	// ErrEmptyDatabaseURL indicates that no database URL was configured.
	ErrEmptyDatabaseURL = errors.New("database.empty_database_url")

	errSQLiteEmptyPath     = errors.New("database.sqlite.empty_path")
	errSQLiteInvalidURL    = errors.New("database.sqlite.invalid_url")
	errUnsupportedNoScheme = errors.New("database.unsupported_no_scheme")
)

// Connection is an open GORM handle together with its driver label.
type Connection struct {
	DB     *gorm.DB
	Driver string
}

// Open connects to databaseURL (postgres:// or sqlite://) and migrates the supplied models.
func Open(ctx context.Context, databaseURL string, models ...interface{}) (*Connection, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("database.open: %w", ErrEmptyDatabaseURL)
	}
	dialector, driverLabel, err := resolveDialector(databaseURL)
	if err != nil {
		return nil, err
	}
	gormDB, openErr := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if openErr != nil {
		return nil, fmt.Errorf("database.open.%s: %w", driverLabel, openErr)
	}
	if driverLabel == DriverSQLite {
		// sqlite permits a single writer at a time.
		sqlDB, sqlErr := gormDB.DB()
		if sqlErr != nil {
			return nil, fmt.Errorf("database.open.%s: %w", driverLabel, sqlErr)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if len(models) > 0 {
		if migrateErr := gormDB.WithContext(ctx).AutoMigrate(models...); migrateErr != nil {
			return nil, fmt.Errorf("database.migrate.%s: %w", driverLabel, migrateErr)
		}
	}
	return &Connection{DB: gormDB, Driver: driverLabel}, nil
}

// Migrate applies AutoMigrate for additional models on an existing connection.
func (connection *Connection) Migrate(ctx context.Context, models ...interface{}) error {
	if err := connection.DB.WithContext(ctx).AutoMigrate(models...); err != nil {
		return fmt.Errorf("database.migrate.%s: %w", connection.Driver, err)
	}
	return nil
}

// Ping verifies the underlying connection is reachable.
func (connection *Connection) Ping(ctx context.Context) error {
	sqlDB, err := connection.DB.DB()
	if err != nil {
		return fmt.Errorf("database.ping.%s: %w", connection.Driver, err)
	}
	if pingErr := sqlDB.PingContext(ctx); pingErr != nil {
		return fmt.Errorf("database.ping.%s: %w", connection.Driver, pingErr)
	}
	return nil
}

// Close releases the underlying pool.
func (connection *Connection) Close() error {
	sqlDB, err := connection.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Scheme returns the lower-cased scheme of databaseURL, or an empty string when it cannot be parsed.
func Scheme(databaseURL string) string {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Scheme)
}

func resolveDialector(databaseURL string) (gorm.Dialector, string, error) {
	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return nil, "", fmt.Errorf("database.parse_url: %w", err)
	}
	if parsed.Scheme == "" {
		return nil, "", fmt.Errorf("database.dialect: %w", errUnsupportedNoScheme)
	}
	switch strings.ToLower(parsed.Scheme) {
	case "postgres", "postgresql":
		return postgres.Open(databaseURL), DriverPostgres, nil
	case "sqlite", "sqlite3":
		dsn, dsnErr := buildSQLiteDSN(parsed)
		if dsnErr != nil {
			return nil, "", fmt.Errorf("database.sqlite: %w", dsnErr)
		}
		return sqliteDialector.Open(dsn), DriverSQLite, nil
	default:
		return nil, "", fmt.Errorf("database.dialect.%s: %w", strings.ToLower(parsed.Scheme), ErrUnsupportedDialect)
	}
}

func buildSQLiteDSN(parsed *url.URL) (string, error) {
	if parsed == nil {
		return "", errSQLiteInvalidURL
	}
	var builder strings.Builder
	switch {
	case parsed.Opaque != "":
		builder.WriteString(parsed.Opaque)
	case parsed.Host != "":
		builder.WriteString(parsed.Host)
		if parsed.Path != "" {
			if !strings.HasPrefix(parsed.Path, "/") {
				builder.WriteString("/")
			}
			builder.WriteString(parsed.Path)
		}
	default:
		builder.WriteString(parsed.Path)
	}
	if builder.Len() == 0 {
		return "", errSQLiteEmptyPath
	}
	if parsed.RawQuery != "" {
		builder.WriteString("?")
		builder.WriteString(parsed.RawQuery)
	}
	return builder.String(), nil
}
