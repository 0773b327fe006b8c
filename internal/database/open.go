package database

import (
	"errors"
	"fmt"
	"strings"

	"github.com/MarcoPoloResearchLab/lettuce/backend/internal/game"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

var errUnknownDriver = errors.New("database: unknown driver")

// Options selects and configures the backing store.
type Options struct {
	Driver     string
	Path       string
	DSN        string
	GridHeight int
	Logger     *zap.Logger
}

// Open connects to the configured store, migrates the schema and seeds the moderator.
func Open(opts Options) (*gorm.DB, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	dialector, target, err := dialectorFor(opts)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", opts.Driver, err)
	}

	if opts.Driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db, opts.GridHeight, logger); err != nil {
		return nil, err
	}

	logger.Info("database initialized",
		zap.String("driver", opts.Driver),
		zap.String("target", target))
	return db, nil
}

// Migrate creates the schema and applies the recorded data migrations.
func Migrate(db *gorm.DB, gridHeight int, logger *zap.Logger) error {
	models := append(game.Models(), &migrationRecord{})
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return applyMigrations(db, gridHeight, logger)
}

func dialectorFor(opts Options) (gorm.Dialector, string, error) {
	switch opts.Driver {
	case DriverSQLite:
		path := strings.TrimSpace(opts.Path)
		if path == "" {
			return nil, "", fmt.Errorf("database path is required")
		}
		return sqlite.Open(path), path, nil
	case DriverPostgres:
		dsn := strings.TrimSpace(opts.DSN)
		if dsn == "" {
			return nil, "", fmt.Errorf("database dsn is required")
		}
		return postgres.Open(dsn), "postgres", nil
	default:
		return nil, "", fmt.Errorf("%w: %q", errUnknownDriver, opts.Driver)
	}
}
