package postgres

import (
	"fmt"
	"log/slog"

	"github.com/WardenScan/go-api/warden/postgres/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var db *gorm.DB

// Connect opens the inventory database and migrates the schema. driver is
// "postgres" (the default) or "sqlite"; dsn is the matching connection
// string. TranslateError is enabled so uniqueness violations surface as
// gorm.ErrDuplicatedKey on both dialects.
func Connect(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres", "":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driverName(driver), err)
	}

	if err := Migrate(gdb); err != nil {
		return nil, err
	}

	db = gdb
	slog.Info("Connected to inventory database", "driver", driverName(driver))
	return gdb, nil
}

// Migrate applies the schema for all inventory models.
func Migrate(gdb *gorm.DB) error {
	err := gdb.AutoMigrate(
		&models.Project{},
		&models.Host{},
		&models.Service{},
		&models.Finding{},
		&models.Occurrence{},
		&models.Artifact{},
		&models.IngestJob{},
		&models.Event{},
	)
	if err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

// GetDB returns the connection established by the last Connect call, or nil
// when no connection has been made.
func GetDB() *gorm.DB {
	return db
}

func driverName(driver string) string {
	if driver == "" {
		return "postgres"
	}
	return driver
}
