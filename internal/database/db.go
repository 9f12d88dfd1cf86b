package database

import (
	"errors"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Coollin0/Indie-Hain/internal/config"
	"github.com/Coollin0/Indie-Hain/internal/models"
)

var DB *gorm.DB

// Connect opens the database from a DSN. Postgres in production; a
// "sqlite://" or ":memory:" DSN selects the embedded driver for local dev
// and tests.
func Connect(dsn string) error {
	if dsn == "" {
		return errors.New("empty DSN")
	}
	dialector := open(dsn)
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	if dsn == ":memory:" {
		// Each connection to an in-memory sqlite gets its own database, so
		// the pool must stay at one.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetMaxOpenConns(20)
		sqlDB.SetConnMaxLifetime(60 * time.Minute)
	}

	DB = db
	return nil
}

func open(dsn string) gorm.Dialector {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		return sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
	case dsn == ":memory:":
		return sqlite.Open(":memory:")
	default:
		return postgres.Open(dsn)
	}
}

func AutoMigrateAndSeed() error {
	if err := Migrate(DB); err != nil {
		return err
	}
	return seedAdmin(DB)
}

func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.Session{},
		&models.App{},
		&models.Build{},
		&models.Submission{},
		&models.Purchase{},
		&models.ChunkRecord{},
	)
}

func seedAdmin(db *gorm.DB) error {
	var count int64
	db.Model(&models.User{}).Where("role = ?", models.RoleAdmin).Count(&count)
	if count > 0 {
		return nil
	}
	user := models.User{
		Email:    config.Current.BootstrapAdminMail,
		Username: "admin",
		Role:     models.RoleAdmin,
		IsActive: true,
	}
	if err := user.SetPassword(config.Current.BootstrapAdminPass); err != nil {
		return err
	}
	return db.Create(&user).Error
}
