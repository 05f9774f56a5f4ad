package db

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Quiet-Fox-Software/linkstash-back/internal/config"
)

type (
	GormForkedModel struct {
		ID        uint64 `gorm:"primarykey"`
		CreatedAt time.Time
		UpdatedAt time.Time
	}

	User struct {
		GormForkedModel
		Email     string `gorm:"unique;not null"`
		Password  string `gorm:"not null"`
		Bookmarks []Bookmark
	}

	// Bookmark carries the scraped metadata next to the saved URL. The
	// composite unique index is the only thing standing between two
	// concurrent creates of the same URL; the loser gets a conflict.
	Bookmark struct {
		GormForkedModel
		Title    string `gorm:"not null"`
		URL      string `gorm:"not null;uniqueIndex:uidx_user_id_url"`
		Favicon  string `gorm:"not null"`
		Favorite bool   `gorm:"not null;default:false"`
		UserID   uint64 `gorm:"not null;uniqueIndex:uidx_user_id_url"`
		User     User
	}
)

func NewGormClient(cfg *config.Config) (*gorm.DB, error) {
	newLogger := logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  logger.Info,
		Colorful:                  true,
		IgnoreRecordNotFoundError: true,
	})

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort, cfg.DBSSLMode)
	// No FK constraint between bookmarks and users: account deletion
	// leaves bookmarks behind (see DESIGN.md).
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:                                   newLogger,
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect database")
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&User{}); err != nil {
		return errors.Wrap(err, "migrate user")
	}
	if err := db.AutoMigrate(&Bookmark{}); err != nil {
		return errors.Wrap(err, "migrate bookmark")
	}
	return nil
}
