package database

import (
	"fmt"
	"time"

	"github.com/ManuelReschke/SignalFox/app/models"
	"github.com/ManuelReschke/SignalFox/internal/pkg/env"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// Config describes the MySQL connection.
type Config struct {
	User     string
	Password string
	Host     string
	Port     string
	Name     string
	// AutoMigrate runs gorm's schema migration after connecting. Production
	// deployments use cmd/migrate instead.
	AutoMigrate bool
}

// ConfigFromEnv reads DB_* keys.
func ConfigFromEnv() Config {
	return Config{
		User:        env.GetEnv("DB_USER", ""),
		Password:    env.GetEnv("DB_PASSWORD", ""),
		Host:        env.GetEnv("DB_HOST", "127.0.0.1"),
		Port:        env.GetEnv("DB_PORT", "3306"),
		Name:        env.GetEnv("DB_NAME", ""),
		AutoMigrate: env.GetEnvBool("DB_AUTO_MIGRATE", false),
	}
}

func (c Config) DSN() string {
	// times are stored and read as UTC so end-date comparisons are stable
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.Name)
}

// GormConfig is shared by the MySQL connection and the sqlite test databases.
func GormConfig() *gorm.Config {
	return &gorm.Config{
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		Logger: logger.Default.LogMode(logger.Warn),
	}
}

// Open connects to MySQL, retrying while the server comes up.
func Open(cfg Config) (*gorm.DB, error) {
	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       cfg.DSN(),
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), GormConfig())
		if err == nil {
			if cfg.AutoMigrate {
				if err = Migrate(db); err != nil {
					return nil, err
				}
			}
			return db, nil
		}

		log.Warnf("Failed to connect to database (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Infof("Retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}
	return nil, fmt.Errorf("connect database: %w", err)
}

// Migrate creates or updates every table the service owns.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.User{},
		&models.PaymentIntent{},
		&models.Subscription{},
		&models.Withdrawal{},
		&models.WebhookAttempt{},
	)
}
