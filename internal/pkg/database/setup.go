package database

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/ReflectCoach/app/models"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/config"
	"github.com/ManuelReschke/ReflectCoach/internal/pkg/logging"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// DSN builds the MySQL data source name. Times are parsed as UTC so that
// period_end comparisons never depend on the server's zone.
func DSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.User,
		cfg.Password,
		cfg.Host,
		cfg.Port,
		cfg.Name,
	)
}

// Models lists every table the engine owns, in dependency order.
func Models() []interface{} {
	return []interface{}{
		&models.User{},
		&models.EntitlementRecord{},
		&models.Club{},
		&models.ClubMembership{},
		&models.BillingPlanMapping{},
		&models.WebhookEventLog{},
		&models.SequenceRecord{},
		&models.SequenceSendLog{},
		&models.UsageCounter{},
	}
}

// SetupDatabase opens the connection with retries. autoMigrate is meant for
// dev setups; deployed environments run cmd/migrate instead.
func SetupDatabase(cfg config.DatabaseConfig, autoMigrate bool) (*gorm.DB, error) {
	log := logging.Component("database")

	var (
		db  *gorm.DB
		err error
	)
	for i := 0; i < maxRetries; i++ {
		db, err = gorm.Open(mysql.New(mysql.Config{
			DSN:                       DSN(cfg),
			DefaultStringSize:         256,
			DisableDatetimePrecision:  true,
			DontSupportRenameIndex:    true,
			DontSupportRenameColumn:   true,
			SkipInitializeWithVersion: false,
		}), &gorm.Config{
			Logger:  logger.Default.LogMode(logger.Warn),
			NowFunc: func() time.Time { return time.Now().UTC() },
			// Maps driver errors onto gorm.ErrDuplicatedKey and friends.
			TranslateError: true,
		})
		if err == nil {
			break
		}

		log.Warn().Err(err).Int("attempt", i+1).Int("max", maxRetries).Msg("Failed to connect to database")
		if i < maxRetries-1 {
			time.Sleep(retryDelay)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if autoMigrate {
		if err := db.AutoMigrate(Models()...); err != nil {
			return nil, fmt.Errorf("auto migrate: %w", err)
		}
	}
	log.Info().Str("host", cfg.Host).Str("name", cfg.Name).Msg("Database connected")
	return db, nil
}
