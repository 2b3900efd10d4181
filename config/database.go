package config

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

// DatabaseDSN builds the MySQL DSN from cfg.
func DatabaseDSN(cfg *Config) string {
	network := "tcp"
	address := fmt.Sprintf("%s:%s", cfg.DBHost, cfg.DBPort)

	// Cloud Run + Cloud SQL: when DB_HOST is "/cloudsql/<CONNECTION_NAME>",
	// connect using a Unix domain socket provided by Cloud SQL Auth Proxy.
	if strings.HasPrefix(cfg.DBHost, "/cloudsql/") {
		network = "unix"
		address = cfg.DBHost
	}

	return fmt.Sprintf("%s:%s@%s(%s)/%s?multiStatements=true&parseTime=true",
		cfg.DBUser,
		cfg.DBPassword,
		network,
		address,
		cfg.DBName,
	)
}

// ConnectDatabaseWithRetry connects, retrying until the database answers or ctx is done.
// The returned handle is owned by the caller, who closes it on shutdown.
func ConnectDatabaseWithRetry(ctx context.Context, cfg *Config) (*gorm.DB, error) {
	dsn := DatabaseDSN(cfg)

	var attempt int
	for {
		attempt++
		conn, err := gorm.Open(mysql.Open(dsn), initConfig())
		if err == nil {
			if sqlDB, derr := conn.DB(); derr == nil && sqlDB != nil {
				if cfg.DBMaxOpenConns > 0 {
					sqlDB.SetMaxOpenConns(cfg.DBMaxOpenConns)
				}
				if cfg.DBMaxIdleConns >= 0 {
					sqlDB.SetMaxIdleConns(cfg.DBMaxIdleConns)
				}
				sqlDB.SetConnMaxLifetime(time.Duration(intFromEnv("DB_CONN_MAX_LIFETIME_SECONDS", 300)) * time.Second)
				sqlDB.SetConnMaxIdleTime(time.Duration(intFromEnv("DB_CONN_MAX_IDLE_TIME_SECONDS", 60)) * time.Second)
			}

			if pluginErr := conn.Use(otelgorm.NewPlugin()); pluginErr != nil {
				log.Printf("db connected but failed to install otelgorm plugin: %v", pluginErr)
			}
			log.Printf("connected to database (attempt=%d)", attempt)
			return conn, nil
		}

		sleep := RetryDelay(attempt)
		log.Printf("failed to connect database (attempt=%d): %v; retrying in %s", attempt, err, sleep)
		if err := sleepContext(ctx, sleep); err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
	}
}

// CloseDatabase closes the pool behind conn (best-effort).
func CloseDatabase(conn *gorm.DB) {
	if conn == nil {
		return
	}
	if sqlDB, err := conn.DB(); err == nil && sqlDB != nil {
		_ = sqlDB.Close()
	}
}

// InitConfig Initialize Config
func initConfig() *gorm.Config {
	return &gorm.Config{
		Logger:         initLog(),
		NamingStrategy: initNamingStrategy(),
	}
}

// InitLog Connection Log Configuration
func initLog() logger.Interface {
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // Output to standard output
		logger.Config{
			Colorful:      false,
			LogLevel:      logger.Error,
			SlowThreshold: time.Second,
		},
	)
	return newLogger
}

// InitNamingStrategy Init NamingStrategy
func initNamingStrategy() *schema.NamingStrategy {
	return &schema.NamingStrategy{
		SingularTable: false,
		TablePrefix:   "",
	}
}
