package config

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const localDSN = "host=localhost user=postgres password=postgres dbname=school_fees port=5432 sslmode=disable TimeZone=UTC"

// normalizeDSN mirrors what hosted Postgres providers expect and pins every
// pooled connection to UTC.
func normalizeDSN(dbURL string) string {
	if dbURL == "" {
		return localDSN
	}
	if !strings.Contains(dbURL, "sslmode=") {
		dbURL = appendParam(dbURL, "sslmode=require")
	}
	if !strings.Contains(dbURL, "search_path=") {
		dbURL = appendParam(dbURL, "search_path=public")
	}
	if !strings.Contains(dbURL, "TimeZone=") {
		dbURL = appendParam(dbURL, "TimeZone=UTC")
	}
	return dbURL
}

// appendParam handles both URL and key=value DSNs.
func appendParam(dbURL, kv string) string {
	if !strings.Contains(dbURL, "://") {
		return dbURL + " " + kv
	}
	sep := "?"
	if strings.Contains(dbURL, "?") {
		sep = "&"
	}
	return dbURL + sep + kv
}

// GormLogger routes GORM output through zap.
func GormLogger(log *zap.Logger, debug bool) logger.Interface {
	level := logger.Warn
	if debug {
		level = logger.Info
	}
	return logger.New(
		zap.NewStdLog(log.Named("gorm")),
		logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  level,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

func ConnectDB(cfg *Config, log *zap.Logger) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(normalizeDSN(cfg.DatabaseURL)), &gorm.Config{
		Logger: GormLogger(log, cfg.Development()),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	var dbName, currentUser string
	_ = db.Raw("SELECT current_database()").Scan(&dbName)
	_ = db.Raw("SELECT current_user").Scan(&currentUser)
	log.Info("database connected", zap.String("db", dbName), zap.String("user", currentUser))

	return db, nil
}
