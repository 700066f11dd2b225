package client

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"portal-auth/internal/config"
	"portal-auth/internal/models"
	"portal-auth/internal/util"
)

// MySQLClient wraps the GORM handle for the relational store holding
// accounts and durable sessions.
type MySQLClient struct {
	DB *gorm.DB
}

func NewMySQLClient(cfg *config.Config, logger *zap.Logger) (*MySQLClient, error) {
	gormCfg := &gorm.Config{
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	}
	if cfg.IsProduction() {
		gormCfg.Logger = gormlogger.Default.LogMode(gormlogger.Warn)
	}

	db, err := gorm.Open(mysql.Open(cfg.Database.DSN()), gormCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL connection: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to access MySQL pool: %w", err)
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	logger.Info("MySQL client initialized",
		zap.String("host", cfg.Database.Host),
		zap.String("database", cfg.Database.Name))

	return &MySQLClient{DB: db}, nil
}

// Migrate creates or updates the auth tables.
func (c *MySQLClient) Migrate() error {
	return c.DB.AutoMigrate(
		&models.Account{},
		&models.DurableSession{},
	)
}

func (c *MySQLClient) HealthCheck(ctx context.Context) error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to access MySQL pool: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("mysql ping failed: %w", err)
	}
	return nil
}

func (c *MySQLClient) Close() error {
	sqlDB, err := c.DB.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		util.Error("failed to close MySQL client", zap.Error(err))
		return err
	}
	util.Info("MySQL client closed")
	return nil
}
