package database

import (
	"fmt"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"opay/internal/config"
	"opay/internal/model"
)

// InitMySQL 初始化 MySQL 连接并迁移表结构
func InitMySQL(cfg *config.MySQLConfig, env string, log *zap.Logger) (*gorm.DB, error) {
	dsn := DSN(cfg)

	logLevel := logger.Warn
	if env == "local" {
		logLevel = logger.Info
	}

	// TranslateError: 唯一键冲突转成 gorm.ErrDuplicatedKey，仓储层据此识别重复提交
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logLevel),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("获取底层 DB 失败: %w", err)
	}

	// 连接池配置
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("自动迁移表结构失败: %w", err)
	}

	log.Info("MySQL 连接成功", zap.String("host", cfg.Host), zap.String("database", cfg.Database))
	return db, nil
}

// DSN 金额列是 DECIMAL，时间统一按 UTC 解析
func DSN(cfg *config.MySQLConfig) string {
	dc := mysqldriver.NewConfig()
	dc.User = cfg.User
	dc.Passwd = cfg.Password
	dc.Net = "tcp"
	dc.Addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	dc.DBName = cfg.Database
	dc.ParseTime = true
	dc.Loc = time.UTC
	dc.Params = map[string]string{"charset": "utf8mb4"}
	return dc.FormatDSN()
}

// Migrate 自动迁移所有本地表
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Deposit{},
		&model.Withdrawal{},
		&model.Order{},
		&model.BettingDeposit{},
		&model.DiasporaTransfer{},
		&model.Transfer{},
		&model.GiftCardRedemption{},
		&model.FeePolicy{},
		&model.ReviewLog{},
		&model.OutboxMessage{},
	)
}
