package storage

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"chatsync/internal/config"
	"chatsync/internal/models"
	"chatsync/pkg/logger"
)

// InitDB initializes the database connection using the provided configuration.
// 所有时间戳统一以 UTC 写入，排行榜窗口和消息排序都依赖这一点。
func InitDB(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch cfg.Type {
	case "postgres":
		var dsnParts []string
		dsnParts = append(dsnParts, fmt.Sprintf("host=%s", cfg.Host))
		dsnParts = append(dsnParts, fmt.Sprintf("port=%d", cfg.Port))
		dsnParts = append(dsnParts, fmt.Sprintf("user=%s", cfg.User))
		dsnParts = append(dsnParts, fmt.Sprintf("dbname=%s", cfg.DBName))
		if cfg.Password != "" {
			dsnParts = append(dsnParts, fmt.Sprintf("password=%s", cfg.Password))
		}
		dsnParts = append(dsnParts, fmt.Sprintf("sslmode=%s", cfg.SSLMode))
		dialector = postgres.Open(strings.Join(dsnParts, " "))
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormLogLevel(cfg.LogLevel)),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
		TranslateError: true, // 唯一索引冲突统一为 gorm.ErrDuplicatedKey
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.Type == "sqlite" {
		// sqlite 只有一个写者；单连接也让 ":memory:" 数据库在整个进程内共享。
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get database instance: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	logger.Info("Database connected", "type", cfg.Type)
	return db, nil
}

func gormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}

// AutoMigrateTables runs GORM's auto-migration feature for all defined models.
func AutoMigrateTables(db *gorm.DB) error {
	logger.Info("开始数据库表结构迁移...")
	err := db.AutoMigrate(
		&models.User{},
		&models.Profile{},
		&models.Friendship{},
		&models.Chat{},
		&models.Message{},
		&models.CoinPrize{},
		&models.BlockedUser{},
	)
	if err != nil {
		return fmt.Errorf("数据库迁移失败: %w", err)
	}
	logger.Info("数据库迁移完成。")
	return nil
}

// OpenMemory opens a migrated, private in-memory sqlite database.
// 用于本地开发和测试。
func OpenMemory() (*gorm.DB, error) {
	db, err := InitDB(config.DatabaseConfig{Type: "sqlite", SQLitePath: ":memory:", LogLevel: "silent"})
	if err != nil {
		return nil, err
	}
	if err := AutoMigrateTables(db); err != nil {
		return nil, err
	}
	return db, nil
}
