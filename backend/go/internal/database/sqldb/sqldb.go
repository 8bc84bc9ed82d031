package sqldb

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"Steward/backend/go/internal/config"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open 根据配置打开共享状态存储的 GORM 连接。
// 生产环境使用 MySQL；单机部署和测试可以使用纯 Go 的 sqlite。
func Open(cfg config.StoreConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	}

	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "mysql", "":
		// 构建 DSN (Data Source Name) 字符串。
		dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
			cfg.Username,
			cfg.Password,
			cfg.Address,
			cfg.Database,
		)
		db, err = gorm.Open(mysql.Open(dsn), gormCfg)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqliteDSN(cfg.Path)), gormCfg)
	default:
		return nil, fmt.Errorf("不支持的存储驱动: %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("无法连接到 %s: %w", cfg.Driver, err)
	}

	// 获取底层 *sql.DB 实例，以便进行连接池配置。
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("无法获取底层 SQL DB 实例: %w", err)
	}
	if cfg.Driver == "sqlite" && sqliteDSN(cfg.Path) == ":memory:" {
		// 每个连接各有一个内存库，只能用一个连接。
		sqlDB.SetMaxOpenConns(1)
	} else {
		// 文件库的并发写者由 WAL、busy_timeout 和 immediate 事务串行化。
		if cfg.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Second)
		}
	}

	log.Printf("✅ 成功连接到共享状态存储 (%s)!", cfg.Driver)
	return db, nil
}

func sqliteDSN(path string) string {
	if path == "" || path == ":memory:" {
		return ":memory:"
	}
	if strings.Contains(path, "?") {
		return path
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate"
}

// Close 安全地关闭数据库连接。
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("❌ 获取底层 SQL DB 实例失败: %w", err)
	}
	return sqlDB.Close()
}

// HealthCheck 检查数据库连接的健康状况。
func HealthCheck(ctx context.Context, db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("无法获取底层 SQL DB 实例进行健康检查: %w", err)
	}
	return sqlDB.PingContext(ctx)
}
