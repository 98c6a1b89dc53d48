package meta

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ndnstore/pkg/core"
)

// Config 数据库配置
// Driver 为 "sqlite" 时只用 Path，为 "postgres" 时用其余字段
// postgres 的 DSN 非空时优先于分散的字段
type Config struct {
	Driver   string
	Path     string
	DSN      string
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable" for local
	LogLevel string // silent / error / warn / info
}

// DB 是 side db / 路径索引共用的 gorm 连接
type DB struct {
	conn *gorm.DB
}

func gormLogger(level string) logger.Interface {
	switch level {
	case "info":
		return logger.Default.LogMode(logger.Info)
	case "warn":
		return logger.Default.LogMode(logger.Warn)
	case "error":
		return logger.Default.LogMode(logger.Error)
	default:
		return logger.Default.LogMode(logger.Silent)
	}
}

// SQLiteDSN 生成 sqlite 的连接串
func SQLiteDSN(path string, readOnly bool) string {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on", path)
	if readOnly {
		dsn += "&mode=ro"
	}
	return dsn
}

// OpenSQLite 打开单个 sqlite 文件，必要时创建父目录
func OpenSQLite(path string, readOnly bool, logLevel string) (*gorm.DB, error) {
	if !readOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create db dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(SQLiteDSN(path, readOnly)), &gorm.Config{
		Logger: gormLogger(logLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: open sqlite %s: %w", core.ErrDB, path, err)
	}
	return db, nil
}

// NewDB 初始化数据库连接并迁移给定的表
func NewDB(ctx context.Context, cfg Config, models ...any) (*DB, error) {
	var (
		db  *gorm.DB
		err error
	)

	switch cfg.Driver {
	case "", "sqlite":
		db, err = OpenSQLite(cfg.Path, false, cfg.LogLevel)
	case "postgres":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = fmt.Sprintf(
				"host=%s user=%s password=%s dbname=%s port=%d sslmode=%s TimeZone=UTC",
				cfg.Host, cfg.User, cfg.Password, cfg.DBName, cfg.Port, cfg.SSLMode,
			)
		}
		db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{
			Logger: gormLogger(cfg.LogLevel),
		})
	default:
		return nil, fmt.Errorf("%w: database driver %q", core.ErrInvalidParam, cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: connect %s: %w", core.ErrDB, cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	if cfg.Driver == "postgres" {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(100)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%w: ping: %w", core.ErrDB, err)
	}

	if len(models) > 0 {
		if err := db.AutoMigrate(models...); err != nil {
			return nil, fmt.Errorf("%w: migrate: %w", core.ErrDB, err)
		}
	}

	return &DB{conn: db}, nil
}

// NewWithConn 复用已有连接，测试里配合内存 sqlite 使用
func NewWithConn(conn *gorm.DB) *DB {
	return &DB{conn: conn}
}

func (d *DB) AutoMigrate(models ...any) error {
	return d.conn.AutoMigrate(models...)
}

func (d *DB) GetConn() *gorm.DB {
	return d.conn
}

func (d *DB) Close() error {
	sqlDB, err := d.conn.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
