package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	_ "github.com/lib/pq"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/user/moviereviews/internal/model"
)

// InitDB 初始化数据库连接，driver 为 postgres 或 sqlite
func InitDB(driver, dsn string) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Warn),
		TranslateError: true,
	}

	switch driver {
	case "sqlite":
		db, err := gorm.Open(sqlite.Open(dsn), gormCfg)
		if err != nil {
			return nil, fmt.Errorf("无法打开 sqlite 数据库: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		// sqlite 单写者
		sqlDB.SetMaxOpenConns(1)
		return db, nil

	case "postgres", "":
		sqlDB, err := sql.Open("postgres", dsn)
		if err != nil {
			return nil, fmt.Errorf("无法连接数据库: %w", err)
		}
		if err := sqlDB.Ping(); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("数据库 ping 失败: %w", err)
		}
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)

		db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), gormCfg)
		if err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("gorm 初始化失败: %w", err)
		}
		return db, nil

	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", driver)
	}
}

// Migrate 自动迁移表结构
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.Movie{}, &model.User{}, &model.News{})
}

// Close 关闭底层连接
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Repositories 仓库集合
type Repositories struct {
	DB    *gorm.DB
	User  *UserRepository
	Movie *MovieRepository
	News  *NewsRepository
}

// NewRepositories 创建仓库集合
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		DB:    db,
		User:  NewUserRepository(db),
		Movie: NewMovieRepository(db),
		News:  NewNewsRepository(db),
	}
}
