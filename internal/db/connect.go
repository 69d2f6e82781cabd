// Package db opens the SQL database that backs finance cases and, when no
// Redis is configured, the key-value store.
package db

import (
	"fmt"
	"net"
	"strconv"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/lojaortopedic/atendente/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DSN builds a MySQL DSN from connection settings.
func DSN(cfg config.DatabaseConfig) string {
	c := gomysql.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	c.DBName = cfg.Database
	c.ParseTime = true
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c.FormatDSN()
}

// Connect opens a GORM connection using the configured driver.
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	var target string
	switch cfg.Driver {
	case "mysql":
		dialector = mysql.Open(DSN(cfg))
		target = fmt.Sprintf("%s:%d/%s", cfg.Host, cfg.Port, cfg.Database)
	case "sqlite", "":
		dialector = sqlite.Open(cfg.Path)
		target = cfg.Path
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect to %s: %w", target, err)
	}
	if cfg.Driver != "mysql" {
		// Each sqlite connection to ":memory:" is its own database, and
		// file databases serialize writers anyway.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("db: connect to %s: %w", target, err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}
