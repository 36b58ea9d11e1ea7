package store

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenMySQL connects to the MySQL backend described by MYSQL_DSN or the
// MYSQL_* env vars, creating the database on first run. The daemon
// defaults to sqlite; MySQL exists for deployments that already run one
// for the rest of the lab tooling.
func OpenMySQL() (*gorm.DB, error) {
	dsn, server, dbname := mysqlDSN()
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)}

	gdb, err := gorm.Open(mysql.Open(dsn), cfg)
	if err != nil {
		if !strings.Contains(err.Error(), "Unknown database") {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		if cerr := createDatabase(server, dbname); cerr != nil {
			return nil, fmt.Errorf("create database %s: %w", dbname, cerr)
		}
		if gdb, err = gorm.Open(mysql.Open(dsn), cfg); err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetConnMaxLifetime(time.Hour)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetMaxOpenConns(20)
	return gdb, nil
}

// mysqlDSN resolves the connection strings: the full DSN, the
// database-less server DSN for bootstrap, and the database name.
func mysqlDSN() (full, server, dbname string) {
	host := envOr("MYSQL_HOST", "127.0.0.1")
	port := envOr("MYSQL_PORT", "3306")
	user := envOr("MYSQL_USER", "root")
	pass := os.Getenv("MYSQL_PASS")
	dbname = envOr("MYSQL_DB", "factory_wgserver")
	server = fmt.Sprintf("%s:%s@tcp(%s:%s)/", user, pass, host, port)
	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		return dsn, server, dbname
	}
	full = server + dbname + "?charset=utf8mb4&parseTime=True&loc=Local"
	return full, server, dbname
}

func createDatabase(server, dbname string) error {
	sqlDB, err := sql.Open("mysql", server)
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	_, err = sqlDB.Exec(fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s` DEFAULT CHARACTER SET utf8mb4", dbname))
	return err
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
