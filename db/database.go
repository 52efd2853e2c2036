package db

import (
	"database/sql"
	"fmt"

	"resona/config"
	"resona/logger"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

var DB *sql.DB

// ConnectDB establishes a connection to the catalog database.
func ConnectDB(cfg *config.Config) error {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName)

	var err error
	DB, err = sql.Open("mysql", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	if err = DB.Ping(); err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("connected to the catalog database")
	return nil
}

// InitDB creates the catalog schema if it does not exist.
func InitDB() error {
	query := `CREATE TABLE IF NOT EXISTS tracks (
		id VARCHAR(64) PRIMARY KEY,
		title VARCHAR(512) NOT NULL,
		artist VARCHAR(512) NOT NULL DEFAULT '',
		album VARCHAR(512) NOT NULL DEFAULT '',
		duration DOUBLE NOT NULL DEFAULT 0,
		year INT NOT NULL DEFAULT 0,
		genre VARCHAR(128) NOT NULL DEFAULT '',
		locator_kind VARCHAR(16) NOT NULL,
		locator_value TEXT NOT NULL,
		cover_key VARCHAR(512) NOT NULL DEFAULT '',
		lyrics MEDIUMTEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`
	if _, err := DB.Exec(query); err != nil {
		return fmt.Errorf("failed to create tracks table: %w", err)
	}
	logger.Info("catalog schema ready")
	return nil
}

// CloseDB closes the catalog database connection.
func CloseDB() error {
	if DB != nil {
		return DB.Close()
	}
	return nil
}
