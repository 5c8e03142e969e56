package db

import (
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmehdipour/newsletter-gateway/internal/config"
	"github.com/jmoiron/sqlx"
)

// NewClickHouse opens the reporting connection.
// DSN e.g. clickhouse://default:@localhost:9000/newsletter?dial_timeout=5s&compress=true
func NewClickHouse(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dbx, err := sqlx.Open("clickhouse", cfg.DSN)
	if err != nil {
		return nil, err
	}
	applyPool(dbx, cfg)

	if err := ping(dbx, cfg.PingTimeout, 3*time.Second); err != nil {
		_ = dbx.Close()
		return nil, err
	}

	return dbx, nil
}
