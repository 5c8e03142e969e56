package cmd

import (
	"fmt"
	"log"
	"time"

	"github.com/jmehdipour/newsletter-gateway/internal/config"
	"github.com/jmehdipour/newsletter-gateway/internal/db"
	"github.com/jmehdipour/newsletter-gateway/internal/model"
	"github.com/jmehdipour/newsletter-gateway/internal/util"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with a demo admin and subscribers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		sqlDB, err := db.NewMySQL(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		log.Println(">> Seeding demo data...")

		if err := seedAdmins(sqlDB); err != nil {
			return err
		}
		if err := seedSubscribers(sqlDB); err != nil {
			return err
		}

		log.Println(">> Seed completed")
		return nil
	},
}

// seedAdmins inserts deterministic demo editors (idempotent).
func seedAdmins(dbx *sqlx.DB) error {
	admins := []model.Admin{
		{
			Name:   "Editor in Chief",
			APIKey: "11111111111111111111111111111111",
			Status: "active",
		},
		{
			Name:   "Guest Editor",
			APIKey: "22222222222222222222222222222222",
			Status: "active",
		},
		{
			Name:   "Former Editor",
			APIKey: "33333333333333333333333333333333",
			Status: "suspended",
		},
	}

	// idempotent upsert based on api_key (UNIQUE)
	const q = `
INSERT INTO admins
    (name, api_key, status, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name       = VALUES(name),
    status     = VALUES(status),
    updated_at = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for _, a := range admins {
		if _, err := tx.Exec(q, a.Name, a.APIKey, a.Status, now, now); err != nil {
			return fmt.Errorf("insert admin %q: %w", a.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit admins: %w", err)
	}
	return nil
}

// seedSubscribers inserts a handful of demo subscribers: three confirmed, one
// still pending, so a published demo issue enqueues exactly three tasks.
func seedSubscribers(dbx *sqlx.DB) error {
	subscribers := []model.Subscriber{
		{Email: "alice@example.com", Name: "Alice", Status: model.StatusConfirmed},
		{Email: "bob@example.com", Name: "Bob", Status: model.StatusConfirmed},
		{Email: "carol@example.com", Name: "Carol", Status: model.StatusConfirmed},
		{Email: "dave@example.com", Name: "Dave", Status: model.StatusPendingConfirmation},
	}

	const q = `
INSERT INTO subscriptions
    (email, name, status, token, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name       = VALUES(name),
    status     = VALUES(status),
    updated_at = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	for _, s := range subscribers {
		if _, err := tx.Exec(q, s.Email, s.Name, s.Status.String(), util.NewToken(), now, now); err != nil {
			return fmt.Errorf("insert subscriber %q: %w", s.Email, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit subscribers: %w", err)
	}
	return nil
}
