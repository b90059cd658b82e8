package migrations

import (
	"context"
	_ "embed"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/migrate"

	"quiz-attempt-service/internal/infra/sqlstore"
)

//go:embed 0001_create_quizzes.sql
var createQuizzesSQL string

var Migrations = migrate.NewMigrations()

func init() {
	Migrations.Add(migrate.Migration{
		Name:    "2024112201",
		Comment: "create_quizzes",
		Up: func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, createQuizzesSQL)
			return err
		},
		Down: func(ctx context.Context, db *bun.DB) error {
			_, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS quizzes`)
			return err
		},
	})
	Migrations.Add(migrate.Migration{
		Name:    "2024112202",
		Comment: "create_attempts",
		Up: func(ctx context.Context, db *bun.DB) error {
			return sqlstore.CreateSchema(ctx, db)
		},
		Down: func(ctx context.Context, db *bun.DB) error {
			return sqlstore.DropSchema(ctx, db)
		},
	})
}
