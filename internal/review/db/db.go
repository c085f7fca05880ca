// Package db はレビューと報酬請求の永続化を提供する。
// SQLite(modernc.org/sqlite)とPostgreSQL(pgx)の両方に対応し、
// プレースホルダはsqlxのRebindでドライバに合わせて変換する。
package db

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/nao1215/reviewdrop/pkg/migration"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

const (
	// DriverSQLite はmodernc.org/sqliteのドライバ名。
	DriverSQLite = "sqlite"
	// DriverPostgres はpgxのdatabase/sqlドライバ名。
	DriverPostgres = "pgx"
)

//go:embed migrations
var migrations embed.FS

func init() {
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Open はドライバ名とDSNからデータベース接続を開く。
// SQLiteは書き込みが直列化されるため接続を1本に制限する。
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	default:
		return nil, fmt.Errorf("未対応のデータベースドライバ: %q", driver)
	}

	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if driver == DriverSQLite {
		conn.SetMaxOpenConns(1)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("データベースへの疎通確認に失敗: %w", err)
	}
	return conn, nil
}

// Migrate はドライバに対応するマイグレーションを適用する。
func Migrate(ctx context.Context, conn *sqlx.DB) error {
	dir := "migrations/sqlite"
	if strings.HasPrefix(conn.DriverName(), "pgx") || conn.DriverName() == "postgres" {
		dir = "migrations/postgres"
	}
	return migration.Run(ctx, conn, migrations, dir)
}

// Queries はレビューと報酬請求のクエリを実行する。
type Queries struct {
	db *sqlx.DB
}

// New は新しいQueriesを生成する。
func New(conn *sqlx.DB) *Queries {
	return &Queries{db: conn}
}
