// Package repository содержит хранилища режима администратора и журнала заказов.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/calcio-domains/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrOrderExists возвращается при повторной записи заказа с тем же идентификатором.
var ErrOrderExists = errors.New("order already recorded")

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		retryable := isConnectionError(err)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			retryable = pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
		}

		if !retryable || i == len(delays) {
			break
		}

		timer := time.NewTimer(delays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isConnectionError(err error) bool {
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// AdminMode возвращает сохранённый режим администратора для subject.
func (r *PostgresRepository) AdminMode(ctx context.Context, subject string) (bool, error) {
	var enabled bool
	err := r.pool.QueryRow(ctx,
		`SELECT admin_mode FROM admin_preferences WHERE subject = $1`,
		subject,
	).Scan(&enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("select admin mode: %w", err)
	}
	return enabled, nil
}

// SetAdminMode сохраняет режим администратора для subject.
func (r *PostgresRepository) SetAdminMode(ctx context.Context, subject string, enabled bool) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO admin_preferences (subject, admin_mode, updated_at)
			 VALUES ($1, $2, now())
			 ON CONFLICT (subject) DO UPDATE SET admin_mode = EXCLUDED.admin_mode, updated_at = now()`,
			subject, enabled,
		)
		if err != nil {
			return fmt.Errorf("upsert admin mode: %w", err)
		}
		return nil
	})
}

// ClearAdminMode удаляет сохранённый режим администратора.
func (r *PostgresRepository) ClearAdminMode(ctx context.Context, subject string) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx, `DELETE FROM admin_preferences WHERE subject = $1`, subject)
		if err != nil {
			return fmt.Errorf("delete admin mode: %w", err)
		}
		return nil
	})
}

// RecordOrder сохраняет завершённый заказ в журнале.
func (r *PostgresRepository) RecordOrder(ctx context.Context, o model.Order) error {
	return r.withRetry(ctx, func() error {
		domains := o.Domains
		if domains == nil {
			domains = []string{}
		}
		_, err := r.pool.Exec(ctx,
			`INSERT INTO orders (order_id, user_row_id, type, total_cents, credit_bonus_cents, domains)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			o.ID, o.UserRowID, string(o.Type), toCents(o.Total), toCents(o.CreditBonus), domains,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: %s", ErrOrderExists, o.ID)
			}
			return fmt.Errorf("insert order: %w", err)
		}
		return nil
	})
}

// OrdersByUser возвращает заказы пользователя, новые первыми.
func (r *PostgresRepository) OrdersByUser(ctx context.Context, userRowID string) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT order_id, user_row_id, type, total_cents, credit_bonus_cents, domains, created_at
		 FROM orders
		 WHERE user_row_id = $1
		 ORDER BY created_at DESC`,
		userRowID,
	)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	return scanOrders(rows)
}

// RecentOrders возвращает последние заказы всех пользователей.
func (r *PostgresRepository) RecentOrders(ctx context.Context, limit int) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT order_id, user_row_id, type, total_cents, credit_bonus_cents, domains, created_at
		 FROM orders
		 ORDER BY created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("select recent orders: %w", err)
	}
	return scanOrders(rows)
}

func scanOrders(rows pgx.Rows) ([]model.Order, error) {
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		var (
			o          model.Order
			orderType  string
			totalCents int64
			bonusCents int64
		)
		if err := rows.Scan(&o.ID, &o.UserRowID, &orderType, &totalCents, &bonusCents, &o.Domains, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		o.Type = model.OrderType(orderType)
		o.Total = fromCents(totalCents)
		o.CreditBonus = fromCents(bonusCents)
		res = append(res, o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return res, nil
}

func toCents(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

func fromCents(c int64) decimal.Decimal {
	return decimal.New(c, -2)
}
