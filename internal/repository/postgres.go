// Package repository содержит реализацию доступа к данным в PostgreSQL.
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

	"github.com/mmeshcher/clickerbot-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserNotFound возвращается, если пользователь не найден.
var (
	ErrUserNotFound = errors.New("user not found")
	// ErrPostNotFound возвращается, если ссылка не найдена в реестре.
	ErrPostNotFound = errors.New("post not found")
	// ErrInsufficientPoints возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientPoints = errors.New("insufficient points")
)

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

// withRetry повторяет только читающие запросы. Операции, меняющие баланс,
// не ретраятся: повтор успешной, но не подтверждённой мутации даёт двойное начисление.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error
	delays := []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

	for i := 0; i <= len(delays); i++ {
		err = fn()
		if err == nil {
			return nil
		}

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}

		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected {
				if i < len(delays) {
					time.Sleep(delays[i])
					continue
				}
			}
		}

		if isConnectionError(err) {
			if i < len(delays) {
				time.Sleep(delays[i])
				continue
			}
		}

		break
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

// CreateUser создаёт пользователя или обновляет имя и роль существующего.
// Баланс и дата регистрации при повторном вызове не сбрасываются.
func (r *PostgresRepository) CreateUser(ctx context.Context, userID int64, username string, role model.Role) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (user_id, username, role) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id) DO UPDATE SET
		     username = EXCLUDED.username,
		     role = EXCLUDED.role`,
		userID, username, string(role),
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, userID int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT user_id, username, role, points, date_joined, last_active
		 FROM users WHERE user_id = $1`,
		userID,
	)

	var u model.User
	var role string
	err := row.Scan(&u.ID, &u.Username, &role, &u.Points, &u.DateJoined, &u.LastActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	u.Role = model.Role(role)

	return &u, nil
}

// SetRole назначает пользователю роль.
func (r *PostgresRepository) SetRole(ctx context.Context, userID int64, role model.Role) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users SET role = $2 WHERE user_id = $1`,
		userID, string(role),
	)
	if err != nil {
		return fmt.Errorf("set role: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// AdjustPoints изменяет баланс пользователя на delta десятых долей балла.
// Одиночный UPDATE атомарен на уровне строки; проверка достаточности
// баланса перед отрицательной дельтой — обязанность вызывающего кода.
func (r *PostgresRepository) AdjustPoints(ctx context.Context, userID int64, deltaTenths int64) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE users SET points = points + $2 WHERE user_id = $1`,
		userID, deltaTenths,
	)
	if err != nil {
		return fmt.Errorf("adjust points: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// SpendPoints списывает стоимость публикации. Строка пользователя блокируется,
// чтобы параллельные списания не увели баланс в минус.
func (r *PostgresRepository) SpendPoints(ctx context.Context, userID int64, costTenths int64) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var points int64
	err = tx.QueryRow(ctx, `SELECT points FROM users WHERE user_id = $1 FOR UPDATE`, userID).Scan(&points)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUserNotFound
		}
		return fmt.Errorf("lock user for update: %w", err)
	}

	if points < costTenths {
		return ErrInsufficientPoints
	}

	_, err = tx.Exec(ctx,
		`UPDATE users SET points = points - $2 WHERE user_id = $1`,
		userID, costTenths,
	)
	if err != nil {
		return fmt.Errorf("spend points: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// TouchActivity обновляет отметку последней активности пользователя.
func (r *PostgresRepository) TouchActivity(ctx context.Context, userID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE users SET last_active = now() WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("touch activity: %w", err)
	}
	return nil
}

// RecordPayment добавляет запись в журнал покупок.
func (r *PostgresRepository) RecordPayment(ctx context.Context, userID, amount, pointsGrantedTenths int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO payments (user_id, amount, points_granted) VALUES ($1, $2, $3)`,
		userID, amount, pointsGrantedTenths,
	)
	if err != nil {
		return fmt.Errorf("record payment: %w", err)
	}
	return nil
}

// RecordView фиксирует просмотр и возвращает признак того, что запись новая.
// Пара (пользователь, ссылка) засчитывается не более одного раза.
func (r *PostgresRepository) RecordView(ctx context.Context, userID, postID int64) (bool, error) {
	cmdTag, err := r.pool.Exec(ctx,
		`INSERT INTO views (user_id, post_id) VALUES ($1, $2)
		 ON CONFLICT (user_id, post_id) DO NOTHING`,
		userID, postID,
	)
	if err != nil {
		return false, fmt.Errorf("record view: %w", err)
	}
	return cmdTag.RowsAffected() == 1, nil
}

// GetViewedPostIDs возвращает идентификаторы ссылок, засчитанных пользователю.
func (r *PostgresRepository) GetViewedPostIDs(ctx context.Context, userID int64) ([]int64, error) {
	var ids []int64

	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT post_id FROM views WHERE user_id = $1`,
			userID,
		)
		if err != nil {
			return fmt.Errorf("select views: %w", err)
		}
		defer rows.Close()

		ids = ids[:0]
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scan view: %w", err)
			}
			ids = append(ids, id)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

// CreatePost регистрирует ссылку в реестре и возвращает её идентификатор.
func (r *PostgresRepository) CreatePost(ctx context.Context, ownerID int64, fileRef string, status model.PostStatus) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO posts (user_id, file_ref, status) VALUES ($1, $2, $3) RETURNING post_id`,
		ownerID, fileRef, string(status),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create post: %w", err)
	}
	return id, nil
}

// GetPost возвращает ссылку из реестра по идентификатору.
func (r *PostgresRepository) GetPost(ctx context.Context, postID int64) (*model.Post, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT post_id, user_id, file_ref, status, date_posted FROM posts WHERE post_id = $1`,
		postID,
	)

	var p model.Post
	var status string
	err := row.Scan(&p.ID, &p.OwnerID, &p.FileRef, &status, &p.DatePosted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPostNotFound
		}
		return nil, fmt.Errorf("get post: %w", err)
	}
	p.Status = model.PostStatus(status)

	return &p, nil
}

// SetPostStatus меняет статус ссылки. Остальные поля после создания неизменяемы.
func (r *PostgresRepository) SetPostStatus(ctx context.Context, postID int64, status model.PostStatus) error {
	cmdTag, err := r.pool.Exec(ctx,
		`UPDATE posts SET status = $2 WHERE post_id = $1`,
		postID, string(status),
	)
	if err != nil {
		return fmt.Errorf("set post status: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrPostNotFound
	}
	return nil
}

// nonNilIDs заменяет nil на пустой срез: nil кодируется как SQL NULL,
// и сравнение ANY(NULL) сделало бы условие запроса неопределённым.
func nonNilIDs(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}

// ListCuratedPosts возвращает случайную выборку активных ссылок привилегированных
// авторов, исключая собственные и уже просмотренные ссылки запрашивающего.
func (r *PostgresRepository) ListCuratedPosts(ctx context.Context, forUserID int64, adminIDs, viewedIDs []int64, limit int) ([]model.Post, error) {
	return r.listPosts(ctx,
		`SELECT post_id, user_id, file_ref, status, date_posted
		 FROM posts
		 WHERE user_id = ANY($1)
		   AND user_id <> $2
		   AND status = $3
		   AND NOT (post_id = ANY($4))
		 ORDER BY random()
		 LIMIT $5`,
		nonNilIDs(adminIDs), forUserID, string(model.PostStatusActive), nonNilIDs(viewedIDs), limit,
	)
}

// ListGeneralPosts возвращает случайную выборку активных ссылок остальных
// участников с теми же исключениями, что и ListCuratedPosts.
func (r *PostgresRepository) ListGeneralPosts(ctx context.Context, forUserID int64, adminIDs, viewedIDs []int64, limit int) ([]model.Post, error) {
	return r.listPosts(ctx,
		`SELECT post_id, user_id, file_ref, status, date_posted
		 FROM posts
		 WHERE NOT (user_id = ANY($1))
		   AND user_id <> $2
		   AND status = $3
		   AND NOT (post_id = ANY($4))
		 ORDER BY random()
		 LIMIT $5`,
		nonNilIDs(adminIDs), forUserID, string(model.PostStatusActive), nonNilIDs(viewedIDs), limit,
	)
}

func (r *PostgresRepository) listPosts(ctx context.Context, query string, args ...any) ([]model.Post, error) {
	var posts []model.Post

	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("select posts: %w", err)
		}
		defer rows.Close()

		posts = posts[:0]
		for rows.Next() {
			var p model.Post
			var status string
			if err := rows.Scan(&p.ID, &p.OwnerID, &p.FileRef, &status, &p.DatePosted); err != nil {
				return fmt.Errorf("scan post: %w", err)
			}
			p.Status = model.PostStatus(status)
			posts = append(posts, p)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return posts, nil
}

// ListUserIDs возвращает идентификаторы всех зарегистрированных пользователей.
func (r *PostgresRepository) ListUserIDs(ctx context.Context) ([]int64, error) {
	var ids []int64

	err := r.withRetry(ctx, func() error {
		rows, err := r.pool.Query(ctx, `SELECT user_id FROM users`)
		if err != nil {
			return fmt.Errorf("select users: %w", err)
		}
		defer rows.Close()

		ids = ids[:0]
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scan user: %w", err)
			}
			ids = append(ids, id)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

// GetSummary возвращает агрегированную статистику для привилегированного отчёта.
func (r *PostgresRepository) GetSummary(ctx context.Context, activeWindow time.Duration) (*model.Summary, error) {
	var s model.Summary

	err := r.withRetry(ctx, func() error {
		row := r.pool.QueryRow(ctx,
			`SELECT
			     (SELECT COUNT(*) FROM users),
			     (SELECT COUNT(*) FROM users WHERE date_joined >= date_trunc('day', now())),
			     (SELECT COUNT(*) FROM users WHERE date_joined >= now() - interval '7 days'),
			     (SELECT COUNT(*) FROM users WHERE date_joined >= now() - interval '30 days'),
			     (SELECT COUNT(*) FROM posts),
			     (SELECT COUNT(*) FROM users WHERE last_active >= now() - make_interval(secs => $1))`,
			activeWindow.Seconds(),
		)
		return row.Scan(&s.TotalUsers, &s.UsersToday, &s.UsersWeek, &s.UsersMonth, &s.TotalPosts, &s.ActiveUsers)
	})
	if err != nil {
		return nil, fmt.Errorf("get summary: %w", err)
	}

	return &s, nil
}
