package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	// Registers the "sqlite" driver (pure Go).
	_ "modernc.org/sqlite"

	"github.com/jialangli/emotion-companion/internal/domain"
)

var _ Repo = (*SQLiteRepo)(nil)

// SQLiteRepo implements Repo using an embedded SQLite database.
type SQLiteRepo struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (or creates) the SQLite database at the given path,
// applies recommended PRAGMAs, runs SQL migrations, and returns a repository.
func OpenSQLite(ctx context.Context, path string) (*SQLiteRepo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Reasonable pooling for SQLite; it's a single-writer engine.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply pragmas: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}

	return &SQLiteRepo{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

// applyPragmas configures the SQLite connection for durability and concurrency.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the underlying database resources.
func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

const scheduleColumns = `user_id, timezone,
	enable_morning, morning_time,
	enable_evening, evening_time,
	enable_care, care_time,
	last_push_date, last_active_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*domain.ScheduleConfig, error) {
	var (
		userID                       string
		tz                           string
		morningOn, eveningOn, careOn int
		morningAt, eveningAt, careAt string
		lastPush                     sql.NullString
		lastActive                   sql.NullInt64
		createdAt, updatedAt         int64
	)
	if err := row.Scan(
		&userID, &tz,
		&morningOn, &morningAt,
		&eveningOn, &eveningAt,
		&careOn, &careAt,
		&lastPush, &lastActive, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	slot := func(on int, at string, fallback domain.ClockTime) (domain.Slot, error) {
		t := fallback
		if strings.TrimSpace(at) != "" {
			parsed, err := domain.ParseClock(at)
			if err != nil {
				return domain.Slot{}, fmt.Errorf("user %s: %w", userID, err)
			}
			t = parsed
		}
		return domain.Slot{Enabled: on != 0, Time: t}, nil
	}

	morning, err := slot(morningOn, morningAt, domain.DefaultMorning)
	if err != nil {
		return nil, err
	}
	evening, err := slot(eveningOn, eveningAt, domain.DefaultEvening)
	if err != nil {
		return nil, err
	}
	care, err := slot(careOn, careAt, domain.DefaultCare)
	if err != nil {
		return nil, err
	}

	return &domain.ScheduleConfig{
		UserID:       userID,
		Timezone:     tz,
		Morning:      morning,
		Evening:      evening,
		Care:         care,
		LastPushDate: fromNullString(lastPush),
		LastActiveAt: fromNullInt64(lastActive),
		CreatedAt:    time.Unix(createdAt, 0).UTC(),
		UpdatedAt:    time.Unix(updatedAt, 0).UTC(),
	}, nil
}

// Get returns a user's schedule or ErrNotFound.
func (r *SQLiteRepo) Get(ctx context.Context, userID string) (*domain.ScheduleConfig, error) {
	return r.get(ctx, r.db, userID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLiteRepo) get(ctx context.Context, q querier, userID string) (*domain.ScheduleConfig, error) {
	row := q.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM user_schedule WHERE user_id = ?`, userID)
	cfg, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Upsert applies a partial update to the user's schedule, creating the row with
// defaults first if the user is new. The stored result is returned.
func (r *SQLiteRepo) Upsert(ctx context.Context, userID string, patch domain.SchedulePatch) (*domain.ScheduleConfig, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, errors.New("empty user id")
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := r.now()
	cfg, err := r.get(ctx, tx, userID)
	switch {
	case errors.Is(err, ErrNotFound):
		fresh := domain.NewScheduleConfig(userID)
		fresh.CreatedAt = now
		cfg = &fresh
	case err != nil:
		return nil, err
	}
	patch.Apply(cfg)
	cfg.UpdatedAt = now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO user_schedule (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			timezone       = excluded.timezone,
			enable_morning = excluded.enable_morning,
			morning_time   = excluded.morning_time,
			enable_evening = excluded.enable_evening,
			evening_time   = excluded.evening_time,
			enable_care    = excluded.enable_care,
			care_time      = excluded.care_time,
			updated_at     = excluded.updated_at`,
		cfg.UserID, cfg.Timezone,
		boolToInt(cfg.Morning.Enabled), cfg.Morning.Time.String(),
		boolToInt(cfg.Evening.Enabled), cfg.Evening.Time.String(),
		boolToInt(cfg.Care.Enabled), cfg.Care.Time.String(),
		toNullString(cfg.LastPushDate), toNullInt64(cfg.LastActiveAt),
		cfg.CreatedAt.UTC().Unix(), cfg.UpdatedAt.UTC().Unix(),
	)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ListActive returns every user with at least one category enabled.
func (r *SQLiteRepo) ListActive(ctx context.Context) ([]domain.ScheduleConfig, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM user_schedule
		WHERE enable_morning = 1 OR enable_evening = 1 OR enable_care = 1
		ORDER BY user_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []domain.ScheduleConfig
	for rows.Next() {
		cfg, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// TouchLastActive records the last time a user connected. Unknown users are ignored.
func (r *SQLiteRepo) TouchLastActive(ctx context.Context, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE user_schedule
		SET last_active_at = ?
		WHERE user_id = ?`,
		at.UTC().Unix(), userID,
	)
	return err
}

// LinkChat binds a Telegram chat to a user, replacing any previous binding for the chat.
func (r *SQLiteRepo) LinkChat(ctx context.Context, chatID int64, userID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO telegram_links (chat_id, user_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			user_id    = excluded.user_id,
			created_at = excluded.created_at`,
		chatID, userID, r.now().Unix(),
	)
	return err
}

// UnlinkChat removes a chat binding; missing bindings are not an error.
func (r *SQLiteRepo) UnlinkChat(ctx context.Context, chatID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM telegram_links WHERE chat_id = ?`, chatID)
	return err
}

// GetLink returns the binding for chatID or ErrNotFound.
func (r *SQLiteRepo) GetLink(ctx context.Context, chatID int64) (*TelegramLink, error) {
	var (
		l       TelegramLink
		created int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT chat_id, user_id, created_at
		FROM telegram_links
		WHERE chat_id = ?`, chatID,
	).Scan(&l.ChatID, &l.UserID, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	l.CreatedAt = time.Unix(created, 0).UTC()
	return &l, nil
}

// ListLinks returns all chat bindings ordered by chat id.
func (r *SQLiteRepo) ListLinks(ctx context.Context) ([]TelegramLink, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT chat_id, user_id, created_at
		FROM telegram_links
		ORDER BY chat_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []TelegramLink
	for rows.Next() {
		var (
			l       TelegramLink
			created int64
		)
		if err := rows.Scan(&l.ChatID, &l.UserID, &created); err != nil {
			return nil, err
		}
		l.CreatedAt = time.Unix(created, 0).UTC()
		res = append(res, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// boolToInt converts a boolean to 1/0 for SQLite.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
