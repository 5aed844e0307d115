package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/amillerrr/video-ingest/pkg/models"
)

const (
	sqliteDriver  = "sqlite3"
	sqliteDialect = "sqlite3"
	sqliteDSN     = "file:%s?_busy_timeout=5000&_journal_mode=WAL"
)

const selectVideo = `
	SELECT id, user_id, title, description, thumbnail_url, video_url, created_at, updated_at
	FROM videos
	WHERE id = ?
`

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteVideoStore keeps video records in a local SQLite database.
type SQLiteVideoStore struct {
	db  *sqlx.DB
	log *slog.Logger
}

// NewSQLiteVideoStore opens the database at path and applies pending migrations.
func NewSQLiteVideoStore(ctx context.Context, path string, log *slog.Logger) (*SQLiteVideoStore, error) {
	db, err := sqlx.Open(sqliteDriver, fmt.Sprintf(sqliteDSN, path))
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to sqlite database: %w", err)
	}

	if err := Migrate(db.DB, log); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteVideoStore{db: db, log: log}, nil
}

// Migrate runs the embedded goose migrations against db.
func Migrate(db *sql.DB, log *slog.Logger) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(&gooseLogger{log: log})
	if err := goose.SetDialect(sqliteDialect); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// CreateVideo inserts a new record.
func (s *SQLiteVideoStore) CreateVideo(ctx context.Context, video *models.VideoRecord) error {
	now := time.Now().UTC()
	if video.CreatedAt.IsZero() {
		video.CreatedAt = now
	}
	video.UpdatedAt = now

	const q = `
		INSERT INTO videos
			(id, user_id, title, description, thumbnail_url, video_url, created_at, updated_at)
		VALUES
			(:id, :user_id, :title, :description, :thumbnail_url, :video_url, :created_at, :updated_at)
	`
	if _, err := s.db.NamedExecContext(ctx, q, video); err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
			return fmt.Errorf("%w: %s", models.ErrVideoExists, video.ID)
		}
		return fmt.Errorf("failed to create video: %w", err)
	}

	return nil
}

// GetVideo returns the record for id or models.ErrVideoNotFound.
func (s *SQLiteVideoStore) GetVideo(ctx context.Context, id string) (*models.VideoRecord, error) {
	var video models.VideoRecord
	if err := s.db.GetContext(ctx, &video, selectVideo, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, models.ErrVideoNotFound
		}
		return nil, fmt.Errorf("failed to get video: %w", err)
	}

	return &video, nil
}

// SetVideoURL sets the playback URL of id and returns the stored record.
// No other column is written.
func (s *SQLiteVideoStore) SetVideoURL(ctx context.Context, id, videoURL string) (*models.VideoRecord, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	const update = `
		UPDATE videos
		SET video_url = ?,
		    updated_at = ?
		WHERE id = ?
	`
	res, err := tx.ExecContext(ctx, update, videoURL, time.Now().UTC(), id)
	if err != nil {
		return nil, fmt.Errorf("failed to set video url: %w", err)
	}
	if aff, _ := res.RowsAffected(); aff == 0 {
		return nil, models.ErrVideoNotFound
	}

	var video models.VideoRecord
	if err := tx.GetContext(ctx, &video, selectVideo, id); err != nil {
		return nil, fmt.Errorf("failed to reload video: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit video url: %w", err)
	}
	return &video, nil
}

// Ping checks the database connection.
func (s *SQLiteVideoStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteVideoStore) Close() error {
	return s.db.Close()
}

// gooseLogger routes migration output through slog.
type gooseLogger struct {
	log *slog.Logger
}

func (l *gooseLogger) Print(v ...any)   { l.log.Info(fmt.Sprint(v...)) }
func (l *gooseLogger) Println(v ...any) { l.log.Info(fmt.Sprint(v...)) }

func (l *gooseLogger) Printf(format string, v ...any) {
	l.log.Info(fmt.Sprintf(format, v...), "component", "migrations")
}

func (l *gooseLogger) Fatal(v ...any) {
	l.log.Error(fmt.Sprint(v...), "component", "migrations")
	os.Exit(1)
}

func (l *gooseLogger) Fatalf(format string, v ...any) {
	l.log.Error(fmt.Sprintf(format, v...), "component", "migrations")
	os.Exit(1)
}
