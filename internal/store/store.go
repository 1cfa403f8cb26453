package store

import (
	"context"
	"database/sql"
	"embed"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/leighmacdonald/pfp/internal/model"
	_ "github.com/mattn/go-sqlite3" // sqlite3 database/sql driver
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	ErrNoResult  = errors.New("no results")
	ErrEmptyKey  = errors.New("empty cache key")
	errNotOpened = errors.New("database not connected")
)

type DataStore interface {
	Close() error
	Connect() error
	Init() error
	SaveAvatar(ctx context.Context, record *AvatarRecord) error
	GetAvatar(ctx context.Context, key model.CacheKey, record *AvatarRecord) error
	DeleteAvatar(ctx context.Context, key model.CacheKey) error
	Avatars(ctx context.Context) ([]AvatarRecord, error)
}

type SqliteStore struct {
	db     *sql.DB
	dsn    string
	logger *zap.Logger
}

func New(dsn string, logger *zap.Logger) *SqliteStore {
	return &SqliteStore{dsn: dsn, logger: logger.Named("store")}
}

func (store *SqliteStore) Close() error {
	if store.db == nil {
		return nil
	}

	if errClose := store.db.Close(); errClose != nil {
		return errors.Wrapf(errClose, "Failed to Close database")
	}

	store.db = nil

	return nil
}

func (store *SqliteStore) Connect() error {
	database, errOpen := sql.Open("sqlite3", store.dsn)
	if errOpen != nil {
		return errors.Wrap(errOpen, "Failed to open database")
	}

	// A single connection keeps :memory: databases alive and serializes writers.
	database.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA encoding = 'UTF-8'", "PRAGMA foreign_keys = ON"} {
		if _, errPragma := database.Exec(pragma); errPragma != nil {
			return errors.Wrapf(errPragma, "Failed to enable pragma: %s", pragma)
		}
	}

	store.db = database

	return nil
}

func (store *SqliteStore) Init() error {
	if store.db == nil {
		if errConn := store.Connect(); errConn != nil {
			return errConn
		}
	}

	fsDriver, errIofs := iofs.New(migrations, "migrations")
	if errIofs != nil {
		return errors.Wrap(errIofs, "failed to create iofs")
	}

	sqlDriver, errDriver := sqlite3.WithInstance(store.db, &sqlite3.Config{})
	if errDriver != nil {
		return errors.Wrap(errDriver, "Failed to create migration driver")
	}

	migrator, errNewMigrator := migrate.NewWithInstance("iofs", fsDriver, "sqlite3", sqlDriver)
	if errNewMigrator != nil {
		return errors.Wrap(errNewMigrator, "Failed to create migrator")
	}

	// Closing the migrator would also close store.db.
	if errMigrate := migrator.Up(); errMigrate != nil && !errors.Is(errMigrate, migrate.ErrNoChange) {
		return errors.Wrap(errMigrate, "Failed to migrate database")
	}

	store.logger.Debug("Database ready", zap.String("dsn", store.dsn))

	return nil
}

func (store *SqliteStore) SaveAvatar(ctx context.Context, record *AvatarRecord) error {
	if store.db == nil {
		return errNotOpened
	}

	if record.CacheKey == "" {
		return ErrEmptyKey
	}

	query, args, errSQL := sq.
		Insert("avatar").
		Columns("cache_key", "platform", "source", "sha256", "size", "width", "height", "updated_on").
		Values(string(record.CacheKey), record.Platform.String(), string(record.Source), record.SHA256,
			record.Size, record.Width, record.Height, record.UpdatedOn).
		Suffix(`ON CONFLICT(cache_key) DO UPDATE SET platform = excluded.platform, source = excluded.source,
			sha256 = excluded.sha256, size = excluded.size, width = excluded.width, height = excluded.height,
			updated_on = excluded.updated_on`).
		ToSql()
	if errSQL != nil {
		return errors.Wrap(errSQL, "Failed to build query")
	}

	if _, errExec := store.db.ExecContext(ctx, query, args...); errExec != nil {
		return errors.Wrap(errExec, "Failed to save avatar")
	}

	return nil
}

func avatarColumns() sq.SelectBuilder {
	return sq.Select("cache_key", "platform", "source", "sha256", "size", "width", "height", "updated_on").
		From("avatar")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAvatar(row rowScanner, record *AvatarRecord) error {
	var (
		key      string
		platform string
		source   string
	)

	if errScan := row.Scan(&key, &platform, &source, &record.SHA256, &record.Size,
		&record.Width, &record.Height, &record.UpdatedOn); errScan != nil {
		return errScan
	}

	record.CacheKey = model.CacheKey(key)
	record.Source = Source(source)

	parsed, errParse := model.ParsePlatform(platform)
	if errParse != nil {
		parsed = model.Unknown
	}

	record.Platform = parsed

	return nil
}

func (store *SqliteStore) GetAvatar(ctx context.Context, key model.CacheKey, record *AvatarRecord) error {
	if store.db == nil {
		return errNotOpened
	}

	query, args, errSQL := avatarColumns().Where(sq.Eq{"cache_key": string(key)}).ToSql()
	if errSQL != nil {
		return errors.Wrap(errSQL, "Failed to build query")
	}

	if errScan := scanAvatar(store.db.QueryRowContext(ctx, query, args...), record); errScan != nil {
		if errors.Is(errScan, sql.ErrNoRows) {
			return ErrNoResult
		}

		return errors.Wrap(errScan, "Failed to load avatar")
	}

	return nil
}

func (store *SqliteStore) DeleteAvatar(ctx context.Context, key model.CacheKey) error {
	if store.db == nil {
		return errNotOpened
	}

	query, args, errSQL := sq.Delete("avatar").Where(sq.Eq{"cache_key": string(key)}).ToSql()
	if errSQL != nil {
		return errors.Wrap(errSQL, "Failed to build query")
	}

	if _, errExec := store.db.ExecContext(ctx, query, args...); errExec != nil {
		return errors.Wrap(errExec, "Failed to delete avatar")
	}

	return nil
}

// Avatars returns every record, most recently updated first.
func (store *SqliteStore) Avatars(ctx context.Context) ([]AvatarRecord, error) {
	if store.db == nil {
		return nil, errNotOpened
	}

	query, args, errSQL := avatarColumns().OrderBy("updated_on DESC", "cache_key").ToSql()
	if errSQL != nil {
		return nil, errors.Wrap(errSQL, "Failed to build query")
	}

	rows, errQuery := store.db.QueryContext(ctx, query, args...)
	if errQuery != nil {
		return nil, errors.Wrap(errQuery, "Failed to query avatars")
	}

	defer func() {
		if errClose := rows.Close(); errClose != nil {
			store.logger.Error("Failed to close rows", zap.Error(errClose))
		}
	}()

	var records []AvatarRecord

	for rows.Next() {
		var record AvatarRecord
		if errScan := scanAvatar(rows, &record); errScan != nil {
			return nil, errors.Wrap(errScan, "Failed to scan avatar")
		}

		records = append(records, record)
	}

	return records, errors.Wrap(rows.Err(), "Failed to iterate avatars")
}
