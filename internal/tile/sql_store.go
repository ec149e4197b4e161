package tile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/annel0/mmo-atlas/internal/vec"
	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"
)

// Dialect - SQL диалект хранилища
type Dialect uint8

const (
	DialectMySQL Dialect = iota
	DialectSQLite
)

// MariaConfig содержит настройки подключения к MariaDB
type MariaConfig struct {
	Host     string `yaml:"host"`     // например, localhost
	Port     int    `yaml:"port"`     // например, 3306
	Database string `yaml:"database"` // например, atlas
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// DSN формирует строку подключения драйвера mysql
func (c MariaConfig) DSN() string {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 3306
	}
	if c.Database == "" {
		c.Database = "atlas"
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.Username, c.Password, c.Host, c.Port, c.Database)
}

// SQLStore хранит тайлы в MariaDB/MySQL или SQLite, одна строка на чанк
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore подключается к MariaDB и создаёт таблицу тайлов
func NewSQLStore(ctx context.Context, cfg MariaConfig) (*SQLStore, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть подключение к MariaDB: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("не удалось подключиться к MariaDB: %w", err)
	}

	s := &SQLStore{db: db, dialect: DialectMySQL}
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStore открывает (или создаёт) файл SQLite.
// ":memory:" - база в памяти на время жизни хранилища.
func NewSQLiteStore(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("пустой путь к базе SQLite")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть SQLite %s: %w", path, err)
	}
	// Один писатель; для :memory: ещё и одна общая база
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, p := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", p, err)
		}
	}

	s := &SQLStore{db: db, dialect: DialectSQLite}
	if err := s.createTables(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStoreFromDB использует уже открытое подключение
func NewSQLStoreFromDB(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, dialect: dialect}
	if err := s.createTables(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) createTables(ctx context.Context) error {
	if s.dialect == DialectSQLite {
		const createSQLiteTable = `
		CREATE TABLE IF NOT EXISTS atlas_tiles (
			dim TEXT NOT NULL,
			x INTEGER NOT NULL,
			z INTEGER NOT NULL,
			tile TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			PRIMARY KEY (dim, x, z)
		) WITHOUT ROWID;`
		if _, err := s.db.ExecContext(ctx, createSQLiteTable); err != nil {
			return fmt.Errorf("не удалось создать таблицу atlas_tiles: %w", err)
		}
		return nil
	}

	const createTilesTable = `
	CREATE TABLE IF NOT EXISTS atlas_tiles (
		dim VARCHAR(128) NOT NULL,
		x INT NOT NULL,
		z INT NOT NULL,
		tile VARCHAR(255) NOT NULL,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (dim, x, z)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_bin;`

	if _, err := s.db.ExecContext(ctx, createTilesTable); err != nil {
		return fmt.Errorf("не удалось создать таблицу atlas_tiles: %w", err)
	}
	return nil
}

// GetTile читает тайл чанка
func (s *SQLStore) GetTile(ctx context.Context, dim string, chunk vec.Vec2) (ID, bool, error) {
	const query = `SELECT tile FROM atlas_tiles WHERE dim = ? AND x = ? AND z = ?`

	var id string
	err := s.db.QueryRowContext(ctx, query, dim, chunk.X, chunk.Y).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return None, false, nil
	}
	if err != nil {
		return None, false, fmt.Errorf("ошибка при чтении тайла: %w", err)
	}
	return ID(id), true, nil
}

// PutTile записывает тайл чанка (upsert)
func (s *SQLStore) PutTile(ctx context.Context, dim string, id ID, chunk vec.Vec2) error {
	query := `INSERT INTO atlas_tiles (dim, x, z, tile) VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE tile = VALUES(tile)`
	if s.dialect == DialectSQLite {
		query = `INSERT INTO atlas_tiles (dim, x, z, tile) VALUES (?, ?, ?, ?)
		ON CONFLICT(dim, x, z) DO UPDATE SET tile = excluded.tile,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')`
	}

	if _, err := s.db.ExecContext(ctx, query, dim, chunk.X, chunk.Y, string(id)); err != nil {
		return fmt.Errorf("ошибка при записи тайла: %w", err)
	}
	return nil
}

// Scan обходит тайлы измерения в порядке (x, z)
func (s *SQLStore) Scan(ctx context.Context, dim string, fn func(Entry) error) error {
	const query = `SELECT x, z, tile FROM atlas_tiles WHERE dim = ? ORDER BY x, z`

	rows, err := s.db.QueryContext(ctx, query, dim)
	if err != nil {
		return fmt.Errorf("ошибка при чтении тайлов: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var e Entry
		var id string
		if err := rows.Scan(&e.Chunk.X, &e.Chunk.Y, &id); err != nil {
			return err
		}
		e.Tile = ID(id)
		if err := fn(e); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count возвращает количество тайлов измерения
func (s *SQLStore) Count(ctx context.Context, dim string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM atlas_tiles WHERE dim = ?`, dim).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("ошибка при подсчёте тайлов: %w", err)
	}
	return n, nil
}

// Close закрывает подключение к БД
func (s *SQLStore) Close() error {
	return s.db.Close()
}
