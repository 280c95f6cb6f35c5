package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"chainflow/internal/config"
	"chainflow/internal/models"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// SQLStore persists session snapshots in a single key-value table,
// usable with sqlite3 or mysql.
type SQLStore struct {
	db *sql.DB
}

// OpenSQL connects to the configured database and ensures the snapshot
// table exists.
func OpenSQL(dbType string, cfg *config.Config) (*SQLStore, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)
	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			dbCfg.Params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := migrate(db, dbType); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLStore{db: db}, nil
}

func migrate(db *sql.DB, driver string) error {
	var stmt string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmt = `CREATE TABLE IF NOT EXISTS session_snapshots (
			id TEXT PRIMARY KEY,
			snapshot TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`
	case "mysql":
		stmt = `CREATE TABLE IF NOT EXISTS session_snapshots (
			id VARCHAR(191) PRIMARY KEY,
			snapshot MEDIUMTEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
		)`
	default:
		return fmt.Errorf("unsupported driver: %s", driver)
	}
	if _, err := db.Exec(stmt); err != nil {
		return fmt.Errorf("create session_snapshots: %w", err)
	}
	return nil
}

// LoadSessions reads every stored snapshot.
func (s *SQLStore) LoadSessions(ctx context.Context) ([]*models.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT snapshot FROM session_snapshots`)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		var sess models.Session
		if err := json.Unmarshal([]byte(raw), &sess); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		sessions = append(sessions, &sess)
	}
	return sessions, rows.Err()
}

// SaveSession upserts one session snapshot.
func (s *SQLStore) SaveSession(ctx context.Context, sess *models.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`REPLACE INTO session_snapshots (id, snapshot) VALUES (?, ?)`,
		sess.ID, string(raw))
	if err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

// DeleteSession removes a session snapshot.
func (s *SQLStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM session_snapshots WHERE id = ?`, id)
	return err
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
