package admin

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ConfigManager exposes the runtime config operations needed by the admin
// API. The gateway implements it; configs cross this boundary as JSON
// documents so this package stays decoupled from the root config types.
type ConfigManager interface {
	ConfigJSON() (json.RawMessage, error)
	ReloadConfigJSON(data json.RawMessage) error
}

// ConfigStore persists the applied runtime config for restart recovery.
type ConfigStore interface {
	Save(data json.RawMessage) error
	Load() (json.RawMessage, bool, error)
	Delete() error
}

// ConfigResetter provides reset semantics for the config API.
type ConfigResetter interface {
	ResetConfig() error
}

// SQLConfigStore persists config snapshots in SQLite/Postgres.
type SQLConfigStore struct {
	db      *sql.DB
	dialect sqlDialect
}

func NewSQLiteConfigStore(dsn string) (*SQLConfigStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "graphgw-config.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite config store: %w", err)
	}
	s := &SQLConfigStore{db: db, dialect: dialectSQLite}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func NewPostgresConfigStore(dsn string) (*SQLConfigStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres config store: %w", err)
	}
	s := &SQLConfigStore{db: db, dialect: dialectPostgres}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLConfigStore) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping %s config store: %w", s.dialect, err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS gateway_config (
	id INTEGER PRIMARY KEY,
	config_json TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);`

	if s.dialect == dialectPostgres {
		ddl = `
CREATE TABLE IF NOT EXISTS gateway_config (
	id SMALLINT PRIMARY KEY,
	config_json TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);`
	}

	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize config schema: %w", err)
	}
	return nil
}

// Save upserts the single persisted config snapshot.
func (s *SQLConfigStore) Save(data json.RawMessage) error {
	if !json.Valid(data) {
		return fmt.Errorf("config snapshot is not valid JSON")
	}

	upsert := `
INSERT INTO gateway_config(id, config_json, updated_at)
VALUES(1, ?, ?)
ON CONFLICT(id) DO UPDATE SET config_json = excluded.config_json, updated_at = excluded.updated_at`

	if s.dialect == dialectPostgres {
		upsert = `
INSERT INTO gateway_config(id, config_json, updated_at)
VALUES(1, $1, $2)
ON CONFLICT(id) DO UPDATE SET config_json = EXCLUDED.config_json, updated_at = EXCLUDED.updated_at`
	}

	if _, err := s.db.Exec(upsert, string(data), time.Now().UTC()); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

// Load returns the persisted config snapshot, if any.
func (s *SQLConfigStore) Load() (json.RawMessage, bool, error) {
	row := s.db.QueryRow(`SELECT config_json FROM gateway_config WHERE id = 1`)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load config: %w", err)
	}
	return json.RawMessage(raw), true, nil
}

// Delete removes the persisted config snapshot.
func (s *SQLConfigStore) Delete() error {
	if _, err := s.db.Exec(`DELETE FROM gateway_config WHERE id = 1`); err != nil {
		return fmt.Errorf("delete config: %w", err)
	}
	return nil
}

func (s *SQLConfigStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PersistentConfigManager layers optional SQL persistence over a runtime
// config target. On construction it replays a persisted snapshot into the
// target, so runtime config updates survive restarts. It implements
// ConfigManager and ConfigResetter.
type PersistentConfigManager struct {
	mu      sync.RWMutex
	target  ConfigManager
	initial json.RawMessage
	store   ConfigStore
}

func NewPersistentConfigManager(target ConfigManager, store ConfigStore) (*PersistentConfigManager, error) {
	if target == nil {
		return nil, fmt.Errorf("config target is required")
	}

	initial, err := target.ConfigJSON()
	if err != nil {
		return nil, fmt.Errorf("snapshot initial config: %w", err)
	}

	m := &PersistentConfigManager{
		target:  target,
		initial: initial,
		store:   store,
	}

	if store != nil {
		persisted, ok, err := store.Load()
		if err != nil {
			return nil, err
		}
		if ok {
			if err := target.ReloadConfigJSON(persisted); err != nil {
				return nil, fmt.Errorf("reload persisted config: %w", err)
			}
		}
	}

	return m, nil
}

func (m *PersistentConfigManager) ConfigJSON() (json.RawMessage, error) {
	return m.target.ConfigJSON()
}

func (m *PersistentConfigManager) ReloadConfigJSON(data json.RawMessage) error {
	if err := m.target.ReloadConfigJSON(data); err != nil {
		return err
	}
	if m.store != nil {
		if err := m.store.Save(data); err != nil {
			return err
		}
	}
	return nil
}

// ResetConfig restores the config captured at construction time and clears
// any persisted snapshot.
func (m *PersistentConfigManager) ResetConfig() error {
	m.mu.RLock()
	initial := m.initial
	m.mu.RUnlock()

	if err := m.target.ReloadConfigJSON(initial); err != nil {
		return err
	}
	if m.store != nil {
		if err := m.store.Delete(); err != nil {
			return err
		}
	}
	return nil
}
