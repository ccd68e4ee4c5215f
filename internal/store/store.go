// Package store persists per-target configuration and delivery state in an
// embedded sqlite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"ratewatch/internal/items"
)

type Store struct {
	sql *sql.DB
}

func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", dbPath)
	sqldb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	sqldb.SetMaxOpenConns(1) // SQLite best practice for embedded use
	sqldb.SetConnMaxLifetime(0)

	s := &Store{sql: sqldb}
	if err := s.migrate(context.Background()); err != nil {
		_ = sqldb.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.sql.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS admins (user_id INTEGER PRIMARY KEY, is_super INTEGER NOT NULL DEFAULT 0, created_at INTEGER NOT NULL);`,
		`CREATE TABLE IF NOT EXISTS chats (
			chat_id INTEGER PRIMARY KEY,
			title TEXT NOT NULL,
			type TEXT NOT NULL,
			approved INTEGER NOT NULL DEFAULT 0,
			enabled INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS chat_settings (
			chat_id INTEGER PRIMARY KEY REFERENCES chats(chat_id) ON DELETE CASCADE,
			interval_minutes INTEGER NOT NULL DEFAULT 5,
			quiet_windows TEXT NOT NULL DEFAULT '[]',
			only_on_change INTEGER NOT NULL DEFAULT 0,
			threshold_abs REAL NOT NULL DEFAULT 0,
			threshold_pct REAL NOT NULL DEFAULT 0,
			price_side TEXT NOT NULL DEFAULT 'sell',
			post_mode TEXT NOT NULL DEFAULT 'new',
			triggers TEXT NOT NULL DEFAULT '[]',
			fa_digits INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE TABLE IF NOT EXISTS chat_items (
			chat_id INTEGER NOT NULL REFERENCES chats(chat_id) ON DELETE CASCADE,
			item_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			enabled INTEGER NOT NULL DEFAULT 1,
			PRIMARY KEY (chat_id, item_id)
		);`,
		`CREATE TABLE IF NOT EXISTS chat_state (
			chat_id INTEGER PRIMARY KEY REFERENCES chats(chat_id) ON DELETE CASCADE,
			last_values TEXT NOT NULL DEFAULT '{}',
			last_message_id INTEGER,
			last_slot INTEGER NOT NULL DEFAULT 0,
			first_done INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chat_items_chat_position ON chat_items(chat_id, position);`,
	}
	for _, q := range stmts {
		if _, err := s.sql.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

// SeedAdmins installs the configured admin list when the table is empty.
// The first configured id becomes super admin.
func (s *Store) SeedAdmins(ctx context.Context, initial []int64) error {
	count, err := s.AdminCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 || len(initial) == 0 {
		return nil
	}
	for i, id := range initial {
		if err := s.AddAdmin(ctx, id, i == 0); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) AdminCount(ctx context.Context) (int, error) {
	var c int
	if err := s.sql.QueryRowContext(ctx, `SELECT COUNT(1) FROM admins`).Scan(&c); err != nil {
		return 0, err
	}
	return c, nil
}

func (s *Store) IsAdmin(ctx context.Context, userID int64) (bool, bool, error) {
	var isSuper int
	err := s.sql.QueryRowContext(ctx, `SELECT is_super FROM admins WHERE user_id=?`, userID).Scan(&isSuper)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return true, isSuper == 1, nil
}

func (s *Store) AddAdmin(ctx context.Context, userID int64, super bool) error {
	isSuper := 0
	if super {
		isSuper = 1
	}
	_, err := s.sql.ExecContext(ctx, `INSERT OR REPLACE INTO admins(user_id,is_super,created_at) VALUES(?,?,?)`, userID, isSuper, time.Now().Unix())
	return err
}

func (s *Store) RemoveAdmin(ctx context.Context, userID int64) error {
	_, err := s.sql.ExecContext(ctx, `DELETE FROM admins WHERE user_id=?`, userID)
	return err
}

type Admin struct {
	UserID  int64
	IsSuper bool
}

func (s *Store) ListAdmins(ctx context.Context) ([]Admin, error) {
	rows, err := s.sql.QueryContext(ctx, `SELECT user_id,is_super FROM admins ORDER BY is_super DESC, user_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Admin
	for rows.Next() {
		var a Admin
		var isSuper int
		if err := rows.Scan(&a.UserID, &isSuper); err != nil {
			return nil, err
		}
		a.IsSuper = isSuper == 1
		out = append(out, a)
	}
	return out, rows.Err()
}

type Chat struct {
	ChatID   int64
	Title    string
	Type     string // group/supergroup/channel/private
	Approved bool
	Enabled  bool
}

// UpsertChat registers a chat (first contact) or refreshes its title/type.
// New chats start unapproved with auto-send off and the default selection.
func (s *Store) UpsertChat(ctx context.Context, chatID int64, title, typ string) error {
	now := time.Now().Unix()
	_, err := s.sql.ExecContext(ctx,
		`INSERT INTO chats(chat_id,title,type,approved,enabled,created_at,updated_at)
		 VALUES(?,?,?,0,0,?,?)
		 ON CONFLICT(chat_id) DO UPDATE SET title=excluded.title, type=excluded.type, updated_at=excluded.updated_at`,
		chatID, title, typ, now, now)
	if err != nil {
		return err
	}
	if _, err := s.sql.ExecContext(ctx, `INSERT OR IGNORE INTO chat_settings(chat_id) VALUES(?)`, chatID); err != nil {
		return fmt.Errorf("seed chat settings: %w", err)
	}
	if _, err := s.sql.ExecContext(ctx, `INSERT OR IGNORE INTO chat_state(chat_id) VALUES(?)`, chatID); err != nil {
		return fmt.Errorf("seed chat state: %w", err)
	}
	return s.ensureDefaultItems(ctx, chatID)
}

func (s *Store) ensureDefaultItems(ctx context.Context, chatID int64) error {
	var c int
	if err := s.sql.QueryRowContext(ctx, `SELECT COUNT(1) FROM chat_items WHERE chat_id=?`, chatID).Scan(&c); err != nil {
		return err
	}
	if c > 0 {
		return nil
	}

	enabled := map[string]bool{}
	for _, id := range items.Defaults() {
		enabled[id] = true
	}
	pos := 0
	for _, it := range items.All {
		pos++
		en := 0
		if enabled[it.ID] {
			en = 1
		}
		if _, err := s.sql.ExecContext(ctx, `INSERT OR IGNORE INTO chat_items(chat_id,item_id,position,enabled) VALUES(?,?,?,?)`, chatID, it.ID, pos, en); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) SetChatApproved(ctx context.Context, chatID int64, approved bool) error {
	val := 0
	if approved {
		val = 1
	}
	_, err := s.sql.ExecContext(ctx, `UPDATE chats SET approved=?, updated_at=? WHERE chat_id=?`, val, time.Now().Unix(), chatID)
	return err
}

func (s *Store) SetChatEnabled(ctx context.Context, chatID int64, enabled bool) error {
	val := 0
	if enabled {
		val = 1
	}
	_, err := s.sql.ExecContext(ctx, `UPDATE chats SET enabled=?, updated_at=? WHERE chat_id=?`, val, time.Now().Unix(), chatID)
	return err
}

func (s *Store) GetChat(ctx context.Context, chatID int64) (Chat, error) {
	var c Chat
	var approved, enabled int
	err := s.sql.QueryRowContext(ctx, `SELECT chat_id,title,type,approved,enabled FROM chats WHERE chat_id=?`, chatID).
		Scan(&c.ChatID, &c.Title, &c.Type, &approved, &enabled)
	if err != nil {
		return Chat{}, err
	}
	c.Approved = approved == 1
	c.Enabled = enabled == 1
	return c, nil
}

func (s *Store) ListChats(ctx context.Context) ([]Chat, error) {
	rows, err := s.sql.QueryContext(ctx, `SELECT chat_id,title,type,approved,enabled FROM chats ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Chat
	for rows.Next() {
		var c Chat
		var approved, enabled int
		if err := rows.Scan(&c.ChatID, &c.Title, &c.Type, &approved, &enabled); err != nil {
			return nil, err
		}
		c.Approved = approved == 1
		c.Enabled = enabled == 1
		out = append(out, c)
	}
	return out, rows.Err()
}

// RemoveChat drops the chat and, through cascades, its settings, selection
// and state. Used when the bot is explicitly removed.
func (s *Store) RemoveChat(ctx context.Context, chatID int64) error {
	_, err := s.sql.ExecContext(ctx, `DELETE FROM chats WHERE chat_id=?`, chatID)
	return err
}

// EnabledItemIDs returns the chat's selected items in display order.
func (s *Store) EnabledItemIDs(ctx context.Context, chatID int64) ([]string, error) {
	rows, err := s.sql.QueryContext(ctx, `SELECT item_id FROM chat_items WHERE chat_id=? AND enabled=1 ORDER BY position`, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) SetItemEnabled(ctx context.Context, chatID int64, itemID string, enabled bool) error {
	val := 0
	if enabled {
		val = 1
	}
	_, err := s.sql.ExecContext(ctx, `UPDATE chat_items SET enabled=? WHERE chat_id=? AND item_id=?`, val, chatID, itemID)
	return err
}

func (s *Store) SetCategoryEnabled(ctx context.Context, chatID int64, category items.Category, enabled bool) error {
	val := 0
	if enabled {
		val = 1
	}
	for _, it := range items.ByCategory(category) {
		if _, err := s.sql.ExecContext(ctx, `UPDATE chat_items SET enabled=? WHERE chat_id=? AND item_id=?`, val, chatID, it.ID); err != nil {
			return err
		}
	}
	return nil
}
