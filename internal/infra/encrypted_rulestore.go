package infra

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	sqlcipher "github.com/mutecomm/go-sqlcipher/v4"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

// Ensure sqlcipher driver is registered.
var _ = sqlcipher.ErrBusy

const rulesDBName = "rules.db"

// EncryptedRuleStore implements domain.RuleStore on a SQLCipher database.
// Every write runs in its own transaction, so readers never see a partial write.
type EncryptedRuleStore struct {
	db     *sql.DB
	dbPath string
	mu     sync.Mutex
	logger *zap.Logger
}

// OpenEncryptedRuleStore opens (or creates) the encrypted rule database in dataDir,
// generating a key through keys on first use.
func OpenEncryptedRuleStore(dataDir string, keys domain.KeyProvider, logger *zap.Logger) (*EncryptedRuleStore, error) {
	key, err := EnsureKey(keys)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule store key: %w", err)
	}
	return NewEncryptedRuleStore(dataDir, key, logger)
}

// NewEncryptedRuleStore opens the database with key used as the SQLCipher passphrase.
func NewEncryptedRuleStore(dataDir string, key []byte, logger *zap.Logger) (*EncryptedRuleStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, rulesDBName)
	dsn := fmt.Sprintf("%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096&_busy_timeout=5000",
		dbPath, hex.EncodeToString(key))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open encrypted database: %w", err)
	}

	// A wrong key only surfaces on first access
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to encrypted database: %w", err)
	}

	s := &EncryptedRuleStore{db: db, dbPath: dbPath, logger: logger}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

func (s *EncryptedRuleStore) createTables() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS rules (
		target_id TEXT PRIMARY KEY,
		display_name TEXT NOT NULL DEFAULT '',
		blocked_at INTEGER NOT NULL,
		duration_minutes INTEGER NOT NULL,
		is_active INTEGER NOT NULL DEFAULT 1
	);`)
	return err
}

// List returns all rules ordered by target id. Errors yield an empty list.
func (s *EncryptedRuleStore) List() []domain.BlockRule {
	rules, err := s.query(`SELECT target_id, display_name, blocked_at, duration_minutes, is_active
		FROM rules ORDER BY target_id`)
	if err != nil {
		s.logger.Warn("rule store unreadable, treating as empty",
			zap.String("path", s.dbPath),
			zap.Error(err))
		return []domain.BlockRule{}
	}
	return rules
}

// Find returns the rule for targetID.
func (s *EncryptedRuleStore) Find(targetID string) (domain.BlockRule, bool) {
	rules, err := s.query(`SELECT target_id, display_name, blocked_at, duration_minutes, is_active
		FROM rules WHERE target_id = ?`, targetID)
	if err != nil {
		s.logger.Warn("rule lookup failed", zap.String("target", targetID), zap.Error(err))
		return domain.BlockRule{}, false
	}
	if len(rules) == 0 {
		return domain.BlockRule{}, false
	}
	return rules[0], true
}

// Upsert inserts or replaces the rule keyed by TargetID.
func (s *EncryptedRuleStore) Upsert(rule domain.BlockRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	return s.inTx(`INSERT OR REPLACE INTO rules (target_id, display_name, blocked_at, duration_minutes, is_active)
		VALUES (?, ?, ?, ?, ?)`,
		rule.TargetID, rule.DisplayName, rule.BlockedAt, rule.DurationMinutes, rule.IsActive)
}

// Remove deletes the rule for targetID. No-op when absent.
func (s *EncryptedRuleStore) Remove(targetID string) error {
	return s.inTx(`DELETE FROM rules WHERE target_id = ?`, targetID)
}

// SetActive toggles IsActive for targetID. No-op when absent.
func (s *EncryptedRuleStore) SetActive(targetID string, active bool) error {
	return s.inTx(`UPDATE rules SET is_active = ? WHERE target_id = ?`, active, targetID)
}

// Close releases the database connection.
func (s *EncryptedRuleStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Path returns the database file path.
func (s *EncryptedRuleStore) Path() string {
	return s.dbPath
}

func (s *EncryptedRuleStore) inTx(stmt string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if _, err := tx.Exec(stmt, args...); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *EncryptedRuleStore) query(q string, args ...any) ([]domain.BlockRule, error) {
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := []domain.BlockRule{}
	for rows.Next() {
		var r domain.BlockRule
		if err := rows.Scan(&r.TargetID, &r.DisplayName, &r.BlockedAt, &r.DurationMinutes, &r.IsActive); err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}

// Ensure EncryptedRuleStore implements domain.RuleStore.
var _ domain.RuleStore = (*EncryptedRuleStore)(nil)
