package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

const rulesFileName = "rules.json"

// errCorruptRules marks a rule file that was read but could not be decoded.
var errCorruptRules = errors.New("corrupt rule file")

// FileRuleStore implements domain.RuleStore as a JSON array file.
// Writes hold a mutex and an flock and replace the file by rename.
// Reads take no lock; the rename guarantees a whole snapshot.
type FileRuleStore struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

// NewFileRuleStore creates a rule store in dataDir.
func NewFileRuleStore(dataDir string, logger *zap.Logger) *FileRuleStore {
	return NewFileRuleStoreWithPath(filepath.Join(dataDir, rulesFileName), logger)
}

// NewFileRuleStoreWithPath creates a rule store at a specific path (for testing).
func NewFileRuleStoreWithPath(path string, logger *zap.Logger) *FileRuleStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileRuleStore{path: path, logger: logger}
}

// Path returns the rule file path.
func (s *FileRuleStore) Path() string {
	return s.path
}

// List returns a snapshot of all rules. Unreadable or corrupt storage yields
// an empty list so that a bad rule file leaves the daemon inert.
func (s *FileRuleStore) List() []domain.BlockRule {
	rules, err := s.load()
	if err != nil {
		s.logger.Warn("rule store unreadable, treating as empty",
			zap.String("path", s.path),
			zap.Error(err))
		return []domain.BlockRule{}
	}
	return rules
}

// Find returns the rule for targetID.
func (s *FileRuleStore) Find(targetID string) (domain.BlockRule, bool) {
	for _, r := range s.List() {
		if r.TargetID == targetID {
			return r, true
		}
	}
	return domain.BlockRule{}, false
}

// Upsert inserts or replaces the rule keyed by TargetID.
func (s *FileRuleStore) Upsert(rule domain.BlockRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	return s.mutate(func(rules []domain.BlockRule) []domain.BlockRule {
		for i := range rules {
			if rules[i].TargetID == rule.TargetID {
				rules[i] = rule
				return rules
			}
		}
		return append(rules, rule)
	})
}

// Remove deletes the rule for targetID. No-op when absent.
func (s *FileRuleStore) Remove(targetID string) error {
	return s.mutate(func(rules []domain.BlockRule) []domain.BlockRule {
		kept := rules[:0]
		for _, r := range rules {
			if r.TargetID != targetID {
				kept = append(kept, r)
			}
		}
		return kept
	})
}

// SetActive toggles IsActive for targetID. No-op when absent.
func (s *FileRuleStore) SetActive(targetID string, active bool) error {
	return s.mutate(func(rules []domain.BlockRule) []domain.BlockRule {
		for i := range rules {
			if rules[i].TargetID == targetID {
				rules[i].IsActive = active
			}
		}
		return rules
	})
}

// mutate runs a read-modify-write cycle under both locks.
func (s *FileRuleStore) mutate(fn func([]domain.BlockRule) []domain.BlockRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return withFileLock(s.path+".lock", func() error {
		rules, err := s.load()
		if err != nil && !errors.Is(err, errCorruptRules) {
			return fmt.Errorf("failed to read rules: %w", err)
		}
		if err != nil {
			// Keep the undecodable file for inspection and start over
			aside := s.path + ".corrupt"
			s.logger.Warn("replacing corrupt rule file",
				zap.String("path", s.path),
				zap.String("moved_to", aside),
				zap.Error(err))
			_ = os.Rename(s.path, aside)
			rules = []domain.BlockRule{}
		}

		data, err := json.MarshalIndent(fn(rules), "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode rules: %w", err)
		}
		if err := atomicWriteFile(s.path, data, 0600); err != nil {
			return fmt.Errorf("failed to write rules: %w", err)
		}
		return nil
	})
}

// load reads and decodes the rule file. A missing file is an empty store.
// Duplicate target ids from a hand-edited file collapse to the last record.
func (s *FileRuleStore) load() ([]domain.BlockRule, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []domain.BlockRule{}, nil
		}
		return nil, err
	}

	var decoded []domain.BlockRule
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", errCorruptRules, err)
	}

	index := make(map[string]int, len(decoded))
	rules := make([]domain.BlockRule, 0, len(decoded))
	for _, r := range decoded {
		if r.TargetID == "" {
			continue
		}
		if i, ok := index[r.TargetID]; ok {
			rules[i] = r
			continue
		}
		index[r.TargetID] = len(rules)
		rules = append(rules, r)
	}
	return rules, nil
}

// Ensure FileRuleStore implements domain.RuleStore.
var _ domain.RuleStore = (*FileRuleStore)(nil)
