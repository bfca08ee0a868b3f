package usecase

import (
	"fmt"
	"sort"
	"time"

	"github.com/eliteGoblin/focusd/app_guard/internal/domain"
)

// RuleView is a rule with its display state at a point in time.
type RuleView struct {
	domain.BlockRule
	Remaining   string
	Enforceable bool
}

// RuleService is the control surface over the rule store.
type RuleService struct {
	store domain.RuleStore
	now   func() time.Time
}

// NewRuleService creates a rule service on store.
func NewRuleService(store domain.RuleStore) *RuleService {
	return &RuleService{store: store, now: time.Now}
}

// NewRuleServiceWithClock creates a rule service with an injectable clock (for testing).
func NewRuleServiceWithClock(store domain.RuleStore, now func() time.Time) *RuleService {
	return &RuleService{store: store, now: now}
}

// AddOrUpdate blocks targetID for minutes (PermanentDuration for no expiry).
// The block period restarts now, and the rule is (re)activated.
// An empty displayName keeps the existing one, or falls back to targetID.
func (s *RuleService) AddOrUpdate(targetID, displayName string, minutes int) (domain.BlockRule, error) {
	rule := domain.BlockRule{
		TargetID:        targetID,
		DisplayName:     displayName,
		BlockedAt:       domain.ToMillis(s.now()),
		DurationMinutes: minutes,
		IsActive:        true,
	}
	if rule.DisplayName == "" {
		if existing, ok := s.store.Find(targetID); ok {
			rule.DisplayName = existing.DisplayName
		}
	}
	if rule.DisplayName == "" {
		rule.DisplayName = targetID
	}

	if err := s.store.Upsert(rule); err != nil {
		return domain.BlockRule{}, fmt.Errorf("failed to save rule: %w", err)
	}
	return rule, nil
}

// Pause stops enforcing targetID without touching its block period.
// No-op when targetID has no rule; errors come from storage only.
func (s *RuleService) Pause(targetID string) error {
	return s.store.SetActive(targetID, false)
}

// Resume enforces targetID again. No-op when targetID has no rule.
func (s *RuleService) Resume(targetID string) error {
	return s.store.SetActive(targetID, true)
}

// Remove deletes the rule for targetID. No-op when absent.
func (s *RuleService) Remove(targetID string) error {
	return s.store.Remove(targetID)
}

// Has reports whether targetID has a rule.
func (s *RuleService) Has(targetID string) bool {
	_, ok := s.store.Find(targetID)
	return ok
}

// List returns all rules ordered by target id.
func (s *RuleService) List() []RuleView {
	nowMs := domain.ToMillis(s.now())
	rules := s.store.List()
	sort.Slice(rules, func(i, j int) bool { return rules[i].TargetID < rules[j].TargetID })

	views := make([]RuleView, 0, len(rules))
	for _, r := range rules {
		views = append(views, RuleView{
			BlockRule:   r,
			Remaining:   r.Remaining(nowMs),
			Enforceable: r.Enforceable(nowMs),
		})
	}
	return views
}
